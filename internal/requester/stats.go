package requester

// Stats counts exchange outcomes for one endpoint.
type Stats struct {
	Sent              uint64 `json:"sent"`
	Resolved          uint64 `json:"resolved"`
	TimedOut          uint64 `json:"timed_out"`
	TransportFailures uint64 `json:"transport_failures"`
	Retries           uint64 `json:"retries"`
	Unmatched         uint64 `json:"unmatched"`
}

func (ep *endpoint) addStat(f func(*Stats)) {
	ep.mu.Lock()
	f(&ep.stats)
	ep.mu.Unlock()
}

// Stats returns the counters of eid. An endpoint never used reports zeros.
func (r *Requester) Stats(eid uint8) Stats {
	r.mu.Lock()
	ep, ok := r.endpoints[eid]
	r.mu.Unlock()
	if !ok {
		return Stats{}
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.stats
}

// AllStats returns the counters of every endpoint used so far.
func (r *Requester) AllStats() map[uint8]Stats {
	r.mu.Lock()
	eps := make([]*endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	r.mu.Unlock()

	out := make(map[uint8]Stats, len(eps))
	for _, ep := range eps {
		ep.mu.Lock()
		out[ep.eid] = ep.stats
		ep.mu.Unlock()
	}
	return out
}
