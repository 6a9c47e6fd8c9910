package requester

import "time"

// instanceIDs hands out 5-bit instance ids for one endpoint. Ids are
// allocated round-robin from the last one issued. A released id that timed
// out stays unusable until its expiry passes so that a late response
// cannot be matched to a newer request.
//
// Not safe for concurrent use; the owning endpoint serializes access.
type instanceIDs struct {
	next     uint8
	inUse    uint32
	coolDown [32]time.Time
}

func (p *instanceIDs) alloc(now time.Time) (uint8, bool) {
	for i := uint8(0); i <= 0x1F; i++ {
		id := (p.next + i) & 0x1F
		if p.inUse&(1<<id) != 0 || now.Before(p.coolDown[id]) {
			continue
		}
		p.inUse |= 1 << id
		p.next = (id + 1) & 0x1F
		return id, true
	}
	return 0, false
}

// release returns id to the pool. A non-zero expiry keeps it out of
// circulation until now+expiry.
func (p *instanceIDs) release(id uint8, now time.Time, expiry time.Duration) {
	id &= 0x1F
	p.inUse &^= 1 << id
	if expiry > 0 {
		p.coolDown[id] = now.Add(expiry)
	}
}
