package requester

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Default timing values.
const (
	DefaultResponseTimeout    = 500 * time.Millisecond
	DefaultRetries            = 2
	DefaultInstanceIDExpiry   = 5 * time.Second
	DefaultLongRunningTimeout = 10 * time.Second
)

// Sender is the send half of the transport primitive. Responses come back
// through Requester.Deliver.
type Sender interface {
	Send(ctx context.Context, eid uint8, msg []byte) error
}

// Observer receives one call per finished exchange.
type Observer interface {
	ObserveExchange(eid uint8, msgType nsm.MessageType, command uint8, elapsed time.Duration, outcome string)
}

// Exchange outcomes passed to Observer.
const (
	OutcomeResolved  = "resolved"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeCanceled  = "canceled"
)

// Logger defines the logging interface used by the Requester.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Requester. Zero values take the defaults.
type Options struct {
	// ResponseTimeout is the wait window for one transmission.
	ResponseTimeout time.Duration

	// Retries is the number of re-sends after the first transmission.
	// Negative disables retries.
	Retries int

	// InstanceIDExpiry keeps the id of a timed-out exchange out of
	// circulation for this long.
	InstanceIDExpiry time.Duration

	// LongRunningTimeout bounds the wait for the completing event of a
	// command answered with ACCEPTED.
	LongRunningTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.Retries == 0 {
		o.Retries = DefaultRetries
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.InstanceIDExpiry <= 0 {
		o.InstanceIDExpiry = DefaultInstanceIDExpiry
	}
	if o.LongRunningTimeout <= 0 {
		o.LongRunningTimeout = DefaultLongRunningTimeout
	}
	return o
}

// pending is one Sent exchange awaiting its response.
type pending struct {
	msgType     nsm.MessageType
	command     uint8
	instanceID  uint8
	longRunning bool
	completed   bool

	// done carries the first reply, ACCEPTED included. final carries the
	// completing event of a long-running command.
	done  chan *nsm.Response
	final chan *nsm.Response
}

// endpoint holds the per-EID exchange state.
type endpoint struct {
	eid  uint8
	slot chan struct{}

	mu      sync.Mutex
	ids     instanceIDs
	pending map[uint8]*pending
	stats   Stats
}

// Requester correlates requests with responses per endpoint. Each endpoint
// has at most one exchange in flight: Exchange queues behind it and
// TryExchange rejects with ErrBusy.
//
// Thread Safety: all methods are safe for concurrent use.
type Requester struct {
	sender Sender
	opts   Options

	mu        sync.Mutex
	endpoints map[uint8]*endpoint
	closed    bool

	logger   Logger
	observer Observer
	now      func() time.Time
}

// New creates a Requester that transmits through sender.
func New(sender Sender, opts Options) *Requester {
	return &Requester{
		sender:    sender,
		opts:      opts.withDefaults(),
		endpoints: make(map[uint8]*endpoint),
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger.
func (r *Requester) SetLogger(l Logger) { r.logger = l }

// SetObserver installs an exchange observer.
func (r *Requester) SetObserver(o Observer) { r.observer = o }

func (r *Requester) endpoint(eid uint8) (*endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	ep, ok := r.endpoints[eid]
	if !ok {
		ep = &endpoint{
			eid:     eid,
			slot:    make(chan struct{}, 1),
			pending: make(map[uint8]*pending),
		}
		r.endpoints[eid] = ep
	}
	return ep, nil
}

// Exchange sends one request to eid and waits for the matching response.
// If another exchange is in flight on eid the call waits for it first.
//
// Parameters:
//   - ctx: bounds both the wait for the endpoint and the wait for the reply
//   - eid: destination endpoint
//   - msgType, command: command key
//   - payload: request arguments
//
// Returns:
//   - *nsm.Response: the decoded reply; a non-success completion code is a
//     value, not an error
//   - error: ErrTransport, ErrTimeout, ErrNoInstanceID, a codec error for
//     an undecodable reply, or ctx.Err()
func (r *Requester) Exchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error) {
	ep, err := r.endpoint(eid)
	if err != nil {
		return nil, err
	}
	select {
	case ep.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-ep.slot }()
	return r.exchange(ctx, ep, msgType, command, payload)
}

// TryExchange is Exchange for administrative callers: it fails with
// ErrBusy instead of queueing when eid already has an exchange in flight.
func (r *Requester) TryExchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error) {
	ep, err := r.endpoint(eid)
	if err != nil {
		return nil, err
	}
	select {
	case ep.slot <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: eid %d", ErrBusy, eid)
	}
	defer func() { <-ep.slot }()
	return r.exchange(ctx, ep, msgType, command, payload)
}

// Busy reports whether eid has an exchange in flight.
func (r *Requester) Busy(eid uint8) bool {
	r.mu.Lock()
	ep, ok := r.endpoints[eid]
	r.mu.Unlock()
	return ok && len(ep.slot) > 0
}

func (r *Requester) exchange(ctx context.Context, ep *endpoint, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error) {
	start := r.now()

	ep.mu.Lock()
	iid, ok := ep.ids.alloc(start)
	if !ok {
		ep.mu.Unlock()
		return nil, fmt.Errorf("%w: eid %d", ErrNoInstanceID, ep.eid)
	}
	p := &pending{
		msgType:    msgType,
		command:    command,
		instanceID: iid,
		done:       make(chan *nsm.Response, 1),
		final:      make(chan *nsm.Response, 1),
	}
	ep.pending[iid] = p
	ep.mu.Unlock()

	msg, err := nsm.EncodeRequest(iid, msgType, command, payload)
	if err != nil {
		r.finish(ep, p, 0)
		return nil, err
	}

	resp, outcome, err := r.await(ctx, ep, p, msg)
	r.observe(ep.eid, msgType, command, r.now().Sub(start), outcome)
	return resp, err
}

// await transmits msg and waits for the reply, re-sending on timeout.
func (r *Requester) await(ctx context.Context, ep *endpoint, p *pending, msg []byte) (*nsm.Response, string, error) {
	attempts := 1 + r.opts.Retries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			ep.addStat(func(s *Stats) { s.Retries++ })
			r.logger.Debug("retrying request", "eid", ep.eid, "msg_type", p.msgType.String(),
				"command", p.command, "instance_id", p.instanceID, "attempt", attempt)
		}
		ep.addStat(func(s *Stats) { s.Sent++ })
		if err := r.sender.Send(ctx, ep.eid, msg); err != nil {
			r.finish(ep, p, 0)
			ep.addStat(func(s *Stats) { s.TransportFailures++ })
			return nil, OutcomeTransport, fmt.Errorf("%w: eid %d: %w", ErrTransport, ep.eid, err)
		}

		resp, err := r.wait(ctx, p.done, r.opts.ResponseTimeout)
		switch {
		case err == nil && resp.CC == nsm.CCAccepted:
			return r.awaitLongRunning(ctx, ep, p)
		case err == nil:
			r.finish(ep, p, 0)
			ep.addStat(func(s *Stats) { s.Resolved++ })
			return resp, OutcomeResolved, nil
		case errors.Is(err, ErrTimeout):
			continue
		default:
			r.finish(ep, p, r.opts.InstanceIDExpiry)
			return nil, OutcomeCanceled, err
		}
	}

	r.finish(ep, p, r.opts.InstanceIDExpiry)
	ep.addStat(func(s *Stats) { s.TimedOut++ })
	r.logger.Warn("request timed out", "eid", ep.eid, "msg_type", p.msgType.String(),
		"command", p.command, "instance_id", p.instanceID)
	return nil, OutcomeTimeout, fmt.Errorf("%w: eid %d %s command 0x%02x", ErrTimeout, ep.eid, p.msgType, p.command)
}

// awaitLongRunning keeps the exchange open after ACCEPTED until the
// completing event arrives through CompleteLongRunning.
func (r *Requester) awaitLongRunning(ctx context.Context, ep *endpoint, p *pending) (*nsm.Response, string, error) {
	r.logger.Debug("command accepted, awaiting completion", "eid", ep.eid,
		"msg_type", p.msgType.String(), "command", p.command, "instance_id", p.instanceID)

	resp, err := r.wait(ctx, p.final, r.opts.LongRunningTimeout)
	if err != nil {
		r.finish(ep, p, r.opts.InstanceIDExpiry)
		if errors.Is(err, ErrTimeout) {
			ep.addStat(func(s *Stats) { s.TimedOut++ })
			return nil, OutcomeTimeout, fmt.Errorf("%w: long-running eid %d %s command 0x%02x",
				ErrTimeout, ep.eid, p.msgType, p.command)
		}
		return nil, OutcomeCanceled, err
	}
	r.finish(ep, p, 0)
	ep.addStat(func(s *Stats) { s.Resolved++ })
	return resp, OutcomeResolved, nil
}

func (r *Requester) wait(ctx context.Context, ch <-chan *nsm.Response, d time.Duration) (*nsm.Response, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish removes p and releases its instance id.
func (r *Requester) finish(ep *endpoint, p *pending, expiry time.Duration) {
	ep.mu.Lock()
	if ep.pending[p.instanceID] == p {
		delete(ep.pending, p.instanceID)
	}
	ep.ids.release(p.instanceID, r.now(), expiry)
	ep.mu.Unlock()
}

// Deliver routes a response frame received from eid to its pending
// exchange. Unmatched frames are counted and dropped.
func (r *Requester) Deliver(eid uint8, msg []byte) error {
	resp, err := nsm.DecodeResponse(msg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	ep, ok := r.endpoints[eid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("requester: response from unknown eid %d", eid)
	}

	ep.mu.Lock()
	p, ok := ep.pending[resp.InstanceID]
	match := ok && !p.longRunning && p.msgType == resp.MessageType && p.command == resp.Command
	switch {
	case !match:
		ep.stats.Unmatched++
	case resp.CC == nsm.CCAccepted:
		// The completing event may race the waiter; flag it here so
		// CompleteLongRunning can match immediately.
		p.longRunning = true
	}
	ep.mu.Unlock()

	if !match {
		r.logger.Debug("unmatched response", "eid", eid, "instance_id", resp.InstanceID,
			"msg_type", resp.MessageType.String(), "command", resp.Command)
		return nil
	}
	select {
	case p.done <- resp:
	default:
	}
	return nil
}

// CompleteLongRunning resolves an exchange that was answered with
// ACCEPTED. It reports whether a waiting exchange matched.
func (r *Requester) CompleteLongRunning(eid uint8, lr *nsm.LongRunningResult) bool {
	r.mu.Lock()
	ep, ok := r.endpoints[eid]
	r.mu.Unlock()
	if !ok || lr == nil {
		return false
	}

	ep.mu.Lock()
	p, ok := ep.pending[lr.InstanceID]
	match := ok && p.longRunning && !p.completed && p.msgType == lr.MessageType && p.command == lr.Command
	if match {
		p.completed = true
	} else {
		ep.stats.Unmatched++
	}
	ep.mu.Unlock()
	if !match {
		return false
	}

	resp := &nsm.Response{
		InstanceID:  lr.InstanceID,
		MessageType: lr.MessageType,
		Command:     lr.Command,
		CC:          lr.CC,
		Reason:      lr.Reason,
		Payload:     lr.Payload,
	}
	// final is buffered and written at most once, so this never blocks
	// even when the ACCEPTED reply is still queued in done.
	p.final <- resp
	return true
}

// Close fails further exchanges with ErrClosed. In-flight exchanges run
// to their own timeout.
func (r *Requester) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Requester) observe(eid uint8, msgType nsm.MessageType, command uint8, elapsed time.Duration, outcome string) {
	if r.observer != nil {
		r.observer.ObserveExchange(eid, msgType, command, elapsed, outcome)
	}
}
