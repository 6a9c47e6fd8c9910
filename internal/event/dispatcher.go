package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Sender transmits an event acknowledgement.
type Sender interface {
	Send(ctx context.Context, eid uint8, msg []byte) error
}

// DeviceLookup resolves the sending endpoint to its device.
type DeviceLookup interface {
	FindByEID(eid uint8) (*device.Device, bool)
}

// Logger defines the logging interface used by the dispatcher.
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

// Notification is the forwarded form of a dispatched event.
type Notification struct {
	EID         uint8     `json:"eid"`
	UUID        string    `json:"uuid,omitempty"`
	MessageType uint8     `json:"message_type"`
	EventID     uint8     `json:"event_id"`
	Class       uint8     `json:"class"`
	State       uint16    `json:"state"`
	Data        []byte    `json:"data,omitempty"`
	Handled     bool      `json:"handled"`
	Time        time.Time `json:"time"`
}

// Forwarder receives a Notification for every decoded event. It must not
// block.
type Forwarder func(Notification)

// Stats counts dispatcher outcomes.
type Stats struct {
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	Rejected   uint64 `json:"rejected"`
	Failed     uint64 `json:"failed"`
	Acked      uint64 `json:"acked"`
}

// Dispatcher routes events to handlers.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	devices DeviceLookup
	sender  Sender

	mu         sync.RWMutex
	globals    map[device.EventKey]device.EventHandler
	forwarders []Forwarder
	logger     Logger

	received   atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	rejected   atomic.Uint64
	failed     atomic.Uint64
	acked      atomic.Uint64
}

// NewDispatcher creates a dispatcher. sender may be nil, in which case
// acknowledgement requests are ignored.
func NewDispatcher(devices DeviceLookup, sender Sender) *Dispatcher {
	return &Dispatcher{
		devices: devices,
		sender:  sender,
		globals: make(map[device.EventKey]device.EventHandler),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger.
func (d *Dispatcher) SetLogger(l Logger) {
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

// Register installs a global handler used when the sending device has no
// handler of its own for the key.
func (d *Dispatcher) Register(t nsm.MessageType, eventID uint8, h device.EventHandler) {
	d.mu.Lock()
	d.globals[device.EventKey{MessageType: t, EventID: eventID}] = h
	d.mu.Unlock()
}

// Forward adds a forwarder.
func (d *Dispatcher) Forward(f Forwarder) {
	d.mu.Lock()
	d.forwarders = append(d.forwarders, f)
	d.mu.Unlock()
}

// Handle dispatches one event frame received from eid. Routing reads only
// the fixed event prefix; the handler gets the whole frame and validates
// its data. An acknowledgement is sent when requested, unless no handler
// exists for the event's message type at all.
//
// Returns:
//   - error: nsm.ErrLength for a frame shorter than nsm.EventMinSize (no
//     handler runs), nsm.ErrData for a frame that is not an event,
//     ErrHandler wrapping a handler failure; nil for dispatched and
//     dropped events
func (d *Dispatcher) Handle(ctx context.Context, eid uint8, frame []byte) error {
	d.received.Add(1)
	if len(frame) < nsm.EventMinSize {
		d.rejected.Add(1)
		return fmt.Errorf("%w: event frame of %d bytes, need %d", nsm.ErrLength, len(frame), nsm.EventMinSize)
	}
	ev, err := nsm.PeekEvent(frame)
	if err != nil {
		d.rejected.Add(1)
		return err
	}

	d.mu.RLock()
	logger := d.logger
	d.mu.RUnlock()

	var dev *device.Device
	if d.devices != nil {
		dev, _ = d.devices.FindByEID(eid)
	}
	h, ok := d.lookup(dev, ev.MessageType, ev.ID)
	knownType := ok || d.handlesType(dev, ev.MessageType)

	var herr error
	if ok {
		d.dispatched.Add(1)
		if err := h(ctx, eid, frame); err != nil {
			d.failed.Add(1)
			logger.Warn("event handler failed", "eid", eid, "msg_type", ev.MessageType.String(),
				"event_id", ev.ID, "error", err)
			herr = fmt.Errorf("%w: %s event %d: %w", ErrHandler, ev.MessageType, ev.ID, err)
		}
	} else {
		d.dropped.Add(1)
		logger.Debug("no handler for event, dropping", "eid", eid,
			"msg_type", ev.MessageType.String(), "event_id", ev.ID)
	}

	d.forward(eid, dev, ev, ok)

	if ev.AckRequested && !knownType {
		logger.Debug("not acknowledging event of unhandled type", "eid", eid,
			"msg_type", ev.MessageType.String(), "event_id", ev.ID)
	}
	if ev.AckRequested && knownType && d.sender != nil {
		ack := nsm.EncodeEventAck(ev.InstanceID, ev.MessageType, ev.ID)
		if err := d.sender.Send(ctx, eid, ack); err != nil {
			logger.Warn("event acknowledgement failed", "eid", eid, "event_id", ev.ID, "error", err)
		} else {
			d.acked.Add(1)
		}
	}
	return herr
}

// lookup checks the device table first, then the globals.
func (d *Dispatcher) lookup(dev *device.Device, t nsm.MessageType, id uint8) (device.EventHandler, bool) {
	if dev != nil {
		if h, ok := dev.EventHandler(t, id); ok {
			return h, true
		}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.globals[device.EventKey{MessageType: t, EventID: id}]
	return h, ok
}

// handlesType reports whether any handler, device or global, exists for t.
func (d *Dispatcher) handlesType(dev *device.Device, t nsm.MessageType) bool {
	if dev != nil && dev.HandlesType(t) {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for k := range d.globals {
		if k.MessageType == t {
			return true
		}
	}
	return false
}

func (d *Dispatcher) forward(eid uint8, dev *device.Device, ev *nsm.Event, handled bool) {
	d.mu.RLock()
	fwd := d.forwarders
	d.mu.RUnlock()
	if len(fwd) == 0 {
		return
	}

	n := Notification{
		EID:         eid,
		MessageType: uint8(ev.MessageType),
		EventID:     ev.ID,
		Class:       ev.Class,
		State:       ev.State,
		Data:        ev.Data,
		Handled:     handled,
		Time:        time.Now().UTC(),
	}
	if dev != nil {
		n.UUID = dev.UUID()
	}
	for _, f := range fwd {
		f(n)
	}
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:   d.received.Load(),
		Dispatched: d.dispatched.Load(),
		Dropped:    d.dropped.Load(),
		Rejected:   d.rejected.Load(),
		Failed:     d.failed.Load(),
		Acked:      d.acked.Load(),
	}
}
