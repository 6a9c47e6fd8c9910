package event

import (
	"context"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Completer resolves an exchange that was answered with ACCEPTED. It is
// satisfied by *requester.Requester.
type Completer interface {
	CompleteLongRunning(eid uint8, lr *nsm.LongRunningResult) bool
}

// Rediscoverer re-runs capability discovery for an endpoint. It is
// satisfied by *discovery.Discoverer.
type Rediscoverer interface {
	Rediscover(ctx context.Context, eid uint8) error
}

// LongRunningHandler forwards long-running completion events to c. A
// completion that matches no waiting exchange is logged and ignored.
func LongRunningHandler(c Completer, logger Logger) device.EventHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(_ context.Context, eid uint8, frame []byte) error {
		ev, err := nsm.DecodeEvent(frame)
		if err != nil {
			return err
		}
		lr, err := nsm.DecodeLongRunning(ev)
		if err != nil {
			return err
		}
		if !c.CompleteLongRunning(eid, lr) {
			logger.Debug("long-running completion without waiter", "eid", eid,
				"msg_type", lr.MessageType.String(), "command", lr.Command, "instance_id", lr.InstanceID)
		}
		return nil
	}
}

// RediscoveryHandler starts discovery for the sending endpoint on its own
// goroutine and returns at once, so the event worker and the
// acknowledgement do not wait for the discovery exchanges. ctx bounds the
// discovery and must outlive the event.
func RediscoveryHandler(r Rediscoverer, logger Logger) device.EventHandler {
	if logger == nil {
		logger = noopLogger{}
	}
	return func(ctx context.Context, eid uint8, _ []byte) error {
		go func() {
			if err := r.Rediscover(ctx, eid); err != nil {
				logger.Warn("rediscovery failed", "eid", eid, "error", err)
			}
		}()
		return nil
	}
}

// RegisterDefaults installs the built-in handlers as globals.
func (d *Dispatcher) RegisterDefaults(c Completer, r Rediscoverer) {
	d.mu.RLock()
	logger := d.logger
	d.mu.RUnlock()

	if c != nil {
		d.Register(nsm.TypeDeviceCapabilityDiscovery, nsm.EventLongRunning, LongRunningHandler(c, logger))
	}
	if r != nil {
		d.Register(nsm.TypeDeviceCapabilityDiscovery, nsm.EventRediscovery, RediscoveryHandler(r, logger))
	}
}
