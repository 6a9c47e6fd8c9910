package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/requester"
)

// DefaultInterval is the pause between polling cycles.
const DefaultInterval = time.Second

// Exchanger performs one correlated request/response exchange. It is
// satisfied by *requester.Requester.
type Exchanger interface {
	Exchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error)
}

// Logger defines the logging interface used by the scheduler.
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

// CycleStats counts the work done by a Poller.
type CycleStats struct {
	Cycles      uint64 `json:"cycles"`
	Invocations uint64 `json:"invocations"`
	Failures    uint64 `json:"failures"`
	Skipped     uint64 `json:"skipped"`
}

// Poller runs the polling cycle for one device.
type Poller struct {
	dev      *device.Device
	ex       Exchanger
	interval time.Duration
	logger   Logger

	cycles      atomic.Uint64
	invocations atomic.Uint64
	failures    atomic.Uint64
	skipped     atomic.Uint64
}

// NewPoller creates a poller for dev. A zero interval uses DefaultInterval.
func NewPoller(dev *device.Device, ex Exchanger, interval time.Duration, logger Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{dev: dev, ex: ex, interval: interval, logger: logger}
}

// Run repeats RunCycle until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "uuid", p.dev.UUID(), "eid", p.dev.EID(), "interval", p.interval.String())
	defer p.logger.Info("poller stopped", "uuid", p.dev.UUID())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.RunCycle(ctx)
		timer.Reset(p.interval)
	}
}

// RunCycle performs one polling cycle.
func (p *Poller) RunCycle(ctx context.Context) {
	for _, s := range p.dev.TakeStatic() {
		if ctx.Err() != nil {
			return
		}
		p.invoke(ctx, s)
	}
	for _, s := range p.dev.PrioritySensors() {
		if ctx.Err() != nil {
			return
		}
		p.invoke(ctx, s)
	}
	if s, ok := p.dev.RotateRoundRobin(); ok && ctx.Err() == nil {
		p.invoke(ctx, s)
	}
	p.cycles.Add(1)
}

// invoke runs one sensor. Failures are recorded on the sensor.
func (p *Poller) invoke(ctx context.Context, s device.Sensor) {
	msgType, command, payload, err := s.Command()
	if err != nil {
		p.skipped.Add(1)
		p.logger.Debug("sensor request not built, skipping", "uuid", p.dev.UUID(), "sensor", s.Name(), "error", err)
		return
	}

	resp, err := p.ex.Exchange(ctx, p.dev.EID(), msgType, command, payload)
	switch {
	case errors.Is(err, requester.ErrNoInstanceID):
		p.skipped.Add(1)
		p.logger.Debug("no instance id, skipping sensor", "uuid", p.dev.UUID(), "sensor", s.Name())
		return
	case ctx.Err() != nil:
		// Shutdown; leave the last reading in place.
		return
	case err != nil:
		p.failures.Add(1)
		p.logger.Warn("sensor exchange failed", "uuid", p.dev.UUID(), "eid", p.dev.EID(),
			"sensor", s.Name(), "error", err)
		p.dev.SetOffline()
	case !resp.CC.Success():
		p.failures.Add(1)
		p.dev.MarkSeen(time.Now())
		p.logger.Debug("sensor completion not successful", "uuid", p.dev.UUID(), "sensor", s.Name(),
			"cc", resp.CC.String(), "reason_code", resp.Reason)
	default:
		p.dev.MarkSeen(time.Now())
	}

	p.invocations.Add(1)
	s.Update(resp, err)
}

// Stats returns the poller counters.
func (p *Poller) Stats() CycleStats {
	return CycleStats{
		Cycles:      p.cycles.Load(),
		Invocations: p.invocations.Load(),
		Failures:    p.failures.Load(),
		Skipped:     p.skipped.Load(),
	}
}
