package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
)

type running struct {
	poller *Poller
	cancel context.CancelFunc
}

// Manager owns the pollers of all devices, at most one per device.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	ex       Exchanger
	interval time.Duration
	logger   Logger

	mu      sync.Mutex
	pollers map[string]*running
	wg      sync.WaitGroup
}

// NewManager creates a Manager whose pollers exchange through ex.
func NewManager(ex Exchanger, interval time.Duration) *Manager {
	return &Manager{
		ex:       ex,
		interval: interval,
		logger:   noopLogger{},
		pollers:  make(map[string]*running),
	}
}

// SetLogger sets the logger passed to new pollers.
func (m *Manager) SetLogger(l Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

// Start begins polling dev. It reports false if dev already has a poller,
// so rediscovery never doubles the polling rate.
func (m *Manager) Start(ctx context.Context, dev *device.Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pollers[dev.UUID()]; ok {
		return false
	}

	pctx, cancel := context.WithCancel(ctx)
	p := NewPoller(dev, m.ex, m.interval, m.logger)
	m.pollers[dev.UUID()] = &running{poller: p, cancel: cancel}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		p.Run(pctx)
	}()
	return true
}

// Running reports whether dev has a poller.
func (m *Manager) Running(uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pollers[uuid]
	return ok
}

// Stop cancels the poller of one device.
func (m *Manager) Stop(uuid string) {
	m.mu.Lock()
	r, ok := m.pollers[uuid]
	delete(m.pollers, uuid)
	m.mu.Unlock()
	if ok {
		r.cancel()
	}
}

// StopAll cancels every poller and waits for them to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for uuid, r := range m.pollers {
		r.cancel()
		delete(m.pollers, uuid)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Stats returns the counters of one device's poller.
func (m *Manager) Stats(uuid string) (CycleStats, bool) {
	m.mu.Lock()
	r, ok := m.pollers[uuid]
	m.mu.Unlock()
	if !ok {
		return CycleStats{}, false
	}
	return r.poller.Stats(), true
}
