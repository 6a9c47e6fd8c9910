package device

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// uuidCompareLen bounds UUID comparisons to the canonical textual length.
const uuidCompareLen = 36

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry holds the set of managed devices. Devices are kept in
// registration order and searched linearly; a deployment manages tens of
// endpoints.
//
// An optional Repository persists the inventory so that EIDs and
// capability matrices survive restarts.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices []*Device
	repo    Repository
	logger  Logger
}

// NewRegistry creates a registry. repo may be nil for a purely in-memory
// registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

func truncUUID(s string) string {
	if len(s) > uuidCompareLen {
		return s[:uuidCompareLen]
	}
	return s
}

// Register returns the device for uuid, creating it on first sight.
//
// Parameters:
//   - uuid: stable device identifier from the endpoint table
//
// Returns:
//   - *Device: the existing or newly created device
//   - error: ErrInvalidUUID for an empty uuid
func (r *Registry) Register(uuid string) (*Device, error) {
	if uuid == "" {
		return nil, ErrInvalidUUID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.findLocked(uuid); d != nil {
		return d, nil
	}
	d := newDevice(uuid)
	r.devices = append(r.devices, d)
	r.logger.Info("device registered", "uuid", uuid)
	return d, nil
}

func (r *Registry) findLocked(uuid string) *Device {
	want := truncUUID(uuid)
	for _, d := range r.devices {
		if truncUUID(d.uuid) == want {
			return d
		}
	}
	return nil
}

// FindByUUID looks a device up by UUID. A miss is logged and reported with
// ok=false; it is not an error for the caller.
func (r *Registry) FindByUUID(uuid string) (d *Device, ok bool) {
	r.mu.RLock()
	d = r.findLocked(uuid)
	r.mu.RUnlock()
	if d == nil {
		r.logger.Debug("no device for uuid", "uuid", uuid)
		return nil, false
	}
	return d, true
}

// FindByEID returns the device currently mapped to eid.
func (r *Registry) FindByEID(eid uint8) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.EID() == eid {
			return d, true
		}
	}
	return nil, false
}

// SetEID maps d to eid. Another device previously holding eid keeps its
// stale value until its own endpoint is rediscovered.
func (r *Registry) SetEID(d *Device, eid uint8) {
	d.mu.Lock()
	old := d.eid
	d.eid = eid
	d.mu.Unlock()
	if old != eid {
		r.logger.Info("device eid changed", "uuid", d.uuid, "old_eid", old, "eid", eid)
	}
}

// AddSensor attaches s to d in the given tier. Names must be unique per
// device.
func (r *Registry) AddSensor(d *Device, s Sensor, tier Tier) error {
	if err := d.addSensor(s, tier); err != nil {
		return err
	}
	r.logger.Debug("sensor attached", "uuid", d.uuid, "sensor", s.Name(), "tier", tier.String())
	return nil
}

// IsCommandSupported consults the capability matrix of d.
func (r *Registry) IsCommandSupported(d *Device, t nsm.MessageType, command uint8) bool {
	return d.IsCommandSupported(t, command)
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Device(nil), r.devices...)
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Infos returns snapshots of every device sorted by UUID.
func (r *Registry) Infos() []Info {
	devs := r.Devices()
	out := make([]Info, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

// Load registers every device stored in the repository and restores its
// last known EID and capability matrix. It is a no-op without a repository.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	for _, rec := range records {
		d, err := r.Register(rec.UUID)
		if err != nil {
			r.logger.Warn("skipping stored device", "uuid", rec.UUID, "error", err)
			continue
		}
		d.apply(rec)
	}
	r.logger.Info("device inventory loaded", "count", len(records))
	return nil
}

// Save persists the current state of d. It is a no-op without a
// repository.
func (r *Registry) Save(ctx context.Context, d *Device) error {
	if r.repo == nil {
		return nil
	}
	if err := r.repo.Upsert(ctx, d.Record()); err != nil {
		return fmt.Errorf("saving device %s: %w", d.uuid, err)
	}
	return nil
}
