package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Device is one managed NSM endpoint.
type Device struct {
	uuid string

	mu           sync.RWMutex
	name         string
	eid          uint8
	identity     nsm.DeviceIdentity
	messageTypes nsm.Bitmap
	commands     map[nsm.MessageType]nsm.Bitmap
	eventMode    nsm.EventGeneration
	priority     []Sensor
	roundRobin   []Sensor
	static       []Sensor
	staticDue    []Sensor
	events       map[EventKey]EventHandler
	online       bool
	lastSeen     time.Time
}

func newDevice(uuid string) *Device {
	return &Device{
		uuid:      uuid,
		identity:  nsm.DeviceIdentity{Identification: nsm.DeviceUnknown},
		commands:  make(map[nsm.MessageType]nsm.Bitmap),
		eventMode: nsm.EventGenerationDisable,
		events:    make(map[EventKey]EventHandler),
	}
}

// UUID returns the stable device identifier.
func (d *Device) UUID() string { return d.uuid }

// Name returns the configured display name, or the UUID when unset.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.name == "" {
		return d.uuid
	}
	return d.name
}

// SetName sets the display name.
func (d *Device) SetName(name string) {
	d.mu.Lock()
	d.name = name
	d.mu.Unlock()
}

// EID returns the endpoint id the device is currently reachable on.
func (d *Device) EID() uint8 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eid
}

// Identity returns the device identification reported by the hardware.
func (d *Device) Identity() nsm.DeviceIdentity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identity
}

// SetIdentity records the QueryDeviceIdentification result.
func (d *Device) SetIdentity(id nsm.DeviceIdentity) {
	d.mu.Lock()
	d.identity = id
	d.mu.Unlock()
}

// SetMessageTypes replaces the supported message type bitmap.
func (d *Device) SetMessageTypes(b nsm.Bitmap) {
	d.mu.Lock()
	d.messageTypes = b
	d.mu.Unlock()
}

// SetCommands replaces the supported command bitmap of one message type.
func (d *Device) SetCommands(t nsm.MessageType, b nsm.Bitmap) {
	d.mu.Lock()
	d.commands[t] = b
	d.mu.Unlock()
}

// MessageTypes returns the supported message type bitmap.
func (d *Device) MessageTypes() nsm.Bitmap {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messageTypes
}

// SupportsMessageType reports whether the device advertised t.
func (d *Device) SupportsMessageType(t nsm.MessageType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.messageTypes.Has(uint8(t))
}

// IsCommandSupported reports whether the capability matrix contains
// command within message type t. A device whose commands for t were never
// queried supports nothing in t.
func (d *Device) IsCommandSupported(t nsm.MessageType, command uint8) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.commands[t]
	if !ok {
		return false
	}
	return b.Has(command)
}

// EventMode returns the global event generation setting.
func (d *Device) EventMode() nsm.EventGeneration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.eventMode
}

// SetEventMode records the event generation setting. Out-of-range values
// are rejected and leave the current mode unchanged.
func (d *Device) SetEventMode(m nsm.EventGeneration) error {
	if m > nsm.EventGenerationPush {
		return fmt.Errorf("%w: %d", ErrInvalidEventMode, m)
	}
	d.mu.Lock()
	d.eventMode = m
	d.mu.Unlock()
	return nil
}

// RegisterEvent installs a device-specific event handler, replacing any
// earlier handler for the same key.
func (d *Device) RegisterEvent(t nsm.MessageType, eventID uint8, h EventHandler) {
	d.mu.Lock()
	d.events[EventKey{MessageType: t, EventID: eventID}] = h
	d.mu.Unlock()
}

// EventHandler returns the device-specific handler for an event.
func (d *Device) EventHandler(t nsm.MessageType, eventID uint8) (EventHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.events[EventKey{MessageType: t, EventID: eventID}]
	return h, ok
}

// HandlesType reports whether the device table has any handler for t.
func (d *Device) HandlesType(t nsm.MessageType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for k := range d.events {
		if k.MessageType == t {
			return true
		}
	}
	return false
}

// addSensor appends s to the given tier.
func (d *Device) addSensor(s Sensor, tier Tier) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasSensorLocked(s.Name()) {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateSensor, s.Name(), d.uuid)
	}
	switch tier {
	case TierPriority:
		d.priority = append(d.priority, s)
	case TierRoundRobin:
		d.roundRobin = append(d.roundRobin, s)
	case TierStatic:
		d.static = append(d.static, s)
		d.staticDue = append(d.staticDue, s)
	default:
		return fmt.Errorf("%w: %d", ErrInvalidTier, tier)
	}
	return nil
}

func (d *Device) hasSensorLocked(name string) bool {
	for _, set := range [][]Sensor{d.priority, d.roundRobin, d.static} {
		for _, s := range set {
			if s.Name() == name {
				return true
			}
		}
	}
	return false
}

// HasSensor reports whether a sensor with the given name is attached.
func (d *Device) HasSensor(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasSensorLocked(name)
}

// PrioritySensors returns the priority tier in registration order.
func (d *Device) PrioritySensors() []Sensor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Sensor(nil), d.priority...)
}

// RotateRoundRobin pops the front round-robin sensor and pushes it to the
// back, returning it. ok is false when the tier is empty.
func (d *Device) RotateRoundRobin() (s Sensor, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.roundRobin) == 0 {
		return nil, false
	}
	s = d.roundRobin[0]
	copy(d.roundRobin, d.roundRobin[1:])
	d.roundRobin[len(d.roundRobin)-1] = s
	return s, true
}

// RoundRobinLen returns the size of the round-robin tier.
func (d *Device) RoundRobinLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.roundRobin)
}

// TakeStatic returns the static sensors that have not yet run and marks
// them as taken. Each static sensor is returned exactly once.
func (d *Device) TakeStatic() []Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	due := d.staticDue
	d.staticDue = nil
	return due
}

// MarkSeen records a successful exchange.
func (d *Device) MarkSeen(t time.Time) {
	d.mu.Lock()
	d.online = true
	d.lastSeen = t
	d.mu.Unlock()
}

// SetOffline marks the device unreachable.
func (d *Device) SetOffline() {
	d.mu.Lock()
	d.online = false
	d.mu.Unlock()
}

// Online reports whether the last discovery or exchange succeeded.
func (d *Device) Online() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.online
}

// Info returns a snapshot for the API.
func (d *Device) Info() Info {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info := Info{
		UUID:         d.uuid,
		Name:         d.name,
		EID:          d.eid,
		DeviceType:   d.identity.Identification.String(),
		Instance:     d.identity.Instance,
		EventMode:    d.eventMode.String(),
		MessageTypes: d.messageTypes.Members(),
		Online:       d.online,
	}
	if info.Name == "" {
		info.Name = d.uuid
	}
	if len(d.commands) > 0 {
		info.Commands = make(map[string][]uint8, len(d.commands))
		for t, b := range d.commands {
			info.Commands[t.String()] = b.Members()
		}
	}
	for _, s := range d.priority {
		info.Sensors = append(info.Sensors, SensorInfo{Name: s.Name(), Tier: TierPriority.String()})
	}
	for _, s := range d.roundRobin {
		info.Sensors = append(info.Sensors, SensorInfo{Name: s.Name(), Tier: TierRoundRobin.String()})
	}
	for _, s := range d.static {
		info.Sensors = append(info.Sensors, SensorInfo{Name: s.Name(), Tier: TierStatic.String()})
	}
	if !d.lastSeen.IsZero() {
		info.LastSeen = d.lastSeen.UTC().Format(time.RFC3339)
	}
	return info
}

// Record returns the persistable part of the device.
func (d *Device) Record() Record {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r := Record{
		UUID:         d.uuid,
		Name:         d.name,
		EID:          d.eid,
		Identity:     d.identity,
		MessageTypes: d.messageTypes,
		Commands:     make(map[nsm.MessageType]nsm.Bitmap, len(d.commands)),
		LastSeen:     d.lastSeen,
	}
	for t, b := range d.commands {
		r.Commands[t] = b
	}
	return r
}

// apply restores a persisted record. Sensors and handlers are not part of
// the record and are left untouched.
func (d *Device) apply(r Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.Name != "" {
		d.name = r.Name
	}
	d.eid = r.EID
	d.identity = r.Identity
	d.messageTypes = r.MessageTypes
	d.commands = make(map[nsm.MessageType]nsm.Bitmap, len(r.Commands))
	for t, b := range r.Commands {
		d.commands[t] = b
	}
	d.lastSeen = r.LastSeen
}
