package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Tier selects how often the scheduler invokes a sensor.
type Tier int

// Sensor tiers.
const (
	TierPriority Tier = iota
	TierRoundRobin
	TierStatic
)

// String returns the configuration name of the tier.
func (t Tier) String() string {
	switch t {
	case TierPriority:
		return "priority"
	case TierRoundRobin:
		return "round_robin"
	case TierStatic:
		return "static"
	default:
		return fmt.Sprintf("tier-%d", int(t))
	}
}

// ParseTier converts a configuration name to a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "priority":
		return TierPriority, nil
	case "round_robin", "roundrobin", "":
		return TierRoundRobin, nil
	case "static":
		return TierStatic, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

// Sensor is one unit of polled work: it produces exactly one request and
// consumes exactly one outcome per invocation.
type Sensor interface {
	// Name identifies the sensor within its device.
	Name() string

	// Command returns the message type, command code and request payload.
	// An error means the request could not be built and the invocation is
	// skipped.
	Command() (nsm.MessageType, uint8, []byte, error)

	// Update consumes the outcome of one exchange. err is non-nil when the
	// exchange failed; resp may carry a non-success completion code.
	Update(resp *nsm.Response, err error)
}

// EventKey identifies an event handler within a device event table.
type EventKey struct {
	MessageType nsm.MessageType
	EventID     uint8
}

// EventHandler processes a complete event frame received from eid.
// Handlers perform their own payload checks.
type EventHandler func(ctx context.Context, eid uint8, frame []byte) error

// SensorInfo describes an attached sensor.
type SensorInfo struct {
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// Info is a point-in-time view of a device.
type Info struct {
	UUID         string             `json:"uuid"`
	Name         string             `json:"name"`
	EID          uint8              `json:"eid"`
	DeviceType   string             `json:"device_type"`
	Instance     uint8              `json:"instance"`
	EventMode    string             `json:"event_mode"`
	MessageTypes []uint8            `json:"message_types"`
	Commands     map[string][]uint8 `json:"commands,omitempty"`
	Sensors      []SensorInfo       `json:"sensors"`
	Online       bool               `json:"online"`
	LastSeen     string             `json:"last_seen,omitempty"`
}
