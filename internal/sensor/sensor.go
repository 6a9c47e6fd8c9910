package sensor

import (
	"encoding"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Kind is one of the closed set of sensor variants.
type Kind string

// Sensor kinds.
const (
	KindTemperature Kind = "temperature"
	KindPower       Kind = "power"
	KindVoltage     Kind = "voltage"
	KindClockLimit  Kind = "clock_limit"
	KindInventory   Kind = "inventory"
	KindWPSettings  Kind = "wp_settings"
	KindWPJumper    Kind = "wp_jumper"
	KindPowerMode   Kind = "power_mode"
)

// Reading is the outcome of one sensor invocation.
type Reading struct {
	Device string    `json:"device"`
	Sensor string    `json:"sensor"`
	Kind   Kind      `json:"kind"`
	Value  any       `json:"value,omitempty"`
	Time   time.Time `json:"time"`

	// Unavailable is set when the value could not be read. CC and Reason
	// are filled for a non-success completion, Error for anything else.
	Unavailable bool   `json:"unavailable,omitempty"`
	CC          string `json:"cc,omitempty"`
	Reason      uint16 `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Number returns the reading as a float64 when the value is scalar.
func (r Reading) Number() (float64, bool) {
	if r.Unavailable {
		return 0, false
	}
	switch v := r.Value.(type) {
	case float64:
		return v, true
	case uint32:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Sink receives every reading. Implementations must not block.
type Sink interface {
	Publish(r Reading)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Reading)

// Publish calls f(r).
func (f SinkFunc) Publish(r Reading) { f(r) }

// Sinks fans a reading out to several sinks.
type Sinks []Sink

// Publish forwards r to every non-nil sink.
func (s Sinks) Publish(r Reading) {
	for _, sink := range s {
		if sink != nil {
			sink.Publish(r)
		}
	}
}

// Decode unmarshals a response payload into T. A non-success completion is
// returned as its *nsm.CommandError.
func Decode[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](resp *nsm.Response) (T, error) {
	var v T
	if resp == nil {
		return v, nsm.ErrNull
	}
	if err := resp.Err(); err != nil {
		return v, err
	}
	if err := PT(&v).UnmarshalBinary(resp.Payload); err != nil {
		return v, err
	}
	return v, nil
}

// decodeFunc turns a successful response into the reading value.
type decodeFunc func(resp *nsm.Response) (any, error)

// decodeAs builds a decodeFunc from Decode and a conversion to the
// published value type.
func decodeAs[T any, PT interface {
	*T
	encoding.BinaryUnmarshaler
}](conv func(T) any) decodeFunc {
	return func(resp *nsm.Response) (any, error) {
		v, err := Decode[T, PT](resp)
		if err != nil {
			return nil, err
		}
		return conv(v), nil
	}
}

// Sensor is one polled command on one device. It implements
// device.Sensor.
//
// Thread Safety: Update and Last may be called concurrently.
type Sensor struct {
	name    string
	device  string
	kind    Kind
	msgType nsm.MessageType
	command uint8
	payload []byte
	decode  decodeFunc
	sink    Sink
	now     func() time.Time

	mu   sync.RWMutex
	last Reading
}

var _ device.Sensor = (*Sensor)(nil)

// Name returns the sensor name, unique within its device.
func (s *Sensor) Name() string { return s.name }

// Kind returns the sensor variant.
func (s *Sensor) Kind() Kind { return s.kind }

// Command returns the request this sensor issues on every invocation.
func (s *Sensor) Command() (nsm.MessageType, uint8, []byte, error) {
	return s.msgType, s.command, s.payload, nil
}

// Update records the outcome of one invocation and publishes it.
func (s *Sensor) Update(resp *nsm.Response, err error) {
	r := Reading{Device: s.device, Sensor: s.name, Kind: s.kind, Time: s.now()}
	switch {
	case err != nil:
		r.Unavailable = true
		r.Error = err.Error()
	case resp == nil:
		r.Unavailable = true
		r.Error = nsm.ErrNull.Error()
	case !resp.CC.Success():
		r.Unavailable = true
		r.CC = resp.CC.String()
		r.Reason = resp.Reason
	default:
		v, derr := s.decode(resp)
		if derr != nil {
			r.Unavailable = true
			r.Error = derr.Error()
		} else {
			r.Value = v
		}
	}

	s.mu.Lock()
	s.last = r
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Publish(r)
	}
}

// Last returns the most recent reading. The zero Reading is returned
// before the first invocation.
func (s *Sensor) Last() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Sensor) String() string {
	return fmt.Sprintf("%s/%s(%s)", s.device, s.name, s.kind)
}
