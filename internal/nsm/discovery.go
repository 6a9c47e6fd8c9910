package nsm

import (
	"fmt"
	"math/bits"
)

// Device capability discovery (type 0) commands.
const (
	CmdPing                      uint8 = 0x00
	CmdSupportedMessageTypes     uint8 = 0x01
	CmdSupportedCommandCodes     uint8 = 0x02
	CmdSupportedEventSources     uint8 = 0x03
	CmdGetCurrentEventSources    uint8 = 0x04
	CmdSetCurrentEventSources    uint8 = 0x05
	CmdSetEventSubscription      uint8 = 0x06
	CmdGetEventSubscription      uint8 = 0x07
	CmdGetEventLogRecord         uint8 = 0x08
	CmdQueryDeviceIdentification uint8 = 0x09
)

// BitmapSize is the size of the supported message type and supported
// command code bitmaps.
const BitmapSize = 32

// EventSourcesSize is the size of an event source mask.
const EventSourcesSize = 8

// Bitmap is a 256-bit support bitmap. Bit n is byte n/8, bit n%8.
type Bitmap [BitmapSize]byte

// Has reports whether bit n is set.
func (b *Bitmap) Has(n uint8) bool {
	return b[n/8]&(1<<(n%8)) != 0
}

// Set sets bit n.
func (b *Bitmap) Set(n uint8) {
	b[n/8] |= 1 << (n % 8)
}

// Members lists the set bits in ascending order.
func (b *Bitmap) Members() []uint8 {
	var out []uint8
	for i, v := range b {
		for v != 0 {
			bit := bits.TrailingZeros8(v)
			out = append(out, uint8(i*8+bit)) //nolint:gosec // i < 32
			v &^= 1 << bit
		}
	}
	return out
}

// Empty reports whether no bit is set.
func (b *Bitmap) Empty() bool {
	return *b == Bitmap{}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	if b == nil {
		return nil, ErrNull
	}
	out := make([]byte, BitmapSize)
	copy(out, b[:])
	return out, nil
}

// UnmarshalBinary accepts at least BitmapSize bytes; extra bytes are
// ignored because devices may append reserved space.
func (b *Bitmap) UnmarshalBinary(data []byte) error {
	if b == nil {
		return ErrNull
	}
	if err := atLeast("bitmap", data, BitmapSize); err != nil {
		return err
	}
	copy(b[:], data[:BitmapSize])
	return nil
}

// MessageTypeArg is the single-byte message type argument of
// SupportedCommandCodes, SupportedEventSources and GetCurrentEventSources.
type MessageTypeArg MessageType

// MarshalBinary implements encoding.BinaryMarshaler.
func (m MessageTypeArg) MarshalBinary() ([]byte, error) {
	return []byte{byte(m)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *MessageTypeArg) UnmarshalBinary(data []byte) error {
	if m == nil {
		return ErrNull
	}
	if err := exact("message type argument", data, 1); err != nil {
		return err
	}
	*m = MessageTypeArg(data[0])
	return nil
}

// DeviceIdentity is the QueryDeviceIdentification response payload.
type DeviceIdentity struct {
	Identification DeviceIdentification
	Instance       uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d DeviceIdentity) MarshalBinary() ([]byte, error) {
	return []byte{byte(d.Identification), d.Instance}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *DeviceIdentity) UnmarshalBinary(data []byte) error {
	if d == nil {
		return ErrNull
	}
	if err := exact("device identity", data, 2); err != nil {
		return err
	}
	id := DeviceIdentification(data[0])
	switch id {
	case DeviceGPU, DeviceSwitch, DevicePCIeBridge, DeviceBaseboard, DeviceUnknown:
	default:
		return fmt.Errorf("%w: device identification %d", ErrData, data[0])
	}
	d.Identification = id
	d.Instance = data[1]
	return nil
}

// EventGeneration is the global event generation setting.
type EventGeneration uint8

// Event generation settings.
const (
	EventGenerationDisable EventGeneration = 0
	EventGenerationPolling EventGeneration = 1
	EventGenerationPush    EventGeneration = 2
)

func (g EventGeneration) String() string {
	switch g {
	case EventGenerationDisable:
		return "disable"
	case EventGenerationPolling:
		return "polling"
	case EventGenerationPush:
		return "push"
	default:
		return fmt.Sprintf("generation-%d", uint8(g))
	}
}

// EventSubscription is the SetEventSubscription request payload.
type EventSubscription struct {
	Setting     EventGeneration
	ReceiverEID uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s EventSubscription) MarshalBinary() ([]byte, error) {
	if s.Setting > EventGenerationPush {
		return nil, fmt.Errorf("%w: event generation setting %d", ErrData, s.Setting)
	}
	return []byte{byte(s.Setting), s.ReceiverEID}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *EventSubscription) UnmarshalBinary(data []byte) error {
	if s == nil {
		return ErrNull
	}
	if err := exact("event subscription", data, 2); err != nil {
		return err
	}
	if EventGeneration(data[0]) > EventGenerationPush {
		return fmt.Errorf("%w: event generation setting %d", ErrData, data[0])
	}
	s.Setting = EventGeneration(data[0])
	s.ReceiverEID = data[1]
	return nil
}

// EventSourceMask is a 64-bit mask of event ids within a message type.
type EventSourceMask [EventSourcesSize]byte

// Has reports whether event id n is enabled.
func (m *EventSourceMask) Has(n uint8) bool {
	if n >= EventSourcesSize*8 {
		return false
	}
	return m[n/8]&(1<<(n%8)) != 0
}

// Set enables event id n. Ids beyond the mask are ignored.
func (m *EventSourceMask) Set(n uint8) {
	if n < EventSourcesSize*8 {
		m[n/8] |= 1 << (n % 8)
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EventSourceMask) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, ErrNull
	}
	out := make([]byte, EventSourcesSize)
	copy(out, m[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EventSourceMask) UnmarshalBinary(data []byte) error {
	if m == nil {
		return ErrNull
	}
	if err := atLeast("event source mask", data, EventSourcesSize); err != nil {
		return err
	}
	copy(m[:], data[:EventSourcesSize])
	return nil
}

// EventSources is the SetCurrentEventSources request payload.
type EventSources struct {
	MessageType MessageType
	Mask        EventSourceMask
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s EventSources) MarshalBinary() ([]byte, error) {
	out := make([]byte, 1+EventSourcesSize)
	out[0] = byte(s.MessageType)
	copy(out[1:], s.Mask[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *EventSources) UnmarshalBinary(data []byte) error {
	if s == nil {
		return ErrNull
	}
	if err := exact("event sources", data, 1+EventSourcesSize); err != nil {
		return err
	}
	s.MessageType = MessageType(data[0])
	copy(s.Mask[:], data[1:])
	return nil
}
