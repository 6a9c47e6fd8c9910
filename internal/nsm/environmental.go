package nsm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Platform environmental (type 3) commands.
const (
	CmdGetTemperatureReading    uint8 = 0x01
	CmdGetPower                 uint8 = 0x02
	CmdGetPowerLimits           uint8 = 0x03
	CmdSetPowerLimits           uint8 = 0x04
	CmdGetInventoryInformation  uint8 = 0x07
	CmdGetCurrentClockFrequency uint8 = 0x09
	CmdGetClockLimit            uint8 = 0x0B
	CmdGetVoltage               uint8 = 0x15
)

// SensorID is the single-byte sensor selector of temperature, voltage and
// clock requests.
type SensorID uint8

// MarshalBinary implements encoding.BinaryMarshaler.
func (s SensorID) MarshalBinary() ([]byte, error) {
	return []byte{byte(s)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *SensorID) UnmarshalBinary(data []byte) error {
	if s == nil {
		return ErrNull
	}
	if err := exact("sensor id", data, 1); err != nil {
		return err
	}
	*s = SensorID(data[0])
	return nil
}

// Temperature is a GetTemperatureReading response in degrees Celsius.
type Temperature float32

// MarshalBinary implements encoding.BinaryMarshaler.
func (t Temperature) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4) //nolint:mnd // real32
	binary.LittleEndian.PutUint32(b, math.Float32bits(float32(t)))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *Temperature) UnmarshalBinary(data []byte) error {
	if t == nil {
		return ErrNull
	}
	if err := exact("temperature", data, 4); err != nil { //nolint:mnd // real32
		return err
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(data))
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return fmt.Errorf("%w: temperature is not finite", ErrData)
	}
	*t = Temperature(v)
	return nil
}

// Uint32Value is a little-endian 32-bit reading: power in milliwatts,
// voltage in microvolts, clock in MHz.
type Uint32Value uint32

// MarshalBinary implements encoding.BinaryMarshaler.
func (v Uint32Value) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4) //nolint:mnd // uint32
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *Uint32Value) UnmarshalBinary(data []byte) error {
	if v == nil {
		return ErrNull
	}
	if err := exact("uint32 reading", data, 4); err != nil { //nolint:mnd // uint32
		return err
	}
	*v = Uint32Value(binary.LittleEndian.Uint32(data))
	return nil
}

// PowerRequest is the GetPower request payload.
type PowerRequest struct {
	SensorID          uint8
	AveragingInterval uint8
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PowerRequest) MarshalBinary() ([]byte, error) {
	return []byte{p.SensorID, p.AveragingInterval}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PowerRequest) UnmarshalBinary(data []byte) error {
	if p == nil {
		return ErrNull
	}
	if err := exact("power request", data, 2); err != nil {
		return err
	}
	p.SensorID, p.AveragingInterval = data[0], data[1]
	return nil
}

// ClockLimit is the GetClockLimit response in MHz.
type ClockLimit struct {
	PresentMin   uint32
	PresentMax   uint32
	RequestedMin uint32
	RequestedMax uint32
}

const clockLimitSize = 16

// MarshalBinary implements encoding.BinaryMarshaler.
func (c ClockLimit) MarshalBinary() ([]byte, error) {
	b := make([]byte, clockLimitSize)
	binary.LittleEndian.PutUint32(b[0:4], c.PresentMin)
	binary.LittleEndian.PutUint32(b[4:8], c.PresentMax)
	binary.LittleEndian.PutUint32(b[8:12], c.RequestedMin)
	binary.LittleEndian.PutUint32(b[12:16], c.RequestedMax)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *ClockLimit) UnmarshalBinary(data []byte) error {
	if c == nil {
		return ErrNull
	}
	if err := exact("clock limit", data, clockLimitSize); err != nil {
		return err
	}
	c.PresentMin = binary.LittleEndian.Uint32(data[0:4])
	c.PresentMax = binary.LittleEndian.Uint32(data[4:8])
	c.RequestedMin = binary.LittleEndian.Uint32(data[8:12])
	c.RequestedMax = binary.LittleEndian.Uint32(data[12:16])
	if c.PresentMin > c.PresentMax {
		return fmt.Errorf("%w: clock limit min %d above max %d", ErrData, c.PresentMin, c.PresentMax)
	}
	return nil
}

// InventoryProperty identifies a GetInventoryInformation property.
type InventoryProperty uint8

// Inventory properties.
const (
	InvBoardPartNumber         InventoryProperty = 0
	InvSerialNumber            InventoryProperty = 1
	InvMarketingName           InventoryProperty = 2
	InvDevicePartNumber        InventoryProperty = 3
	InvFRUPartNumber           InventoryProperty = 4
	InvMemoryVendor            InventoryProperty = 5
	InvMemoryPartNumber        InventoryProperty = 6
	InvMaximumMemoryCapacity   InventoryProperty = 7
	InvBuildDate               InventoryProperty = 8
	InvFirmwareVersion         InventoryProperty = 9
	InvDeviceGUID              InventoryProperty = 10
	InvInfoROMVersion          InventoryProperty = 11
	InvPCIeVendorID            InventoryProperty = 17
	InvPCIeDeviceID            InventoryProperty = 18
	InvRatedDevicePowerLimit   InventoryProperty = 21
	InvMinimumDevicePowerLimit InventoryProperty = 22
	InvMaximumDevicePowerLimit InventoryProperty = 23
	InvRatedModulePowerLimit   InventoryProperty = 26
	invLastProperty                             = InvRatedModulePowerLimit
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (p InventoryProperty) MarshalBinary() ([]byte, error) {
	if p > invLastProperty {
		return nil, fmt.Errorf("%w: inventory property %d", ErrData, uint8(p))
	}
	return []byte{byte(p)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *InventoryProperty) UnmarshalBinary(data []byte) error {
	if p == nil {
		return ErrNull
	}
	if err := exact("inventory property", data, 1); err != nil {
		return err
	}
	if InventoryProperty(data[0]) > invLastProperty {
		return fmt.Errorf("%w: inventory property %d", ErrData, data[0])
	}
	*p = InventoryProperty(data[0])
	return nil
}

// textual reports whether the property is a character string on the wire.
func (p InventoryProperty) textual() bool {
	switch p {
	case InvBoardPartNumber, InvSerialNumber, InvMarketingName, InvDevicePartNumber,
		InvFRUPartNumber, InvMemoryVendor, InvMemoryPartNumber, InvBuildDate,
		InvFirmwareVersion, InvInfoROMVersion:
		return true
	default:
		return false
	}
}

// InventoryValue is a GetInventoryInformation response. The payload shape
// depends on the property, so the raw bytes are kept and typed accessors
// interpret them.
type InventoryValue struct {
	Raw []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v *InventoryValue) MarshalBinary() ([]byte, error) {
	if v == nil {
		return nil, ErrNull
	}
	return append([]byte(nil), v.Raw...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. Any non-empty
// payload is accepted.
func (v *InventoryValue) UnmarshalBinary(data []byte) error {
	if v == nil {
		return ErrNull
	}
	if err := atLeast("inventory value", data, 1); err != nil {
		return err
	}
	v.Raw = append(v.Raw[:0], data...)
	return nil
}

// String interprets the value as a NUL-padded string.
func (v *InventoryValue) String() string {
	return strings.TrimRight(string(v.Raw), "\x00 ")
}

// Uint32 interprets the value as a little-endian uint32.
func (v *InventoryValue) Uint32() (uint32, error) {
	if len(v.Raw) != 4 { //nolint:mnd // uint32
		return 0, lengthErr("inventory uint32", len(v.Raw), 4) //nolint:mnd // uint32
	}
	return binary.LittleEndian.Uint32(v.Raw), nil
}

// Format renders the value for the given property.
func (v *InventoryValue) Format(p InventoryProperty) string {
	switch {
	case p.textual():
		return v.String()
	case p == InvDeviceGUID:
		return FormatUUID(v.Raw)
	case len(v.Raw) == 4: //nolint:mnd // uint32
		n, _ := v.Uint32() //nolint:errcheck // length checked above
		return fmt.Sprintf("%d", n)
	default:
		return fmt.Sprintf("% x", v.Raw)
	}
}

// FormatUUID renders 16 raw bytes in canonical 8-4-4-4-12 form. Shorter
// inputs are rendered as plain hex.
func FormatUUID(b []byte) string {
	if len(b) < 16 { //nolint:mnd // uuid size
		return fmt.Sprintf("%x", b)
	}
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
