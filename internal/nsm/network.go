package nsm

import (
	"encoding/binary"
	"fmt"
)

// Network port (type 1) commands.
const (
	CmdSetPowerMode uint8 = 0x0A
	CmdGetPowerMode uint8 = 0x0B
)

// PowerModeSize is the wire size of PowerModeData.
const PowerModeSize = 13

// PowerModeData is the switch L1 power-mode block. GetPowerMode returns it
// and SetPowerMode writes it back whole, so a change to one field is a
// read-modify-write of the entire structure.
//
//	Byte 0:     L1 HW mode control
//	Byte 1-4:   L1 HW mode threshold (LE32)
//	Byte 5:     L1 FW throttling mode
//	Byte 6:     L1 prediction mode
//	Byte 7-8:   L1 HW active time (LE16)
//	Byte 9-10:  L1 HW inactive time (LE16)
//	Byte 11-12: L1 prediction inactive time (LE16)
type PowerModeData struct {
	HWModeControl          bool
	HWModeThreshold        uint32
	FWThrottlingMode       bool
	PredictionMode         bool
	HWActiveTime           uint16
	HWInactiveTime         uint16
	PredictionInactiveTime uint16
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p *PowerModeData) MarshalBinary() ([]byte, error) {
	if p == nil {
		return nil, ErrNull
	}
	b := make([]byte, PowerModeSize)
	b[0] = boolByte(p.HWModeControl)
	binary.LittleEndian.PutUint32(b[1:5], p.HWModeThreshold)
	b[5] = boolByte(p.FWThrottlingMode)
	b[6] = boolByte(p.PredictionMode)
	binary.LittleEndian.PutUint16(b[7:9], p.HWActiveTime)
	binary.LittleEndian.PutUint16(b[9:11], p.HWInactiveTime)
	binary.LittleEndian.PutUint16(b[11:13], p.PredictionInactiveTime)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PowerModeData) UnmarshalBinary(data []byte) error {
	if p == nil {
		return ErrNull
	}
	if err := exact("power mode", data, PowerModeSize); err != nil {
		return err
	}
	for _, i := range []int{0, 5, 6} {
		if data[i] > 1 {
			return fmt.Errorf("%w: power mode flag byte %d is %d", ErrData, i, data[i])
		}
	}
	*p = PowerModeData{
		HWModeControl:          data[0] == 1,
		HWModeThreshold:        binary.LittleEndian.Uint32(data[1:5]),
		FWThrottlingMode:       data[5] == 1,
		PredictionMode:         data[6] == 1,
		HWActiveTime:           binary.LittleEndian.Uint16(data[7:9]),
		HWInactiveTime:         binary.LittleEndian.Uint16(data[9:11]),
		PredictionInactiveTime: binary.LittleEndian.Uint16(data[11:13]),
	}
	return nil
}
