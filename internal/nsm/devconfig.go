package nsm

import (
	"encoding/binary"
	"fmt"
)

// Device configuration (type 5) commands.
const (
	CmdSetErrorInjectionMode           uint8 = 0x03
	CmdGetErrorInjectionMode           uint8 = 0x04
	CmdGetSupportedErrorInjectionTypes uint8 = 0x05
	CmdSetCurrentErrorInjectionTypes   uint8 = 0x06
	CmdGetCurrentErrorInjectionTypes   uint8 = 0x07
	CmdSetConfidentialComputeMode      uint8 = 0x08
	CmdGetConfidentialComputeMode      uint8 = 0x09
	CmdSetReconfigurationPermissions   uint8 = 0x40
	CmdGetReconfigurationPermissions   uint8 = 0x41
	CmdSetEGMMode                      uint8 = 0x42
	CmdGetEGMMode                      uint8 = 0x43
	CmdEnableDisableGPUISTMode         uint8 = 0x62
	CmdGetFPGADiagnosticsSettings      uint8 = 0x64
)

// FPGADiagnosticsIndex selects the block returned by
// GetFPGADiagnosticsSettings.
type FPGADiagnosticsIndex uint8

// FPGA diagnostics data indexes.
const (
	FPGAWPSettings           FPGADiagnosticsIndex = 0x00
	FPGAPCIeFundamentalReset FPGADiagnosticsIndex = 0x01
	FPGAWPJumperPresence     FPGADiagnosticsIndex = 0x02
	FPGAGPUDegradeMode       FPGADiagnosticsIndex = 0x03
	FPGAGPUISTMode           FPGADiagnosticsIndex = 0x04
	FPGAPowerSupplyStatus    FPGADiagnosticsIndex = 0x05
	FPGABoardPowerSupply     FPGADiagnosticsIndex = 0x06
	FPGAPowerBrake           FPGADiagnosticsIndex = 0x07
	FPGAThermalAlert         FPGADiagnosticsIndex = 0x08
	FPGANVSWFlashPresent     FPGADiagnosticsIndex = 0x09
	FPGANVSWFuseSrc          FPGADiagnosticsIndex = 0x0A
	FPGARetimerLTSSMDump     FPGADiagnosticsIndex = 0x0B
	FPGAGPUPresence          FPGADiagnosticsIndex = 0x0C
	FPGAGPUPowerStatus       FPGADiagnosticsIndex = 0x0D
	FPGAAggregate            FPGADiagnosticsIndex = 0xFF
)

// Valid reports whether i is a defined data index.
func (i FPGADiagnosticsIndex) Valid() bool {
	return i <= FPGAGPUPowerStatus || i == FPGAAggregate
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (i FPGADiagnosticsIndex) MarshalBinary() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("%w: fpga diagnostics index 0x%02x", ErrData, uint8(i))
	}
	return []byte{byte(i)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (i *FPGADiagnosticsIndex) UnmarshalBinary(data []byte) error {
	if i == nil {
		return ErrNull
	}
	if err := exact("fpga diagnostics index", data, 1); err != nil {
		return err
	}
	v := FPGADiagnosticsIndex(data[0])
	if !v.Valid() {
		return fmt.Errorf("%w: fpga diagnostics index 0x%02x", ErrData, data[0])
	}
	*i = v
	return nil
}

// WPSettingsSize is the size of the write-protect settings block.
const WPSettingsSize = 8

// WPSettings is the write-protect block of GetFPGADiagnosticsSettings
// (FPGAWPSettings). Each field is one bit; true means write protected.
//
//	Byte 0: bit0 Retimer, bit1 Baseboard, bit2 PEX, bit3 NVSwitch, bit7 GPU1_4
//	Byte 1: bit0 GPU5_8, bit1 CPU1_4
//	Byte 2: bits0-7 Retimer[0..7]
//	Byte 3: bit0 NVSwitch1, bit1 NVSwitch2, bits4-7 GPU[0..3]
//	Byte 4: bits0-3 GPU[4..7], bit4 HMC, bits5-7 CPU[0..2]
//	Byte 5: bit0 CPU[3]
//	Byte 6-7: reserved
type WPSettings struct {
	Retimer   bool
	Baseboard bool
	PEX       bool
	NVSwitch  bool
	GPU1_4    bool //nolint:revive // matches the protocol field name
	GPU5_8    bool //nolint:revive // matches the protocol field name
	CPU1_4    bool //nolint:revive // matches the protocol field name

	Retimers  [8]bool
	NVSwitch1 bool
	NVSwitch2 bool
	GPUs      [8]bool
	HMC       bool
	CPUs      [4]bool
}

func bit(b byte, n uint) bool { return b&(1<<n) != 0 }

func setBit(b *byte, n uint, v bool) {
	if v {
		*b |= 1 << n
	}
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (w *WPSettings) MarshalBinary() ([]byte, error) {
	if w == nil {
		return nil, ErrNull
	}
	b := make([]byte, WPSettingsSize)
	setBit(&b[0], 0, w.Retimer)
	setBit(&b[0], 1, w.Baseboard)
	setBit(&b[0], 2, w.PEX)
	setBit(&b[0], 3, w.NVSwitch)
	setBit(&b[0], 7, w.GPU1_4)
	setBit(&b[1], 0, w.GPU5_8)
	setBit(&b[1], 1, w.CPU1_4)
	for i, v := range w.Retimers {
		setBit(&b[2], uint(i), v) //nolint:gosec // i < 8
	}
	setBit(&b[3], 0, w.NVSwitch1)
	setBit(&b[3], 1, w.NVSwitch2)
	for i := range 4 {
		setBit(&b[3], uint(4+i), w.GPUs[i]) //nolint:gosec // i < 4
		setBit(&b[4], uint(i), w.GPUs[4+i]) //nolint:gosec // i < 4
	}
	setBit(&b[4], 4, w.HMC)
	for i := range 3 {
		setBit(&b[4], uint(5+i), w.CPUs[i]) //nolint:gosec // i < 3
	}
	setBit(&b[5], 0, w.CPUs[3])
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It requires at
// least WPSettingsSize bytes.
func (w *WPSettings) UnmarshalBinary(data []byte) error {
	if w == nil {
		return ErrNull
	}
	if err := atLeast("write-protect settings", data, WPSettingsSize); err != nil {
		return err
	}
	*w = WPSettings{
		Retimer:   bit(data[0], 0),
		Baseboard: bit(data[0], 1),
		PEX:       bit(data[0], 2),
		NVSwitch:  bit(data[0], 3),
		GPU1_4:    bit(data[0], 7),
		GPU5_8:    bit(data[1], 0),
		CPU1_4:    bit(data[1], 1),
		NVSwitch1: bit(data[3], 0),
		NVSwitch2: bit(data[3], 1),
		HMC:       bit(data[4], 4),
	}
	for i := range 8 {
		w.Retimers[i] = bit(data[2], uint(i)) //nolint:gosec // i < 8
	}
	for i := range 4 {
		w.GPUs[i] = bit(data[3], uint(4+i)) //nolint:gosec // i < 4
		w.GPUs[4+i] = bit(data[4], uint(i)) //nolint:gosec // i < 4
	}
	for i := range 3 {
		w.CPUs[i] = bit(data[4], uint(5+i)) //nolint:gosec // i < 3
	}
	w.CPUs[3] = bit(data[5], 0)
	return nil
}

// Protected resolves the bit that guards one component.
// Instance numbers are zero based.
//
// Returns:
//   - bool: the write-protect state
//   - error: ErrData for an identification/instance with no bit
func (w *WPSettings) Protected(id DeviceIdentification, instance uint8, retimer bool) (bool, error) {
	switch id {
	case DeviceGPU:
		if instance < 8 {
			return w.GPUs[instance], nil
		}
	case DeviceSwitch:
		switch instance {
		case 0:
			return w.NVSwitch1, nil
		case 1:
			return w.NVSwitch2, nil
		}
	case DevicePCIeBridge:
		return w.PEX, nil
	case DeviceBaseboard:
		if !retimer {
			return w.HMC, nil
		}
		if instance < 8 {
			return w.Retimers[instance], nil
		}
	}
	return false, fmt.Errorf("%w: no write-protect bit for %s instance %d", ErrData, id, instance)
}

// WPJumper is the FPGAWPJumperPresence block.
type WPJumper struct {
	Present bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (j WPJumper) MarshalBinary() ([]byte, error) {
	var b byte
	setBit(&b, 0, j.Present)
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (j *WPJumper) UnmarshalBinary(data []byte) error {
	if j == nil {
		return ErrNull
	}
	if err := exact("write-protect jumper", data, 1); err != nil {
		return err
	}
	j.Present = bit(data[0], 0)
	return nil
}

// ByteValue is a single-byte response payload such as GPU presence,
// power supply status or GPU IST mode.
type ByteValue uint8

// MarshalBinary implements encoding.BinaryMarshaler.
func (v ByteValue) MarshalBinary() ([]byte, error) {
	return []byte{byte(v)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *ByteValue) UnmarshalBinary(data []byte) error {
	if v == nil {
		return ErrNull
	}
	if err := exact("byte value", data, 1); err != nil {
		return err
	}
	*v = ByteValue(data[0])
	return nil
}

// ErrorInjectionMode is the GetErrorInjectionMode response payload.
// SetErrorInjectionMode carries only the Mode byte.
type ErrorInjectionMode struct {
	Enabled bool
	Flags   uint32
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m ErrorInjectionMode) MarshalBinary() ([]byte, error) {
	b := make([]byte, 5) //nolint:mnd // mode + flags(4)
	if m.Enabled {
		b[0] = 1
	}
	binary.LittleEndian.PutUint32(b[1:5], m.Flags)
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ErrorInjectionMode) UnmarshalBinary(data []byte) error {
	if m == nil {
		return ErrNull
	}
	if err := exact("error injection mode", data, 5); err != nil { //nolint:mnd // mode + flags(4)
		return err
	}
	if data[0] > 1 {
		return fmt.Errorf("%w: error injection mode %d", ErrData, data[0])
	}
	m.Enabled = data[0] == 1
	m.Flags = binary.LittleEndian.Uint32(data[1:5])
	return nil
}

// Switch is a one-byte 0/1 request argument.
type Switch bool

// MarshalBinary implements encoding.BinaryMarshaler.
func (s Switch) MarshalBinary() ([]byte, error) {
	if s {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Switch) UnmarshalBinary(data []byte) error {
	if s == nil {
		return ErrNull
	}
	if err := exact("switch", data, 1); err != nil {
		return err
	}
	if data[0] > 1 {
		return fmt.Errorf("%w: switch value %d", ErrData, data[0])
	}
	*s = data[0] == 1
	return nil
}

// ErrorInjectionTypes is an 8-byte error injection type mask.
type ErrorInjectionTypes [8]byte

// MarshalBinary implements encoding.BinaryMarshaler.
func (t *ErrorInjectionTypes) MarshalBinary() ([]byte, error) {
	if t == nil {
		return nil, ErrNull
	}
	return append([]byte(nil), t[:]...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (t *ErrorInjectionTypes) UnmarshalBinary(data []byte) error {
	if t == nil {
		return ErrNull
	}
	if err := exact("error injection types", data, len(t)); err != nil {
		return err
	}
	copy(t[:], data)
	return nil
}

// ReconfigSetting selects how a reconfiguration permission applies.
type ReconfigSetting uint8

// Reconfiguration permission settings.
const (
	ReconfigOneshotHotReset ReconfigSetting = 0
	ReconfigPersistent      ReconfigSetting = 1
	ReconfigOneshotFLR      ReconfigSetting = 2
)

// ReconfigIndexMax is the highest defined reconfiguration permission index
// (EGM mode).
const ReconfigIndexMax uint8 = 22

// ReconfigPermissions is the GetReconfigurationPermissions response.
type ReconfigPermissions struct {
	Oneshot       bool
	Persistent    bool
	FLRPersistent bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p ReconfigPermissions) MarshalBinary() ([]byte, error) {
	var b byte
	setBit(&b, 0, p.Oneshot)
	setBit(&b, 1, p.Persistent)
	setBit(&b, 2, p.FLRPersistent)
	return []byte{b}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *ReconfigPermissions) UnmarshalBinary(data []byte) error {
	if p == nil {
		return ErrNull
	}
	if err := exact("reconfiguration permissions", data, 1); err != nil {
		return err
	}
	p.Oneshot = bit(data[0], 0)
	p.Persistent = bit(data[0], 1)
	p.FLRPersistent = bit(data[0], 2)
	return nil
}

// SetReconfigPermission is the SetReconfigurationPermissions request.
type SetReconfigPermission struct {
	Index   uint8
	Setting ReconfigSetting
	Allow   bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s SetReconfigPermission) MarshalBinary() ([]byte, error) {
	if s.Index > ReconfigIndexMax {
		return nil, fmt.Errorf("%w: reconfiguration index %d", ErrData, s.Index)
	}
	if s.Setting > ReconfigOneshotFLR {
		return nil, fmt.Errorf("%w: reconfiguration setting %d", ErrData, s.Setting)
	}
	b := []byte{s.Index, byte(s.Setting), 0}
	if s.Allow {
		b[2] = 1
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *SetReconfigPermission) UnmarshalBinary(data []byte) error {
	if s == nil {
		return ErrNull
	}
	if err := exact("set reconfiguration permission", data, 3); err != nil { //nolint:mnd // index + setting + permission
		return err
	}
	if data[0] > ReconfigIndexMax || ReconfigSetting(data[1]) > ReconfigOneshotFLR || data[2] > 1 {
		return fmt.Errorf("%w: reconfiguration request % x", ErrData, data)
	}
	s.Index = data[0]
	s.Setting = ReconfigSetting(data[1])
	s.Allow = data[2] == 1
	return nil
}

// AllGPUs addresses every GPU in EnableDisableGPUISTMode.
const AllGPUs uint8 = 0x0A

// ISTMode is the EnableDisableGPUISTMode request.
type ISTMode struct {
	DeviceIndex uint8
	Enable      bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m ISTMode) MarshalBinary() ([]byte, error) {
	if m.DeviceIndex > 7 && m.DeviceIndex != AllGPUs {
		return nil, fmt.Errorf("%w: IST device index %d", ErrData, m.DeviceIndex)
	}
	b := []byte{m.DeviceIndex, 0}
	if m.Enable {
		b[1] = 1
	}
	return b, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ISTMode) UnmarshalBinary(data []byte) error {
	if m == nil {
		return ErrNull
	}
	if err := exact("IST mode", data, 2); err != nil {
		return err
	}
	if (data[0] > 7 && data[0] != AllGPUs) || data[1] > 1 {
		return fmt.Errorf("%w: IST mode request % x", ErrData, data)
	}
	m.DeviceIndex = data[0]
	m.Enable = data[1] == 1
	return nil
}
