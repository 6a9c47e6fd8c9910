package nsm

import "fmt"

// Diagnostic (type 4) commands.
const (
	CmdGetNetworkDeviceDebugInfo uint8 = 0x50
	CmdEraseTrace                uint8 = 0x51
	CmdGetNetworkDeviceLogInfo   uint8 = 0x52
	CmdResetNetworkDevice        uint8 = 0x53
	CmdEraseDebugInfo            uint8 = 0x59
	CmdEnableDisableWP           uint8 = 0x65
)

// WPDataIndex selects the component of EnableDisableWP.
type WPDataIndex uint8

// Write-protect data indexes.
const (
	WPRetimerEEPROM  WPDataIndex = 128
	WPBaseboardFRU   WPDataIndex = 129
	WPPEXSwitch      WPDataIndex = 130
	WPNVSwitchBoth   WPDataIndex = 131
	WPNVSwitch1      WPDataIndex = 133
	WPNVSwitch2      WPDataIndex = 134
	WPGPU1_4         WPDataIndex = 160 //nolint:revive // protocol name
	WPGPU5_8         WPDataIndex = 161 //nolint:revive // protocol name
	WPGPUSPIFlash1   WPDataIndex = 162
	WPGPUSPIFlash8   WPDataIndex = 169
	WPHMCSPIFlash    WPDataIndex = 176
	WPRetimerEEPROM1 WPDataIndex = 192
	WPRetimerEEPROM8 WPDataIndex = 199
	WPCX7FRU         WPDataIndex = 232
	WPHMCFRU         WPDataIndex = 233
)

// Valid reports whether i is a defined write-protect index.
func (i WPDataIndex) Valid() bool {
	switch {
	case i >= WPRetimerEEPROM && i <= WPNVSwitchBoth:
		return true
	case i == WPNVSwitch1 || i == WPNVSwitch2:
		return true
	case i >= WPGPU1_4 && i <= WPGPUSPIFlash8:
		return true
	case i == WPHMCSPIFlash:
		return true
	case i >= WPRetimerEEPROM1 && i <= WPRetimerEEPROM8:
		return true
	case i == WPCX7FRU || i == WPHMCFRU:
		return true
	default:
		return false
	}
}

// WPDataIndexFor maps a component to its EnableDisableWP index.
// Instance numbers are zero based.
func WPDataIndexFor(id DeviceIdentification, instance uint8, retimer bool) (WPDataIndex, error) {
	switch id {
	case DeviceGPU:
		if instance < 8 {
			return WPGPUSPIFlash1 + WPDataIndex(instance), nil
		}
	case DeviceSwitch:
		switch instance {
		case 0:
			return WPNVSwitch1, nil
		case 1:
			return WPNVSwitch2, nil
		}
	case DevicePCIeBridge:
		return WPPEXSwitch, nil
	case DeviceBaseboard:
		if !retimer {
			return WPHMCSPIFlash, nil
		}
		if instance < 8 {
			return WPRetimerEEPROM1 + WPDataIndex(instance), nil
		}
	}
	return 0, fmt.Errorf("%w: no write-protect index for %s instance %d", ErrData, id, instance)
}

// EnableDisableWP is the EnableDisableWP request payload.
type EnableDisableWP struct {
	Index  WPDataIndex
	Enable bool
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (w EnableDisableWP) MarshalBinary() ([]byte, error) {
	if !w.Index.Valid() {
		return nil, fmt.Errorf("%w: write-protect index %d", ErrData, w.Index)
	}
	return []byte{byte(w.Index), boolByte(w.Enable)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (w *EnableDisableWP) UnmarshalBinary(data []byte) error {
	if w == nil {
		return ErrNull
	}
	if err := exact("enable/disable write-protect", data, 2); err != nil {
		return err
	}
	idx := WPDataIndex(data[0])
	if !idx.Valid() || data[1] > 1 {
		return fmt.Errorf("%w: write-protect request % x", ErrData, data)
	}
	w.Index = idx
	w.Enable = data[1] == 1
	return nil
}

// ResetMode is the ResetNetworkDevice argument.
type ResetMode uint8

// Reset modes.
const (
	ResetModeDefault ResetMode = 0
	ResetModeHot     ResetMode = 1
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (m ResetMode) MarshalBinary() ([]byte, error) {
	if m > ResetModeHot {
		return nil, fmt.Errorf("%w: reset mode %d", ErrData, m)
	}
	return []byte{byte(m)}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ResetMode) UnmarshalBinary(data []byte) error {
	if m == nil {
		return ErrNull
	}
	if err := exact("reset mode", data, 1); err != nil {
		return err
	}
	if ResetMode(data[0]) > ResetModeHot {
		return fmt.Errorf("%w: reset mode %d", ErrData, data[0])
	}
	*m = ResetMode(data[0])
	return nil
}
