package asyncop

import (
	"context"
	"encoding"
	"fmt"
	"math"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Exchanger performs one correlated request/response exchange.
type Exchanger interface {
	Exchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error)
}

// Operation kinds.
const (
	KindWriteProtect     = "write_protect"
	KindPowerMode        = "power_mode"
	KindErrorInjection   = "error_injection_mode"
	KindEGMMode          = "egm_mode"
	KindReconfigPermit   = "reconfig_permission"
	KindISTMode          = "ist_mode"
	targetPowerMode      = "power_mode"
	targetErrorInjection = "error_injection_mode"
)

// Operations builds the concrete "set" operations and starts them on a
// Manager.
type Operations struct {
	m  *Manager
	ex Exchanger
}

// NewOperations binds m to the exchanger used by every handler.
func NewOperations(m *Manager, ex Exchanger) *Operations {
	return &Operations{m: m, ex: ex}
}

// Manager returns the underlying record manager.
func (o *Operations) Manager() *Manager { return o.m }

// write sends one set command and fails on anything but success.
func (o *Operations) write(ctx context.Context, dev *device.Device, msgType nsm.MessageType, command uint8, req encoding.BinaryMarshaler) error {
	var payload []byte
	if req != nil {
		b, err := req.MarshalBinary()
		if err != nil {
			return err
		}
		payload = b
	}
	resp, err := o.ex.Exchange(ctx, dev.EID(), msgType, command, payload)
	if err != nil {
		return err
	}
	return resp.Err()
}

// WriteProtectRequest selects the component by data index, or by instance
// when DataIndex is zero.
type WriteProtectRequest struct {
	DataIndex nsm.WPDataIndex `json:"data_index,omitempty"`
	Instance  uint8           `json:"instance"`
	Retimer   bool            `json:"retimer,omitempty"`
	Enable    bool            `json:"enable"`
}

// resolve returns the data index for dev.
func (r WriteProtectRequest) resolve(dev *device.Device) (nsm.WPDataIndex, error) {
	if r.DataIndex != 0 {
		if !r.DataIndex.Valid() {
			return 0, fmt.Errorf("write-protect index %d", r.DataIndex)
		}
		return r.DataIndex, nil
	}
	return nsm.WPDataIndexFor(dev.Identity().Identification, r.Instance, r.Retimer)
}

// SetWriteProtect enables or disables write protection of one component.
func (o *Operations) SetWriteProtect(ctx context.Context, dev *device.Device, req WriteProtectRequest) (string, error) {
	var idx nsm.WPDataIndex
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:  KindWriteProtect,
		Value: req,
		Validate: func() (err error) {
			idx, err = req.resolve(dev)
			return err
		},
		Run: func(ctx context.Context) error {
			return o.write(ctx, dev, nsm.TypeDiagnostic, nsm.CmdEnableDisableWP,
				nsm.EnableDisableWP{Index: idx, Enable: req.Enable})
		},
	})
}

// Power mode field names accepted by SetPowerModeField.
const (
	FieldHWModeControl          = "hw_mode_control"
	FieldHWModeThreshold        = "hw_mode_threshold"
	FieldFWThrottlingMode       = "fw_throttling_mode"
	FieldPredictionMode         = "prediction_mode"
	FieldHWActiveTime           = "hw_active_time"
	FieldHWInactiveTime         = "hw_inactive_time"
	FieldPredictionInactiveTime = "prediction_inactive_time"
)

// PowerModeChange sets one field of the device's power mode structure.
type PowerModeChange struct {
	Field string `json:"field"`
	Value uint64 `json:"value"`
}

// apply writes c into p after range checking the value.
func (c PowerModeChange) apply(p *nsm.PowerModeData) error {
	flag := func(dst *bool) error {
		if c.Value > 1 {
			return fmt.Errorf("%s must be 0 or 1, got %d", c.Field, c.Value)
		}
		*dst = c.Value == 1
		return nil
	}
	u16 := func(dst *uint16) error {
		if c.Value > math.MaxUint16 {
			return fmt.Errorf("%s out of range: %d", c.Field, c.Value)
		}
		*dst = uint16(c.Value)
		return nil
	}

	switch c.Field {
	case FieldHWModeControl:
		return flag(&p.HWModeControl)
	case FieldFWThrottlingMode:
		return flag(&p.FWThrottlingMode)
	case FieldPredictionMode:
		return flag(&p.PredictionMode)
	case FieldHWModeThreshold:
		if c.Value > math.MaxUint32 {
			return fmt.Errorf("%s out of range: %d", c.Field, c.Value)
		}
		p.HWModeThreshold = uint32(c.Value)
		return nil
	case FieldHWActiveTime:
		return u16(&p.HWActiveTime)
	case FieldHWInactiveTime:
		return u16(&p.HWInactiveTime)
	case FieldPredictionInactiveTime:
		return u16(&p.PredictionInactiveTime)
	default:
		return fmt.Errorf("unknown power mode field %q", c.Field)
	}
}

// SetPowerModeField reads the power mode structure, changes one field and
// writes it back. A second write to the same device while one is in
// progress ends in StatusUnavailable.
func (o *Operations) SetPowerModeField(ctx context.Context, dev *device.Device, change PowerModeChange) (string, error) {
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:     KindPowerMode,
		Target:   targetPowerMode,
		Value:    change,
		Validate: func() error { return change.apply(&nsm.PowerModeData{}) },
		Run: func(ctx context.Context) error {
			resp, err := o.ex.Exchange(ctx, dev.EID(), nsm.TypeNetworkPort, nsm.CmdGetPowerMode, nil)
			if err != nil {
				return fmt.Errorf("reading power mode: %w", err)
			}
			if err := resp.Err(); err != nil {
				return fmt.Errorf("reading power mode: %w", err)
			}
			var pm nsm.PowerModeData
			if err := pm.UnmarshalBinary(resp.Payload); err != nil {
				return fmt.Errorf("decoding power mode: %w", err)
			}
			if err := change.apply(&pm); err != nil {
				return err
			}
			return o.write(ctx, dev, nsm.TypeNetworkPort, nsm.CmdSetPowerMode, &pm)
		},
	})
}

// SetErrorInjectionMode turns global error injection on or off.
func (o *Operations) SetErrorInjectionMode(ctx context.Context, dev *device.Device, enable bool) (string, error) {
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:   KindErrorInjection,
		Target: targetErrorInjection,
		Value:  enable,
		Run: func(ctx context.Context) error {
			return o.write(ctx, dev, nsm.TypeDeviceConfiguration, nsm.CmdSetErrorInjectionMode, nsm.Switch(enable))
		},
	})
}

// SetEGMMode enables or disables extended GPU memory mode.
func (o *Operations) SetEGMMode(ctx context.Context, dev *device.Device, enable bool) (string, error) {
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:  KindEGMMode,
		Value: enable,
		Run: func(ctx context.Context) error {
			return o.write(ctx, dev, nsm.TypeDeviceConfiguration, nsm.CmdSetEGMMode, nsm.Switch(enable))
		},
	})
}

// SetReconfigPermission changes one reconfiguration permission.
func (o *Operations) SetReconfigPermission(ctx context.Context, dev *device.Device, req nsm.SetReconfigPermission) (string, error) {
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:  KindReconfigPermit,
		Value: req,
		Validate: func() error {
			_, err := req.MarshalBinary()
			return err
		},
		Run: func(ctx context.Context) error {
			return o.write(ctx, dev, nsm.TypeDeviceConfiguration, nsm.CmdSetReconfigurationPermissions, req)
		},
	})
}

// SetISTMode enables or disables IST mode for one GPU or all of them.
func (o *Operations) SetISTMode(ctx context.Context, dev *device.Device, req nsm.ISTMode) (string, error) {
	return o.m.Begin(ctx, dev.UUID(), Operation{
		Kind:  KindISTMode,
		Value: req,
		Validate: func() error {
			_, err := req.MarshalBinary()
			return err
		},
		Run: func(ctx context.Context) error {
			return o.write(ctx, dev, nsm.TypeDeviceConfiguration, nsm.CmdEnableDisableGPUISTMode, req)
		},
	})
}
