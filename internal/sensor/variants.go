package sensor

import (
	"fmt"
	"time"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Spec describes one sensor to attach to a device.
type Spec struct {
	Name string
	Kind Kind

	// Tier overrides DefaultTier when set.
	Tier string

	// SensorID selects the hardware sensor for temperature, power,
	// voltage and clock limit.
	SensorID uint8

	// AveragingInterval is passed to GetPower.
	AveragingInterval uint8

	// Property selects the inventory record.
	Property uint8
}

// DefaultTier returns the polling tier a kind uses unless overridden.
func DefaultTier(k Kind) device.Tier {
	switch k {
	case KindTemperature, KindPower:
		return device.TierPriority
	case KindInventory, KindWPJumper:
		return device.TierStatic
	default:
		return device.TierRoundRobin
	}
}

// Resolve returns the tier a spec asks for.
func (s Spec) Resolve() (device.Tier, error) {
	if s.Tier == "" {
		return DefaultTier(s.Kind), nil
	}
	return device.ParseTier(s.Tier)
}

// New builds the sensor described by spec for the device with deviceUUID.
//
// Returns:
//   - *Sensor: ready to attach with device.Registry.AddSensor
//   - error: ErrInvalidSpec if the name is empty, ErrUnknownKind for an
//     unrecognised kind, or a codec error for an invalid argument
func New(deviceUUID string, spec Spec, sink Sink) (*Sensor, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidSpec)
	}

	s := &Sensor{
		name:   spec.Name,
		device: deviceUUID,
		kind:   spec.Kind,
		sink:   sink,
		now:    time.Now,
	}

	switch spec.Kind {
	case KindTemperature:
		s.msgType, s.command = nsm.TypePlatformEnvironmental, nsm.CmdGetTemperatureReading
		s.payload = []byte{spec.SensorID}
		s.decode = decodeAs[nsm.Temperature](func(v nsm.Temperature) any { return float64(v) })

	case KindPower:
		s.msgType, s.command = nsm.TypePlatformEnvironmental, nsm.CmdGetPower
		s.payload, _ = nsm.PowerRequest{SensorID: spec.SensorID, AveragingInterval: spec.AveragingInterval}.MarshalBinary() //nolint:errcheck // cannot fail
		s.decode = decodeAs[nsm.Uint32Value](func(v nsm.Uint32Value) any { return uint32(v) })

	case KindVoltage:
		s.msgType, s.command = nsm.TypePlatformEnvironmental, nsm.CmdGetVoltage
		s.payload = []byte{spec.SensorID}
		s.decode = decodeAs[nsm.Uint32Value](func(v nsm.Uint32Value) any { return uint32(v) })

	case KindClockLimit:
		s.msgType, s.command = nsm.TypePlatformEnvironmental, nsm.CmdGetClockLimit
		s.payload = []byte{spec.SensorID}
		s.decode = decodeAs[nsm.ClockLimit](func(v nsm.ClockLimit) any { return v })

	case KindInventory:
		prop := nsm.InventoryProperty(spec.Property)
		payload, err := prop.MarshalBinary()
		if err != nil {
			return nil, err
		}
		s.msgType, s.command, s.payload = nsm.TypePlatformEnvironmental, nsm.CmdGetInventoryInformation, payload
		s.decode = decodeAs[nsm.InventoryValue](func(v nsm.InventoryValue) any { return v.Format(prop) })

	case KindWPSettings:
		s.msgType, s.command = nsm.TypeDeviceConfiguration, nsm.CmdGetFPGADiagnosticsSettings
		s.payload = []byte{byte(nsm.FPGAWPSettings)}
		s.decode = decodeAs[nsm.WPSettings](func(v nsm.WPSettings) any { return v })

	case KindWPJumper:
		s.msgType, s.command = nsm.TypeDeviceConfiguration, nsm.CmdGetFPGADiagnosticsSettings
		s.payload = []byte{byte(nsm.FPGAWPJumperPresence)}
		s.decode = decodeAs[nsm.WPJumper](func(v nsm.WPJumper) any { return v.Present })

	case KindPowerMode:
		s.msgType, s.command = nsm.TypeNetworkPort, nsm.CmdGetPowerMode
		s.decode = decodeAs[nsm.PowerModeData](func(v nsm.PowerModeData) any { return v })

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	return s, nil
}
