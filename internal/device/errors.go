package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device matches a UUID or EID.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidUUID is returned when registering an empty UUID.
	ErrInvalidUUID = errors.New("device: invalid uuid")

	// ErrInvalidTier is returned for an unknown sensor tier.
	ErrInvalidTier = errors.New("device: invalid sensor tier")

	// ErrDuplicateSensor is returned when a sensor name is already attached
	// to the device.
	ErrDuplicateSensor = errors.New("device: sensor already attached")

	// ErrInvalidEventMode is returned for an event generation setting
	// outside disable/polling/push.
	ErrInvalidEventMode = errors.New("device: invalid event mode")
)
