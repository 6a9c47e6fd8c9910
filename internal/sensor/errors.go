package sensor

import "errors"

// Domain errors for the sensor package.
var (
	// ErrUnknownKind is returned for a sensor kind outside the closed set.
	ErrUnknownKind = errors.New("sensor: unknown kind")

	// ErrInvalidSpec is returned when a sensor definition is incomplete.
	ErrInvalidSpec = errors.New("sensor: invalid definition")
)
