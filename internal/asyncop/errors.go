package asyncop

import "errors"

// Domain errors for async operations.
var (
	// ErrUnavailable is returned when no record slot is free or a conflicting
	// operation on the same target is still in progress.
	ErrUnavailable = errors.New("asyncop: unavailable")

	// ErrInvalidArgument is returned when a value fails validation before
	// any wire exchange.
	ErrInvalidArgument = errors.New("asyncop: invalid argument")

	// ErrNotFound is returned when an operation id is unknown or recycled.
	ErrNotFound = errors.New("asyncop: operation not found")

	// ErrInProgress is returned by Discard for a record that has not
	// reached a terminal status.
	ErrInProgress = errors.New("asyncop: operation in progress")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("asyncop: manager closed")
)
