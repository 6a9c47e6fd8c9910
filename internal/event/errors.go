package event

import "errors"

// ErrHandler wraps an error returned by an event handler.
var ErrHandler = errors.New("event: handler failed")
