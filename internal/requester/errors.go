package requester

import (
	"errors"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Correlator errors.
var (
	// ErrTransport wraps a failure of the send primitive.
	ErrTransport = errors.New("requester: transport failure")

	// ErrTimeout is returned when no matching response arrived within the
	// response window after all retries.
	ErrTimeout = errors.New("requester: response timeout")

	// ErrBusy is returned by TryExchange while the endpoint has an exchange
	// in flight.
	ErrBusy = errors.New("requester: endpoint busy")

	// ErrNoInstanceID is returned when all 32 instance ids of an endpoint
	// are in use or cooling down. No request is sent.
	ErrNoInstanceID = errors.New("requester: no free instance id")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("requester: closed")
)

// IsCommandFail reports whether err is a transport or correlation failure
// or a non-success completion code surfaced as *nsm.CommandError.
func IsCommandFail(err error) bool {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout) {
		return true
	}
	var ce *nsm.CommandError
	return errors.As(err, &ce)
}
