package nsm

import (
	"errors"
	"fmt"
)

// Codec errors. Every decode failure wraps exactly one of these.
var (
	// ErrNull is returned when a required output value is missing.
	// It is always checked before any byte is read.
	ErrNull = errors.New("nsm: required argument is nil")

	// ErrLength is returned when a buffer is shorter than the fixed
	// header and envelope, or when data_size does not match the payload.
	ErrLength = errors.New("nsm: invalid length")

	// ErrData is returned for a well-sized payload carrying a value the
	// protocol does not allow (bad vendor tag, unknown enum, etc.).
	ErrData = errors.New("nsm: invalid data")
)

// CommandError reports a non-success completion code once a caller decides
// to treat it as a failure.
type CommandError struct {
	MessageType MessageType
	Command     uint8
	CC          CompletionCode
	Reason      uint16
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("nsm: %s command 0x%02x failed: cc=%s reason=0x%04x",
		e.MessageType, e.Command, e.CC, e.Reason)
}

// IsUnsupported reports whether err is a CommandError for a command or
// message type the device does not implement.
func IsUnsupported(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.CC == CCUnsupportedCommandCode || ce.CC == CCUnsupportedMsgType
}

// lengthErr builds an ErrLength with context.
func lengthErr(what string, got, want int) error {
	return fmt.Errorf("%w: %s is %d bytes, need %d", ErrLength, what, got, want)
}
