package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned when Send is called while the client has
	// no live connection to the demultiplexer.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionFailed is returned when the initial dial fails.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrSendFailed is returned when writing a frame fails.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrInvalidFrame is returned for a frame that cannot carry NSM.
	ErrInvalidFrame = errors.New("transport: invalid frame")

	// ErrProtocolDesync is returned when a length prefix exceeds the read
	// buffer. The stream can no longer be trusted and is reconnected.
	ErrProtocolDesync = errors.New("transport: protocol desync")
)
