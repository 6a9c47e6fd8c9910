package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/nsm-core/internal/nsm"
)

// Frame layout on the demultiplexer socket:
//
//	Byte 0-1: length (big-endian) of everything after the length field
//	Byte 2:   endpoint id
//	Byte 3:   MCTP message type (nsm.MCTPMessageType)
//	Byte 4+:  NSM message
const (
	lengthSize = 2

	// frameOverhead is the EID and MCTP type bytes counted by the length.
	frameOverhead = 2

	// MaxFrameSize bounds a single frame including the length prefix.
	MaxFrameSize = 4096
)

// EncodeFrame wraps an NSM message for eid.
func EncodeFrame(eid uint8, msg []byte) ([]byte, error) {
	n := frameOverhead + len(msg)
	if lengthSize+n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d byte message exceeds frame limit", ErrInvalidFrame, len(msg))
	}
	b := make([]byte, lengthSize+n)
	binary.BigEndian.PutUint16(b[0:2], uint16(n)) //nolint:gosec // bounded by MaxFrameSize
	b[2] = eid
	b[3] = nsm.MCTPMessageType
	copy(b[4:], msg)
	return b, nil
}

// DecodeFrame splits a frame body (the bytes after the length prefix) into
// its endpoint id and NSM message. The returned message aliases body.
func DecodeFrame(body []byte) (uint8, []byte, error) {
	if len(body) < frameOverhead {
		return 0, nil, fmt.Errorf("%w: %d byte body", ErrInvalidFrame, len(body))
	}
	if body[1] != nsm.MCTPMessageType {
		return 0, nil, fmt.Errorf("%w: mctp type 0x%02x", ErrInvalidFrame, body[1])
	}
	return body[0], body[frameOverhead:], nil
}
