// Package nsm implements the NSM wire codec.
//
// NSM is a vendor-defined request/response protocol carried over MCTP. Every
// message starts with a fixed 4-byte header followed by a command envelope:
//
//	Byte 0-1: vendor tag 0x10DE (little-endian)
//	Byte 2:   bit7 request | bit6 datagram | bit5 reserved | bits4-0 instance id
//	Byte 3:   bits7-4 protocol type | bits3-0 protocol version
//	Byte 4:   message type (functional group)
//	Byte 5:   command code
//
// Requests then carry data_size (LE16) and the payload. Successful responses
// carry completion code, two reserved bytes, data_size (LE16) and the payload.
// Responses with any other completion code end after completion code and
// reason code (LE16).
//
// # Errors
//
// All decode failures are plain error values wrapping one of ErrNull,
// ErrLength or ErrData. A non-success completion code is not a decode
// failure: it is reported through Response.CC so callers can tell malformed
// wire data apart from a device reporting an error.
//
// # Payloads
//
// Structured payloads implement encoding.BinaryMarshaler and
// encoding.BinaryUnmarshaler. Use EncodeRequestFrom / DecodeResponseInto to
// combine the envelope with a typed payload in one call.
//
// Thread Safety: all functions are pure and safe for concurrent use.
package nsm
