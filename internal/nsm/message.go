package nsm

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// Header byte 2 flags.
const (
	flagRequest  byte = 0x80
	flagDatagram byte = 0x40
)

// MessageClass is derived from the request and datagram header bits.
type MessageClass uint8

// Message classes.
const (
	ClassResponse MessageClass = iota // request=0 datagram=0
	ClassEventAck                     // request=0 datagram=1
	ClassRequest                      // request=1 datagram=0
	ClassEvent                        // request=1 datagram=1
)

func (c MessageClass) String() string {
	switch c {
	case ClassResponse:
		return "response"
	case ClassEventAck:
		return "event-ack"
	case ClassRequest:
		return "request"
	case ClassEvent:
		return "event"
	default:
		return "invalid"
	}
}

// Header is the fixed 4-byte NSM message prefix.
type Header struct {
	Request    bool
	Datagram   bool
	InstanceID uint8
}

// Class returns the message class encoded by the request/datagram bits.
func (h Header) Class() MessageClass {
	var c MessageClass
	if h.Request {
		c |= 2
	}
	if h.Datagram {
		c |= 1
	}
	return c
}

// put writes the header into b, which must hold HeaderSize bytes.
// The instance id is masked to 5 bits.
func (h Header) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], VendorID)
	flags := h.InstanceID & MaxInstanceID
	if h.Request {
		flags |= flagRequest
	}
	if h.Datagram {
		flags |= flagDatagram
	}
	b[2] = flags
	b[3] = OCPType<<4 | OCPVersion&0x0F
}

// ParseHeader decodes the fixed header from the start of b.
//
// Returns:
//   - Header: decoded header with the instance id masked to 5 bits
//   - error: ErrLength if b is shorter than HeaderSize, ErrData if the
//     vendor tag or protocol type does not identify an NSM message
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, lengthErr("header", len(b), HeaderSize)
	}
	if vid := binary.LittleEndian.Uint16(b[0:2]); vid != VendorID {
		return Header{}, fmt.Errorf("%w: vendor tag 0x%04x", ErrData, vid)
	}
	if t := b[3] >> 4; t != OCPType {
		return Header{}, fmt.Errorf("%w: protocol type %d", ErrData, t)
	}
	return Header{
		Request:    b[2]&flagRequest != 0,
		Datagram:   b[2]&flagDatagram != 0,
		InstanceID: b[2] & MaxInstanceID,
	}, nil
}

// Classify reads just enough of b to route it: the header and message type.
func Classify(b []byte) (Header, MessageType, error) {
	if len(b) < HeaderSize+1 {
		return Header{}, 0, lengthErr("message", len(b), HeaderSize+1)
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Header{}, 0, err
	}
	return h, MessageType(b[HeaderSize]), nil
}

// Request is a decoded NSM request.
type Request struct {
	InstanceID  uint8
	MessageType MessageType
	Command     uint8
	Payload     []byte
}

// EncodeRequest builds a request message around an opaque payload.
//
// Parameters:
//   - instanceID: correlation tag, masked to 5 bits
//   - msgType: functional group
//   - command: command code within msgType
//   - payload: command arguments, written verbatim after data_size
//
// Returns:
//   - []byte: the complete message
//   - error: ErrLength if the payload does not fit in data_size
func EncodeRequest(instanceID uint8, msgType MessageType, command uint8, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, lengthErr("request payload", len(payload), 0xFFFF)
	}
	b := make([]byte, RequestMinSize+len(payload))
	Header{Request: true, InstanceID: instanceID}.put(b)
	b[4] = byte(msgType)
	b[5] = command
	binary.LittleEndian.PutUint16(b[6:8], uint16(len(payload))) //nolint:gosec // bounded above
	copy(b[RequestMinSize:], payload)
	return b, nil
}

// EncodeRequestFrom builds a request whose payload is produced by p.
// A nil p encodes an empty payload.
func EncodeRequestFrom(instanceID uint8, msgType MessageType, command uint8, p encoding.BinaryMarshaler) ([]byte, error) {
	var payload []byte
	if p != nil {
		var err error
		if payload, err = p.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return EncodeRequest(instanceID, msgType, command, payload)
}

// DecodeRequest parses a request message. data_size must match the
// trailing payload exactly.
func DecodeRequest(b []byte) (*Request, error) {
	if len(b) < RequestMinSize {
		return nil, lengthErr("request", len(b), RequestMinSize)
	}
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Class() != ClassRequest {
		return nil, fmt.Errorf("%w: expected request, got %s", ErrData, h.Class())
	}
	size := int(binary.LittleEndian.Uint16(b[6:8]))
	if got := len(b) - RequestMinSize; got != size {
		return nil, fmt.Errorf("%w: data_size %d but %d payload bytes", ErrLength, size, got)
	}
	req := &Request{
		InstanceID:  h.InstanceID,
		MessageType: MessageType(b[4]),
		Command:     b[5],
	}
	if size > 0 {
		req.Payload = make([]byte, size)
		copy(req.Payload, b[RequestMinSize:])
	}
	return req, nil
}

// DecodeRequestInto parses a request and unmarshals its payload into out.
func DecodeRequestInto(b []byte, out encoding.BinaryUnmarshaler) (*Request, error) {
	if out == nil {
		return nil, ErrNull
	}
	req, err := DecodeRequest(b)
	if err != nil {
		return nil, err
	}
	if err := out.UnmarshalBinary(req.Payload); err != nil {
		return nil, err
	}
	return req, nil
}

// Response is a decoded NSM response.
type Response struct {
	InstanceID  uint8
	MessageType MessageType
	Command     uint8
	CC          CompletionCode
	Reason      uint16

	// Payload is nil for any non-success completion code.
	Payload []byte
}

// Err returns a *CommandError for a non-success completion, nil otherwise.
func (r *Response) Err() error {
	if r.CC.Success() {
		return nil
	}
	return &CommandError{MessageType: r.MessageType, Command: r.Command, CC: r.CC, Reason: r.Reason}
}

// EncodeResponse builds a response message.
//
// A non-success completion code produces the short reason-code-only shape
// and the payload is ignored. On success the reason code is not encoded;
// the two bytes it would occupy are reserved and written as zero.
func EncodeResponse(instanceID uint8, msgType MessageType, command uint8, cc CompletionCode, reason uint16, payload []byte) ([]byte, error) {
	if !cc.Success() {
		b := make([]byte, ResponseMinSize)
		Header{InstanceID: instanceID}.put(b)
		b[4] = byte(msgType)
		b[5] = command
		b[6] = byte(cc)
		binary.LittleEndian.PutUint16(b[7:9], reason)
		return b, nil
	}
	if len(payload) > 0xFFFF {
		return nil, lengthErr("response payload", len(payload), 0xFFFF)
	}
	b := make([]byte, ResponseSuccessMinSize+len(payload))
	Header{InstanceID: instanceID}.put(b)
	b[4] = byte(msgType)
	b[5] = command
	b[6] = byte(cc)
	binary.LittleEndian.PutUint16(b[9:11], uint16(len(payload))) //nolint:gosec // bounded above
	copy(b[ResponseSuccessMinSize:], payload)
	return b, nil
}

// EncodeResponseFrom builds a response whose payload is produced by p.
// p is only consulted for a success completion code.
func EncodeResponseFrom(instanceID uint8, msgType MessageType, command uint8, cc CompletionCode, reason uint16, p encoding.BinaryMarshaler) ([]byte, error) {
	var payload []byte
	if cc.Success() && p != nil {
		var err error
		if payload, err = p.MarshalBinary(); err != nil {
			return nil, err
		}
	}
	return EncodeResponse(instanceID, msgType, command, cc, reason, payload)
}

// DecodeResponse parses a response message.
//
// Returns:
//   - *Response: decoded envelope; Payload is set only on success
//   - error: ErrLength for a short buffer or a data_size mismatch, ErrData
//     for a header that is not an NSM response
func DecodeResponse(b []byte) (*Response, error) {
	if len(b) < ResponseMinSize {
		return nil, lengthErr("response", len(b), ResponseMinSize)
	}
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Class() != ClassResponse {
		return nil, fmt.Errorf("%w: expected response, got %s", ErrData, h.Class())
	}
	resp := &Response{
		InstanceID:  h.InstanceID,
		MessageType: MessageType(b[4]),
		Command:     b[5],
		CC:          CompletionCode(b[6]),
	}
	if !resp.CC.Success() {
		resp.Reason = binary.LittleEndian.Uint16(b[7:9])
		return resp, nil
	}
	if len(b) < ResponseSuccessMinSize {
		return nil, lengthErr("success response", len(b), ResponseSuccessMinSize)
	}
	size := int(binary.LittleEndian.Uint16(b[9:11]))
	if got := len(b) - ResponseSuccessMinSize; got != size {
		return nil, fmt.Errorf("%w: data_size %d but %d payload bytes", ErrLength, size, got)
	}
	resp.Payload = make([]byte, size)
	copy(resp.Payload, b[ResponseSuccessMinSize:])
	return resp, nil
}

// DecodeResponseInto parses a response and, on a success completion code,
// unmarshals the payload into out. out is left untouched otherwise.
func DecodeResponseInto(b []byte, out encoding.BinaryUnmarshaler) (*Response, error) {
	if out == nil {
		return nil, ErrNull
	}
	resp, err := DecodeResponse(b)
	if err != nil {
		return nil, err
	}
	if !resp.CC.Success() {
		return resp, nil
	}
	if err := out.UnmarshalBinary(resp.Payload); err != nil {
		return nil, err
	}
	return resp, nil
}

// exact checks a fixed-shape payload length.
func exact(what string, data []byte, n int) error {
	if len(data) != n {
		return lengthErr(what, len(data), n)
	}
	return nil
}

// atLeast checks a variable-shape payload length.
func atLeast(what string, data []byte, n int) error {
	if len(data) < n {
		return lengthErr(what, len(data), n)
	}
	return nil
}
