package nsm

import (
	"encoding/binary"
	"fmt"
)

// Event ids carried with TypeDeviceCapabilityDiscovery.
const (
	EventRediscovery uint8 = 1
	EventLongRunning uint8 = 2
)

// Event classes.
const (
	EventClassGeneral     uint8 = 0
	EventClassAssertion   uint8 = 1
	EventClassDeassertion uint8 = 2
)

// EventVersion is the event format version encoded in the flags byte.
const EventVersion uint8 = 0

// EventAckSize is header + message type + event id.
const EventAckSize = HeaderSize + 2

const (
	eventFlagAckr  byte = 0x01
	maxEventData        = 0xFF
	longRunningHdr      = 4
)

// Event is an unsolicited NSM event (request=1, datagram=1).
//
// Frame layout after the header:
//
//	Byte 4:  message type
//	Byte 5:  bits7-4 version | bit0 acknowledgement requested
//	Byte 6:  event id
//	Byte 7:  event class
//	Byte 8-9: event state (LE16)
//	Byte 10: data_size
//	Byte 11+: data
type Event struct {
	InstanceID   uint8
	MessageType  MessageType
	Version      uint8
	AckRequested bool
	ID           uint8
	Class        uint8
	State        uint16
	Data         []byte
}

// EncodeEvent builds an event frame.
func EncodeEvent(e Event) ([]byte, error) {
	if len(e.Data) > maxEventData {
		return nil, lengthErr("event data", len(e.Data), maxEventData)
	}
	b := make([]byte, EventMinSize+len(e.Data))
	Header{Request: true, Datagram: true, InstanceID: e.InstanceID}.put(b)
	b[4] = byte(e.MessageType)
	b[5] = (e.Version & 0x0F) << 4
	if e.AckRequested {
		b[5] |= eventFlagAckr
	}
	b[6] = e.ID
	b[7] = e.Class
	binary.LittleEndian.PutUint16(b[8:10], e.State)
	b[10] = byte(len(e.Data))
	copy(b[EventMinSize:], e.Data)
	return b, nil
}

// PeekEvent reads the fixed EventMinSize-byte prefix of an event frame
// without validating data_size. Data holds the trailing bytes, cut to
// data_size when the frame is padded. Routing uses this; handlers that
// interpret the data use DecodeEvent.
func PeekEvent(b []byte) (*Event, error) {
	if len(b) < EventMinSize {
		return nil, lengthErr("event", len(b), EventMinSize)
	}
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.Class() != ClassEvent {
		return nil, fmt.Errorf("%w: expected event, got %s", ErrData, h.Class())
	}
	e := &Event{
		InstanceID:   h.InstanceID,
		MessageType:  MessageType(b[4]),
		Version:      b[5] >> 4,
		AckRequested: b[5]&eventFlagAckr != 0,
		ID:           b[6],
		Class:        b[7],
		State:        binary.LittleEndian.Uint16(b[8:10]),
	}
	data := b[EventMinSize:]
	if size := int(b[10]); len(data) > size {
		data = data[:size]
	}
	if len(data) > 0 {
		e.Data = append([]byte(nil), data...)
	}
	return e, nil
}

// DecodeEvent parses an event frame. The buffer must be at least
// EventMinSize bytes and data_size must match the trailing data exactly.
func DecodeEvent(b []byte) (*Event, error) {
	e, err := PeekEvent(b)
	if err != nil {
		return nil, err
	}
	if size, got := int(b[10]), len(b)-EventMinSize; got != size {
		return nil, fmt.Errorf("%w: event data_size %d but %d data bytes", ErrLength, size, got)
	}
	return e, nil
}

// EncodeEventAck builds the acknowledgement for an event that requested one.
func EncodeEventAck(instanceID uint8, msgType MessageType, eventID uint8) []byte {
	b := make([]byte, EventAckSize)
	Header{Datagram: true, InstanceID: instanceID}.put(b)
	b[4] = byte(msgType)
	b[5] = eventID
	return b
}

// DecodeEventAck parses an event acknowledgement.
func DecodeEventAck(b []byte) (instanceID uint8, msgType MessageType, eventID uint8, err error) {
	if len(b) < EventAckSize {
		return 0, 0, 0, lengthErr("event ack", len(b), EventAckSize)
	}
	h, err := ParseHeader(b)
	if err != nil {
		return 0, 0, 0, err
	}
	if h.Class() != ClassEventAck {
		return 0, 0, 0, fmt.Errorf("%w: expected event ack, got %s", ErrData, h.Class())
	}
	return h.InstanceID, MessageType(b[4]), b[5], nil
}

// LongRunningResult is the completion of a command that was first answered
// with CCAccepted. It arrives as a TypeDeviceCapabilityDiscovery event with
// id EventLongRunning.
type LongRunningResult struct {
	// MessageType and Command identify the original request. They travel
	// in the event state: message type in the low byte, command in the high.
	MessageType MessageType
	Command     uint8
	InstanceID  uint8
	CC          CompletionCode
	Reason      uint16
	Payload     []byte
}

// Err returns a *CommandError for a non-success completion, nil otherwise.
func (r *LongRunningResult) Err() error {
	if r.CC.Success() {
		return nil
	}
	return &CommandError{MessageType: r.MessageType, Command: r.Command, CC: r.CC, Reason: r.Reason}
}

// EncodeLongRunningEvent builds the event that completes a long-running
// command. The payload is dropped for a non-success completion code.
func EncodeLongRunningEvent(eventInstanceID uint8, r LongRunningResult) ([]byte, error) {
	payload := r.Payload
	if !r.CC.Success() {
		payload = nil
	}
	data := make([]byte, longRunningHdr+len(payload))
	data[0] = r.InstanceID & MaxInstanceID
	data[1] = byte(r.CC)
	binary.LittleEndian.PutUint16(data[2:4], r.Reason)
	copy(data[longRunningHdr:], payload)
	return EncodeEvent(Event{
		InstanceID:  eventInstanceID,
		MessageType: TypeDeviceCapabilityDiscovery,
		ID:          EventLongRunning,
		Class:       EventClassGeneral,
		State:       uint16(r.MessageType) | uint16(r.Command)<<8,
		Data:        data,
	})
}

// DecodeLongRunning extracts the long-running completion from an event
// already decoded by DecodeEvent.
func DecodeLongRunning(e *Event) (*LongRunningResult, error) {
	if e == nil {
		return nil, ErrNull
	}
	if e.MessageType != TypeDeviceCapabilityDiscovery || e.ID != EventLongRunning {
		return nil, fmt.Errorf("%w: not a long-running event (type %s id %d)", ErrData, e.MessageType, e.ID)
	}
	if err := atLeast("long-running data", e.Data, longRunningHdr); err != nil {
		return nil, err
	}
	r := &LongRunningResult{
		MessageType: MessageType(e.State & 0xFF),
		Command:     uint8(e.State >> 8),
		InstanceID:  e.Data[0] & MaxInstanceID,
		CC:          CompletionCode(e.Data[1]),
		Reason:      binary.LittleEndian.Uint16(e.Data[2:4]),
	}
	if r.CC.Success() && len(e.Data) > longRunningHdr {
		r.Payload = make([]byte, len(e.Data)-longRunningHdr)
		copy(r.Payload, e.Data[longRunningHdr:])
	}
	return r, nil
}
