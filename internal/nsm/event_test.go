package nsm

import (
	"bytes"
	"errors"
	"testing"
)

func TestEventRoundTrip(t *testing.T) {
	in := Event{
		InstanceID:   9,
		MessageType:  TypePlatformEnvironmental,
		Version:      1,
		AckRequested: true,
		ID:           3,
		Class:        EventClassAssertion,
		State:        0xBEEF,
		Data:         []byte{1, 2, 3},
	}
	b, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	if len(b) != EventMinSize+3 {
		t.Fatalf("len = %d, want %d", len(b), EventMinSize+3)
	}
	if b[2] != 0xC9 {
		t.Errorf("flags byte = 0x%02x, want 0xc9 (request|datagram|9)", b[2])
	}
	out, err := DecodeEvent(b)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if out.InstanceID != in.InstanceID || out.MessageType != in.MessageType || out.Version != in.Version ||
		out.AckRequested != in.AckRequested || out.ID != in.ID || out.Class != in.Class || out.State != in.State {
		t.Errorf("DecodeEvent() = %+v, want %+v", out, in)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Errorf("data = % x, want % x", out.Data, in.Data)
	}
}

func TestDecodeEventErrors(t *testing.T) {
	good, _ := EncodeEvent(Event{MessageType: TypeDeviceCapabilityDiscovery, ID: EventRediscovery, Data: []byte{7}}) //nolint:errcheck // fixed input
	req, _ := EncodeRequest(0, TypeDeviceCapabilityDiscovery, CmdPing, []byte{0, 0, 0}) //nolint:errcheck // fixed input

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"one byte short of minimum", good[:EventMinSize-1], ErrLength},
		{"data_size larger than data", good[:EventMinSize], ErrLength},
		{"request not event", req, ErrData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeEvent(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("DecodeEvent() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPeekEventIgnoresDataSize(t *testing.T) {
	frame, _ := EncodeEvent(Event{MessageType: TypePlatformEnvironmental, ID: 7, AckRequested: true, Data: []byte{0xA1, 0xA2}}) //nolint:errcheck // fixed input

	tests := []struct {
		name     string
		dataSize byte
		want     []byte
	}{
		{"exact", 2, []byte{0xA1, 0xA2}},
		{"padded frame", 1, []byte{0xA1}},
		{"data_size past end", 9, []byte{0xA1, 0xA2}},
		{"no data declared", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), frame...)
			b[10] = tt.dataSize
			ev, err := PeekEvent(b)
			if err != nil {
				t.Fatalf("PeekEvent() error = %v", err)
			}
			if ev.MessageType != TypePlatformEnvironmental || ev.ID != 7 || !ev.AckRequested {
				t.Errorf("PeekEvent() = %+v", ev)
			}
			if !bytes.Equal(ev.Data, tt.want) {
				t.Errorf("data = % x, want % x", ev.Data, tt.want)
			}
		})
	}

	if _, err := PeekEvent(frame[:EventMinSize-1]); !errors.Is(err, ErrLength) {
		t.Errorf("PeekEvent(short) error = %v, want ErrLength", err)
	}
}

func TestEventAck(t *testing.T) {
	b := EncodeEventAck(12, TypeDeviceCapabilityDiscovery, EventRediscovery)
	if b[2] != 0x40|12 {
		t.Errorf("flags byte = 0x%02x, want datagram|12", b[2])
	}
	iid, mt, id, err := DecodeEventAck(b)
	if err != nil {
		t.Fatalf("DecodeEventAck() error = %v", err)
	}
	if iid != 12 || mt != TypeDeviceCapabilityDiscovery || id != EventRediscovery {
		t.Errorf("DecodeEventAck() = %d %s %d", iid, mt, id)
	}
	if _, _, _, err := DecodeEventAck(b[:5]); !errors.Is(err, ErrLength) {
		t.Errorf("short ack error = %v, want ErrLength", err)
	}
}

func TestLongRunningRoundTrip(t *testing.T) {
	in := LongRunningResult{
		MessageType: TypeDiagnostic,
		Command:     CmdResetNetworkDevice,
		InstanceID:  21,
		CC:          CCSuccess,
		Payload:     []byte{0xAA, 0xBB},
	}
	b, err := EncodeLongRunningEvent(3, in)
	if err != nil {
		t.Fatalf("EncodeLongRunningEvent() error = %v", err)
	}
	ev, err := DecodeEvent(b)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.ID != EventLongRunning || ev.InstanceID != 3 {
		t.Errorf("event = %+v", ev)
	}
	out, err := DecodeLongRunning(ev)
	if err != nil {
		t.Fatalf("DecodeLongRunning() error = %v", err)
	}
	if out.MessageType != in.MessageType || out.Command != in.Command || out.InstanceID != in.InstanceID || out.CC != in.CC {
		t.Errorf("DecodeLongRunning() = %+v, want %+v", out, in)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("payload = % x, want % x", out.Payload, in.Payload)
	}
	if out.Err() != nil {
		t.Errorf("Err() = %v, want nil", out.Err())
	}
}

func TestLongRunningFailureDropsPayload(t *testing.T) {
	b, err := EncodeLongRunningEvent(0, LongRunningResult{
		MessageType: TypeDiagnostic, Command: CmdEraseTrace, CC: CCErrGeneric, Reason: 5, Payload: []byte{1},
	})
	if err != nil {
		t.Fatalf("EncodeLongRunningEvent() error = %v", err)
	}
	ev, _ := DecodeEvent(b) //nolint:errcheck // encoded above
	out, err := DecodeLongRunning(ev)
	if err != nil {
		t.Fatalf("DecodeLongRunning() error = %v", err)
	}
	if out.Payload != nil || out.Reason != 5 {
		t.Errorf("DecodeLongRunning() = %+v", out)
	}
	var ce *CommandError
	if !errors.As(out.Err(), &ce) || ce.Command != CmdEraseTrace {
		t.Errorf("Err() = %v", out.Err())
	}
}

func TestDecodeLongRunningRejectsOtherEvents(t *testing.T) {
	if _, err := DecodeLongRunning(nil); !errors.Is(err, ErrNull) {
		t.Errorf("nil error = %v, want ErrNull", err)
	}
	ev := &Event{MessageType: TypeDeviceCapabilityDiscovery, ID: EventRediscovery}
	if _, err := DecodeLongRunning(ev); !errors.Is(err, ErrData) {
		t.Errorf("rediscovery error = %v, want ErrData", err)
	}
	ev = &Event{MessageType: TypeDeviceCapabilityDiscovery, ID: EventLongRunning, Data: []byte{1, 2}}
	if _, err := DecodeLongRunning(ev); !errors.Is(err, ErrLength) {
		t.Errorf("short data error = %v, want ErrLength", err)
	}
}
