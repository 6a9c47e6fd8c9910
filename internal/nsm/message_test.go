package nsm

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	got, err := EncodeRequest(5, TypeDeviceConfiguration, CmdGetFPGADiagnosticsSettings, []byte{0x02})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	want := []byte{
		0xDE, 0x10, // vendor tag LE
		0x85,       // request | iid 5
		0x89,       // type 8, version 9
		0x05, 0x64, // device configuration, get fpga diagnostics
		0x01, 0x00, // data_size
		0x02,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRequest() = % x, want % x", got, want)
	}
}

func TestEncodeRequestMasksInstanceID(t *testing.T) {
	got, err := EncodeRequest(0xFF, TypeDeviceCapabilityDiscovery, CmdPing, nil)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if got[2] != 0x80|0x1F {
		t.Errorf("flags byte = 0x%02x, want 0x9f", got[2])
	}
	h, err := ParseHeader(got)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.InstanceID != 31 || !h.Request || h.Datagram {
		t.Errorf("ParseHeader() = %+v", h)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		iid     uint8
		msgType MessageType
		command uint8
		payload []byte
	}{
		{"ping", 0, TypeDeviceCapabilityDiscovery, CmdPing, nil},
		{"supported command codes", 31, TypeDeviceCapabilityDiscovery, CmdSupportedCommandCodes, []byte{3}},
		{"get power", 17, TypePlatformEnvironmental, CmdGetPower, []byte{0xFF, 0x00}},
		{"enable wp", 9, TypeDiagnostic, CmdEnableDisableWP, []byte{162, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeRequest(tt.iid, tt.msgType, tt.command, tt.payload)
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			req, err := DecodeRequest(b)
			if err != nil {
				t.Fatalf("DecodeRequest() error = %v", err)
			}
			if req.InstanceID != tt.iid || req.MessageType != tt.msgType || req.Command != tt.command {
				t.Errorf("DecodeRequest() = %+v", req)
			}
			if !bytes.Equal(req.Payload, tt.payload) {
				t.Errorf("payload = % x, want % x", req.Payload, tt.payload)
			}
		})
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	good, _ := EncodeRequest(1, TypeDiagnostic, CmdEnableDisableWP, []byte{162, 1}) //nolint:errcheck // fixed input

	badVendor := bytes.Clone(good)
	badVendor[0] = 0x00

	response, _ := EncodeResponse(1, TypeDiagnostic, CmdEnableDisableWP, CCSuccess, 0, nil) //nolint:errcheck // fixed input

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrLength},
		{"header only", good[:4], ErrLength},
		{"missing data_size", good[:7], ErrLength},
		{"truncated payload", good[:len(good)-1], ErrLength},
		{"extra payload", append(bytes.Clone(good), 0x00), ErrLength},
		{"bad vendor", badVendor, ErrData},
		{"response bits", response, ErrData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRequest(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeRequest() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	full, _ := EncodeResponse(3, TypePlatformEnvironmental, CmdGetTemperatureReading, CCSuccess, 0, []byte{0, 0, 0xC8, 0x41}) //nolint:errcheck // fixed input
	for n := 0; n < ResponseMinSize; n++ {
		if _, err := DecodeResponse(full[:n]); !errors.Is(err, ErrLength) {
			t.Errorf("DecodeResponse(%d bytes) error = %v, want ErrLength", n, err)
		}
	}
	for n := 0; n < RequestMinSize; n++ {
		if _, err := DecodeRequest(full[:n]); !errors.Is(err, ErrLength) {
			t.Errorf("DecodeRequest(%d bytes) error = %v, want ErrLength", n, err)
		}
	}
	for n := 0; n < EventMinSize; n++ {
		if _, err := DecodeEvent(full[:n]); !errors.Is(err, ErrLength) {
			t.Errorf("DecodeEvent(%d bytes) error = %v, want ErrLength", n, err)
		}
	}
}

func TestEncodeResponseSuccess(t *testing.T) {
	got, err := EncodeResponse(2, TypeDeviceConfiguration, CmdGetFPGADiagnosticsSettings, CCSuccess, 0x1234, []byte{0x01})
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	want := []byte{
		0xDE, 0x10, 0x02, 0x89,
		0x05, 0x64,
		0x00,       // cc
		0x00, 0x00, // reserved, reason code is not sent on success
		0x01, 0x00, // data_size
		0x01,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeResponse() = % x, want % x", got, want)
	}
}

func TestEncodeResponseErrorIgnoresPayload(t *testing.T) {
	got, err := EncodeResponse(2, TypeDiagnostic, CmdEnableDisableWP, CCUnsupportedCommandCode, 0x0102, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("EncodeResponse() error = %v", err)
	}
	want := []byte{0xDE, 0x10, 0x02, 0x89, 0x04, 0x65, 0x06, 0x02, 0x01}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeResponse() = % x, want % x", got, want)
	}
}

func TestDecodeResponseNonSuccessIgnoresDataSize(t *testing.T) {
	// A device that appends a bogus data_size and bytes after the reason code.
	b := []byte{0xDE, 0x10, 0x07, 0x89, 0x03, 0x01, byte(CCNotReady), 0x09, 0x00, 0x08, 0x00, 0xAA}
	resp, err := DecodeResponse(b)
	if err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if resp.CC != CCNotReady || resp.Reason != 9 {
		t.Errorf("DecodeResponse() cc=%s reason=%d", resp.CC, resp.Reason)
	}
	if resp.Payload != nil {
		t.Errorf("payload = % x, want nil", resp.Payload)
	}
	var ce *CommandError
	if !errors.As(resp.Err(), &ce) || ce.CC != CCNotReady {
		t.Errorf("Err() = %v, want CommandError NOT_READY", resp.Err())
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cc      CompletionCode
		reason  uint16
		payload []byte
		want    []byte
	}{
		{"success with payload", CCSuccess, 0, []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"success empty", CCSuccess, 0, nil, []byte{}},
		{"error drops payload", CCErrGeneric, 77, []byte{1, 2}, nil},
		{"accepted", CCAccepted, 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeResponse(11, TypeNetworkPort, CmdGetPowerMode, tt.cc, tt.reason, tt.payload)
			if err != nil {
				t.Fatalf("EncodeResponse() error = %v", err)
			}
			resp, err := DecodeResponse(b)
			if err != nil {
				t.Fatalf("DecodeResponse() error = %v", err)
			}
			if resp.CC != tt.cc || resp.InstanceID != 11 || resp.Command != CmdGetPowerMode {
				t.Errorf("DecodeResponse() = %+v", resp)
			}
			if !tt.cc.Success() && resp.Reason != tt.reason {
				t.Errorf("reason = %d, want %d", resp.Reason, tt.reason)
			}
			if !bytes.Equal(resp.Payload, tt.want) || (tt.want == nil) != (resp.Payload == nil) {
				t.Errorf("payload = %v, want %v", resp.Payload, tt.want)
			}
		})
	}
}

func TestDecodeResponseIntoNull(t *testing.T) {
	b, _ := EncodeResponse(0, TypeDeviceConfiguration, CmdGetFPGADiagnosticsSettings, CCSuccess, 0, make([]byte, 8)) //nolint:errcheck // fixed input
	if _, err := DecodeResponseInto(b, nil); !errors.Is(err, ErrNull) {
		t.Errorf("DecodeResponseInto(nil) error = %v, want ErrNull", err)
	}
	var ws *WPSettings
	if _, err := DecodeResponseInto(b, ws); !errors.Is(err, ErrNull) {
		t.Errorf("DecodeResponseInto(typed nil) error = %v, want ErrNull", err)
	}
	// Null wins over a short buffer.
	if _, err := DecodeResponseInto([]byte{1}, nil); !errors.Is(err, ErrNull) {
		t.Errorf("DecodeResponseInto(short, nil) error = %v, want ErrNull", err)
	}
}

func TestDecodeResponseIntoLeavesOutOnError(t *testing.T) {
	b, _ := EncodeResponse(0, TypePlatformEnvironmental, CmdGetTemperatureReading, CCDataNotAvailable, 0, nil) //nolint:errcheck // fixed input
	out := Temperature(42)
	resp, err := DecodeResponseInto(b, &out)
	if err != nil {
		t.Fatalf("DecodeResponseInto() error = %v", err)
	}
	if resp.CC != CCDataNotAvailable {
		t.Errorf("cc = %s, want DATA_NOT_AVAILABLE", resp.CC)
	}
	if out != 42 {
		t.Errorf("out = %v, want untouched 42", out)
	}
}

func TestHeaderClass(t *testing.T) {
	tests := []struct {
		h    Header
		want MessageClass
	}{
		{Header{}, ClassResponse},
		{Header{Datagram: true}, ClassEventAck},
		{Header{Request: true}, ClassRequest},
		{Header{Request: true, Datagram: true}, ClassEvent},
	}
	for _, tt := range tests {
		if got := tt.h.Class(); got != tt.want {
			t.Errorf("%+v.Class() = %s, want %s", tt.h, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	ev, err := EncodeEvent(Event{InstanceID: 4, MessageType: TypeDeviceCapabilityDiscovery, ID: EventRediscovery})
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	h, mt, err := Classify(ev)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if h.Class() != ClassEvent || mt != TypeDeviceCapabilityDiscovery || h.InstanceID != 4 {
		t.Errorf("Classify() = %+v %s", h, mt)
	}
	if _, _, err := Classify(ev[:4]); !errors.Is(err, ErrLength) {
		t.Errorf("Classify(short) error = %v, want ErrLength", err)
	}
}

func TestCompletionCodeString(t *testing.T) {
	if got := CCUnsupportedCommandCode.String(); got != "UNSUPPORTED_COMMAND_CODE" {
		t.Errorf("String() = %q", got)
	}
	if got := CompletionCode(0x42).String(); got != "CC_0x42" {
		t.Errorf("String() = %q", got)
	}
}

func TestIsUnsupported(t *testing.T) {
	if !IsUnsupported(&CommandError{CC: CCUnsupportedCommandCode}) {
		t.Error("IsUnsupported(UNSUPPORTED_COMMAND_CODE) = false")
	}
	if IsUnsupported(&CommandError{CC: CCBusy}) {
		t.Error("IsUnsupported(BUSY) = true")
	}
	if IsUnsupported(ErrLength) {
		t.Error("IsUnsupported(ErrLength) = true")
	}
}
