package passthrough

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
	"github.com/nerrad567/nsm-core/internal/requester"
)

type fakeTry struct {
	eid  uint8
	resp *nsm.Response
	err  error
}

func (f *fakeTry) TryExchange(_ context.Context, eid uint8, _ nsm.MessageType, _ uint8, _ []byte) (*nsm.Response, error) {
	f.eid = eid
	return f.resp, f.err
}

func newRegistry(t *testing.T) *device.Registry {
	t.Helper()
	reg := device.NewRegistry(nil)
	dev, err := reg.Register("gpu-0")
	if err != nil {
		t.Fatal(err)
	}
	reg.SetEID(dev, 21)
	return reg
}

func TestExecute(t *testing.T) {
	tests := []struct {
		name    string
		resp    *nsm.Response
		err     error
		wantCC  nsm.CompletionCode
		wantErr error
	}{
		{
			name:   "success",
			resp:   &nsm.Response{MessageType: nsm.TypePlatformEnvironmental, Command: 0x00, CC: nsm.CCSuccess, Payload: []byte{1, 2}},
			wantCC: nsm.CCSuccess,
		},
		{
			name:   "unsupported is a result",
			resp:   &nsm.Response{MessageType: nsm.TypePlatformEnvironmental, Command: 0x7F, CC: nsm.CCUnsupportedCommandCode},
			wantCC: nsm.CCUnsupportedCommandCode,
		},
		{
			name:    "busy",
			err:     requester.ErrBusy,
			wantErr: requester.ErrBusy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeTry{resp: tt.resp, err: tt.err}
			res, err := New(newRegistry(t), ex).Execute(context.Background(), "gpu-0", nsm.TypePlatformEnvironmental, 0x7F, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.wantErr)
			}
			if ex.eid != 21 {
				t.Errorf("sent to eid %d, want 21", ex.eid)
			}
			if tt.wantErr == nil && (res.CC != tt.wantCC || res.CCName != tt.wantCC.String()) {
				t.Errorf("Result = %+v", res)
			}
		})
	}
}

func TestExecuteUnknownDevice(t *testing.T) {
	_, err := New(newRegistry(t), &fakeTry{}).Execute(context.Background(), "nope", 0, 0, nil)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Execute() error = %v", err)
	}
}
