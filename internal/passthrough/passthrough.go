// Package passthrough sends raw NSM commands on behalf of an operator.
//
// Passthrough calls never wait behind other traffic: when the device has
// an exchange in flight the call fails with requester.ErrBusy. A
// non-success completion code, including UNSUPPORTED_COMMAND_CODE, is a
// normal result.
package passthrough

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/nsm-core/internal/device"
	"github.com/nerrad567/nsm-core/internal/nsm"
)

// ErrDeviceNotFound is returned for an unknown device UUID.
var ErrDeviceNotFound = errors.New("passthrough: device not found")

// TryExchanger performs an exchange only when the endpoint is idle.
type TryExchanger interface {
	TryExchange(ctx context.Context, eid uint8, msgType nsm.MessageType, command uint8, payload []byte) (*nsm.Response, error)
}

// DeviceFinder looks devices up by UUID.
type DeviceFinder interface {
	FindByUUID(uuid string) (*device.Device, bool)
}

// Result is the raw outcome of a passthrough command.
type Result struct {
	MessageType nsm.MessageType    `json:"message_type"`
	Command     uint8              `json:"command"`
	CC          nsm.CompletionCode `json:"cc"`
	CCName      string             `json:"cc_name"`
	Reason      uint16             `json:"reason_code,omitempty"`
	Payload     []byte             `json:"payload,omitempty"`
}

// Executor runs passthrough commands.
type Executor struct {
	devices DeviceFinder
	ex      TryExchanger
}

// New creates an Executor.
func New(devices DeviceFinder, ex TryExchanger) *Executor {
	return &Executor{devices: devices, ex: ex}
}

// Execute sends one raw command to the device with uuid.
//
// Returns:
//   - Result: completion code, reason code and payload as received
//   - error: ErrDeviceNotFound, requester.ErrBusy, or a transport error
func (e *Executor) Execute(ctx context.Context, uuid string, msgType nsm.MessageType, command uint8, payload []byte) (Result, error) {
	dev, ok := e.devices.FindByUUID(uuid)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, uuid)
	}
	resp, err := e.ex.TryExchange(ctx, dev.EID(), msgType, command, payload)
	if err != nil {
		return Result{}, err
	}
	return Result{
		MessageType: resp.MessageType,
		Command:     resp.Command,
		CC:          resp.CC,
		CCName:      resp.CC.String(),
		Reason:      resp.Reason,
		Payload:     resp.Payload,
	}, nil
}
