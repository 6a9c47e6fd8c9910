package nsm

import "fmt"

// Protocol constants.
const (
	// VendorID is the PCI vendor tag carried in every header.
	VendorID uint16 = 0x10DE

	// OCPType and OCPVersion fill the second packed header byte.
	OCPType    uint8 = 8
	OCPVersion uint8 = 9

	// MCTPMessageType is the MCTP vendor-defined PCI message type that
	// carries NSM on the transport.
	MCTPMessageType uint8 = 0x7E

	// MaxInstanceID is the highest value of the 5-bit instance id.
	MaxInstanceID uint8 = 0x1F
)

// Wire sizes.
const (
	HeaderSize = 4

	// RequestMinSize is header + message type + command + data_size.
	RequestMinSize = HeaderSize + 4

	// ResponseMinSize is header + message type + command + cc + reason.
	// This is the complete size of a non-success response.
	ResponseMinSize = HeaderSize + 5

	// ResponseSuccessMinSize adds data_size to a success response.
	ResponseSuccessMinSize = ResponseMinSize + 2

	// EventMinSize is header + message type + flags + event id + class +
	// state(2) + data_size(1).
	EventMinSize = HeaderSize + 7
)

// MessageType is the NSM functional group of a command.
type MessageType uint8

// Message types.
const (
	TypeDeviceCapabilityDiscovery MessageType = 0
	TypeNetworkPort               MessageType = 1
	TypePCILink                   MessageType = 2
	TypePlatformEnvironmental     MessageType = 3
	TypeDiagnostic                MessageType = 4
	TypeDeviceConfiguration       MessageType = 5
	TypeFirmware                  MessageType = 6
)

// String returns a short name for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeDeviceCapabilityDiscovery:
		return "discovery"
	case TypeNetworkPort:
		return "network-port"
	case TypePCILink:
		return "pci-link"
	case TypePlatformEnvironmental:
		return "platform-environmental"
	case TypeDiagnostic:
		return "diagnostic"
	case TypeDeviceConfiguration:
		return "device-configuration"
	case TypeFirmware:
		return "firmware"
	default:
		return fmt.Sprintf("type-%d", uint8(t))
	}
}

// CompletionCode is the device-reported outcome of a command.
type CompletionCode uint8

// Completion codes.
const (
	CCSuccess                CompletionCode = 0x00
	CCAccepted               CompletionCode = 0x01
	CCErrGeneric             CompletionCode = 0x02
	CCNotReady               CompletionCode = 0x03
	CCErrRequest             CompletionCode = 0x04
	CCUnsupportedMsgType     CompletionCode = 0x05
	CCUnsupportedCommandCode CompletionCode = 0x06
	CCInvalidDataSize        CompletionCode = 0x07
	CCInvalidArg1            CompletionCode = 0x08
	CCInvalidArg2            CompletionCode = 0x09
	CCInvalidData            CompletionCode = 0x0A
	CCBusy                   CompletionCode = 0x0B
	CCDataNotAvailable       CompletionCode = 0x0C
	CCBusAccess              CompletionCode = 0x0D
	CCAgain                  CompletionCode = 0x0E
	CCPartialSuccess         CompletionCode = 0x0F
)

var ccNames = map[CompletionCode]string{
	CCSuccess:                "SUCCESS",
	CCAccepted:               "ACCEPTED",
	CCErrGeneric:             "ERR_GENERIC",
	CCNotReady:               "NOT_READY",
	CCErrRequest:             "ERR_REQUEST",
	CCUnsupportedMsgType:     "UNSUPPORTED_MSG_TYPE",
	CCUnsupportedCommandCode: "UNSUPPORTED_COMMAND_CODE",
	CCInvalidDataSize:        "INVALID_DATA_SIZE",
	CCInvalidArg1:            "INVALID_ARG1",
	CCInvalidArg2:            "INVALID_ARG2",
	CCInvalidData:            "INVALID_DATA",
	CCBusy:                   "BUSY",
	CCDataNotAvailable:       "DATA_NOT_AVAILABLE",
	CCBusAccess:              "BUS_ACCESS",
	CCAgain:                  "AGAIN",
	CCPartialSuccess:         "PARTIAL_SUCCESS",
}

func (c CompletionCode) String() string {
	if n, ok := ccNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CC_0x%02X", uint8(c))
}

// Success reports whether the response carries a data payload.
func (c CompletionCode) Success() bool {
	return c == CCSuccess
}

// DeviceIdentification is the hardware class reported by
// QueryDeviceIdentification.
type DeviceIdentification uint8

// Device identifications.
const (
	DeviceGPU        DeviceIdentification = 0
	DeviceSwitch     DeviceIdentification = 1
	DevicePCIeBridge DeviceIdentification = 2
	DeviceBaseboard  DeviceIdentification = 3
	DeviceUnknown    DeviceIdentification = 0xFF
)

func (d DeviceIdentification) String() string {
	switch d {
	case DeviceGPU:
		return "gpu"
	case DeviceSwitch:
		return "switch"
	case DevicePCIeBridge:
		return "pcie-bridge"
	case DeviceBaseboard:
		return "baseboard"
	default:
		return "unknown"
	}
}

// ParseDeviceIdentification maps a config name back to its identification.
func ParseDeviceIdentification(s string) (DeviceIdentification, error) {
	switch s {
	case "gpu":
		return DeviceGPU, nil
	case "switch":
		return DeviceSwitch, nil
	case "pcie-bridge":
		return DevicePCIeBridge, nil
	case "baseboard":
		return DeviceBaseboard, nil
	case "unknown", "":
		return DeviceUnknown, nil
	default:
		return DeviceUnknown, fmt.Errorf("%w: device identification %q", ErrData, s)
	}
}
