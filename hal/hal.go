package hal

import "fmt"

// Speed represents the negotiated bus speed of a device.
type Speed uint8

// USB speed constants.
const (
	SpeedUnknown  Speed = iota // Not connected or unknown
	SpeedLow                   // Low Speed (1.5 Mbit/s)
	SpeedFull                  // Full Speed (12 Mbit/s)
	SpeedHigh                  // High Speed (480 Mbit/s)
	SpeedVariable              // Wireless, variable rate
	SpeedSuper                 // Super Speed (5 Gbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	case SpeedVariable:
		return "Variable Speed"
	case SpeedSuper:
		return "Super Speed"
	default:
		return "Unknown"
	}
}

// IsClassic reports whether the speed is a low/full speed class, which
// schedules in 1 ms frames instead of 125 us micro-frames.
func (s Speed) IsClassic() bool {
	return s == SpeedLow || s == SpeedFull
}

// Mode selects which side of the bus the controller plays.
type Mode uint8

// Controller modes.
const (
	ModeHost   Mode = iota // Controller drives the bus
	ModeDevice             // Controller is the peripheral
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeDevice {
		return "device"
	}
	return "host"
}

// TransferType indicates the type of USB transfer.
type TransferType uint8

// Transfer type constants.
const (
	TransferControl     TransferType = 0 // Control transfer
	TransferIsochronous TransferType = 1 // Isochronous transfer
	TransferBulk        TransferType = 2 // Bulk transfer
	TransferInterrupt   TransferType = 3 // Interrupt transfer
)

// String returns a lowercase transfer type name.
func (t TransferType) String() string {
	switch t {
	case TransferControl:
		return "control"
	case TransferIsochronous:
		return "isochronous"
	case TransferBulk:
		return "bulk"
	case TransferInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Endpoint address bits.
const (
	EndpointDirIn      = 0x80 // Device to host
	EndpointDirOut     = 0x00 // Host to device
	EndpointNumberMask = 0x0F
)

// EndpointDescriptor describes an endpoint as advertised by the device.
type EndpointDescriptor struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // wMaxPacketSize, including high-speed multiplier bits
	Interval      uint8  // bInterval

	// Super speed endpoint companion fields.
	MaxBurst uint8 // Additional packets per service interval
	Mult     uint8 // Isochronous burst multiplier minus one
}

// Number returns the endpoint number (0-15).
func (e *EndpointDescriptor) Number() uint8 {
	return e.Address & EndpointNumberMask
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointDescriptor) IsIn() bool {
	return e.Address&EndpointDirIn != 0
}

// TransferType returns the transfer type.
func (e *EndpointDescriptor) TransferType() TransferType {
	return TransferType(e.Attributes & 0x03)
}

// Limits are the packet limits advertised by a controller.
type Limits struct {
	MaxPacketSize  int // Largest packet the controller can move
	MaxPacketCount int // Largest packets-per-frame multiplier
	MaxFrameSize   int // Largest single hardware frame, 0 for no limit
}

// DefaultLimits are typical high speed controller limits.
var DefaultLimits = Limits{MaxPacketSize: 1024, MaxPacketCount: 3, MaxFrameSize: 20 * 1024}

// SetupPacket is the 8-byte control transfer request header.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes in the data stage
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// Request type bits (bmRequestType).
const (
	RequestTypeIn       = 0x80 // Device to host
	RequestTypeEndpoint = 0x02 // Recipient: endpoint
)

// Standard requests and features used by the engine.
const (
	RequestClearFeature = 0x01
	FeatureEndpointHalt = 0x00
)

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// IsIn reports whether the data stage moves device to host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&RequestTypeIn != 0
}

// ClearHaltSetup fills s with a standard CLEAR_FEATURE(ENDPOINT_HALT)
// request for the endpoint address.
func ClearHaltSetup(s *SetupPacket, endpointAddress uint8) {
	s.RequestType = RequestTypeEndpoint
	s.Request = RequestClearFeature
	s.Value = FeatureEndpointHalt
	s.Index = uint16(endpointAddress)
	s.Length = 0
}
