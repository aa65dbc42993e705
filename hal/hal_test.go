package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Speed Tests
// =============================================================================

func TestSpeed_String(t *testing.T) {
	tests := []struct {
		speed    Speed
		expected string
	}{
		{SpeedUnknown, "Unknown"},
		{SpeedLow, "Low Speed"},
		{SpeedFull, "Full Speed"},
		{SpeedHigh, "High Speed"},
		{SpeedVariable, "Variable Speed"},
		{SpeedSuper, "Super Speed"},
		{Speed(255), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.speed.String(); got != tt.expected {
				t.Errorf("Speed(%d).String() = %q, want %q", tt.speed, got, tt.expected)
			}
		})
	}
}

func TestSpeed_IsClassic(t *testing.T) {
	assert.True(t, SpeedLow.IsClassic())
	assert.True(t, SpeedFull.IsClassic())
	assert.False(t, SpeedHigh.IsClassic())
	assert.False(t, SpeedSuper.IsClassic())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "host", ModeHost.String())
	assert.Equal(t, "device", ModeDevice.String())
}

// =============================================================================
// TransferType Tests
// =============================================================================

func TestTransferType_String(t *testing.T) {
	tests := []struct {
		tt   TransferType
		want string
	}{
		{TransferControl, "control"},
		{TransferIsochronous, "isochronous"},
		{TransferBulk, "bulk"},
		{TransferInterrupt, "interrupt"},
		{TransferType(9), "type(9)"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.tt.String())
		})
	}
}

// =============================================================================
// EndpointDescriptor Tests
// =============================================================================

func TestEndpointDescriptor(t *testing.T) {
	tests := []struct {
		name   string
		desc   EndpointDescriptor
		number uint8
		in     bool
		typ    TransferType
	}{
		{"bulk in 1", EndpointDescriptor{Address: 0x81, Attributes: 0x02}, 1, true, TransferBulk},
		{"bulk out 2", EndpointDescriptor{Address: 0x02, Attributes: 0x02}, 2, false, TransferBulk},
		{"interrupt in 3", EndpointDescriptor{Address: 0x83, Attributes: 0x03}, 3, true, TransferInterrupt},
		{"iso out 15", EndpointDescriptor{Address: 0x0F, Attributes: 0x05}, 15, false, TransferIsochronous},
		{"control 0", EndpointDescriptor{Address: 0x00, Attributes: 0x00}, 0, false, TransferControl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.number, tt.desc.Number())
			assert.Equal(t, tt.in, tt.desc.IsIn())
			assert.Equal(t, tt.typ, tt.desc.TransferType())
		})
	}
}

// =============================================================================
// SetupPacket Tests
// =============================================================================

func TestParseSetupPacket(t *testing.T) {
	data := []byte{
		0x80,       // RequestType (Device-to-Host, Standard, Device)
		0x06,       // Request (GET_DESCRIPTOR)
		0x00, 0x01, // Value (Device Descriptor)
		0x00, 0x00, // Index
		0x12, 0x00, // Length (18)
	}

	var setup SetupPacket
	require.True(t, ParseSetupPacket(data, &setup))

	assert.Equal(t, uint8(0x80), setup.RequestType)
	assert.Equal(t, uint8(0x06), setup.Request)
	assert.Equal(t, uint16(0x0100), setup.Value)
	assert.Equal(t, uint16(0), setup.Index)
	assert.Equal(t, uint16(18), setup.Length)
	assert.True(t, setup.IsIn())
}

func TestParseSetupPacket_TooShort(t *testing.T) {
	var setup SetupPacket
	if ParseSetupPacket([]byte{0x80, 0x06, 0x00}, &setup) {
		t.Error("ParseSetupPacket should fail on short input")
	}
}

func TestSetupPacket_MarshalTo(t *testing.T) {
	setup := SetupPacket{
		RequestType: 0x21,
		Request:     0x09,
		Value:       0x0200,
		Index:       0x0001,
		Length:      0x0040,
	}

	buf := make([]byte, SetupPacketSize)
	require.Equal(t, SetupPacketSize, setup.MarshalTo(buf))
	assert.Equal(t, []byte{0x21, 0x09, 0x00, 0x02, 0x01, 0x00, 0x40, 0x00}, buf)

	var back SetupPacket
	require.True(t, ParseSetupPacket(buf, &back))
	assert.Equal(t, setup, back)
	assert.False(t, back.IsIn())

	assert.Equal(t, 0, setup.MarshalTo(make([]byte, 4)))
}

func TestClearHaltSetup(t *testing.T) {
	var setup SetupPacket
	ClearHaltSetup(&setup, 0x81)

	buf := make([]byte, SetupPacketSize)
	setup.MarshalTo(buf)
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00, 0x81, 0x00, 0x00, 0x00}, buf)
}
