package xfer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

func desc(t hal.TransferType, mps uint16, interval uint8) hal.EndpointDescriptor {
	return hal.EndpointDescriptor{Address: 0x81, Attributes: uint8(t), MaxPacketSize: mps, Interval: interval}
}

// ============================================================================
// Plan Tests
// ============================================================================

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		in    PlanInput
		code  pkg.Code
		check func(t *testing.T, g Geometry)
	}{
		{
			name: "control high speed splits header and data",
			in: PlanInput{
				Type: hal.TransferControl, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferControl, 64, 0), Limits: hal.DefaultLimits,
				BufSize: 512,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 64, g.MaxPacketSize)
				assert.Equal(t, 1, g.MaxPacketCount)
				assert.Equal(t, 64, g.MaxFrameSize)
				assert.Equal(t, 2, g.Frames)
				assert.Equal(t, 2, g.MaxFrameCount)
				assert.Equal(t, 504, g.MaxDataLength)
				assert.Equal(t, 512, g.BufferSize)
				assert.Equal(t, 20480, g.MaxHCFrameSize)
			},
		},
		{
			name: "control header only",
			in: PlanInput{
				Type: hal.TransferControl, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferControl, 64, 0), Limits: hal.DefaultLimits,
				BufSize: 8,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1, g.Frames)
				assert.Equal(t, 0, g.MaxDataLength)
			},
		},
		{
			name: "control buffer smaller than header",
			in: PlanInput{
				Type: hal.TransferControl, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferControl, 64, 0), Limits: hal.DefaultLimits,
				BufSize: 4,
			},
			code: pkg.CodeInvalid,
		},
		{
			name: "full speed control snaps to table",
			in: PlanInput{
				Type: hal.TransferControl, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferControl, 40, 0), Limits: hal.DefaultLimits,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 32, g.MaxPacketSize)
				assert.Equal(t, 32, g.BufferSize)
				assert.Equal(t, 24, g.MaxDataLength)
			},
		},
		{
			name: "isochronous without frames",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferIsochronous, 1023, 1), Limits: hal.DefaultLimits,
			},
			code: pkg.CodeZeroFrames,
		},
		{
			name: "isochronous full speed frame limit",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferIsochronous, 1023, 1), Limits: hal.DefaultLimits,
				Frames: 121,
			},
			code: pkg.CodeInvalid,
		},
		{
			name: "isochronous high speed frame limit",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferIsochronous, 1024, 1), Limits: hal.DefaultLimits,
				Frames: 1024,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1024, g.Frames)
				assert.Equal(t, 1, g.NumFrBuffers)
				assert.Equal(t, 1024, g.NumFrLengths)
				assert.Equal(t, 1024*1024, g.BufferSize)
			},
		},
		{
			name: "isochronous default timeout",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferIsochronous, 192, 1), Limits: hal.DefaultLimits,
				Frames: 8, Interval: 5 * time.Millisecond,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 250*time.Millisecond, g.Timeout)
				assert.Zero(t, g.Interval)
				assert.Equal(t, 192*8, g.MaxDataLength)
			},
		},
		{
			name: "isochronous configured default timeout",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedFull,
				Descriptor: desc(hal.TransferIsochronous, 192, 1), Limits: hal.DefaultLimits,
				Frames: 8, IsoTimeout: 100 * time.Millisecond,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 100*time.Millisecond, g.Timeout)
			},
		},
		{
			name: "isochronous pre-scaled frames",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferIsochronous, 512, 1), Limits: hal.DefaultLimits,
				Frames: 4, Flags: FlagPreScaleFrames,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 0, g.FPSShift)
				assert.Equal(t, 32, g.Frames)
			},
		},
		{
			name: "low speed bulk has no packet size",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedLow,
				Descriptor: desc(hal.TransferBulk, 64, 0), Limits: hal.DefaultLimits,
			},
			code: pkg.CodeZeroMaxPacket,
		},
		{
			name: "zero packet workaround",
			in: PlanInput{
				Type: hal.TransferIsochronous, Speed: hal.SpeedLow,
				Descriptor: desc(hal.TransferIsochronous, 64, 1), Limits: hal.DefaultLimits,
				Frames: 1, BufSize: 4,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 8, g.MaxPacketSize)
				assert.Equal(t, 1, g.MaxPacketCount)
				assert.Equal(t, 8, g.MaxFrameSize)
				assert.Equal(t, 8, g.MaxDataLength)
			},
		},
		{
			name: "high speed interrupt multiplier",
			in: PlanInput{
				Type: hal.TransferInterrupt, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferInterrupt, 0x1400, 4), Limits: hal.DefaultLimits,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1024, g.MaxPacketSize)
				assert.Equal(t, 3, g.MaxPacketCount)
				assert.Equal(t, 3072, g.MaxFrameSize)
				assert.Equal(t, 3072, g.MaxDataLength)
				assert.Equal(t, time.Millisecond, g.Interval)
				assert.Equal(t, 3, g.FPSShift)
			},
		},
		{
			name: "multiplier ignored for bulk",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferBulk, 0x1200, 0), Limits: hal.DefaultLimits,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 512, g.MaxPacketSize)
				assert.Equal(t, 1, g.MaxPacketCount)
			},
		},
		{
			name: "controller packet count limit",
			in: PlanInput{
				Type: hal.TransferInterrupt, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferInterrupt, 0x1400, 1),
				Limits:     hal.Limits{MaxPacketSize: 1024, MaxPacketCount: 1},
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1, g.MaxPacketCount)
				assert.Equal(t, 1024, g.MaxHCFrameSize)
			},
		},
		{
			name: "super speed burst",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedSuper,
				Descriptor: hal.EndpointDescriptor{Address: 1, Attributes: uint8(hal.TransferBulk), MaxPacketSize: 1024, MaxBurst: 1},
				Limits:     hal.DefaultLimits,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1024, g.MaxPacketSize)
				assert.Equal(t, 2, g.MaxPacketCount)
				assert.Equal(t, 2048, g.MaxFrameSize)
			},
		},
		{
			name: "controller frame size below one frame",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferBulk, 512, 0),
				Limits:     hal.Limits{MaxPacketSize: 1024, MaxPacketCount: 1, MaxFrameSize: 100},
			},
			code: pkg.CodeInvalid,
		},
		{
			name: "proxy buffer rounds to frames",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferBulk, 512, 0), Limits: hal.DefaultLimits,
				BufSize: 1000, Flags: FlagProxyBuffer,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 1024, g.MaxDataLength)
				assert.Equal(t, 1024, g.BufferSize)
			},
		},
		{
			name: "proxy buffer keeps control header",
			in: PlanInput{
				Type: hal.TransferControl, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferControl, 64, 0), Limits: hal.DefaultLimits,
				BufSize: 100, Flags: FlagProxyBuffer,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 136, g.BufferSize)
				assert.Equal(t, 128, g.MaxDataLength)
			},
		},
		{
			name: "external buffer",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferBulk, 512, 0), Limits: hal.DefaultLimits,
				BufSize: 4096, Frames: 4, Flags: FlagExtBuffer,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Zero(t, g.BufferSize)
				assert.Equal(t, 4096, g.MaxDataLength)
				assert.Equal(t, 4, g.NumFrBuffers)
				assert.Equal(t, 4, g.NumFrLengths)
			},
		},
		{
			name: "bulk keeps configured interval",
			in: PlanInput{
				Type: hal.TransferBulk, Speed: hal.SpeedHigh,
				Descriptor: desc(hal.TransferBulk, 512, 0), Limits: hal.DefaultLimits,
				Interval: 3 * time.Millisecond, Timeout: time.Second,
			},
			check: func(t *testing.T, g Geometry) {
				assert.Equal(t, 3*time.Millisecond, g.Interval)
				assert.Equal(t, time.Second, g.Timeout)
				assert.Equal(t, 512, g.MaxDataLength)
			},
		},
		{
			name: "unknown transfer type",
			in:   PlanInput{Type: hal.TransferType(4), Speed: hal.SpeedHigh, Limits: hal.DefaultLimits},
			code: pkg.CodeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, code := Plan(tt.in)
			require.Equal(t, tt.code, code)
			if code != pkg.CodeNone {
				assert.Equal(t, 1, g.MaxPacketSize)
				assert.Equal(t, 1, g.MaxFrameSize)
				assert.Equal(t, 1, g.MaxHCFrameSize)
				assert.Zero(t, g.MaxDataLength)
				assert.Zero(t, g.Frames)
				return
			}
			if tt.check != nil {
				tt.check(t, g)
			}
		})
	}
}

func TestPlanInterruptInterval(t *testing.T) {
	tests := []struct {
		speed     hal.Speed
		bInterval uint8
		want      time.Duration
		shift     int
	}{
		{hal.SpeedFull, 0, time.Millisecond, 0},
		{hal.SpeedFull, 10, 10 * time.Millisecond, 4},
		{hal.SpeedLow, 255, 255 * time.Millisecond, 8},
		{hal.SpeedHigh, 1, time.Millisecond, 3},
		{hal.SpeedHigh, 4, time.Millisecond, 3},
		{hal.SpeedHigh, 8, 16 * time.Millisecond, 7},
		{hal.SpeedHigh, 20, 4096 * time.Millisecond, 15},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.speed, tt.bInterval), func(t *testing.T) {
			mps := uint16(64)
			if tt.speed == hal.SpeedLow {
				mps = 8
			}
			g, code := Plan(PlanInput{
				Type: hal.TransferInterrupt, Speed: tt.speed,
				Descriptor: desc(hal.TransferInterrupt, mps, tt.bInterval),
				Limits:     hal.DefaultLimits,
			})
			require.Equal(t, pkg.CodeNone, code)
			assert.Equal(t, tt.want, g.Interval)
			assert.Equal(t, tt.shift, g.FPSShift)
		})
	}
}

// TestPlanNeverDividesByZero sweeps the input space and checks that every
// result is safe to divide by, whether or not planning succeeded.
func TestPlanNeverDividesByZero(t *testing.T) {
	types := []hal.TransferType{hal.TransferControl, hal.TransferIsochronous, hal.TransferBulk, hal.TransferInterrupt}
	speeds := []hal.Speed{hal.SpeedUnknown, hal.SpeedLow, hal.SpeedFull, hal.SpeedHigh, hal.SpeedVariable, hal.SpeedSuper}
	packets := []uint16{0, 8, 64, 512, 1024, 0x1400}
	bufs := []int{0, 4, 8, 64, 1000}
	frames := []int{0, 1, 8}
	flags := []Flags{0, FlagProxyBuffer}

	for _, typ := range types {
		for _, speed := range speeds {
			for _, mps := range packets {
				for _, buf := range bufs {
					for _, nf := range frames {
						for _, fl := range flags {
							g, code := Plan(PlanInput{
								Type: typ, Speed: speed,
								Descriptor: desc(typ, mps, 1),
								Limits:     hal.DefaultLimits,
								BufSize:    buf, Frames: nf, Flags: fl,
							})
							name := fmt.Sprintf("%s/%s/mps=%d/buf=%d/frames=%d/flags=%d", typ, speed, mps, buf, nf, fl)
							require.Positive(t, g.MaxPacketSize, name)
							require.Positive(t, g.MaxFrameSize, name)
							require.Positive(t, g.MaxHCFrameSize, name)
							if code == pkg.CodeNone {
								require.Zero(t, g.MaxHCFrameSize%g.MaxFrameSize, name)
								require.Positive(t, g.Frames, name)
								require.Equal(t, g.Frames, g.MaxFrameCount, name)
								require.GreaterOrEqual(t, g.MaxDataLength, 0, name)
							}
						}
					}
				}
			}
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {1, 8}, {8, 8}, {9, 16}, {504, 504},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, alignUp(tt.in), "alignUp(%d)", tt.in)
	}
}
