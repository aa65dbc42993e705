package xfer

import (
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// Layout constants.
const (
	// headerSize is the size of the control request header carried in frame 0.
	headerSize = hal.SetupPacketSize

	// minPacket is the packet size used by the zero-packet workaround.
	minPacket = 8

	// bufferAlign is the alignment of every local buffer carved from the arena.
	bufferAlign = 8

	// Per-transfer isochronous frame limits.
	maxClassicIsoFrames = 120
	maxHighIsoFrames    = 1024

	isoDefaultTimeout = 250 * time.Millisecond
)

// packetRule is one entry in the standard packet size table. Range entries
// clamp into [min, max]; fixed entries snap down to one of four sizes.
type packetRule struct {
	isRange  bool
	min, max int
	fixed    [4]int
}

func rangeRule(min, max int) packetRule { return packetRule{isRange: true, min: min, max: max} }
func fixedRule(a, b, c, d int) packetRule {
	return packetRule{fixed: [4]int{a, b, c, d}}
}

// stdPacketRules is indexed by [transfer type][speed]. Unknown speed has the
// zero rule, which reduces every packet size to zero.
var stdPacketRules = [4][6]packetRule{
	hal.TransferControl: {
		hal.SpeedLow:      fixedRule(8, 8, 8, 8),
		hal.SpeedFull:     fixedRule(8, 16, 32, 64),
		hal.SpeedHigh:     fixedRule(64, 64, 64, 64),
		hal.SpeedVariable: fixedRule(512, 512, 512, 512),
		hal.SpeedSuper:    fixedRule(512, 512, 512, 512),
	},
	hal.TransferIsochronous: {
		hal.SpeedLow:      rangeRule(0, 0),
		hal.SpeedFull:     rangeRule(0, 1023),
		hal.SpeedHigh:     rangeRule(0, 1024),
		hal.SpeedVariable: rangeRule(0, 3584),
		hal.SpeedSuper:    rangeRule(0, 1024),
	},
	hal.TransferBulk: {
		hal.SpeedLow:      fixedRule(0, 0, 0, 0),
		hal.SpeedFull:     fixedRule(8, 16, 32, 64),
		hal.SpeedHigh:     fixedRule(512, 512, 512, 512),
		hal.SpeedVariable: fixedRule(512, 512, 1024, 1536),
		hal.SpeedSuper:    fixedRule(1024, 1024, 1024, 1024),
	},
	hal.TransferInterrupt: {
		hal.SpeedLow:      rangeRule(0, 8),
		hal.SpeedFull:     rangeRule(0, 64),
		hal.SpeedHigh:     rangeRule(0, 1024),
		hal.SpeedVariable: rangeRule(0, 1024),
		hal.SpeedSuper:    rangeRule(0, 1024),
	},
}

func (r packetRule) apply(mps int) int {
	if r.isRange {
		if mps < r.min {
			return r.min
		}
		if mps > r.max {
			return r.max
		}
		return mps
	}
	switch {
	case mps >= r.fixed[3]:
		return r.fixed[3]
	case mps >= r.fixed[2]:
		return r.fixed[2]
	case mps >= r.fixed[1]:
		return r.fixed[1]
	default:
		return r.fixed[0]
	}
}

// PlanInput is everything the planner needs to size one transfer.
type PlanInput struct {
	Type       hal.TransferType
	Speed      hal.Speed
	Descriptor hal.EndpointDescriptor
	Limits     hal.Limits

	BufSize  int           // Requested buffer size, 0 for automatic
	Frames   int           // Requested frame count, 0 for automatic
	Interval time.Duration // Requested interval, 0 to derive from the descriptor
	Timeout  time.Duration // Requested timeout

	// IsoTimeout replaces a zero isochronous timeout. Zero selects 250 ms.
	IsoTimeout time.Duration

	Flags Flags
}

// Geometry is the frozen packet and buffer layout of a transfer.
type Geometry struct {
	MaxPacketSize  int // Bytes per packet
	MaxPacketCount int // Packets per (micro)frame
	MaxFrameSize   int // MaxPacketSize * MaxPacketCount
	MaxHCFrameSize int // Largest whole multiple of MaxFrameSize the controller moves at once
	MaxDataLength  int // Payload capacity, excluding the control header
	MaxFrameCount  int // Frames allocated at setup
	Frames         int // Default frame count for each submission

	Interval time.Duration // Polling interval or pre-start delay
	Timeout  time.Duration
	FPSShift int // log2 of the service interval in (micro)frames

	BufferSize   int // Local buffer bytes, including the control header
	NumFrLengths int // Frame length slots
	NumFrBuffers int // Frame buffer slots
}

// placeholder forces the geometry to values that are safe to divide by.
func (g *Geometry) placeholder() {
	g.MaxHCFrameSize = 1
	g.MaxFrameSize = 1
	g.MaxPacketSize = 1
	g.MaxDataLength = 0
	g.Frames = 0
	g.MaxFrameCount = 0
}

// Plan computes the geometry of a transfer. It is a pure function of its
// input. On error the returned geometry carries placeholder values and the
// code reports why.
func Plan(in PlanInput) (g Geometry, code pkg.Code) {
	defer func() {
		if code != pkg.CodeNone {
			g.placeholder()
			pkg.LogDebug(pkg.ComponentGeometry, "plan failed",
				"type", in.Type, "speed", in.Speed, "code", code)
		}
	}()

	if in.Type > hal.TransferInterrupt || in.BufSize < 0 || in.Frames < 0 {
		return g, pkg.CodeInvalid
	}

	g.Frames = in.Frames
	g.Interval = in.Interval
	g.Timeout = in.Timeout
	bufSize := in.BufSize

	g.MaxPacketSize = int(in.Descriptor.MaxPacketSize)
	g.MaxPacketCount = 1

	switch in.Speed {
	case hal.SpeedHigh, hal.SpeedVariable:
		if in.Type == hal.TransferIsochronous || in.Type == hal.TransferInterrupt {
			g.MaxPacketCount += (g.MaxPacketSize >> 11) & 3
			if g.MaxPacketCount > 3 {
				g.MaxPacketCount = 3
			}
		}
		g.MaxPacketSize &= 0x7FF
	case hal.SpeedSuper:
		g.MaxPacketCount += int(in.Descriptor.MaxBurst)
		if g.MaxPacketCount > 16 {
			g.MaxPacketCount = 16
		}
		switch in.Type {
		case hal.TransferControl:
			g.MaxPacketCount = 1
		case hal.TransferIsochronous:
			mult := int(in.Descriptor.Mult) + 1
			if mult > 3 {
				mult = 3
			}
			g.MaxPacketCount *= mult
		}
		g.MaxPacketSize &= 0x7FF
	}

	if in.Limits.MaxPacketCount > 0 && g.MaxPacketCount > in.Limits.MaxPacketCount {
		g.MaxPacketCount = in.Limits.MaxPacketCount
	}
	before := g.MaxPacketSize
	if g.MaxPacketSize > in.Limits.MaxPacketSize || g.MaxPacketSize == 0 {
		g.MaxPacketSize = in.Limits.MaxPacketSize
	}
	if int(in.Speed) < len(stdPacketRules[in.Type]) {
		g.MaxPacketSize = stdPacketRules[in.Type][in.Speed].apply(g.MaxPacketSize)
	} else {
		g.MaxPacketSize = 0
	}
	if g.MaxPacketSize != before {
		pkg.LogDebug(pkg.ComponentGeometry, "max packet size changed",
			"from", before, "to", g.MaxPacketSize)
	}
	g.MaxFrameSize = g.MaxPacketSize * g.MaxPacketCount

	if in.Type == hal.TransferIsochronous {
		g.Interval = 0
		if g.Timeout == 0 {
			g.Timeout = in.IsoTimeout
			if g.Timeout == 0 {
				g.Timeout = isoDefaultTimeout
			}
		}
		limit := maxHighIsoFrames
		if in.Speed.IsClassic() {
			limit = maxClassicIsoFrames
		} else {
			g.FPSShift = int(in.Descriptor.Interval)
			if g.FPSShift > 0 {
				g.FPSShift--
			}
			if g.FPSShift > 3 {
				g.FPSShift = 3
			}
			if in.Flags&FlagPreScaleFrames != 0 {
				g.Frames <<= 3 - g.FPSShift
			}
		}
		if g.Frames > limit {
			return g, pkg.CodeInvalid
		}
		if g.Frames == 0 {
			return g, pkg.CodeZeroFrames
		}
	} else if in.Type == hal.TransferInterrupt {
		if g.Interval == 0 {
			g.Interval = time.Duration(interruptInterval(in.Speed, in.Descriptor.Interval)) * time.Millisecond
		}
		if g.Interval < time.Millisecond {
			g.Interval = time.Millisecond
		}
		ms := int(g.Interval / time.Millisecond)
		for t := 1; t < ms; t *= 2 {
			g.FPSShift++
		}
		if !in.Speed.IsClassic() {
			g.FPSShift += 3
		}
	}

	if g.MaxFrameSize == 0 || g.MaxPacketSize == 0 {
		if bufSize <= minPacket && in.Type != hal.TransferControl && in.Type != hal.TransferBulk {
			g.MaxPacketSize = minPacket
			g.MaxPacketCount = 1
			bufSize = 0
			g.MaxFrameSize = g.MaxPacketSize * g.MaxPacketCount
		} else {
			return g, pkg.CodeZeroMaxPacket
		}
	}

	if in.Limits.MaxFrameSize > 0 {
		g.MaxHCFrameSize = in.Limits.MaxFrameSize - in.Limits.MaxFrameSize%g.MaxFrameSize
		if g.MaxHCFrameSize == 0 {
			return g, pkg.CodeInvalid
		}
	} else {
		g.MaxHCFrameSize = g.MaxFrameSize
	}

	if bufSize == 0 {
		bufSize = g.MaxFrameSize
		if in.Type == hal.TransferIsochronous {
			bufSize *= g.Frames
		}
	}

	if in.Flags&FlagProxyBuffer != 0 {
		rounded := bufSize + g.MaxFrameSize - 1
		if rounded < bufSize {
			return g, pkg.CodeInvalid
		}
		bufSize = rounded - rounded%g.MaxFrameSize
		if in.Type == hal.TransferControl {
			bufSize += headerSize
		}
	}

	g.MaxDataLength = bufSize

	if in.Type == hal.TransferIsochronous {
		g.NumFrLengths = g.Frames
		g.NumFrBuffers = 1
	} else {
		if g.Frames == 0 {
			g.Frames = 1
			if in.Type == hal.TransferControl && bufSize > headerSize {
				g.Frames = 2
			}
		}
		g.NumFrLengths = g.Frames
		g.NumFrBuffers = g.Frames
	}

	if in.Type == hal.TransferControl {
		if g.MaxDataLength < headerSize {
			return g, pkg.CodeInvalid
		}
		g.MaxDataLength -= headerSize
	}

	g.MaxFrameCount = g.Frames
	if in.Flags&FlagExtBuffer == 0 {
		g.BufferSize = bufSize
	}
	return g, pkg.CodeNone
}

// interruptInterval converts a descriptor bInterval into milliseconds. Above
// full speed the descriptor holds an exponent in 125 us units.
func interruptInterval(speed hal.Speed, bInterval uint8) int {
	e := int(bInterval)
	if speed.IsClassic() {
		return e
	}
	switch {
	case e < 4:
		return 1
	case e > 16:
		return 1 << (16 - 4)
	default:
		return 1 << (e - 4)
	}
}

// alignUp rounds n up to a multiple of bufferAlign.
func alignUp(n int) int {
	return (n + bufferAlign - 1) &^ (bufferAlign - 1)
}
