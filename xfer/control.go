package xfer

import (
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// controlInit decodes the request header in frame 0 into the remaining
// length and data direction.
func (x *Transfer) controlInit() {
	var req hal.SetupPacket
	hal.ParseSetupPacket(x.frames[0].data, &req)
	x.ctrlRem = int(req.Length)
	x.dirIn = req.IsIn()
}

// controlDidData reports whether any data stage bytes have moved since the
// header.
func (x *Transfer) controlDidData() bool {
	if x.ctrlHdr {
		return false
	}
	var req hal.SetupPacket
	hal.ParseSetupPacket(x.frames[0].data, &req)
	return x.ctrlRem != int(req.Length)
}

// setupControl advances the control sequence for a submission. It returns
// false when the submission does not fit the sequence.
func (x *Transfer) setupControl() bool {
	active := x.phase == PhaseData

	if x.flags&FlagStallPipe != 0 && active {
		x.ctrlStall = true
		x.phase = PhaseAwaitingHeader
		active = false
	} else {
		x.ctrlStall = false
	}

	if x.nframes > 2 {
		pkg.LogWarn(pkg.ComponentControl, "too many frames", "index", x.index, "frames", x.nframes)
		return false
	}

	var n int
	if active {
		if x.ctrlHdr {
			x.ctrlHdr = false
			if x.group.dev.mode == hal.ModeDevice {
				x.controlInit()
			}
		}
		n = x.sumLen
	} else {
		if x.lengths[0] != headerSize {
			pkg.LogWarn(pkg.ComponentControl, "wrong header length", "index", x.index, "length", x.lengths[0])
			return false
		}
		if x.group.dev.mode == hal.ModeDevice {
			if x.nframes != 1 {
				pkg.LogWarn(pkg.ComponentControl, "header must be received alone", "index", x.index)
				return false
			}
			x.ctrlRem = 0xFFFF
		} else {
			x.controlInit()
		}
		x.ctrlHdr = true
		n = x.sumLen - headerSize
	}

	x.ctrlDidData = x.controlDidData()

	if n > x.ctrlRem {
		pkg.LogWarn(pkg.ComponentControl, "length exceeds remaining",
			"index", x.index, "length", n, "remaining", x.ctrlRem)
		return false
	}

	if x.flags&FlagForceShortXfer != 0 {
		x.ctrlRem = 0
	} else {
		if n != x.geom.MaxDataLength && n != x.ctrlRem && x.nframes != 1 {
			pkg.LogWarn(pkg.ComponentControl, "short control transfer without force short",
				"index", x.index, "length", n)
			return false
		}
		x.ctrlRem -= n
	}

	if x.ctrlRem > 0 || x.flags&FlagManualStatus != 0 {
		x.phase = PhaseData
	} else {
		x.phase = PhaseStatus
	}
	return true
}
