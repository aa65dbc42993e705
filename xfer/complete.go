package xfer

import (
	"github.com/ardnew/usbxfer/pkg"
)

// done records the outcome of x and hands it to the dispatcher. The caller
// must hold the bus lock.
func (x *Transfer) done(code pkg.Code) {
	g := x.group

	if x.state&stTransferring == 0 {
		x.phase = PhaseAwaitingHeader
		return
	}
	if x.code == pkg.CodeNone {
		x.code = code
	}
	x.stopTimer()
	dequeue(x)

	if g.dmaQ.curr == x {
		g.dmaQ.Next()
	}

	pkg.LogDebug(pkg.ComponentTransfer, "done", "index", x.index, "code", x.code)

	g.dispatch(x)
}

// finish is the completion bookkeeping that runs before a callback. It
// returns true when the callback must wait for another completion. The
// caller must hold the bus lock.
func (x *Transfer) finish() bool {
	b := x.group.bus

	if x.state&stOpen == 0 && x.state&stDidClose == 0 {
		pkg.LogDebug(pkg.ComponentTransfer, "close", "index", x.index)
		b.drv.Close(x)
		x.state |= stDidClose
		x.done(pkg.CodeCancelled)
		return true
	}

	if x.code != pkg.CodeNone && x.state&stDidDMADelay == 0 &&
		(x.code == pkg.CodeCancelled || x.code == pkg.CodeTimeout) {
		x.state |= stDidDMADelay
		x.state &^= stCanCancelImmed
		if d := b.dmaDelay(x.group.dev); d > 0 {
			pkg.LogDebug(pkg.ComponentTransfer, "dma delay", "index", x.index, "delay", d)
			x.armTimer(d, func() { x.done(pkg.CodeNone) })
			return true
		}
	}

	if x.aframes > x.nframes {
		if x.code == pkg.CodeNone {
			pkg.LogError(pkg.ComponentTransfer, "actual frames exceed requested frames",
				"index", x.index, "actual", x.aframes, "requested", x.nframes)
		}
		x.aframes = x.nframes
	}

	x.actLen = 0
	i := 0
	for ; i < x.aframes; i++ {
		x.actLen += int(x.lengths[i])
	}
	for ; i < x.nframes; i++ {
		x.lengths[i] = 0
	}
	if x.actLen > x.sumLen {
		x.actLen = x.sumLen
	}

	bof := x.flags&FlagBlockOnFailure != 0
	if x.code != pkg.CodeNone {
		x.phase = PhaseAwaitingHeader
		if x.code != pkg.CodeCancelled && bof {
			pkg.LogDebug(pkg.ComponentEndpoint, "block on failure", "address", x.ep.desc.Address)
			return false
		}
	} else if x.actLen < x.sumLen {
		x.phase = PhaseAwaitingHeader
		if x.state&stShortXferOK == 0 {
			x.code = pkg.CodeShortTransfer
			if bof {
				pkg.LogDebug(pkg.ComponentEndpoint, "block on short transfer", "address", x.ep.desc.Address)
				return false
			}
		}
	} else if x.phase == PhaseData {
		return false
	} else {
		x.phase = PhaseAwaitingHeader
	}

	ep := x.ep
	if ep.q.curr == x {
		ep.q.Next()
		if ep.q.Empty() {
			ep.synced = false
		}
	}
	return false
}
