package xfer

import (
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// Submit queues the transfer on its endpoint. The frame count and frame
// lengths set since the last completion describe what to move. Every
// submission ends in exactly one callback.
//
// The caller must hold the client lock, typically by calling Submit from
// the transfer callback.
func (x *Transfer) Submit() {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	x.submitLocked()
}

func (x *Transfer) submitLocked() {
	g := x.group
	drv := g.bus.drv

	if x.state&stOpen == 0 {
		x.state |= stOpen
		pkg.LogDebug(pkg.ComponentTransfer, "open", "index", x.index, "endpoint", x.ep.desc.Address)
		drv.Open(x)
	}
	x.state |= stTransferring
	dequeue(x)

	x.state &^= stDidDMADelay | stDidClose | stBDMASetup | stCanCancelImmed
	x.sumLen = 0
	x.actLen = 0
	x.aframes = 0
	x.code = pkg.CodeNone
	x.submitted = time.Now()

	if g.dev.gone {
		x.done(pkg.CodeCancelled)
		return
	}

	if x.nframes == 0 {
		if x.flags&FlagStallPipe != 0 {
			pkg.LogDebug(pkg.ComponentTransfer, "stall request", "index", x.index)
			x.state |= stCanCancelImmed
			x.ep.q.EnqueueOrRun(x)
			return
		}
		x.done(pkg.CodeInvalid)
		return
	}

	var sum uint32
	for i := 0; i < x.nframes; i++ {
		n := x.lengths[i]
		x.shadow[i] = n
		sum += n
		if sum < n {
			x.done(pkg.CodeInvalid)
			return
		}
	}
	x.sumLen = int(sum)

	x.state &^= stShortXferOK | stShortFramesOK

	if x.typ == hal.TransferControl && !x.setupControl() {
		x.done(pkg.CodeInvalid)
		return
	}

	if x.IsRead() {
		if x.flags&FlagShortFramesOK != 0 {
			x.state |= stShortXferOK | stShortFramesOK
		} else if x.flags&FlagShortXferOK != 0 {
			x.state |= stShortXferOK
			if x.typ == hal.TransferControl {
				x.state |= stShortFramesOK
			}
		}
	}

	if x.state&stBDMAEnable != 0 {
		g.dmaQ.EnqueueOrRun(x)
		return
	}
	x.pipeEnter()
}

// dmaLoad is the command of a group's DMA queue: it maps the current
// transfer, releases the queue and enters the transfer into the schedule.
func dmaLoad(q *WorkQueue) {
	x := q.curr
	if x.code != pkg.CodeNone {
		x.done(pkg.CodeNone)
		return
	}
	if x.state&stBDMASetup == 0 {
		x.state |= stBDMASetup
		loader := x.group.bus.drv.(DMALoader)
		if err := loader.LoadDMA(x); err != nil {
			pkg.LogWarn(pkg.ComponentTransfer, "dma load failed", "index", x.index, "error", err)
			x.done(pkg.CodeOf(err))
			return
		}
	}
	q.Next()
	x.pipeEnter()
}

// pipeEnter claims a schedule slot and queues x on its endpoint.
func (x *Transfer) pipeEnter() {
	x.state |= stCanCancelImmed
	x.group.bus.drv.Enter(x)
	if x.code != pkg.CodeNone {
		x.done(pkg.CodeNone)
		return
	}
	x.ep.q.EnqueueOrRun(x)
}

// pipeStart is the command of every endpoint queue.
func pipeStart(q *WorkQueue) {
	x := q.curr
	ep := x.ep
	dev := x.group.dev
	b := x.group.bus

	if ep.stalled {
		return
	}

	if x.flags&FlagStallPipe != 0 {
		x.flags &^= FlagStallPipe
		switch ep.Type() {
		case hal.TransferBulk, hal.TransferInterrupt:
			didStall := true
			if dev.mode == hal.ModeDevice {
				didStall = b.drv.SetStall(dev, ep)
			} else {
				x.group.signalStall(ep)
			}
			if didStall {
				pkg.LogDebug(pkg.ComponentEndpoint, "stalled", "address", ep.desc.Address)
				ep.stalled = true
				return
			}
		case hal.TransferIsochronous:
			if dev.mode == hal.ModeDevice {
				b.drv.ClearStall(dev, ep)
			}
		}
	}

	if x.nframes == 0 {
		x.aframes = 0
		x.done(pkg.CodeNone)
		return
	}

	if x.interval > 0 && (x.typ == hal.TransferBulk || x.typ == hal.TransferControl) {
		x.armTimer(x.interval, x.startHardware)
		return
	}
	x.startHardware()
}

// startHardware arms the timeout and issues x to the bus driver.
func (x *Transfer) startHardware() {
	x.state |= stCanCancelImmed
	if x.code == pkg.CodeNone {
		if x.timeout > 0 {
			x.armTimer(x.timeout, x.timeoutExpired)
		}
		x.group.bus.drv.Start(x)
	}
	if x.code != pkg.CodeNone {
		x.done(pkg.CodeNone)
	}
}

func (x *Transfer) timeoutExpired() {
	pkg.LogDebug(pkg.ComponentTransfer, "timeout", "index", x.index, "timeout", x.timeout)
	x.done(pkg.CodeTimeout)
	x.group.bus.drv.Close(x)
}
