package xfer

import (
	"github.com/ardnew/usbxfer/pkg"
)

// Start marks the transfer started and, unless it is already transferring,
// runs its callback in StateSetup so the client can submit. The caller must
// hold the client lock; the callback may run before Start returns.
func (x *Transfer) Start() {
	g := x.group
	b := g.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	x.state |= stStarted
	if x.state&stTransferring != 0 {
		return
	}
	prev := g.held
	g.held = true
	g.dispatch(x)
	g.held = prev
}

// Stop cancels the transfer. A transfer in flight completes with
// pkg.CodeCancelled once the hardware lets go of it. Stopping a stopped
// transfer has no effect. The caller must hold the client lock.
func (x *Transfer) Stop() {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	x.stopLocked()
}

func (x *Transfer) stopLocked() {
	drv := x.group.bus.drv

	if x.state&stOpen == 0 {
		if x.state&stStarted != 0 {
			x.state &^= stStarted
			x.code = pkg.CodeCancelled
		}
		return
	}

	x.code = pkg.CodeCancelled
	x.state &^= stOpen | stStarted

	if x.state&stTransferring != 0 {
		if x.state&stCanCancelImmed != 0 && x.state&stDidClose == 0 {
			pkg.LogDebug(pkg.ComponentTransfer, "close", "index", x.index)
			drv.Close(x)
			x.state |= stDidClose
			x.done(pkg.CodeCancelled)
		}
		return
	}

	drv.Close(x)
	if x.ep.q.curr == x {
		x.ep.q.Next()
	}
}

// Pending reports whether the transfer is transferring, waiting on any
// queue, or about to have its callback run.
func (x *Transfer) Pending() bool {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.pendingLocked()
}

func (x *Transfer) pendingLocked() bool {
	return x.state&stTransferring != 0 || x.waitQ != nil || x.group.doneQ.curr == x
}

// Drain stops the transfer and blocks until it is no longer pending and
// its callback has returned. The caller must not hold the client lock.
func (x *Transfer) Drain() {
	g := x.group
	b := g.bus

	g.lock.Lock()
	defer g.lock.Unlock()

	b.mu.Lock()
	x.stopLocked()
	for x.pendingLocked() || x.state&stDoingCallback != 0 {
		x.state |= stDraining
		b.mu.Unlock()
		g.drainCond.Wait()
		b.mu.Lock()
	}
	b.mu.Unlock()
}
