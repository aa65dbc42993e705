package xfer

import (
	"github.com/ardnew/usbxfer/pkg"
)

// message is one request to a group worker. A nil endpoint asks the worker
// to replay the completion queue; otherwise it services a stall request.
type message struct {
	ep *Endpoint
}

// worker is the per-group goroutine that re-enters the client lock domain
// on behalf of contexts that only hold the bus lock.
type worker struct {
	g      *Group
	msgs   chan message
	quit   chan struct{}
	exited chan struct{}
}

func newWorker(g *Group, depth int) *worker {
	return &worker{
		g:      g,
		msgs:   make(chan message, depth),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (w *worker) run() {
	defer close(w.exited)
	for {
		select {
		case <-w.quit:
			return
		case m := <-w.msgs:
			if m.ep != nil {
				w.g.processStall(m.ep)
			} else {
				w.g.processDone()
			}
		}
	}
}

// stop ends the worker and waits for it to exit.
func (w *worker) stop() {
	close(w.quit)
	<-w.exited
}

// send queues m without blocking. The caller must hold the bus lock.
func (w *worker) send(m message) bool {
	select {
	case w.msgs <- m:
		return true
	default:
		pkg.LogWarn(pkg.ComponentDispatch, "worker queue full")
		return false
	}
}

// dispatch routes a completed or started transfer to its callback. The
// callback runs inline only when the current context drives the group
// with the client lock held; anything else goes to the worker. The caller
// must hold the bus lock.
func (g *Group) dispatch(x *Transfer) {
	q := &g.doneQ
	if q.curr != x {
		q.enqueue(x)
	}
	if q.running {
		q.repeat = false
		return
	}
	if g.held || g.bus.polling {
		q.Restart()
		return
	}
	g.deferCallback(x, DeferNotHeld)
}

// deferCallback wakes the worker to replay the completion queue. Wakeups
// coalesce while one is pending. The caller must hold the bus lock.
func (g *Group) deferCallback(x *Transfer, reason DeferReason) {
	pkg.LogDebug(pkg.ComponentDispatch, "deferred", "index", x.index, "reason", reason)
	if hook := g.bus.opts.OnDefer; hook != nil {
		hook(x, reason)
	}
	if g.donePending {
		return
	}
	g.donePending = g.w.send(message{})
}

// signalStall asks the worker to run the device stall handler for ep. The
// caller must hold the bus lock.
func (g *Group) signalStall(ep *Endpoint) {
	if ep.stallPending {
		return
	}
	ep.stallPending = g.w.send(message{ep: ep})
}

// processDone replays the completion queue with both locks held, in lock
// order.
func (g *Group) processDone() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.bus.mu.Lock()
	defer g.bus.mu.Unlock()

	g.donePending = false
	prev := g.held
	g.held = true
	g.doneQ.Restart()
	g.held = prev
}

// processStall runs the device stall handler with the client lock held.
func (g *Group) processStall(ep *Endpoint) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.bus.mu.Lock()
	pending := ep.stallPending
	ep.stallPending = false
	handler := ep.dev.stallHandler
	g.bus.mu.Unlock()

	if !pending {
		return
	}
	if handler == nil {
		pkg.LogWarn(pkg.ComponentEndpoint, "no stall handler", "address", ep.desc.Address)
		return
	}
	handler(ep)
}

// callbackWrapper is the command of the completion queue. It runs with the
// bus lock held and releases it only around the client callback.
func (g *Group) callbackWrapper(q *WorkQueue) {
	x := q.curr
	b := g.bus

	if (q.ranOnce || !g.held) && !b.polling {
		reason := DeferNotHeld
		if q.ranOnce {
			reason = DeferReentered
		}
		g.deferCallback(x, reason)
		return
	}

	q.curr = nil
	x.state |= stDoingCallback

	if g.prepareCallback(x) {
		cb := x.callback
		state := x.cbState
		b.mu.Unlock()
		cb(x, state)
		b.mu.Lock()

		if x.state&stOpen == 0 && x.state&stStarted != 0 && state == StateError {
			x.state &^= stDoingCallback
			q.EnqueueOrRun(x)
			return
		}
	}

	x.state &^= stDoingCallback
	if x.state&stDraining != 0 && x.state&stTransferring == 0 {
		x.state &^= stDraining
		g.drainCond.Broadcast()
	}
	q.Restart()
}

// prepareCallback sets the callback state of x and reports whether the
// callback should run now.
func (g *Group) prepareCallback(x *Transfer) bool {
	if x.state&stTransferring == 0 {
		x.cbState = StateSetup
		return x.state&stStarted != 0
	}
	if x.finish() {
		return false
	}
	x.state &^= stTransferring
	g.bus.stats.record(x.typ, x.code, x.submitted)
	if x.code != pkg.CodeNone {
		x.cbState = StateError
	} else {
		x.cbState = StateTransferred
	}
	return true
}
