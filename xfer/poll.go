package xfer

// Held declares which engine locks the caller of Poll holds.
type Held uint8

// Lock sets for Poll.
const (
	HeldClient Held = 1 << iota
	HeldBus

	HeldNone Held = 0
)

// Poll drives the group without interrupts or the worker, for use when the
// scheduler cannot be trusted (fatal error and dump paths). It releases the
// locks named by held, lets the bus driver scan for completions, runs
// pending stall handlers and callbacks inline, and reacquires the locks
// before returning. Poll never waits on the worker.
func (g *Group) Poll(held Held) {
	b := g.bus

	if held&HeldBus != 0 {
		b.mu.Unlock()
	}
	if held&HeldClient != 0 {
		g.lock.Unlock()
	}

	if p, ok := b.drv.(Poller); ok {
		p.Poll()
	}

	g.lock.Lock()
	b.mu.Lock()
	var stalls []*Endpoint
	for _, x := range g.transfers {
		if x != nil && x.ep.stallPending && !containsEndpoint(stalls, x.ep) {
			x.ep.stallPending = false
			stalls = append(stalls, x.ep)
		}
	}
	handler := g.dev.stallHandler
	b.mu.Unlock()

	if handler != nil {
		for _, ep := range stalls {
			handler(ep)
		}
	}

	b.mu.Lock()
	prevPolling, prevHeld := b.polling, g.held
	b.polling, g.held = true, true
	g.doneQ.Restart()
	b.polling, g.held = prevPolling, prevHeld
	b.mu.Unlock()
	g.lock.Unlock()

	if held&HeldClient != 0 {
		g.lock.Lock()
	}
	if held&HeldBus != 0 {
		b.mu.Lock()
	}
}

func containsEndpoint(eps []*Endpoint, ep *Endpoint) bool {
	for _, e := range eps {
		if e == ep {
			return true
		}
	}
	return false
}
