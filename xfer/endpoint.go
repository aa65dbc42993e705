package xfer

import (
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// Endpoint is a communication channel to a device, with its own transfer
// queue and stall state. Groups own the endpoints they set up transfers on;
// no two groups share one.
type Endpoint struct {
	dev  *Device
	desc hal.EndpointDescriptor
	q    WorkQueue

	stalled      bool
	synced       bool
	toggle       uint8
	refcount     int
	owner        *Group
	stallPending bool
}

func newEndpoint(dev *Device, desc hal.EndpointDescriptor) *Endpoint {
	ep := &Endpoint{dev: dev, desc: desc}
	ep.q.init(pipeStart)
	return ep
}

// Device returns the device the endpoint belongs to.
func (ep *Endpoint) Device() *Device { return ep.dev }

// Descriptor returns the advertised descriptor.
func (ep *Endpoint) Descriptor() hal.EndpointDescriptor { return ep.desc }

// Address returns the endpoint address including the direction bit.
func (ep *Endpoint) Address() uint8 { return ep.desc.Address }

// Type returns the transfer type of the endpoint.
func (ep *Endpoint) Type() hal.TransferType { return ep.desc.TransferType() }

// Stalled reports whether the endpoint is halted.
func (ep *Endpoint) Stalled() bool {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	return ep.stalled
}

// Synced reports whether isochronous scheduling is synchronized.
func (ep *Endpoint) Synced() bool {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	return ep.synced
}

// Toggle returns the next data toggle.
func (ep *Endpoint) Toggle() uint8 {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	return ep.toggle
}

// Refcount returns the number of transfers set up on the endpoint.
func (ep *Endpoint) Refcount() int {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	return ep.refcount
}

// Pending returns the number of transfers on the endpoint queue, including
// the active one.
func (ep *Endpoint) Pending() int {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	n := ep.q.Len()
	if ep.q.curr != nil {
		n++
	}
	return n
}

// Active returns the transfer at the head of the endpoint queue.
func (ep *Endpoint) Active() *Transfer {
	ep.dev.bus.mu.Lock()
	defer ep.dev.bus.mu.Unlock()
	return ep.q.curr
}

// AdvanceToggle flips the data toggle and returns the toggle used. The
// caller must hold the bus lock.
func (ep *Endpoint) AdvanceToggle() uint8 {
	t := ep.toggle
	ep.toggle ^= 1
	return t
}

// MarkSynced records isochronous schedule synchronization. The caller must
// hold the bus lock.
func (ep *Endpoint) MarkSynced() { ep.synced = true }

// clearStallLocked resumes a halted endpoint and restarts its queue. The
// caller must hold the bus lock.
func (ep *Endpoint) clearStallLocked() {
	ep.toggle = 0
	ep.stalled = false
	ep.dev.bus.drv.ClearStall(ep.dev, ep)
	pkg.LogDebug(pkg.ComponentEndpoint, "stall cleared", "address", ep.desc.Address)
	ep.q.Restart()
}
