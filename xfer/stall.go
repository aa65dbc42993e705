package xfer

import (
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// ClearStallCallback drives a clear-stall handshake from the callback of
// control transfer x1 for the endpoint of x2. It returns true once the
// handshake is over and x2 may be restarted.
//
// In StateSetup it resets the data toggle of the target endpoint and
// submits a CLEAR_FEATURE(ENDPOINT_HALT) request on x1. When that request
// completes, successfully or with a device error, the target endpoint
// leaves the stalled state and its queue restarts. A cancelled handshake
// reports false so that teardown does not restart x2.
//
// Both transfers' client locks must be held, which is the case when x1
// and x2 share a group.
func ClearStallCallback(x1, x2 *Transfer) bool {
	if x2 == nil {
		return false
	}
	b := x1.group.bus
	target := x2.ep

	switch x1.cbState {
	case StateSetup:
		b.mu.Lock()
		target.toggle = 0
		b.mu.Unlock()

		var req hal.SetupPacket
		hal.ClearHaltSetup(&req, target.desc.Address)
		req.MarshalTo(x1.frames[0].data)
		x1.lengths[0] = headerSize
		x1.nframes = 1
		pkg.LogDebug(pkg.ComponentEndpoint, "clear stall", "address", target.desc.Address)
		x1.Submit()
		return false

	default:
		if x1.cbState == StateError && x1.code == pkg.CodeCancelled {
			return false
		}
		b.mu.Lock()
		target.clearStallLocked()
		b.mu.Unlock()
		return true
	}
}
