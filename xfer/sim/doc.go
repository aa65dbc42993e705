// Package sim provides a simulated bus driver for the transfer engine.
//
// The [Controller] is an in-memory loopback controller: data written to an
// OUT endpoint is queued and returned by reads on the IN endpoint with the
// same number. Control requests complete immediately, filling IN data
// stages with a byte pattern, and CLEAR_FEATURE(ENDPOINT_HALT) requests are
// recorded.
//
// Completions are delivered in one of three ways, selected by
// [Config.Delivery]: inline from Start, after a latency on a timer
// goroutine, or only when [Controller.Poll] runs.
//
// Faults can be injected per endpoint with [Controller.SetFault] to
// exercise errors, short transfers, stalls and timeouts.
//
// # Usage
//
//	c := sim.New(sim.Config{}, xfer.Options{})
//	dev := c.Bus().Attach(xfer.DeviceConfig{Speed: hal.SpeedHigh, Endpoints: eps})
//	g, err := dev.Setup(nil, cfgs)
package sim
