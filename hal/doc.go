// Package hal defines the bus-level primitive types shared by the transfer
// engine and its bus drivers.
//
// The types here describe what the wire looks like, not how a controller
// moves it: negotiated [Speed], controller [Mode], [TransferType],
// advertised [EndpointDescriptor] fields, controller packet [Limits], and
// the 8-byte [SetupPacket] that heads every control transfer.
//
// A bus driver reports its [Limits] to the engine, and the engine's
// geometry planner combines them with an [EndpointDescriptor] and [Speed]
// to size each transfer.
package hal
