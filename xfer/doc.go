// Package xfer is a USB-style transfer management engine.
//
// A client describes the transfers it needs with [Config] values and sets
// them up together on a [Device] as a [Group]. Setup runs the geometry
// planner ([Plan]) for each transfer, carves all buffers from one arena
// and claims the matching endpoints. The client then starts a transfer;
// its [Callback] runs in [StateSetup], fills the frames and submits.
// Completions run the callback again in [StateTransferred] or
// [StateError].
//
// # Locking
//
// Two lock domains exist. The bus lock, owned by [Bus], serializes every
// endpoint and queue on a controller. The client lock, supplied at setup,
// serializes callbacks and client data. Code that holds only the bus lock
// never calls back into the client; it hands the completion to the group
// worker, which takes the client lock first and the bus lock second and
// replays the completion queue.
//
// # Queues
//
// Endpoints, groups and the DMA load stage each run a [WorkQueue]: a FIFO
// with one current transfer whose command may re-enter the queue without
// recursing.
//
// # Bus drivers
//
// A [BusDriver] moves the data. The engine calls it with the bus lock held
// and the driver reports completion with [Transfer.Done].
package xfer
