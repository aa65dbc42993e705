package xfer

import (
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/usbxfer/hal"
)

// Flags select per-transfer policy. They are fixed at setup except
// FlagStallPipe, which [Transfer.SetStall] and [Transfer.ClearStallFlag]
// toggle at runtime.
type Flags uint16

// Transfer flags.
const (
	// FlagForceShortXfer terminates the data stage with a short packet.
	FlagForceShortXfer Flags = 1 << iota

	// FlagShortXferOK accepts a short read as success.
	FlagShortXferOK

	// FlagShortFramesOK accepts several short frames in one read.
	FlagShortFramesOK

	// FlagManualStatus holds a control transfer before its status stage.
	FlagManualStatus

	// FlagStallPipe stalls the endpoint on the next submission.
	FlagStallPipe

	// FlagProxyBuffer rounds the buffer to whole frames.
	FlagProxyBuffer

	// FlagExtBuffer skips the local buffer; the client supplies frame data.
	FlagExtBuffer

	// FlagNoPipeOK leaves the transfer unset when no endpoint matches.
	FlagNoPipeOK

	// FlagBlockOnFailure keeps a failed transfer at the head of its
	// endpoint queue.
	FlagBlockOnFailure

	// FlagPreScaleFrames expresses the isochronous frame count in
	// milliseconds rather than (micro)frames.
	FlagPreScaleFrames
)

// Direction filters the endpoint a transfer binds to.
type Direction uint8

// Endpoint directions.
const (
	DirAny Direction = iota
	DirIn
	DirOut
)

// EndpointAny matches any endpoint number.
const EndpointAny = 0xFF

// State is the reason a callback runs.
type State uint8

// Callback states.
const (
	StateSetup       State = iota // Started, or ready for another submission
	StateTransferred              // Completed without error
	StateError                    // Completed with Transfer.Code set
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateTransferred:
		return "transferred"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ControlPhase is the position of a control transfer in its
// setup/data/status sequence.
type ControlPhase uint8

// Control phases.
const (
	PhaseAwaitingHeader ControlPhase = iota // Next submission carries the header
	PhaseData                               // More data stages follow
	PhaseStatus                             // This submission ends with the status stage
)

// String returns the phase name.
func (p ControlPhase) String() string {
	switch p {
	case PhaseAwaitingHeader:
		return "awaiting-header"
	case PhaseData:
		return "data"
	case PhaseStatus:
		return "status"
	default:
		return "unknown"
	}
}

// DeferReason tells why a callback was handed to the group worker.
type DeferReason uint8

// Deferral reasons.
const (
	// DeferNotHeld means the completing context does not hold the client lock.
	DeferNotHeld DeferReason = iota

	// DeferReentered means the transfer completed while callbacks were
	// already running on the group.
	DeferReentered
)

// String returns the reason name.
func (r DeferReason) String() string {
	if r == DeferReentered {
		return "reentered"
	}
	return "not-held"
}

// Callback is the client completion routine. It runs with the client lock
// held and the bus lock released, and may call Submit, Start or Stop.
type Callback func(x *Transfer, state State)

// Config describes one transfer of a group.
type Config struct {
	Type      hal.TransferType
	Endpoint  uint8     // Endpoint number, or EndpointAny
	Direction Direction // Required endpoint direction

	BufSize  int           // Buffer size in bytes, 0 for one frame
	Frames   int           // Frame count, 0 for automatic
	Interval time.Duration // Interrupt poll interval or bulk/control start delay
	Timeout  time.Duration // Completion deadline, 0 for none

	Flags    Flags
	Callback Callback

	// Priv is returned by Transfer.Priv.
	Priv any
}

// Options are bus-wide engine tunables.
type Options struct {
	// DMADelay overrides the bus driver's DMA settle delay when non-zero.
	DMADelay time.Duration

	// DefaultTimeout applies to non-isochronous transfers configured
	// without a timeout. Zero means no deadline.
	DefaultTimeout time.Duration

	// IsoDefaultTimeout applies to isochronous transfers configured
	// without a timeout. Zero selects 250 ms.
	IsoDefaultTimeout time.Duration

	// WorkerQueue is extra capacity of each group worker's message channel.
	WorkerQueue int

	// MaxArenaSize bounds the memory of one group. Zero means unbounded.
	MaxArenaSize int

	// OnDefer observes every callback handed to a group worker. It runs with
	// the bus lock held and must not call into the engine.
	OnDefer func(x *Transfer, reason DeferReason)

	// Registry receives transfer statistics. Nil creates a private registry.
	Registry metrics.Registry
}
