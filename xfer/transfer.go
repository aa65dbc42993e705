package xfer

import (
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// runState holds the engine-owned transfer flags. Every bit is protected
// by the bus lock.
type runState uint16

const (
	stOpen runState = 1 << iota
	stTransferring
	stStarted
	stCanCancelImmed
	stDidClose
	stDidDMADelay
	stDraining
	stDoingCallback
	stShortXferOK
	stShortFramesOK
	stBDMAEnable
	stBDMASetup
)

// FrameBuffer is the memory behind one frame of a transfer.
type FrameBuffer struct {
	data []byte
}

// Bytes returns the frame memory.
func (f *FrameBuffer) Bytes() []byte { return f.data }

// Len returns the capacity of the frame in bytes.
func (f *FrameBuffer) Len() int { return len(f.data) }

// CopyIn copies src into the frame at off and returns the number of bytes
// copied.
func (f *FrameBuffer) CopyIn(off int, src []byte) int {
	if off < 0 || off >= len(f.data) {
		return 0
	}
	return copy(f.data[off:], src)
}

// CopyOut copies from the frame at off into dst and returns the number of
// bytes copied.
func (f *FrameBuffer) CopyOut(off int, dst []byte) int {
	if off < 0 || off >= len(f.data) {
		return 0
	}
	return copy(dst, f.data[off:])
}

// Transfer is one configured, schedulable unit of data movement over an
// endpoint. Its geometry is frozen at setup; its frames, lengths and
// results are reused by every submission.
//
// Client methods (Submit, Start, Stop, frame accessors) require the group's
// client lock. Bus driver methods (Done, SetError, SetActualFrames) require
// the bus lock. The control accessors are read by bus drivers under the bus
// lock and by clients from the callback. The result accessors (Code, Err,
// ActualLength, ActualFrames, State, ShortXferOK, ShortFramesOK) take the
// bus lock themselves and must not be called while holding it.
type Transfer struct {
	group *Group
	ep    *Endpoint
	index int

	typ      hal.TransferType
	geom     Geometry
	flags    Flags
	callback Callback
	priv     any
	interval time.Duration
	timeout  time.Duration

	buffer  []byte
	frames  []FrameBuffer
	lengths []uint32
	shadow  []uint32
	nframes int

	aframes int
	sumLen  int
	actLen  int
	code    pkg.Code
	state   runState
	cbState State

	phase       ControlPhase
	ctrlStall   bool
	ctrlHdr     bool
	ctrlDidData bool
	ctrlRem     int
	dirIn       bool

	waitQ    *WorkQueue
	waitNext *Transfer
	waitPrev *Transfer

	timer     *time.Timer
	timerGen  uint64
	submitted time.Time
}

// Index returns the position of the transfer's config in the group setup.
func (x *Transfer) Index() int { return x.index }

// Group returns the owning group.
func (x *Transfer) Group() *Group { return x.group }

// Endpoint returns the endpoint the transfer is bound to.
func (x *Transfer) Endpoint() *Endpoint { return x.ep }

// Device returns the device of the transfer's endpoint.
func (x *Transfer) Device() *Device { return x.group.dev }

// Type returns the transfer type.
func (x *Transfer) Type() hal.TransferType { return x.typ }

// Geometry returns the layout computed at setup.
func (x *Transfer) Geometry() Geometry { return x.geom }

// MaxDataLength returns the payload capacity of one submission.
func (x *Transfer) MaxDataLength() int { return x.geom.MaxDataLength }

// MaxPacketSize returns the negotiated packet size.
func (x *Transfer) MaxPacketSize() int { return x.geom.MaxPacketSize }

// MaxFrameSize returns the bytes one (micro)frame can carry.
func (x *Transfer) MaxFrameSize() int { return x.geom.MaxFrameSize }

// Flags returns the current policy flags.
func (x *Transfer) Flags() Flags { return x.flags }

// Priv returns the value from Config.Priv.
func (x *Transfer) Priv() any { return x.priv }

// SetPriv replaces the private value.
func (x *Transfer) SetPriv(v any) { x.priv = v }

// Interval returns the poll interval or start delay.
func (x *Transfer) Interval() time.Duration { return x.interval }

// SetInterval changes the interval used by the next submission.
func (x *Transfer) SetInterval(d time.Duration) { x.interval = d }

// Timeout returns the completion deadline.
func (x *Transfer) Timeout() time.Duration { return x.timeout }

// SetTimeout changes the deadline used by the next submission.
func (x *Transfer) SetTimeout(d time.Duration) { x.timeout = d }

// Frames returns the number of frames the next submission moves.
func (x *Transfer) Frames() int { return x.nframes }

// SetFrames sets the number of frames the next submission moves. It panics
// if n exceeds the frame count allocated at setup.
func (x *Transfer) SetFrames(n int) {
	if n < 0 || n > x.geom.MaxFrameCount {
		panic("xfer: frame count out of range")
	}
	x.nframes = n
}

// MaxFrameCount returns the frame count allocated at setup.
func (x *Transfer) MaxFrameCount() int { return x.geom.MaxFrameCount }

// FrameLen returns the length of frame i. Before submission it is the
// requested length; after completion it is the actual length.
func (x *Transfer) FrameLen(i int) int { return int(x.lengths[i]) }

// SetFrameLen sets the length of frame i.
func (x *Transfer) SetFrameLen(i, n int) { x.lengths[i] = uint32(n) }

// RequestedFrameLen returns the length of frame i as it was at submission.
func (x *Transfer) RequestedFrameLen(i int) int { return int(x.shadow[i]) }

// Frame returns frame buffer i. Isochronous transfers have one buffer
// shared by all frames.
func (x *Transfer) Frame(i int) *FrameBuffer { return &x.frames[i] }

// Buffer returns the local buffer, or nil with FlagExtBuffer.
func (x *Transfer) Buffer() []byte { return x.buffer }

// SetFrameData points frame i at external memory and sets its length.
func (x *Transfer) SetFrameData(i int, data []byte) {
	x.frames[i].data = data
	x.lengths[i] = uint32(len(data))
}

// SetFrameOffset points frame i at offset off of the local buffer.
func (x *Transfer) SetFrameOffset(i, off int) {
	x.frames[i].data = x.buffer[off:]
}

// runtimeFlags may change between submissions.
const runtimeFlags = FlagForceShortXfer | FlagShortXferOK | FlagShortFramesOK | FlagManualStatus

// SetFlag sets policy flags for the next submission. Only
// FlagForceShortXfer, FlagShortXferOK, FlagShortFramesOK and
// FlagManualStatus can change after setup; other bits are ignored.
func (x *Transfer) SetFlag(f Flags) {
	b := x.group.bus
	b.mu.Lock()
	x.flags |= f & runtimeFlags
	b.mu.Unlock()
}

// ClearFlag clears policy flags for the next submission, with the same
// restriction as SetFlag.
func (x *Transfer) ClearFlag(f Flags) {
	b := x.group.bus
	b.mu.Lock()
	x.flags &^= f & runtimeFlags
	b.mu.Unlock()
}

// SetStall requests an endpoint stall on the next submission.
func (x *Transfer) SetStall() {
	b := x.group.bus
	b.mu.Lock()
	x.flags |= FlagStallPipe
	b.mu.Unlock()
}

// ClearStallFlag withdraws a stall requested with SetStall.
func (x *Transfer) ClearStallFlag() {
	b := x.group.bus
	b.mu.Lock()
	x.flags &^= FlagStallPipe
	b.mu.Unlock()
}

// SumLength returns the total requested length of the current submission.
func (x *Transfer) SumLength() int { return x.sumLen }

// ActualLength returns the bytes moved by the last submission.
func (x *Transfer) ActualLength() int {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.actLen
}

// ActualFrames returns the frames completed by the last submission.
func (x *Transfer) ActualFrames() int {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.aframes
}

// Code returns the outcome of the last submission.
func (x *Transfer) Code() pkg.Code {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.code
}

// Err returns the outcome of the last submission as an error.
func (x *Transfer) Err() error { return x.Code().Err() }

// State returns the state of the current or last callback.
func (x *Transfer) State() State {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.cbState
}

// ControlPhase returns the control sequence position.
func (x *Transfer) ControlPhase() ControlPhase { return x.phase }

// ControlStalled reports whether the control operation is being stalled.
func (x *Transfer) ControlStalled() bool { return x.ctrlStall }

// ControlRemaining returns the data bytes still expected by the control
// operation.
func (x *Transfer) ControlRemaining() int { return x.ctrlRem }

// ControlHeader reports whether the current submission carries the header.
func (x *Transfer) ControlHeader() bool { return x.ctrlHdr }

// ControlDidData reports whether earlier submissions of the operation
// already moved data stage bytes.
func (x *Transfer) ControlDidData() bool { return x.ctrlDidData }

// IsRead reports whether the data stage moves data into host memory from
// the controller's point of view.
func (x *Transfer) IsRead() bool {
	if x.group.dev.mode == hal.ModeDevice {
		return !x.dirIn
	}
	return x.dirIn
}

// ShortXferOK reports whether a short read completes without error.
func (x *Transfer) ShortXferOK() bool { return x.hasState(stShortXferOK) }

// ShortFramesOK reports whether several short frames are acceptable.
func (x *Transfer) ShortFramesOK() bool { return x.hasState(stShortFramesOK) }

func (x *Transfer) hasState(bits runState) bool {
	b := x.group.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	return x.state&bits != 0
}

// SetActualFrames records how many frames the hardware completed. The
// caller must hold the bus lock.
func (x *Transfer) SetActualFrames(n int) { x.aframes = n }

// SetError records an error from Enter or Start without completing the
// transfer. The engine completes it when the method returns. The caller
// must hold the bus lock.
func (x *Transfer) SetError(code pkg.Code) {
	if x.code == pkg.CodeNone {
		x.code = code
	}
}

// Done completes the transfer with code. The first error recorded wins. It
// is a no-op unless the transfer is transferring. The caller must hold the
// bus lock.
func (x *Transfer) Done(code pkg.Code) { x.done(code) }

// armTimer runs fn under the bus lock after d, unless the timer is stopped
// or rearmed first. The caller must hold the bus lock.
func (x *Transfer) armTimer(d time.Duration, fn func()) {
	x.stopTimer()
	gen := x.timerGen
	b := x.group.bus
	x.timer = time.AfterFunc(d, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if x.timerGen != gen {
			return
		}
		x.timer = nil
		x.timerGen++
		fn()
	})
}

// stopTimer disarms any pending timer. The caller must hold the bus lock.
func (x *Transfer) stopTimer() {
	if x.timer != nil {
		x.timer.Stop()
		x.timer = nil
	}
	x.timerGen++
}
