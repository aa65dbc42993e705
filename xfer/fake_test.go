package xfer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// completion modes of the fake driver
const (
	fakeInline = iota // complete from inside Start
	fakeAsync         // complete from a new goroutine
	fakeHold          // keep until the test releases it
	fakePoll          // keep until Poll
)

// fakeDriver is a scriptable BusDriver. All fields are protected by the bus
// lock once the bus exists.
type fakeDriver struct {
	bus      *Bus
	mode     int
	dmaDelay time.Duration
	limits   hal.Limits

	// onStart replaces the default completion when set.
	onStart func(x *Transfer)

	// actual overrides the bytes moved by frame 0 when non-negative.
	actual int

	enterCode pkg.Code
	stallOK   bool

	opens, closes, enters, starts int
	setStalls, clearStalls        int
	held                          []*Transfer
}

func newFake(mode int) *fakeDriver {
	return &fakeDriver{mode: mode, actual: -1, stallOK: true}
}

func (f *fakeDriver) Limits() hal.Limits                { return f.limits }
func (f *fakeDriver) DMADelay(*Device) time.Duration    { return f.dmaDelay }
func (f *fakeDriver) Open(*Transfer)                    { f.opens++ }
func (f *fakeDriver) ClearStall(*Device, *Endpoint)     { f.clearStalls++ }
func (f *fakeDriver) SetStall(*Device, *Endpoint) bool  { f.setStalls++; return f.stallOK }

func (f *fakeDriver) Close(x *Transfer) {
	f.closes++
	for i, h := range f.held {
		if h == x {
			f.held = append(f.held[:i], f.held[i+1:]...)
			break
		}
	}
}

func (f *fakeDriver) Enter(x *Transfer) {
	f.enters++
	if f.enterCode != pkg.CodeNone {
		x.SetError(f.enterCode)
	}
}

func (f *fakeDriver) Start(x *Transfer) {
	f.starts++
	if f.onStart != nil {
		f.onStart(x)
		return
	}
	switch f.mode {
	case fakeInline:
		f.finish(x, pkg.CodeNone)
	case fakeAsync:
		go func() {
			f.bus.Lock()
			defer f.bus.Unlock()
			f.finish(x, pkg.CodeNone)
		}()
	default:
		f.held = append(f.held, x)
	}
}

// finish reports every frame moved in full, or f.actual bytes in frame 0.
func (f *fakeDriver) finish(x *Transfer, code pkg.Code) {
	if f.actual >= 0 {
		x.SetFrameLen(0, f.actual)
		x.SetActualFrames(1)
	} else {
		x.SetActualFrames(x.Frames())
	}
	x.Done(code)
}

// release completes the oldest held transfer from the calling goroutine.
func (f *fakeDriver) release(code pkg.Code) bool {
	f.bus.Lock()
	defer f.bus.Unlock()
	if len(f.held) == 0 {
		return false
	}
	x := f.held[0]
	f.held = f.held[1:]
	f.finish(x, code)
	return true
}

func (f *fakeDriver) heldCount() int {
	f.bus.Lock()
	defer f.bus.Unlock()
	return len(f.held)
}

func (f *fakeDriver) counts() (opens, closes, starts int) {
	f.bus.Lock()
	defer f.bus.Unlock()
	return f.opens, f.closes, f.starts
}

// pollDriver adds Poller to the fake driver.
type pollDriver struct {
	*fakeDriver
}

func (p pollDriver) Poll() {
	for p.release(pkg.CodeNone) {
	}
}

// dmaDriver adds DMALoader to the fake driver.
type dmaDriver struct {
	*fakeDriver
	loadErr error
	loads   int
	unloads int
}

func (d *dmaDriver) LoadDMA(*Transfer) error { d.loads++; return d.loadErr }
func (d *dmaDriver) UnloadDMA(*Transfer)     { d.bus.Lock(); d.unloads++; d.bus.Unlock() }

// event is one callback observed by a test.
type event struct {
	x     *Transfer
	state State
	code  pkg.Code
	alen  int
}

// recorder collects callbacks and resubmits nothing.
type recorder struct {
	ch chan event
}

func newRecorder() *recorder { return &recorder{ch: make(chan event, 64)} }

func (r *recorder) callback(x *Transfer, state State) {
	r.ch <- event{x: x, state: state, code: x.Code(), alen: x.ActualLength()}
}

func (r *recorder) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return event{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected callback: index %d state %s code %s", ev.x.index, ev.state, ev.code)
	case <-time.After(wait):
	}
}

// deferLog records OnDefer calls.
type deferLog struct {
	mu      sync.Mutex
	reasons map[*Transfer][]DeferReason
}

func newDeferLog() *deferLog { return &deferLog{reasons: make(map[*Transfer][]DeferReason)} }

func (d *deferLog) hook(x *Transfer, r DeferReason) {
	d.mu.Lock()
	d.reasons[x] = append(d.reasons[x], r)
	d.mu.Unlock()
}

func (d *deferLog) get(x *Transfer) []DeferReason {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeferReason(nil), d.reasons[x]...)
}

// Standard test endpoints.
var testEndpoints = []hal.EndpointDescriptor{
	{Address: 0x81, Attributes: uint8(hal.TransferBulk), MaxPacketSize: 512},
	{Address: 0x02, Attributes: uint8(hal.TransferBulk), MaxPacketSize: 512},
	{Address: 0x83, Attributes: uint8(hal.TransferInterrupt), MaxPacketSize: 64, Interval: 4},
	{Address: 0x84, Attributes: uint8(hal.TransferIsochronous), MaxPacketSize: 1024, Interval: 1},
}

// newTestDevice builds a bus around drv and attaches a device.
func newTestDevice(t *testing.T, drv BusDriver, opts Options, mode hal.Mode) *Device {
	t.Helper()
	b := NewBus(drv, opts)
	switch d := drv.(type) {
	case *fakeDriver:
		d.bus = b
	case pollDriver:
		d.bus = b
	case *dmaDriver:
		d.bus = b
	}
	return b.Attach(DeviceConfig{
		Speed:     hal.SpeedHigh,
		Mode:      mode,
		Address:   1,
		Endpoints: testEndpoints,
	})
}

// setupGroup sets up cfgs and registers cleanup.
func setupGroup(t *testing.T, dev *Device, cfgs ...Config) *Group {
	t.Helper()
	g, err := dev.Setup(nil, cfgs)
	require.NoError(t, err)
	t.Cleanup(g.Unsetup)
	return g
}

// submit fills frame 0 with n bytes and submits x under the client lock.
func submit(x *Transfer, n int) {
	x.group.Lock()
	x.SetFrameLen(0, n)
	x.Submit()
	x.group.Unlock()
}

func bulkIn(cb Callback, flags Flags) Config {
	return Config{Type: hal.TransferBulk, Endpoint: 1, Direction: DirIn, BufSize: 512, Flags: flags, Callback: cb}
}

func bulkOut(cb Callback, flags Flags) Config {
	return Config{Type: hal.TransferBulk, Endpoint: 2, Direction: DirOut, BufSize: 512, Flags: flags, Callback: cb}
}
