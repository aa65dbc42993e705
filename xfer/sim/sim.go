package sim

import (
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/xfer"
)

// Delivery selects how the controller reports completions.
type Delivery uint8

// Delivery modes.
const (
	DeliverInline Delivery = iota // Complete from inside Start
	DeliverAsync                  // Complete after Config.Latency on a timer
	DeliverPoll                   // Complete only from Poll
)

// String returns the delivery mode name.
func (d Delivery) String() string {
	switch d {
	case DeliverInline:
		return "inline"
	case DeliverAsync:
		return "async"
	case DeliverPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// ParseDelivery converts a delivery mode name.
func ParseDelivery(s string) (Delivery, bool) {
	switch s {
	case "", "inline":
		return DeliverInline, true
	case "async":
		return DeliverAsync, true
	case "poll":
		return DeliverPoll, true
	}
	return DeliverInline, false
}

// Config configures a simulated controller.
type Config struct {
	Limits   hal.Limits    // Zero selects hal.DefaultLimits
	Delivery Delivery      // Completion delivery mode
	Latency  time.Duration // Completion latency for DeliverAsync
	DMADelay time.Duration // Reported DMA settle delay
}

// Fault alters how the controller completes transfers on one endpoint.
type Fault struct {
	Code      pkg.Code // Complete with this error
	EnterCode pkg.Code // Reject the transfer when it enters the schedule
	Truncate  int      // Move at most this many bytes, when positive
	Stall     bool     // Complete with pkg.CodeStalled
	Hang      bool     // Never complete; only a timeout or Stop ends it
	Once      bool     // Remove the fault after one transfer
}

// pending is a transfer waiting for its completion.
type pending struct {
	code  pkg.Code
	timer *time.Timer
}

// Controller is an in-memory loopback bus driver.
type Controller struct {
	bus *xfer.Bus
	cfg Config

	fifos   map[uint8][][]byte
	readers map[uint8][]*xfer.Transfer
	faults  map[uint8]Fault
	setups  []hal.SetupPacket
	halted  map[uint8]bool

	inflight map[*xfer.Transfer]*pending
	ready    []*xfer.Transfer

	opens, closes, enters, starts int
	stallCalls, clearCalls        int
	clearedHalts                  []uint8
}

// New returns a controller and creates its bus with opts.
func New(cfg Config, opts xfer.Options) *Controller {
	c := newController(cfg)
	c.bus = xfer.NewBus(c, opts)
	return c
}

func newController(cfg Config) *Controller {
	if cfg.Limits.MaxPacketSize == 0 {
		cfg.Limits = hal.DefaultLimits
	}
	return &Controller{
		cfg:      cfg,
		fifos:    make(map[uint8][][]byte),
		readers:  make(map[uint8][]*xfer.Transfer),
		faults:   make(map[uint8]Fault),
		halted:   make(map[uint8]bool),
		inflight: make(map[*xfer.Transfer]*pending),
	}
}

// Bus returns the bus driven by the controller.
func (c *Controller) Bus() *xfer.Bus { return c.bus }

// SetFault installs a fault for the endpoint address.
func (c *Controller) SetFault(address uint8, f Fault) {
	c.bus.Lock()
	c.faults[address] = f
	c.bus.Unlock()
}

// ClearFault removes the fault for the endpoint address.
func (c *Controller) ClearFault(address uint8) {
	c.bus.Lock()
	delete(c.faults, address)
	c.bus.Unlock()
}

// QueueSetup queues a request header for device-mode control transfers to
// receive.
func (c *Controller) QueueSetup(req hal.SetupPacket) {
	c.bus.Lock()
	c.setups = append(c.setups, req)
	c.bus.Unlock()
}

// Counters reports how often each driver method ran.
type Counters struct {
	Opens, Closes, Enters, Starts int
	SetStalls, ClearStalls        int
}

// Counters returns a snapshot of the method counters.
func (c *Controller) Counters() Counters {
	c.bus.Lock()
	defer c.bus.Unlock()
	return Counters{
		Opens:       c.opens,
		Closes:      c.closes,
		Enters:      c.enters,
		Starts:      c.starts,
		SetStalls:   c.stallCalls,
		ClearStalls: c.clearCalls,
	}
}

// ClearedHalts returns the endpoint addresses named by CLEAR_FEATURE
// requests, in order.
func (c *Controller) ClearedHalts() []uint8 {
	c.bus.Lock()
	defer c.bus.Unlock()
	return append([]uint8(nil), c.clearedHalts...)
}

// Halted reports whether the endpoint address is halted in the controller.
func (c *Controller) Halted(address uint8) bool {
	c.bus.Lock()
	defer c.bus.Unlock()
	return c.halted[address]
}

// Inflight returns the number of transfers waiting for completion.
func (c *Controller) Inflight() int {
	c.bus.Lock()
	defer c.bus.Unlock()
	n := len(c.inflight)
	for _, r := range c.readers {
		n += len(r)
	}
	return n
}

// Queued returns the bytes waiting in the loopback queue of an endpoint
// number.
func (c *Controller) Queued(number uint8) int {
	c.bus.Lock()
	defer c.bus.Unlock()
	n := 0
	for _, p := range c.fifos[number&hal.EndpointNumberMask] {
		n += len(p)
	}
	return n
}

// Limits implements xfer.BusDriver.
func (c *Controller) Limits() hal.Limits { return c.cfg.Limits }

// DMADelay implements xfer.BusDriver.
func (c *Controller) DMADelay(*xfer.Device) time.Duration { return c.cfg.DMADelay }

// Open implements xfer.BusDriver.
func (c *Controller) Open(*xfer.Transfer) { c.opens++ }

// Close implements xfer.BusDriver. It forgets x wherever it waits.
func (c *Controller) Close(x *xfer.Transfer) {
	c.closes++
	c.forget(x)
}

// Enter implements xfer.BusDriver.
func (c *Controller) Enter(x *xfer.Transfer) {
	c.enters++
	f, ok := c.faults[x.Endpoint().Address()]
	if ok && f.EnterCode != pkg.CodeNone {
		x.SetError(f.EnterCode)
		if f.Once {
			delete(c.faults, x.Endpoint().Address())
		}
	}
}

// SetStall implements xfer.BusDriver. The controller always halts the
// endpoint itself.
func (c *Controller) SetStall(_ *xfer.Device, ep *xfer.Endpoint) bool {
	c.stallCalls++
	c.halted[ep.Address()] = true
	return true
}

// ClearStall implements xfer.BusDriver.
func (c *Controller) ClearStall(_ *xfer.Device, ep *xfer.Endpoint) {
	c.clearCalls++
	delete(c.halted, ep.Address())
}

// Start implements xfer.BusDriver.
func (c *Controller) Start(x *xfer.Transfer) {
	c.starts++
	addr := x.Endpoint().Address()

	f, faulted := c.faults[addr]
	if faulted && f.Once {
		delete(c.faults, addr)
	}
	if faulted && f.Hang {
		c.inflight[x] = &pending{}
		return
	}

	code := pkg.CodeNone
	frames := 0
	switch x.Type() {
	case hal.TransferControl:
		code, frames = c.control(x)
	case hal.TransferIsochronous:
		frames = c.isochronous(x)
	default:
		if x.IsRead() {
			var ok bool
			if frames, ok = c.read(x); !ok {
				n := addr & hal.EndpointNumberMask
				c.readers[n] = append(c.readers[n], x)
				return
			}
		} else {
			frames = c.write(x)
		}
	}

	if faulted {
		switch {
		case f.Stall:
			code = pkg.CodeStalled
		case f.Code != pkg.CodeNone:
			code = f.Code
		}
		if f.Truncate > 0 {
			truncate(x, frames, f.Truncate)
		}
	}
	c.complete(x, code)
}

// Poll implements xfer.Poller. It completes every transfer whose
// completion was held back.
func (c *Controller) Poll() {
	c.bus.Lock()
	defer c.bus.Unlock()
	ready := c.ready
	c.ready = nil
	for _, x := range ready {
		p := c.inflight[x]
		delete(c.inflight, x)
		if p != nil {
			x.Done(p.code)
		}
	}
}

// complete reports x according to the delivery mode. The bus lock is held.
func (c *Controller) complete(x *xfer.Transfer, code pkg.Code) {
	switch c.cfg.Delivery {
	case DeliverAsync:
		p := &pending{code: code}
		p.timer = time.AfterFunc(c.cfg.Latency, func() {
			c.bus.Lock()
			defer c.bus.Unlock()
			if c.inflight[x] != p {
				return
			}
			delete(c.inflight, x)
			x.Done(code)
		})
		c.inflight[x] = p
	case DeliverPoll:
		c.inflight[x] = &pending{code: code}
		c.ready = append(c.ready, x)
	default:
		x.Done(code)
	}
}

// forget drops x from every wait list. The bus lock is held.
func (c *Controller) forget(x *xfer.Transfer) {
	if p, ok := c.inflight[x]; ok {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(c.inflight, x)
	}
	for i, r := range c.ready {
		if r == x {
			c.ready = append(c.ready[:i], c.ready[i+1:]...)
			break
		}
	}
	n := x.Endpoint().Address() & hal.EndpointNumberMask
	for i, r := range c.readers[n] {
		if r == x {
			c.readers[n] = append(c.readers[n][:i], c.readers[n][i+1:]...)
			break
		}
	}
}

// truncate limits the bytes moved by the first frames of x to limit,
// marking the remaining frames untouched.
func truncate(x *xfer.Transfer, frames, limit int) {
	moved := 0
	for i := 0; i < frames; i++ {
		n := x.FrameLen(i)
		if n > limit {
			n = limit
		}
		x.SetFrameLen(i, n)
		limit -= n
		moved = i + 1
		if limit == 0 {
			break
		}
	}
	x.SetActualFrames(moved)
}
