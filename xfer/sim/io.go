package sim

import (
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/xfer"
)

// pattern fills b with a counting byte pattern.
func pattern(b []byte) {
	for i := range b {
		b[i] = byte(i)
	}
}

// frameData returns the requested bytes of frame i, bounded by its buffer.
func frameData(x *xfer.Transfer, i int) []byte {
	buf := x.Frame(i).Bytes()
	n := x.FrameLen(i)
	if n > len(buf) {
		n = len(buf)
	}
	return buf[:n]
}

// write queues the OUT data of x on the loopback queue and wakes readers.
// It returns the frames moved.
func (c *Controller) write(x *xfer.Transfer) int {
	var packet []byte
	for i := 0; i < x.Frames(); i++ {
		packet = append(packet, frameData(x, i)...)
	}
	x.SetActualFrames(x.Frames())

	n := x.Endpoint().Address() & hal.EndpointNumberMask
	c.fifos[n] = append(c.fifos[n], packet)

	for len(c.readers[n]) > 0 && len(c.fifos[n]) > 0 {
		r := c.readers[n][0]
		c.readers[n] = c.readers[n][1:]
		c.read(r)
		c.complete(r, pkg.CodeNone)
	}
	return x.Frames()
}

// read fills x from the loopback queue and returns the frames moved, or
// false when nothing is queued. A packet shorter than the request ends the
// transfer short.
func (c *Controller) read(x *xfer.Transfer) (int, bool) {
	n := x.Endpoint().Address() & hal.EndpointNumberMask
	if len(c.fifos[n]) == 0 {
		return 0, false
	}
	packet := c.fifos[n][0]
	c.fifos[n] = c.fifos[n][1:]

	frames := 0
	for i := 0; i < x.Frames(); i++ {
		dst := frameData(x, i)
		got := copy(dst, packet)
		packet = packet[got:]
		x.SetFrameLen(i, got)
		frames = i + 1
		if got < len(dst) {
			break
		}
	}
	x.SetActualFrames(frames)
	return frames, true
}

// isochronous moves every frame in full. Frames share one buffer and are
// laid out back to back.
func (c *Controller) isochronous(x *xfer.Transfer) int {
	if x.IsRead() {
		buf := x.Frame(0).Bytes()
		off := 0
		for i := 0; i < x.Frames(); i++ {
			end := off + x.FrameLen(i)
			if end > len(buf) {
				end = len(buf)
			}
			pattern(buf[off:end])
			off = end
		}
	}
	x.SetActualFrames(x.Frames())
	x.Endpoint().MarkSynced()
	return x.Frames()
}

// control completes one submission of a control transfer and returns its
// code and the frames moved.
func (c *Controller) control(x *xfer.Transfer) (pkg.Code, int) {
	if x.ControlStalled() {
		return pkg.CodeStalled, 0
	}

	first := 0
	if x.ControlHeader() {
		first = 1
		if x.Device().Mode() == hal.ModeDevice {
			if len(c.setups) == 0 {
				return pkg.CodeIOError, 0
			}
			req := c.setups[0]
			c.setups = c.setups[1:]
			req.MarshalTo(x.Frame(0).Bytes())
		} else {
			var req hal.SetupPacket
			if hal.ParseSetupPacket(x.Frame(0).Bytes(), &req) {
				c.request(&req)
			}
		}
	}

	if x.IsRead() {
		for i := first; i < x.Frames(); i++ {
			pattern(frameData(x, i))
		}
	}
	x.SetActualFrames(x.Frames())
	return pkg.CodeNone, x.Frames()
}

// request applies the side effects of a standard request.
func (c *Controller) request(req *hal.SetupPacket) {
	if req.RequestType == hal.RequestTypeEndpoint &&
		req.Request == hal.RequestClearFeature &&
		req.Value == hal.FeatureEndpointHalt {
		addr := uint8(req.Index)
		c.clearedHalts = append(c.clearedHalts, addr)
		delete(c.halted, addr)
	}
}

// DMAController is a Controller that also maps transfer memory, so that
// submissions pass through the engine's DMA queue.
type DMAController struct {
	*Controller

	loads, unloads int
	loadErr        error
}

// NewDMA returns a DMA-capable controller and creates its bus with opts.
func NewDMA(cfg Config, opts xfer.Options) *DMAController {
	d := &DMAController{Controller: newController(cfg)}
	d.bus = xfer.NewBus(d, opts)
	return d
}

// FailLoads makes every later LoadDMA return err. A nil err restores
// success.
func (d *DMAController) FailLoads(err error) {
	d.bus.Lock()
	d.loadErr = err
	d.bus.Unlock()
}

// LoadDMA implements xfer.DMALoader.
func (d *DMAController) LoadDMA(*xfer.Transfer) error {
	d.loads++
	return d.loadErr
}

// UnloadDMA implements xfer.DMALoader.
func (d *DMAController) UnloadDMA(*xfer.Transfer) {
	d.bus.Lock()
	d.unloads++
	d.bus.Unlock()
}

// DMACounts returns the number of loads and unloads.
func (d *DMAController) DMACounts() (loads, unloads int) {
	d.bus.Lock()
	defer d.bus.Unlock()
	return d.loads, d.unloads
}
