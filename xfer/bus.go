package xfer

import (
	"sync"
	"time"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// BusDriver programs a controller on behalf of the engine. Every method
// except Limits is called with the bus lock held and must not block.
//
// Enter and Start report failures with Transfer.SetError. A driver finishes
// a started transfer with Transfer.Done, either from inside Start or later
// from its own goroutine after taking the lock with Bus.Lock. Close cancels
// in-flight hardware work; the engine completes the transfer itself, so
// Close must not call Done.
type BusDriver interface {
	// Limits reports the controller packet limits.
	Limits() hal.Limits

	// Open claims per-transfer hardware resources. Called once per open.
	Open(x *Transfer)

	// Close cancels hardware work on x. It must tolerate repeated calls.
	Close(x *Transfer)

	// Enter claims a schedule slot for x.
	Enter(x *Transfer)

	// Start issues x to the hardware.
	Start(x *Transfer)

	// SetStall halts ep and reports whether the hardware did so itself.
	SetStall(dev *Device, ep *Endpoint) bool

	// ClearStall resets the hardware halt and toggle state of ep.
	ClearStall(dev *Device, ep *Endpoint)

	// DMADelay is the upper bound on DMA activity after a cancel.
	DMADelay(dev *Device) time.Duration
}

// DMALoader is implemented by drivers that map transfer memory before it
// can enter the schedule. Transfers of such a bus pass through their
// group's DMA queue on every submission.
type DMALoader interface {
	// LoadDMA maps the frames of x. Called with the bus lock held.
	LoadDMA(x *Transfer) error

	// UnloadDMA releases the mappings of x at teardown. Called without locks.
	UnloadDMA(x *Transfer)
}

// Poller is implemented by drivers that can scan for completions without
// interrupts. Poll is called without any engine lock held.
type Poller interface {
	Poll()
}

// Bus is one controller. Its lock serializes every endpoint and queue of
// every device attached to it.
type Bus struct {
	mu      sync.Mutex
	drv     BusDriver
	limits  hal.Limits
	opts    Options
	stats   *Stats
	polling bool
}

// NewBus wraps drv. A driver reporting zero limits gets hal.DefaultLimits.
func NewBus(drv BusDriver, opts Options) *Bus {
	limits := drv.Limits()
	if limits.MaxPacketSize == 0 {
		limits.MaxPacketSize = hal.DefaultLimits.MaxPacketSize
	}
	if limits.MaxPacketCount == 0 {
		limits.MaxPacketCount = hal.DefaultLimits.MaxPacketCount
	}
	b := &Bus{
		drv:    drv,
		limits: limits,
		opts:   opts,
		stats:  newStats(opts.Registry),
	}
	pkg.LogDebug(pkg.ComponentBus, "bus created",
		"max_packet_size", limits.MaxPacketSize,
		"max_packet_count", limits.MaxPacketCount)
	return b
}

// Lock acquires the bus lock. Drivers take it before calling Done from
// their own goroutines.
func (b *Bus) Lock() { b.mu.Lock() }

// Unlock releases the bus lock.
func (b *Bus) Unlock() { b.mu.Unlock() }

// Driver returns the bus driver.
func (b *Bus) Driver() BusDriver { return b.drv }

// Limits returns the effective controller limits.
func (b *Bus) Limits() hal.Limits { return b.limits }

// Options returns the engine options.
func (b *Bus) Options() Options { return b.opts }

// Stats returns the transfer statistics of the bus.
func (b *Bus) Stats() *Stats { return b.stats }

// dmaDelay returns the settle delay for dev rounded up to whole
// milliseconds.
func (b *Bus) dmaDelay(dev *Device) time.Duration {
	d := b.opts.DMADelay
	if d == 0 {
		d = b.drv.DMADelay(dev)
	}
	if d <= 0 {
		return 0
	}
	if r := d % time.Millisecond; r != 0 {
		d += time.Millisecond - r
	}
	return d
}
