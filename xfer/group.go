package xfer

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// Group is the shared context of transfers set up together: their client
// lock, completion queue, DMA queue, worker and memory arena.
type Group struct {
	bus  *Bus
	dev  *Device
	lock sync.Locker

	drainCond *sync.Cond
	doneQ     WorkQueue
	dmaQ      WorkQueue
	w         *worker

	transfers []*Transfer
	arena     *arena
	setupRef  int

	held        bool // the context driving doneQ holds the client lock
	donePending bool // a replay message is queued for the worker
}

// Setup configures one transfer per entry of cfgs on the device. lock is
// the client lock that serializes callbacks; nil selects a private mutex.
//
// Setup is all or nothing: a configuration error leaves no endpoint
// claimed and no memory allocated. Entries with FlagNoPipeOK that match no
// endpoint get a nil slot in Transfers.
func (d *Device) Setup(lock sync.Locker, cfgs []Config) (*Group, error) {
	b := d.bus
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("setup: no transfers: %w", pkg.ErrInvalid)
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}

	g := &Group{
		bus:  b,
		dev:  d,
		lock: lock,
	}
	g.drainCond = sync.NewCond(lock)
	g.doneQ.init(g.callbackWrapper)
	g.dmaQ.init(dmaLoad)

	_, dma := b.drv.(DMALoader)

	b.mu.Lock()
	defer b.mu.Unlock()

	type plan struct {
		ep   *Endpoint
		geom Geometry
	}
	plans := make([]plan, len(cfgs))
	var size arenaSize

	for i := range cfgs {
		cfg := &cfgs[i]
		if cfg.Callback == nil {
			return nil, fmt.Errorf("setup transfer %d: no callback: %w", i, pkg.ErrInvalid)
		}
		ep := d.lookup(cfg)
		if ep != nil && ep.owner != nil {
			ep = nil
		}
		if ep == nil {
			if cfg.Flags&FlagNoPipeOK != 0 {
				continue
			}
			return nil, fmt.Errorf("setup transfer %d: type %s endpoint %d: %w",
				i, cfg.Type, cfg.Endpoint, pkg.ErrNoPipe)
		}

		timeout := cfg.Timeout
		if timeout == 0 && cfg.Type != hal.TransferIsochronous {
			timeout = b.opts.DefaultTimeout
		}
		geom, code := Plan(PlanInput{
			Type:       cfg.Type,
			Speed:      d.speed,
			Descriptor: ep.desc,
			Limits:     b.limits,
			BufSize:    cfg.BufSize,
			Frames:     cfg.Frames,
			Interval:   cfg.Interval,
			Timeout:    timeout,
			IsoTimeout: b.opts.IsoDefaultTimeout,
			Flags:      cfg.Flags,
		})
		if code != pkg.CodeNone {
			return nil, fmt.Errorf("setup transfer %d: %w", i, code.Err())
		}
		plans[i] = plan{ep: ep, geom: geom}
		size.add(&geom)
	}

	if b.opts.MaxArenaSize > 0 && size.bytes() > b.opts.MaxArenaSize {
		return nil, fmt.Errorf("setup: %d bytes exceeds limit %d: %w",
			size.bytes(), b.opts.MaxArenaSize, pkg.ErrNoMemory)
	}

	g.arena = newArena(size)
	g.transfers = make([]*Transfer, len(cfgs))
	endpoints := 0
	for i := range cfgs {
		p := &plans[i]
		if p.ep == nil {
			continue
		}
		cfg := &cfgs[i]
		x, buf, lengths, shadow, frames := g.arena.carve(&p.geom)
		*x = Transfer{
			group:    g,
			ep:       p.ep,
			index:    i,
			typ:      cfg.Type,
			geom:     p.geom,
			flags:    cfg.Flags,
			callback: cfg.Callback,
			priv:     cfg.Priv,
			interval: p.geom.Interval,
			timeout:  p.geom.Timeout,
			lengths:  lengths,
			shadow:   shadow,
			frames:   frames,
			nframes:  p.geom.Frames,
			dirIn:    p.ep.desc.IsIn(),
		}
		if cfg.Flags&FlagExtBuffer == 0 {
			x.buffer = buf
			if len(frames) > 0 {
				frames[0].data = buf
			}
			if cfg.Type == hal.TransferControl && len(frames) > 1 {
				frames[1].data = buf[headerSize:]
			}
		}
		if dma {
			x.state |= stBDMAEnable
		}
		g.transfers[i] = x
	}

	// Claim endpoints only once every stage has succeeded.
	for _, x := range g.transfers {
		if x == nil {
			continue
		}
		if x.ep.refcount == 0 {
			endpoints++
		}
		x.ep.refcount++
		x.ep.owner = g
		g.setupRef++
	}

	if g.setupRef == 0 {
		pkg.LogDebug(pkg.ComponentEngine, "group setup matched no endpoint", "device", d.address)
		return g, nil
	}

	g.w = newWorker(g, 1+endpoints+b.opts.WorkerQueue)
	go g.w.run()

	pkg.LogDebug(pkg.ComponentEngine, "group setup",
		"device", d.address, "transfers", g.setupRef, "arena", size.bytes())
	return g, nil
}

// Bus returns the bus of the group.
func (g *Group) Bus() *Bus { return g.bus }

// Device returns the device of the group.
func (g *Group) Device() *Device { return g.dev }

// Transfers returns the transfers in setup order. Unmatched optional
// entries are nil.
func (g *Group) Transfers() []*Transfer { return g.transfers }

// Transfer returns the transfer set up from cfgs[i].
func (g *Group) Transfer(i int) *Transfer { return g.transfers[i] }

// Lock acquires the client lock.
func (g *Group) Lock() { g.lock.Lock() }

// Unlock releases the client lock.
func (g *Group) Unlock() { g.lock.Unlock() }

// Unsetup drains every transfer, waits out the DMA settle delay, releases
// the endpoints and stops the worker. The caller must not hold the client
// lock. Calling Unsetup again has no effect.
func (g *Group) Unsetup() {
	b := g.bus

	b.mu.Lock()
	if g.setupRef == 0 {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	var eg errgroup.Group
	for _, x := range g.transfers {
		if x == nil {
			continue
		}
		x := x
		eg.Go(func() error {
			x.Drain()
			return nil
		})
	}
	_ = eg.Wait()

	b.mu.Lock()
	needsDelay := false
	for _, x := range g.transfers {
		if x == nil {
			continue
		}
		if x.state&stBDMAEnable != 0 {
			needsDelay = true
		}
		x.stopTimer()
		x.ep.refcount--
		if x.ep.refcount == 0 {
			x.ep.owner = nil
		}
		g.setupRef--
	}
	delay := time.Duration(0)
	if needsDelay {
		delay = b.dmaDelay(g.dev)
	}
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	g.w.stop()

	if loader, ok := b.drv.(DMALoader); ok {
		for _, x := range g.transfers {
			if x != nil && x.state&stBDMAEnable != 0 {
				loader.UnloadDMA(x)
			}
		}
	}
	g.arena.release()
	pkg.LogDebug(pkg.ComponentEngine, "group unsetup", "device", g.dev.address)
}
