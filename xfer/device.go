package xfer

import (
	"fmt"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// DeviceConfig describes a device attached to a bus.
type DeviceConfig struct {
	Speed   hal.Speed
	Mode    hal.Mode
	Address uint8

	// ControlMaxPacket is the packet size of endpoint 0. Zero selects the
	// default for the speed.
	ControlMaxPacket uint16

	// Endpoints are the non-default endpoints of the active configuration.
	Endpoints []hal.EndpointDescriptor
}

// Device is a peripheral on a bus, seen from either side of the wire.
type Device struct {
	bus     *Bus
	speed   hal.Speed
	mode    hal.Mode
	address uint8

	gone         bool
	endpoints    []*Endpoint
	stallHandler func(ep *Endpoint)
}

// defaultControlPacket returns the endpoint 0 packet size for speed.
func defaultControlPacket(speed hal.Speed) uint16 {
	switch speed {
	case hal.SpeedLow:
		return 8
	case hal.SpeedVariable, hal.SpeedSuper:
		return 512
	default:
		return 64
	}
}

// Attach adds a device to the bus. Endpoint 0 is always present.
func (b *Bus) Attach(cfg DeviceConfig) *Device {
	d := &Device{
		bus:     b,
		speed:   cfg.Speed,
		mode:    cfg.Mode,
		address: cfg.Address,
	}
	mps := cfg.ControlMaxPacket
	if mps == 0 {
		mps = defaultControlPacket(cfg.Speed)
	}
	d.endpoints = append(d.endpoints, newEndpoint(d, hal.EndpointDescriptor{
		Address:       0,
		Attributes:    uint8(hal.TransferControl),
		MaxPacketSize: mps,
	}))
	for _, desc := range cfg.Endpoints {
		d.endpoints = append(d.endpoints, newEndpoint(d, desc))
	}
	pkg.LogDebug(pkg.ComponentBus, "device attached",
		"address", cfg.Address, "speed", cfg.Speed, "mode", cfg.Mode,
		"endpoints", len(d.endpoints))
	return d
}

// Bus returns the bus the device is attached to.
func (d *Device) Bus() *Bus { return d.bus }

// Speed returns the negotiated speed.
func (d *Device) Speed() hal.Speed { return d.speed }

// Mode returns which side of the wire the controller plays.
func (d *Device) Mode() hal.Mode { return d.mode }

// Address returns the bus address.
func (d *Device) Address() uint8 { return d.address }

// Detach marks the device gone. Later submissions complete as cancelled.
func (d *Device) Detach() {
	d.bus.mu.Lock()
	d.gone = true
	d.bus.mu.Unlock()
	pkg.LogInfo(pkg.ComponentBus, "device detached", "address", d.address)
}

// Gone reports whether the device was detached.
func (d *Device) Gone() bool {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	return d.gone
}

// Endpoints returns the endpoint table, endpoint 0 first.
func (d *Device) Endpoints() []*Endpoint {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	return append([]*Endpoint(nil), d.endpoints...)
}

// Endpoint returns the endpoint with the given address, or nil.
func (d *Device) Endpoint(address uint8) *Endpoint {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	for _, ep := range d.endpoints {
		if ep.desc.Address == address {
			return ep
		}
	}
	return nil
}

// Reconfigure replaces the non-default endpoints. It fails with
// pkg.ErrBusy while any transfer is set up on an endpoint being replaced.
func (d *Device) Reconfigure(descs []hal.EndpointDescriptor) error {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	for _, ep := range d.endpoints[1:] {
		if ep.refcount != 0 {
			return fmt.Errorf("reconfigure endpoint 0x%02x: %w", ep.desc.Address, pkg.ErrBusy)
		}
	}
	eps := d.endpoints[:1:1]
	for _, desc := range descs {
		eps = append(eps, newEndpoint(d, desc))
	}
	d.endpoints = eps
	return nil
}

// SetStallHandler installs the routine that services host-side stall
// requests. It runs on the group worker with the client lock held, and
// typically starts a clear-stall handshake.
func (d *Device) SetStallHandler(fn func(ep *Endpoint)) {
	d.bus.mu.Lock()
	d.stallHandler = fn
	d.bus.mu.Unlock()
}

// SetEndpointStall halts or resumes ep directly through the bus driver.
// Resuming resets the data toggle and restarts the endpoint queue.
func (d *Device) SetEndpointStall(ep *Endpoint, stall bool) {
	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	wasStalled := ep.stalled
	if wasStalled && stall {
		return
	}
	ep.stalled = true
	if stall || !wasStalled {
		b.drv.SetStall(d, ep)
	}
	if !stall {
		ep.clearStallLocked()
	}
}

// ClearDataToggle resets the data toggle of ep.
func (d *Device) ClearDataToggle(ep *Endpoint) {
	d.bus.mu.Lock()
	ep.toggle = 0
	d.bus.mu.Unlock()
}

// lookup finds the endpoint matching cfg. The caller must hold the bus lock.
func (d *Device) lookup(cfg *Config) *Endpoint {
	for _, ep := range d.endpoints {
		if ep.desc.TransferType() != cfg.Type {
			continue
		}
		if cfg.Endpoint != EndpointAny && ep.desc.Number() != cfg.Endpoint&hal.EndpointNumberMask {
			continue
		}
		if cfg.Type != hal.TransferControl {
			switch cfg.Direction {
			case DirIn:
				if !ep.desc.IsIn() {
					continue
				}
			case DirOut:
				if ep.desc.IsIn() {
					continue
				}
			}
		}
		return ep
	}
	return nil
}
