package config

import (
	"fmt"
	"log/slog"
	"time"

	"dario.cat/mergo"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/xfer"
	"github.com/ardnew/usbxfer/xfer/sim"
)

// Engine holds the engine tunables under the engine key.
type Engine struct {
	DMADelay          time.Duration // engine.dma_delay
	DefaultTimeout    time.Duration // engine.default_timeout
	IsoDefaultTimeout time.Duration // engine.iso_default_timeout
	WorkerQueue       int           // engine.worker_queue
	MaxArenaSize      int           // engine.max_arena_size
	Limits            hal.Limits    // engine.hc_max_packet_size, engine.hc_max_packet_count, engine.hc_max_frame_size
}

// DefaultEngine fills every engine setting left at zero.
var DefaultEngine = Engine{
	IsoDefaultTimeout: 250 * time.Millisecond,
	WorkerQueue:       64,
	Limits:            hal.DefaultLimits,
}

// Engine returns the validated engine section merged over DefaultEngine.
func (c *C) Engine() (Engine, error) {
	var e Engine
	var err error

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"engine.dma_delay", &e.DMADelay},
		{"engine.default_timeout", &e.DefaultTimeout},
		{"engine.iso_default_timeout", &e.IsoDefaultTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = c.durationSetting(d.key, 0); err != nil {
			return Engine{}, err
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"engine.worker_queue", &e.WorkerQueue},
		{"engine.max_arena_size", &e.MaxArenaSize},
		{"engine.hc_max_packet_size", &e.Limits.MaxPacketSize},
		{"engine.hc_max_packet_count", &e.Limits.MaxPacketCount},
		{"engine.hc_max_frame_size", &e.Limits.MaxFrameSize},
	}
	for _, i := range ints {
		if *i.dst, err = c.intSetting(i.key, 0); err != nil {
			return Engine{}, err
		}
		if *i.dst < 0 {
			return Engine{}, fmt.Errorf("%s: negative value %d: %w", i.key, *i.dst, ErrInvalidSetting)
		}
	}

	if err := mergo.Merge(&e, DefaultEngine); err != nil {
		return Engine{}, err
	}

	if e.Limits.MaxPacketCount > 3 {
		return Engine{}, fmt.Errorf("engine.hc_max_packet_count: %d exceeds 3: %w",
			e.Limits.MaxPacketCount, ErrInvalidSetting)
	}
	if e.Limits.MaxFrameSize != 0 && e.Limits.MaxFrameSize < e.Limits.MaxPacketSize {
		return Engine{}, fmt.Errorf("engine.hc_max_frame_size: %d is below the packet size %d: %w",
			e.Limits.MaxFrameSize, e.Limits.MaxPacketSize, ErrInvalidSetting)
	}
	return e, nil
}

// Options converts the engine section into bus options.
func (e Engine) Options() xfer.Options {
	return xfer.Options{
		DMADelay:          e.DMADelay,
		DefaultTimeout:    e.DefaultTimeout,
		IsoDefaultTimeout: e.IsoDefaultTimeout,
		WorkerQueue:       e.WorkerQueue,
		MaxArenaSize:      e.MaxArenaSize,
	}
}

// Logging holds the logging key.
type Logging struct {
	Level  slog.Level    // logging.level
	Format pkg.LogFormat // logging.format
}

// Logging returns the validated logging section. The default level is
// warn and the default format is text.
func (c *C) Logging() (Logging, error) {
	level, err := pkg.ParseLogLevel(c.GetString("logging.level", "warn"))
	if err != nil {
		return Logging{}, fmt.Errorf("logging.level: %w: %w", err, ErrInvalidSetting)
	}
	format, err := pkg.ParseLogFormat(c.GetString("logging.format", "text"))
	if err != nil {
		return Logging{}, fmt.Errorf("logging.format: %w: %w", err, ErrInvalidSetting)
	}
	return Logging{Level: level, Format: format}, nil
}

// Apply configures the default logger.
func (l Logging) Apply() {
	pkg.SetLogLevel(l.Level)
	pkg.SetLogFormat(l.Format)
}

// Stats export types.
const (
	StatsNone       = "none"
	StatsPrometheus = "prometheus"
)

// Stats holds the stats key.
type Stats struct {
	Type      string        // stats.type
	Listen    string        // stats.listen
	Path      string        // stats.path
	Namespace string        // stats.namespace
	Subsystem string        // stats.subsystem
	Interval  time.Duration // stats.interval
}

// DefaultStats fills every stats setting left empty.
var DefaultStats = Stats{
	Type:      StatsNone,
	Path:      "/metrics",
	Namespace: "usbxfer",
	Subsystem: "engine",
	Interval:  10 * time.Second,
}

// Stats returns the validated stats section merged over DefaultStats.
func (c *C) Stats() (Stats, error) {
	s := Stats{
		Type:      c.GetString("stats.type", ""),
		Listen:    c.GetString("stats.listen", ""),
		Path:      c.GetString("stats.path", ""),
		Namespace: c.GetString("stats.namespace", ""),
		Subsystem: c.GetString("stats.subsystem", ""),
	}
	var err error
	if s.Interval, err = c.durationSetting("stats.interval", 0); err != nil {
		return Stats{}, err
	}
	if err := mergo.Merge(&s, DefaultStats); err != nil {
		return Stats{}, err
	}

	switch s.Type {
	case StatsNone:
	case StatsPrometheus:
		if s.Listen == "" {
			return Stats{}, fmt.Errorf("stats.listen must be set for prometheus: %w", ErrInvalidSetting)
		}
		if s.Interval < time.Second {
			return Stats{}, fmt.Errorf("stats.interval: %s is below 1s: %w", s.Interval, ErrInvalidSetting)
		}
	default:
		return Stats{}, fmt.Errorf("stats.type: unknown type %q: %w", s.Type, ErrInvalidSetting)
	}
	return s, nil
}

// Sim returns the simulated controller settings under the sim key. The
// controller limits come from the engine section.
func (c *C) Sim(e Engine) (sim.Config, error) {
	delivery, ok := sim.ParseDelivery(c.GetString("sim.delivery", ""))
	if !ok {
		return sim.Config{}, fmt.Errorf("sim.delivery: unknown mode %q: %w",
			c.GetString("sim.delivery", ""), ErrInvalidSetting)
	}
	latency, err := c.durationSetting("sim.latency", time.Millisecond)
	if err != nil {
		return sim.Config{}, err
	}
	dmaDelay, err := c.durationSetting("sim.dma_delay", 0)
	if err != nil {
		return sim.Config{}, err
	}
	return sim.Config{
		Limits:   e.Limits,
		Delivery: delivery,
		Latency:  latency,
		DMADelay: dmaDelay,
	}, nil
}
