// Package main runs loopback workloads against the simulated controller and
// reports transfer statistics.
//
// Each workload owns one transfer group holding a bulk IN and a bulk OUT
// transfer on its own endpoint number. Every round trip submits a read, then
// writes a payload the controller loops back into it, and checks the data.
//
// Usage:
//
//	go run ./cmd/xfersim [options]
//
// Options:
//
//	-config path       Configuration file or directory
//	-workers N         Concurrent loopback workloads, 1 to 15 (default: 4)
//	-iterations N      Round trips per workload (default: 100)
//	-size N            Payload bytes per round trip (default: 512)
//	-timeout duration  Deadline of each transfer (default: 2s)
//	-profile dir       Write CPU, heap, goroutine, block and mutex profiles
//	                   of the workload run to dir (needs -tags profile)
//	-test              Validate the configuration and exit
//
// Sending SIGHUP reloads the configuration and applies logging changes.
// When stats.type is prometheus the metrics endpoint stays up after the
// workloads finish until the process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbxfer/config"
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/pkg/prof"
	"github.com/ardnew/usbxfer/xfer"
	"github.com/ardnew/usbxfer/xfer/sim"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentSim

// Build is the version string, settable with -ldflags "-X main.Build=...".
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

var errUsage = errors.New("invalid usage")

// options are the command line settings.
type options struct {
	configPath string
	workers    int
	iterations int
	size       int
	timeout    time.Duration
	profileDir string
	configTest bool
}

// settings are the validated configuration sections.
type settings struct {
	engine  config.Engine
	logging config.Logging
	stats   config.Stats
	sim     sim.Config
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to a configuration file or directory")
	flag.IntVar(&o.workers, "workers", 4, "number of concurrent loopback workloads (1 to 15)")
	flag.IntVar(&o.iterations, "iterations", 100, "round trips per workload")
	flag.IntVar(&o.size, "size", 512, "payload bytes per round trip")
	flag.DurationVar(&o.timeout, "timeout", 2*time.Second, "deadline of each transfer")
	flag.StringVar(&o.profileDir, "profile", "", "directory for workload profiles")
	flag.BoolVar(&o.configTest, "test", false, "validate the configuration and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		pkg.LogError(component, "xfersim failed", "error", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	if o.workers < 1 || o.workers > hal.EndpointNumberMask {
		return fmt.Errorf("-workers must be between 1 and %d: %w", hal.EndpointNumberMask, errUsage)
	}
	if o.iterations < 1 || o.size < 1 {
		return fmt.Errorf("-iterations and -size must be positive: %w", errUsage)
	}

	c := config.NewC()
	if o.configPath != "" {
		if err := c.Load(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	s, err := loadSettings(c)
	if err != nil {
		return err
	}
	if o.configTest {
		fmt.Printf("config ok: engine=%+v sim=%+v stats=%s\n", s.engine, s.sim, s.stats.Type)
		return nil
	}

	s.logging.Apply()
	c.RegisterReloadCallback(reloadLogging)
	c.CatchHUP(ctx)

	registry := metrics.NewRegistry()
	opts := s.engine.Options()
	opts.Registry = registry
	ctrl := sim.New(s.sim, opts)

	if err := startStats(ctx, s.stats, registry); err != nil {
		return err
	}

	dev := ctrl.Bus().Attach(xfer.DeviceConfig{
		Speed:     hal.SpeedHigh,
		Mode:      hal.ModeHost,
		Address:   1,
		Endpoints: loopbackEndpoints(o.workers),
	})

	pkg.LogInfo(component, "starting workloads",
		"version", Build,
		"workers", o.workers,
		"iterations", o.iterations,
		"delivery", s.sim.Delivery)

	workloads := make([]*workload, 0, o.workers)
	for i := 1; i <= o.workers; i++ {
		w, err := newWorkload(dev, uint8(i), o, s.sim.Delivery == sim.DeliverPoll)
		if err != nil {
			for _, w := range workloads {
				w.close()
			}
			return err
		}
		workloads = append(workloads, w)
	}

	stopProfile, err := startProfile(o.profileDir)
	if err != nil {
		for _, w := range workloads {
			w.close()
		}
		return err
	}

	start := time.Now()
	eg, ectx := errgroup.WithContext(ctx)
	for _, w := range workloads {
		w := w
		eg.Go(func() error {
			defer w.close()
			return w.run(ectx, o.iterations)
		})
	}
	err = eg.Wait()
	stopProfile()

	report(os.Stdout, ctrl.Bus().Stats(), time.Since(start))
	if err != nil {
		return err
	}

	if s.stats.Type == config.StatsPrometheus {
		pkg.LogInfo(component, "workloads finished, serving metrics until interrupted",
			"listen", s.stats.Listen)
		<-ctx.Done()
	}
	return nil
}

func loadSettings(c *config.C) (settings, error) {
	var s settings
	var err error
	if s.engine, err = c.Engine(); err != nil {
		return s, err
	}
	if s.logging, err = c.Logging(); err != nil {
		return s, err
	}
	if s.stats, err = c.Stats(); err != nil {
		return s, err
	}
	if s.sim, err = c.Sim(s.engine); err != nil {
		return s, err
	}
	return s, nil
}

// startProfile begins a profiling session when dir is set and returns the
// function that ends it.
func startProfile(dir string) (func(), error) {
	if dir == "" {
		return func() {}, nil
	}
	if !prof.Enabled {
		pkg.LogWarn(component, "built without the profile tag, no profiles will be written", "dir", dir)
	}
	s, err := prof.Start(dir)
	if err != nil {
		return nil, fmt.Errorf("start profile: %w", err)
	}
	return func() {
		if err := s.Stop(); err != nil {
			pkg.LogError(component, "write profiles", "dir", s.Dir(), "error", err)
			return
		}
		pkg.LogInfo(component, "profiles written", "dir", s.Dir())
	}, nil
}

// reloadLogging applies a changed logging section. The engine and stats
// sections only take effect at startup.
func reloadLogging(c *config.C) {
	if !c.HasChanged("logging") {
		return
	}
	l, err := c.Logging()
	if err != nil {
		pkg.LogError(component, "ignoring logging change", "error", err)
		return
	}
	l.Apply()
	pkg.LogInfo(component, "logging reconfigured", "level", l.Level)
}

// loopbackEndpoints returns a bulk IN and OUT endpoint pair for each
// endpoint number 1 to n.
func loopbackEndpoints(n int) []hal.EndpointDescriptor {
	descs := make([]hal.EndpointDescriptor, 0, 2*n)
	for i := 1; i <= n; i++ {
		descs = append(descs,
			hal.EndpointDescriptor{Address: uint8(i), Attributes: uint8(hal.TransferBulk), MaxPacketSize: 512},
			hal.EndpointDescriptor{Address: 0x80 | uint8(i), Attributes: uint8(hal.TransferBulk), MaxPacketSize: 512},
		)
	}
	return descs
}
