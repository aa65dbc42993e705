package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"text/tabwriter"
	"time"

	mp "github.com/nbrownus/go-metrics-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/usbxfer/config"
	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
	"github.com/ardnew/usbxfer/xfer"
)

// startStats exports r according to s until ctx is done.
func startStats(ctx context.Context, s config.Stats, r metrics.Registry) error {
	switch s.Type {
	case config.StatsNone:
		return nil
	case config.StatsPrometheus:
		return startPrometheusStats(ctx, s, r)
	default:
		return fmt.Errorf("stats.type was not understood: %s", s.Type)
	}
}

func startPrometheusStats(ctx context.Context, s config.Stats, r metrics.Registry) error {
	pr := prometheus.NewRegistry()
	provider := mp.NewPrometheusProvider(r, s.Namespace, s.Subsystem, pr, s.Interval)
	go provider.UpdatePrometheusMetrics()

	// Export version information as labels on a static gauge
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: s.Namespace,
		Subsystem: s.Subsystem,
		Name:      "info",
		Help:      "Version information for the xfersim binary",
		ConstLabels: prometheus.Labels{
			"version":   Build,
			"goversion": runtime.Version(),
		},
	})
	pr.MustRegister(g)
	g.Set(1)

	ln, err := net.Listen("tcp", s.Listen)
	if err != nil {
		return fmt.Errorf("stats listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.Path, promhttp.HandlerFor(pr, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		pkg.LogInfo(component, "prometheus stats listening", "listen", ln.Addr().String(), "path", s.Path)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogError(component, "prometheus stats server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return nil
}

// report writes the per-type outcome counts and the latency summary.
func report(w io.Writer, s *xfer.Stats, elapsed time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tOUTCOME\tCOUNT")
	s.Each(func(t hal.TransferType, o xfer.Outcome, n int64) {
		if n == 0 {
			return
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t, o, n)
	})
	tw.Flush()

	lat := s.Latency()
	fmt.Fprintf(w, "elapsed %s, %d transfers, latency mean %s p99 %s max %s\n",
		elapsed.Round(time.Millisecond),
		lat.Count(),
		time.Duration(lat.Mean()).Round(time.Microsecond),
		time.Duration(lat.Percentile(0.99)).Round(time.Microsecond),
		time.Duration(lat.Max()).Round(time.Microsecond))
}
