package xfer

import (
	"fmt"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/ardnew/usbxfer/hal"
	"github.com/ardnew/usbxfer/pkg"
)

// Outcome classifies a completion for statistics.
type Outcome uint8

// Completion outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeError
	OutcomeCancelled
	numOutcomes
)

// String returns the outcome name used in metric names.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// outcomeOf maps a completion code to its outcome.
func outcomeOf(code pkg.Code) Outcome {
	switch code {
	case pkg.CodeNone:
		return OutcomeOK
	case pkg.CodeCancelled:
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

const numTypes = 4

// Stats counts completions per transfer type and outcome and times them
// from submission. Metrics are named transfer.<type>.<outcome> and
// transfer.latency in the bus registry.
type Stats struct {
	registry metrics.Registry
	counters [numTypes][numOutcomes]metrics.Counter
	latency  metrics.Timer
}

func newStats(r metrics.Registry) *Stats {
	if r == nil {
		r = metrics.NewRegistry()
	}
	s := &Stats{registry: r}
	for t := range s.counters {
		for o := range s.counters[t] {
			name := fmt.Sprintf("transfer.%s.%s", hal.TransferType(t), Outcome(o))
			s.counters[t][o] = metrics.GetOrRegisterCounter(name, r)
		}
	}
	s.latency = metrics.GetOrRegisterTimer("transfer.latency", r)
	return s
}

func (s *Stats) record(t hal.TransferType, code pkg.Code, submitted time.Time) {
	if int(t) >= numTypes {
		return
	}
	s.counters[t][outcomeOf(code)].Inc(1)
	if !submitted.IsZero() {
		s.latency.UpdateSince(submitted)
	}
}

// Registry returns the registry holding the metrics.
func (s *Stats) Registry() metrics.Registry { return s.registry }

// Count returns the number of completions of type t with outcome o.
func (s *Stats) Count(t hal.TransferType, o Outcome) int64 {
	if int(t) >= numTypes || o >= numOutcomes {
		return 0
	}
	return s.counters[t][o].Count()
}

// Total returns the number of completions with outcome o across all types.
func (s *Stats) Total(o Outcome) int64 {
	var n int64
	for t := range s.counters {
		n += s.Count(hal.TransferType(t), o)
	}
	return n
}

// Latency returns a snapshot of the completion latency timer.
func (s *Stats) Latency() metrics.Timer { return s.latency.Snapshot() }

// Each calls fn for every type and outcome pair.
func (s *Stats) Each(fn func(t hal.TransferType, o Outcome, n int64)) {
	for t := range s.counters {
		for o := range s.counters[t] {
			fn(hal.TransferType(t), Outcome(o), s.counters[t][o].Count())
		}
	}
}
