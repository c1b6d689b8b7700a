// Package latency tracks pipeline traversal times in a bounded ring and
// derives quantile statistics for the status commands.
package latency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

const (
	ringCapacity = 1000

	// slowSampleThreshold marks a single traversal worth warning about.
	slowSampleThreshold = 5 * time.Second
)

// Stats summarises a set of samples. Quantiles use the sorted-array method.
type Stats struct {
	Count  int
	MinMs  float64
	MaxMs  float64
	MeanMs float64
	P50Ms  float64
	P95Ms  float64
	P99Ms  float64
}

// Monitor implements core.ILatencyMonitor over a fixed ring.
type Monitor struct {
	clock   core.Clock
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	mu      sync.Mutex
	samples []core.LatencySample
	next    int
	full    bool
}

func NewMonitor(clock core.Clock, logger core.ILogger) *Monitor {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Monitor{
		clock:   clock,
		logger:  logger.WithField("component", "latency_monitor"),
		metrics: telemetry.GetGlobalMetrics(),
		samples: make([]core.LatencySample, ringCapacity),
	}
}

// RecordSignal stores a signal traversal sample.
func (m *Monitor) RecordSignal(sample core.LatencySample) {
	sample.Kind = core.LatencySignal
	m.record(sample)
	m.metrics.RecordLatency(context.Background(), "signal", sample.TotalLatencyMs)
}

// RecordOrder stores an order lifecycle sample.
func (m *Monitor) RecordOrder(sample core.LatencySample) {
	sample.Kind = core.LatencyOrder
	m.record(sample)
}

// SignalLatency builds and records a sample from a signal's origin timestamp.
func (m *Monitor) SignalLatency(signal *core.Signal) {
	now := m.clock.Now()
	m.RecordSignal(core.LatencySample{
		Source:         signal.Source,
		TotalLatencyMs: float64(now.Sub(signal.Timestamp).Milliseconds()),
		At:             now,
	})
}

func (m *Monitor) record(sample core.LatencySample) {
	if sample.At.IsZero() {
		sample.At = m.clock.Now()
	}
	if sample.TotalLatencyMs > float64(slowSampleThreshold.Milliseconds()) {
		m.logger.Warn("Slow pipeline traversal",
			"kind", string(sample.Kind),
			"source", sample.Source,
			"totalMs", sample.TotalLatencyMs)
	}

	m.mu.Lock()
	m.samples[m.next] = sample
	m.next = (m.next + 1) % ringCapacity
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// snapshot returns the stored samples, oldest first.
func (m *Monitor) snapshot() []core.LatencySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return append([]core.LatencySample(nil), m.samples[:m.next]...)
	}
	out := make([]core.LatencySample, 0, ringCapacity)
	out = append(out, m.samples[m.next:]...)
	out = append(out, m.samples[:m.next]...)
	return out
}

// Stats summarises samples of the given kind within the trailing window.
// A zero window covers the whole ring.
func (m *Monitor) Stats(kind core.LatencyKind, window time.Duration) Stats {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = m.clock.Now().Add(-window)
	}

	var values []float64
	for _, s := range m.snapshot() {
		if s.Kind != kind {
			continue
		}
		if !cutoff.IsZero() && s.At.Before(cutoff) {
			continue
		}
		values = append(values, s.TotalLatencyMs)
	}
	return computeStats(values)
}

// StatsBySource pivots the same ring per source.
func (m *Monitor) StatsBySource(kind core.LatencyKind, window time.Duration) map[string]Stats {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = m.clock.Now().Add(-window)
	}

	grouped := map[string][]float64{}
	for _, s := range m.snapshot() {
		if s.Kind != kind {
			continue
		}
		if !cutoff.IsZero() && s.At.Before(cutoff) {
			continue
		}
		grouped[s.Source] = append(grouped[s.Source], s.TotalLatencyMs)
	}

	out := make(map[string]Stats, len(grouped))
	for source, values := range grouped {
		out[source] = computeStats(values)
	}
	return out
}

func computeStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return Stats{
		Count:  len(values),
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		MeanMs: sum / float64(len(values)),
		P50Ms:  quantile(values, 0.50),
		P95Ms:  quantile(values, 0.95),
		P99Ms:  quantile(values, 0.99),
	}
}

// quantile indexes the sorted array at ceil(q*n)-1.
func quantile(sorted []float64, q float64) float64 {
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
