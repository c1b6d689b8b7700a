package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersEnqueuedTotal   = "copybridge_orders_enqueued_total"
	MetricOrdersPlacedTotal     = "copybridge_orders_placed_total"
	MetricOrdersFailedTotal     = "copybridge_orders_failed_total"
	MetricOrdersRetriedTotal    = "copybridge_orders_retried_total"
	MetricSignalsSkippedTotal   = "copybridge_signals_skipped_total"
	MetricBroadcastsTotal       = "copybridge_broadcasts_total"
	MetricBroadcastFailures     = "copybridge_broadcast_failures_total"
	MetricStreamEventsTotal     = "copybridge_stream_events_total"
	MetricQueueDepth            = "copybridge_queue_depth"
	MetricActiveOrders          = "copybridge_active_orders"
	MetricLatencySignal         = "copybridge_latency_signal_ms"
	MetricLatencyOrder          = "copybridge_latency_order_ms"
)

// MetricsHolder holds the initialized instruments.
type MetricsHolder struct {
	OrdersEnqueuedTotal metric.Int64Counter
	OrdersPlacedTotal   metric.Int64Counter
	OrdersFailedTotal   metric.Int64Counter
	OrdersRetriedTotal  metric.Int64Counter
	SignalsSkippedTotal metric.Int64Counter
	BroadcastsTotal     metric.Int64Counter
	BroadcastFailures   metric.Int64Counter
	StreamEventsTotal   metric.Int64Counter
	QueueDepth          metric.Int64ObservableGauge
	ActiveOrders        metric.Int64ObservableGauge
	LatencySignal       metric.Float64Histogram
	LatencyOrder        metric.Float64Histogram

	mu           sync.RWMutex
	queueDepth   int64
	activeOrders int64
	initialized  bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.OrdersEnqueuedTotal, err = meter.Int64Counter(MetricOrdersEnqueuedTotal,
		metric.WithDescription("Total orders accepted into the queue")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Total orders placed at the broker")); err != nil {
		return err
	}
	if m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal,
		metric.WithDescription("Total order placements that failed")); err != nil {
		return err
	}
	if m.OrdersRetriedTotal, err = meter.Int64Counter(MetricOrdersRetriedTotal,
		metric.WithDescription("Total TIF retries after intersession rejection")); err != nil {
		return err
	}
	if m.SignalsSkippedTotal, err = meter.Int64Counter(MetricSignalsSkippedTotal,
		metric.WithDescription("Total signals skipped by policy gates")); err != nil {
		return err
	}
	if m.BroadcastsTotal, err = meter.Int64Counter(MetricBroadcastsTotal,
		metric.WithDescription("Total per-tier fill broadcasts attempted")); err != nil {
		return err
	}
	if m.BroadcastFailures, err = meter.Int64Counter(MetricBroadcastFailures,
		metric.WithDescription("Total per-tier fill broadcasts that failed")); err != nil {
		return err
	}
	if m.StreamEventsTotal, err = meter.Int64Counter(MetricStreamEventsTotal,
		metric.WithDescription("Total account stream events received")); err != nil {
		return err
	}
	if m.LatencySignal, err = meter.Float64Histogram(MetricLatencySignal,
		metric.WithDescription("Signal receipt to processing latency"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.LatencyOrder, err = meter.Float64Histogram(MetricLatencyOrder,
		metric.WithDescription("Order enqueue to completion latency"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth,
		metric.WithDescription("Orders currently waiting in the priority queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		})); err != nil {
		return err
	}
	if m.ActiveOrders, err = meter.Int64ObservableGauge(MetricActiveOrders,
		metric.WithDescription("Orders currently in flight at the broker"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.activeOrders)
			return nil
		})); err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// SetQueueDepth updates the queue depth gauge state.
func (m *MetricsHolder) SetQueueDepth(depth int) {
	m.mu.Lock()
	m.queueDepth = int64(depth)
	m.mu.Unlock()
}

// SetActiveOrders updates the in-flight gauge state.
func (m *MetricsHolder) SetActiveOrders(n int) {
	m.mu.Lock()
	m.activeOrders = int64(n)
	m.mu.Unlock()
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// CountSkip increments the skip counter with the structured reason.
func (m *MetricsHolder) CountSkip(ctx context.Context, reason string) {
	if !m.ready() {
		return
	}
	m.SignalsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// CountEnqueued increments the enqueue counter.
func (m *MetricsHolder) CountEnqueued(ctx context.Context) {
	if m.ready() {
		m.OrdersEnqueuedTotal.Add(ctx, 1)
	}
}

// CountPlaced increments the placement counter.
func (m *MetricsHolder) CountPlaced(ctx context.Context, symbol string) {
	if m.ready() {
		m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
}

// CountFailed increments the failure counter.
func (m *MetricsHolder) CountFailed(ctx context.Context, symbol string) {
	if m.ready() {
		m.OrdersFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
	}
}

// CountRetried increments the TIF retry counter.
func (m *MetricsHolder) CountRetried(ctx context.Context) {
	if m.ready() {
		m.OrdersRetriedTotal.Add(ctx, 1)
	}
}

// CountBroadcast records one per-tier delivery attempt and its outcome.
func (m *MetricsHolder) CountBroadcast(ctx context.Context, tier string, success bool) {
	if !m.ready() {
		return
	}
	m.BroadcastsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	if !success {
		m.BroadcastFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
	}
}

// CountStreamEvent increments the stream ingestion counter.
func (m *MetricsHolder) CountStreamEvent(ctx context.Context, source string) {
	if m.ready() {
		m.StreamEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordLatency records a latency sample on the matching histogram.
func (m *MetricsHolder) RecordLatency(ctx context.Context, kind string, ms float64) {
	if !m.ready() {
		return
	}
	switch kind {
	case "signal":
		m.LatencySignal.Record(ctx, ms)
	case "order":
		m.LatencyOrder.Record(ctx, ms)
	}
}
