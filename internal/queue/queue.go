// Package queue implements the order execution engine: a priority queue with
// a concurrency cap, a per-minute dispatch window, dry-run validation and a
// single automatic time-in-force retry.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/concurrency"
	apperrors "github.com/runnelsdev/copybridge/pkg/errors"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// ItemStatus is a queue item's lifecycle state.
type ItemStatus string

const (
	ItemQueued     ItemStatus = "queued"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// Config holds the execution knobs. WindowLength defaults to one minute and
// is configurable only so rate-window behaviour is testable with short waits.
type Config struct {
	AccountNumber          string
	MaxConcurrentOrders    int
	DelayBetweenOrders     time.Duration
	MaxOrdersPerMinute     int
	PriorityThreshold      int
	EnableDryRunValidation bool
	WindowLength           time.Duration
}

// EnqueueOptions control placement of a single order.
type EnqueueOptions struct {
	Priority       int // 0..10
	DryRun         bool
	SkipValidation bool
	ScheduledFor   time.Time
	Source         string
}

type queueItem struct {
	ID           string
	Payload      *core.OrderPayload
	Original     *core.OrderPayload
	Priority     int
	ScheduledFor time.Time
	DryRun       bool
	Source       string
	Status       ItemStatus
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	future       *Future
}

// Status is a point-in-time queue snapshot for chat commands and health.
type Status struct {
	QueueLength        int
	ActiveOrders       int
	WindowCount        int
	DryRunsWindow      int
	TotalProcessed     int
	TotalFailed        int
	MaxConcurrent      int
	MaxOrdersPerMinute int
}

// OrderQueue is the execution engine. External callers interact only through
// Enqueue, ClearQueue and Status; a single dispatcher goroutine advances the
// queue. RiskCheck and Approve are optional pre-submission hooks.
type OrderQueue struct {
	cfg     Config
	broker  core.IBrokerGateway
	logger  core.ILogger
	clock   core.Clock
	latency core.ILatencyMonitor
	metrics *telemetry.MetricsHolder
	pool    *concurrency.WorkerPool

	RiskCheck func(payload *core.OrderPayload) error
	Approve   func(payload *core.OrderPayload) error

	mu             sync.Mutex
	items          []*queueItem
	activeOrders   int
	windowStart    time.Time
	windowCount    int
	dryRunsWindow  int
	totalProcessed int
	totalFailed    int

	wake      chan struct{}
	startOnce sync.Once
	started   atomic.Bool
	stopped   chan struct{}
}

// NewOrderQueue creates a stopped queue; call Start to begin dispatching.
func NewOrderQueue(cfg Config, broker core.IBrokerGateway, latency core.ILatencyMonitor, clock core.Clock, logger core.ILogger) *OrderQueue {
	if cfg.MaxConcurrentOrders <= 0 {
		cfg.MaxConcurrentOrders = 3
	}
	if cfg.MaxOrdersPerMinute <= 0 {
		cfg.MaxOrdersPerMinute = 15
	}
	if cfg.PriorityThreshold <= 0 {
		cfg.PriorityThreshold = 8
	}
	if cfg.WindowLength <= 0 {
		cfg.WindowLength = time.Minute
	}
	if clock == nil {
		clock = core.SystemClock{}
	}

	log := logger.WithField("component", "order_queue")
	return &OrderQueue{
		cfg:     cfg,
		broker:  broker,
		logger:  log,
		clock:   clock,
		latency: latency,
		metrics: telemetry.GetGlobalMetrics(),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "dry_run_validation",
			MaxWorkers: cfg.MaxConcurrentOrders,
		}, logger),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Start launches the dispatcher. It runs until ctx is cancelled, at which
// point every still-pending future is rejected.
func (q *OrderQueue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		q.started.Store(true)
		go q.run(ctx)
	})
}

func (q *OrderQueue) run(ctx context.Context) {
	defer close(q.stopped)
	for {
		select {
		case <-ctx.Done():
			q.rejectAll(apperrors.ErrQueueShuttingDown)
			return
		case <-q.wake:
		}
		q.drain(ctx)
	}
}

// Enqueue validates and inserts an order, returning its completion future.
// A failed validation settles the future immediately; the order never enters
// the queue.
func (q *OrderQueue) Enqueue(ctx context.Context, payload *core.OrderPayload, opts EnqueueOptions) *Future {
	future := newFuture()

	if opts.Priority < 0 {
		opts.Priority = 0
	}
	if opts.Priority > 10 {
		opts.Priority = 10
	}

	if q.cfg.EnableDryRunValidation && !opts.DryRun && !opts.SkipValidation {
		validation := q.ValidateOrder(ctx, payload)
		if !validation.Valid {
			future.reject(&apperrors.ValidationError{Errors: validation.Errors})
			return future
		}
		payload.EstimatedFees = validation.EstimatedFees
	}

	item := &queueItem{
		ID:           uuid.NewString(),
		Payload:      payload,
		Original:     payload,
		Priority:     opts.Priority,
		ScheduledFor: opts.ScheduledFor,
		DryRun:       opts.DryRun,
		Source:       opts.Source,
		Status:       ItemQueued,
		CreatedAt:    q.clock.Now(),
		future:       future,
	}

	q.mu.Lock()
	q.insertLocked(item)
	depth := len(q.items)
	q.mu.Unlock()

	q.metrics.SetQueueDepth(depth)
	q.metrics.CountEnqueued(ctx)
	q.wakeDispatcher()

	q.logger.Debug("Order enqueued",
		"id", item.ID,
		"symbol", payload.Symbol(),
		"priority", item.Priority,
		"depth", depth)
	return future
}

// EnqueueBracket expands an entry-plus-exits bracket to OTOCO form first.
func (q *OrderQueue) EnqueueBracket(ctx context.Context, bracket *core.BracketPayload, opts EnqueueOptions) *Future {
	payload, err := ExpandBracket(bracket)
	if err != nil {
		future := newFuture()
		future.reject(&apperrors.ValidationError{Errors: []string{err.Error()}})
		return future
	}
	return q.Enqueue(ctx, payload, opts)
}

// insertLocked places an item by priority: at-or-above-threshold items jump
// to the front; others go before the first strictly lower priority, keeping
// equal priorities FIFO.
func (q *OrderQueue) insertLocked(item *queueItem) {
	if item.Priority >= q.cfg.PriorityThreshold {
		q.items = append([]*queueItem{item}, q.items...)
		return
	}
	idx := len(q.items)
	for i, existing := range q.items {
		if existing.Priority < item.Priority {
			idx = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[idx+1:], q.items[idx:])
	q.items[idx] = item
}

func (q *OrderQueue) wakeDispatcher() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// drain dispatches until the queue is empty, the concurrency cap is reached
// or ctx is cancelled. It holds the lock only between suspension points.
func (q *OrderQueue) drain(ctx context.Context) {
	for ctx.Err() == nil {
		q.mu.Lock()
		q.resetWindowLocked()

		if len(q.items) == 0 || q.activeOrders >= q.cfg.MaxConcurrentOrders {
			q.mu.Unlock()
			return
		}

		if q.windowCount >= q.cfg.MaxOrdersPerMinute {
			wait := q.windowStart.Add(q.cfg.WindowLength).Sub(q.clock.Now())
			q.mu.Unlock()
			if wait < time.Millisecond {
				wait = time.Millisecond
			}
			core.SleepCtx(ctx, q.clock, wait)
			continue
		}

		item := q.items[0]
		q.items = q.items[1:]

		if remaining := item.ScheduledFor.Sub(q.clock.Now()); !item.ScheduledFor.IsZero() && remaining > 0 {
			q.insertLocked(item)
			q.mu.Unlock()
			if remaining > q.cfg.WindowLength {
				remaining = q.cfg.WindowLength
			}
			core.SleepCtx(ctx, q.clock, remaining)
			continue
		}

		item.Status = ItemProcessing
		item.StartedAt = q.clock.Now()
		q.activeOrders++
		q.windowCount++
		depth := len(q.items)
		active := q.activeOrders
		q.mu.Unlock()

		q.metrics.SetQueueDepth(depth)
		q.metrics.SetActiveOrders(active)

		go q.executeOrder(ctx, item)
	}
}

// resetWindowLocked rolls the dispatch window forward when it has expired.
func (q *OrderQueue) resetWindowLocked() {
	now := q.clock.Now()
	if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.cfg.WindowLength {
		q.windowStart = now
		q.windowCount = 0
		q.dryRunsWindow = 0
	}
}

func (q *OrderQueue) executeOrder(ctx context.Context, item *queueItem) {
	result, err := q.submit(ctx, item)

	now := q.clock.Now()
	q.mu.Lock()
	q.activeOrders--
	active := q.activeOrders
	item.CompletedAt = now
	if err != nil {
		item.Status = ItemFailed
		q.totalFailed++
	} else {
		item.Status = ItemCompleted
		q.totalProcessed++
	}
	q.mu.Unlock()
	q.metrics.SetActiveOrders(active)

	if err != nil {
		q.metrics.CountFailed(ctx, item.Payload.Symbol())
		q.logger.Warn("Order failed",
			"id", item.ID,
			"symbol", item.Payload.Symbol(),
			"error", err)
		item.future.reject(err)
	} else {
		q.metrics.CountPlaced(ctx, item.Payload.Symbol())
		q.logger.Info("Order completed",
			"id", item.ID,
			"symbol", item.Payload.Symbol(),
			"orderId", result.OrderID,
			"dryRun", result.DryRun)
		item.future.resolve(result)
	}
	q.recordLatency(ctx, item)

	if q.cfg.DelayBetweenOrders > 0 {
		core.SleepCtx(ctx, q.clock, q.cfg.DelayBetweenOrders)
	}
	q.wakeDispatcher()
}

// submit runs the pre-submission hooks and places the order. A broker
// rejection for intersession Day orders gets exactly one GTC retry; if the
// retry fails too, the original rejection is surfaced.
func (q *OrderQueue) submit(ctx context.Context, item *queueItem) (*core.OrderResult, error) {
	if q.RiskCheck != nil {
		if err := q.RiskCheck(item.Payload); err != nil {
			return nil, fmt.Errorf("risk check rejected order: %w", err)
		}
	}
	if q.Approve != nil {
		if err := q.Approve(item.Payload); err != nil {
			return nil, fmt.Errorf("approval rejected order: %w", err)
		}
	}

	if item.DryRun {
		dryRun, err := q.broker.DryRun(ctx, q.cfg.AccountNumber, item.Payload)
		if err != nil {
			return nil, err
		}
		return &core.OrderResult{
			DryRun:        true,
			EstimatedFees: dryRun.TotalFees,
			CompletedAt:   q.clock.Now(),
		}, nil
	}

	result, err := q.place(ctx, item.Payload)
	if err == nil || !apperrors.IsTIFIntersession(err) {
		return result, err
	}

	q.metrics.CountRetried(ctx)
	q.logger.Info("Day order rejected between sessions, retrying as GTC",
		"id", item.ID,
		"symbol", item.Payload.Symbol())

	retryPayload := clonePayload(item.Payload)
	retryPayload.TimeInForce = core.TIFGTC
	retryResult, retryErr := q.place(ctx, retryPayload)
	if retryErr != nil {
		return nil, err
	}
	item.Payload = retryPayload
	retryResult.TimeInForce = core.TIFGTC
	return retryResult, nil
}

func (q *OrderQueue) place(ctx context.Context, payload *core.OrderPayload) (*core.OrderResult, error) {
	if payload.IsOTOCO() || len(payload.Legs) > 1 {
		return q.broker.CreateComplexOrder(ctx, q.cfg.AccountNumber, payload)
	}
	return q.broker.CreateOrder(ctx, q.cfg.AccountNumber, payload)
}

// ValidateOrder performs structural checks then a broker dry run. Dry-run
// transport failures become validation errors, never panics or fatal errors.
func (q *OrderQueue) ValidateOrder(ctx context.Context, payload *core.OrderPayload) *core.ValidationResult {
	result := &core.ValidationResult{Valid: true}

	if payload.Symbol() == "" {
		result.Errors = append(result.Errors, "order has no symbol")
	}
	if payload.Size() <= 0 {
		result.Errors = append(result.Errors, "order size must be positive")
	}
	if len(payload.Legs) == 0 && payload.TriggerOrder == nil {
		result.Errors = append(result.Errors, "order has no legs")
	}
	if len(result.Errors) > 0 {
		result.Valid = false
		return result
	}

	dryRun, err := q.broker.DryRun(ctx, q.cfg.AccountNumber, payload)

	q.mu.Lock()
	q.resetWindowLocked()
	q.dryRunsWindow++
	q.mu.Unlock()

	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("dry-run failed: %v", err))
		return result
	}
	if dryRun.NewBuyingPower.IsNegative() {
		result.Valid = false
		result.Errors = append(result.Errors, "Insufficient buying power")
		return result
	}
	result.EstimatedFees = dryRun.TotalFees
	return result
}

// ValidateMany dry-runs payloads in parallel, bounded by the concurrency
// cap, and returns the valid subset with estimated fees attached.
func (q *OrderQueue) ValidateMany(ctx context.Context, payloads []*core.OrderPayload) []*core.OrderPayload {
	valid := make([]bool, len(payloads))
	group := q.pool.Group()
	for i, payload := range payloads {
		i, payload := i, payload
		group.Submit(func() {
			res := q.ValidateOrder(ctx, payload)
			if res.Valid {
				payload.EstimatedFees = res.EstimatedFees
				valid[i] = true
			}
		})
	}
	group.Wait()

	var out []*core.OrderPayload
	for i, ok := range valid {
		if ok {
			out = append(out, payloads[i])
		}
	}
	return out
}

// ClearQueue rejects every pending future. In-flight orders are unaffected.
func (q *OrderQueue) ClearQueue() int {
	q.mu.Lock()
	cleared := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range cleared {
		item.Status = ItemFailed
		item.future.reject(apperrors.ErrQueueCleared)
	}
	q.metrics.SetQueueDepth(0)

	if len(cleared) > 0 {
		q.logger.Warn("Queue cleared", "rejected", len(cleared))
	}
	return len(cleared)
}

func (q *OrderQueue) rejectAll(err error) {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range pending {
		item.Status = ItemFailed
		item.future.reject(err)
	}
	q.metrics.SetQueueDepth(0)
}

// Status returns a snapshot of the queue state.
func (q *OrderQueue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		QueueLength:        len(q.items),
		ActiveOrders:       q.activeOrders,
		WindowCount:        q.windowCount,
		DryRunsWindow:      q.dryRunsWindow,
		TotalProcessed:     q.totalProcessed,
		TotalFailed:        q.totalFailed,
		MaxConcurrent:      q.cfg.MaxConcurrentOrders,
		MaxOrdersPerMinute: q.cfg.MaxOrdersPerMinute,
	}
}

func (q *OrderQueue) recordLatency(ctx context.Context, item *queueItem) {
	totalMs := float64(item.CompletedAt.Sub(item.CreatedAt).Milliseconds())
	sample := core.LatencySample{
		Kind:                core.LatencyOrder,
		Source:              item.Source,
		TotalLatencyMs:      totalMs,
		QueueLatencyMs:      float64(item.StartedAt.Sub(item.CreatedAt).Milliseconds()),
		ProcessingLatencyMs: float64(item.CompletedAt.Sub(item.StartedAt).Milliseconds()),
		At:                  item.CompletedAt,
	}
	if q.latency != nil {
		q.latency.RecordOrder(sample)
	}
	q.metrics.RecordLatency(ctx, "order", totalMs)
}

// Close stops the validation pool after the dispatcher has exited. Safe to
// call on a queue that was never started.
func (q *OrderQueue) Close() {
	if q.started.Load() {
		<-q.stopped
	}
	q.pool.Stop()
}
