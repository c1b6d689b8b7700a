// Package engine binds the copy pipeline: parsed signals pass the policy
// gates in strict order, get sized, become broker payloads and enter the
// execution queue; stream events become fills and fan out to the tiers.
package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/broadcast"
	"github.com/runnelsdev/copybridge/internal/broker"
	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/fills"
	"github.com/runnelsdev/copybridge/internal/latency"
	"github.com/runnelsdev/copybridge/internal/queue"
	"github.com/runnelsdev/copybridge/internal/safety"
	"github.com/runnelsdev/copybridge/internal/signalparse"
	apperrors "github.com/runnelsdev/copybridge/pkg/errors"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// Config restricts what the engine copies. Empty lists allow everything.
type Config struct {
	EnabledSymbols []string
	EnabledActions []string
}

// Result is the outcome of handling one signal. Skipped signals carry the
// structured reason; accepted ones carry the queue future.
type Result struct {
	Success  bool
	Reason   apperrors.SkipReason
	Quantity int
	Future   *queue.Future
	Err      error
}

// CopyEngine owns the per-signal pipeline and its daily guardrails.
type CopyEngine struct {
	cfg         Config
	policy      core.IPolicyClient
	sizer       core.IPositionSizer
	orders      *queue.OrderQueue
	broadcaster *broadcast.FillBroadcaster
	parser      *signalparse.Parser
	decoder     *fills.Decoder
	guard       *safety.DailyGuard
	latency     *latency.Monitor
	clock       core.Clock
	logger      core.ILogger
	metrics     *telemetry.MetricsHolder

	symbolSet map[string]bool
	actionSet map[string]bool
}

func NewCopyEngine(cfg Config, policy core.IPolicyClient, sizer core.IPositionSizer,
	orders *queue.OrderQueue, broadcaster *broadcast.FillBroadcaster, guard *safety.DailyGuard,
	monitor *latency.Monitor, clock core.Clock, logger core.ILogger) *CopyEngine {
	if clock == nil {
		clock = core.SystemClock{}
	}
	log := logger.WithField("component", "copy_engine")
	return &CopyEngine{
		cfg:         cfg,
		policy:      policy,
		sizer:       sizer,
		orders:      orders,
		broadcaster: broadcaster,
		parser:      signalparse.NewParser(clock, logger),
		decoder:     fills.NewDecoder(clock, logger),
		guard:       guard,
		latency:     monitor,
		clock:       clock,
		logger:      log,
		metrics:     telemetry.GetGlobalMetrics(),
		symbolSet:   toSet(cfg.EnabledSymbols),
		actionSet:   toSet(cfg.EnabledActions),
	}
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToUpper(v)] = true
	}
	return set
}

// ProcessCoachMessage parses a coach chat message, re-broadcasts the signal
// to its tier audience and runs the copy pipeline. Non-signal messages are
// ignored.
func (e *CopyEngine) ProcessCoachMessage(ctx context.Context, msg *core.ChatMessage) *Result {
	signal := e.parser.Parse(msg)
	if signal == nil {
		return nil
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastSignal(ctx, signal)
	}
	return e.HandleSignal(ctx, signal)
}

// HandleSignal applies the per-trade policy in strict order, then sizes,
// builds and enqueues the order.
func (e *CopyEngine) HandleSignal(ctx context.Context, signal *core.Signal) *Result {
	if e.latency != nil && !signal.Timestamp.IsZero() {
		e.latency.SignalLatency(signal)
	}
	if e.sizer != nil && e.sizer.NeedsCacheRefresh() {
		e.sizer.RefreshFollowerBalance(ctx)
	}

	if e.symbolSet != nil && !e.symbolSet[strings.ToUpper(signal.Symbol)] {
		return e.skip(ctx, signal, apperrors.SkipFiltered)
	}
	if e.actionSet != nil && !e.actionSet[strings.ToUpper(string(signal.Action))] {
		return e.skip(ctx, signal, apperrors.SkipFiltered)
	}

	if e.policy != nil && !e.policy.CanTradeToday() {
		return e.skip(ctx, signal, apperrors.SkipTierBlocked)
	}

	if ok, reason := e.guard.CheckTrade(); !ok {
		return e.skip(ctx, signal, apperrors.SkipReason(reason))
	}

	quantity := e.sizer.Calculate(signal)
	if quantity <= 0 {
		return e.skip(ctx, signal, apperrors.SkipInvalidQuantity)
	}

	payload, err := broker.BuildPayload(signal, quantity)
	if err != nil {
		e.logger.Warn("Failed to build order payload",
			"signal", signal.ID, "symbol", signal.Symbol, "error", err)
		return &Result{Reason: apperrors.SkipInvalidQuantity, Err: err}
	}

	future := e.orders.Enqueue(ctx, payload, queue.EnqueueOptions{Source: signal.Source})

	// A validation failure settles the future before it ever queues.
	select {
	case <-future.Done():
		if _, err := future.Wait(ctx); err != nil {
			e.logger.Warn("Signal rejected by validation",
				"signal", signal.ID, "symbol", signal.Symbol, "error", err)
			return &Result{Quantity: quantity, Future: future, Err: err}
		}
	default:
	}

	e.guard.CountTrade()
	if e.policy != nil {
		e.policy.ReportTrade(core.TradeReport{
			Symbol:    signal.Symbol,
			Quantity:  quantity,
			FillPrice: signal.Price,
			Timestamp: e.clock.Now(),
		})
	}

	e.logger.Info("Signal copied",
		"signal", signal.ID,
		"symbol", signal.Symbol,
		"action", string(signal.Action),
		"quantity", quantity)
	return &Result{Success: true, Quantity: quantity, Future: future}
}

func (e *CopyEngine) skip(ctx context.Context, signal *core.Signal, reason apperrors.SkipReason) *Result {
	e.metrics.CountSkip(ctx, string(reason))
	e.logger.Info("Signal skipped",
		"signal", signal.ID,
		"symbol", signal.Symbol,
		"reason", string(reason))
	return &Result{Reason: reason}
}

// HandleStreamEvent decodes a raw account event and broadcasts the fill, if
// any. Unknown shapes are dropped silently.
func (e *CopyEngine) HandleStreamEvent(ctx context.Context, event []byte) {
	fill := e.decoder.Decode(event)
	if fill == nil {
		return
	}
	if e.broadcaster != nil {
		e.broadcaster.BroadcastFill(ctx, fill, fill.OriginalSignalID)
	}
}

// RecordLoss feeds a realised loss into the daily guard and reports the PnL
// update upstream.
func (e *CopyEngine) RecordLoss(tradeID string, loss decimal.Decimal) {
	e.guard.RecordLoss(loss)
	if e.policy != nil {
		e.policy.UpdatePnL(tradeID, loss.Neg())
	}
}

// DailyCounters exposes today's trade count and loss for status commands.
func (e *CopyEngine) DailyCounters() (trades int, loss decimal.Decimal) {
	return e.guard.Snapshot()
}
