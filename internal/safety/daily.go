// Package safety holds the day-level trading guardrails: the trade and loss
// counters with their midnight rollover, and the pre-start account check.
package safety

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Limits are the configured daily guardrails. Zero values mean unlimited.
type Limits struct {
	MaxDailyTrades int
	MaxDailyLoss   decimal.Decimal
}

// DailyGuard tracks today's trade count and realised loss. All methods roll
// the counters over when the calendar date changes.
type DailyGuard struct {
	limits Limits
	clock  core.Clock

	mu          sync.Mutex
	day         time.Time
	tradesToday int
	lossToday   decimal.Decimal
}

func NewDailyGuard(limits Limits, clock core.Clock) *DailyGuard {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &DailyGuard{limits: limits, clock: clock}
}

// rolloverLocked resets the counters when the date has changed.
func (g *DailyGuard) rolloverLocked() {
	now := g.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !today.Equal(g.day) {
		g.day = today
		g.tradesToday = 0
		g.lossToday = decimal.Zero
	}
}

// CheckTrade reports whether another trade is allowed, returning the
// structured skip reason when not.
func (g *DailyGuard) CheckTrade() (ok bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.limits.MaxDailyTrades > 0 && g.tradesToday >= g.limits.MaxDailyTrades {
		return false, "daily_limit"
	}
	if g.limits.MaxDailyLoss.IsPositive() && g.lossToday.GreaterThanOrEqual(g.limits.MaxDailyLoss) {
		return false, "loss_limit"
	}
	return true, ""
}

// CountTrade records a successfully enqueued trade.
func (g *DailyGuard) CountTrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.tradesToday++
}

// RecordLoss adds a realised loss (positive amounts only) to today's total.
func (g *DailyGuard) RecordLoss(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	g.lossToday = g.lossToday.Add(amount)
}

// Snapshot returns today's counters.
func (g *DailyGuard) Snapshot() (trades int, loss decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return g.tradesToday, g.lossToday
}
