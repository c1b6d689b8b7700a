// Package risk implements the per-order risk hook for the execution queue:
// order value is estimated from the attached price or the latest quote mid
// and checked against the policy server's position cap.
package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Checker estimates an order's notional value and enforces the position cap.
// Quote updates are fed from the gateway's quote stream when available.
type Checker struct {
	policy core.IPolicyClient
	logger core.ILogger

	// MaxOrderValue caps a single order's notional regardless of policy.
	// Zero means no local cap.
	MaxOrderValue decimal.Decimal

	mu     sync.RWMutex
	quotes map[string]core.Quote
}

func NewChecker(policy core.IPolicyClient, logger core.ILogger) *Checker {
	return &Checker{
		policy: policy,
		logger: logger.WithField("component", "risk_checker"),
		quotes: make(map[string]core.Quote),
	}
}

// UpdateQuote records the latest top-of-book for mid-price estimation.
func (c *Checker) UpdateQuote(quote core.Quote) {
	c.mu.Lock()
	c.quotes[quote.Symbol] = quote
	c.mu.Unlock()
}

// mid returns the latest quote midpoint for a symbol, or zero.
func (c *Checker) mid(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quotes[symbol].Mid()
}

// EstimateValue estimates the order's notional in USD. Options count 100
// shares per contract. Returns zero when no price is known.
func (c *Checker) EstimateValue(payload *core.OrderPayload) decimal.Decimal {
	price := decimal.Zero
	if payload.Price != "" {
		if p, err := decimal.NewFromString(payload.Price); err == nil {
			price = p
		}
	}
	if price.IsZero() {
		price = c.mid(payload.Symbol())
	}
	if price.IsZero() {
		return decimal.Zero
	}

	multiplier := decimal.NewFromInt(1)
	for _, leg := range payload.Legs {
		if leg.InstrumentType == "Equity Option" {
			multiplier = decimal.NewFromInt(100)
			break
		}
	}
	return price.Mul(decimal.NewFromInt(int64(payload.Size()))).Mul(multiplier)
}

// Check is wired as the queue's pre-submission risk hook. An unknown value
// passes; the dry-run stage still catches unaffordable orders.
func (c *Checker) Check(payload *core.OrderPayload) error {
	value := c.EstimateValue(payload)
	if value.IsZero() {
		return nil
	}

	if c.MaxOrderValue.IsPositive() && value.GreaterThan(c.MaxOrderValue) {
		return fmt.Errorf("order value $%s exceeds per-order cap $%s",
			value.StringFixed(2), c.MaxOrderValue.StringFixed(2))
	}
	if c.policy != nil && !c.policy.CanExecutePosition(value) {
		return fmt.Errorf("order value $%s exceeds the policy position cap", value.StringFixed(2))
	}
	return nil
}
