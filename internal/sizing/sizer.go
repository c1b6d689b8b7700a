// Package sizing converts coach signal quantities into follower order
// quantities. Calculate is the hot path and never performs I/O; the balance
// cache is maintained by refresh paths off the hot path.
package sizing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Method selects the sizing mode.
type Method string

const (
	MethodFixed        Method = "fixed"
	MethodMultiplier   Method = "multiplier"
	MethodPercentage   Method = "percentage"
	MethodProportional Method = "proportional"
	MethodMatch        Method = "match"
)

// Config holds sizing parameters.
type Config struct {
	Method        Method
	FixedQuantity int
	Multiplier    float64
	Percentage    float64
	CoachBalance  decimal.Decimal // optional static coach balance
	MinQuantity   int
	MaxQuantity   int
	CacheTTL      time.Duration
}

// Sizer implements core.IPositionSizer.
type Sizer struct {
	cfg     Config
	cache   *BalanceCache
	broker  core.IBrokerGateway
	account string
	logger  core.ILogger
}

// NewSizer creates a sizer. broker may be nil for modes that never touch
// balances (fixed, multiplier, match).
func NewSizer(cfg Config, broker core.IBrokerGateway, account string, clock core.Clock, logger core.ILogger) *Sizer {
	return &Sizer{
		cfg:     cfg,
		cache:   NewBalanceCache(cfg.CacheTTL, clock),
		broker:  broker,
		account: account,
		logger:  logger.WithField("component", "position_sizer"),
	}
}

// InitializeSizing seeds the balance cache: the coach balance from config and
// the follower balance from the broker when a gateway is available.
func (s *Sizer) InitializeSizing(ctx context.Context) error {
	if s.cfg.CoachBalance.IsPositive() {
		s.cache.SetCoach(s.cfg.CoachBalance)
	}

	if s.cfg.Method != MethodProportional && s.cfg.Method != MethodPercentage {
		return nil
	}
	if s.broker == nil {
		return fmt.Errorf("sizing method %q requires a broker gateway", s.cfg.Method)
	}

	balance, err := s.broker.GetBalances(ctx, s.account)
	if err != nil {
		return fmt.Errorf("failed to resolve follower balance: %w", err)
	}
	s.cache.SetFollower(balance.NetLiquidation)

	_, _, ratio, valid := s.cache.Snapshot()
	if valid {
		s.logger.Info("Sizing initialized", "method", s.cfg.Method, "ratio", ratio.String())
	} else {
		s.logger.Warn("Sizing initialized without a valid ratio", "method", s.cfg.Method)
	}
	return nil
}

// UpdateCoachBalance installs a new coach balance.
func (s *Sizer) UpdateCoachBalance(balance decimal.Decimal) {
	s.cache.SetCoach(balance)
}

// UpdateFollowerBalance installs a new follower balance.
func (s *Sizer) UpdateFollowerBalance(balance decimal.Decimal) {
	s.cache.SetFollower(balance)
}

// NeedsCacheRefresh reports whether the follower balance is stale.
func (s *Sizer) NeedsCacheRefresh() bool {
	return s.cache.NeedsRefresh()
}

// RefreshFollowerBalance refetches the follower balance in the background.
// The caller is never blocked and failures are logged only.
func (s *Sizer) RefreshFollowerBalance(ctx context.Context) {
	if s.broker == nil {
		return
	}
	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("Balance refresh panic recovered", "panic", p)
			}
		}()
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		balance, err := s.broker.GetBalances(refreshCtx, s.account)
		if err != nil {
			s.logger.Warn("Follower balance refresh failed", "error", err)
			return
		}
		s.cache.SetFollower(balance.NetLiquidation)
	}()
}

// Calculate returns the follower quantity for a signal. Never performs I/O.
func (s *Sizer) Calculate(signal *core.Signal) int {
	var qty int
	switch s.cfg.Method {
	case MethodFixed:
		qty = s.cfg.FixedQuantity
	case MethodMultiplier:
		qty = int(float64(signal.Quantity) * s.cfg.Multiplier)
	case MethodProportional:
		qty = s.calculateProportional(signal)
	case MethodPercentage:
		qty = s.calculatePercentage(signal)
	case MethodMatch:
		qty = signal.Quantity
	default:
		s.logger.Warn("Unknown sizing method, matching coach quantity", "method", s.cfg.Method)
		qty = signal.Quantity
	}
	return s.clamp(qty)
}

func (s *Sizer) calculateProportional(signal *core.Signal) int {
	_, _, ratio, valid := s.cache.Snapshot()
	if !valid {
		s.logger.Warn("Balance ratio uninitialized, falling back to coach quantity",
			"symbol", signal.Symbol)
		if signal.Quantity < 1 {
			return 1
		}
		return signal.Quantity
	}
	return int(decimal.NewFromInt(int64(signal.Quantity)).Mul(ratio).Round(0).IntPart())
}

func (s *Sizer) calculatePercentage(signal *core.Signal) int {
	_, follower, _, _ := s.cache.Snapshot()
	if !follower.IsPositive() || s.cfg.Percentage <= 0 {
		return 0
	}

	perContract := signal.Price
	if perContract.IsZero() {
		perContract = decimal.NewFromInt(100)
	} else if signal.Instrument == core.EquityOption {
		perContract = perContract.Mul(decimal.NewFromInt(100))
	}

	budget := follower.Mul(decimal.NewFromFloat(s.cfg.Percentage)).Div(decimal.NewFromInt(100))
	return int(budget.Div(perContract).Floor().IntPart())
}

// clamp applies the configured min then max bounds.
func (s *Sizer) clamp(qty int) int {
	if s.cfg.MinQuantity > 0 && qty < s.cfg.MinQuantity {
		qty = s.cfg.MinQuantity
	}
	if s.cfg.MaxQuantity > 0 && qty > s.cfg.MaxQuantity {
		qty = s.cfg.MaxQuantity
	}
	return qty
}
