package sizing

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// BalanceCache holds the coach/follower balance pair and the precomputed
// sizing ratio. Ratio is recomputed under the same lock as the balance that
// caused it, so readers always see a consistent tuple. The hot path reads
// only; refreshes are the single writer.
type BalanceCache struct {
	mu         sync.RWMutex
	coach      decimal.Decimal
	follower   decimal.Decimal
	ratio      decimal.Decimal
	ratioValid bool
	cachedAt   time.Time
	ttl        time.Duration
	clock      core.Clock
}

// NewBalanceCache creates a cache with the given refresh TTL (default 60s).
func NewBalanceCache(ttl time.Duration, clock core.Clock) *BalanceCache {
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &BalanceCache{ttl: ttl, clock: clock}
}

// SetCoach installs the coach balance and recomputes the ratio.
func (b *BalanceCache) SetCoach(balance decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coach = balance
	b.recompute()
}

// SetFollower installs the follower balance and recomputes the ratio.
func (b *BalanceCache) SetFollower(balance decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.follower = balance
	b.cachedAt = b.clock.Now()
	b.recompute()
}

// recompute derives ratio = follower / coach. A missing coach balance leaves
// the ratio invalid; proportional sizing falls back.
func (b *BalanceCache) recompute() {
	if b.coach.IsPositive() && b.follower.IsPositive() {
		b.ratio = b.follower.Div(b.coach)
		b.ratioValid = true
	} else {
		b.ratio = decimal.Zero
		b.ratioValid = false
	}
}

// Snapshot returns a consistent (coach, follower, ratio, valid) tuple.
func (b *BalanceCache) Snapshot() (coach, follower, ratio decimal.Decimal, valid bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.coach, b.follower, b.ratio, b.ratioValid
}

// NeedsRefresh reports whether the follower balance is older than the TTL.
func (b *BalanceCache) NeedsRefresh() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.cachedAt.IsZero() {
		return true
	}
	return b.clock.Now().Sub(b.cachedAt) > b.ttl
}
