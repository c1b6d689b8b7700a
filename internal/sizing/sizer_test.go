package sizing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

// mockBroker overrides only the balance call; the embedded interface keeps
// the rest unimplemented.
type mockBroker struct {
	core.IBrokerGateway
	mu      sync.Mutex
	balance decimal.Decimal
	err     error
	calls   int
}

func (m *mockBroker) GetBalances(ctx context.Context, account string) (*core.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &core.AccountBalance{NetLiquidation: m.balance}, nil
}

func newSizer(t *testing.T, cfg Config, broker core.IBrokerGateway) *Sizer {
	t.Helper()
	return NewSizer(cfg, broker, "ACC-1", core.SystemClock{}, logging.GetGlobalLogger())
}

func signal(qty int) *core.Signal {
	return &core.Signal{Symbol: "SPY", Action: core.BuyToOpen, Quantity: qty, Instrument: core.Equity}
}

func TestCalculate_Fixed(t *testing.T) {
	s := newSizer(t, Config{Method: MethodFixed, FixedQuantity: 3}, nil)
	assert.Equal(t, 3, s.Calculate(signal(10)))
	assert.Equal(t, 3, s.Calculate(signal(1)))
}

func TestCalculate_Multiplier(t *testing.T) {
	s := newSizer(t, Config{Method: MethodMultiplier, Multiplier: 0.5}, nil)
	assert.Equal(t, 5, s.Calculate(signal(10)))
	assert.Equal(t, 2, s.Calculate(signal(5)), "fractional results truncate")
}

func TestCalculate_Match(t *testing.T) {
	s := newSizer(t, Config{Method: MethodMatch}, nil)
	assert.Equal(t, 7, s.Calculate(signal(7)))
}

func TestCalculate_Proportional(t *testing.T) {
	broker := &mockBroker{balance: decimal.NewFromInt(50000)}
	s := newSizer(t, Config{
		Method:       MethodProportional,
		CoachBalance: decimal.NewFromInt(500000),
		MinQuantity:  1,
	}, broker)
	require.NoError(t, s.InitializeSizing(context.Background()))

	// ratio 0.1: 10 contracts scale to 1.
	assert.Equal(t, 1, s.Calculate(signal(10)))
	// round(0.4) = 0, then the minimum lifts it to 1.
	assert.Equal(t, 1, s.Calculate(signal(4)))
	// round(2.5) = 3 under half-up rounding.
	assert.Equal(t, 3, s.Calculate(signal(25)))
}

func TestCalculate_ProportionalFallback(t *testing.T) {
	// No coach balance means no ratio; the sizer copies the coach quantity.
	s := newSizer(t, Config{Method: MethodProportional}, nil)
	assert.Equal(t, 10, s.Calculate(signal(10)))
	assert.Equal(t, 1, s.Calculate(signal(0)), "fallback never goes below one")
}

func TestCalculate_ProportionalClamps(t *testing.T) {
	broker := &mockBroker{balance: decimal.NewFromInt(200000)}
	s := newSizer(t, Config{
		Method:       MethodProportional,
		CoachBalance: decimal.NewFromInt(100000),
		MinQuantity:  1,
		MaxQuantity:  5,
	}, broker)
	require.NoError(t, s.InitializeSizing(context.Background()))

	// ratio 2.0: 10 contracts would scale to 20, capped at 5.
	assert.Equal(t, 5, s.Calculate(signal(10)))
}

func TestCalculate_Percentage(t *testing.T) {
	broker := &mockBroker{balance: decimal.NewFromInt(10000)}
	s := newSizer(t, Config{Method: MethodPercentage, Percentage: 10}, broker)
	require.NoError(t, s.InitializeSizing(context.Background()))

	// Budget 1000, equity at 450 a share: floor(2.22) = 2.
	sig := signal(99)
	sig.Price = decimal.NewFromInt(450)
	assert.Equal(t, 2, s.Calculate(sig))

	// Options multiply by the 100-share contract size: 2.50 * 100 = 250
	// per contract, floor(1000/250) = 4.
	opt := signal(99)
	opt.Instrument = core.EquityOption
	opt.Price = decimal.NewFromFloat(2.50)
	assert.Equal(t, 4, s.Calculate(opt))

	// Without a price the per-contract cost defaults to 100.
	free := signal(99)
	assert.Equal(t, 10, s.Calculate(free))
}

func TestCalculate_PercentageWithoutBalance(t *testing.T) {
	s := newSizer(t, Config{Method: MethodPercentage, Percentage: 10}, nil)
	assert.Equal(t, 0, s.Calculate(signal(10)), "no balance means no budget")
}

func TestInitializeSizing_BrokerRequired(t *testing.T) {
	s := newSizer(t, Config{Method: MethodProportional}, nil)
	assert.Error(t, s.InitializeSizing(context.Background()))
}

func TestNeedsCacheRefresh(t *testing.T) {
	broker := &mockBroker{balance: decimal.NewFromInt(50000)}
	s := newSizer(t, Config{
		Method:       MethodProportional,
		CoachBalance: decimal.NewFromInt(500000),
		CacheTTL:     50 * time.Millisecond,
	}, broker)

	assert.True(t, s.NeedsCacheRefresh(), "stale before the first fetch")
	require.NoError(t, s.InitializeSizing(context.Background()))
	assert.False(t, s.NeedsCacheRefresh())

	time.Sleep(80 * time.Millisecond)
	assert.True(t, s.NeedsCacheRefresh())
}

func TestRefreshFollowerBalance_Async(t *testing.T) {
	broker := &mockBroker{balance: decimal.NewFromInt(50000)}
	s := newSizer(t, Config{
		Method:       MethodProportional,
		CoachBalance: decimal.NewFromInt(500000),
	}, broker)
	require.NoError(t, s.InitializeSizing(context.Background()))

	broker.mu.Lock()
	broker.balance = decimal.NewFromInt(100000)
	broker.mu.Unlock()

	s.RefreshFollowerBalance(context.Background())

	assert.Eventually(t, func() bool {
		// ratio 0.2 after refresh: 10 contracts scale to 2.
		return s.Calculate(signal(10)) == 2
	}, 2*time.Second, 10*time.Millisecond)
}
