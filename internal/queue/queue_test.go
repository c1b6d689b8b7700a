package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	apperrors "github.com/runnelsdev/copybridge/pkg/errors"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

// mockBroker records submissions and lets tests script responses.
type mockBroker struct {
	core.IBrokerGateway
	mu          sync.Mutex
	created     []*core.OrderPayload
	complexes   []*core.OrderPayload
	dryRuns     int
	createFn    func(call int, p *core.OrderPayload) (*core.OrderResult, error)
	dryRunFn    func(p *core.OrderPayload) (*core.DryRunResult, error)
	createDelay time.Duration
	inFlight    int
	maxInFlight int
}

func (m *mockBroker) DryRun(ctx context.Context, account string, p *core.OrderPayload) (*core.DryRunResult, error) {
	m.mu.Lock()
	m.dryRuns++
	fn := m.dryRunFn
	m.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return &core.DryRunResult{
		NewBuyingPower: decimal.NewFromInt(10000),
		TotalFees:      decimal.NewFromFloat(1.25),
	}, nil
}

func (m *mockBroker) CreateOrder(ctx context.Context, account string, p *core.OrderPayload) (*core.OrderResult, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.created = append(m.created, p)
	call := len(m.created)
	fn := m.createFn
	delay := m.createDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if fn != nil {
		return fn(call, p)
	}
	return &core.OrderResult{OrderID: "ORD1", TimeInForce: p.TimeInForce}, nil
}

func (m *mockBroker) CreateComplexOrder(ctx context.Context, account string, p *core.OrderPayload) (*core.OrderResult, error) {
	m.mu.Lock()
	m.complexes = append(m.complexes, p)
	m.mu.Unlock()
	return &core.OrderResult{OrderID: "CPLX1"}, nil
}

func (m *mockBroker) createdSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.created))
	for i, p := range m.created {
		out[i] = p.Symbol()
	}
	return out
}

func equityPayload(symbol string, qty int) *core.OrderPayload {
	return &core.OrderPayload{
		TimeInForce: core.TIFDay,
		OrderType:   core.Market,
		Legs: []core.OrderLeg{
			{InstrumentType: "Equity", Symbol: symbol, Quantity: qty, Action: core.BuyToOpen},
		},
	}
}

func newTestQueue(t *testing.T, cfg Config, broker core.IBrokerGateway) (*OrderQueue, context.Context) {
	t.Helper()
	if cfg.AccountNumber == "" {
		cfg.AccountNumber = "ACC-1"
	}
	q := NewOrderQueue(cfg, broker, nil, core.SystemClock{}, logging.GetGlobalLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return q, ctx
}

func TestEnqueue_CompletesFuture(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 2), EnqueueOptions{Source: "text"})
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ORD1", result.OrderID)

	status := q.Status()
	assert.Equal(t, 0, status.QueueLength)
	assert.Equal(t, 0, status.ActiveOrders)
	assert.Equal(t, 1, status.TotalProcessed)
}

func TestEnqueue_PriorityJumpsQueue(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1, PriorityThreshold: 8}, broker)

	// Everything lands in the queue before the dispatcher starts.
	low1 := q.Enqueue(ctx, equityPayload("LOW1", 1), EnqueueOptions{Priority: 3})
	low2 := q.Enqueue(ctx, equityPayload("LOW2", 1), EnqueueOptions{Priority: 3})
	high := q.Enqueue(ctx, equityPayload("HIGH", 1), EnqueueOptions{Priority: 9})
	mid := q.Enqueue(ctx, equityPayload("MID", 1), EnqueueOptions{Priority: 5})

	q.Start(ctx)
	for _, f := range []*Future{low1, low2, high, mid} {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"HIGH", "MID", "LOW1", "LOW2"}, broker.createdSymbols())
}

func TestEnqueue_EqualPrioritiesStayFIFO(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)

	a := q.Enqueue(ctx, equityPayload("A", 1), EnqueueOptions{Priority: 5})
	b := q.Enqueue(ctx, equityPayload("B", 1), EnqueueOptions{Priority: 5})
	c := q.Enqueue(ctx, equityPayload("C", 1), EnqueueOptions{Priority: 5})

	q.Start(ctx)
	for _, f := range []*Future{a, b, c} {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"A", "B", "C"}, broker.createdSymbols())
}

func TestDispatch_RateWindow(t *testing.T) {
	broker := &mockBroker{}
	window := 300 * time.Millisecond
	q, ctx := newTestQueue(t, Config{
		MaxConcurrentOrders: 3,
		MaxOrdersPerMinute:  2,
		WindowLength:        window,
	}, broker)

	start := time.Now()
	f1 := q.Enqueue(ctx, equityPayload("A", 1), EnqueueOptions{})
	f2 := q.Enqueue(ctx, equityPayload("B", 1), EnqueueOptions{})
	f3 := q.Enqueue(ctx, equityPayload("C", 1), EnqueueOptions{})
	q.Start(ctx)

	_, err := f1.Wait(ctx)
	require.NoError(t, err)
	_, err = f2.Wait(ctx)
	require.NoError(t, err)

	result, err := f3.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.GreaterOrEqual(t, time.Since(start), window,
		"third order must wait for the window to roll over")
}

func TestDispatch_ConcurrencyCap(t *testing.T) {
	broker := &mockBroker{createDelay: 50 * time.Millisecond}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 2, MaxOrdersPerMinute: 100}, broker)

	var futures []*Future
	for _, sym := range []string{"A", "B", "C", "D", "E"} {
		futures = append(futures, q.Enqueue(ctx, equityPayload(sym, 1), EnqueueOptions{}))
	}
	q.Start(ctx)
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.LessOrEqual(t, broker.maxInFlight, 2)
}

func TestDispatch_ScheduledOrderWaits(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	delay := 150 * time.Millisecond
	start := time.Now()
	future := q.Enqueue(ctx, equityPayload("SPY", 1), EnqueueOptions{
		ScheduledFor: start.Add(delay),
	})

	_, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), delay)
}

func TestValidation_RejectsWithoutEnqueue(t *testing.T) {
	broker := &mockBroker{
		dryRunFn: func(p *core.OrderPayload) (*core.DryRunResult, error) {
			return &core.DryRunResult{NewBuyingPower: decimal.NewFromInt(-500)}, nil
		},
	}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1, EnableDryRunValidation: true}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 100), EnqueueOptions{})
	_, err := future.Wait(ctx)
	require.Error(t, err)

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "Insufficient buying power")
	assert.Empty(t, broker.createdSymbols(), "invalid orders never reach the broker")
}

func TestValidation_NetworkErrorIsValidationError(t *testing.T) {
	broker := &mockBroker{
		dryRunFn: func(p *core.OrderPayload) (*core.DryRunResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1, EnableDryRunValidation: true}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 1), EnqueueOptions{})
	_, err := future.Wait(ctx)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidation_AttachesEstimatedFees(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1, EnableDryRunValidation: true}, broker)
	q.Start(ctx)

	payload := equityPayload("SPY", 1)
	future := q.Enqueue(ctx, payload, EnqueueOptions{})
	_, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, payload.EstimatedFees.Equal(decimal.NewFromFloat(1.25)))
}

func TestValidateOrder_Structural(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, &mockBroker{})

	res := q.ValidateOrder(context.Background(), &core.OrderPayload{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "order has no symbol")
	assert.Contains(t, res.Errors, "order has no legs")
}

func TestValidateMany_ReturnsValidSubset(t *testing.T) {
	broker := &mockBroker{
		dryRunFn: func(p *core.OrderPayload) (*core.DryRunResult, error) {
			if p.Symbol() == "BAD" {
				return &core.DryRunResult{NewBuyingPower: decimal.NewFromInt(-1)}, nil
			}
			return &core.DryRunResult{NewBuyingPower: decimal.NewFromInt(1)}, nil
		},
	}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 2}, broker)

	valid := q.ValidateMany(ctx, []*core.OrderPayload{
		equityPayload("SPY", 1),
		equityPayload("BAD", 1),
		equityPayload("QQQ", 1),
	})
	require.Len(t, valid, 2)
	symbols := []string{valid[0].Symbol(), valid[1].Symbol()}
	assert.ElementsMatch(t, []string{"SPY", "QQQ"}, symbols)

	status := q.Status()
	assert.Equal(t, 3, status.DryRunsWindow)
	assert.Equal(t, 0, status.WindowCount, "dry runs never consume the dispatch window")
}

func TestTIFRetry_SwitchesToGTC(t *testing.T) {
	intersession := &apperrors.BrokerError{
		StatusCode: 422,
		Code:       apperrors.CodeTIFDayInvalidIntersession,
		Message:    "Day orders are invalid between sessions",
	}
	broker := &mockBroker{
		createFn: func(call int, p *core.OrderPayload) (*core.OrderResult, error) {
			if call == 1 {
				return nil, intersession
			}
			return &core.OrderResult{OrderID: "ORD2", TimeInForce: p.TimeInForce}, nil
		},
	}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 1), EnqueueOptions{})
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.TIFGTC, result.TimeInForce)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Len(t, broker.created, 2)
	assert.Equal(t, core.TIFDay, broker.created[0].TimeInForce)
	assert.Equal(t, core.TIFGTC, broker.created[1].TimeInForce)
}

func TestTIFRetry_FailureSurfacesOriginalError(t *testing.T) {
	intersession := &apperrors.BrokerError{
		StatusCode: 422,
		Code:       apperrors.CodeTIFDayInvalidIntersession,
	}
	broker := &mockBroker{
		createFn: func(call int, p *core.OrderPayload) (*core.OrderResult, error) {
			if call == 1 {
				return nil, intersession
			}
			return nil, errors.New("rejected again")
		},
	}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 1), EnqueueOptions{})
	_, err := future.Wait(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsTIFIntersession(err), "the first rejection is surfaced, not the retry's")
}

func TestMultiLegPayload_UsesComplexOrder(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	payload := equityPayload("SPY", 1)
	payload.Legs = append(payload.Legs, core.OrderLeg{
		InstrumentType: "Equity", Symbol: "SPY", Quantity: 1, Action: core.SellToClose,
	})
	future := q.Enqueue(ctx, payload, EnqueueOptions{})
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CPLX1", result.OrderID)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Empty(t, broker.created)
	assert.Len(t, broker.complexes, 1)
}

func TestClearQueue_RejectsPendingOnly(t *testing.T) {
	broker := &mockBroker{createDelay: 100 * time.Millisecond}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1, MaxOrdersPerMinute: 100}, broker)

	inflight := q.Enqueue(ctx, equityPayload("A", 1), EnqueueOptions{})
	pending := q.Enqueue(ctx, equityPayload("B", 1), EnqueueOptions{})
	q.Start(ctx)

	// Give the dispatcher time to pick up the first item.
	assert.Eventually(t, func() bool {
		return q.Status().ActiveOrders == 1
	}, time.Second, 5*time.Millisecond)

	cleared := q.ClearQueue()
	assert.Equal(t, 1, cleared)

	_, err := pending.Wait(ctx)
	assert.ErrorIs(t, err, apperrors.ErrQueueCleared)

	_, err = inflight.Wait(ctx)
	assert.NoError(t, err, "in-flight orders run to completion")
}

func TestDryRunItem_NeverPlacesOrders(t *testing.T) {
	broker := &mockBroker{}
	q, ctx := newTestQueue(t, Config{MaxConcurrentOrders: 1}, broker)
	q.Start(ctx)

	future := q.Enqueue(ctx, equityPayload("SPY", 1), EnqueueOptions{DryRun: true})
	result, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Empty(t, broker.createdSymbols())
}
