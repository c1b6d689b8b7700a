package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

type mockPolicy struct {
	core.IPolicyClient
	cap decimal.Decimal
}

func (m *mockPolicy) CanExecutePosition(value decimal.Decimal) bool {
	return value.LessThanOrEqual(m.cap)
}

func equityPayload(symbol string, qty int, price string) *core.OrderPayload {
	return &core.OrderPayload{
		OrderType: core.Limit,
		Price:     price,
		Legs: []core.OrderLeg{
			{InstrumentType: "Equity", Symbol: symbol, Quantity: qty, Action: core.BuyToOpen},
		},
	}
}

func optionPayload(symbol string, qty int) *core.OrderPayload {
	return &core.OrderPayload{
		OrderType: core.Market,
		Legs: []core.OrderLeg{
			{InstrumentType: "Equity Option", Symbol: symbol, Quantity: qty, Action: core.BuyToOpen},
		},
	}
}

func TestEstimateValue_UsesAttachedPrice(t *testing.T) {
	c := NewChecker(nil, logging.GetGlobalLogger())
	value := c.EstimateValue(equityPayload("SPY", 10, "450.00"))
	assert.True(t, value.Equal(decimal.NewFromInt(4500)), "got %s", value)
}

func TestEstimateValue_OptionsCountContracts(t *testing.T) {
	c := NewChecker(nil, logging.GetGlobalLogger())
	c.UpdateQuote(core.Quote{
		Symbol: "SPY   251128P00664000",
		Bid:    decimal.NewFromFloat(2.40),
		Ask:    decimal.NewFromFloat(2.60),
	})
	value := c.EstimateValue(optionPayload("SPY   251128P00664000", 4))
	assert.True(t, value.Equal(decimal.NewFromInt(1000)), "4 contracts at mid 2.50, got %s", value)
}

func TestEstimateValue_UnknownPriceIsZero(t *testing.T) {
	c := NewChecker(nil, logging.GetGlobalLogger())
	assert.True(t, c.EstimateValue(optionPayload("SPY   251128P00664000", 4)).IsZero())
}

func TestCheck_UnknownValuePasses(t *testing.T) {
	c := NewChecker(&mockPolicy{cap: decimal.NewFromInt(1)}, logging.GetGlobalLogger())
	require.NoError(t, c.Check(optionPayload("NFLX  260116C00900000", 2)))
}

func TestCheck_LocalCap(t *testing.T) {
	c := NewChecker(nil, logging.GetGlobalLogger())
	c.MaxOrderValue = decimal.NewFromInt(1000)
	err := c.Check(equityPayload("SPY", 10, "450.00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "per-order cap")
}

func TestCheck_PolicyCap(t *testing.T) {
	c := NewChecker(&mockPolicy{cap: decimal.NewFromInt(1000)}, logging.GetGlobalLogger())
	err := c.Check(equityPayload("SPY", 10, "450.00"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "position cap")

	require.NoError(t, c.Check(equityPayload("SPY", 2, "450.00")))
}
