package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
)

func bracketEntry() *core.OrderPayload {
	return &core.OrderPayload{
		Legs: []core.OrderLeg{
			{InstrumentType: "Equity", Symbol: "SPY", Quantity: 2, Action: core.BuyToOpen},
		},
	}
}

func TestExpandBracket_FullBracket(t *testing.T) {
	takeProfit := &core.OrderPayload{
		Price: "460.00",
		Legs:  []core.OrderLeg{{InstrumentType: "Equity", Symbol: "SPY", Quantity: 2}},
	}
	stopLoss := &core.OrderPayload{
		Price: "440.00",
		Legs:  []core.OrderLeg{{InstrumentType: "Equity", Symbol: "SPY", Quantity: 2}},
	}

	payload, err := ExpandBracket(&core.BracketPayload{
		Entry:      bracketEntry(),
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
	})
	require.NoError(t, err)

	assert.Equal(t, core.OTOCO, payload.OrderType)
	assert.Equal(t, core.TIFDay, payload.TimeInForce, "envelope defaults to Day")
	require.NotNil(t, payload.TriggerOrder)
	assert.Equal(t, core.Market, payload.TriggerOrder.OrderType, "entry defaults to Market")

	require.Len(t, payload.Exits, 2)
	for _, exit := range payload.Exits {
		assert.Equal(t, core.Limit, exit.OrderType, "exits default to Limit")
		for _, leg := range exit.Legs {
			assert.Equal(t, core.SellToClose, leg.Action, "exit legs default to closing sells")
		}
	}
}

func TestExpandBracket_SingleExit(t *testing.T) {
	payload, err := ExpandBracket(&core.BracketPayload{
		Entry: bracketEntry(),
		StopLoss: &core.OrderPayload{
			Price: "440.00",
			Legs:  []core.OrderLeg{{InstrumentType: "Equity", Symbol: "SPY", Quantity: 2}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, payload.Exits, 1)
}

func TestExpandBracket_PreservesExplicitValues(t *testing.T) {
	entry := bracketEntry()
	entry.OrderType = core.Limit
	entry.Price = "450.00"
	entry.TimeInForce = core.TIFGTC

	payload, err := ExpandBracket(&core.BracketPayload{
		Entry: entry,
		TakeProfit: &core.OrderPayload{
			OrderType: core.Market,
			Legs:      []core.OrderLeg{{Symbol: "SPY", Quantity: 2, Action: core.SellToClose}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, core.TIFGTC, payload.TimeInForce, "envelope inherits the entry's explicit TIF")
	assert.Equal(t, core.Limit, payload.TriggerOrder.OrderType)
	assert.Equal(t, core.Market, payload.Exits[0].OrderType, "explicit exit type is kept")
}

func TestExpandBracket_RequiresEntryAndExit(t *testing.T) {
	_, err := ExpandBracket(&core.BracketPayload{Entry: bracketEntry()})
	assert.Error(t, err)

	_, err = ExpandBracket(&core.BracketPayload{TakeProfit: &core.OrderPayload{}})
	assert.Error(t, err)
}

func TestExpandBracket_DoesNotMutateInput(t *testing.T) {
	entry := bracketEntry()
	_, err := ExpandBracket(&core.BracketPayload{
		Entry:    entry,
		StopLoss: &core.OrderPayload{Legs: []core.OrderLeg{{Symbol: "SPY", Quantity: 2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, core.OrderType(""), entry.OrderType, "caller's entry stays untouched")
}
