package fills

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/runnelsdev/copybridge/internal/core"
)

func TestValidate_CriticalErrors(t *testing.T) {
	out := Validate(nil)
	assert.True(t, out.Critical)

	out = Validate(&core.Fill{Action: core.BuyToOpen})
	assert.True(t, out.Critical)
	assert.Contains(t, out.Errors, "missing symbol")

	out = Validate(&core.Fill{Symbol: "SPY"})
	assert.True(t, out.Critical)
	assert.Contains(t, out.Errors, "missing action")
}

func TestValidate_NonCriticalErrors(t *testing.T) {
	out := Validate(&core.Fill{
		Symbol:         "SPY",
		Action:         core.BuyToOpen,
		FilledQuantity: -1,
		FillPrice:      decimal.NewFromInt(-5),
	})
	assert.False(t, out.Critical)
	assert.False(t, out.IsValid)
	assert.Len(t, out.Errors, 3, "quantity, price and missing time are all soft")
}

func TestValidate_CleanFill(t *testing.T) {
	out := Validate(&core.Fill{
		Symbol:         "SPY",
		Action:         core.BuyToOpen,
		FilledQuantity: 1,
		FillPrice:      decimal.NewFromInt(450),
		FilledAt:       time.Now(),
	})
	assert.True(t, out.IsValid)
	assert.Empty(t, out.Errors)
}

func TestSanitize_RepairsEverything(t *testing.T) {
	fill := &core.Fill{
		Symbol:         "  spy ",
		Action:         core.Action("bought"),
		FilledQuantity: -3,
		FillPrice:      decimal.NewFromInt(-10),
		Fees:           decimal.NewFromInt(-1),
	}
	Sanitize(fill, core.SystemClock{})

	assert.Equal(t, "SPY", fill.Symbol)
	assert.Equal(t, core.BuyToOpen, fill.Action, "BOUGHT aliases to BuyToOpen")
	assert.Equal(t, 0, fill.FilledQuantity)
	assert.True(t, fill.FillPrice.IsZero())
	assert.True(t, fill.Fees.IsZero())
	assert.False(t, fill.FilledAt.IsZero())
	assert.Equal(t, core.StatusFilled, fill.Status)
	assert.Equal(t, core.Equity, fill.Instrument)
	assert.NotEmpty(t, fill.OrderID, "a missing order id is synthesised")
}

func TestSanitize_SoldAlias(t *testing.T) {
	fill := &core.Fill{Symbol: "SPY", Action: core.Action("SOLD")}
	Sanitize(fill, core.SystemClock{})
	assert.Equal(t, core.SellToClose, fill.Action)
}

func TestSanitize_TotalQuantityDefaultsToFilled(t *testing.T) {
	fill := &core.Fill{Symbol: "SPY", Action: core.BuyToOpen, FilledQuantity: 4}
	Sanitize(fill, core.SystemClock{})
	assert.Equal(t, 4, fill.TotalQuantity)
}

func TestSanitize_InfersOptionInstrument(t *testing.T) {
	fill := &core.Fill{
		Symbol:     "SPY",
		Action:     core.BuyToOpen,
		Strike:     decimal.NewFromInt(664),
		Expiration: "2025-11-28",
		OptionType: core.Put,
	}
	Sanitize(fill, core.SystemClock{})
	assert.Equal(t, core.EquityOption, fill.Instrument)
}

func TestSanitize_Idempotent(t *testing.T) {
	fill := &core.Fill{
		Symbol:         "spy",
		Action:         core.Action("BTO"),
		FilledQuantity: 2,
		FillPrice:      decimal.NewFromFloat(1.25),
	}
	Sanitize(fill, core.SystemClock{})
	first := *fill
	Sanitize(fill, core.SystemClock{})
	assert.Equal(t, first, *fill, "second pass must change nothing")

	out := Validate(fill)
	assert.True(t, out.IsValid, "a sanitised fill always validates")
}

func TestSanitize_KeepsValidValues(t *testing.T) {
	at := time.Date(2025, 11, 28, 14, 30, 0, 0, time.UTC)
	fill := &core.Fill{
		OrderID:        "ORD1",
		Symbol:         "SPY",
		Action:         core.SellToClose,
		Status:         core.StatusPartiallyFilled,
		FilledQuantity: 1,
		TotalQuantity:  2,
		FillPrice:      decimal.NewFromInt(450),
		FilledAt:       at,
	}
	Sanitize(fill, core.SystemClock{})
	assert.Equal(t, "ORD1", fill.OrderID)
	assert.Equal(t, core.StatusPartiallyFilled, fill.Status)
	assert.Equal(t, 2, fill.TotalQuantity)
	assert.Equal(t, at, fill.FilledAt)
}
