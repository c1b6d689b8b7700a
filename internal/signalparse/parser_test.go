package signalparse

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	return NewParser(core.SystemClock{}, logging.GetGlobalLogger())
}

func TestParseText_SignalCommand(t *testing.T) {
	p := newParser(t)

	sig := p.ParseText("signal: buy 10 SPY")
	require.NotNil(t, sig)
	assert.Equal(t, "SPY", sig.Symbol)
	assert.Equal(t, core.BuyToOpen, sig.Action)
	assert.Equal(t, 10, sig.Quantity)
	assert.Equal(t, core.Market, sig.OrderType)
	assert.Equal(t, "text", sig.Source)
	assert.NotEmpty(t, sig.ID)
}

func TestParseText_Variants(t *testing.T) {
	p := newParser(t)

	cases := []struct {
		text   string
		action core.Action
		symbol string
		qty    int
	}{
		{"TRADE STO 5 nvda", core.SellToOpen, "NVDA", 5},
		{"Signal btc 3 QQQ", core.BuyToClose, "QQQ", 3},
		{"trade: STC 2 AAPL", core.SellToClose, "AAPL", 2},
		{"signal sell 1 IWM", core.SellToOpen, "IWM", 1},
	}
	for _, tc := range cases {
		sig := p.ParseText(tc.text)
		require.NotNil(t, sig, tc.text)
		assert.Equal(t, tc.action, sig.Action, tc.text)
		assert.Equal(t, tc.symbol, sig.Symbol, tc.text)
		assert.Equal(t, tc.qty, sig.Quantity, tc.text)
	}
}

func TestParseText_NonSignal(t *testing.T) {
	p := newParser(t)
	assert.Nil(t, p.ParseText("good morning traders"))
	assert.Nil(t, p.ParseText("signal: hold everything"))
}

func TestParseEmbed_EquitySignal(t *testing.T) {
	p := newParser(t)

	sig := p.ParseEmbed(&core.ChatEmbed{
		Title: "New Signal",
		Fields: []core.ChatField{
			{Name: "Symbol", Value: "SPY"},
			{Name: "Action", Value: "BTO"},
			{Name: "Quantity", Value: "10"},
		},
		Footer: "ID: sig-42",
	})
	require.NotNil(t, sig)
	assert.Equal(t, "sig-42", sig.ID, "footer id wins over a generated one")
	assert.Equal(t, core.BuyToOpen, sig.Action)
	assert.Equal(t, core.Equity, sig.Instrument)
}

func TestParseEmbed_OptionSignal(t *testing.T) {
	p := newParser(t)

	sig := p.ParseEmbed(&core.ChatEmbed{
		Title: "SIGNAL alert",
		Fields: []core.ChatField{
			{Name: "Ticker", Value: "spy"},
			{Name: "Action", Value: "Buy"},
			{Name: "Contracts", Value: "2"},
			{Name: "Strike", Value: "664"},
			{Name: "Expiration", Value: "2025-11-28"},
			{Name: "Option Type", Value: "Put"},
			{Name: "Price", Value: "$1.25"},
			{Name: "Confidence", Value: "high"},
		},
	})
	require.NotNil(t, sig)
	assert.Equal(t, "SPY", sig.Symbol)
	assert.Equal(t, core.EquityOption, sig.Instrument)
	assert.Equal(t, core.Put, sig.OptionType)
	assert.True(t, sig.Strike.Equal(decimal.NewFromInt(664)))
	assert.Equal(t, core.Limit, sig.OrderType, "an attached price implies a limit order")
	assert.Equal(t, "HIGH", sig.Confidence)
}

func TestParseEmbed_SymbolFallbackFromTitle(t *testing.T) {
	p := newParser(t)

	sig := p.ParseEmbed(&core.ChatEmbed{
		Title: "SIGNAL NVDA entry",
		Fields: []core.ChatField{
			{Name: "Action", Value: "BTO"},
			{Name: "Quantity", Value: "1"},
		},
	})
	require.NotNil(t, sig)
	assert.Equal(t, "NVDA", sig.Symbol)
}

func TestParseEmbed_NotASignal(t *testing.T) {
	p := newParser(t)
	assert.Nil(t, p.ParseEmbed(&core.ChatEmbed{Title: "Daily recap"}))
}

func TestParseEmbed_MissingRequiredFields(t *testing.T) {
	p := newParser(t)
	assert.Nil(t, p.ParseEmbed(&core.ChatEmbed{
		Title:  "SIGNAL",
		Fields: []core.ChatField{{Name: "Action", Value: "BTO"}},
	}))
}

func TestNormalizeAction_Table(t *testing.T) {
	cases := map[string]core.Action{
		"BUY":  core.BuyToOpen,
		"bto":  core.BuyToOpen,
		"SELL": core.SellToOpen,
		"STO":  core.SellToOpen,
		"BTC":  core.BuyToClose,
		"stc":  core.SellToClose,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeAction(raw), raw)
	}
	assert.Equal(t, core.Action("HOLD"), NormalizeAction("HOLD"), "unknown spellings pass through")
}

func TestParse_PrefersEmbed(t *testing.T) {
	p := newParser(t)

	sig := p.Parse(&core.ChatMessage{
		Content: "signal: buy 1 QQQ",
		Embed: &core.ChatEmbed{
			Title: "SIGNAL",
			Fields: []core.ChatField{
				{Name: "Symbol", Value: "SPY"},
				{Name: "Action", Value: "BTO"},
				{Name: "Quantity", Value: "10"},
			},
		},
	})
	require.NotNil(t, sig)
	assert.Equal(t, "SPY", sig.Symbol)
	assert.Equal(t, "embed", sig.Source)
}
