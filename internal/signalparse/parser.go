// Package signalparse canonicalises coach messages into Signal records. Two
// shapes are recognised: structured embeds with titled fields, and free-text
// commands like "signal: BTO 10 SPY".
package signalparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

var (
	textSignalRe = regexp.MustCompile(`(?i)(signal|trade)[:\s]*(buy|sell|bto|sto|btc|stc)\s+(\d+)\s+([a-zA-Z]+)`)
	symbolRe     = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
	footerIDRe   = regexp.MustCompile(`ID:\s*(\S+)`)
)

// NormalizeAction maps coach action spellings to canonical actions. Unknown
// spellings pass through unchanged so downstream validation can report them.
func NormalizeAction(raw string) core.Action {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY", "BTO", "BUYTOOPEN", "BUY TO OPEN":
		return core.BuyToOpen
	case "SELL", "STO", "SELLTOOPEN", "SELL TO OPEN":
		return core.SellToOpen
	case "BTC", "BUYTOCLOSE", "BUY TO CLOSE":
		return core.BuyToClose
	case "STC", "SELLTOCLOSE", "SELL TO CLOSE":
		return core.SellToClose
	default:
		return core.Action(strings.TrimSpace(raw))
	}
}

// Parser extracts signals from chat messages. Safe for concurrent use.
type Parser struct {
	counter atomic.Uint64
	clock   core.Clock
	logger  core.ILogger
}

func NewParser(clock core.Clock, logger core.ILogger) *Parser {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Parser{clock: clock, logger: logger.WithField("component", "signal_parser")}
}

// Parse extracts a signal from a chat message, preferring the embed form.
// Returns nil when the message carries no recognisable signal.
func (p *Parser) Parse(msg *core.ChatMessage) *core.Signal {
	if msg == nil {
		return nil
	}
	if msg.Embed != nil {
		if sig := p.ParseEmbed(msg.Embed); sig != nil {
			return sig
		}
	}
	return p.ParseText(msg.Content)
}

// ParseEmbed canonicalises a structured embed. An embed is a signal when its
// title or description mentions SIGNAL.
func (p *Parser) ParseEmbed(embed *core.ChatEmbed) *core.Signal {
	marker := strings.ToUpper(embed.Title + " " + embed.Description)
	if !strings.Contains(marker, "SIGNAL") {
		return nil
	}

	sig := &core.Signal{
		OrderType:  core.Market,
		Instrument: core.Equity,
		Timestamp:  p.clock.Now(),
		Source:     "embed",
	}

	sig.Symbol = strings.ToUpper(strings.TrimSpace(firstField(embed, "symbol", "ticker")))
	if sig.Symbol == "" {
		sig.Symbol = fallbackSymbol(embed.Title + " " + embed.Description)
	}
	sig.Action = NormalizeAction(firstField(embed, "action", "side"))
	sig.Quantity = parseInt(firstField(embed, "quantity", "contracts", "shares"))
	sig.Price = parsePrice(firstField(embed, "price", "fill price", "limit"))
	if !sig.Price.IsZero() {
		sig.OrderType = core.Limit
	}
	switch strings.ToUpper(strings.TrimSpace(firstField(embed, "order type"))) {
	case "MARKET":
		sig.OrderType = core.Market
	case "LIMIT":
		sig.OrderType = core.Limit
	}
	sig.Confidence = strings.ToUpper(strings.TrimSpace(firstField(embed, "confidence")))

	sig.Strike = parsePrice(firstField(embed, "strike"))
	sig.Expiration = strings.TrimSpace(firstField(embed, "expiration", "expiry", "exp"))
	switch strings.ToUpper(strings.TrimSpace(firstField(embed, "option type", "type"))) {
	case "CALL", "C":
		sig.OptionType = core.Call
	case "PUT", "P":
		sig.OptionType = core.Put
	}
	if sig.HasOptionFields() {
		sig.Instrument = core.EquityOption
	}

	sig.ID = p.signalID(embed.Footer)

	if sig.Symbol == "" || sig.Action == "" || sig.Quantity <= 0 {
		p.logger.Debug("Embed mentioned a signal but is missing required fields",
			"symbol", sig.Symbol, "action", string(sig.Action), "quantity", sig.Quantity)
		return nil
	}
	return sig
}

// ParseText canonicalises a free-text signal command. Returns nil when the
// text does not match.
func (p *Parser) ParseText(content string) *core.Signal {
	m := textSignalRe.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	quantity, err := strconv.Atoi(m[3])
	if err != nil || quantity <= 0 {
		return nil
	}
	return &core.Signal{
		ID:         p.signalID(""),
		Symbol:     strings.ToUpper(m[4]),
		Action:     NormalizeAction(m[2]),
		Quantity:   quantity,
		OrderType:  core.Market,
		Instrument: core.Equity,
		Timestamp:  p.clock.Now(),
		Source:     "text",
	}
}

// signalID prefers the embed footer's "ID: <x>" suffix, otherwise mints a
// monotonic id.
func (p *Parser) signalID(footer string) string {
	if m := footerIDRe.FindStringSubmatch(footer); m != nil {
		return m[1]
	}
	return fmt.Sprintf("signal_%d_%d", time.Now().UnixMilli(), p.counter.Add(1))
}

func firstField(embed *core.ChatEmbed, names ...string) string {
	for _, name := range names {
		if v := embed.Field(name); v != "" {
			return v
		}
	}
	return ""
}

// fallbackSymbol returns the first contiguous run of one to five uppercase
// letters, skipping the SIGNAL marker itself.
func fallbackSymbol(text string) string {
	for _, candidate := range symbolRe.FindAllString(text, -1) {
		if candidate != "SIGNAL" && candidate != "TRADE" {
			return candidate
		}
	}
	return ""
}

func parseInt(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func parsePrice(raw string) decimal.Decimal {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
