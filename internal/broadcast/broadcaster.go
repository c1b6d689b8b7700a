package broadcast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/fills"
	"github.com/runnelsdev/copybridge/pkg/concurrency"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// fillHistoryCapacity bounds the broadcast fill history ring.
const fillHistoryCapacity = 1000

// ChannelMap holds the per-tier targets. Fills channels fall back to the
// signal channel of the same tier; an empty target means the tier is skipped.
type ChannelMap struct {
	Signals map[core.Tier]string
	Fills   map[core.Tier]string
}

// FillTarget resolves the channel a tier's fills go to.
func (c ChannelMap) FillTarget(tier core.Tier) string {
	if id := c.Fills[tier]; id != "" {
		return id
	}
	return c.Signals[tier]
}

// TierResult is the outcome of one tier's delivery.
type TierResult struct {
	Tier      core.Tier
	Success   bool
	Skipped   bool
	MessageID string
	ChannelID string
	Err       error
}

// Result aggregates a broadcast across tiers. Errors holds human-readable
// per-tier failures; a critical validation failure yields a single "all" entry.
type Result struct {
	PerTier map[core.Tier]*TierResult
	Errors  []string
}

// FillBroadcaster validates, sanitises and fans out fills to tier channels.
type FillBroadcaster struct {
	transport core.IChatTransport
	router    *TierRouter
	memory    *SignalTierMemory
	channels  ChannelMap
	pool      *concurrency.WorkerPool
	clock     core.Clock
	logger    core.ILogger
	metrics   *telemetry.MetricsHolder

	mu      sync.Mutex
	history []*core.Fill
}

func NewFillBroadcaster(transport core.IChatTransport, router *TierRouter, memory *SignalTierMemory,
	channels ChannelMap, clock core.Clock, logger core.ILogger) *FillBroadcaster {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &FillBroadcaster{
		transport: transport,
		router:    router,
		memory:    memory,
		channels:  channels,
		clock:     clock,
		logger:    logger.WithField("component", "fill_broadcaster"),
		metrics:   telemetry.GetGlobalMetrics(),
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "tier_broadcast",
			MaxWorkers: len(core.AllTiers),
		}, logger),
	}
}

// BroadcastFill delivers a fill to its tier audience. A fill whose signal is
// remembered goes to exactly the tiers that saw the signal.
func (b *FillBroadcaster) BroadcastFill(ctx context.Context, fill *core.Fill, signalID string) *Result {
	result := &Result{PerTier: make(map[core.Tier]*TierResult)}

	outcome := fills.Validate(fill)
	if outcome.Critical {
		result.Errors = append(result.Errors,
			fmt.Sprintf("all: fill rejected: %s", strings.Join(outcome.Errors, ", ")))
		b.logger.Warn("Fill dropped before broadcast", "errors", outcome.Errors)
		return result
	}
	fills.Sanitize(fill, b.clock)
	b.appendHistory(fill)

	if signalID == "" {
		signalID = fill.OriginalSignalID
	}
	tiers, remembered := []core.Tier(nil), false
	if signalID != "" {
		tiers, remembered = b.memory.Lookup(signalID)
	}
	if !remembered {
		tiers = b.router.RouteFill(fill)
	}

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	for _, tier := range tiers {
		tier := tier
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			tr := b.sendToTier(ctx, tier, fill)
			resultMu.Lock()
			result.PerTier[tier] = tr
			if tr.Err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", tier, tr.Err))
			}
			resultMu.Unlock()
		})
	}
	wg.Wait()
	return result
}

func (b *FillBroadcaster) sendToTier(ctx context.Context, tier core.Tier, fill *core.Fill) *TierResult {
	channelID := b.channels.FillTarget(tier)
	if channelID == "" {
		return &TierResult{Tier: tier, Skipped: true}
	}

	msg := &core.ChatMessage{Embed: renderFillEmbed(fill, tier)}
	messageID, err := b.transport.SendMessage(ctx, channelID, msg)
	b.metrics.CountBroadcast(ctx, string(tier), err == nil)
	if err != nil {
		b.logger.Warn("Tier broadcast failed", "tier", string(tier), "channel", channelID, "error", err)
		return &TierResult{Tier: tier, ChannelID: channelID, Err: err}
	}
	return &TierResult{Tier: tier, Success: true, ChannelID: channelID, MessageID: messageID}
}

// BroadcastSignal delivers a signal per the tier predicates and remembers
// the audience for the matching fill.
func (b *FillBroadcaster) BroadcastSignal(ctx context.Context, signal *core.Signal) *Result {
	result := &Result{PerTier: make(map[core.Tier]*TierResult)}
	tiers := b.router.RouteSignal(signal)
	b.memory.Track(signal.ID, tiers)

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	for _, tier := range tiers {
		tier := tier
		wg.Add(1)
		b.pool.Submit(func() {
			defer wg.Done()
			var tr *TierResult
			channelID := b.channels.Signals[tier]
			if channelID == "" {
				tr = &TierResult{Tier: tier, Skipped: true}
			} else {
				msg := &core.ChatMessage{Embed: renderSignalEmbed(signal, tier)}
				messageID, err := b.transport.SendMessage(ctx, channelID, msg)
				if err != nil {
					tr = &TierResult{Tier: tier, ChannelID: channelID, Err: err}
				} else {
					tr = &TierResult{Tier: tier, Success: true, ChannelID: channelID, MessageID: messageID}
				}
			}
			resultMu.Lock()
			result.PerTier[tier] = tr
			if tr.Err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", tier, tr.Err))
			}
			resultMu.Unlock()
		})
	}
	wg.Wait()
	return result
}

func (b *FillBroadcaster) appendHistory(fill *core.Fill) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, fill)
	if len(b.history) > fillHistoryCapacity {
		b.history = b.history[len(b.history)-fillHistoryCapacity:]
	}
}

// History returns the retained fills, oldest first.
func (b *FillBroadcaster) History() []*core.Fill {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*core.Fill(nil), b.history...)
}

// Close drains the broadcast pool.
func (b *FillBroadcaster) Close() {
	b.pool.Stop()
}

// maskAccount keeps only the last four characters of an account number.
func maskAccount(account string) string {
	if len(account) <= 4 {
		return account
	}
	return "***" + account[len(account)-4:]
}

func renderFillEmbed(fill *core.Fill, tier core.Tier) *core.ChatEmbed {
	embed := &core.ChatEmbed{
		Title:  fmt.Sprintf("Fill: %s", fill.Symbol),
		Footer: strings.ToUpper(string(tier)),
		Fields: []core.ChatField{
			{Name: "Symbol", Value: fill.Symbol, Inline: true},
			{Name: "Action", Value: string(fill.Action), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d/%d", fill.FilledQuantity, fill.TotalQuantity), Inline: true},
			{Name: "Fill Price", Value: fill.FillPrice.StringFixed(2), Inline: true},
			{Name: "Instrument", Value: string(fill.Instrument), Inline: true},
		},
	}

	multiplier := decimal.NewFromInt(1)
	if fill.Instrument == core.EquityOption {
		multiplier = decimal.NewFromInt(100)
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Strike", Value: fill.Strike.String(), Inline: true},
			core.ChatField{Name: "Expiration", Value: fill.Expiration, Inline: true},
			core.ChatField{Name: "Option Type", Value: string(fill.OptionType), Inline: true},
		)
	}
	totalValue := fill.FillPrice.Mul(decimal.NewFromInt(int64(fill.FilledQuantity))).Mul(multiplier)
	embed.Fields = append(embed.Fields,
		core.ChatField{Name: "Total Value", Value: "$" + totalValue.StringFixed(2), Inline: true},
		core.ChatField{Name: "Status", Value: string(fill.Status), Inline: true},
	)
	if !fill.Fees.IsZero() {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Fees", Value: "$" + fill.Fees.StringFixed(2), Inline: true})
	}
	if fill.AccountNumber != "" {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Account", Value: maskAccount(fill.AccountNumber), Inline: true})
	}
	if fill.Venue != "" {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Venue", Value: fill.Venue, Inline: true})
	}
	return embed
}

func renderSignalEmbed(signal *core.Signal, tier core.Tier) *core.ChatEmbed {
	embed := &core.ChatEmbed{
		Title:  fmt.Sprintf("Signal: %s", signal.Symbol),
		Footer: strings.ToUpper(string(tier)),
		Fields: []core.ChatField{
			{Name: "Symbol", Value: signal.Symbol, Inline: true},
			{Name: "Action", Value: string(signal.Action), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%d", signal.Quantity), Inline: true},
		},
	}
	if !signal.Price.IsZero() {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Price", Value: signal.Price.StringFixed(2), Inline: true})
	}
	if signal.Instrument == core.EquityOption {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Strike", Value: signal.Strike.String(), Inline: true},
			core.ChatField{Name: "Expiration", Value: signal.Expiration, Inline: true},
			core.ChatField{Name: "Option Type", Value: string(signal.OptionType), Inline: true},
		)
	}
	if signal.Confidence != "" {
		embed.Fields = append(embed.Fields,
			core.ChatField{Name: "Confidence", Value: signal.Confidence, Inline: true})
	}
	return embed
}
