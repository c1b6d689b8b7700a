package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Action is a normalised trade intent direction.
type Action string

const (
	BuyToOpen   Action = "BuyToOpen"
	SellToOpen  Action = "SellToOpen"
	BuyToClose  Action = "BuyToClose"
	SellToClose Action = "SellToClose"
)

// IsBuy reports whether the action opens or closes with a purchase.
func (a Action) IsBuy() bool { return a == BuyToOpen || a == BuyToClose }

// InstrumentType distinguishes plain equities from listed options.
type InstrumentType string

const (
	Equity       InstrumentType = "Equity"
	EquityOption InstrumentType = "EquityOption"
)

// OptionType is the option right.
type OptionType string

const (
	Call OptionType = "Call"
	Put  OptionType = "Put"
)

// OrderType is the broker order type.
type OrderType string

const (
	Market OrderType = "Market"
	Limit  OrderType = "Limit"
	OTOCO  OrderType = "OTOCO"
)

// TimeInForce controls order lifetime and intersession routing.
type TimeInForce string

const (
	TIFDay TimeInForce = "Day"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// PriceEffect is the cash direction of an option order.
type PriceEffect string

const (
	Debit  PriceEffect = "Debit"
	Credit PriceEffect = "Credit"
)

// FillStatus is the broker-reported execution state.
type FillStatus string

const (
	StatusFilled          FillStatus = "Filled"
	StatusPartiallyFilled FillStatus = "PartiallyFilled"
	StatusPending         FillStatus = "Pending"
	StatusCancelled       FillStatus = "Cancelled"
)

// Signal is a normalised trade intent from the coach source.
// For EquityOption signals Strike, Expiration and OptionType must all be set.
type Signal struct {
	ID         string
	Symbol     string
	Action     Action
	Quantity   int
	OrderType  OrderType
	Price      decimal.Decimal // zero means no price attached
	Instrument InstrumentType
	Strike     decimal.Decimal
	Expiration string
	OptionType OptionType
	Confidence string // HIGH / MEDIUM / LOW, used by tier routing
	Timestamp  time.Time
	Source     string
}

// HasOptionFields reports whether all option identity fields are present.
func (s *Signal) HasOptionFields() bool {
	return !s.Strike.IsZero() && s.Expiration != "" && s.OptionType != ""
}

// Fill is a realised broker execution event.
type Fill struct {
	OrderID          string
	OriginalSignalID string
	Symbol           string
	Action           Action
	Status           FillStatus
	FilledQuantity   int
	TotalQuantity    int
	FillPrice        decimal.Decimal
	Fees             decimal.Decimal
	AccountNumber    string
	Instrument       InstrumentType
	Strike           decimal.Decimal
	Expiration       string
	OptionType       OptionType
	Venue            string
	FilledAt         time.Time
}

// OrderLeg is a single leg of a broker order payload. InstrumentType uses the
// broker's wire spelling ("Equity" / "Equity Option").
type OrderLeg struct {
	InstrumentType string
	Symbol         string
	Quantity       int
	Action         Action
}

// OrderPayload is the structured broker order record. For OTOCO payloads
// TriggerOrder and Exits are set and Legs is empty. Raw carries fields the
// broker accepts but the core ignores.
type OrderPayload struct {
	TimeInForce   TimeInForce
	OrderType     OrderType
	Price         string // two-decimal limit price, empty for market orders
	PriceEffect   PriceEffect
	Legs          []OrderLeg
	TriggerOrder  *OrderPayload
	Exits         []*OrderPayload
	EstimatedFees decimal.Decimal
	Raw           map[string]any
}

// Symbol returns the payload's symbol from the first leg, or from Raw.
func (p *OrderPayload) Symbol() string {
	if len(p.Legs) > 0 {
		return p.Legs[0].Symbol
	}
	if p.TriggerOrder != nil {
		return p.TriggerOrder.Symbol()
	}
	if s, ok := p.Raw["symbol"].(string); ok {
		return s
	}
	return ""
}

// Size returns the total quantity across legs.
func (p *OrderPayload) Size() int {
	total := 0
	for _, leg := range p.Legs {
		total += leg.Quantity
	}
	if total == 0 && p.TriggerOrder != nil {
		return p.TriggerOrder.Size()
	}
	return total
}

// IsOTOCO reports whether the payload is a bracket envelope.
func (p *OrderPayload) IsOTOCO() bool { return p.OrderType == OTOCO }

// BracketPayload is the pre-expansion bracket shape: an entry plus at least
// one exit. The BracketExpander turns it into an OTOCO OrderPayload.
type BracketPayload struct {
	Entry      *OrderPayload
	TakeProfit *OrderPayload
	StopLoss   *OrderPayload
}

// IsBracket reports whether the bracket has an entry and at least one exit.
func (b *BracketPayload) IsBracket() bool {
	return b != nil && b.Entry != nil && (b.TakeProfit != nil || b.StopLoss != nil)
}

// OrderResult is the broker's answer to a submitted or dry-run order.
type OrderResult struct {
	OrderID       string
	TimeInForce   TimeInForce
	DryRun        bool
	EstimatedFees decimal.Decimal
	CompletedAt   time.Time
}

// DryRunResult is the broker's pre-flight evaluation.
type DryRunResult struct {
	NewBuyingPower decimal.Decimal
	TotalFees      decimal.Decimal
}

// ValidationResult is the outcome of structural plus dry-run validation.
type ValidationResult struct {
	Valid         bool
	Errors        []string
	EstimatedFees decimal.Decimal
}

// TradingStatus is the policy server's day-level authorisation snapshot.
// Consumers treat now > ValidUntil as CanTrade == false.
type TradingStatus struct {
	CanTrade          bool
	Tier              string
	MonthlyProfitUsed decimal.Decimal
	MonthlyCapLimit   decimal.Decimal
	MaxPositionSize   decimal.Decimal
	ValidUntil        time.Time
	Reason            string
	Message           string
}

// TradeReport is the fire-and-forget record sent to the policy server after
// a successful submission.
type TradeReport struct {
	Symbol    string
	Quantity  int
	FillPrice decimal.Decimal
	PnL       decimal.Decimal
	Timestamp time.Time
}

// Account identifies a broker account.
type Account struct {
	AccountNumber string
	Nickname      string
	Margin        bool
}

// AccountBalance is a broker balance snapshot.
type AccountBalance struct {
	AccountNumber   string
	NetLiquidation  decimal.Decimal
	CashBalance     decimal.Decimal
	BuyingPower     decimal.Decimal
	DerivativeBP    decimal.Decimal
}

// Position is an open broker position.
type Position struct {
	AccountNumber string
	Symbol        string
	Instrument    InstrumentType
	Quantity      int
	AveragePrice  decimal.Decimal
}

// LiveOrder is an order currently working at the broker.
type LiveOrder struct {
	OrderID     string
	Symbol      string
	Status      string
	OrderType   OrderType
	TimeInForce TimeInForce
}

// Quote is a top-of-book snapshot used by the mid-price estimation hook.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	At     time.Time
}

// Mid returns the quote midpoint, or zero when one side is missing.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsZero() || q.Ask.IsZero() {
		return decimal.Zero
	}
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// LatencyKind discriminates latency samples.
type LatencyKind string

const (
	LatencySignal LatencyKind = "signal"
	LatencyOrder  LatencyKind = "order"
)

// LatencySample is one measured pipeline traversal.
type LatencySample struct {
	Kind               LatencyKind
	Source             string
	TotalLatencyMs     float64
	QueueLatencyMs     float64
	ProcessingLatencyMs float64
	At                 time.Time
}

// Tier is a subscriber class.
type Tier string

const (
	TierVIP     Tier = "vip"
	TierPremium Tier = "premium"
	TierBasic   Tier = "basic"
)

// AllTiers lists tiers in routing order.
var AllTiers = []Tier{TierVIP, TierPremium, TierBasic}

// ChatField is one titled field of a structured chat message.
type ChatField struct {
	Name   string
	Value  string
	Inline bool
}

// ChatEmbed is a structured chat message body. The transport that carries it
// is external; this is a plain record.
type ChatEmbed struct {
	Title       string
	Description string
	Fields      []ChatField
	Footer      string
}

// ChatMessage is an outbound chat transport message.
type ChatMessage struct {
	Content string
	Embed   *ChatEmbed
}

// Field returns the value of a titled embed field, matching case-insensitively.
func (e *ChatEmbed) Field(name string) string {
	for _, f := range e.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}
