package fills

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/signalparse"
)

// Outcome is the result of validating a fill before broadcast.
type Outcome struct {
	IsValid  bool
	Critical bool
	Errors   []string
}

// Validate inspects a fill. Critical problems mean the fill must be dropped;
// non-critical ones are fixable by Sanitize.
func Validate(fill *core.Fill) Outcome {
	if fill == nil {
		return Outcome{Critical: true, Errors: []string{"fill is not a record"}}
	}

	var critical, soft []string
	if strings.TrimSpace(fill.Symbol) == "" {
		critical = append(critical, "missing symbol")
	}
	if strings.TrimSpace(string(fill.Action)) == "" {
		critical = append(critical, "missing action")
	}

	if fill.FilledQuantity < 0 {
		soft = append(soft, "negative filled quantity")
	}
	if fill.FillPrice.IsNegative() {
		soft = append(soft, "negative fill price")
	}
	if fill.FilledAt.IsZero() {
		soft = append(soft, "missing or invalid fill time")
	}

	if len(critical) > 0 {
		return Outcome{Critical: true, Errors: append(critical, soft...)}
	}
	return Outcome{IsValid: len(soft) == 0, Errors: soft}
}

// normalizeFillAction extends the signal action table with the past-tense
// aliases the trade feed uses.
func normalizeFillAction(raw string) core.Action {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BOUGHT":
		return core.BuyToOpen
	case "SOLD":
		return core.SellToClose
	default:
		return signalparse.NormalizeAction(raw)
	}
}

// Sanitize repairs every non-critical defect in place and returns the fill.
// It is total and idempotent; sanitising twice changes nothing.
func Sanitize(fill *core.Fill, clock core.Clock) *core.Fill {
	if clock == nil {
		clock = core.SystemClock{}
	}

	fill.Symbol = strings.ToUpper(strings.TrimSpace(fill.Symbol))
	fill.Action = normalizeFillAction(string(fill.Action))

	if fill.FilledQuantity < 0 {
		fill.FilledQuantity = 0
	}
	if fill.TotalQuantity <= 0 {
		fill.TotalQuantity = fill.FilledQuantity
	}
	if fill.FillPrice.IsNegative() {
		fill.FillPrice = decimal.Zero
	}
	if fill.Fees.IsNegative() {
		fill.Fees = decimal.Zero
	}
	if fill.FilledAt.IsZero() {
		fill.FilledAt = clock.Now()
	}
	if fill.Status == "" {
		fill.Status = core.StatusFilled
	}
	if fill.Instrument == "" {
		if !fill.Strike.IsZero() || fill.Expiration != "" || fill.OptionType != "" {
			fill.Instrument = core.EquityOption
		} else {
			fill.Instrument = core.Equity
		}
	}
	if fill.OrderID == "" {
		fill.OrderID = fmt.Sprintf("fill_%d_%s", clock.Now().UnixMilli(), uuid.NewString()[:8])
	}
	return fill
}
