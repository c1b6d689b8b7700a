// Package fills turns raw account stream events into canonical Fill records
// and makes them safe for broadcast.
package fills

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/broker"
	"github.com/runnelsdev/copybridge/internal/core"
)

// Decoder recognises the three account-event shapes the broker emits. Any
// other shape decodes to nil and is dropped silently.
type Decoder struct {
	clock  core.Clock
	logger core.ILogger
}

func NewDecoder(clock core.Clock, logger core.ILogger) *Decoder {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Decoder{clock: clock, logger: logger.WithField("component", "fill_decoder")}
}

// Decode extracts a Fill from a raw stream event, or nil when the event is
// not a fill. It never returns an error; malformed input is not a fault.
func (d *Decoder) Decode(event []byte) *core.Fill {
	var raw map[string]any
	if err := json.Unmarshal(event, &raw); err != nil {
		return nil
	}

	if order := childMap(raw, "data", "order"); order != nil {
		return d.fromOrder(order)
	}
	if order := childMap(raw, "order"); order != nil {
		return d.fromOrder(order)
	}

	data := childMap(raw, "data")
	switch {
	case recordType(raw) == "Fill":
		return d.fromFillRecord(raw)
	case data != nil && recordType(data) == "Fill":
		return d.fromFillRecord(data)
	case recordType(raw) == "Trade":
		return d.fromTrade(raw)
	case data != nil && recordType(data) == "Trade":
		return d.fromTrade(data)
	}
	return nil
}

// fromOrder handles order state records. Only filled states produce a Fill.
func (d *Decoder) fromOrder(order map[string]any) *core.Fill {
	status := core.FillStatus(str(order, "status"))
	if status != core.StatusFilled && status != core.StatusPartiallyFilled {
		return nil
	}

	fill := &core.Fill{
		OrderID:          str(order, "id", "order-id", "orderId"),
		OriginalSignalID: str(order, "signal-id", "signalId"),
		Symbol:           str(order, "symbol", "underlying-symbol", "underlyingSymbol"),
		Action:           core.Action(str(order, "action")),
		Status:           status,
		FilledQuantity:   num(order, "filled-quantity", "filledQuantity", "quantity").IntPart0(),
		TotalQuantity:    num(order, "size", "total-quantity", "totalQuantity").IntPart0(),
		FillPrice:        num(order, "price", "fill-price", "fillPrice").Decimal(),
		Fees:             sumFees(order),
		AccountNumber:    str(order, "account-number", "accountNumber"),
		Venue:            str(order, "venue", "exchange"),
		FilledAt:         parseTime(str(order, "filled-at", "filledAt", "executed-at", "executedAt")),
		Instrument:       core.Equity,
	}

	if legs, ok := order["legs"].([]any); ok && len(legs) > 0 {
		if leg, ok := legs[0].(map[string]any); ok {
			if fill.Symbol == "" {
				fill.Symbol = str(leg, "symbol", "underlying-symbol")
			}
			if fill.Action == "" {
				fill.Action = core.Action(str(leg, "action"))
			}
			if fill.FilledQuantity == 0 {
				fill.FilledQuantity = num(leg, "quantity").IntPart0()
			}
		}
	}

	d.applyOptionIdentity(fill, order)
	return fill
}

// fromFillRecord handles records tagged type == "Fill".
func (d *Decoder) fromFillRecord(rec map[string]any) *core.Fill {
	fill := &core.Fill{
		OrderID:          str(rec, "order-id", "orderId", "id"),
		OriginalSignalID: str(rec, "signal-id", "signalId"),
		Symbol:           str(rec, "symbol"),
		Action:           core.Action(str(rec, "action")),
		Status:           core.FillStatus(str(rec, "status")),
		FilledQuantity:   num(rec, "filled-quantity", "filledQuantity", "quantity").IntPart0(),
		TotalQuantity:    num(rec, "total-quantity", "totalQuantity").IntPart0(),
		FillPrice:        num(rec, "price", "fill-price", "fillPrice").Decimal(),
		Fees:             sumFees(rec),
		AccountNumber:    str(rec, "account-number", "accountNumber"),
		Venue:            str(rec, "venue", "exchange"),
		FilledAt:         parseTime(str(rec, "filled-at", "filledAt")),
		Instrument:       core.Equity,
	}
	if fill.Status == "" {
		fill.Status = core.StatusFilled
	}
	d.applyOptionIdentity(fill, rec)
	return fill
}

// fromTrade handles records tagged type == "Trade"; these are always treated
// as fully filled, with the action derived from the side.
func (d *Decoder) fromTrade(rec map[string]any) *core.Fill {
	action := core.SellToClose
	if strings.EqualFold(str(rec, "side"), "Buy") {
		action = core.BuyToOpen
	}
	fill := &core.Fill{
		OrderID:        str(rec, "order-id", "orderId", "id"),
		Symbol:         str(rec, "symbol"),
		Action:         action,
		Status:         core.StatusFilled,
		FilledQuantity: num(rec, "quantity", "size").IntPart0(),
		FillPrice:      num(rec, "price").Decimal(),
		Fees:           sumFees(rec),
		Venue:          str(rec, "venue", "exchange"),
		FilledAt:       parseTime(str(rec, "timestamp", "executed-at")),
		Instrument:     core.Equity,
	}
	d.applyOptionIdentity(fill, rec)
	return fill
}

// applyOptionIdentity infers the instrument: explicit option fields or an
// OCC-shaped symbol imply an option; a slash marks a futures-style symbol
// which is reported but passed through as-is.
func (d *Decoder) applyOptionIdentity(fill *core.Fill, rec map[string]any) {
	fill.Strike = num(rec, "strike", "strike-price", "strikePrice").Decimal()
	fill.Expiration = str(rec, "expiration", "expiration-date", "expirationDate")
	switch strings.ToUpper(str(rec, "option-type", "optionType")) {
	case "CALL", "C":
		fill.OptionType = core.Call
	case "PUT", "P":
		fill.OptionType = core.Put
	}

	if occ, err := broker.ParseOCC(fill.Symbol); err == nil {
		fill.Symbol = occ.Underlying
		fill.Strike = occ.Strike
		fill.Expiration = occ.Expiration.Format("2006-01-02")
		fill.OptionType = occ.OptionType
	}

	if !fill.Strike.IsZero() || fill.Expiration != "" || fill.OptionType != "" {
		fill.Instrument = core.EquityOption
	}
	if strings.Contains(fill.Symbol, "/") {
		d.logger.Warn("Futures-style symbol in fill, passing through unhandled", "symbol", fill.Symbol)
	}
}

func childMap(m map[string]any, path ...string) map[string]any {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func recordType(m map[string]any) string {
	return str(m, "type")
}

func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case float64:
				return decimal.NewFromFloat(t).String()
			}
		}
	}
	return ""
}

// numeric wraps a decoded numeric value so both int and decimal callers can
// share the key-fallback lookup.
type numeric struct {
	val decimal.Decimal
	ok  bool
}

func num(m map[string]any, keys ...string) numeric {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return numeric{val: decimal.NewFromFloat(t), ok: true}
		case string:
			if d, err := decimal.NewFromString(t); err == nil {
				return numeric{val: d, ok: true}
			}
		}
	}
	return numeric{}
}

func (n numeric) Decimal() decimal.Decimal {
	return n.val
}

func (n numeric) IntPart0() int {
	if !n.ok {
		return 0
	}
	return int(n.val.IntPart())
}

func sumFees(m map[string]any) decimal.Decimal {
	total := decimal.Zero
	for _, key := range []string{
		"fees", "commission",
		"regulatory-fees", "regulatoryFees",
		"clearing-fees", "clearingFees",
	} {
		total = total.Add(num(m, key).Decimal())
	}
	return total
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
