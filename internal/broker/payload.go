package broker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Broker wire spellings for leg instrument types.
const (
	legInstrumentEquity = "Equity"
	legInstrumentOption = "Equity Option"
)

// PriceEffectFor derives the option cash direction from the action:
// buys debit the account, sells credit it.
func PriceEffectFor(action core.Action) core.PriceEffect {
	if action.IsBuy() {
		return core.Debit
	}
	return core.Credit
}

// FormatLimitPrice renders a limit price as the broker's two-decimal string.
func FormatLimitPrice(price decimal.Decimal) string {
	return price.StringFixed(2)
}

// BuildEquityPayload builds a single-leg equity order payload from a sized signal.
func BuildEquityPayload(signal *core.Signal, quantity int) (*core.OrderPayload, error) {
	if signal.Symbol == "" {
		return nil, fmt.Errorf("signal has no symbol")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	payload := &core.OrderPayload{
		TimeInForce: core.TIFDay,
		OrderType:   signal.OrderType,
		Legs: []core.OrderLeg{{
			InstrumentType: legInstrumentEquity,
			Symbol:         signal.Symbol,
			Quantity:       quantity,
			Action:         signal.Action,
		}},
	}
	if payload.OrderType == "" {
		payload.OrderType = core.Market
	}
	if payload.OrderType == core.Limit {
		if signal.Price.IsZero() {
			return nil, fmt.Errorf("limit order without a price")
		}
		payload.Price = FormatLimitPrice(signal.Price)
	}
	return payload, nil
}

// BuildOptionPayload builds a single-leg option order payload with the OCC
// ticker rendered into the leg symbol.
func BuildOptionPayload(signal *core.Signal, quantity int) (*core.OrderPayload, error) {
	if !signal.HasOptionFields() {
		return nil, fmt.Errorf("option signal missing strike, expiration or option type")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	occ, err := RenderOCC(signal.Symbol, signal.Expiration, signal.OptionType, signal.Strike)
	if err != nil {
		return nil, fmt.Errorf("failed to render OCC symbol: %w", err)
	}

	payload := &core.OrderPayload{
		TimeInForce: core.TIFDay,
		OrderType:   signal.OrderType,
		PriceEffect: PriceEffectFor(signal.Action),
		Legs: []core.OrderLeg{{
			InstrumentType: legInstrumentOption,
			Symbol:         occ,
			Quantity:       quantity,
			Action:         signal.Action,
		}},
	}
	if payload.OrderType == "" {
		payload.OrderType = core.Market
	}
	if payload.OrderType == core.Limit {
		if signal.Price.IsZero() {
			return nil, fmt.Errorf("limit order without a price")
		}
		payload.Price = FormatLimitPrice(signal.Price)
	}
	return payload, nil
}

// BuildPayload dispatches on the signal's instrument type.
func BuildPayload(signal *core.Signal, quantity int) (*core.OrderPayload, error) {
	if signal.Instrument == core.EquityOption {
		return BuildOptionPayload(signal, quantity)
	}
	return BuildEquityPayload(signal, quantity)
}

// payloadToWire converts an OrderPayload to the broker's JSON record shape.
func payloadToWire(p *core.OrderPayload) map[string]any {
	wire := map[string]any{
		"time-in-force": string(p.TimeInForce),
		"order-type":    string(p.OrderType),
	}
	if p.Price != "" {
		wire["price"] = p.Price
	}
	if p.PriceEffect != "" {
		wire["price-effect"] = string(p.PriceEffect)
	}
	if len(p.Legs) > 0 {
		legs := make([]map[string]any, 0, len(p.Legs))
		for _, leg := range p.Legs {
			legs = append(legs, map[string]any{
				"instrument-type": leg.InstrumentType,
				"symbol":          leg.Symbol,
				"quantity":        leg.Quantity,
				"action":          string(leg.Action),
			})
		}
		wire["legs"] = legs
	}
	if p.TriggerOrder != nil {
		wire["trigger-order"] = payloadToWire(p.TriggerOrder)
	}
	if len(p.Exits) > 0 {
		orders := make([]map[string]any, 0, len(p.Exits))
		for _, exit := range p.Exits {
			orders = append(orders, payloadToWire(exit))
		}
		wire["orders"] = orders
	}
	for k, v := range p.Raw {
		if _, exists := wire[k]; !exists {
			wire[k] = v
		}
	}
	return wire
}
