package queue

import (
	"fmt"

	"github.com/runnelsdev/copybridge/internal/core"
)

// ExpandBracket converts an entry-plus-exits bracket into a single OTOCO
// payload: the entry becomes the trigger order, each exit becomes one leg of
// the OCO pair. Defaults are applied, never overridden: the entry defaults to
// Market, exits default to Limit, and every exit leg closes with a sell.
func ExpandBracket(b *core.BracketPayload) (*core.OrderPayload, error) {
	if !b.IsBracket() {
		return nil, fmt.Errorf("bracket requires an entry and at least one of take-profit or stop-loss")
	}

	entry := clonePayload(b.Entry)
	if entry.OrderType == "" {
		entry.OrderType = core.Market
	}

	envelope := &core.OrderPayload{
		OrderType:    core.OTOCO,
		TimeInForce:  entry.TimeInForce,
		TriggerOrder: entry,
	}
	if envelope.TimeInForce == "" {
		envelope.TimeInForce = core.TIFDay
	}

	for _, exit := range []*core.OrderPayload{b.TakeProfit, b.StopLoss} {
		if exit == nil {
			continue
		}
		leg := clonePayload(exit)
		if leg.OrderType == "" {
			leg.OrderType = core.Limit
		}
		if leg.TimeInForce == "" {
			leg.TimeInForce = envelope.TimeInForce
		}
		for i := range leg.Legs {
			if leg.Legs[i].Action == "" {
				leg.Legs[i].Action = core.SellToClose
			}
		}
		envelope.Exits = append(envelope.Exits, leg)
	}

	return envelope, nil
}

func clonePayload(p *core.OrderPayload) *core.OrderPayload {
	cp := *p
	cp.Legs = append([]core.OrderLeg(nil), p.Legs...)
	if p.Raw != nil {
		cp.Raw = make(map[string]any, len(p.Raw))
		for k, v := range p.Raw {
			cp.Raw[k] = v
		}
	}
	return &cp
}
