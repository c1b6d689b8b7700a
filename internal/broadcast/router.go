// Package broadcast routes fills and signals to tiered subscriber channels
// and fans the sends out concurrently.
package broadcast

import (
	"sync"

	"github.com/runnelsdev/copybridge/internal/core"
)

// MajorSet are the symbols premium subscribers receive fills for.
var MajorSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true,
	"AAPL": true, "TSLA": true, "NVDA": true,
	"MSFT": true, "AMZN": true, "GOOGL": true,
}

// BasicMajorSet are the index symbols basic subscribers receive fills for.
var BasicMajorSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true,
}

// basicSignalSet are the symbols basic subscribers receive signals for.
var basicSignalSet = map[string]bool{
	"SPY": true, "QQQ": true, "IWM": true, "DIA": true,
	"AAPL": true, "TSLA": true, "NVDA": true,
}

// SignalPredicate decides whether a tier receives a signal.
type SignalPredicate func(signal *core.Signal) bool

// TierRouter decides which tiers receive a record. Predicates for signals
// are replaceable; fill routing is fixed on the symbol sets.
type TierRouter struct {
	FilteringDisabled bool
	SignalPredicates  map[core.Tier]SignalPredicate
}

// NewTierRouter creates a router with the default signal predicates.
func NewTierRouter(filteringDisabled bool) *TierRouter {
	return &TierRouter{
		FilteringDisabled: filteringDisabled,
		SignalPredicates: map[core.Tier]SignalPredicate{
			core.TierVIP: func(*core.Signal) bool { return true },
			core.TierPremium: func(s *core.Signal) bool {
				return s.Confidence == "HIGH" || s.Confidence == "MEDIUM"
			},
			core.TierBasic: func(s *core.Signal) bool {
				return s.Confidence == "HIGH" && basicSignalSet[s.Symbol]
			},
		},
	}
}

// RouteFill returns the tiers that receive a fill, in routing order.
func (r *TierRouter) RouteFill(fill *core.Fill) []core.Tier {
	if r.FilteringDisabled {
		return append([]core.Tier(nil), core.AllTiers...)
	}
	tiers := []core.Tier{core.TierVIP}
	if MajorSet[fill.Symbol] {
		tiers = append(tiers, core.TierPremium)
	}
	if BasicMajorSet[fill.Symbol] {
		tiers = append(tiers, core.TierBasic)
	}
	return tiers
}

// RouteSignal returns the tiers that receive a signal.
func (r *TierRouter) RouteSignal(signal *core.Signal) []core.Tier {
	if r.FilteringDisabled {
		return append([]core.Tier(nil), core.AllTiers...)
	}
	var tiers []core.Tier
	for _, tier := range core.AllTiers {
		if pred, ok := r.SignalPredicates[tier]; ok && pred(signal) {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

// signalTierCapacity bounds the signal routing memory.
const signalTierCapacity = 1000

// SignalTierMemory remembers which tiers received each signal so the
// matching fill reaches the same audience. FIFO eviction at capacity.
type SignalTierMemory struct {
	mu    sync.Mutex
	order []string
	tiers map[string][]core.Tier
}

func NewSignalTierMemory() *SignalTierMemory {
	return &SignalTierMemory{tiers: make(map[string][]core.Tier)}
}

// Track records the tier set for a signal id.
func (m *SignalTierMemory) Track(signalID string, tiers []core.Tier) {
	if signalID == "" || len(tiers) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tiers[signalID]; !exists {
		m.order = append(m.order, signalID)
		if len(m.order) > signalTierCapacity {
			evicted := m.order[0]
			m.order = m.order[1:]
			delete(m.tiers, evicted)
		}
	}
	m.tiers[signalID] = append([]core.Tier(nil), tiers...)
}

// Lookup returns the remembered tier set for a signal id.
func (m *SignalTierMemory) Lookup(signalID string) ([]core.Tier, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tiers, ok := m.tiers[signalID]
	if !ok {
		return nil, false
	}
	return append([]core.Tier(nil), tiers...), true
}

// Len reports how many signals are remembered.
func (m *SignalTierMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
