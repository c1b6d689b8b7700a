package broadcast

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
)

func TestRouteFill_SymbolSets(t *testing.T) {
	r := NewTierRouter(false)

	cases := []struct {
		symbol string
		want   []core.Tier
	}{
		{"SPY", []core.Tier{core.TierVIP, core.TierPremium, core.TierBasic}},
		{"QQQ", []core.Tier{core.TierVIP, core.TierPremium, core.TierBasic}},
		{"AAPL", []core.Tier{core.TierVIP, core.TierPremium}},
		{"GOOGL", []core.Tier{core.TierVIP, core.TierPremium}},
		{"NFLX", []core.Tier{core.TierVIP}},
	}
	for _, tc := range cases {
		got := r.RouteFill(&core.Fill{Symbol: tc.symbol})
		assert.Equal(t, tc.want, got, tc.symbol)
	}
}

func TestRouteFill_FilteringDisabled(t *testing.T) {
	r := NewTierRouter(true)
	got := r.RouteFill(&core.Fill{Symbol: "NFLX"})
	assert.Equal(t, core.AllTiers, got)
}

func TestRouteSignal_DefaultPredicates(t *testing.T) {
	r := NewTierRouter(false)

	cases := []struct {
		symbol     string
		confidence string
		want       []core.Tier
	}{
		{"SPY", "HIGH", []core.Tier{core.TierVIP, core.TierPremium, core.TierBasic}},
		{"NVDA", "HIGH", []core.Tier{core.TierVIP, core.TierPremium, core.TierBasic}},
		{"MSFT", "HIGH", []core.Tier{core.TierVIP, core.TierPremium}},
		{"SPY", "MEDIUM", []core.Tier{core.TierVIP, core.TierPremium}},
		{"SPY", "LOW", []core.Tier{core.TierVIP}},
		{"SPY", "", []core.Tier{core.TierVIP}},
	}
	for _, tc := range cases {
		got := r.RouteSignal(&core.Signal{Symbol: tc.symbol, Confidence: tc.confidence})
		assert.Equal(t, tc.want, got, "%s/%s", tc.symbol, tc.confidence)
	}
}

func TestRouteSignal_CustomPredicate(t *testing.T) {
	r := NewTierRouter(false)
	r.SignalPredicates[core.TierBasic] = func(*core.Signal) bool { return true }

	got := r.RouteSignal(&core.Signal{Symbol: "NFLX", Confidence: "LOW"})
	assert.Contains(t, got, core.TierBasic)
}

func TestSignalTierMemory_TrackAndLookup(t *testing.T) {
	m := NewSignalTierMemory()
	m.Track("sig-1", []core.Tier{core.TierVIP})

	tiers, ok := m.Lookup("sig-1")
	require.True(t, ok)
	assert.Equal(t, []core.Tier{core.TierVIP}, tiers)

	_, ok = m.Lookup("sig-unknown")
	assert.False(t, ok)
}

func TestSignalTierMemory_FIFOEviction(t *testing.T) {
	m := NewSignalTierMemory()
	for i := 0; i < signalTierCapacity+10; i++ {
		m.Track(fmt.Sprintf("sig-%d", i), []core.Tier{core.TierVIP})
	}

	assert.Equal(t, signalTierCapacity, m.Len())
	_, ok := m.Lookup("sig-0")
	assert.False(t, ok, "oldest entries are evicted first")
	_, ok = m.Lookup(fmt.Sprintf("sig-%d", signalTierCapacity+9))
	assert.True(t, ok)
}

func TestSignalTierMemory_UpdateDoesNotDuplicate(t *testing.T) {
	m := NewSignalTierMemory()
	m.Track("sig-1", []core.Tier{core.TierVIP})
	m.Track("sig-1", []core.Tier{core.TierVIP, core.TierPremium})

	assert.Equal(t, 1, m.Len())
	tiers, _ := m.Lookup("sig-1")
	assert.Len(t, tiers, 2)
}
