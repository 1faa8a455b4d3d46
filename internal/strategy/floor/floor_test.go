package floor

import (
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTick(t *testing.T, mid float64, spread float64, ts time.Time) types.Tick {
	t.Helper()
	half := decimal.NewFromFloat(spread / 2)
	m := decimal.NewFromFloat(mid)
	bid := m.Sub(half)
	ask := m.Add(half)
	tick, err := types.NewTick("EUR_USD", ts, bid, ask, nil)
	if err != nil {
		t.Fatalf("newTick: %v", err)
	}
	return tick
}

func newFloor() (*Floor, *types.StrategyState) {
	cfg := DefaultConfig()
	cfg.MomentumLookback = 1
	f := New(zap.NewNop(), cfg)
	state := types.NewStrategyState(decimal.NewFromInt(10000))
	started, _, _ := f.OnStart(state)
	return f, started
}

// TestInitialEntryOpensLong covers seed scenario S3: with too little
// price history for a momentum reading, the layer's first tick opens a
// long at the current ask.
func TestInitialEntryOpensLong(t *testing.T) {
	f, state := newFloor()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, events, err := f.OnTick(newTick(t, 1.1000, 0.0002, base), state)
	if err != nil {
		t.Fatalf("OnTick: %v", err)
	}

	if len(next.OpenEntries) != 1 {
		t.Fatalf("expected one open entry, got %d", len(next.OpenEntries))
	}
	if !hasEvent(events, "InitialEntry") {
		t.Fatalf("expected an InitialEntry event, got %#v", events)
	}
	if next.OpenEntries[0].Direction != types.DirectionLong {
		t.Fatalf("expected long entry, got %v", next.OpenEntries[0].Direction)
	}
}

// TestTakeProfitClosesEntry covers seed scenario S4: once bid exceeds
// entry_price + 20 pips, the entry closes with TakeProfit and at
// least 20 realised pips.
func TestTakeProfitClosesEntry(t *testing.T) {
	f, state := newFloor()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	state, _, err := f.OnTick(newTick(t, 1.1000, 0.0002, base), state)
	if err != nil {
		t.Fatalf("initial tick: %v", err)
	}
	if len(state.OpenEntries) != 1 {
		t.Fatalf("expected initial entry, got %d", len(state.OpenEntries))
	}

	state, events, err := f.OnTick(newTick(t, 1.1025, 0.0002, base.Add(time.Second)), state)
	if err != nil {
		t.Fatalf("tp tick: %v", err)
	}

	if !hasEvent(events, "TakeProfit") {
		t.Fatalf("expected a TakeProfit event, got %#v", events)
	}
	if len(state.OpenEntries) != 0 {
		t.Fatalf("expected entry removed after take-profit, got %d remaining", len(state.OpenEntries))
	}
}

// TestRetracementThenNewLayer covers seed scenario S5: adverse moves
// trigger a scale-in, and after max_retracements more adverse steps a
// new layer opens.
func TestRetracementThenNewLayer(t *testing.T) {
	f, state := newFloor()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	state, _, err := f.OnTick(newTick(t, 1.1000, 0.0002, base), state)
	if err != nil {
		t.Fatalf("initial tick: %v", err)
	}
	entryPrice := state.OpenEntries[0].EntryPrice

	// 20 pips adverse against a long: price drops.
	adverse1 := entryPrice.Sub(decimal.NewFromFloat(0.0020))
	state, events, err := f.OnTick(newTick(t, adverse1.InexactFloat64(), 0.0002, base.Add(time.Second)), state)
	if err != nil {
		t.Fatalf("retracement tick: %v", err)
	}
	if !hasEvent(events, "Retracement") {
		t.Fatalf("expected Retracement event, got %#v", events)
	}
	if len(state.OpenEntries) != 2 {
		t.Fatalf("expected two entries in layer after scale-in, got %d", len(state.OpenEntries))
	}

	ts := base.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		adverse := adverse1.Sub(decimal.NewFromFloat(0.0020).Mul(decimal.NewFromInt(int64(i + 1))))
		state, events, err = f.OnTick(newTick(t, adverse.InexactFloat64(), 0.0002, ts), state)
		if err != nil {
			t.Fatalf("adverse tick %d: %v", i, err)
		}
		ts = ts.Add(time.Second)
	}

	if !hasEvent(events, "AddLayer") {
		t.Fatalf("expected AddLayer on the final adverse tick, got %#v", events)
	}
	if !hasEvent(events, "InitialEntry") {
		t.Fatalf("expected InitialEntry for the new layer, got %#v", events)
	}
	if state.ActiveLayerIndex != 1 {
		t.Fatalf("expected active layer 1, got %d", state.ActiveLayerIndex)
	}
}

func hasEvent(events []strategy.Event, name string) bool {
	for _, e := range events {
		if e.EventType() == name {
			return true
		}
	}
	return false
}
