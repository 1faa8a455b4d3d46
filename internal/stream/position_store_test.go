package stream

import (
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestUpsertOpensNewPosition(t *testing.T) {
	store := NewPositionStore()
	pos := store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())

	if !pos.Units.Equal(d("1000")) {
		t.Fatalf("expected units 1000, got %s", pos.Units)
	}
	if !pos.EntryPrice.Equal(d("1.1000")) {
		t.Fatalf("expected entry price 1.1000, got %s", pos.EntryPrice)
	}
}

func TestUpsertAccumulatesWeightedAverageEntry(t *testing.T) {
	store := NewPositionStore()
	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())
	pos := store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.2000"), "trend", time.Now())

	if !pos.Units.Equal(d("2000")) {
		t.Fatalf("expected accumulated units 2000, got %s", pos.Units)
	}
	expected := d("1.1500")
	if !pos.EntryPrice.Equal(expected) {
		t.Fatalf("expected weighted average entry %s, got %s", expected, pos.EntryPrice)
	}
}

func TestCloseRemovesFromOpenBookAndRecordsHistory(t *testing.T) {
	store := NewPositionStore()
	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())
	store.Close("acct-1", "EUR_USD", types.DirectionLong, d("1.1050"), d("5.00"), time.Now())

	if len(store.OpenPositions("acct-1")) != 0 {
		t.Fatalf("expected no open positions after close")
	}
	closed := store.Closed()
	if len(closed) != 1 {
		t.Fatalf("expected one closed position, got %d", len(closed))
	}
	if !closed[0].RealizedPnL.Equal(d("5.00")) {
		t.Fatalf("expected realised pnl 5.00, got %s", closed[0].RealizedPnL)
	}
}

func TestReducePreservesEntryPrice(t *testing.T) {
	store := NewPositionStore()
	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())
	store.Reduce("acct-1", "EUR_USD", types.DirectionLong, d("400"), d("1.1050"))

	positions := store.OpenPositions("acct-1")
	if len(positions) != 1 {
		t.Fatalf("expected one open position, got %d", len(positions))
	}
	if !positions[0].Units.Equal(d("400")) {
		t.Fatalf("expected reduced units 400, got %s", positions[0].Units)
	}
	if !positions[0].EntryPrice.Equal(d("1.1000")) {
		t.Fatalf("expected entry price unchanged at 1.1000, got %s", positions[0].EntryPrice)
	}
}

func TestMarkPriceUpdatesUnrealizedPnLForLongAndShort(t *testing.T) {
	store := NewPositionStore()
	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())
	store.Upsert("acct-1", "EUR_USD", types.DirectionShort, d("1000"), d("1.1000"), "trend", time.Now())

	store.MarkPrice("acct-1", "EUR_USD", d("1.1100"))

	positions := store.OpenPositions("acct-1")
	for _, p := range positions {
		switch p.Direction {
		case types.DirectionLong:
			if !p.UnrealizedPnL.Equal(d("10")) {
				t.Fatalf("expected long unrealized pnl 10, got %s", p.UnrealizedPnL)
			}
		case types.DirectionShort:
			if !p.UnrealizedPnL.Equal(d("-10")) {
				t.Fatalf("expected short unrealized pnl -10, got %s", p.UnrealizedPnL)
			}
		}
	}
}

func TestDrawdownReflectsEquityBelowPeak(t *testing.T) {
	store := NewPositionStore()
	store.SetEquity("acct-1", d("10000"))
	store.SetEquity("acct-1", d("12000"))

	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())
	store.MarkPrice("acct-1", "EUR_USD", d("1.0900"))

	dd := store.Drawdown("acct-1")
	if dd.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive drawdown after equity declined from peak, got %s", dd)
	}
}

func TestDrawdownZeroWithNoPeakRecorded(t *testing.T) {
	store := NewPositionStore()
	if !store.Drawdown("unknown-acct").IsZero() {
		t.Fatalf("expected zero drawdown for account with no recorded equity")
	}
}
