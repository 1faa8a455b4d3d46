package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewTickComputesMidWhenNilGiven(t *testing.T) {
	bid := decimal.NewFromFloat(1.1000)
	ask := decimal.NewFromFloat(1.1002)

	tick, err := NewTick("EUR_USD", time.Now(), bid, ask, nil)
	if err != nil {
		t.Fatalf("NewTick: %v", err)
	}
	want := decimal.NewFromFloat(1.1001)
	if !tick.Mid.Equal(want) {
		t.Fatalf("expected computed mid %s, got %s", want, tick.Mid)
	}
}

func TestNewTickRejectsBidGreaterThanAsk(t *testing.T) {
	bid := decimal.NewFromFloat(1.1002)
	ask := decimal.NewFromFloat(1.1000)

	if _, err := NewTick("EUR_USD", time.Now(), bid, ask, nil); err == nil {
		t.Fatal("expected an error when bid exceeds ask")
	}
}

func TestNewTickRejectsMidOutsideBidAskRange(t *testing.T) {
	bid := decimal.NewFromFloat(1.1000)
	ask := decimal.NewFromFloat(1.1002)
	mid := decimal.NewFromFloat(1.2000)

	if _, err := NewTick("EUR_USD", time.Now(), bid, ask, &mid); err == nil {
		t.Fatal("expected an error when the supplied mid falls outside [bid, ask]")
	}
}

func TestNewTickAcceptsExplicitMidWithinRange(t *testing.T) {
	bid := decimal.NewFromFloat(1.1000)
	ask := decimal.NewFromFloat(1.1004)
	mid := decimal.NewFromFloat(1.1001)

	tick, err := NewTick("EUR_USD", time.Now(), bid, ask, &mid)
	if err != nil {
		t.Fatalf("NewTick: %v", err)
	}
	if !tick.Mid.Equal(mid) {
		t.Fatalf("expected the supplied mid to be kept, got %s", tick.Mid)
	}
}
