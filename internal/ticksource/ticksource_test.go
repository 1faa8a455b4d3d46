package ticksource

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func tick(t *testing.T, mid float64, at time.Time) types.Tick {
	t.Helper()
	half := decimal.NewFromFloat(0.0001)
	m := decimal.NewFromFloat(mid)
	tk, err := types.NewTick("EUR_USD", at, m.Sub(half), m.Add(half), nil)
	if err != nil {
		t.Fatalf("NewTick: %v", err)
	}
	return tk
}

func TestHistoricalYieldsInOrderThenExhausts(t *testing.T) {
	base := time.Now()
	ticks := []types.Tick{
		tick(t, 1.1000, base),
		tick(t, 1.1001, base.Add(time.Second)),
	}
	src := NewHistorical(ticks)
	if src.Len() != 2 {
		t.Fatalf("expected Len 2, got %d", src.Len())
	}

	ctx := context.Background()
	got, ok, err := src.Next(ctx)
	if err != nil || !ok || !got.Mid.Equal(ticks[0].Mid) {
		t.Fatalf("first Next: got=%v ok=%v err=%v", got, ok, err)
	}
	got, ok, err = src.Next(ctx)
	if err != nil || !ok || !got.Mid.Equal(ticks[1].Mid) {
		t.Fatalf("second Next: got=%v ok=%v err=%v", got, ok, err)
	}
	_, ok, err = src.Next(ctx)
	if err != nil || ok {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
}

func TestHistoricalRespectsCancellation(t *testing.T) {
	src := NewHistorical([]types.Tick{tick(t, 1.1, time.Now())})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := src.Next(ctx)
	if ok || err == nil {
		t.Fatalf("expected cancellation error, got ok=%v err=%v", ok, err)
	}
}

type fakeStreamer struct {
	chans []chan types.Tick
	calls int
	errs  []error
}

func (f *fakeStreamer) Subscribe(ctx context.Context, instrument string) (<-chan types.Tick, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return f.chans[idx], nil
}

func TestLiveReconnectsOnDrop(t *testing.T) {
	first := make(chan types.Tick, 1)
	second := make(chan types.Tick, 1)
	streamer := &fakeStreamer{chans: []chan types.Tick{first, second}}

	live, err := NewLive(context.Background(), zap.NewNop(), streamer, "EUR_USD")
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	defer live.Close()

	want := tick(t, 1.1000, time.Now())
	first <- want
	got, ok, err := live.Next(context.Background())
	if err != nil || !ok || !got.Mid.Equal(want.Mid) {
		t.Fatalf("expected first tick, got=%v ok=%v err=%v", got, ok, err)
	}

	close(first) // simulate a dropped connection

	want2 := tick(t, 1.1005, time.Now())
	second <- want2

	orig := ReconnectIntervals
	ReconnectIntervals = []time.Duration{time.Millisecond}
	defer func() { ReconnectIntervals = orig }()

	got, ok, err = live.Next(context.Background())
	if err != nil || !ok || !got.Mid.Equal(want2.Mid) {
		t.Fatalf("expected reconnected tick, got=%v ok=%v err=%v", got, ok, err)
	}
}
