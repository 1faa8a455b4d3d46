package utils

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestGenerateIDPrefixesAndIsUnique(t *testing.T) {
	id := GenerateID("ord")
	if !strings.HasPrefix(id, "ord_") {
		t.Fatalf("expected ord_ prefix, got %s", id)
	}
	if GenerateID("ord") == id {
		t.Fatal("expected two generated IDs to differ")
	}
}

func TestGenerateIDWithoutPrefixHasNoUnderscore(t *testing.T) {
	id := GenerateID("")
	if strings.Contains(id, "_") {
		t.Fatalf("expected no separator for an empty prefix, got %s", id)
	}
}

func TestSpecificGeneratorsUseExpectedPrefix(t *testing.T) {
	cases := map[string]func() string{
		"ord_":   GenerateOrderID,
		"exec_":  GenerateExecutionID,
		"entry_": GenerateEntryID,
		"evt_":   GenerateEventID,
	}
	for prefix, fn := range cases {
		if got := fn(); !strings.HasPrefix(got, prefix) {
			t.Fatalf("expected prefix %s, got %s", prefix, got)
		}
	}
}

func TestRoundToPipRoundsToNearestPip(t *testing.T) {
	got := RoundToPip(d(1.10047), d(0.0001))
	want := d(1.1005)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRoundToPipZeroPipSizeReturnsPriceUnchanged(t *testing.T) {
	price := d(1.1005)
	if got := RoundToPip(price, decimal.Zero); !got.Equal(price) {
		t.Fatalf("expected price unchanged, got %s", got)
	}
}

func TestPipsBetweenComputesSignedDistance(t *testing.T) {
	got := PipsBetween(d(1.1000), d(1.1025), d(0.0001))
	want := d(25)
	if !got.Equal(want) {
		t.Fatalf("expected %s pips, got %s", want, got)
	}
}

func TestCalculatePercentageChangeFromZeroBaseIsZero(t *testing.T) {
	if got := CalculatePercentageChange(decimal.Zero, d(100)); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestCalculatePercentageChange(t *testing.T) {
	got := CalculatePercentageChange(d(100), d(110))
	want := d(10)
	if !got.Equal(want) {
		t.Fatalf("expected %s%%, got %s", want, got)
	}
}

func TestCalculateReturnsNeedsAtLeastTwoPrices(t *testing.T) {
	if got := CalculateReturns([]decimal.Decimal{d(1)}); got != nil {
		t.Fatalf("expected nil for a single price, got %v", got)
	}
}

func TestCalculateReturnsComputesPeriodicReturns(t *testing.T) {
	got := CalculateReturns([]decimal.Decimal{d(100), d(110), d(99)})
	if len(got) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(got))
	}
	if !got[0].Equal(d(0.1)) {
		t.Fatalf("expected first return 0.1, got %s", got[0])
	}
}

func TestCalculateMeanOfEmptySliceIsZero(t *testing.T) {
	if got := CalculateMean(nil); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestCalculateMean(t *testing.T) {
	got := CalculateMean([]decimal.Decimal{d(1), d(2), d(3)})
	if !got.Equal(d(2)) {
		t.Fatalf("expected mean 2, got %s", got)
	}
}

func TestCalculateStdDevNeedsAtLeastTwoValues(t *testing.T) {
	if got := CalculateStdDev([]decimal.Decimal{d(1)}); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
}

func TestCalculateMaxDrawdownTracksPeakToTrough(t *testing.T) {
	got := CalculateMaxDrawdown([]decimal.Decimal{d(100), d(120), d(90), d(110)})
	want := d(0.25)
	if !got.Equal(want) {
		t.Fatalf("expected drawdown %s, got %s", want, got)
	}
}

func TestCalculateWinRate(t *testing.T) {
	got := CalculateWinRate([]decimal.Decimal{d(10), d(-5), d(3), d(-1)})
	want := d(0.5)
	if !got.Equal(want) {
		t.Fatalf("expected win rate %s, got %s", want, got)
	}
}

func TestCalculateProfitFactor(t *testing.T) {
	got := CalculateProfitFactor([]decimal.Decimal{d(10), d(-5)})
	want := d(2)
	if !got.Equal(want) {
		t.Fatalf("expected profit factor %s, got %s", want, got)
	}
}

func TestCalculateProfitFactorNoLossesIsCapped(t *testing.T) {
	got := CalculateProfitFactor([]decimal.Decimal{d(10), d(5)})
	if !got.Equal(d(100)) {
		t.Fatalf("expected capped 100, got %s", got)
	}
}

func TestTimeRangeContainsBounds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tr := TimeRange{Start: start, End: end}

	if !tr.Contains(start) || !tr.Contains(end) {
		t.Fatal("expected inclusive bounds to be contained")
	}
	if tr.Contains(end.Add(time.Second)) {
		t.Fatal("expected a time after End to not be contained")
	}
	if tr.Duration() != 24*time.Hour {
		t.Fatalf("expected 24h duration, got %s", tr.Duration())
	}
}

func TestParseTimeRangeUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
		"1mo": 30 * 24 * time.Hour,
		"1y":  365 * 24 * time.Hour,
	}
	for s, want := range cases {
		got, err := ParseTimeRange(s)
		if err != nil {
			t.Fatalf("ParseTimeRange(%s): %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseTimeRange(%s): expected %s, got %s", s, want, got)
		}
	}
}

func TestParseTimeRangeRejectsUnknownUnit(t *testing.T) {
	if _, err := ParseTimeRange("5x"); err == nil {
		t.Fatal("expected an error for an unknown unit")
	}
}

func TestMinMaxClampDecimal(t *testing.T) {
	if !MinDecimal(d(1), d(2)).Equal(d(1)) {
		t.Fatal("expected MinDecimal to return the smaller value")
	}
	if !MaxDecimal(d(1), d(2)).Equal(d(2)) {
		t.Fatal("expected MaxDecimal to return the larger value")
	}
	if !ClampDecimal(d(5), d(0), d(3)).Equal(d(3)) {
		t.Fatal("expected ClampDecimal to cap at max")
	}
	if !ClampDecimal(d(-5), d(0), d(3)).Equal(d(0)) {
		t.Fatal("expected ClampDecimal to floor at min")
	}
}

func TestRetrySucceedsWithoutExhaustingAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}

	got, err := Retry(cfg, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryReturnsWrappedErrorAfterExhaustion(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	calls := 0

	_, err := Retry(cfg, func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected an error once attempts are exhausted")
	}
	if calls != cfg.MaxAttempts {
		t.Fatalf("expected exactly %d calls, got %d", cfg.MaxAttempts, calls)
	}
}

func TestRetryIntervalsUsesExplicitSchedule(t *testing.T) {
	intervals := []time.Duration{time.Millisecond, time.Millisecond}
	calls := 0

	_, err := RetryIntervals(intervals, func() (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if err == nil {
		t.Fatal("expected an error once the schedule is exhausted")
	}
	if calls != len(intervals)+1 {
		t.Fatalf("expected %d calls, got %d", len(intervals)+1, calls)
	}
}

func TestStreamReconnectIntervalsMatchesDocumentedSchedule(t *testing.T) {
	got := StreamReconnectIntervals()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("expected %d intervals, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interval %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBatchProcessSplitsIntoBatchesAndConcatenates(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	var seenBatches [][]int

	got, err := BatchProcess(items, 2, func(batch []int) ([]int, error) {
		seenBatches = append(seenBatches, append([]int(nil), batch...))
		out := make([]int, len(batch))
		for i, v := range batch {
			out[i] = v * 10
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("BatchProcess: %v", err)
	}
	want := []int{10, 20, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if len(seenBatches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(seenBatches))
	}
}

func TestBatchProcessPropagatesError(t *testing.T) {
	_, err := BatchProcess([]int{1, 2}, 1, func(batch []int) ([]int, error) {
		return nil, errors.New("batch failed")
	})
	if err == nil {
		t.Fatal("expected an error to propagate from the batch function")
	}
}

func TestEMASeedsOnFirstValueThenBlends(t *testing.T) {
	ema := NewEMA(3)
	if ema.Ready() {
		t.Fatal("expected EMA to not be ready before any values are added")
	}

	first := ema.Add(d(10))
	if !first.Equal(d(10)) {
		t.Fatalf("expected the first value to seed the EMA, got %s", first)
	}

	second := ema.Add(d(20))
	if second.Equal(d(10)) || second.Equal(d(20)) {
		t.Fatalf("expected the second EMA value to blend, got %s", second)
	}

	third := ema.Add(d(30))
	if !ema.Ready() {
		t.Fatal("expected EMA to be ready once `period` values have been added")
	}
	if !ema.Current().Equal(third) {
		t.Fatalf("expected Current() to match the last Add() return, got %s vs %s", ema.Current(), third)
	}
}

func TestSMAAveragesOverBoundedWindow(t *testing.T) {
	sma := NewSMA(2)
	sma.Add(d(10))
	if sma.Ready() {
		t.Fatal("expected SMA to not be ready with fewer than `period` values")
	}

	got := sma.Add(d(20))
	if !got.Equal(d(15)) {
		t.Fatalf("expected average of 10 and 20, got %s", got)
	}
	if !sma.Ready() {
		t.Fatal("expected SMA to be ready once the window is full")
	}

	got = sma.Add(d(30))
	want := d(25) // window now holds [20, 30]
	if !got.Equal(want) {
		t.Fatalf("expected the oldest value to drop out of the window, got %s", got)
	}
}

func TestSMACurrentOnEmptyWindowIsZero(t *testing.T) {
	sma := NewSMA(3)
	if !sma.Current().IsZero() {
		t.Fatalf("expected zero before any values are added, got %s", sma.Current())
	}
}

func TestSqrtDecimalApproximatesSquareRoot(t *testing.T) {
	got := SqrtDecimal(d(16))
	diff := got.Sub(d(4)).Abs()
	if diff.GreaterThan(d(0.0001)) {
		t.Fatalf("expected approximately 4, got %s", got)
	}
}

func TestSqrtDecimalNonPositiveIsZero(t *testing.T) {
	if !SqrtDecimal(d(-1)).IsZero() {
		t.Fatal("expected zero for a non-positive input")
	}
	if !SqrtDecimal(decimal.Zero).IsZero() {
		t.Fatal("expected zero for a zero input")
	}
}
