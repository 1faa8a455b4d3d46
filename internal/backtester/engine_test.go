package backtester

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/strategy/floor"
	"github.com/atlas-fx/floor-engine/internal/ticksource"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// risingTicks builds a monotonically rising mid-price series wide
// enough to trip Floor's default 20-pip take-profit at least once.
func risingTicks(t *testing.T, n int, startMid, stepPips float64) []types.Tick {
	t.Helper()
	ticks := make([]types.Tick, n)
	mid := decimal.NewFromFloat(startMid)
	step := decimal.NewFromFloat(stepPips * 0.0001)
	half := decimal.NewFromFloat(0.00005)
	base := time.Now()
	for i := 0; i < n; i++ {
		bid := mid.Sub(half)
		ask := mid.Add(half)
		tick, err := types.NewTick("EUR_USD", base.Add(time.Duration(i)*time.Second), bid, ask, nil)
		if err != nil {
			t.Fatalf("NewTick: %v", err)
		}
		ticks[i] = tick
		mid = mid.Add(step)
	}
	return ticks
}

func baseConfig() *types.BacktestConfig {
	return &types.BacktestConfig{
		ID:                  "bt-1",
		Instrument:          "EUR_USD",
		InitialBalance:      decimal.NewFromInt(10000),
		CommissionPerTrade:  decimal.Zero,
		EquityCurveInterval: 1,
		MemoryLimit:         0,
	}
}

func TestEngineRunProducesTradesAndMetrics(t *testing.T) {
	cfg := floor.DefaultConfig()
	cfg.MomentumLookback = 1
	strat := floor.New(zap.NewNop(), cfg)

	ticks := risingTicks(t, 200, 1.1000, 0.3)
	source := ticksource.NewHistorical(ticks)

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), strat, baseConfig(), source, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != types.BacktestStatusCompleted {
		t.Fatalf("expected COMPLETED, got %v", result.Status)
	}
	if result.TicksProcessed != int64(len(ticks)) {
		t.Fatalf("expected %d ticks processed, got %d", len(ticks), result.TicksProcessed)
	}
	if len(result.Trades) == 0 {
		t.Fatalf("expected at least one closed trade on a sustained rally")
	}
	for _, trade := range result.Trades {
		if trade.Direction != types.DirectionLong {
			t.Fatalf("expected long trades on a rising market, got %v", trade.Direction)
		}
		if !trade.PnL.GreaterThan(decimal.Zero) {
			t.Fatalf("expected a profitable take-profit close, got pnl=%s", trade.PnL)
		}
	}
	if len(result.EquityCurve) == 0 {
		t.Fatalf("expected a sampled equity curve")
	}
	if result.Metrics.TotalTrades != len(result.Trades) {
		t.Fatalf("metrics trade count %d does not match booked trades %d", result.Metrics.TotalTrades, len(result.Trades))
	}
}

func TestEngineRunConservesBalanceWithNonzeroCommission(t *testing.T) {
	cfg := floor.DefaultConfig()
	cfg.MomentumLookback = 1
	strat := floor.New(zap.NewNop(), cfg)

	ticks := risingTicks(t, 200, 1.1000, 0.3)
	source := ticksource.NewHistorical(ticks)

	config := baseConfig()
	config.CommissionPerTrade = decimal.NewFromFloat(1.5)

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), strat, config, source, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatalf("expected at least one closed trade on a sustained rally")
	}

	var totalPnL, totalCommission decimal.Decimal
	for _, trade := range result.Trades {
		totalPnL = totalPnL.Add(trade.PnL)
		totalCommission = totalCommission.Add(trade.Commission)
	}

	wantFinalBalance := config.InitialBalance.Add(totalPnL).Sub(totalCommission)
	if !result.FinalBalance.Equal(wantFinalBalance) {
		t.Fatalf("final_balance - initial_balance != sum(pnl) - sum(commissions): got final=%s, want=%s (pnl=%s, commission=%s)",
			result.FinalBalance, wantFinalBalance, totalPnL, totalCommission)
	}
}

func TestEngineRunStopsOnCancellation(t *testing.T) {
	cfg := floor.DefaultConfig()
	strat := floor.New(zap.NewNop(), cfg)

	ticks := risingTicks(t, 50, 1.1000, 0.1)
	source := ticksource.NewHistorical(ticks)

	stopAfter := 5
	seen := 0
	cancelled := func() bool {
		seen++
		return seen > stopAfter
	}

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), strat, baseConfig(), source, cancelled, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != types.BacktestStatusStopped {
		t.Fatalf("expected STOPPED, got %v", result.Status)
	}
	if result.TicksProcessed >= int64(len(ticks)) {
		t.Fatalf("expected early stop, processed %d of %d", result.TicksProcessed, len(ticks))
	}
}

func TestEngineRunWithMonteCarlo(t *testing.T) {
	cfg := floor.DefaultConfig()
	cfg.MomentumLookback = 1
	strat := floor.New(zap.NewNop(), cfg)

	ticks := risingTicks(t, 300, 1.1000, 0.3)
	source := ticksource.NewHistorical(ticks)

	config := baseConfig()
	config.MonteCarlo = types.MonteCarloConfig{
		Enabled:         true,
		Iterations:      200,
		ConfidenceLevel: decimal.NewFromFloat(0.95),
	}

	engine := NewEngine(zap.NewNop())
	result, err := engine.Run(context.Background(), strat, config, source, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Trades) == 0 {
		t.Skip("no trades booked in this synthetic run; Monte Carlo has nothing to resample")
	}
	if result.MonteCarlo == nil {
		t.Fatalf("expected Monte Carlo result when enabled and trades exist")
	}
	if result.MonteCarlo.Iterations != config.MonteCarlo.Iterations {
		t.Fatalf("expected %d iterations, got %d", config.MonteCarlo.Iterations, result.MonteCarlo.Iterations)
	}
}

func TestWalkForwardAnalyzerSlidesWindows(t *testing.T) {
	ticks := risingTicks(t, 400, 1.1000, 0.2)

	config := baseConfig()
	config.WalkForward = types.WalkForwardConfig{
		Enabled:     true,
		TrainWindow: 50,
		TestWindow:  50,
		StepSize:    50,
	}

	cfg := floor.DefaultConfig()
	cfg.MomentumLookback = 1

	analyzer := NewWalkForwardAnalyzer(zap.NewNop())
	result, err := analyzer.Run(context.Background(), func() (strategy.Strategy, error) {
		return floor.New(zap.NewNop(), cfg), nil
	}, config, ticks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantWindows := (len(ticks) - config.WalkForward.TrainWindow - config.WalkForward.TestWindow) / config.WalkForward.StepSize + 1
	if len(result.Windows) != wantWindows {
		t.Fatalf("expected %d windows, got %d", wantWindows, len(result.Windows))
	}
	if result.ConsistencyScore.LessThan(decimal.Zero) || result.ConsistencyScore.GreaterThan(decimal.NewFromInt(1)) {
		t.Fatalf("consistency score out of [0,1]: %s", result.ConsistencyScore)
	}
}

func TestWalkForwardDisabledReturnsNil(t *testing.T) {
	config := baseConfig()
	analyzer := NewWalkForwardAnalyzer(zap.NewNop())
	result, err := analyzer.Run(context.Background(), func() (strategy.Strategy, error) {
		return floor.New(zap.NewNop(), floor.DefaultConfig()), nil
	}, config, risingTicks(t, 10, 1.1, 0.1))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result when walk-forward is disabled")
	}
}
