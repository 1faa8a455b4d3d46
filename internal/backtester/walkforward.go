package backtester

import (
	"context"
	"fmt"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/ticksource"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// WalkForwardAnalyzer slides a train/test window across a backtest's
// full tick history to check whether Floor's behaviour is consistent
// across different market periods, rather than an artifact of the
// single window a plain backtest ran over.
//
// Floor carries no fitted parameters (every constant in its config is
// set up front, not learned from data), so unlike a parameter-fitting
// walk-forward this "train" segment exists only to warm up the bounded
// indicator history (ATR, layer state) before the "test" segment's
// out-of-sample metrics are recorded — built on a sliding-window
// walk-forward idiom, adapted from a fit/evaluate split to a
// warmup/evaluate split.
type WalkForwardAnalyzer struct {
	logger *zap.Logger
	engine *Engine
}

// NewWalkForwardAnalyzer builds an analyzer sharing one Engine across
// every window.
func NewWalkForwardAnalyzer(logger *zap.Logger) *WalkForwardAnalyzer {
	return &WalkForwardAnalyzer{logger: logger, engine: NewEngine(logger)}
}

// Run slides config.WalkForward's train/test windows (counted in
// ticks) across the full history, re-running strategyFactory fresh for
// each window's warmup segment so no state leaks between windows.
func (w *WalkForwardAnalyzer) Run(
	ctx context.Context,
	strategyFactory func() (strategy.Strategy, error),
	config *types.BacktestConfig,
	history []types.Tick,
) (*types.WalkForwardResult, error) {
	wf := config.WalkForward
	if !wf.Enabled {
		return nil, nil
	}
	if wf.TrainWindow <= 0 || wf.TestWindow <= 0 || wf.StepSize <= 0 {
		return nil, fmt.Errorf("walk-forward: train/test/step windows must be positive")
	}

	var result types.WalkForwardResult
	var sharpeSum decimal.Decimal
	var profitableWindows int

	for start := 0; start+wf.TrainWindow+wf.TestWindow <= len(history); start += wf.StepSize {
		trainSlice := history[start : start+wf.TrainWindow]
		testSlice := history[start+wf.TrainWindow : start+wf.TrainWindow+wf.TestWindow]

		strat, err := strategyFactory()
		if err != nil {
			return nil, fmt.Errorf("walk-forward window at %d: construct strategy: %w", start, err)
		}

		windowConfig := *config
		windowConfig.WalkForward.Enabled = false
		windowConfig.MonteCarlo.Enabled = false

		warmupSource := ticksource.NewHistorical(trainSlice)
		_, warmState, err := w.engine.runFromState(ctx, strat, nil, &windowConfig, warmupSource, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("walk-forward window at %d: warmup: %w", start, err)
		}

		testSource := ticksource.NewHistorical(testSlice)
		testResult, _, err := w.engine.runFromState(ctx, strat, warmState, &windowConfig, testSource, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("walk-forward window at %d: test: %w", start, err)
		}

		result.Windows = append(result.Windows, types.WalkForwardWindow{
			TrainStart:         trainSlice[0].Timestamp,
			TrainEnd:           trainSlice[len(trainSlice)-1].Timestamp,
			TestStart:          testSlice[0].Timestamp,
			TestEnd:            testSlice[len(testSlice)-1].Timestamp,
			OutOfSampleMetrics: testResult.Metrics,
		})

		sharpeSum = sharpeSum.Add(testResult.Metrics.SharpeRatio)
		if testResult.Metrics.TotalReturn.GreaterThan(decimal.Zero) {
			profitableWindows++
		}
	}

	if len(result.Windows) == 0 {
		return &result, nil
	}

	result.AggregateSharpe = sharpeSum.Div(decimal.NewFromInt(int64(len(result.Windows))))
	result.ConsistencyScore = decimal.NewFromInt(int64(profitableWindows)).
		Div(decimal.NewFromInt(int64(len(result.Windows))))

	return &result, nil
}
