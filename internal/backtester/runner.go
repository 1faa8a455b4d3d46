package backtester

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/taskexec"
	"github.com/atlas-fx/floor-engine/internal/ticksource"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

// ConfigProvider resolves a BacktestTask to the engine parameters and
// the strategy it should run. The instance fields (instrument, date
// range, starting balance) live on the task itself; BacktestConfig
// also supplies the policy fields (risk limits, Monte Carlo/walk-forward
// gating, sampling cadence). The internal/storage implementation used
// in production returns the same policy for every task, whatever its
// ConfigID; tests use a map-backed fake.
type ConfigProvider interface {
	BacktestConfig(ctx context.Context, task *types.BacktestTask) (*types.BacktestConfig, error)
	StrategyType(ctx context.Context, configID string) (string, map[string]interface{}, error)
}

// HistoryLoader loads the bounded tick window a backtest replays.
// Backed by internal/storage's tick archive in production.
type HistoryLoader interface {
	LoadTicks(ctx context.Context, instrument string, start, end time.Time) ([]types.Tick, error)
}

// ResultSink persists a completed backtest's result.
type ResultSink interface {
	SaveResult(ctx context.Context, result *types.BacktestResult) error
}

// TaskRunner adapts Engine to internal/taskexec.Runner, so a
// BacktestTask is driven through the same Start/Pause/Resume/Stop
// state machine as a live TradingTask (component H drives component D
// exactly as it drives component E).
type TaskRunner struct {
	logger   *zap.Logger
	engine   *Engine
	configs  ConfigProvider
	history  HistoryLoader
	registry *strategy.Registry
	results  ResultSink
}

// NewTaskRunner wires an Engine into the task executor.
func NewTaskRunner(logger *zap.Logger, configs ConfigProvider, history HistoryLoader, registry *strategy.Registry, results ResultSink) *TaskRunner {
	return &TaskRunner{
		logger:   logger,
		engine:   NewEngine(logger),
		configs:  configs,
		history:  history,
		registry: registry,
		results:  results,
	}
}

// Run implements taskexec.Runner.
func (r *TaskRunner) Run(ctx context.Context, task types.Task, execution types.TaskExecution, control *taskexec.Control, onProgress func(int)) error {
	bt, ok := task.(*types.BacktestTask)
	if !ok {
		return fmt.Errorf("backtester.TaskRunner: expected *types.BacktestTask, got %T", task)
	}

	config, err := r.configs.BacktestConfig(ctx, bt)
	if err != nil {
		return fmt.Errorf("load backtest config: %w", err)
	}

	strategyType, params, err := r.configs.StrategyType(ctx, bt.ConfigID)
	if err != nil {
		return fmt.Errorf("load strategy type: %w", err)
	}
	strat, err := r.registry.Create(strategyType, params)
	if err != nil {
		return fmt.Errorf("construct strategy: %w", err)
	}

	ticks, err := r.history.LoadTicks(ctx, config.Instrument, config.StartTime, config.EndTime)
	if err != nil {
		return fmt.Errorf("load tick history: %w", err)
	}
	source := ticksource.NewHistorical(ticks)

	result, err := r.engine.Run(ctx, strat, config, source,
		func() bool {
			_ = control.WaitIfPaused(ctx)
			return control.Stopped()
		},
		onProgress,
	)
	if err != nil {
		return err
	}

	return r.results.SaveResult(ctx, result)
}
