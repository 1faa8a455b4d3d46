package storage

import (
	"context"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// BacktestConfigProvider adapts Store to internal/backtester's
// ConfigProvider: the task itself carries the instance fields
// (instrument, date range, starting balance), while the referenced
// strategy_config row names the strategy and its parameters. Engine
// policy (risk limits, Monte Carlo/walk-forward gating) is not read
// per-config: every task gets the provider's own default fields, which
// NewBacktestConfigProvider leaves at their zero values.
type BacktestConfigProvider struct {
	store               Store
	defaultRiskLimits   types.RiskLimits
	defaultMonteCarlo   types.MonteCarloConfig
	defaultWalkForward  types.WalkForwardConfig
	equityCurveInterval int
	memoryLimit         int
}

func NewBacktestConfigProvider(store Store, memoryLimit int) *BacktestConfigProvider {
	return &BacktestConfigProvider{
		store:               store,
		equityCurveInterval: 100,
		memoryLimit:         memoryLimit,
	}
}

func (p *BacktestConfigProvider) BacktestConfig(_ context.Context, task *types.BacktestTask) (*types.BacktestConfig, error) {
	return &types.BacktestConfig{
		ID:                  task.ID,
		Instrument:          task.Instrument,
		StartTime:           task.StartTime,
		EndTime:             task.EndTime,
		InitialBalance:      task.InitialBalance,
		CommissionPerTrade:  task.CommissionPerTrade,
		RiskLimits:          p.defaultRiskLimits,
		MonteCarlo:          p.defaultMonteCarlo,
		WalkForward:         p.defaultWalkForward,
		EquityCurveInterval: p.equityCurveInterval,
		MemoryLimit:         p.memoryLimit,
	}, nil
}

func (p *BacktestConfigProvider) StrategyType(ctx context.Context, configID string) (string, map[string]interface{}, error) {
	cfg, err := p.store.GetStrategyConfig(ctx, configID)
	if err != nil {
		return "", nil, err
	}
	return cfg.StrategyType, cfg.Parameters, nil
}

// BacktestResultSink persists a completed backtest's result by folding
// its headline numbers into task_metric samples and, on failure, a
// task_log line, matching the append-only shapes Store exposes rather
// than adding a dedicated results table.
type BacktestResultSink struct {
	store Store
}

func NewBacktestResultSink(store Store) *BacktestResultSink {
	return &BacktestResultSink{store: store}
}

func (s *BacktestResultSink) SaveResult(ctx context.Context, result *types.BacktestResult) error {
	taskID := result.ID
	balance, _ := result.FinalBalance.Float64()
	if err := s.store.AppendTaskMetric(ctx, TaskMetric{
		TaskID: taskID,
		Name:   "final_balance",
		Value:  balance,
	}); err != nil {
		return err
	}
	if err := s.store.AppendTaskMetric(ctx, TaskMetric{
		TaskID: taskID,
		Name:   "ticks_processed",
		Value:  float64(result.TicksProcessed),
	}); err != nil {
		return err
	}
	if result.Status == types.BacktestStatusFailed {
		return s.store.AppendTaskLog(ctx, TaskLog{
			TaskID:  taskID,
			Level:   "error",
			Message: result.ErrorMessage,
		})
	}
	return nil
}
