// Package backtester drives a strategy over a bounded historical tick
// window, books the resulting fills as trades, samples an equity
// curve, and computes performance metrics.
//
// Floor already performs all position and P&L bookkeeping internally
// (types.StrategyState.OpenEntries / AccountBalance / AccountNAV), so
// unlike a signal-only strategy engine that has to track a multi-symbol
// Portfolio of its own, this engine's job narrows to feeding ticks
// through Strategy.OnTick and translating its TakeProfit/
// MarginProtection events into types.Trade records. See DESIGN.md for
// why a separate events/orders/portfolio/risk layer was retired rather
// than carried forward unmodified.
package backtester

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/ticksource"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine runs one backtest to completion against a tick Source.
//
// Built on a ProgressChan-style progress-reporting run loop with a
// polled cancellation predicate instead of relying on ctx alone,
// generalised from a multi-symbol OHLCV event queue down to a
// single-instrument tick loop.
type Engine struct {
	logger  *zap.Logger
	metrics *MetricsCalculator
}

// NewEngine builds an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger, metrics: NewMetricsCalculator()}
}

// openSnapshot captures just enough of a pre-tick Entry to book a
// Trade once the strategy reports it closed, since the strategy's
// post-tick state no longer carries the closed entry.
type openSnapshot struct {
	layerIndex int
	direction  types.Direction
	entryPrice decimal.Decimal
	units      decimal.Decimal
	openedAt   time.Time
}

// Run replays source through strat, booking trades and sampling
// equity until the source is exhausted, the context is cancelled, or
// cancelled() reports true. onProgress receives 0-100 based on ticks
// processed against config.MemoryLimit; when MemoryLimit is not set,
// no intermediate progress is reported and onProgress receives only
// the final 100.
func (e *Engine) Run(
	ctx context.Context,
	strat strategy.Strategy,
	config *types.BacktestConfig,
	source ticksource.Source,
	cancelled func() bool,
	onProgress func(percent int),
) (*types.BacktestResult, error) {
	result, _, err := e.runFromState(ctx, strat, nil, config, source, cancelled, onProgress)
	return result, err
}

// runFromState is Run's implementation, additionally threading the
// final StrategyState back out so WalkForwardAnalyzer can carry a
// window's warmup state into its evaluation segment instead of each
// call starting Floor's layers and indicator history from scratch.
// initial may be nil, in which case a fresh state seeded from
// config.InitialBalance is used, matching Run's behaviour.
func (e *Engine) runFromState(
	ctx context.Context,
	strat strategy.Strategy,
	initial *types.StrategyState,
	config *types.BacktestConfig,
	source ticksource.Source,
	cancelled func() bool,
	onProgress func(percent int),
) (*types.BacktestResult, *types.StrategyState, error) {
	result := &types.BacktestResult{
		ID:     config.ID,
		Status: types.BacktestStatusRunning,
	}

	state := initial
	if state == nil {
		state = types.NewStrategyState(config.InitialBalance)
	}
	state, startEvents, err := strat.OnStart(state)
	if err != nil {
		result.Status = types.BacktestStatusFailed
		result.ErrorMessage = err.Error()
		return result, state, err
	}
	e.bookTrades(config, nil, startEvents, decimal.Zero, &result.Trades)

	open := make(map[string]openSnapshot)
	e.trackOpenEntries(state, open)

	var trades []types.Trade
	var equityCurve []types.EquityCurvePoint
	equitySampleEvery := config.EquityCurveInterval
	if equitySampleEvery <= 0 {
		equitySampleEvery = 1
	}

	var ticksProcessed int64
	expectedTotal := int64(config.MemoryLimit)

	for {
		if cancelled != nil && cancelled() {
			result.Status = types.BacktestStatusStopped
			break
		}

		tick, ok, err := source.Next(ctx)
		if err != nil {
			result.Status = types.BacktestStatusFailed
			result.ErrorMessage = err.Error()
			return result, state, err
		}
		if !ok {
			result.Status = types.BacktestStatusCompleted
			break
		}

		before := open
		next, events, err := strat.OnTick(tick, state)
		if err != nil {
			result.Status = types.BacktestStatusFailed
			result.ErrorMessage = err.Error()
			return result, state, err
		}
		state = next
		e.bookTrades(config, before, events, tick.Mid, &trades)

		open = make(map[string]openSnapshot)
		e.trackOpenEntries(state, open)

		ticksProcessed++
		if ticksProcessed%int64(equitySampleEvery) == 0 {
			equityCurve = append(equityCurve, types.EquityCurvePoint{
				Timestamp: tick.Timestamp,
				Equity:    state.AccountNAV,
			})
		}

		if onProgress != nil && expectedTotal > 0 {
			onProgress(int(ticksProcessed * 100 / expectedTotal))
		}
	}

	if len(equityCurve) == 0 || !equityCurve[len(equityCurve)-1].Equity.Equal(state.AccountNAV) {
		equityCurve = append(equityCurve, types.EquityCurvePoint{Timestamp: time.Now(), Equity: state.AccountNAV})
	}

	result.Trades = append(result.Trades, trades...)
	result.EquityCurve = equityCurve
	totalCommission := config.CommissionPerTrade.Mul(decimal.NewFromInt(int64(len(result.Trades))))
	result.FinalBalance = state.AccountBalance.Sub(totalCommission)
	result.TicksProcessed = ticksProcessed

	tradePtrs := make([]*types.Trade, len(result.Trades))
	for i := range result.Trades {
		tradePtrs[i] = &result.Trades[i]
	}
	result.Metrics = *e.metrics.Calculate(tradePtrs, result.EquityCurve, config.InitialBalance)
	result.RiskMetrics = *e.metrics.CalculateRiskMetrics(result.EquityCurve)

	if config.MonteCarlo.Enabled && len(tradePtrs) > 0 {
		mc := NewMonteCarloSimulator(e.logger, config.MonteCarlo)
		result.MonteCarlo = mc.Run(tradePtrs)
	}

	if onProgress != nil {
		onProgress(100)
	}

	return result, state, nil
}

// trackOpenEntries snapshots state.OpenEntries for Trade-booking once
// the strategy later reports a close.
func (e *Engine) trackOpenEntries(state *types.StrategyState, into map[string]openSnapshot) {
	for _, entry := range state.OpenEntries {
		into[entry.EntryID] = openSnapshot{
			layerIndex: entry.LayerIndex,
			direction:  entry.Direction,
			entryPrice: entry.EntryPrice,
			units:      entry.Units,
			openedAt:   entry.OpenedAt,
		}
	}
}

// bookTrades converts TakeProfit and MarginProtection events into
// types.Trade records, using the pre-tick entry snapshot for the
// fields the close event itself does not carry (units, entry price,
// open time). Trade.PnL is always the gross realised P&L; commission
// is recorded per trade on Trade.Commission and deducted from the
// account balance once, in aggregate, when the run finishes.
func (e *Engine) bookTrades(config *types.BacktestConfig, before map[string]openSnapshot, events []strategy.Event, tickMid decimal.Decimal, into *[]types.Trade) {
	for _, ev := range events {
		switch tp := ev.(type) {
		case strategy.TakeProfit:
			snap, ok := before[tp.EntryID]
			if !ok {
				continue
			}
			*into = append(*into, types.Trade{
				EntryID:    tp.EntryID,
				LayerIndex: tp.Layer,
				Direction:  tp.Direction,
				Units:      snap.units,
				EntryPrice: snap.entryPrice,
				ExitPrice:  tp.ExitPrice,
				Commission: config.CommissionPerTrade,
				PnL:        tp.RealizedPnL,
				OpenedAt:   snap.openedAt,
				ClosedAt:   tp.OccurredAt(),
			})
		case strategy.MarginProtection:
			// MarginProtection carries no per-entry exit price, so the
			// closeout is booked at the tick mid that triggered it —
			// the same price the strategy itself used to compute the
			// margin ratio that forced the close.
			for _, id := range tp.ClosedEntryIDs {
				snap, ok := before[id]
				if !ok {
					continue
				}
				pnl := snap.units.Mul(tickMid.Sub(snap.entryPrice))
				if snap.direction == types.DirectionShort {
					pnl = pnl.Neg()
				}
				*into = append(*into, types.Trade{
					EntryID:    id,
					LayerIndex: snap.layerIndex,
					Direction:  snap.direction,
					Units:      snap.units,
					EntryPrice: snap.entryPrice,
					ExitPrice:  tickMid,
					Commission: config.CommissionPerTrade,
					PnL:        pnl,
					OpenedAt:   snap.openedAt,
					ClosedAt:   tp.OccurredAt(),
				})
			}
		}
	}
}
