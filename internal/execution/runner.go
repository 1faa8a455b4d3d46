package execution

import (
	"context"
	"fmt"

	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/taskexec"
	"github.com/atlas-fx/floor-engine/internal/ticksource"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountResolver looks up the broker account a TradingTask runs
// against, and the strategy it should run.
type AccountResolver interface {
	BrokerAccount(ctx context.Context, id string) (types.BrokerAccount, error)
	StrategyType(ctx context.Context, configID string) (string, map[string]interface{}, error)
}

// accountPriceStreamer binds a broker.Client to one account so it
// satisfies internal/ticksource.PriceStreamer's narrower
// Subscribe(ctx, instrument) shape; broker.Client.StreamPrices takes
// the account as an argument since one client is shared across every
// account a process trades.
type accountPriceStreamer struct {
	client  broker.Client
	account types.BrokerAccount
}

func (s accountPriceStreamer) Subscribe(ctx context.Context, instrument string) (<-chan types.Tick, error) {
	return s.client.StreamPrices(ctx, s.account, instrument)
}

// entrySnapshot is what applyEvents needs to size a close order once
// the strategy reports an entry closed; TakeProfit and
// MarginProtection carry the entry ID and direction but not its units.
type entrySnapshot struct {
	direction types.Direction
	units     decimal.Decimal
}

// LiveRunner adapts Executor to internal/taskexec.Runner, driving a
// TradingTask's strategy against a live tick feed exactly as
// internal/backtester.TaskRunner drives a BacktestTask against a
// historical one (component H drives component C+E live the same way
// it drives component D).
//
// Entry-opening events (InitialEntry, Retracement) are submitted as
// market orders in the strategy's direction and size; close events
// (TakeProfit, MarginProtection) are submitted as opposing market
// orders sized from the pre-tick entry snapshot, matching
// internal/backtester.Engine.bookTrades' same before/after snapshot
// technique. Orders are fire-and-forget from the strategy loop's
// perspective: fills and the authoritative position book come back
// through internal/stream's transaction feed, not through this
// submission path.
type LiveRunner struct {
	logger   *zap.Logger
	executor *Executor
	book     PositionBook
	accounts AccountResolver
	broker   broker.Client
	registry *strategy.Registry
}

func NewLiveRunner(logger *zap.Logger, executor *Executor, book PositionBook, accounts AccountResolver, client broker.Client, registry *strategy.Registry) *LiveRunner {
	return &LiveRunner{
		logger:   logger,
		executor: executor,
		book:     book,
		accounts: accounts,
		broker:   client,
		registry: registry,
	}
}

// Run implements taskexec.Runner.
func (r *LiveRunner) Run(ctx context.Context, task types.Task, execution types.TaskExecution, control *taskexec.Control, onProgress func(int)) error {
	tt, ok := task.(*types.TradingTask)
	if !ok {
		return fmt.Errorf("execution.LiveRunner: expected *types.TradingTask, got %T", task)
	}

	account, err := r.accounts.BrokerAccount(ctx, tt.BrokerAccountID)
	if err != nil {
		return fmt.Errorf("load broker account: %w", err)
	}

	strategyType, params, err := r.accounts.StrategyType(ctx, tt.ConfigID)
	if err != nil {
		return fmt.Errorf("load strategy type: %w", err)
	}
	strat, err := r.registry.Create(strategyType, params)
	if err != nil {
		return fmt.Errorf("construct strategy: %w", err)
	}

	instrument, _ := params["instrument"].(string)
	if instrument == "" {
		instrument = "EUR_USD"
	}

	streamer := accountPriceStreamer{client: r.broker, account: account}
	source, err := ticksource.NewLive(ctx, r.logger, streamer, instrument)
	if err != nil {
		return fmt.Errorf("open live tick feed: %w", err)
	}
	defer source.Close()

	state := types.NewStrategyState(account.Balance)
	state, startEvents, err := strat.OnStart(state)
	if err != nil {
		return fmt.Errorf("strategy start: %w", err)
	}
	r.applyEvents(ctx, account, instrument, nil, startEvents)

	open := snapshotEntries(state)
	var ticks int64

	for {
		if err := control.WaitIfPaused(ctx); err != nil {
			return err
		}
		if control.Stopped() {
			return nil
		}

		tick, ok, err := source.Next(ctx)
		if err != nil {
			return fmt.Errorf("live tick feed: %w", err)
		}
		if !ok {
			return nil
		}

		before := open
		next, events, err := strat.OnTick(tick, state)
		if err != nil {
			return fmt.Errorf("strategy tick: %w", err)
		}
		state = next
		r.applyEvents(ctx, account, instrument, before, events)
		open = snapshotEntries(state)

		ticks++
		if onProgress != nil && ticks%100 == 0 {
			onProgress(int(execution.Progress))
		}
	}
}

func snapshotEntries(state *types.StrategyState) map[string]entrySnapshot {
	out := make(map[string]entrySnapshot, len(state.OpenEntries))
	for _, e := range state.OpenEntries {
		out[e.EntryID] = entrySnapshot{direction: e.Direction, units: e.Units}
	}
	return out
}

// applyEvents submits a market order for every strategy event that
// opens or closes exposure. Failed submissions are logged, not fatal:
// a rejected order is a broker decision the strategy loop must keep
// running past; compliance and risk rejections are never fatal to the
// run.
func (r *LiveRunner) applyEvents(ctx context.Context, account types.BrokerAccount, instrument string, before map[string]entrySnapshot, events []strategy.Event) {
	for _, ev := range events {
		var spec OrderSpec
		switch e := ev.(type) {
		case strategy.InitialEntry:
			spec = OrderSpec{Account: account, Instrument: instrument, Type: types.OrderTypeMarket, Direction: e.Direction, Units: e.Units}
		case strategy.Retracement:
			snap, ok := before[e.EntryID]
			if !ok {
				continue
			}
			spec = OrderSpec{Account: account, Instrument: instrument, Type: types.OrderTypeMarket, Direction: snap.direction, Units: e.Units}
		case strategy.TakeProfit:
			snap, ok := before[e.EntryID]
			if !ok {
				continue
			}
			spec = OrderSpec{Account: account, Instrument: instrument, Type: types.OrderTypeMarket, Direction: e.Direction.Opposite(), Units: snap.units}
		case strategy.MarginProtection:
			for _, entryID := range e.ClosedEntryIDs {
				snap, ok := before[entryID]
				if !ok {
					continue
				}
				closeSpec := OrderSpec{Account: account, Instrument: instrument, Type: types.OrderTypeMarket, Direction: snap.direction.Opposite(), Units: snap.units}
				if _, err := r.executor.Submit(ctx, closeSpec, r.book); err != nil {
					r.logger.Warn("margin protection close failed", zap.String("instrument", instrument), zap.String("entry_id", entryID), zap.Error(err))
				}
			}
			continue
		default:
			continue
		}
		if spec.Units.IsZero() {
			continue
		}
		if _, err := r.executor.Submit(ctx, spec, r.book); err != nil {
			r.logger.Warn("live order submission failed", zap.String("instrument", instrument), zap.Error(err))
		}
	}
}
