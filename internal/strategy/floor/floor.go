package floor

import (
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Floor is the layered retracement/take-profit strategy.
type Floor struct {
	logger *zap.Logger
	config Config
}

// New constructs a Floor strategy instance.
func New(logger *zap.Logger, config Config) *Floor {
	return &Floor{logger: logger, config: config}
}

func (f *Floor) Name() string { return "floor" }

func (f *Floor) ParameterSchema() map[string]strategy.ParamSpec {
	return map[string]strategy.ParamSpec{
		"base_lot_size":             {Name: "base_lot_size", Type: "decimal", Default: "1"},
		"retracement_pips":          {Name: "retracement_pips", Type: "decimal", Default: "20"},
		"take_profit_pips":          {Name: "take_profit_pips", Type: "decimal", Default: "20"},
		"max_layers":                {Name: "max_layers", Type: "int", Default: 3, Min: 1, Max: 10},
		"max_retracements_per_layer": {Name: "max_retracements_per_layer", Type: "int", Default: 2, Min: 0, Max: 20},
		"retracement_lot_mode":      {Name: "retracement_lot_mode", Type: "enum", Default: "constant", Enum: []string{"constant", "additive", "subtractive", "multiplicative", "divisive"}},
		"netting_mode":              {Name: "netting_mode", Type: "bool", Default: false},
		"direction_method":          {Name: "direction_method", Type: "enum", Default: "momentum", Enum: []string{"momentum", "sma_cross", "price_vs_sma", "rsi"}},
		"volatility_enabled":        {Name: "volatility_enabled", Type: "bool", Default: false},
		"dynamic_params_enabled":    {Name: "dynamic_params_enabled", Type: "bool", Default: false},
	}
}

func (f *Floor) OnStart(state *types.StrategyState) (*types.StrategyState, []strategy.Event, error) {
	next := state.Clone()
	next.Status = types.RunStateRunning
	next.Initialized = true
	if next.LayerDirections == nil {
		next.LayerDirections = make(map[int]types.Direction)
	}
	if next.LayerRetracementCounts == nil {
		next.LayerRetracementCounts = make(map[int]int)
	}
	return next, nil, nil
}

func (f *Floor) OnPause(state *types.StrategyState) (*types.StrategyState, []strategy.Event, error) {
	next := state.Clone()
	next.Status = types.RunStatePaused
	return next, nil, nil
}

func (f *Floor) OnResume(state *types.StrategyState) (*types.StrategyState, []strategy.Event, error) {
	next := state.Clone()
	next.Status = types.RunStateRunning
	return next, nil, nil
}

func (f *Floor) OnStop(state *types.StrategyState) (*types.StrategyState, []strategy.Event, error) {
	next := state.Clone()
	next.Status = types.RunStateStopped
	return next, nil, nil
}

// OnTick runs the seven-step per-tick behaviour in order, operating on
// a deep copy of state so the caller's value is never mutated.
func (f *Floor) OnTick(tick types.Tick, state *types.StrategyState) (*types.StrategyState, []strategy.Event, error) {
	next := state.Clone()
	var events []strategy.Event
	now := tick.Timestamp

	f.updateState(tick, next)

	if volEvents := f.applyVolatilityRegime(tick, next, now); len(volEvents) > 0 {
		events = append(events, volEvents...)
	}

	if marginEvents, bail := f.applyMarginProtection(tick, next, now); len(marginEvents) > 0 {
		events = append(events, marginEvents...)
		if bail {
			f.recordMetrics(next)
			return next, events, nil
		}
	}

	if blowout := f.checkBlowoutGuard(next, now); blowout != nil {
		events = append(events, *blowout)
		f.recordMetrics(next)
		return next, events, nil
	}

	entryEvents := f.processEntries(tick, next, now)
	events = append(events, entryEvents...)

	f.applyDynamicParams(next)
	f.recordMetrics(next)

	return next, events, nil
}

// updateState performs step 1: append mid, trim history, refresh
// last quotes, estimate NAV, increment ticks_seen.
func (f *Floor) updateState(tick types.Tick, state *types.StrategyState) {
	state.PriceHistory = append(state.PriceHistory, tick.Mid)
	window := f.config.indicatorWindow()
	if len(state.PriceHistory) > window {
		state.PriceHistory = state.PriceHistory[len(state.PriceHistory)-window:]
	}

	state.LastBid = tick.Bid
	state.LastAsk = tick.Ask
	state.LastMid = tick.Mid
	state.TicksSeen++

	unrealized := decimal.Zero
	for _, e := range state.OpenEntries {
		unrealized = unrealized.Add(unrealizedPnL(e, tick))
	}
	state.AccountNAV = state.AccountBalance.Add(unrealized)
}

// effectiveThresholds applies step 6's dynamic scaling (computed
// ahead of use so entry processing and dynamic-param application
// agree within the same tick).
func (f *Floor) effectiveThresholds(state *types.StrategyState) (takeProfit, retracement decimal.Decimal) {
	takeProfit = f.config.TakeProfitPips
	retracement = f.config.RetracementPips

	if !f.config.DynamicParamsEnabled {
		return takeProfit, retracement
	}

	baseline := atrFromHistory(state.PriceHistory, f.config.ATRBaselinePeriod)
	current := atrFromHistory(state.PriceHistory, f.config.ATRPeriod)
	if baseline.IsZero() {
		return takeProfit, retracement
	}

	ratio := current.Div(baseline)
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(2)):
		factor := decimal.NewFromFloat(1.5)
		return takeProfit.Mul(factor), retracement.Mul(factor)
	case ratio.LessThanOrEqual(decimal.NewFromFloat(0.7)):
		factor := decimal.NewFromFloat(0.8)
		return takeProfit.Mul(factor), retracement.Mul(factor)
	default:
		return takeProfit, retracement
	}
}

func (f *Floor) applyDynamicParams(state *types.StrategyState) {
	// effectiveThresholds is recomputed on every call from state, so
	// there is nothing further to persist here beyond the metrics step.
}

func (f *Floor) recordMetrics(state *types.StrategyState) {
	if state.Metrics == nil {
		state.Metrics = make(map[string]decimal.Decimal)
	}
	current := atrFromHistory(state.PriceHistory, f.config.ATRPeriod)
	baseline := atrFromHistory(state.PriceHistory, f.config.ATRBaselinePeriod)
	state.Metrics["atr_current"] = current
	state.Metrics["atr_baseline"] = baseline
	state.Metrics["volatility_threshold"] = baseline.Mul(f.config.LockMultiplier)
	state.Metrics["margin_ratio"] = f.marginRatio(state)
}

func (f *Floor) marginRatio(state *types.StrategyState) decimal.Decimal {
	if state.AccountNAV.IsZero() {
		return decimal.Zero
	}
	return f.requiredMargin(state.OpenEntries).Div(state.AccountNAV)
}

func (f *Floor) requiredMargin(entries []types.Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Units.Mul(e.EntryPrice).Mul(f.config.RequiredMarginRate))
	}
	return total
}

func unrealizedPnL(e types.Entry, tick types.Tick) decimal.Decimal {
	if e.Direction == types.DirectionLong {
		return tick.Bid.Sub(e.EntryPrice).Mul(e.Units)
	}
	return e.EntryPrice.Sub(tick.Ask).Mul(e.Units)
}

func unrealizedPips(e types.Entry, tick types.Tick, pipSize decimal.Decimal) decimal.Decimal {
	if e.Direction == types.DirectionLong {
		return utils.PipsBetween(e.EntryPrice, tick.Bid, pipSize)
	}
	return utils.PipsBetween(tick.Ask, e.EntryPrice, pipSize)
}

func adversePips(e types.Entry, tick types.Tick, pipSize decimal.Decimal) decimal.Decimal {
	if e.Direction == types.DirectionLong {
		return utils.PipsBetween(tick.Bid, e.EntryPrice, pipSize)
	}
	return utils.PipsBetween(e.EntryPrice, tick.Ask, pipSize)
}

func entriesInLayer(state *types.StrategyState, layer int) []types.Entry {
	var out []types.Entry
	for _, e := range state.OpenEntries {
		if e.LayerIndex == layer {
			out = append(out, e)
		}
	}
	return out
}

func reverseEntries(entries []types.Entry) []types.Entry {
	out := make([]types.Entry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

func findEntry(state *types.StrategyState, id string) (types.Entry, bool) {
	for _, e := range state.OpenEntries {
		if e.EntryID == id {
			return e, true
		}
	}
	return types.Entry{}, false
}

func removeEntry(state *types.StrategyState, id string) {
	out := state.OpenEntries[:0]
	for _, e := range state.OpenEntries {
		if e.EntryID != id {
			out = append(out, e)
		}
	}
	state.OpenEntries = out
}

func (f *Floor) openEntry(state *types.StrategyState, layer int, direction types.Direction, tick types.Tick, now time.Time, isInitial bool, sourceEntryID string) types.Entry {
	price := tick.Ask
	if direction == types.DirectionShort {
		price = tick.Bid
	}

	entry := types.Entry{
		EntryID:        utils.GenerateEntryID(),
		LayerIndex:     layer,
		Direction:      direction,
		EntryPrice:     price,
		Units:          f.config.BaseLotSize,
		TakeProfitPips: f.config.TakeProfitPips,
		OpenedAt:       now,
		IsInitial:      isInitial,
		SourceEntryID:  sourceEntryID,
	}
	state.OpenEntries = append(state.OpenEntries, entry)
	return entry
}

func (f *Floor) openHedgeEntry(state *types.StrategyState, source types.Entry, tick types.Tick, now time.Time) types.Entry {
	direction := source.Direction.Opposite()
	price := tick.Ask
	if direction == types.DirectionShort {
		price = tick.Bid
	}

	hedge := types.Entry{
		EntryID:       utils.GenerateEntryID(),
		LayerIndex:    source.LayerIndex,
		Direction:     direction,
		EntryPrice:    price,
		Units:         source.Units,
		OpenedAt:      now,
		IsHedge:       true,
		SourceEntryID: source.EntryID,
	}
	state.OpenEntries = append(state.OpenEntries, hedge)
	return hedge
}

func (f *Floor) updateLayerAvgPrice(state *types.StrategyState, layer int) {
	entries := entriesInLayer(state, layer)
	if len(entries) == 0 {
		return
	}
	totalUnits := decimal.Zero
	weighted := decimal.Zero
	for _, e := range entries {
		totalUnits = totalUnits.Add(e.Units)
		weighted = weighted.Add(e.EntryPrice.Mul(e.Units))
	}
	if totalUnits.IsZero() {
		return
	}
	if state.Metrics == nil {
		state.Metrics = make(map[string]decimal.Decimal)
	}
	state.Metrics[layerAvgPriceKey(layer)] = weighted.Div(totalUnits)
}

func layerAvgPriceKey(layer int) string {
	return "layer_avg_price_" + decimal.NewFromInt(int64(layer)).String()
}

func recomputeLayerRetracementCount(state *types.StrategyState, layer int) {
	count := 0
	for _, e := range entriesInLayer(state, layer) {
		if !e.IsInitial {
			count++
		}
	}
	state.LayerRetracementCounts[layer] = count
}
