package floor

import (
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// processEntries implements step 5: open the layer's first entry,
// take-profit closes (LIFO in hedging mode, FIFO in netting mode),
// retracement scale-ins, and layer transitions.
func (f *Floor) processEntries(tick types.Tick, state *types.StrategyState, now time.Time) []strategy.Event {
	layer := state.ActiveLayerIndex
	layerEntries := entriesInLayer(state, layer)

	if len(layerEntries) == 0 {
		direction := f.pickDirection(state.PriceHistory)
		entry := f.openEntry(state, layer, direction, tick, now, true, "")
		state.LayerDirections[layer] = direction
		return []strategy.Event{strategy.InitialEntry{
			BaseEvent: strategy.Stamp(now),
			Layer:     layer,
			Direction: direction,
			EntryID:   entry.EntryID,
			Price:     entry.EntryPrice,
			Units:     entry.Units,
		}}
	}

	direction := state.LayerDirections[layer]
	takeProfit, retracement := f.effectiveThresholds(state)

	order := layerEntries
	if !f.config.NettingMode {
		order = reverseEntries(layerEntries)
	}

	var events []strategy.Event
	closedAny := false

	for _, e := range order {
		pips := unrealizedPips(e, tick, f.config.PipSize)
		if pips.LessThan(takeProfit) {
			continue
		}
		pnl := realizedPnL(e, tick)
		state.AccountBalance = state.AccountBalance.Add(pnl)
		removeEntry(state, e.EntryID)
		events = append(events, strategy.TakeProfit{
			BaseEvent:   strategy.Stamp(now),
			Layer:       layer,
			EntryID:     e.EntryID,
			Direction:   e.Direction,
			Pips:        pips,
			RealizedPnL: pnl,
			ExitPrice:   exitPrice(e, tick),
		})
		closedAny = true
	}

	if closedAny {
		recomputeLayerRetracementCount(state, layer)
		remaining := entriesInLayer(state, layer)
		if len(remaining) == 0 && layer != state.HomeLayerIndex {
			events = append(events, strategy.RemoveLayer{BaseEvent: strategy.Stamp(now), Layer: layer})
			if n := len(state.ReturnStack); n > 0 {
				state.ActiveLayerIndex = state.ReturnStack[n-1]
				state.ReturnStack = state.ReturnStack[:n-1]
			}
		}
		return events
	}

	latest := layerEntries[len(layerEntries)-1]
	adverse := adversePips(latest, tick, f.config.PipSize)
	if adverse.LessThan(retracement) {
		return events
	}

	count := state.LayerRetracementCounts[layer]
	if count < f.config.MaxRetracementsPerLayer {
		entry := f.openScaleIn(state, layer, direction, tick, now, count+1)
		state.LayerRetracementCounts[layer] = count + 1
		f.updateLayerAvgPrice(state, layer)
		events = append(events, strategy.Retracement{
			BaseEvent:        strategy.Stamp(now),
			Layer:            layer,
			EntryID:          entry.EntryID,
			Price:            entry.EntryPrice,
			Units:            entry.Units,
			RetracementIndex: count + 1,
		})
		return events
	}

	if state.ActiveLayerIndex >= f.config.MaxLayers-1 {
		return events
	}

	state.ReturnStack = append(state.ReturnStack, layer)
	state.ActiveLayerIndex++
	newLayer := state.ActiveLayerIndex
	newDirection := f.pickDirection(state.PriceHistory)
	state.LayerDirections[newLayer] = newDirection

	events = append(events, strategy.AddLayer{BaseEvent: strategy.Stamp(now), Layer: newLayer, Direction: newDirection})

	entry := f.openEntry(state, newLayer, newDirection, tick, now, true, "")
	events = append(events, strategy.InitialEntry{
		BaseEvent: strategy.Stamp(now),
		Layer:     newLayer,
		Direction: newDirection,
		EntryID:   entry.EntryID,
		Price:     entry.EntryPrice,
		Units:     entry.Units,
	})

	return events
}

// openScaleIn opens a retracement entry, sizing its units via the
// configured progression mode over the retracement index.
func (f *Floor) openScaleIn(state *types.StrategyState, layer int, direction types.Direction, tick types.Tick, now time.Time, retracementIndex int) types.Entry {
	entry := f.openEntry(state, layer, direction, tick, now, false, "")
	entry.Units = progressionValue(
		f.config.RetracementLotMode,
		f.config.BaseLotSize,
		f.config.RetracementLotIncrement,
		f.config.RetracementLotFloor,
		retracementIndex,
	)
	state.OpenEntries[len(state.OpenEntries)-1] = entry
	return entry
}

// exitPrice realises P&L using the opposite side from the entry's
// direction: a long closes at bid, a short closes at ask.
func exitPrice(e types.Entry, tick types.Tick) decimal.Decimal {
	if e.Direction == types.DirectionLong {
		return tick.Bid
	}
	return tick.Ask
}
