package floor

import (
	"time"

	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// applyVolatilityRegime implements step 2: detect an ATR spike over
// baseline, lock (hedge-neutralize or close-all) on entry, and unwind
// on return below the unlock threshold.
func (f *Floor) applyVolatilityRegime(tick types.Tick, state *types.StrategyState, now time.Time) []strategy.Event {
	if !f.config.VolatilityEnabled {
		return nil
	}

	current := atrFromHistory(state.PriceHistory, f.config.ATRPeriod)
	baseline := atrFromHistory(state.PriceHistory, f.config.ATRBaselinePeriod)
	if baseline.IsZero() {
		return nil
	}

	var events []strategy.Event

	if !state.VolatilityLocked &&
		current.GreaterThanOrEqual(baseline.Mul(f.config.LockMultiplier)) &&
		len(state.OpenEntries) > 0 {

		state.VolatilityLocked = true
		state.LockReason = "atr_spike"

		if !f.config.NettingMode {
			var hedgeIDs []string
			source := append([]types.Entry(nil), state.OpenEntries...)
			for _, e := range source {
				hedge := f.openHedgeEntry(state, e, tick, now)
				hedgeIDs = append(hedgeIDs, hedge.EntryID)
			}
			state.HedgeEntryIDs = hedgeIDs
			state.HedgeNeutralized = true
			events = append(events, strategy.VolatilityHedgeNeutralize{
				BaseEvent:     strategy.Stamp(now),
				HedgeEntryIDs: hedgeIDs,
			})
		} else {
			events = append(events, strategy.VolatilityLock{
				BaseEvent: strategy.Stamp(now),
				Reason:    strategy.VolatilityLockReasonClose,
			})
		}
		return events
	}

	if state.VolatilityLocked && current.LessThanOrEqual(baseline.Mul(f.config.UnlockMultiplier)) {
		if !f.config.NettingMode && state.HedgeNeutralized {
			for _, hid := range state.HedgeEntryIDs {
				if hedge, ok := findEntry(state, hid); ok {
					removeEntry(state, hedge.EntryID)
					if hedge.SourceEntryID != "" {
						removeEntry(state, hedge.SourceEntryID)
					}
				}
			}
			events = append(events, strategy.VolatilityLock{
				BaseEvent: strategy.Stamp(now),
				Reason:    strategy.VolatilityLockReasonCloseUnwind,
			})

			state.HedgeEntryIDs = nil
			state.HedgeNeutralized = false
			state.ActiveLayerIndex = state.HomeLayerIndex
			state.ReturnStack = nil
			for k := range state.LayerRetracementCounts {
				state.LayerRetracementCounts[k] = 0
			}
		}

		state.VolatilityLocked = false
		state.LockReason = ""
	}

	return events
}

// applyMarginProtection implements step 3: if the margin ratio has
// breached margin_cut_start_ratio, close the oldest entries until the
// target ratio is met and report bail=true so the caller stops
// processing this tick.
func (f *Floor) applyMarginProtection(tick types.Tick, state *types.StrategyState, now time.Time) ([]strategy.Event, bool) {
	if state.AccountNAV.IsZero() || len(state.OpenEntries) == 0 {
		return nil, false
	}

	required := f.requiredMargin(state.OpenEntries)
	ratio := required.Div(state.AccountNAV)
	if ratio.LessThan(f.config.MarginCutStartRatio) {
		return nil, false
	}

	targetRequired := state.AccountNAV.Mul(f.config.MarginCutTargetRatio)
	targetUnits := targetRequired.Div(f.config.RequiredMarginRate.Mul(averageEntryPrice(state.OpenEntries)))

	ordered := oldestFirst(state.OpenEntries)
	remainingUnits := totalUnits(state.OpenEntries)
	var closedIDs []string

	for _, e := range ordered {
		if remainingUnits.LessThanOrEqual(targetUnits) {
			break
		}
		pnl := realizedPnL(e, tick)
		state.AccountBalance = state.AccountBalance.Add(pnl)
		removeEntry(state, e.EntryID)
		closedIDs = append(closedIDs, e.EntryID)
		remainingUnits = remainingUnits.Sub(e.Units)
	}

	if len(closedIDs) == 0 {
		return nil, false
	}

	return []strategy.Event{strategy.MarginProtection{
		BaseEvent:      strategy.Stamp(now),
		ClosedEntryIDs: closedIDs,
		TargetUnits:    targetUnits,
	}}, true
}

// checkBlowoutGuard implements step 4: if no entries remain and even a
// minimum-lot fresh entry would breach the target ratio, ask the
// executor to stop the task.
func (f *Floor) checkBlowoutGuard(state *types.StrategyState, now time.Time) *strategy.Event {
	if len(state.OpenEntries) > 0 || state.AccountNAV.IsZero() {
		return nil
	}

	hypotheticalMargin := f.config.RequiredMarginRate.Mul(state.LastMid).Mul(f.config.BaseLotSize)
	ratio := hypotheticalMargin.Div(state.AccountNAV)
	if ratio.LessThan(f.config.MarginCutTargetRatio) {
		return nil
	}

	var event strategy.Event = strategy.GenericSignal{
		BaseEvent: strategy.Stamp(now),
		Tag:       "margin_blowout_stop",
		Details: map[string]interface{}{
			"hypothetical_margin_ratio": ratio.String(),
		},
	}
	return &event
}

func realizedPnL(e types.Entry, tick types.Tick) decimal.Decimal {
	return unrealizedPnL(e, tick)
}

func averageEntryPrice(entries []types.Entry) decimal.Decimal {
	if len(entries) == 0 {
		return decimal.NewFromInt(1)
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.EntryPrice)
	}
	return sum.Div(decimal.NewFromInt(int64(len(entries))))
}

func totalUnits(entries []types.Entry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Units)
	}
	return sum
}

// oldestFirst orders entries by (layer index, opened_at, entry id),
// matching the documented closeout ordering.
func oldestFirst(entries []types.Entry) []types.Entry {
	out := append([]types.Entry(nil), entries...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && lessEntry(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func lessEntry(a, b types.Entry) bool {
	if a.LayerIndex != b.LayerIndex {
		return a.LayerIndex < b.LayerIndex
	}
	if !a.OpenedAt.Equal(b.OpenedAt) {
		return a.OpenedAt.Before(b.OpenedAt)
	}
	return a.EntryID < b.EntryID
}
