// Package stream consumes a broker account's transaction feed, keeping
// a local position and order view in sync with the broker's
// authoritative state, and periodically reconciles the two.
package stream

import (
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// PositionStore is the authoritative local view of open positions per
// account, built entirely off the broker's transaction feed rather than
// the order executor's submit-time guesses. It satisfies
// internal/execution.PositionBook.
//
// Built on an order manager's updatePosition idiom, which accumulates
// fills into a weighted-average entry price; moved here because the
// position ledger belongs to whatever consumes the authoritative fill
// stream, not to the component that only originates orders.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]map[string]*types.Position // account -> instrument|direction key -> position
	closed    []types.Position                      // closed positions, most recent last, for realised P&L history
	startEquity map[string]decimal.Decimal
	peakEquity  map[string]decimal.Decimal
}

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions:   make(map[string]map[string]*types.Position),
		startEquity: make(map[string]decimal.Decimal),
		peakEquity:  make(map[string]decimal.Decimal),
	}
}

func positionKey(instrument string, dir types.Direction) string {
	return instrument + "|" + string(dir)
}

// Upsert folds a fill into the account's position book: accumulating
// into an existing same-direction position with a recomputed
// weighted-average entry price, or opening a new one.
func (s *PositionStore) Upsert(account, instrument string, dir types.Direction, units, price decimal.Decimal, strategy string, at time.Time) types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.positions[account]
	if !ok {
		book = make(map[string]*types.Position)
		s.positions[account] = book
	}

	key := positionKey(instrument, dir)
	existing, ok := book[key]
	if !ok {
		pos := &types.Position{
			ID:           account + ":" + key,
			Account:      account,
			Strategy:     strategy,
			Instrument:   instrument,
			Direction:    dir,
			Units:        units,
			EntryPrice:   price,
			CurrentPrice: price,
			OpenedAt:     at,
		}
		book[key] = pos
		return *pos
	}

	totalUnits := existing.Units.Add(units)
	if totalUnits.IsZero() {
		existing.EntryPrice = price
	} else {
		weighted := existing.Units.Mul(existing.EntryPrice).Add(units.Mul(price))
		existing.EntryPrice = weighted.Div(totalUnits)
	}
	existing.Units = totalUnits
	existing.CurrentPrice = price
	return *existing
}

// Close removes a position from the open book and records its realised
// P&L, matching transaction_streamer.py's TRADE_CLOSE handling.
func (s *PositionStore) Close(account, instrument string, dir types.Direction, closePrice, realizedPnL decimal.Decimal, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.positions[account]
	if !ok {
		return
	}
	key := positionKey(instrument, dir)
	pos, ok := book[key]
	if !ok {
		return
	}
	closedAt := at
	pos.CurrentPrice = closePrice
	pos.RealizedPnL = realizedPnL
	pos.ClosedAt = &closedAt
	s.closed = append(s.closed, *pos)
	delete(book, key)
}

// Reduce shrinks a position's units on a partial close
// (TRADE_REDUCE), preserving its entry price.
func (s *PositionStore) Reduce(account, instrument string, dir types.Direction, remainingUnits, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.positions[account]
	if !ok {
		return
	}
	key := positionKey(instrument, dir)
	pos, ok := book[key]
	if !ok {
		return
	}
	pos.Units = remainingUnits
	pos.CurrentPrice = price
}

// MarkPrice updates a position's current price and unrealised P&L as
// new ticks arrive, without touching units or entry price.
func (s *PositionStore) MarkPrice(account, instrument string, mid decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.positions[account]
	if !ok {
		return
	}
	for _, pos := range book {
		if pos.Instrument != instrument {
			continue
		}
		pos.CurrentPrice = mid
		delta := mid.Sub(pos.EntryPrice)
		if pos.Direction == types.DirectionShort {
			delta = delta.Neg()
		}
		pos.UnrealizedPnL = delta.Mul(pos.Units)
	}
}

// OpenPositions returns every open position for account, satisfying
// internal/execution.PositionBook.
func (s *PositionStore) OpenPositions(account string) []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book := s.positions[account]
	out := make([]types.Position, 0, len(book))
	for _, pos := range book {
		out = append(out, *pos)
	}
	return out
}

// Drawdown reports the account's current drawdown from its tracked
// equity peak, satisfying internal/execution.PositionBook.
func (s *PositionStore) Drawdown(account string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peak, ok := s.peakEquity[account]
	if !ok || peak.IsZero() {
		return decimal.Zero
	}
	equity := s.equityLocked(account)
	if equity.GreaterThanOrEqual(peak) {
		return decimal.Zero
	}
	return peak.Sub(equity).Div(peak)
}

// SetEquity raises the account's tracked equity peak, used by Drawdown,
// to equity when it exceeds the previous peak. Only the peak is stored.
func (s *PositionStore) SetEquity(account string, equity decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peak, ok := s.peakEquity[account]; !ok || equity.GreaterThan(peak) {
		s.peakEquity[account] = equity
	}
}

func (s *PositionStore) equityLocked(account string) decimal.Decimal {
	var equity decimal.Decimal
	for _, pos := range s.positions[account] {
		equity = equity.Add(pos.UnrealizedPnL)
	}
	return equity
}

// Closed returns the closed-position history of every account, most
// recent last.
func (s *PositionStore) Closed() []types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Position, len(s.closed))
	copy(out, s.closed)
	return out
}
