// Package ticksource abstracts where a strategy's ticks come from:
// a bounded historical slice replayed in order for a backtest, or a
// live broker feed for a trading task. Both satisfy the same narrow
// Source interface so internal/taskexec's Runner implementations
// (backtester.Engine, internal/execution's live runner) can share one
// consumption loop.
package ticksource

import (
	"context"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// Source yields ticks for one instrument in timestamp order. Next
// blocks until a tick is available, the context is cancelled, or the
// source is exhausted (io.EOF-style via the ok return).
type Source interface {
	// Next returns the next tick. ok is false once the source is
	// permanently exhausted (historical sources only); err is non-nil
	// on a transport failure a live source could not recover from.
	Next(ctx context.Context) (tick types.Tick, ok bool, err error)
	// Close releases any underlying connection or file handle.
	Close() error
}

// Historical replays a fixed, pre-loaded slice of ticks in order. It
// is the backtest engine's only Source implementation: backtest input
// is a bounded historical window, not a live feed.
type Historical struct {
	ticks []types.Tick
	pos   int
}

// NewHistorical builds a Source over an already time-ordered slice.
// Callers that load from storage should sort ascending by Timestamp
// before constructing this.
func NewHistorical(ticks []types.Tick) *Historical {
	return &Historical{ticks: ticks}
}

// Len reports the total number of ticks this source will yield.
func (h *Historical) Len() int { return len(h.ticks) }

// Next returns the next tick in the slice, or ok=false once exhausted.
func (h *Historical) Next(ctx context.Context) (types.Tick, bool, error) {
	select {
	case <-ctx.Done():
		return types.Tick{}, false, ctx.Err()
	default:
	}
	if h.pos >= len(h.ticks) {
		return types.Tick{}, false, nil
	}
	t := h.ticks[h.pos]
	h.pos++
	return t, true, nil
}

// Close is a no-op for an in-memory slice.
func (h *Historical) Close() error { return nil }
