package ticksource

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"go.uber.org/zap"
)

// PriceStreamer is the minimal broker capability a Live source needs:
// a blocking subscription that pushes ticks onto a channel until the
// context is cancelled or the connection drops. internal/execution
// binds a broker.Client to a fixed account to satisfy this, since
// broker.Client.StreamPrices takes the account as an argument.
//
// Grounded on internal/data/market_data.go's MarketDataService, which
// owns a websocket.Conn and pushes PriceUpdate values to subscriber
// callbacks with its own reconnect loop; Live narrows that to the one
// channel-based shape a Source needs and moves the reconnect policy up
// into this package so it is shared with every broker implementation
// instead of duplicated per exchange adapter.
type PriceStreamer interface {
	Subscribe(ctx context.Context, instrument string) (<-chan types.Tick, error)
}

// Live streams ticks from a broker connection, reconnecting with the
// same bounded backoff as the transaction stream: 5 attempts at 1s,
// 2s, 4s, 8s, 16s before giving up.
type Live struct {
	logger     *zap.Logger
	streamer   PriceStreamer
	instrument string

	ch     <-chan types.Tick
	cancel context.CancelFunc
}

// ReconnectIntervals is the live tick feed's backoff schedule, shared
// with the transaction stream's reconnect policy. A package variable
// rather than a direct utils.StreamReconnectIntervals() call so tests
// can substitute a faster schedule.
var ReconnectIntervals = utils.StreamReconnectIntervals()

// NewLive opens the initial subscription. It does not retry here: the
// first connection failure is returned to the caller so a task start
// can fail fast; reconnection on a mid-stream drop happens inside Next.
func NewLive(ctx context.Context, logger *zap.Logger, streamer PriceStreamer, instrument string) (*Live, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch, err := streamer.Subscribe(subCtx, instrument)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Live{logger: logger, streamer: streamer, instrument: instrument, ch: ch, cancel: cancel}, nil
}

// Next returns the next tick pushed by the broker. If the channel
// closes (connection dropped), it attempts to resubscribe following
// ReconnectIntervals before giving up and returning the last error.
func (l *Live) Next(ctx context.Context) (types.Tick, bool, error) {
	select {
	case tick, open := <-l.ch:
		if open {
			return tick, true, nil
		}
	case <-ctx.Done():
		return types.Tick{}, false, ctx.Err()
	}

	var lastErr error
	for _, delay := range ReconnectIntervals {
		select {
		case <-ctx.Done():
			return types.Tick{}, false, ctx.Err()
		case <-time.After(delay):
		}

		subCtx, cancel := context.WithCancel(ctx)
		ch, err := l.streamer.Subscribe(subCtx, l.instrument)
		if err != nil {
			cancel()
			lastErr = err
			l.logger.Warn("live tick reconnect failed", zap.Duration("delay", delay), zap.Error(err))
			continue
		}

		l.cancel()
		l.cancel = cancel
		l.ch = ch

		tick, open := <-ch
		if open {
			return tick, true, nil
		}
		lastErr = nil
	}

	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return types.Tick{}, false, lastErr
}

// Close tears down the active subscription.
func (l *Live) Close() error {
	l.cancel()
	return nil
}
