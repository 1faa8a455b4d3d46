package taskexec

import (
	"context"
	"sync"
	"sync/atomic"
)

// Control is handed to a Runner so it can cooperate with pause/resume/
// stop requests without the executor reaching into its internals.
// Pausing a backtest or trading loop means it stops consuming ticks
// until resumed or stopped; it never tears down accumulated state.
type Control struct {
	paused  atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	resume  chan struct{}
}

func newControl() *Control {
	return &Control{resume: make(chan struct{})}
}

// WaitIfPaused blocks while the run is paused, returning ctx.Err() if
// the context is cancelled first. Runners should call this between
// units of work (ticks, bars).
func (c *Control) WaitIfPaused(ctx context.Context) error {
	for c.paused.Load() {
		c.mu.Lock()
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stopped reports whether a stop has been requested.
func (c *Control) Stopped() bool { return c.stopped.Load() }

func (c *Control) pause() { c.paused.Store(true) }

func (c *Control) resumeRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused.Store(false)
	close(c.resume)
	c.resume = make(chan struct{})
}

func (c *Control) stop() { c.stopped.Store(true) }
