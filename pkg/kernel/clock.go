package kernel

import (
	"context"
	"time"
)

// Clock paces the dispatcher's tick loop. RealTimeClock gates on
// wall-clock time, the Go rendition of
// the hardware timer interrupt original_source's timer_init()/
// timer_reset() arm; ManualClock is driven explicitly, letting tests
// step the scheduler one tick at a time without racing a real timer.
type Clock interface {
	// Wait blocks until the next tick is authorized, or ctx is done.
	Wait(ctx context.Context) error
}

// settleNotifier is an optional Clock extension a test harness clock can
// implement so that Advance (or similar) does not return until the
// dispatcher has fully processed the tick it just released — including
// running whichever task was dispatched until that task suspends again.
// RealTimeClock has no use for this; nothing paces its own progress.
type settleNotifier interface {
	settled()
}

// RealTimeClock ticks at a fixed wall-clock interval.
type RealTimeClock struct {
	ticker *time.Ticker
}

// NewRealTimeClock builds a clock that authorizes one tick every period.
func NewRealTimeClock(period time.Duration) *RealTimeClock {
	return &RealTimeClock{ticker: time.NewTicker(period)}
}

func (c *RealTimeClock) Wait(ctx context.Context) error {
	select {
	case <-c.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop releases the underlying timer.
func (c *RealTimeClock) Stop() {
	c.ticker.Stop()
}

// ManualClock is driven by explicit Advance calls, giving tests
// lock-step control over tick delivery. The zero value is not usable;
// build one with NewManualClock.
type ManualClock struct {
	gate    chan struct{}
	settle  chan struct{}
}

// NewManualClock builds a clock with no pending ticks.
func NewManualClock() *ManualClock {
	return &ManualClock{
		gate:   make(chan struct{}),
		settle: make(chan struct{}),
	}
}

func (c *ManualClock) Wait(ctx context.Context) error {
	select {
	case <-c.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ManualClock) settled() {
	c.settle <- struct{}{}
}

// Advance authorizes exactly one tick and blocks until the dispatcher
// has fully processed it: accounting, scheduling, and running whichever
// task was chosen until it suspends again.
func (c *ManualClock) Advance() {
	c.gate <- struct{}{}
	<-c.settle
}

// AdvanceN calls Advance n times.
func (c *ManualClock) AdvanceN(n int) {
	for i := 0; i < n; i++ {
		c.Advance()
	}
}
