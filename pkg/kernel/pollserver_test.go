package kernel

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/hellfireos/hellfireos/pkg/scheduler"
	"github.com/hellfireos/hellfireos/pkg/task"
)

// TestPollingServerSplitsArrivalAcrossPeriodsWhenFuelRunsOut submits an
// arrival whose capacity exceeds server_fuel's first allocation, and
// checks it is serviced in two partial passes (one per period) rather
// than either running to completion on borrowed fuel or being charged
// a flat one unit of capacity per servicing regardless of ticks spent.
func TestPollingServerSplitsArrivalAcrossPeriodsWhenFuelRunsOut(t *testing.T) {
	k, err := New(nil, WithPollingServer(10, 2))
	assert.NilError(t, err)

	clock := NewManualClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = k.Run(ctx, clock)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ticksConsumed := make(chan int, 8)
	assert.NilError(t, k.SubmitAperiodic(&scheduler.Aperiodic{
		ID:        1,
		Name:      "big",
		Capacity:  3, // exceeds the server's per-period fuel of 2
		StackSize: 256,
		Entry: func(c *task.Context, ticks int) {
			for i := 0; i < ticks; i++ {
				c.Tick()
			}
			ticksConsumed <- ticks
		},
	}))

	for i := 0; i < 25; i++ {
		clock.Advance()
	}

	close(ticksConsumed)
	var passes []int
	total := 0
	for n := range ticksConsumed {
		passes = append(passes, n)
		total += n
	}

	// server_fuel never exceeds 2 per period, so no single pass can
	// cover all 3 units of capacity at once.
	assert.Assert(t, len(passes) >= 2)
	for _, n := range passes {
		assert.Assert(t, n <= 2)
	}
	assert.Equal(t, total, 3)
}

// TestPollingServerRunsArrivalToCompletionWhenFuelCoversIt submits an
// arrival whose capacity fits within a single period's fuel and checks
// it is serviced in exactly one pass, for exactly its own capacity
// worth of ticks.
func TestPollingServerRunsArrivalToCompletionWhenFuelCoversIt(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 6))
	assert.NilError(t, err)

	clock := NewManualClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = k.Run(ctx, clock)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ticksConsumed := make(chan int, 8)
	assert.NilError(t, k.SubmitAperiodic(&scheduler.Aperiodic{
		ID:        1,
		Name:      "small",
		Capacity:  2,
		StackSize: 256,
		Entry: func(c *task.Context, ticks int) {
			for i := 0; i < ticks; i++ {
				c.Tick()
			}
			ticksConsumed <- ticks
		},
	}))

	for i := 0; i < 20; i++ {
		clock.Advance()
	}

	close(ticksConsumed)
	var passes []int
	for n := range ticksConsumed {
		passes = append(passes, n)
	}

	assert.Equal(t, len(passes), 1)
	assert.Equal(t, passes[0], 2)
}
