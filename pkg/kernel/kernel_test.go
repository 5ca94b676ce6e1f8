package kernel

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/hellfireos/hellfireos/pkg/task"
)

// runFor boots Run on clock in the background and returns a cancel
// func to stop it cleanly at the end of the test.
func runFor(t *testing.T, k *Kernel, clock Clock) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = k.Run(ctx, clock)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestIdleOnlySystemAlwaysRunsIdle(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 0))
	assert.NilError(t, err)
	clock := NewManualClock()
	stop := runFor(t, k, clock)
	defer stop()

	for i := 0; i < 1000; i++ {
		clock.Advance()
		assert.Equal(t, k.SelfID(), k.IdleTaskID())
	}
	assert.Equal(t, k.PCB().TickCount, uint64(1000))
}

func TestSinglePeriodicTaskMeetsItsDeadlines(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 0))
	assert.NilError(t, err)
	clock := NewManualClock()
	stop := runFor(t, k, clock)
	defer stop()

	const period, capacity = 10, 3
	id, err := k.Spawn(func(ctx *task.Context) {
		for {
			for i := 0; i < capacity; i++ {
				ctx.Tick()
			}
			ctx.Yield()
		}
	}, period, capacity, period, "rt-a", 256)
	assert.NilError(t, err)

	clock.AdvanceN(100)

	snaps := k.Tasks()
	var found *TaskSnapshot
	for i := range snaps {
		if snaps[i].ID == id {
			found = &snaps[i]
		}
	}
	assert.Assert(t, found != nil)
	assert.Equal(t, found.DeadlineMisses, uint64(0))
	assert.Assert(t, found.RTJobs >= 9) // ~100/10 periods have elapsed
}

func TestTwoPeriodicTasksFollowRMAPriority(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 0))
	assert.NilError(t, err)
	clock := NewManualClock()
	stop := runFor(t, k, clock)
	defer stop()

	fast, err := k.Spawn(func(ctx *task.Context) {
		for {
			ctx.Tick()
			ctx.Yield()
		}
	}, 5, 1, 5, "rt-fast", 256)
	assert.NilError(t, err)

	slow, err := k.Spawn(func(ctx *task.Context) {
		for {
			ctx.Tick()
			ctx.Yield()
		}
	}, 10, 1, 10, "rt-slow", 256)
	assert.NilError(t, err)

	clock.AdvanceN(50)

	var fastJobs, slowJobs uint64
	var fastPriority, slowPriority int
	for _, s := range k.Tasks() {
		switch s.ID {
		case fast:
			fastJobs, fastPriority = s.RTJobs, s.Priority
		case slow:
			slowJobs, slowPriority = s.RTJobs, s.Priority
		}
	}
	assert.Assert(t, fastJobs > slowJobs)
	assert.Assert(t, fastPriority > slowPriority)
}

func TestSpawnRejectsUnschedulableSet(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 0))
	assert.NilError(t, err)

	_, err = k.Spawn(func(ctx *task.Context) {}, 2, 2, 2, "greedy-a", 256)
	assert.NilError(t, err)

	_, err = k.Spawn(func(ctx *task.Context) {}, 3, 3, 3, "greedy-b", 256)
	assert.ErrorContains(t, err, "UNSCHEDULABLE")
}

func TestDelayMSSuspendsAndResumesOnSchedule(t *testing.T) {
	k, err := New(nil, WithPollingServer(20, 0))
	assert.NilError(t, err)
	clock := NewManualClock()
	stop := runFor(t, k, clock)
	defer stop()

	woke := make(chan int, 1)
	_, err = k.Spawn(func(ctx *task.Context) {
		ctx.DelayMS(5)
		woke <- 1
		for {
			ctx.Tick()
		}
	}, 0, 0, 0, "sleeper", 256)
	assert.NilError(t, err)

	clock.AdvanceN(4)
	select {
	case <-woke:
		t.Fatal("task woke before its delay elapsed")
	default:
	}

	clock.AdvanceN(3)
	select {
	case <-woke:
	default:
		t.Fatal("task did not wake after its delay elapsed")
	}
}
