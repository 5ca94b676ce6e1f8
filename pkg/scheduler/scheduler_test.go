package scheduler

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/hellfireos/hellfireos/pkg/queue"
	"github.com/hellfireos/hellfireos/pkg/task"
)

func TestAssignRMASmallestPeriodHighestPriority(t *testing.T) {
	a := &task.Task{ID: 1, Period: 10}
	b := &task.Task{ID: 2, Period: 5}
	c := &task.Task{ID: 3, Period: 20}
	AssignRMA([]*task.Task{a, b, c})

	assert.Assert(t, b.Priority > a.Priority)
	assert.Assert(t, a.Priority > c.Priority)
}

func TestSchedulableLiuLayland(t *testing.T) {
	// Two tasks, utilization 2/5 + 3/10 = 0.7, bound for n=2 is
	// 2*(sqrt(2)-1) ~= 0.828 so this must be schedulable.
	a := &task.Task{Period: 5, Capacity: 2}
	b := &task.Task{Period: 10, Capacity: 3}
	assert.Assert(t, SchedulableLiuLayland([]*task.Task{a, b}))
}

func TestSelectRTHighestPriorityWins(t *testing.T) {
	tasks := map[int]*task.Task{
		1: {ID: 1, Priority: 5, DeadlineRem: 3},
		2: {ID: 2, Priority: 5, DeadlineRem: 1},
		3: {ID: 3, Priority: 9, DeadlineRem: 9},
	}
	rt := queue.New[int](4)
	assert.NilError(t, rt.AddTail(1))
	assert.NilError(t, rt.AddTail(2))
	assert.NilError(t, rt.AddTail(3))

	id, ok := SelectRT(rt, tasks)
	assert.Assert(t, ok)
	assert.Equal(t, id, 3) // highest priority wins outright
}

func TestSelectRTDeadlineTieBreak(t *testing.T) {
	tasks := map[int]*task.Task{
		1: {ID: 1, Priority: 5, DeadlineRem: 3},
		2: {ID: 2, Priority: 5, DeadlineRem: 1},
	}
	rt := queue.New[int](4)
	assert.NilError(t, rt.AddTail(1))
	assert.NilError(t, rt.AddTail(2))

	id, ok := SelectRT(rt, tasks)
	assert.Assert(t, ok)
	assert.Equal(t, id, 2) // earlier deadline wins the priority tie
}

func TestSelectBestEffortAgingPreventsStarvation(t *testing.T) {
	tasks := map[int]*task.Task{
		1: {ID: 1, Priority: 1},
		2: {ID: 2, Priority: 10},
	}
	run := queue.New[int](4)
	assert.NilError(t, run.AddTail(1))
	assert.NilError(t, run.AddTail(2))

	for i := 0; i < AgeThreshold; i++ {
		_, selected, ok := SelectBestEffort(run, tasks)
		assert.Assert(t, ok)
		assert.Equal(t, selected, 2)
		ApplyAging(run, tasks, selected)
	}

	// task 1 has now been passed over AgeThreshold times and should have
	// received its first aging boost.
	assert.Assert(t, tasks[1].PriorityRem > 0)
}
