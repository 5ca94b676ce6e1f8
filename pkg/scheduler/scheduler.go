// Package scheduler implements the two scheduling tiers: rate-monotonic
// assignment for the real-time class, and priority plus
// round-robin (with aging) for the best-effort class. It also carries
// the Liu-Layland admission test and the aperiodic descriptor type the
// polling server (pkg/kernel) consumes.
//
// This package intentionally knows nothing about the kernel's critical
// sections, queues' storage, or tick source: it is handed the current
// set of tasks and a queue of candidate ids, and returns a decision. The
// kernel (pkg/kernel) is the only caller, and is the one holding the
// lock while it calls in.
package scheduler

import (
	"math"
	"sort"

	"github.com/hellfireos/hellfireos/pkg/queue"
	"github.com/hellfireos/hellfireos/pkg/task"
)

// AgeThreshold is the number of consecutive times a ready best-effort
// task may be passed over before its priority is temporarily boosted,
// driving the priority_rem field. The exact aging policy is this
// port's resolution of an otherwise unspecified design choice,
// recorded in DESIGN.md.
const AgeThreshold = 5

// AssignRMA sorts the given real-time tasks by period ascending and
// assigns each a Priority so that the smallest period gets the highest
// numeric priority.
// Re-run by the kernel on every RT task admission or kill.
func AssignRMA(tasks []*task.Task) {
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Period < sorted[j].Period
	})
	n := len(sorted)
	for rank, t := range sorted {
		t.Priority = n - rank
	}
}

// SchedulableLiuLayland reports whether the given RT task set satisfies
// the sufficient (not necessary) Liu-Layland utilization bound for n
// tasks: sum(capacity_i/period_i) <= n*(2^(1/n) - 1). Tasks with zero
// capacity place no demand on the CPU and are not counted in n. Exact
// response-time analysis is also a valid admission test, but this
// bound is O(n) and conservative rather than exact, which is the right
// trade-off for an admission-time check that must never block the
// kernel for long.
func SchedulableLiuLayland(tasks []*task.Task) bool {
	n := 0
	util := 0.0
	for _, t := range tasks {
		if t.Capacity <= 0 {
			continue
		}
		n++
		util += float64(t.Capacity) / float64(t.Period)
	}
	if n == 0 {
		return true
	}
	bound := float64(n) * (math.Pow(2, 1.0/float64(n)) - 1)
	return util <= bound
}

// SelectRT picks the ready RT task with the highest dynamic priority
// from rtQueue, breaking ties by earliest DeadlineRem then by lowest
// task id. It returns the task id and true, or
// (-1, false) if the queue is empty.
func SelectRT(rtQueue *queue.Queue[int], tasks map[int]*task.Task) (int, bool) {
	best := -1
	var bestTask *task.Task
	for i := 0; i < rtQueue.Count(); i++ {
		id, err := rtQueue.Get(i)
		if err != nil {
			continue
		}
		t, ok := tasks[id]
		if !ok {
			continue
		}
		if bestTask == nil || better(t, bestTask) {
			best = id
			bestTask = t
		}
	}
	return best, best >= 0
}

func better(a, b *task.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.DeadlineRem != b.DeadlineRem {
		return a.DeadlineRem < b.DeadlineRem
	}
	return a.ID < b.ID
}

// SelectBestEffort picks the ready best-effort task from runQueue using
// static priority, broken by FIFO/round-robin order (queue position),
// with the aging boost described at AgeThreshold applied to the
// effective priority. It returns the ring-relative queue index chosen
// (so the kernel can rotate the queue to implement round-robin) and the
// task id, or (0, 0, false) if the queue is empty.
func SelectBestEffort(runQueue *queue.Queue[int], tasks map[int]*task.Task) (queueIdx int, taskID int, ok bool) {
	bestIdx := -1
	bestEffective := math.MinInt
	for i := 0; i < runQueue.Count(); i++ {
		id, err := runQueue.Get(i)
		if err != nil {
			continue
		}
		t, exists := tasks[id]
		if !exists {
			continue
		}
		effective := t.Priority + t.PriorityRem
		if effective > bestEffective {
			bestEffective = effective
			bestIdx = i
			taskID = id
		}
	}
	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, taskID, true
}

// ApplyAging updates PassedOver/PriorityRem for every ready best-effort
// task: the selected task is reset, everyone else still waiting accrues
// one more "passed over" tick and is boosted once it crosses
// AgeThreshold. This is called once per best-effort scheduling decision.
func ApplyAging(runQueue *queue.Queue[int], tasks map[int]*task.Task, selected int) {
	for i := 0; i < runQueue.Count(); i++ {
		id, err := runQueue.Get(i)
		if err != nil {
			continue
		}
		t, exists := tasks[id]
		if !exists {
			continue
		}
		if id == selected {
			t.PassedOver = 0
			t.PriorityRem = 0
			continue
		}
		t.PassedOver++
		if t.PassedOver >= AgeThreshold {
			t.PriorityRem++
			t.PassedOver = 0
		}
	}
}

// AperiodicEntry is an aperiodic arrival's body. Unlike task.Entry, it
// is handed an explicit tick budget rather than running to completion
// on its own schedule: the polling server decides, each time it
// services this arrival, how many of the arrival's remaining capacity
// units server_fuel can cover this period, and the body is expected to
// consume exactly that many ticks (typically via ticks calls to
// ctx.Tick()) and then return, so the server can account for partial
// service across period boundaries.
type AperiodicEntry func(ctx *task.Context, ticks int)

// Aperiodic is a queued arrival awaiting service by the polling
// server.
type Aperiodic struct {
	ID             int
	Entry          AperiodicEntry
	Name           string
	StackSize      int
	PriorityHint   int
	Capacity       int
	HasDeadline    bool
	DeadlineTick   int64
	DeadlineMisses *uint64
}

// Remaining reports whether the descriptor still has unserved capacity.
func (a *Aperiodic) Remaining() bool {
	return a.Capacity > 0
}
