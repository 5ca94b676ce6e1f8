package kernel

import (
	"github.com/hellfireos/hellfireos/pkg/errcode"
	"github.com/hellfireos/hellfireos/pkg/scheduler"
	"github.com/hellfireos/hellfireos/pkg/task"
)

// SubmitAperiodic enqueues an aperiodic arrival for the polling server
// to service. It fails with errcode.NoSlot if the aperiodic queue is
// already full — the classical polling-server overload response,
// rather than blocking the submitter.
func (k *Kernel) SubmitAperiodic(a *scheduler.Aperiodic) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.aperiodicQueue.AddTail(a); err != nil {
		return errcode.NoSlot
	}
	return nil
}

// pollingServerEntry is the body of the polling server task spawned at
// boot (original_source's polling_server_task()): each period, while it
// has server_fuel (its own CapacityRem) left and requests queued, it
// services the head aperiodic arrival for min(arrival.Capacity,
// server_fuel) ticks worth of work — running it to completion if
// server_fuel covers the whole remaining capacity, otherwise only a
// partial share, with the remainder pushed back on the queue tail for
// a later period. Any ctx.Tick() calls the arrival's body makes are
// charged against the server's own capacity_rem exactly like any other
// RT task's CPU consumption, so run is also the number of ticks the
// server itself spends servicing this arrival.
func (k *Kernel) pollingServerEntry(ctx *task.Context) {
	for {
		k.mu.Lock()
		var item *scheduler.Aperiodic
		if !k.aperiodicQueue.Empty() {
			if v, err := k.aperiodicQueue.Peek(); err == nil {
				item = v
			}
		}
		capRem := 0
		if t, ok := k.tasks[k.pollServerID]; ok {
			capRem = t.CapacityRem
		}
		k.mu.Unlock()

		if item == nil || capRem <= 0 {
			ctx.Tick()
			continue
		}

		run := item.Capacity
		if capRem < run {
			run = capRem
		}

		k.mu.Lock()
		_, _ = k.aperiodicQueue.RemHead()
		k.mu.Unlock()

		item.Entry(ctx, run)

		k.mu.Lock()
		item.Capacity -= run
		if item.Remaining() {
			_ = k.aperiodicQueue.AddTail(item)
		}
		k.mu.Unlock()
	}
}

// aperiodicGeneratorEntry is the optional demo task (disabled by
// default, see WithAperiodicGenerator) porting original_source's
// aperiodic_task_generator(): it periodically submits a trivial
// aperiodic arrival. The original spawns a genuine new task on a
// uniformly random delay; this port uses a small deterministic jitter
// sequence instead of math/rand, so Run is reproducible under
// ManualClock-driven tests.
func (k *Kernel) aperiodicGeneratorEntry(ctx *task.Context) {
	jitters := []int{3, 5, 2, 7, 4}
	n := 0
	for {
		delay := jitters[n%len(jitters)]
		n++
		ctx.DelayMS(delay * TickPeriodMS)

		_ = k.SubmitAperiodic(&scheduler.Aperiodic{
			ID:        n,
			Name:      "dummy",
			Capacity:  1,
			StackSize: 256,
			Entry: func(c *task.Context, ticks int) {
				for i := 0; i < ticks; i++ {
					c.Tick()
				}
			},
		})
	}
}
