// Command aperiodic-demo runs a polling server with period=20,
// capacity=6, sends it three aperiodic arrivals of capacity=2 at t=5,
// and checks it finishes servicing all three by t=20 with its capacity
// fully spent. Each arrival only reports itself completed once its own
// capacity has actually been driven to zero by the server (tracked via
// the per-arrival remaining counter), not merely once its Entry has
// been invoked.
package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hellfireos/hellfireos/pkg/kernel"
	"github.com/hellfireos/hellfireos/pkg/scheduler"
	"github.com/hellfireos/hellfireos/pkg/task"
)

func main() {
	log := logrus.StandardLogger()

	k, err := kernel.New(nil, kernel.WithPollingServer(20, 6), kernel.WithLogger(log))
	if err != nil {
		log.Fatalf("aperiodic-demo: boot: %v", err)
	}

	clock := kernel.NewManualClock()
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { done <- k.Run(ctx, clock) }()

	completed := make(chan string, 3)
	submit := func(name string) {
		remaining := 2
		_ = k.SubmitAperiodic(&scheduler.Aperiodic{
			ID:        len(completed),
			Name:      name,
			Capacity:  2,
			StackSize: 256,
			Entry: func(c *task.Context, ticks int) {
				for i := 0; i < ticks; i++ {
					c.Tick()
				}
				remaining -= ticks
				if remaining <= 0 {
					completed <- name
				}
			},
		})
	}

	for t := 1; t <= 20; t++ {
		if t == 5 {
			submit("arrival-1")
			submit("arrival-2")
			submit("arrival-3")
		}
		clock.Advance()
	}

	close(completed)
	var names []string
	for name := range completed {
		names = append(names, name)
	}

	fmt.Printf("aperiodic-demo: completed by t=20: %v\n", names)
	fmt.Printf("aperiodic-demo: server capacity remaining at t=20: %d\n", serverCapacityRem(k))
}

func serverCapacityRem(k *kernel.Kernel) int {
	for _, t := range k.Tasks() {
		if t.ID == k.PollServerTaskID() {
			return t.CapacityRem
		}
	}
	return -1
}
