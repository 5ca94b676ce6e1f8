// Command hellfired boots a single simulated HellfireOS node and serves
// its scheduling metrics over HTTP: a promhttp.Handler() mounted on a
// long-running process's mux, carrying per-node kernel state instead
// of per-connection tcp_info.
package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hellfireos/hellfireos/pkg/kernel"
	"github.com/hellfireos/hellfireos/pkg/metrics"
	"github.com/hellfireos/hellfireos/pkg/task"
)

func main() {
	addr := flag.String("addr", ":18080", "address to serve /metrics on")
	cpuID := flag.Int("cpu", 0, "this node's CPU id")
	tick := flag.Duration("tick", time.Millisecond, "wall-clock duration of one tick")
	flag.Parse()

	log := logrus.StandardLogger()

	k, err := kernel.New(nil, kernel.WithCPUID(*cpuID), kernel.WithLogger(log))
	if err != nil {
		log.Fatalf("hellfired: boot: %v", err)
	}

	// A small RMA demo pair: a fast period-5 task should preempt a slow
	// period-10 task whenever both are ready.
	if _, err := k.Spawn(busyTask(3), 5, 2, 5, "demo-fast", 512); err != nil {
		log.Fatalf("hellfired: spawn demo-fast: %v", err)
	}
	if _, err := k.Spawn(busyTask(3), 10, 3, 10, "demo-slow", 512); err != nil {
		log.Fatalf("hellfired: spawn demo-slow: %v", err)
	}

	prometheus.MustRegister(metrics.NewCollector(k))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Infof("hellfired: serving metrics on %s", *addr)
		if err := http.ListenAndServe(*addr, mux); err != nil {
			log.Fatalf("hellfired: metrics server: %v", err)
		}
	}()

	log.Infof("hellfired: node cpu=%d booted, running at %s/tick", *cpuID, *tick)
	if err := k.Run(context.Background(), kernel.NewRealTimeClock(*tick)); err != nil {
		log.Fatalf("hellfired: %v", err)
	}
}

// busyTask returns an Entry that consumes n ticks of its budget every
// period, then yields the rest back to the scheduler.
func busyTask(n int) task.Entry {
	return func(ctx *task.Context) {
		for {
			for i := 0; i < n; i++ {
				ctx.Tick()
			}
			ctx.Yield()
		}
	}
}
