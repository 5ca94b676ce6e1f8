// Package metrics exposes a running kernel's scheduling state as
// Prometheus metrics: where a connection-tracking collector gathers
// tcp_info from a set of tracked net.Conns at scrape time, this one
// gathers PCB counters, per-task accounting, queue depths, and
// attached NoC link health from a tracked *kernel.Kernel at scrape
// time, via its read-only accessors (Kernel.PCB, Kernel.Tasks,
// Kernel.HeapFree, Kernel.QueueDepths, Kernel.NoC().Remotes).
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hellfireos/hellfireos/pkg/kernel"
	"github.com/hellfireos/hellfireos/pkg/noc/transport"
)

// linkStatsProvider is implemented by pkg/noc/transport.TCPLink; the
// interface lives here instead of in pkg/noc so that package stays
// free of any transport-specific type.
type linkStatsProvider interface {
	Stats() transport.LinkStats
}

const namespace = "hellfireos"

// Collector implements prometheus.Collector over a single *kernel.Kernel,
// pulling a fresh snapshot on every Collect call rather than maintaining
// its own counters — scraping never blocks the dispatcher longer than
// one lock acquisition per accessor call.
type Collector struct {
	k *kernel.Kernel

	ticks             *prometheus.Desc
	contextSwitches   *prometheus.Desc
	preemptions       *prometheus.Desc
	heapFreeBytes     *prometheus.Desc
	queueDepth        *prometheus.Desc
	taskDeadlineMiss  *prometheus.Desc
	taskRTJobs        *prometheus.Desc
	taskBGJobs        *prometheus.Desc
	taskState         *prometheus.Desc
	linkRTTSeconds    *prometheus.Desc
	linkRetransmits   *prometheus.Desc
	linkFramesSent    *prometheus.Desc
	linkFramesRecv    *prometheus.Desc
}

// NewCollector wires a Collector to a running kernel, the way
// exporter.NewTCPInfoCollector wires to a set of tracked connections.
func NewCollector(k *kernel.Kernel) *Collector {
	constLabels := prometheus.Labels{"cpu": strconv.Itoa(k.CPUID())}
	return &Collector{
		k: k,
		ticks: prometheus.NewDesc(
			namespace+"_ticks_total", "Total clock ticks processed by the dispatcher.",
			nil, constLabels),
		contextSwitches: prometheus.NewDesc(
			namespace+"_context_switches_total", "Total task context switches.",
			nil, constLabels),
		preemptions: prometheus.NewDesc(
			namespace+"_preemptions_total", "Total times a running task was preempted before yielding.",
			nil, constLabels),
		heapFreeBytes: prometheus.NewDesc(
			namespace+"_heap_free_bytes", "Bytes currently free in the shared task-stack heap.",
			nil, constLabels),
		queueDepth: prometheus.NewDesc(
			namespace+"_queue_depth", "Number of entries currently queued.",
			[]string{"queue"}, constLabels),
		taskDeadlineMiss: prometheus.NewDesc(
			namespace+"_task_deadline_misses_total", "Total deadline misses for a real-time task.",
			[]string{"task"}, constLabels),
		taskRTJobs: prometheus.NewDesc(
			namespace+"_task_rt_jobs_total", "Total real-time job releases for a task.",
			[]string{"task"}, constLabels),
		taskBGJobs: prometheus.NewDesc(
			namespace+"_task_bg_jobs_total", "Total best-effort jobs completed by a task.",
			[]string{"task"}, constLabels),
		taskState: prometheus.NewDesc(
			namespace+"_task_state", "Current TCB state (1 for the task's current state, 0 otherwise).",
			[]string{"task", "state"}, constLabels),
		linkRTTSeconds: prometheus.NewDesc(
			namespace+"_noc_link_rtt_seconds", "Last-sampled round-trip time for an attached remote NoC link.",
			[]string{"peer"}, constLabels),
		linkRetransmits: prometheus.NewDesc(
			namespace+"_noc_link_retransmits_total", "Retransmits observed on an attached remote NoC link.",
			[]string{"peer"}, constLabels),
		linkFramesSent: prometheus.NewDesc(
			namespace+"_noc_link_frames_sent_total", "Frames sent over an attached remote NoC link.",
			[]string{"peer"}, constLabels),
		linkFramesRecv: prometheus.NewDesc(
			namespace+"_noc_link_frames_received_total", "Frames received over an attached remote NoC link.",
			[]string{"peer"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.ticks
	descs <- c.contextSwitches
	descs <- c.preemptions
	descs <- c.heapFreeBytes
	descs <- c.queueDepth
	descs <- c.taskDeadlineMiss
	descs <- c.taskRTJobs
	descs <- c.taskBGJobs
	descs <- c.taskState
	descs <- c.linkRTTSeconds
	descs <- c.linkRetransmits
	descs <- c.linkFramesSent
	descs <- c.linkFramesRecv
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	pcb := c.k.PCB()
	metrics <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue, float64(pcb.TickCount))
	metrics <- prometheus.MustNewConstMetric(c.contextSwitches, prometheus.CounterValue, float64(pcb.ContextSwitches))
	metrics <- prometheus.MustNewConstMetric(c.preemptions, prometheus.CounterValue, float64(pcb.Preemptions))
	metrics <- prometheus.MustNewConstMetric(c.heapFreeBytes, prometheus.GaugeValue, float64(c.k.HeapFree()))

	depths := c.k.QueueDepths()
	metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depths.RunQueue), "run")
	metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depths.RTQueue), "rt")
	metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depths.DelayQueue), "delay")
	metrics <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depths.AperiodicQueue), "aperiodic")

	for _, t := range c.k.Tasks() {
		metrics <- prometheus.MustNewConstMetric(c.taskDeadlineMiss, prometheus.CounterValue, float64(t.DeadlineMisses), t.Name)
		metrics <- prometheus.MustNewConstMetric(c.taskRTJobs, prometheus.CounterValue, float64(t.RTJobs), t.Name)
		metrics <- prometheus.MustNewConstMetric(c.taskBGJobs, prometheus.CounterValue, float64(t.BGJobs), t.Name)
		metrics <- prometheus.MustNewConstMetric(c.taskState, prometheus.GaugeValue, 1, t.Name, t.State.String())
	}

	for peerCPU, link := range c.k.NoC().Remotes() {
		sp, ok := link.(linkStatsProvider)
		if !ok {
			continue
		}
		peer := strconv.Itoa(peerCPU)
		stats := sp.Stats()
		metrics <- prometheus.MustNewConstMetric(c.linkRTTSeconds, prometheus.GaugeValue, stats.RTT.Seconds(), peer)
		metrics <- prometheus.MustNewConstMetric(c.linkRetransmits, prometheus.CounterValue, float64(stats.Retransmits), peer)
		metrics <- prometheus.MustNewConstMetric(c.linkFramesSent, prometheus.CounterValue, float64(stats.FramesSent), peer)
		metrics <- prometheus.MustNewConstMetric(c.linkFramesRecv, prometheus.CounterValue, float64(stats.FramesRecv), peer)
	}
}
