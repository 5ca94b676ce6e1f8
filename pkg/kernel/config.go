package kernel

import "github.com/sirupsen/logrus"

// Config bundles the boot-time parameters original_source's main.c hard
// codes into print_config()/init_queues(): queue depths, heap size, the
// node's own CPU id, and the polling server's period/capacity. Built
// via New with functional options, the same constructor style used
// throughout this codebase.
type Config struct {
	CPUID int

	MaxTasks           int
	RunQueueSize       int
	RTQueueSize        int
	DelayQueueSize     int
	AperiodicQueueSize int
	HeapSize           int

	PollingServerPeriod   int
	PollingServerCapacity int
	AperiodicGenerator    bool

	Logger logrus.FieldLogger
}

// defaultConfig mirrors original_source's boot-time constants: a modest
// task table and queue depths, a 64 KiB heap arena for task stacks, and
// the polling server spawned with period 20, capacity 6 (print_config()'s
// numbers, not the priority/capacity order main.c's hf_spawn call site
// actually uses).
func defaultConfig() Config {
	return Config{
		CPUID:                 0,
		MaxTasks:              32,
		RunQueueSize:          32,
		RTQueueSize:           32,
		DelayQueueSize:        32,
		AperiodicQueueSize:    16,
		HeapSize:              64 * 1024,
		PollingServerPeriod:   20,
		PollingServerCapacity: 6,
		AperiodicGenerator:    false,
		Logger:                logrus.StandardLogger(),
	}
}

// Option customizes a Config produced by New.
type Option func(*Config)

// WithCPUID sets the node's own CPU identity, returned by hf_cpuid().
func WithCPUID(id int) Option {
	return func(c *Config) { c.CPUID = id }
}

// WithMaxTasks bounds the number of concurrently live tasks.
func WithMaxTasks(n int) Option {
	return func(c *Config) { c.MaxTasks = n }
}

// WithHeapSize sets the byte size of the shared heap arena.
func WithHeapSize(n int) Option {
	return func(c *Config) { c.HeapSize = n }
}

// WithPollingServer overrides the polling server's period and capacity.
func WithPollingServer(period, capacity int) Option {
	return func(c *Config) { c.PollingServerPeriod = period; c.PollingServerCapacity = capacity }
}

// WithAperiodicGenerator enables original_source's aperiodic_task_generator
// demo task, which submits dummy aperiodic arrivals after delays taken
// from a fixed, repeating jitter sequence. It is
// disabled by default; production boots wire their own application
// aperiodic arrivals via Kernel.SubmitAperiodic.
func WithAperiodicGenerator(enabled bool) Option {
	return func(c *Config) { c.AperiodicGenerator = enabled }
}

// WithLogger overrides the default standard logrus logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = l }
}
