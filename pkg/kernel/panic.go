package kernel

import "fmt"

// PanicCode identifies why the kernel halted, the port of
// original_source's panic.h codes (PANIC_OOM and friends).
type PanicCode int

const (
	PanicUnknown PanicCode = iota
	PanicOOM
	PanicBootFailed
	PanicSchedulerInvariant
	PanicGPF
)

func (c PanicCode) String() string {
	switch c {
	case PanicOOM:
		return "PANIC_OOM"
	case PanicBootFailed:
		return "PANIC_BOOT_FAILED"
	case PanicSchedulerInvariant:
		return "PANIC_SCHEDULER_INVARIANT"
	case PanicGPF:
		return "PANIC_GPF"
	default:
		return "PANIC_UNKNOWN"
	}
}

// Panic is a fatal, unrecoverable kernel condition, equivalent to
// original_source's panic() halting the CPU. It is only ever recovered
// at the top of Run, which logs it and returns it as an error instead of
// crashing the process outright — the nearest idiomatic Go rendition of
// "halt" available to a library instead of a standalone kernel image.
type Panic struct {
	Code   PanicCode
	Detail string
}

func (p *Panic) Error() string {
	if p.Detail == "" {
		return fmt.Sprintf("kernel panic: %s", p.Code)
	}
	return fmt.Sprintf("kernel panic: %s: %s", p.Code, p.Detail)
}

func panicf(code PanicCode, format string, args ...any) {
	panic(&Panic{Code: code, Detail: fmt.Sprintf(format, args...)})
}
