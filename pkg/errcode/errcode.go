// Package errcode defines the small error taxonomy the kernel and its
// tasks use to report failures across the API surface: task admission,
// queue operations, heap allocation and NoC messaging all return one
// of these codes rather than an ad-hoc error type per package.
package errcode

import "fmt"

// Code is a kernel-wide error taxonomy. The zero value is OK, so a
// freshly zeroed Code reads as success.
type Code int

const (
	OK Code = iota
	NoSlot
	OOM
	BadParam
	Unschedulable
	CommDupPort
	CommNoMailbox
	CommTimeout
	CommNack
	CommBufferFull
)

var names = [...]string{
	OK:             "OK",
	NoSlot:         "NO_SLOT",
	OOM:            "OOM",
	BadParam:       "BAD_PARAM",
	Unschedulable:  "UNSCHEDULABLE",
	CommDupPort:    "COMM_DUP_PORT",
	CommNoMailbox:  "COMM_NO_MAILBOX",
	CommTimeout:    "COMM_TIMEOUT",
	CommNack:       "COMM_NACK",
	CommBufferFull: "COMM_BUFFER_FULL",
}

// String renders the symbolic name of the code, or a numeric fallback
// for an out-of-range value.
func (c Code) String() string {
	if int(c) >= 0 && int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("errcode.Code(%d)", int(c))
}

// Error implements the error interface so a Code can be returned and
// compared (errors.Is) like any other Go error, while still letting
// callers switch on the concrete code when they need to branch on it.
func (c Code) Error() string {
	return c.String()
}

// Ok reports whether c represents success.
func (c Code) Ok() bool {
	return c == OK
}
