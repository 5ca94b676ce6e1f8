//go:build linux

package tcpinfo

import (
	"time"

	"golang.org/x/sys/unix"
)

// GetTCPInfo samples tcp_info for fd via
// getsockopt(IPPROTO_TCP, TCP_INFO). x/sys/unix already handles the
// 32-vs-64-bit socketcall distinction internally, so no per-arch
// variant is needed here.
func GetTCPInfo(fd uintptr) (Sample, error) {
	info, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		RTT:         time.Duration(info.Rtt) * time.Microsecond,
		Retransmits: uint64(info.Retransmits),
	}, nil
}

func Supported() bool {
	return true
}
