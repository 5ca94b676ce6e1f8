//go:build darwin
// +build darwin

package tcpinfo

import (
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawInfo mirrors enough of xnu's struct tcp_connection_info
// (bsd/netinet/tcp.h) to read the average RTT and retransmitted-packet
// count; fields this package never reads are kept as blanks purely to
// preserve the kernel's struct layout for getsockopt(2).
type rawInfo struct {
	_                   uint8
	_                   uint8
	_                   uint8
	_                   uint8
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32
	_                   uint32 // tcpi_rttcur
	srtt                uint32 // tcpi_srtt: average RTT in ms
	_                   uint32
	_                   uint32 // tcpi_tfo_* bitfield
	_                   uint64
	_                   uint64
	_                   uint64
	_                   uint64
	_                   uint64
	_                   uint64
	txRetransmitPackets uint64
}

// GetTCPInfo samples tcp_connection_info for fd via
// getsockopt(IPPROTO_TCP, TCP_CONNECTION_INFO).
func GetTCPInfo(fd uintptr) (Sample, error) {
	var raw rawInfo
	length := uint32(unsafe.Sizeof(raw))

	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		fd,
		syscall.IPPROTO_TCP,
		unix.TCP_CONNECTION_INFO,
		uintptr(unsafe.Pointer(&raw)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errno != 0 {
		return Sample{}, errno
	}

	return Sample{
		RTT:         time.Duration(raw.srtt) * time.Millisecond,
		Retransmits: raw.txRetransmitPackets,
	}, nil
}

func Supported() bool {
	return true
}
