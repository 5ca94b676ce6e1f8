//go:build windows
// +build windows

package tcpinfo

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

// SIO_TCP_INFO is available to non-admins, as opposed to
// GetPerTcpConnectionEStats:
// https://learn.microsoft.com/en-us/windows/win32/api/iphlpapi/nf-iphlpapi-getpertcpconnectionestats
const sioTCPInfo = syscall.IOC_INOUT | syscall.IOC_VENDOR | 39

// rawInfoV0 mirrors enough of the Windows SDK's _TCP_INFO_v0
// (mstcpip.h) to read RTT and a retransmit count; fields this package
// never reads are kept as blanks purely to preserve the struct's
// layout for WSAIoctl.
type rawInfoV0 struct {
	_           uint32
	_           uint32
	_           uint64
	_           bool
	rttUs       uint32
	_           uint32
	_           uint32
	_           uint32
	_           uint32
	_           uint32
	_           uint32
	_           uint64
	_           uint64
	_           uint32
	_           uint32
	fastRetrans uint32
	_           uint32
	_           uint32
	_           uint8
}

// GetTCPInfo samples _TCP_INFO_v0 for fd via the SIO_TCP_INFO ioctl.
func GetTCPInfo(fd uintptr) (Sample, error) {
	var version uint32 // request _TCP_INFO_v0
	var out rawInfoV0
	var cbbr uint32
	var ov syscall.Overlapped

	if err := syscall.WSAIoctl(
		syscall.Handle(fd),
		sioTCPInfo,
		(*byte)(unsafe.Pointer(&version)),
		uint32(unsafe.Sizeof(version)),
		(*byte)(unsafe.Pointer(&out)),
		uint32(unsafe.Sizeof(out)),
		&cbbr,
		&ov,
		0,
	); err != nil {
		return Sample{}, fmt.Errorf("tcpinfo: WSAIoctl SIO_TCP_INFO: %w", err)
	}

	return Sample{
		RTT:         time.Duration(out.rttUs) * time.Microsecond,
		Retransmits: uint64(out.fastRetrans),
	}, nil
}

func Supported() bool {
	return true
}
