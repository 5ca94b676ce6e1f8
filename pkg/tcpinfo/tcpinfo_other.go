//go:build !(linux || darwin || windows)

package tcpinfo

import (
	"fmt"
	"runtime"
)

func GetTCPInfo(fd uintptr) (Sample, error) {
	return Sample{}, fmt.Errorf("tcpinfo: %s is unsupported", runtime.GOOS)
}

func Supported() bool {
	return false
}
