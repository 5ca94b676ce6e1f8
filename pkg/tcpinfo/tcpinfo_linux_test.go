//go:build linux

package tcpinfo

import (
	"net"
	"testing"

	"github.com/higebu/netfd"
)

func TestGetTCPInfoOnLoopbackConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptErr := make(chan error, 1)
	var server net.Conn
	go func() {
		var err error
		server, err = ln.Accept()
		acceptErr <- err
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if err := <-acceptErr; err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	fd := netfd.GetFdFromConn(client.(*net.TCPConn))
	sample, err := GetTCPInfo(uintptr(fd))
	if err != nil {
		t.Fatalf("GetTCPInfo: %v", err)
	}
	if sample.RTT < 0 {
		t.Fatalf("RTT should never be negative, got %v", sample.RTT)
	}
}

func TestSupportedOnLinux(t *testing.T) {
	if !Supported() {
		t.Fatal("Supported() should be true on linux")
	}
}
