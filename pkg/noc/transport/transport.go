// Package transport is the demo-only, out-of-process carrier for
// pkg/noc: a TCPLink moves noc.RemoteFrame values across a real
// net.Conn between two OS processes, standing in for the physical NoC
// fabric pkg/noc's in-process Network models for single-binary tests.
//
// TCPLink wraps a net.Conn the way a stats-tracking Conn wrapper
// does: every frame send/receive is tracked, and the
// link's health is sampled from the underlying socket's tcp_info via
// netfd.GetFdFromConn + pkg/tcpinfo.GetTCPInfo on open and close.
package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/higebu/netfd"

	"github.com/hellfireos/hellfireos/pkg/noc"
	"github.com/hellfireos/hellfireos/pkg/tcpinfo"
)

const maxFrameBytes = 1 << 20

// LinkState is the open/close event a ReportStatsFn is called with.
type LinkState int

const (
	LinkOpened LinkState = iota
	LinkClosed
)

// ReportStatsFn is invoked once when a link opens and once when it
// closes, with the accumulated link stats at that point.
type ReportStatsFn func(stats *LinkStats, state LinkState)

// LinkStats is the link-health snapshot pkg/metrics.Collector reports
// (via a Stats() method match, not a direct import of TCPLink) for any
// RemoteLink attached through Kernel.NoC().AttachRemote.
type LinkStats struct {
	LocalAddr, RemoteAddr string
	OpenedAt, ClosedAt    int64
	FramesSent, FramesRecv int64
	TxBytes, RxBytes      int64
	TxErr, RxErr          error
	RTT                   time.Duration
	Retransmits           uint64
	InfoErr               error
}

// TCPLink implements noc.RemoteLink over a real net.Conn (TCP, or any
// other stream net.Conn a test wants to substitute).
type TCPLink struct {
	conn         net.Conn
	reportStats  ReportStatsFn
	wmu          sync.Mutex
	stats        LinkStats
	statsMu      sync.Mutex
	supportsInfo bool
}

// NewTCPLink wraps an already-connected net.Conn. reportStats may be
// nil, in which case link health is tracked but never reported.
func NewTCPLink(conn net.Conn, reportStats ReportStatsFn) *TCPLink {
	l := &TCPLink{
		conn:         conn,
		reportStats:  reportStats,
		supportsInfo: tcpinfo.Supported(),
		stats: LinkStats{
			LocalAddr:  conn.LocalAddr().String(),
			RemoteAddr: conn.RemoteAddr().String(),
			OpenedAt:   time.Now().UnixNano(),
		},
	}
	l.gatherAndReport(LinkOpened)
	return l
}

// Dial opens a TCP connection to addr and wraps it as a TCPLink.
func Dial(addr string, reportStats ReportStatsFn) (*TCPLink, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewTCPLink(conn, reportStats), nil
}

// Accept wraps an already-accepted net.Conn (from a net.Listener) as a
// TCPLink, for the receiving half of a two-process demo.
func Accept(conn net.Conn, reportStats ReportStatsFn) *TCPLink {
	return NewTCPLink(conn, reportStats)
}

func (l *TCPLink) gatherAndReport(state LinkState) {
	l.statsMu.Lock()
	if l.supportsInfo {
		if tcpConn, ok := l.conn.(*net.TCPConn); ok {
			fd := netfd.GetFdFromConn(tcpConn)
			if sample, err := tcpinfo.GetTCPInfo(uintptr(fd)); err != nil {
				l.stats.InfoErr = err
			} else {
				l.stats.RTT = sample.RTT
				l.stats.Retransmits = sample.Retransmits
			}
		}
	}
	snapshot := l.stats
	l.statsMu.Unlock()

	if l.reportStats != nil {
		l.reportStats(&snapshot, state)
	}
}

// SendFrame serializes f as length-prefixed JSON and writes it to the
// underlying connection. Safe for concurrent use by multiple tasks'
// goroutines, unlike a bare net.Conn.Write race.
func (l *TCPLink) SendFrame(f noc.RemoteFrame) error {
	buf, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	if len(buf) > maxFrameBytes {
		return fmt.Errorf("transport: frame too large (%d bytes)", len(buf))
	}

	l.wmu.Lock()
	defer l.wmu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := l.conn.Write(hdr[:]); err != nil {
		l.trackTxErr(err)
		return fmt.Errorf("transport: write frame header: %w", err)
	}
	n, err := l.conn.Write(buf)
	l.trackTx(n, err)
	if err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// RecvFrame blocks until one complete frame arrives, or the connection
// errors (e.g. the peer closed it).
func (l *TCPLink) RecvFrame() (noc.RemoteFrame, error) {
	var hdr [4]byte
	if _, err := readFull(l.conn, hdr[:]); err != nil {
		l.trackRxErr(err)
		return noc.RemoteFrame{}, fmt.Errorf("transport: read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameBytes {
		return noc.RemoteFrame{}, fmt.Errorf("transport: peer frame too large (%d bytes)", size)
	}

	buf := make([]byte, size)
	n, err := readFull(l.conn, buf)
	l.trackRx(n, err)
	if err != nil {
		return noc.RemoteFrame{}, fmt.Errorf("transport: read frame body: %w", err)
	}

	var f noc.RemoteFrame
	if err := json.Unmarshal(buf, &f); err != nil {
		return noc.RemoteFrame{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	return f, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (l *TCPLink) trackTx(n int, err error) {
	l.statsMu.Lock()
	l.stats.TxBytes += int64(n)
	l.stats.FramesSent++
	if err != nil {
		l.stats.TxErr = err
	}
	l.statsMu.Unlock()
}

func (l *TCPLink) trackTxErr(err error) {
	l.statsMu.Lock()
	l.stats.TxErr = err
	l.statsMu.Unlock()
}

func (l *TCPLink) trackRx(n int, err error) {
	l.statsMu.Lock()
	l.stats.RxBytes += int64(n)
	l.stats.FramesRecv++
	if err != nil {
		l.stats.RxErr = err
	}
	l.statsMu.Unlock()
}

func (l *TCPLink) trackRxErr(err error) {
	l.statsMu.Lock()
	l.stats.RxErr = err
	l.statsMu.Unlock()
}

// Stats returns a snapshot of the link's current health.
func (l *TCPLink) Stats() LinkStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	return l.stats
}

// Close reports a final LinkClosed snapshot and closes the connection.
func (l *TCPLink) Close() error {
	l.statsMu.Lock()
	l.stats.ClosedAt = time.Now().UnixNano()
	l.statsMu.Unlock()
	l.gatherAndReport(LinkClosed)
	return l.conn.Close()
}
