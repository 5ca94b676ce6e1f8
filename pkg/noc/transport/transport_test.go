package transport

import (
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/hellfireos/hellfireos/pkg/noc"
)

func TestSendFrameRecvFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewTCPLink(client, nil)
	b := NewTCPLink(server, nil)

	f := noc.RemoteFrame{
		ID: "abc123", SrcCPU: 1, SrcPort: 5, SrcTask: 7,
		DstCPU: 2, DstPort: 5000, Channel: 3,
		Index: 0, Count: 1, Ack: false,
		Payload: []byte("hello over the wire"),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.SendFrame(f) }()

	got, err := b.RecvFrame()
	assert.NilError(t, err)
	assert.NilError(t, <-errCh)

	assert.Equal(t, got.ID, f.ID)
	assert.Equal(t, got.SrcCPU, f.SrcCPU)
	assert.Equal(t, got.DstPort, f.DstPort)
	assert.Equal(t, string(got.Payload), string(f.Payload))
}

func TestStatsTrackFramesAndBytes(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewTCPLink(client, nil)
	b := NewTCPLink(server, nil)

	f := noc.RemoteFrame{ID: "x", Payload: []byte("payload")}
	go func() { _ = a.SendFrame(f) }()
	_, err := b.RecvFrame()
	assert.NilError(t, err)

	txStats := a.Stats()
	assert.Equal(t, txStats.FramesSent, int64(1))
	assert.Assert(t, txStats.TxBytes > 0)

	rxStats := b.Stats()
	assert.Equal(t, rxStats.FramesRecv, int64(1))
	assert.Assert(t, rxStats.RxBytes > 0)
}

func TestReportStatsCalledOnOpenAndClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var states []LinkState
	link := NewTCPLink(client, func(stats *LinkStats, state LinkState) {
		states = append(states, state)
	})
	assert.NilError(t, link.Close())

	assert.Equal(t, len(states), 2)
	assert.Equal(t, states[0], LinkOpened)
	assert.Equal(t, states[1], LinkClosed)
}

func TestRecvFrameRejectsOversizedHeader(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	b := NewTCPLink(server, nil)

	go func() {
		hdr := []byte{0x7f, 0xff, 0xff, 0xff} // > maxFrameBytes
		_, _ = client.Write(hdr)
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.RecvFrame()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "too large")
	case <-time.After(time.Second):
		t.Fatal("RecvFrame never returned")
	}
}
