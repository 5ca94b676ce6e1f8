package metrics

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gotest.tools/v3/assert"

	"github.com/hellfireos/hellfireos/pkg/kernel"
	"github.com/hellfireos/hellfireos/pkg/noc"
	"github.com/hellfireos/hellfireos/pkg/noc/transport"
	"github.com/hellfireos/hellfireos/pkg/task"
)

// fakeRemoteLink is a minimal noc.RemoteLink that also implements
// linkStatsProvider, standing in for a real transport.TCPLink so link
// metrics can be exercised without a socket. RecvFrame errors
// immediately so AttachRemote's pump goroutine exits right away
// instead of blocking for the life of the test.
type fakeRemoteLink struct {
	stats transport.LinkStats
}

func (f *fakeRemoteLink) SendFrame(noc.RemoteFrame) error {
	return nil
}

func (f *fakeRemoteLink) RecvFrame() (noc.RemoteFrame, error) {
	return noc.RemoteFrame{}, io.EOF
}

func (f *fakeRemoteLink) Stats() transport.LinkStats {
	return f.stats
}

func collectAll(t *testing.T, c *Collector) []dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	var out []dto.Metric
	for m := range ch {
		var pb dto.Metric
		assert.NilError(t, m.Write(&pb))
		out = append(out, pb)
	}
	return out
}

func labelValue(m dto.Metric, name string) (string, bool) {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue(), true
		}
	}
	return "", false
}

func TestDescribeEmitsAllThirteenDescriptors(t *testing.T) {
	k, err := kernel.New(nil, kernel.WithCPUID(4))
	assert.NilError(t, err)
	c := NewCollector(k)

	descs := make(chan *prometheus.Desc, 16)
	c.Describe(descs)
	close(descs)

	var count int
	for range descs {
		count++
	}
	assert.Equal(t, count, 13)
}

func TestCollectReportsQueueDepthsAndHeapFree(t *testing.T) {
	k, err := kernel.New(nil, kernel.WithCPUID(4))
	assert.NilError(t, err)
	_, err = k.Spawn(func(ctx *task.Context) {}, 10, 2, 10, "probe", 256)
	assert.NilError(t, err)

	c := NewCollector(k)
	metrics := collectAll(t, c)

	var sawRunQueue, sawHeap bool
	for _, m := range metrics {
		if m.GetGauge() == nil {
			continue
		}
		if v, ok := labelValue(m, "queue"); ok && v == "run" {
			sawRunQueue = true
		}
	}
	for _, m := range metrics {
		if m.GetGauge() != nil && m.GetGauge().GetValue() == float64(k.HeapFree()) {
			sawHeap = true
		}
	}
	assert.Assert(t, sawRunQueue)
	assert.Assert(t, sawHeap)
}

func TestCollectReportsPerTaskLabels(t *testing.T) {
	k, err := kernel.New(nil, kernel.WithCPUID(4))
	assert.NilError(t, err)
	_, err = k.Spawn(func(ctx *task.Context) {}, 10, 2, 10, "labeled-task", 256)
	assert.NilError(t, err)

	c := NewCollector(k)
	metrics := collectAll(t, c)

	var found bool
	for _, m := range metrics {
		if v, ok := labelValue(m, "task"); ok && v == "labeled-task" {
			found = true
		}
	}
	assert.Assert(t, found)
}

func TestCollectReportsAttachedLinkHealth(t *testing.T) {
	k, err := kernel.New(nil, kernel.WithCPUID(4))
	assert.NilError(t, err)

	link := &fakeRemoteLink{stats: transport.LinkStats{
		RTT:         25 * time.Millisecond,
		Retransmits: 3,
		FramesSent:  10,
		FramesRecv:  9,
	}}
	k.NoC().AttachRemote(5, link)

	c := NewCollector(k)
	metrics := collectAll(t, c)

	var sawRTT, sawRetransmits bool
	for _, m := range metrics {
		peer, ok := labelValue(m, "peer")
		if !ok || peer != "5" {
			continue
		}
		if g := m.GetGauge(); g != nil && g.GetValue() == 0.025 {
			sawRTT = true
		}
		if ctr := m.GetCounter(); ctr != nil && ctr.GetValue() == 3 {
			sawRetransmits = true
		}
	}
	assert.Assert(t, sawRTT)
	assert.Assert(t, sawRetransmits)
}
