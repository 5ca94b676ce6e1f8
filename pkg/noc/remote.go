package noc

import (
	"fmt"

	"github.com/rs/xid"

	"github.com/hellfireos/hellfireos/pkg/version"
)

// RemoteFrame is the wire-safe, exported mirror of frame: the payload
// pkg/noc/transport actually carries between OS processes, since frame
// itself is kept unexported (Network.deliver never needs to cross a
// process boundary in the common in-process case).
//
// Handshake/Version/Nack are never set together with a data payload:
// Handshake frames carry only SrcCPU+Version (see AttachRemote) and
// Nack frames only ID+SrcCPU+DstCPU+DstPort (see receive's reassembly-full
// path), the same way Ack frames never carry a Payload.
type RemoteFrame struct {
	ID                       string
	SrcCPU, SrcPort, SrcTask int
	DstCPU, DstPort          int
	Channel                  int
	Index, Count             int
	Ack                      bool
	Nack                     bool
	Handshake                bool
	Version                  string
	Payload                  []byte
}

func toRemote(f frame) RemoteFrame {
	return RemoteFrame{
		ID: f.id.String(), SrcCPU: f.srcCPU, SrcPort: f.srcPort, SrcTask: f.srcTask,
		DstCPU: f.dstCPU, DstPort: f.dstPort, Channel: f.channel,
		Index: f.index, Count: f.count, Ack: f.ack, Nack: f.nack, Payload: f.payload,
	}
}

func fromRemote(r RemoteFrame) (frame, error) {
	id, err := xid.FromString(r.ID)
	if err != nil {
		return frame{}, fmt.Errorf("noc: bad remote frame id %q: %w", r.ID, err)
	}
	return frame{
		id: id, srcCPU: r.SrcCPU, srcPort: r.SrcPort, srcTask: r.SrcTask,
		dstCPU: r.DstCPU, dstPort: r.DstPort, channel: r.Channel,
		index: r.Index, count: r.Count, ack: r.Ack, nack: r.Nack, payload: r.Payload,
	}, nil
}

// RemoteLink is a carrier that moves RemoteFrames to and from another
// node running in its own OS process, implemented by
// pkg/noc/transport.TCPLink over a real net.Conn. It stands in for the
// physical NoC fabric the same way Network stands in for it in-process.
type RemoteLink interface {
	SendFrame(RemoteFrame) error
	RecvFrame() (RemoteFrame, error)
}

// AttachRemote routes frames bound for dstCPU over link instead of the
// in-process Network, and feeds frames read off link into this node's
// own receive path as if Network had delivered them locally. It starts
// one goroutine that pumps link.RecvFrame in a loop until it errors
// (link closed), so it must be called at most once per dstCPU.
//
// It also sends a one-shot handshake frame announcing this node's
// build, and records the peer's own handshake when it arrives, so
// receive's reassembly-full path can tell whether dstCPU understands
// FeatureNack before attempting to use it.
func (s *Subsystem) AttachRemote(dstCPU int, link RemoteLink) {
	s.mu.Lock()
	if s.remotes == nil {
		s.remotes = make(map[int]RemoteLink)
	}
	s.remotes[dstCPU] = link
	s.mu.Unlock()

	if err := link.SendFrame(RemoteFrame{Handshake: true, SrcCPU: s.cpuID, Version: version.Build}); err != nil {
		s.log.WithField("cpu", s.cpuID).WithError(err).Warn("noc: version handshake send failed")
	}

	go func() {
		for {
			rf, err := link.RecvFrame()
			if err != nil {
				return
			}
			if rf.Handshake {
				s.recordPeerVersion(rf.SrcCPU, rf.Version)
				continue
			}
			f, err := fromRemote(rf)
			if err != nil {
				s.log.WithField("cpu", s.cpuID).WithError(err).Warn("noc: dropping unparsable remote frame")
				continue
			}
			s.receive(f)
		}
	}()
}

func (s *Subsystem) recordPeerVersion(peerCPU int, build string) {
	s.mu.Lock()
	if s.peerVersions == nil {
		s.peerVersions = make(map[int]string)
	}
	s.peerVersions[peerCPU] = build
	s.mu.Unlock()
	s.log.WithField("cpu", s.cpuID).WithField("peer", peerCPU).WithField("peerVersion", build).Info("noc: peer version negotiated")
}

// peerSupportsNack reports whether dstCPU's negotiated build (via a
// handshake frame received through AttachRemote) implements
// version.FeatureNack. A peer this node has no handshake from yet
// (in-process Network peers never send one) is treated as not
// supporting it.
func (s *Subsystem) peerSupportsNack(peerCPU int) bool {
	s.mu.Lock()
	build, ok := s.peerVersions[peerCPU]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return version.SupportsString(build, version.FeatureNack)
}

// Remotes returns a snapshot of the dstCPU -> RemoteLink attachments
// made so far via AttachRemote, so callers outside this package (e.g.
// pkg/metrics) can report per-link health without this package having
// to know anything about Prometheus.
func (s *Subsystem) Remotes() map[int]RemoteLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]RemoteLink, len(s.remotes))
	for cpu, link := range s.remotes {
		out[cpu] = link
	}
	return out
}
