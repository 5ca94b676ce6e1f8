// Package noc implements the Network-on-Chip messaging layer:
// per-task mailboxes addressed by (cpu, port), unreliable Send/Recv,
// and reliable SendAck/RecvAck built on top of them with retry,
// timeout, reassembly and at-most-once delivery.
//
// Unlike pkg/kernel's single-token task dispatcher, the NoC genuinely
// spans independent, concurrently executing nodes — no global
// ordering of events across CPUs is assumed — so this package uses
// ordinary Go concurrency — goroutines, mutexes, timers — instead of the
// baton handoff. A task waiting on Recv/RecvAck/SendAck still gives up
// its own node's CPU while it waits, via the Blocker it was given.
package noc

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/hellfireos/hellfireos/pkg/errcode"
	"github.com/hellfireos/hellfireos/pkg/version"
)

// Defaults mirror original_source's fixed NoC frame size and a modest
// reassembly table depth.
const (
	DefaultFrameSize       = 128
	DefaultReassemblyDepth = 8
	DefaultRetryLimit      = 3
)

// Blocker suspends/resumes the calling task's goroutine on its own
// node, implemented by *kernel.Kernel. pkg/noc cannot import pkg/kernel
// (kernel imports noc), so this interface carries the dependency, the
// same pattern task.ControlPlane uses.
type Blocker interface {
	Block(taskID int)
	Unblock(taskID int)
}

type frame struct {
	id                       xid.ID
	srcCPU, srcPort, srcTask int
	dstCPU, dstPort          int
	channel                  int
	index, count             int
	ack                      bool
	nack                     bool
	payload                  []byte
}

type mailbox struct {
	taskID  int
	port    int
	pending chan reassembled
	stash   []reassembled
}

type reassembled struct {
	id                xid.ID
	srcCPU, srcTask   int
	srcPort, channel  int
	buf               []byte
}

type reassemblyKey struct {
	srcCPU, srcTask, channel int
}

type reassemblyState struct {
	id        xid.ID
	fragments [][]byte
	total     int
	have      int
}

type ackWait struct {
	taskID int
	done   chan struct{}
	nacked bool
}

// Network is a shared in-process fabric connecting multiple Subsystems,
// the loopback analogue of the physical NoC mesh: a test or single-
// process demo builds one Network and attaches one Subsystem per
// simulated node instead of opening real sockets. pkg/noc/transport
// provides TCPLink, a real-socket RemoteLink, for out-of-process
// deployment.
type Network struct {
	mu    sync.Mutex
	nodes map[int]*Subsystem
}

// NewNetwork builds an empty in-process NoC fabric.
func NewNetwork() *Network {
	return &Network{nodes: make(map[int]*Subsystem)}
}

func (n *Network) attach(cpuID int, s *Subsystem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[cpuID] = s
}

func (n *Network) deliver(f frame) error {
	n.mu.Lock()
	dst, ok := n.nodes[f.dstCPU]
	n.mu.Unlock()
	if !ok {
		return errcode.CommNoMailbox
	}
	dst.receive(f)
	return nil
}

// Subsystem is one node's messaging layer: the mailbox table,
// reassembly buffers and the reliable sendack/recvack protocol.
type Subsystem struct {
	cpuID   int
	blocker Blocker
	log     logrus.FieldLogger
	network *Network

	frameSize       int
	reassemblyDepth int
	retryLimit      int

	mu           sync.Mutex
	mailboxes    map[int]*mailbox // taskID -> mailbox
	portOwner    map[int]int      // port -> taskID
	reassembly   map[reassemblyKey]*reassemblyState
	completed    map[xid.ID]bool
	ackWaiters   map[xid.ID]*ackWait
	remotes      map[int]RemoteLink // dstCPU -> out-of-process carrier
	peerVersions map[int]string     // dstCPU -> negotiated build, set by AttachRemote's handshake
}

// New builds a node's NoC subsystem and attaches it to network under
// cpuID. log may be nil, in which case logrus.StandardLogger() is used.
func New(cpuID int, blocker Blocker, network *Network, log logrus.FieldLogger) *Subsystem {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Subsystem{
		cpuID:           cpuID,
		blocker:         blocker,
		log:             log,
		network:         network,
		frameSize:       DefaultFrameSize,
		reassemblyDepth: DefaultReassemblyDepth,
		retryLimit:      DefaultRetryLimit,
		mailboxes:       make(map[int]*mailbox),
		portOwner:       make(map[int]int),
		reassembly:      make(map[reassemblyKey]*reassemblyState),
		completed:       make(map[xid.ID]bool),
		ackWaiters:      make(map[xid.ID]*ackWait),
	}
	network.attach(cpuID, s)
	return s
}

// CommCreate registers taskID's mailbox at port. flags is carried for
// parity with the original API but currently unused by this port (no
// distinct blocking/non-blocking comm modes are implemented;
// Recv/RecvAck always block via Blocker).
func (s *Subsystem) CommCreate(taskID, port, flags int) error {
	_ = flags
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.portOwner[port]; exists {
		return errcode.CommDupPort
	}
	s.portOwner[port] = taskID
	s.mailboxes[taskID] = &mailbox{
		taskID:  taskID,
		port:    port,
		pending: make(chan reassembled, s.reassemblyDepth),
	}
	return nil
}

func (s *Subsystem) fragments(taskID, dstCPU, dstPort int, buf []byte, channel int) []frame {
	s.mu.Lock()
	mb := s.mailboxes[taskID]
	s.mu.Unlock()
	srcPort := -1
	if mb != nil {
		srcPort = mb.port
	}

	id := xid.New()
	count := (len(buf) + s.frameSize - 1) / s.frameSize
	if count == 0 {
		count = 1
	}
	out := make([]frame, 0, count)
	for i := 0; i < count; i++ {
		start := i * s.frameSize
		end := start + s.frameSize
		if end > len(buf) {
			end = len(buf)
		}
		out = append(out, frame{
			id: id, srcCPU: s.cpuID, srcPort: srcPort, srcTask: taskID,
			dstCPU: dstCPU, dstPort: dstPort, channel: channel,
			index: i, count: count,
			payload: append([]byte(nil), buf[start:end]...),
		})
	}
	return out
}

// Send transmits buf to (dstCPU, dstPort) without acknowledgement
// (hf_send).
func (s *Subsystem) Send(taskID, dstCPU, dstPort int, buf []byte, channel int) error {
	for _, f := range s.fragments(taskID, dstCPU, dstPort, buf, channel) {
		if err := s.route(f); err != nil {
			return err
		}
	}
	return nil
}

// route delivers f to dstCPU, either across the in-process Network or,
// if AttachRemote registered a carrier for that destination, across the
// real link pkg/noc/transport maintains to that node's own process.
func (s *Subsystem) route(f frame) error {
	s.mu.Lock()
	link, ok := s.remotes[f.dstCPU]
	s.mu.Unlock()
	if ok {
		return link.SendFrame(toRemote(f))
	}
	return s.network.deliver(f)
}

// Recv blocks until a message for channel has fully reassembled in
// taskID's mailbox (hf_recv).
func (s *Subsystem) Recv(taskID, channel int) (int, int, []byte, error) {
	return s.recv(taskID, channel, false)
}

// RecvAck behaves like Recv, then sends an ack frame back to the
// sender (hf_recvack).
func (s *Subsystem) RecvAck(taskID, channel int) (int, int, []byte, error) {
	return s.recv(taskID, channel, true)
}

func (s *Subsystem) recv(taskID, channel int, ackBack bool) (int, int, []byte, error) {
	s.mu.Lock()
	mb, ok := s.mailboxes[taskID]
	s.mu.Unlock()
	if !ok {
		return 0, 0, nil, errcode.CommNoMailbox
	}

	for {
		s.mu.Lock()
		for i, r := range mb.stash {
			if r.channel == channel {
				mb.stash = append(mb.stash[:i], mb.stash[i+1:]...)
				s.mu.Unlock()
				if ackBack {
					s.sendAckFrame(r)
				}
				return r.srcCPU, r.srcTask, r.buf, nil
			}
		}
		s.mu.Unlock()

		select {
		case r := <-mb.pending:
			if r.channel == channel {
				if ackBack {
					s.sendAckFrame(r)
				}
				return r.srcCPU, r.srcTask, r.buf, nil
			}
			s.mu.Lock()
			mb.stash = append(mb.stash, r)
			s.mu.Unlock()
		default:
			s.blocker.Block(taskID)
		}
	}
}

func (s *Subsystem) sendAckFrame(r reassembled) {
	f := frame{id: r.id, ack: true, srcCPU: s.cpuID, dstCPU: r.srcCPU, dstPort: r.srcPort}
	_ = s.route(f)
}

// SendAck transmits buf reliably: it retries up to retryLimit times,
// waiting up to timeoutMS per attempt for the peer's ack, and gives up
// with errcode.CommTimeout once attempts are exhausted (hf_sendack).
func (s *Subsystem) SendAck(taskID, dstCPU, dstPort int, buf []byte, channel, timeoutMS int) error {
	frames := s.fragments(taskID, dstCPU, dstPort, buf, channel)
	if len(frames) == 0 {
		return nil
	}
	id := frames[0].id

attempts:
	for attempt := 0; attempt <= s.retryLimit; attempt++ {
		w := &ackWait{taskID: taskID, done: make(chan struct{}, 1)}
		s.mu.Lock()
		s.ackWaiters[id] = w
		s.mu.Unlock()

		for _, f := range frames {
			if err := s.route(f); err != nil {
				s.forgetAckWaiter(id)
				return err
			}
		}

		timedOut := make(chan struct{})
		timer := time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
			close(timedOut)
			s.blocker.Unblock(taskID)
		})

		for {
			select {
			case <-w.done:
				timer.Stop()
				s.mu.Lock()
				nacked := w.nacked
				s.mu.Unlock()
				s.forgetAckWaiter(id)
				if nacked {
					return errcode.CommNack
				}
				return nil
			case <-timedOut:
				s.forgetAckWaiter(id)
				continue attempts
			default:
				s.blocker.Block(taskID)
			}
		}
	}
	return errcode.CommTimeout
}

func (s *Subsystem) forgetAckWaiter(id xid.ID) {
	s.mu.Lock()
	delete(s.ackWaiters, id)
	s.mu.Unlock()
}

func (s *Subsystem) handleAck(f frame) {
	s.mu.Lock()
	w, ok := s.ackWaiters[f.id]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.done <- struct{}{}:
	default:
	}
	s.blocker.Unblock(w.taskID)
}

// handleNack fails the matching SendAck attempt immediately instead of
// letting it run out the clock on a peer that has already said no:
// the sender gets errcode.CommNack rather than errcode.CommTimeout,
// and a waiting task is unblocked right away.
func (s *Subsystem) handleNack(f frame) {
	s.mu.Lock()
	w, ok := s.ackWaiters[f.id]
	if ok {
		w.nacked = true
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case w.done <- struct{}{}:
	default:
	}
	s.blocker.Unblock(w.taskID)
}

// receive is called by Network.deliver, potentially from any node's
// goroutine, whenever a frame arrives for this node.
func (s *Subsystem) receive(f frame) {
	if f.ack {
		s.handleAck(f)
		return
	}
	if f.nack {
		s.handleNack(f)
		return
	}

	s.mu.Lock()
	if s.completed[f.id] {
		s.mu.Unlock()
		return // already delivered once; at-most-once delivery
	}
	taskID, owned := s.portOwner[f.dstPort]
	if !owned {
		s.mu.Unlock()
		return
	}
	mb := s.mailboxes[taskID]

	key := reassemblyKey{f.srcCPU, f.srcTask, f.channel}
	st, ok := s.reassembly[key]
	if !ok || st.id != f.id {
		if !ok && len(s.reassembly) >= s.reassemblyDepth {
			s.mu.Unlock()
			s.log.WithField("cpu", s.cpuID).WithField("reason", errcode.CommBufferFull.String()).Warn("noc: reassembly table full, dropping frame")
			if s.peerSupportsNack(f.srcCPU) {
				nack := frame{id: f.id, nack: true, srcCPU: s.cpuID, dstCPU: f.srcCPU, dstPort: f.srcPort}
				if err := s.route(nack); err != nil {
					s.log.WithField("cpu", s.cpuID).WithError(err).Warn("noc: failed to send nack")
				}
			}
			return
		}
		st = &reassemblyState{id: f.id, fragments: make([][]byte, f.count), total: f.count}
		s.reassembly[key] = st
	}
	if f.index >= 0 && f.index < len(st.fragments) && st.fragments[f.index] == nil {
		st.fragments[f.index] = f.payload
		st.have++
	}
	done := st.have >= st.total

	var msg reassembled
	if done {
		var full []byte
		for _, frag := range st.fragments {
			full = append(full, frag...)
		}
		delete(s.reassembly, key)
		s.completed[f.id] = true
		msg = reassembled{
			id: f.id, srcCPU: f.srcCPU, srcTask: f.srcTask, srcPort: f.srcPort,
			channel: f.channel, buf: full,
		}
	}
	s.mu.Unlock()

	if !done {
		return
	}
	select {
	case mb.pending <- msg:
	default:
		s.log.WithField("cpu", s.cpuID).Warn("noc: mailbox full, dropping completed message")
		return
	}
	s.blocker.Unblock(taskID)
}
