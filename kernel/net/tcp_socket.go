package net

import (
	"corekernel/kernel"
	"corekernel/kernel/rtc"
	"corekernel/kernel/sync"
	"corekernel/kernel/task"
)

// TCPState is one of the eleven RFC 793 connection states.
type TCPState int

const (
	TCPClosed TCPState = iota
	TCPListen
	TCPSynSent
	TCPSynReceived
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

func (s TCPState) String() string {
	switch s {
	case TCPClosed:
		return "Closed"
	case TCPListen:
		return "Listen"
	case TCPSynSent:
		return "SynSent"
	case TCPSynReceived:
		return "SynReceived"
	case TCPEstablished:
		return "Established"
	case TCPFinWait1:
		return "FinWait1"
	case TCPFinWait2:
		return "FinWait2"
	case TCPCloseWait:
		return "CloseWait"
	case TCPClosing:
		return "Closing"
	case TCPLastAck:
		return "LastAck"
	case TCPTimeWait:
		return "TimeWait"
	default:
		return "Unknown"
	}
}

// timeWaitTicks approximates 2*MSL: one tick per timer IRQ at the PIT's
// default rate of about 18.2 Hz, so 1100 ticks is about 60 seconds.
const timeWaitTicks = 1100

var (
	errTCPConnRefused = &kernel.Error{Module: "net", Message: "connection refused"}
	errTCPConnReset   = &kernel.Error{Module: "net", Message: "connection reset"}
	errTCPPortInUse   = &kernel.Error{Module: "net", Message: "tcp port already bound"}
	errTCPNoHandle    = &kernel.Error{Module: "net", Message: "unknown tcp socket handle"}
	errTCPNoPorts     = &kernel.Error{Module: "net", Message: "no ephemeral tcp ports available"}
)

// TCPHandle identifies a socket or listener within a TCPStack, breaking
// the socket/listener/accept-queue reference cycle the state machine
// would otherwise form by identifying peers by pointer.
type TCPHandle uint32

// Endpoint is an IP/port pair.
type Endpoint struct {
	IP   IPv4
	Port uint16
}

// TCPSocket is one RFC 793 connection: the {local_endpoint, remote_endpoint,
// state, send_buffer, receive_buffer, snd_una, snd_nxt, snd_wnd, rcv_nxt,
// rcv_wnd, iss, irs, cwnd, ssthresh, dup_ack_count} record.
type TCPSocket struct {
	handle TCPHandle
	local  Endpoint
	remote Endpoint
	state  TCPState

	lock sync.Spinlock

	sendBuf []byte // bytes queued by the user, not yet sent
	recvBuf []byte // bytes delivered to the user's next recv

	sndUna uint32
	sndNxt uint32
	sndWnd uint32
	rcvNxt uint32
	rcvWnd uint32
	iss    uint32
	irs    uint32

	cc *congestionControl

	unacked        []byte // oldest unacknowledged segment, for retransmission
	unackedSeq     uint32
	unackedSentAt  uint64 // tick the current unacked segment was first sent
	retransmitted  bool   // true once unacked has been resent at least once
	rtoDeadline    uint64
	rtoArmed       bool
	timeWaitUntil  uint64
	peerClosed     bool
	lastErr        *kernel.Error

	readable   waiter
	writable   waiter
	connected  waiter

	stack *TCPStack
}

// listener owns its accept queue, per the cyclic-structure note: sockets
// never point back at a listener, only the stack's registry does.
type listener struct {
	port         uint16
	backlog      []TCPHandle
	acceptWaiter waiter
}

// TCPStack owns every socket and listener for one interface, keyed by
// stable handles so state-machine code never carries raw pointers between
// peers.
type TCPStack struct {
	lock       sync.Spinlock
	sockets    map[TCPHandle]*TCPSocket
	listeners  map[uint16]*listener
	byQuad     map[Endpoint]map[Endpoint]TCPHandle
	nextHandle TCPHandle
	localIP    IPv4
	localMTU   int
	send       func(dst IPv4, protocol uint8, payload []byte) *kernel.Error
	drops      *Counters
}

// NewTCPStack constructs a stack bound to localIP, transmitting IP
// datagrams via send and advertising an MSS derived from mtu.
func NewTCPStack(localIP IPv4, mtu int, send func(dst IPv4, protocol uint8, payload []byte) *kernel.Error, counters *Counters) *TCPStack {
	return &TCPStack{
		sockets:   make(map[TCPHandle]*TCPSocket),
		listeners: make(map[uint16]*listener),
		byQuad:    make(map[Endpoint]map[Endpoint]TCPHandle),
		localIP:   localIP,
		localMTU:  mtu,
		send:      send,
		drops:     counters,
	}
}

func (s *TCPStack) mss() uint16 {
	m := s.localMTU - ipv4MinHeaderSize - tcpMinHeaderSize
	if m <= 0 || m > DefaultMSS {
		return DefaultMSS
	}
	return uint16(m)
}

// generateISN mixes the RTC tick counter with the connection's endpoint
// tuple via a simple multiplicative hash, an explicit resolution of
// spec.md's "mixing function is unspecified" open question: a one-way
// function of RTC ticks and the four-tuple, cheap enough for a
// non-cryptographic ISN.
func generateISN(local, remote Endpoint) uint32 {
	h := uint32(rtc.NowTicks())
	mix := func(v uint32) {
		h ^= v
		h *= 2654435761 // Knuth's multiplicative hash constant
	}
	mix(uint32(local.IP[0])<<24 | uint32(local.IP[1])<<16 | uint32(local.IP[2])<<8 | uint32(local.IP[3]))
	mix(uint32(local.Port)<<16 | uint32(remote.Port))
	mix(uint32(remote.IP[0])<<24 | uint32(remote.IP[1])<<16 | uint32(remote.IP[2])<<8 | uint32(remote.IP[3]))
	return h
}

// Listen creates a listener bound to port. Its backlog has no capacity
// limit: every new SYN to the port adds a connection to it.
func (s *TCPStack) Listen(port uint16) (TCPHandle, *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()
	if _, exists := s.listeners[port]; exists {
		return 0, errTCPPortInUse
	}
	s.listeners[port] = &listener{port: port}
	s.nextHandle++
	h := s.nextHandle
	s.sockets[h] = &TCPSocket{handle: h, local: Endpoint{IP: s.localIP, Port: port}, state: TCPListen, stack: s}
	return h, nil
}

// Accept drains the oldest completed connection from a listener's backlog.
func (s *TCPStack) Accept(listenerHandle TCPHandle) (TCPHandle, bool) {
	s.lock.Acquire()
	sock, ok := s.sockets[listenerHandle]
	if !ok || sock.state != TCPListen {
		s.lock.Release()
		return 0, false
	}
	port := sock.local.Port
	l := s.listeners[port]
	if l == nil || len(l.backlog) == 0 {
		s.lock.Release()
		return 0, false
	}
	h := l.backlog[0]
	l.backlog = l.backlog[1:]
	s.lock.Release()
	return h, true
}

// AcceptFuture adapts Accept to the executor's Future contract.
type AcceptFuture struct {
	stack    *TCPStack
	listener TCPHandle
	Accepted TCPHandle
}

func NewAcceptFuture(stack *TCPStack, listenerHandle TCPHandle) *AcceptFuture {
	return &AcceptFuture{stack: stack, listener: listenerHandle}
}

func (f *AcceptFuture) Poll(waker *task.Waker) task.PollResult {
	if h, ok := f.stack.Accept(f.listener); ok {
		f.Accepted = h
		return task.Ready
	}
	f.stack.lock.Acquire()
	if sock, ok := f.stack.sockets[f.listener]; ok {
		if l := f.stack.listeners[sock.local.Port]; l != nil {
			l.acceptWaiter.register(waker)
		}
	}
	f.stack.lock.Release()
	return task.Pending
}

// Connect starts an active open to remote, transmitting the initial SYN
// immediately and returning a handle whose state resolves to Established
// (or Closed, on refusal) as segments arrive.
func (s *TCPStack) Connect(remote Endpoint) (TCPHandle, *kernel.Error) {
	s.lock.Acquire()
	local := Endpoint{IP: s.localIP, Port: 0}
	port, err := s.allocateEphemeralLocked()
	if err != nil {
		s.lock.Release()
		return 0, err
	}
	local.Port = port

	s.nextHandle++
	h := s.nextHandle
	sock := &TCPSocket{
		handle: h,
		local:  local,
		remote: remote,
		state:  TCPSynSent,
		iss:    generateISN(local, remote),
		sndWnd: 0,
		rcvWnd: 4096,
		cc:     newCongestionControl(),
		stack:  s,
	}
	sock.sndUna = sock.iss
	sock.sndNxt = sock.iss + 1
	s.sockets[h] = sock
	if s.byQuad[local] == nil {
		s.byQuad[local] = make(map[Endpoint]TCPHandle)
	}
	s.byQuad[local][remote] = h
	s.lock.Release()

	s.sendSegment(sock, TCPFlagSYN, sock.iss, 0, nil, s.mss())
	return h, nil
}

var tcpNextEphemeral uint16 = EphemeralPortStart

func (s *TCPStack) allocateEphemeralLocked() (uint16, *kernel.Error) {
	start := tcpNextEphemeral
	for {
		candidate := tcpNextEphemeral
		if tcpNextEphemeral == EphemeralPortEnd {
			tcpNextEphemeral = EphemeralPortStart
		} else {
			tcpNextEphemeral++
		}
		inUse := false
		for local := range s.byQuad {
			if local.Port == candidate {
				inUse = true
				break
			}
		}
		if !inUse {
			return candidate, nil
		}
		if tcpNextEphemeral == start {
			return 0, errTCPNoPorts
		}
	}
}

// sendRST replies to a segment with no matching connection or listener, per
// RFC 793: seq 0, ack set to the peer's sequence number plus one, no
// payload. Grounded on original_source/net/tcp.rs's unmatched-segment branch
// (`"No connection found, sending RST"`).
func (s *TCPStack) sendRST(local, remote Endpoint, peerSeq uint32) {
	h := TCPHeader{
		SrcPort: local.Port, DestPort: remote.Port,
		SeqNum: 0, AckNum: peerSeq + 1,
		Flags: TCPFlagRST | TCPFlagACK,
	}
	buf := make([]byte, tcpMinHeaderSize)
	n, err := h.Build(s.localIP, remote.IP, buf)
	if err != nil {
		return
	}
	s.send(remote.IP, ProtocolTCP, buf[:n])
}

func (s *TCPStack) sendSegment(sock *TCPSocket, flags uint8, seq, ack uint32, payload []byte, mss uint16) {
	h := TCPHeader{
		SrcPort: sock.local.Port, DestPort: sock.remote.Port,
		SeqNum: seq, AckNum: ack, Flags: flags,
		WindowSize: uint16(sock.rcvWnd), Payload: payload,
	}
	if flags&TCPFlagSYN != 0 {
		h.MSS = mss
	}
	buf := make([]byte, tcpMinHeaderSize+4+len(payload))
	n, err := h.Build(s.localIP, sock.remote.IP, buf)
	if err != nil {
		return
	}
	s.send(sock.remote.IP, ProtocolTCP, buf[:n])
}

// Socket returns the socket for handle, if it still exists.
func (s *TCPStack) Socket(h TCPHandle) (*TCPSocket, bool) {
	s.lock.Acquire()
	defer s.lock.Release()
	sock, ok := s.sockets[h]
	return sock, ok
}

// State returns the socket's current state.
func (sock *TCPSocket) State() TCPState {
	sock.lock.Acquire()
	defer sock.lock.Release()
	return sock.state
}

func (sock *TCPSocket) setState(next TCPState) {
	sock.state = next
	if next == TCPEstablished {
		sock.connected.wake()
	}
}

// Deliver processes one incoming segment addressed to this connection,
// implementing the transition table from spec.md 4.7. It is called by
// TCPStack.Dispatch with the stack lock already released.
func (sock *TCPSocket) Deliver(seg TCPHeader) {
	sock.lock.Acquire()
	defer sock.lock.Release()

	if seg.Flags&TCPFlagRST != 0 {
		sock.state = TCPClosed
		sock.lastErr = errTCPConnReset
		sock.readable.wake()
		sock.writable.wake()
		sock.connected.wake()
		return
	}

	switch sock.state {
	case TCPListen:
		if seg.Flags&TCPFlagSYN != 0 {
			sock.irs = seg.SeqNum
			sock.rcvNxt = seg.SeqNum + 1
			sock.state = TCPSynReceived
			sock.stack.sendSegment(sock, TCPFlagSYN|TCPFlagACK, sock.iss, sock.rcvNxt, nil, sock.stack.mss())
		}

	case TCPSynSent:
		if seg.Flags&TCPFlagSYN != 0 && seg.Flags&TCPFlagACK != 0 && seg.AckNum == sock.sndNxt {
			sock.irs = seg.SeqNum
			sock.rcvNxt = seg.SeqNum + 1
			sock.sndUna = seg.AckNum
			sock.sndWnd = uint32(seg.WindowSize)
			sock.setState(TCPEstablished)
			sock.stack.sendSegment(sock, TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		} else if seg.Flags&TCPFlagSYN != 0 {
			sock.irs = seg.SeqNum
			sock.rcvNxt = seg.SeqNum + 1
			sock.state = TCPSynReceived
			sock.stack.sendSegment(sock, TCPFlagSYN|TCPFlagACK, sock.iss, sock.rcvNxt, nil, sock.stack.mss())
		}

	case TCPSynReceived:
		if seg.Flags&TCPFlagACK != 0 && seg.AckNum == sock.sndNxt {
			sock.sndUna = seg.AckNum
			sock.sndWnd = uint32(seg.WindowSize)
			sock.setState(TCPEstablished)
		}

	case TCPEstablished:
		sock.handleEstablishedSegment(seg)

	case TCPFinWait1:
		if seg.Flags&TCPFlagACK != 0 && seg.AckNum == sock.sndNxt {
			sock.state = TCPFinWait2
		}
		if seg.Flags&TCPFlagFIN != 0 {
			sock.rcvNxt = seg.SeqNum + 1
			sock.state = TCPClosing
			sock.stack.sendSegment(sock, TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		}

	case TCPFinWait2:
		if seg.Flags&TCPFlagFIN != 0 {
			sock.rcvNxt = seg.SeqNum + 1
			sock.state = TCPTimeWait
			sock.timeWaitUntil = rtc.NowTicks() + timeWaitTicks
			sock.stack.sendSegment(sock, TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		}

	case TCPClosing:
		if seg.Flags&TCPFlagACK != 0 && seg.AckNum == sock.sndNxt {
			sock.state = TCPTimeWait
			sock.timeWaitUntil = rtc.NowTicks() + timeWaitTicks
		}

	case TCPLastAck:
		if seg.Flags&TCPFlagACK != 0 && seg.AckNum == sock.sndNxt {
			sock.state = TCPClosed
		}
	}
}

func (sock *TCPSocket) handleEstablishedSegment(seg TCPHeader) {
	if seg.Flags&TCPFlagACK != 0 {
		if seg.AckNum == sock.sndUna {
			if len(sock.unacked) > 0 && sock.cc.onDuplicateACK() {
				sock.stack.sendSegment(sock, TCPFlagACK|TCPFlagPSH, sock.unackedSeq, sock.rcvNxt, sock.unacked, 0)
				sock.retransmitted = true
			}
		} else if seg.AckNum > sock.sndUna {
			acked := seg.AckNum - sock.sndUna
			sock.sndUna = seg.AckNum
			sock.cc.onACK(acked)
			if !sock.retransmitted && len(sock.unacked) > 0 {
				sock.cc.updateRTT(int64(rtc.NowTicks() - sock.unackedSentAt))
			}
			sock.rtoArmed = false
			sock.unacked = nil
			sock.writable.wake()
		}
		sock.sndWnd = uint32(seg.WindowSize)
	}

	if len(seg.Payload) > 0 && seg.SeqNum == sock.rcvNxt {
		sock.recvBuf = append(sock.recvBuf, seg.Payload...)
		sock.rcvNxt += uint32(len(seg.Payload))
		sock.stack.sendSegment(sock, TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		sock.readable.wake()
	}

	if seg.Flags&TCPFlagFIN != 0 {
		sock.rcvNxt = seg.SeqNum + 1
		sock.peerClosed = true
		sock.state = TCPCloseWait
		sock.stack.sendSegment(sock, TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		sock.readable.wake()
	}
}

// PollTimers checks the RTO deadline and, in TimeWait, the 2*MSL drain
// deadline; called once per tick by the network task.
func (sock *TCPSocket) PollTimers() {
	sock.lock.Acquire()
	defer sock.lock.Release()

	now := rtc.NowTicks()
	if sock.state == TCPTimeWait && now >= sock.timeWaitUntil {
		sock.state = TCPClosed
		return
	}
	if sock.rtoArmed && now >= sock.rtoDeadline && len(sock.unacked) > 0 {
		sock.cc.onRTO()
		if sock.stack.drops != nil {
			sock.stack.drops.IncTCPRetransmit()
		}
		sock.stack.sendSegment(sock, TCPFlagACK|TCPFlagPSH, sock.unackedSeq, sock.rcvNxt, sock.unacked, 0)
		sock.retransmitted = true
		sock.rtoDeadline = now + uint64(sock.cc.rto)
	}
}

// Send enqueues data for transmission, sending immediately what the
// current window and cwnd allow.
func (sock *TCPSocket) Send(data []byte) *kernel.Error {
	sock.lock.Acquire()
	defer sock.lock.Release()
	if sock.state != TCPEstablished && sock.state != TCPCloseWait {
		return errTCPConnReset
	}
	sock.sendBuf = append(sock.sendBuf, data...)
	sock.flushLocked()
	return nil
}

func (sock *TCPSocket) flushLocked() {
	if len(sock.unacked) > 0 || len(sock.sendBuf) == 0 {
		return
	}
	window := sock.sndWnd
	if sock.cc.cwnd < window {
		window = sock.cc.cwnd
	}
	if window == 0 {
		return
	}
	n := uint32(len(sock.sendBuf))
	if n > window {
		n = window
	}
	if n > uint32(DefaultMSS) {
		n = uint32(DefaultMSS)
	}
	segment := sock.sendBuf[:n]
	sock.stack.sendSegment(sock, TCPFlagACK|TCPFlagPSH, sock.sndNxt, sock.rcvNxt, segment, 0)
	sock.unacked = append([]byte(nil), segment...)
	sock.unackedSeq = sock.sndNxt
	sock.unackedSentAt = rtc.NowTicks()
	sock.retransmitted = false
	sock.sndNxt += n
	sock.sendBuf = sock.sendBuf[n:]
	sock.rtoArmed = true
	sock.rtoDeadline = rtc.NowTicks() + uint64(sock.cc.rto)
}

// Recv drains up to max bytes from the receive buffer.
func (sock *TCPSocket) Recv(max int) ([]byte, bool) {
	sock.lock.Acquire()
	defer sock.lock.Release()
	if len(sock.recvBuf) == 0 {
		return nil, sock.peerClosed || sock.state == TCPClosed
	}
	n := max
	if n > len(sock.recvBuf) {
		n = len(sock.recvBuf)
	}
	out := sock.recvBuf[:n]
	sock.recvBuf = sock.recvBuf[n:]
	return out, true
}

// Close initiates an active close per the FinWait1/LastAck transitions.
func (sock *TCPSocket) Close() {
	sock.lock.Acquire()
	defer sock.lock.Release()
	switch sock.state {
	case TCPEstablished:
		sock.stack.sendSegment(sock, TCPFlagFIN|TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		sock.sndNxt++
		sock.state = TCPFinWait1
	case TCPCloseWait:
		sock.stack.sendSegment(sock, TCPFlagFIN|TCPFlagACK, sock.sndNxt, sock.rcvNxt, nil, 0)
		sock.sndNxt++
		sock.state = TCPLastAck
	}
}

// TCPRecvFuture adapts TCPSocket.Recv to the executor's Future contract.
type TCPRecvFuture struct {
	sock *TCPSocket
	max  int
	Data []byte
}

func NewTCPRecvFuture(sock *TCPSocket, max int) *TCPRecvFuture {
	return &TCPRecvFuture{sock: sock, max: max}
}

func (f *TCPRecvFuture) Poll(waker *task.Waker) task.PollResult {
	data, done := f.sock.Recv(f.max)
	if len(data) > 0 {
		f.Data = data
		return task.Ready
	}
	if done {
		return task.Ready
	}
	f.sock.readable.register(waker)
	return task.Pending
}

// TCPConnectFuture adapts connection establishment to the executor's
// Future contract, resolving once the socket leaves SynSent/SynReceived.
type TCPConnectFuture struct {
	sock *TCPSocket
}

func NewTCPConnectFuture(sock *TCPSocket) *TCPConnectFuture {
	return &TCPConnectFuture{sock: sock}
}

func (f *TCPConnectFuture) Poll(waker *task.Waker) task.PollResult {
	switch f.sock.State() {
	case TCPEstablished:
		return task.Ready
	case TCPClosed:
		return task.Ready
	default:
		f.sock.connected.register(waker)
		return task.Pending
	}
}

// Dispatch routes an incoming TCP segment to its connection, or to a
// listener's backlog on a fresh SYN, matching original_source/net/tcp.rs's
// dispatch shape but through the stable-handle registry instead of
// pointer-based sockets.
func (s *TCPStack) Dispatch(srcIP IPv4, dstIP IPv4, data []byte) {
	seg, err := ParseTCP(srcIP, dstIP, data)
	if err != nil {
		if s.drops != nil {
			s.drops.IncTCPDropped()
		}
		return
	}
	local := Endpoint{IP: dstIP, Port: seg.DestPort}
	remote := Endpoint{IP: srcIP, Port: seg.SrcPort}

	s.lock.Acquire()
	var handle TCPHandle
	if quad, ok := s.byQuad[local]; ok {
		handle = quad[remote]
	}
	if handle == 0 {
		if l, ok := s.listeners[local.Port]; ok && seg.Flags&TCPFlagSYN != 0 {
			s.nextHandle++
			h := s.nextHandle
			sock := &TCPSocket{
				handle: h, local: local, remote: remote, state: TCPListen,
				iss: generateISN(local, remote), rcvWnd: 4096, cc: newCongestionControl(), stack: s,
			}
			sock.sndUna = sock.iss
			sock.sndNxt = sock.iss + 1
			s.sockets[h] = sock
			if s.byQuad[local] == nil {
				s.byQuad[local] = make(map[Endpoint]TCPHandle)
			}
			s.byQuad[local][remote] = h
			l.backlog = append(l.backlog, h)
			s.lock.Release()
			sock.Deliver(seg)
			l.acceptWaiter.wake()
			return
		}
		s.lock.Release()
		if seg.Flags&TCPFlagRST == 0 {
			s.sendRST(local, remote, seg.SeqNum)
		}
		return
	}
	sock, ok := s.sockets[handle]
	s.lock.Release()
	if !ok {
		if seg.Flags&TCPFlagRST == 0 {
			s.sendRST(local, remote, seg.SeqNum)
		}
		return
	}
	sock.Deliver(seg)
}
