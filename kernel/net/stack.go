package net

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
	"corekernel/kernel/task"
)

// device is the subset of a NIC driver the stack depends on, satisfied by
// kernel/driver/net/rtl8139.Driver.
type device interface {
	MAC() [6]byte
	Transmit(frame []byte) *kernel.Error
	Receive() ([]byte, bool)
	RegisterRXWaker(w *task.Waker)
}

const (
	maxTXQueue     = 64
	maxARPWaiters  = 16
	arpRetryTicks  = 1
	arpMaxRetries  = 5
)

// pendingTX is an IPv4 datagram queued for transmission that is either
// ready to send or waiting on ARP resolution of its next hop.
type pendingTX struct {
	dest     IPv4
	protocol uint8
	payload  []byte
}

// Stack wires together every protocol layer above one NIC device: the
// Ethernet/ARP/IPv4 dispatch, per-protocol handlers, and the transmit
// queue with ARP-resolve-then-send semantics. Grounded on
// original_source/net/stack.rs's rx_processing_task/tx_processing_task
// pair, reimplemented as two long-lived Futures instead of async fns
// since Go has no native coroutine the executor could poll directly.
type Stack struct {
	dev     device
	localIP IPv4
	netmask IPv4
	routes  *RoutingTable
	arp     *ARPCache
	mac     [6]byte

	UDP *UDPStack
	TCP *TCPStack

	Counters *Counters

	txLock sync.Spinlock
	txQ    []pendingTX
	txWait waiter

	arpWaitLock sync.Spinlock
	arpWaiters  map[IPv4][]waiter
}

// NewStack builds a stack bound to dev with the given local address,
// netmask and optional default gateway, and constructs the UDP/TCP
// sub-stacks with a shared IP transmit path.
func NewStack(dev device, localIP, netmask IPv4, gateway *IPv4, mtu int) *Stack {
	s := &Stack{
		dev:        dev,
		localIP:    localIP,
		netmask:    netmask,
		routes:     NewRoutingTable(localIP, netmask, gateway),
		arp:        NewARPCache(),
		mac:        dev.MAC(),
		Counters:   &Counters{},
		arpWaiters: make(map[IPv4][]waiter),
	}
	s.UDP = NewUDPStack(localIP, s.QueueTX, s.Counters)
	s.TCP = NewTCPStack(localIP, mtu, s.QueueTX, s.Counters)
	return s
}

// QueueTX enqueues an IP datagram for transmission, the boundary every
// upper-layer send() call funnels through.
func (s *Stack) QueueTX(dest IPv4, protocol uint8, payload []byte) *kernel.Error {
	s.txLock.Acquire()
	defer s.txLock.Release()
	if len(s.txQ) >= maxTXQueue {
		return &kernel.Error{Module: "net", Message: "transmit queue full"}
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.txQ = append(s.txQ, pendingTX{dest: dest, protocol: protocol, payload: cp})
	s.txWait.wake()
	return nil
}

// RXFuture drains the NIC's receive ring and dispatches each frame; it
// never completes, matching rx_processing_task's infinite loop.
type RXFuture struct{ stack *Stack }

func NewRXFuture(s *Stack) *RXFuture { return &RXFuture{stack: s} }

func (f *RXFuture) Poll(waker *task.Waker) task.PollResult {
	for {
		frame, ok := f.stack.dev.Receive()
		if !ok {
			break
		}
		f.stack.Counters.IncFramesReceived()
		f.stack.handleFrame(frame)
	}
	f.stack.dev.RegisterRXWaker(waker)
	// The ring may have filled between the last Receive() above and the
	// registration landing, so drain once more before actually suspending;
	// the frame that triggered the IRQ is already DMA'd into the ring by
	// the time handleInterrupt runs, so this closes the race.
	for {
		frame, ok := f.stack.dev.Receive()
		if !ok {
			return task.Pending
		}
		f.stack.Counters.IncFramesReceived()
		f.stack.handleFrame(frame)
	}
}

func (s *Stack) handleFrame(data []byte) {
	frame, err := ParseEthernetFrame(data)
	if err != nil {
		return
	}
	switch frame.EtherType {
	case EtherTypeARP:
		s.handleARP(frame)
	case EtherTypeIPv4:
		s.handleIPv4(frame.Payload)
	}
}

func (s *Stack) handleARP(frame EthernetFrame) {
	p, err := ParseARP(frame.Payload)
	if err != nil {
		s.Counters.IncARPDropped()
		return
	}
	reply, shouldReply := s.arp.HandleARPPacket(p, s.localIP, s.mac)
	s.wakeARPWaiters(p.SenderIP)
	if !shouldReply {
		return
	}
	buf := make([]byte, arpPacketSize)
	n, _ := reply.Build(buf)
	out := EthernetFrame{DestMAC: p.SenderMAC, SrcMAC: s.mac, EtherType: EtherTypeARP, Payload: buf[:n]}
	s.transmitFrame(out)
}

func (s *Stack) handleIPv4(data []byte) {
	header, payload, err := ParseIPv4(data)
	if err != nil {
		s.Counters.IncIPv4Dropped()
		return
	}
	if header.Dst != s.localIP {
		return
	}
	if header.IsFragmented() {
		s.Counters.IncIPv4Dropped()
		return
	}
	switch header.Protocol {
	case ProtocolICMP:
		s.handleICMP(header, payload)
	case ProtocolUDP:
		s.UDP.Deliver(header.Src, header.Dst, payload)
	case ProtocolTCP:
		s.TCP.Dispatch(header.Src, header.Dst, payload)
	}
}

func (s *Stack) handleICMP(ip IPv4Header, data []byte) {
	if !VerifyICMPChecksum(data) {
		s.Counters.IncICMPDropped()
		return
	}
	p, err := ParseICMP(data)
	if err != nil {
		s.Counters.IncICMPDropped()
		return
	}
	if p.Type != ICMPTypeEchoRequest {
		return
	}
	reply := p.EchoReply()
	buf := make([]byte, icmpHeaderSize+len(reply.Data))
	n, err := reply.Build(buf)
	if err != nil {
		return
	}
	s.QueueTX(ip.Src, ProtocolICMP, buf[:n])
}

// TXFuture drains the transmit queue, resolving ARP for each datagram's
// next hop before handing the framed packet to the driver; it never
// completes, matching tx_processing_task's infinite loop.
type TXFuture struct {
	stack   *Stack
	pending *pendingTX
	arpTries int
}

func NewTXFuture(s *Stack) *TXFuture { return &TXFuture{stack: s} }

func (f *TXFuture) Poll(waker *task.Waker) task.PollResult {
	for {
		if f.pending == nil {
			f.stack.txLock.Acquire()
			if len(f.stack.txQ) == 0 {
				f.stack.txWait.register(waker)
				f.stack.txLock.Release()
				return task.Pending
			}
			p := f.stack.txQ[0]
			f.stack.txQ = f.stack.txQ[1:]
			f.stack.txLock.Release()
			f.pending = &p
			f.arpTries = 0
		}

		nextHop, err := f.stack.routes.NextHop(f.pending.dest)
		if err != nil {
			f.pending = nil
			continue
		}
		mac, arpErr := f.stack.arp.Lookup(nextHop)
		if arpErr != nil {
			if f.arpTries >= arpMaxRetries {
				f.pending = nil
				continue
			}
			f.arpTries++
			f.stack.sendARPRequest(nextHop)
			f.stack.registerARPWaiter(nextHop, waker)
			return task.Pending
		}

		f.stack.sendIPv4(mac, *f.pending)
		f.pending = nil
	}
}

func (s *Stack) sendARPRequest(target IPv4) {
	req := NewARPRequest(s.mac, s.localIP, target)
	buf := make([]byte, arpPacketSize)
	n, _ := req.Build(buf)
	frame := EthernetFrame{DestMAC: BroadcastMAC, SrcMAC: s.mac, EtherType: EtherTypeARP, Payload: buf[:n]}
	s.transmitFrame(frame)
}

func (s *Stack) registerARPWaiter(ip IPv4, w *task.Waker) {
	s.arpWaitLock.Acquire()
	defer s.arpWaitLock.Release()
	if len(s.arpWaiters[ip]) >= maxARPWaiters {
		return
	}
	var wt waiter
	wt.register(w)
	s.arpWaiters[ip] = append(s.arpWaiters[ip], wt)
}

func (s *Stack) wakeARPWaiters(ip IPv4) {
	s.arpWaitLock.Acquire()
	waiters := s.arpWaiters[ip]
	delete(s.arpWaiters, ip)
	s.arpWaitLock.Release()
	for i := range waiters {
		waiters[i].wake()
	}
}

func (s *Stack) sendIPv4(destMAC [6]byte, p pendingTX) {
	header := NewIPv4Header(s.localIP, p.dest, p.protocol, len(p.payload))
	ipBuf := make([]byte, ipv4MinHeaderSize+len(p.payload))
	n, err := header.Build(p.payload, ipBuf)
	if err != nil {
		return
	}
	frame := EthernetFrame{DestMAC: destMAC, SrcMAC: s.mac, EtherType: EtherTypeIPv4, Payload: ipBuf[:n]}
	s.transmitFrame(frame)
}

func (s *Stack) transmitFrame(frame EthernetFrame) {
	buf := make([]byte, ethHeaderSize+ethMaxPayload)
	n, err := frame.Build(buf)
	if err != nil {
		return
	}
	if s.dev.Transmit(buf[:n]) == nil {
		s.Counters.IncFramesSent()
	}
}
