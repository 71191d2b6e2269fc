package net

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
)

const (
	udpHeaderSize = 8

	// EphemeralPortStart/End bound the dynamic port range handed out by
	// Bind(0), matching original_source/net/udp.rs's constants.
	EphemeralPortStart uint16 = 49152
	EphemeralPortEnd    uint16 = 65535
)

var (
	errUDPTooShort    = &kernel.Error{Module: "net", Message: "udp packet shorter than header"}
	errUDPLength      = &kernel.Error{Module: "net", Message: "udp length field inconsistent with packet size"}
	errUDPPortInUse   = &kernel.Error{Module: "net", Message: "udp port already bound"}
	errUDPNoPorts     = &kernel.Error{Module: "net", Message: "no ephemeral udp ports available"}
	errUDPQueueFull   = &kernel.Error{Module: "net", Message: "udp socket receive queue full"}
)

// UDPPacket is a parsed UDP datagram.
type UDPPacket struct {
	SrcPort  uint16
	DestPort uint16
	Data     []byte
}

// ParseUDP parses the header and validates the length field against the
// buffer it was carried in.
func ParseUDP(data []byte) (UDPPacket, *kernel.Error) {
	if len(data) < udpHeaderSize {
		return UDPPacket{}, errUDPTooShort
	}
	length := uint16(data[4])<<8 | uint16(data[5])
	if length < udpHeaderSize || int(length) > len(data) {
		return UDPPacket{}, errUDPLength
	}
	return UDPPacket{
		SrcPort:  uint16(data[0])<<8 | uint16(data[1]),
		DestPort: uint16(data[2])<<8 | uint16(data[3]),
		Data:     data[udpHeaderSize:length],
	}, nil
}

// Build serializes the datagram with a pseudo-header checksum.
func (p UDPPacket) Build(src, dst IPv4, out []byte) (int, *kernel.Error) {
	length := udpHeaderSize + len(p.Data)
	if len(out) < length {
		return 0, errUDPTooShort
	}
	out[0] = byte(p.SrcPort >> 8)
	out[1] = byte(p.SrcPort)
	out[2] = byte(p.DestPort >> 8)
	out[3] = byte(p.DestPort)
	out[4] = byte(length >> 8)
	out[5] = byte(length)
	out[6], out[7] = 0, 0
	copy(out[udpHeaderSize:length], p.Data)

	sum := pseudoHeaderSum(src, dst, ProtocolUDP, length)
	sum = checksumSum(sum, out[:length])
	cs := foldChecksum(sum)
	if cs == 0 {
		cs = 0xFFFF // all-zero checksum means "disabled"; never transmit it
	}
	out[6] = byte(cs >> 8)
	out[7] = byte(cs)
	return length, nil
}

// VerifyUDPChecksum reports whether buf's checksum is valid. A checksum of
// zero is treated as "disabled" and accepted, per RFC 768.
func VerifyUDPChecksum(src, dst IPv4, buf []byte) bool {
	if len(buf) < udpHeaderSize {
		return false
	}
	if buf[6] == 0 && buf[7] == 0 {
		return true
	}
	length := uint16(buf[4])<<8 | uint16(buf[5])
	sum := pseudoHeaderSum(src, dst, ProtocolUDP, int(length))
	sum = checksumSum(sum, buf[:length])
	return foldChecksum(sum) == 0
}

type datagram struct {
	srcIP   IPv4
	srcPort uint16
	data    []byte
}

// UDPSocket is a bound UDP endpoint with a bounded receive queue.
type UDPSocket struct {
	localPort int
	lock      sync.Spinlock
	queue     []datagram
	capacity  int
	send      func(dst IPv4, protocol uint8, payload []byte) *kernel.Error
	localIP   IPv4
	readable  waiter
}

// UDPStack owns port allocation and socket demultiplexing for one
// interface, replacing original_source/net/udp.rs's lazy_static globals
// with an explicit, testable owner.
type UDPStack struct {
	lock           sync.Spinlock
	bound          map[uint16]*UDPSocket
	nextEphemeral  uint16
	localIP        IPv4
	send           func(dst IPv4, protocol uint8, payload []byte) *kernel.Error
	drops          *Counters
}

// NewUDPStack constructs a stack bound to localIP, transmitting IP
// datagrams via send.
func NewUDPStack(localIP IPv4, send func(dst IPv4, protocol uint8, payload []byte) *kernel.Error, counters *Counters) *UDPStack {
	return &UDPStack{
		bound:         make(map[uint16]*UDPSocket),
		nextEphemeral: EphemeralPortStart,
		localIP:       localIP,
		send:          send,
		drops:         counters,
	}
}

// Bind reserves port (or allocates an ephemeral one if port == 0) and
// returns a socket for it.
func (s *UDPStack) Bind(port uint16) (*UDPSocket, *kernel.Error) {
	s.lock.Acquire()
	defer s.lock.Release()

	if port == 0 {
		p, err := s.allocateEphemeralLocked()
		if err != nil {
			return nil, err
		}
		port = p
	} else if _, taken := s.bound[port]; taken {
		return nil, errUDPPortInUse
	}

	sock := &UDPSocket{localPort: int(port), capacity: 64, send: s.send, localIP: s.localIP}
	s.bound[port] = sock
	return sock, nil
}

// allocateEphemeralLocked scans forward from nextEphemeral, skipping ports
// already bound, wrapping once at the top of the range.
func (s *UDPStack) allocateEphemeralLocked() (uint16, *kernel.Error) {
	start := s.nextEphemeral
	for {
		candidate := s.nextEphemeral
		if s.nextEphemeral == EphemeralPortEnd {
			s.nextEphemeral = EphemeralPortStart
		} else {
			s.nextEphemeral++
		}
		if _, taken := s.bound[candidate]; !taken {
			return candidate, nil
		}
		if s.nextEphemeral == start {
			return 0, errUDPNoPorts
		}
	}
}

// Unbind releases port, letting it be reallocated.
func (s *UDPStack) Unbind(port uint16) {
	s.lock.Acquire()
	delete(s.bound, port)
	s.lock.Release()
}

// Deliver dispatches a received UDP payload to the bound socket, if any.
func (s *UDPStack) Deliver(srcIP IPv4, dstIP IPv4, data []byte) {
	p, err := ParseUDP(data)
	if err != nil {
		s.countDrop()
		return
	}
	if !VerifyUDPChecksum(srcIP, dstIP, data) {
		s.countDrop()
		return
	}
	s.lock.Acquire()
	sock, ok := s.bound[p.DestPort]
	s.lock.Release()
	if !ok {
		s.countDrop()
		return
	}
	sock.deliver(srcIP, p.SrcPort, p.Data)
}

func (s *UDPStack) countDrop() {
	if s.drops != nil {
		s.drops.IncUDPDropped()
	}
}

func (sock *UDPSocket) deliver(srcIP IPv4, srcPort uint16, data []byte) {
	sock.lock.Acquire()
	defer sock.lock.Release()
	if len(sock.queue) >= sock.capacity {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	sock.queue = append(sock.queue, datagram{srcIP: srcIP, srcPort: srcPort, data: cp})
	sock.lock.Release()
	sock.readable.wake()
	sock.lock.Acquire()
}

// LocalPort returns the bound port.
func (sock *UDPSocket) LocalPort() uint16 { return uint16(sock.localPort) }

// SendTo transmits data to dest:destPort.
func (sock *UDPSocket) SendTo(data []byte, dest IPv4, destPort uint16) *kernel.Error {
	pkt := UDPPacket{SrcPort: sock.LocalPort(), DestPort: destPort, Data: data}
	buf := make([]byte, udpHeaderSize+len(data))
	n, err := pkt.Build(sock.localIP, dest, buf)
	if err != nil {
		return err
	}
	return sock.send(dest, ProtocolUDP, buf[:n])
}

// RecvFrom drains the oldest queued datagram, if any.
func (sock *UDPSocket) RecvFrom() ([]byte, IPv4, uint16, bool) {
	sock.lock.Acquire()
	defer sock.lock.Release()
	if len(sock.queue) == 0 {
		return nil, IPv4{}, 0, false
	}
	d := sock.queue[0]
	sock.queue = sock.queue[1:]
	return d.data, d.srcIP, d.srcPort, true
}
