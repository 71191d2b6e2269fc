// Package net implements the link-through-transport network stack: Ethernet
// framing, ARP resolution, IPv4 routing, ICMP echo, UDP sockets and a TCP
// state machine, layered above a kernel/driver/net.Interface.
//
// Grounded throughout on original_source/net/*.rs, with gvisor's
// pkg/tcpip consulted as a secondary reference for RFC field layouts and
// the TCP congestion-control shape.
package net

// MaxFrameSize is the largest Ethernet frame (including header, excluding
// the hardware-appended CRC) this stack will build or accept.
const MaxFrameSize = 1518

// Packet is a fixed-capacity frame buffer, mirroring the const-generic
// PacketRingBuffer slot in original_source/net/buffer.rs. Its only user is
// ring below, and nothing in the package creates a ring: the receive and
// transmit paths in stack.go allocate a byte slice per frame.
type Packet struct {
	data [MaxFrameSize]byte
	len  int
}

// Bytes returns the valid prefix of the packet's backing array.
func (p *Packet) Bytes() []byte {
	return p.data[:p.len]
}

// SetBytes copies b into the packet, replacing its contents. It reports
// false without copying if b exceeds the packet's capacity.
func (p *Packet) SetBytes(b []byte) bool {
	if len(b) > len(p.data) {
		return false
	}
	p.len = copy(p.data[:], b)
	return true
}

// Len reports the number of valid bytes currently held.
func (p *Packet) Len() int {
	return p.len
}

// ring is a fixed-capacity FIFO of Packet slots, the Go shape of
// original_source/net/buffer.rs's PacketRingBuffer<N, PACKET_SIZE>: a plain
// array of slots reused in place rather than a generic length, since Go
// packets are already fixed-size.
type ring struct {
	slots      []Packet
	head, tail int
	count      int
}

func newRing(capacity int) *ring {
	return &ring{slots: make([]Packet, capacity)}
}

// push copies b into the next free slot. It reports false if the ring is
// full or b does not fit in a Packet.
func (r *ring) push(b []byte) bool {
	if r.count == len(r.slots) {
		return false
	}
	if !r.slots[r.tail].SetBytes(b) {
		return false
	}
	r.tail = (r.tail + 1) % len(r.slots)
	r.count++
	return true
}

// pop removes and returns the oldest slot's bytes, or false if empty. The
// returned slice aliases the ring's backing storage and is only valid
// until the next push reuses that slot.
func (r *ring) pop() ([]byte, bool) {
	if r.count == 0 {
		return nil, false
	}
	b := r.slots[r.head].Bytes()
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	return b, true
}

func (r *ring) isEmpty() bool { return r.count == 0 }
func (r *ring) isFull() bool  { return r.count == len(r.slots) }
