package net

import (
	"corekernel/kernel"
	"corekernel/kernel/rtc"
	"corekernel/kernel/sync"
)

const (
	arpHWTypeEthernet uint16 = 1
	arpProtoTypeIPv4  uint16 = 0x0800

	arpOpRequest uint16 = 1
	arpOpReply   uint16 = 2

	arpPacketSize = 28

	// arpCacheCapacity and arpCacheTTLTicks realize the "256 entries,
	// ≥5 minute TTL" cache contract. A tick is one timer IRQ (see
	// rtc.Tick); the PIT runs at its default rate of about 18.2 Hz, so
	// 5500 ticks is about 302 seconds.
	arpCacheCapacity = 256
	arpCacheTTLTicks = 5500
)

var (
	errARPTooShort     = &kernel.Error{Module: "net", Message: "arp packet shorter than fixed size"}
	errARPHardware     = &kernel.Error{Module: "net", Message: "arp hardware type is not ethernet"}
	errARPProtocol     = &kernel.Error{Module: "net", Message: "arp protocol type is not ipv4"}
	errARPOperation    = &kernel.Error{Module: "net", Message: "arp operation code is unrecognized"}
	errARPNotInCache   = &kernel.Error{Module: "net", Message: "no arp cache entry for address"}
)

// ARPPacket is a parsed ARP request or reply (RFC 826), Ethernet/IPv4 only.
type ARPPacket struct {
	Operation uint16
	SenderMAC [6]byte
	SenderIP  IPv4
	TargetMAC [6]byte
	TargetIP  IPv4
}

// ParseARP validates the fixed Ethernet/IPv4 ARP layout and extracts the
// fields, grounded on original_source/net/arp.rs's ArpPacket::from_bytes.
func ParseARP(data []byte) (ARPPacket, *kernel.Error) {
	if len(data) < arpPacketSize {
		return ARPPacket{}, errARPTooShort
	}
	hwType := uint16(data[0])<<8 | uint16(data[1])
	if hwType != arpHWTypeEthernet {
		return ARPPacket{}, errARPHardware
	}
	protoType := uint16(data[2])<<8 | uint16(data[3])
	if protoType != arpProtoTypeIPv4 {
		return ARPPacket{}, errARPProtocol
	}
	op := uint16(data[6])<<8 | uint16(data[7])
	if op != arpOpRequest && op != arpOpReply {
		return ARPPacket{}, errARPOperation
	}

	var p ARPPacket
	p.Operation = op
	copy(p.SenderMAC[:], data[8:14])
	copy(p.SenderIP[:], data[14:18])
	copy(p.TargetMAC[:], data[18:24])
	copy(p.TargetIP[:], data[24:28])
	return p, nil
}

// Build serializes the fixed 28-byte ARP packet.
func (p ARPPacket) Build(out []byte) (int, *kernel.Error) {
	if len(out) < arpPacketSize {
		return 0, errARPTooShort
	}
	out[0], out[1] = byte(arpHWTypeEthernet>>8), byte(arpHWTypeEthernet)
	out[2], out[3] = byte(arpProtoTypeIPv4>>8), byte(arpProtoTypeIPv4)
	out[4], out[5] = 6, 4
	out[6], out[7] = byte(p.Operation>>8), byte(p.Operation)
	copy(out[8:14], p.SenderMAC[:])
	copy(out[14:18], p.SenderIP[:])
	copy(out[18:24], p.TargetMAC[:])
	copy(out[24:28], p.TargetIP[:])
	return arpPacketSize, nil
}

// NewARPRequest builds a request for targetIP, leaving the target MAC
// unknown (zeroed).
func NewARPRequest(senderMAC [6]byte, senderIP, targetIP IPv4) ARPPacket {
	return ARPPacket{Operation: arpOpRequest, SenderMAC: senderMAC, SenderIP: senderIP, TargetIP: targetIP}
}

// NewARPReply builds a reply addressed back to the requester.
func NewARPReply(senderMAC [6]byte, senderIP IPv4, targetMAC [6]byte, targetIP IPv4) ARPPacket {
	return ARPPacket{Operation: arpOpReply, SenderMAC: senderMAC, SenderIP: senderIP, TargetMAC: targetMAC, TargetIP: targetIP}
}

type arpEntry struct {
	mac       [6]byte
	expiresAt uint64
	valid     bool
}

// ARPCache maps IPv4 addresses to MAC addresses with a bounded capacity and
// oldest-overwrite eviction, grounded on original_source/net/arp.rs's
// ArpCache (there backed by a BTreeMap with no capacity bound; bounded here
// per spec's "capacity bounded, e.g. 256" contract).
type ARPCache struct {
	lock    sync.Spinlock
	entries [arpCacheCapacity]arpEntry
	ips     [arpCacheCapacity]IPv4
	// insertOrder is the slot to overwrite next once the cache is full,
	// advanced round-robin — the "oldest overwrite" policy.
	insertOrder int
	count       int
}

// NewARPCache returns an empty cache.
func NewARPCache() *ARPCache {
	return &ARPCache{}
}

func (c *ARPCache) indexOf(ip IPv4) int {
	for i := 0; i < c.count; i++ {
		if c.entries[i].valid && c.ips[i] == ip {
			return i
		}
	}
	return -1
}

// Insert records or refreshes ip -> mac, evicting the oldest slot by
// insertion order once the cache is at capacity.
func (c *ARPCache) Insert(ip IPv4, mac [6]byte) {
	c.lock.Acquire()
	defer c.lock.Release()

	now := rtc.NowTicks()
	if i := c.indexOf(ip); i >= 0 {
		c.entries[i].mac = mac
		c.entries[i].expiresAt = now + arpCacheTTLTicks
		return
	}

	var slot int
	if c.count < arpCacheCapacity {
		slot = c.count
		c.count++
	} else {
		slot = c.insertOrder
		c.insertOrder = (c.insertOrder + 1) % arpCacheCapacity
	}
	c.ips[slot] = ip
	c.entries[slot] = arpEntry{mac: mac, expiresAt: now + arpCacheTTLTicks, valid: true}
}

// Lookup returns the cached MAC for ip if present and unexpired.
func (c *ARPCache) Lookup(ip IPv4) ([6]byte, *kernel.Error) {
	c.lock.Acquire()
	defer c.lock.Release()

	i := c.indexOf(ip)
	if i < 0 {
		return [6]byte{}, errARPNotInCache
	}
	if rtc.NowTicks() >= c.entries[i].expiresAt {
		c.entries[i].valid = false
		return [6]byte{}, errARPNotInCache
	}
	return c.entries[i].mac, nil
}

// HandleARPPacket processes a received ARP packet: it always refreshes the
// cache with the sender's mapping (gratuitous-ARP friendly) and, for a
// request addressed to ourIP, returns the reply to send.
func (c *ARPCache) HandleARPPacket(p ARPPacket, ourIP IPv4, ourMAC [6]byte) (ARPPacket, bool) {
	c.Insert(p.SenderIP, p.SenderMAC)

	if p.Operation == arpOpRequest && p.TargetIP == ourIP {
		return NewARPReply(ourMAC, ourIP, p.SenderMAC, p.SenderIP), true
	}
	return ARPPacket{}, false
}
