package net

import "sync/atomic"

// Counters tracks packet-level statistics for diagnostics, the allocation-
// free equivalent of a /proc/net/snmp-style summary. Every field is
// updated with a single atomic add from whichever context observes the
// event, including IRQ-adjacent network tasks.
type Counters struct {
	framesReceived  uint64
	framesSent      uint64
	arpDropped      uint64
	ipv4Dropped     uint64
	icmpDropped     uint64
	udpDropped      uint64
	tcpDropped      uint64
	tcpRetransmits  uint64
}

func (c *Counters) IncFramesReceived() { atomic.AddUint64(&c.framesReceived, 1) }
func (c *Counters) IncFramesSent()     { atomic.AddUint64(&c.framesSent, 1) }
func (c *Counters) IncARPDropped()     { atomic.AddUint64(&c.arpDropped, 1) }
func (c *Counters) IncIPv4Dropped()    { atomic.AddUint64(&c.ipv4Dropped, 1) }
func (c *Counters) IncICMPDropped()    { atomic.AddUint64(&c.icmpDropped, 1) }
func (c *Counters) IncUDPDropped()     { atomic.AddUint64(&c.udpDropped, 1) }
func (c *Counters) IncTCPDropped()     { atomic.AddUint64(&c.tcpDropped, 1) }
func (c *Counters) IncTCPRetransmit()  { atomic.AddUint64(&c.tcpRetransmits, 1) }

// Snapshot is a point-in-time copy of the counters, safe to log or print.
type Snapshot struct {
	FramesReceived uint64
	FramesSent     uint64
	ARPDropped     uint64
	IPv4Dropped    uint64
	ICMPDropped    uint64
	UDPDropped     uint64
	TCPDropped     uint64
	TCPRetransmits uint64
}

// Snapshot reads every counter atomically and independently; the result
// may not reflect a single consistent instant under concurrent updates,
// which is acceptable for a diagnostics readout.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FramesReceived: atomic.LoadUint64(&c.framesReceived),
		FramesSent:     atomic.LoadUint64(&c.framesSent),
		ARPDropped:     atomic.LoadUint64(&c.arpDropped),
		IPv4Dropped:    atomic.LoadUint64(&c.ipv4Dropped),
		ICMPDropped:    atomic.LoadUint64(&c.icmpDropped),
		UDPDropped:     atomic.LoadUint64(&c.udpDropped),
		TCPDropped:     atomic.LoadUint64(&c.tcpDropped),
		TCPRetransmits: atomic.LoadUint64(&c.tcpRetransmits),
	}
}
