package net

// congestionControl implements AIMD slow-start/congestion-avoidance and a
// Jacobson/Karels smoothed-RTT retransmission timeout estimator, shaped
// after gvisor's pkg/tcpip/transport/tcp sender since
// original_source/net/tcp.rs explicitly implements no congestion control
// at all.
type congestionControl struct {
	cwnd     uint32 // congestion window, in bytes
	ssthresh uint32 // slow-start threshold, in bytes

	srtt   int64 // smoothed RTT, in ticks*8 (fixed point, RFC 6298 scaling)
	rttvar int64 // RTT variation, in ticks*4
	rto    int64 // current retransmission timeout, in ticks
	rttSet bool

	dupAcks int
}

const (
	initialSsthresh   = 64 * 1024
	minRTO            = 4 // ticks; floor comparable to the ~200ms virtual-time floor
	maxRTO            = 120
	fastRetransmitDup = 3
)

func newCongestionControl() *congestionControl {
	return &congestionControl{
		cwnd:     DefaultMSS,
		ssthresh: initialSsthresh,
		rto:      minRTO,
	}
}

// onACK advances cwnd on a new (non-duplicate) ACK acknowledging ackedBytes.
func (c *congestionControl) onACK(ackedBytes uint32) {
	c.dupAcks = 0
	if c.cwnd < c.ssthresh {
		// Slow start: one MSS per ACK.
		c.cwnd += DefaultMSS
	} else {
		// Congestion avoidance: roughly one MSS per RTT.
		c.cwnd += (DefaultMSS*DefaultMSS)/c.cwnd + 1
	}
}

// onDuplicateACK returns true if this duplicate ACK triggers a fast
// retransmit (the third one seen since the last new ACK).
func (c *congestionControl) onDuplicateACK() bool {
	c.dupAcks++
	if c.dupAcks == fastRetransmitDup {
		c.ssthresh = max32(c.cwnd/2, 2*DefaultMSS)
		c.cwnd = c.ssthresh + fastRetransmitDup*DefaultMSS
		return true
	}
	return false
}

// onRTO applies the multiplicative-decrease penalty for a retransmission
// timeout and backs off the RTO itself (Karn's algorithm).
func (c *congestionControl) onRTO() {
	c.ssthresh = max32(c.cwnd/2, 2*DefaultMSS)
	c.cwnd = DefaultMSS
	c.dupAcks = 0
	c.rto *= 2
	if c.rto > maxRTO {
		c.rto = maxRTO
	}
}

// updateRTT feeds a fresh round-trip sample (in ticks) into the
// Jacobson/Karels estimator (RFC 6298), refreshing rto.
func (c *congestionControl) updateRTT(sampleTicks int64) {
	if !c.rttSet {
		c.srtt = sampleTicks * 8
		c.rttvar = sampleTicks * 4 / 2
		c.rttSet = true
	} else {
		delta := sampleTicks*8 - c.srtt
		c.srtt += delta / 8
		if delta < 0 {
			delta = -delta
		}
		c.rttvar += (delta/2 - c.rttvar) / 4
	}
	c.rto = c.srtt/8 + max64(1, 4*c.rttvar/4)
	if c.rto < minRTO {
		c.rto = minRTO
	}
	if c.rto > maxRTO {
		c.rto = maxRTO
	}
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
