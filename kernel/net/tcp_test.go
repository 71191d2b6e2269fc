package net

import (
	"corekernel/kernel"
	"corekernel/kernel/rtc"
	"testing"
)

type tcpTestHarness struct {
	t       *testing.T
	localIP IPv4
	stack   *TCPStack
	sent    []TCPHeader
}

func newTCPTestHarness(t *testing.T) *tcpTestHarness {
	t.Helper()
	h := &tcpTestHarness{t: t, localIP: IPv4{10, 0, 2, 15}}
	h.stack = NewTCPStack(h.localIP, 1500, h.capture, nil)
	return h
}

func (h *tcpTestHarness) capture(dst IPv4, protocol uint8, payload []byte) *kernel.Error {
	seg, err := ParseTCP(h.localIP, dst, payload)
	if err != nil {
		h.t.Fatalf("captured segment failed to parse: %v", err)
	}
	h.sent = append(h.sent, seg)
	return nil
}

func (h *tcpTestHarness) last() TCPHeader {
	h.t.Helper()
	if len(h.sent) == 0 {
		h.t.Fatal("expected a transmitted segment, got none")
	}
	return h.sent[len(h.sent)-1]
}

// TestTCPHandshake exercises spec scenario S6: connect, inject a SYN+ACK
// from the peer, expect an ACK and an Established connection.
func TestTCPHandshake(t *testing.T) {
	h := newTCPTestHarness(t)
	remote := Endpoint{IP: IPv4{10, 0, 2, 2}, Port: 80}

	handle, err := h.stack.Connect(remote)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	syn := h.last()
	if syn.Flags&TCPFlagSYN == 0 || syn.MSS == 0 {
		t.Fatalf("expected a SYN with an MSS option, got %+v", syn)
	}

	sock, ok := h.stack.Socket(handle)
	if !ok {
		t.Fatal("socket vanished after Connect")
	}
	if sock.State() != TCPSynSent {
		t.Fatalf("expected SynSent after Connect, got %v", sock.State())
	}

	peerISS := uint32(0xAAAA0000)
	synAck := TCPHeader{
		SrcPort: remote.Port, DestPort: syn.SrcPort,
		SeqNum: peerISS, AckNum: syn.SeqNum + 1,
		Flags: TCPFlagSYN | TCPFlagACK, WindowSize: 4096,
	}
	sock.Deliver(synAck)

	if sock.State() != TCPEstablished {
		t.Fatalf("expected Established after SYN+ACK, got %v", sock.State())
	}
	ack := h.last()
	if ack.Flags&TCPFlagACK == 0 || ack.Flags&TCPFlagSYN != 0 {
		t.Fatalf("expected a pure ACK to complete the handshake, got %+v", ack)
	}
	if ack.AckNum != peerISS+1 {
		t.Fatalf("expected ack of peer ISS+1, got %d", ack.AckNum)
	}
}

// TestTCPRetransmission exercises spec scenario S7: send data, drop the
// first segment (never ACKed), and expect the same bytes retransmitted at
// RTO expiry with cwnd reset to 1 MSS and ssthresh halved.
func TestTCPRetransmission(t *testing.T) {
	h := newTCPTestHarness(t)
	remote := Endpoint{IP: IPv4{10, 0, 2, 2}, Port: 80}
	handle, _ := h.stack.Connect(remote)
	sock, _ := h.stack.Socket(handle)

	syn := h.last()
	sock.Deliver(TCPHeader{
		SrcPort: remote.Port, DestPort: syn.SrcPort,
		SeqNum: 0xAAAA0000, AckNum: syn.SeqNum + 1,
		Flags: TCPFlagSYN | TCPFlagACK, WindowSize: 1460,
	})

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	if err := sock.Send(data); err != nil {
		t.Fatalf("Send: %v", err)
	}

	firstSeg := h.last()
	if len(firstSeg.Payload) == 0 {
		t.Fatal("expected data segment on the wire")
	}
	prevCwnd := sock.cc.cwnd

	// Force the RTO to fire without waiting on real virtual ticks.
	sock.lock.Acquire()
	sock.rtoDeadline = 0
	sock.lock.Release()
	sock.PollTimers()

	retransmit := h.last()
	if string(retransmit.Payload) != string(firstSeg.Payload) {
		t.Fatalf("expected the same bytes retransmitted, got different payload lengths %d vs %d",
			len(retransmit.Payload), len(firstSeg.Payload))
	}
	if sock.cc.cwnd != DefaultMSS {
		t.Fatalf("expected cwnd reset to 1 MSS after RTO, got %d", sock.cc.cwnd)
	}
	wantSsthresh := max32(prevCwnd/2, 2*DefaultMSS)
	if sock.cc.ssthresh != wantSsthresh {
		t.Fatalf("expected ssthresh = max(prevCwnd/2, 2*MSS) = %d, got %d", wantSsthresh, sock.cc.ssthresh)
	}
}

// TestTCPRTTSampleUpdatesEstimator checks that an ACK covering a segment
// that was never retransmitted feeds a fresh RTT sample into cc, and that
// a retransmitted segment's eventual ACK does not (Karn's algorithm).
func TestTCPRTTSampleUpdatesEstimator(t *testing.T) {
	h := newTCPTestHarness(t)
	remote := Endpoint{IP: IPv4{10, 0, 2, 2}, Port: 80}
	handle, _ := h.stack.Connect(remote)
	sock, _ := h.stack.Socket(handle)

	syn := h.last()
	sock.Deliver(TCPHeader{
		SrcPort: remote.Port, DestPort: syn.SrcPort,
		SeqNum: 0xBBBB0000, AckNum: syn.SeqNum + 1,
		Flags: TCPFlagSYN | TCPFlagACK, WindowSize: 1460,
	})

	if err := sock.Send([]byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	seg := h.last()

	if sock.cc.rttSet {
		t.Fatal("rttSet should be false before any ACK is observed")
	}

	const elapsed = 5
	for i := 0; i < elapsed; i++ {
		rtc.Tick()
	}

	sock.Deliver(TCPHeader{
		SrcPort: remote.Port, DestPort: seg.SrcPort,
		SeqNum: 0xBBBB0001, AckNum: seg.SeqNum + uint32(len(seg.Payload)),
		Flags: TCPFlagACK, WindowSize: 1460,
	})

	if !sock.cc.rttSet {
		t.Fatal("expected updateRTT to run on the first clean ACK")
	}
	if sock.cc.srtt != elapsed*8 {
		t.Fatalf("expected srtt = %d ticks (fixed-point), got %d", elapsed*8, sock.cc.srtt)
	}

	// Send again, force a retransmit via RTO, then deliver the ACK: the
	// sample must be skipped since it's ambiguous which transmission it
	// acknowledges.
	if err := sock.Send([]byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	seg2 := h.last()

	sock.lock.Acquire()
	sock.rtoDeadline = 0
	sock.lock.Release()
	sock.PollTimers()

	srttBeforeAck := sock.cc.srtt
	for i := 0; i < 3; i++ {
		rtc.Tick()
	}
	sock.Deliver(TCPHeader{
		SrcPort: remote.Port, DestPort: seg2.SrcPort,
		SeqNum: 0xBBBB0005, AckNum: seg2.SeqNum + uint32(len(seg2.Payload)),
		Flags: TCPFlagACK, WindowSize: 1460,
	})

	if sock.cc.srtt != srttBeforeAck {
		t.Fatalf("expected srtt unchanged after a retransmitted segment's ACK, got %d want %d",
			sock.cc.srtt, srttBeforeAck)
	}
}

func TestTCPPassiveOpenAndAccept(t *testing.T) {
	h := newTCPTestHarness(t)
	listenerHandle, err := h.stack.Listen(80)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	remote := Endpoint{IP: IPv4{10, 0, 2, 2}, Port: 5000}
	synBuf := make([]byte, tcpMinHeaderSize)
	synSeg := TCPHeader{SrcPort: remote.Port, DestPort: 80, SeqNum: 1000, Flags: TCPFlagSYN, WindowSize: 4096}
	n, err := synSeg.Build(remote.IP, h.localIP, synBuf)
	if err != nil {
		t.Fatalf("Build SYN: %v", err)
	}

	h.stack.Dispatch(remote.IP, h.localIP, synBuf[:n])

	acceptedHandle, ok := h.stack.Accept(listenerHandle)
	if !ok {
		t.Fatal("expected a connection in the accept backlog")
	}
	sock, ok := h.stack.Socket(acceptedHandle)
	if !ok {
		t.Fatal("accepted socket not found in registry")
	}
	if sock.State() != TCPSynReceived {
		t.Fatalf("expected SynReceived after inbound SYN, got %v", sock.State())
	}

	synAck := h.last()
	if synAck.Flags&TCPFlagSYN == 0 || synAck.Flags&TCPFlagACK == 0 {
		t.Fatalf("expected SYN+ACK in response to passive open, got %+v", synAck)
	}

	ackBuf := make([]byte, tcpMinHeaderSize)
	ackSeg := TCPHeader{
		SrcPort: remote.Port, DestPort: 80,
		SeqNum: synSeg.SeqNum + 1, AckNum: synAck.SeqNum + 1,
		Flags: TCPFlagACK, WindowSize: 4096,
	}
	n, _ = ackSeg.Build(remote.IP, h.localIP, ackBuf)
	h.stack.Dispatch(remote.IP, h.localIP, ackBuf[:n])

	if sock.State() != TCPEstablished {
		t.Fatalf("expected Established after final handshake ACK, got %v", sock.State())
	}
}
