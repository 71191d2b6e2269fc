package net

import "testing"

func TestICMPBuildParseRoundTrip(t *testing.T) {
	p := ICMPPacket{Type: ICMPTypeEchoRequest, Identifier: 0x1234, Sequence: 7, Data: []byte("hello")}
	buf := make([]byte, icmpHeaderSize+len(p.Data))
	n, err := p.Build(buf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !VerifyICMPChecksum(buf[:n]) {
		t.Fatal("checksum should verify on a freshly built packet")
	}
	got, err := ParseICMP(buf[:n])
	if err != nil {
		t.Fatalf("ParseICMP: %v", err)
	}
	if got.Type != p.Type || got.Identifier != p.Identifier || got.Sequence != p.Sequence || string(got.Data) != string(p.Data) {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestICMPEchoReplyPreservesIdentity(t *testing.T) {
	req := ICMPPacket{Type: ICMPTypeEchoRequest, Identifier: 42, Sequence: 1, Data: []byte("abc")}
	reply := req.EchoReply()
	if reply.Type != ICMPTypeEchoReply {
		t.Fatalf("expected echo reply type, got %d", reply.Type)
	}
	if reply.Identifier != req.Identifier || reply.Sequence != req.Sequence || string(reply.Data) != string(req.Data) {
		t.Fatalf("echo reply must preserve identifier/sequence/payload: %+v", reply)
	}
}

func TestICMPVerifyChecksumDetectsCorruption(t *testing.T) {
	p := ICMPPacket{Type: ICMPTypeEchoRequest, Data: []byte("x")}
	buf := make([]byte, icmpHeaderSize+1)
	n, _ := p.Build(buf)
	buf[n-1] ^= 0xFF
	if VerifyICMPChecksum(buf[:n]) {
		t.Fatal("expected checksum mismatch after corrupting payload")
	}
}
