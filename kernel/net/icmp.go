package net

import "corekernel/kernel"

// ICMP message types this stack recognizes (RFC 792). Only echo
// request/reply are acted on; everything else is parsed but dropped.
const (
	ICMPTypeEchoReply   uint8 = 0
	ICMPTypeEchoRequest uint8 = 8
)

const icmpHeaderSize = 8

var errICMPTooShort = &kernel.Error{Module: "net", Message: "icmp packet shorter than header"}

// ICMPPacket is a parsed ICMP echo request or reply.
type ICMPPacket struct {
	Type       uint8
	Code       uint8
	Identifier uint16
	Sequence   uint16
	Data       []byte
}

// ParseICMP parses the 8-byte ICMP header and slices out the payload. The
// caller is responsible for checksum verification against the full
// buffer (see VerifyICMPChecksum) since the checksum covers bytes this
// function does not retain ownership of.
func ParseICMP(data []byte) (ICMPPacket, *kernel.Error) {
	if len(data) < icmpHeaderSize {
		return ICMPPacket{}, errICMPTooShort
	}
	return ICMPPacket{
		Type:       data[0],
		Code:       data[1],
		Identifier: uint16(data[4])<<8 | uint16(data[5]),
		Sequence:   uint16(data[6])<<8 | uint16(data[7]),
		Data:       data[icmpHeaderSize:],
	}, nil
}

// VerifyICMPChecksum reports whether the checksum embedded in data (bytes
// 2-3) is correct for the rest of the ICMP message.
func VerifyICMPChecksum(data []byte) bool {
	if len(data) < icmpHeaderSize {
		return false
	}
	want := uint16(data[2])<<8 | uint16(data[3])
	sum := checksumSum(0, data[:2])
	sum = checksumSum(sum, []byte{0, 0})
	sum = checksumSum(sum, data[4:])
	return foldChecksum(sum) == want
}

// Build serializes the packet and fills in its checksum.
func (p ICMPPacket) Build(out []byte) (int, *kernel.Error) {
	total := icmpHeaderSize + len(p.Data)
	if len(out) < total {
		return 0, errICMPTooShort
	}
	out[0] = p.Type
	out[1] = p.Code
	out[2], out[3] = 0, 0
	out[4] = byte(p.Identifier >> 8)
	out[5] = byte(p.Identifier)
	out[6] = byte(p.Sequence >> 8)
	out[7] = byte(p.Sequence)
	copy(out[icmpHeaderSize:total], p.Data)

	cs := checksum(out[:total])
	out[2] = byte(cs >> 8)
	out[3] = byte(cs)
	return total, nil
}

// EchoReply builds the reply to an echo request, preserving identifier,
// sequence and payload as RFC 792 requires.
func (p ICMPPacket) EchoReply() ICMPPacket {
	return ICMPPacket{Type: ICMPTypeEchoReply, Code: p.Code, Identifier: p.Identifier, Sequence: p.Sequence, Data: p.Data}
}
