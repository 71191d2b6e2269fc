package net

import "corekernel/kernel"

// TCP flag bits (RFC 793 §3.1).
const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagPSH uint8 = 1 << 3
	TCPFlagACK uint8 = 1 << 4
	TCPFlagURG uint8 = 1 << 5
)

const (
	tcpMinHeaderSize = 20
	// DefaultMSS is the maximum segment size this stack advertises and
	// assumes for peers that omit the MSS option, sized for a standard
	// Ethernet MTU minus the IPv4 and TCP fixed headers.
	DefaultMSS = 1460

	tcpOptMSS       = 2
	tcpOptEndOfList = 0
	tcpOptNop       = 1
)

var (
	errTCPTooShort  = &kernel.Error{Module: "net", Message: "tcp segment shorter than header"}
	errTCPDataOff   = &kernel.Error{Module: "net", Message: "tcp data offset invalid"}
	errTCPChecksum  = &kernel.Error{Module: "net", Message: "tcp checksum mismatch"}
)

// TCPHeader is a parsed TCP segment header plus its payload.
type TCPHeader struct {
	SrcPort    uint16
	DestPort   uint16
	SeqNum     uint32
	AckNum     uint32
	Flags      uint8
	WindowSize uint16
	MSS        uint16 // 0 if the peer sent no MSS option
	Payload    []byte
}

// ParseTCP parses the header, skips over options (only MSS is
// interpreted; the rest are ignored), and validates the checksum against
// src/dst.
func ParseTCP(src, dst IPv4, data []byte) (TCPHeader, *kernel.Error) {
	if len(data) < tcpMinHeaderSize {
		return TCPHeader{}, errTCPTooShort
	}
	dataOffset := int(data[12]>>4) * 4
	if dataOffset < tcpMinHeaderSize || dataOffset > len(data) {
		return TCPHeader{}, errTCPDataOff
	}

	sum := pseudoHeaderSum(src, dst, ProtocolTCP, len(data))
	sum = checksumSum(sum, data)
	if foldChecksum(sum) != 0 {
		return TCPHeader{}, errTCPChecksum
	}

	h := TCPHeader{
		SrcPort:    uint16(data[0])<<8 | uint16(data[1]),
		DestPort:   uint16(data[2])<<8 | uint16(data[3]),
		SeqNum:     uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]),
		AckNum:     uint32(data[8])<<24 | uint32(data[9])<<16 | uint32(data[10])<<8 | uint32(data[11]),
		Flags:      data[13],
		WindowSize: uint16(data[14])<<8 | uint16(data[15]),
		Payload:    data[dataOffset:],
	}
	parseTCPOptions(data[tcpMinHeaderSize:dataOffset], &h)
	return h, nil
}

func parseTCPOptions(opts []byte, h *TCPHeader) {
	for i := 0; i < len(opts); {
		switch opts[i] {
		case tcpOptEndOfList:
			return
		case tcpOptNop:
			i++
		case tcpOptMSS:
			if i+4 <= len(opts) {
				h.MSS = uint16(opts[i+2])<<8 | uint16(opts[i+3])
			}
			i += 4
		default:
			if i+1 >= len(opts) {
				return
			}
			length := int(opts[i+1])
			if length < 2 {
				return
			}
			i += length
		}
	}
}

// Build serializes h and its payload into out, appending an MSS option
// when h.MSS is set (used only on SYN/SYN-ACK segments), and fills in the
// checksum.
func (h TCPHeader) Build(src, dst IPv4, out []byte) (int, *kernel.Error) {
	headerLen := tcpMinHeaderSize
	var opts [4]byte
	hasOpts := h.MSS != 0
	if hasOpts {
		headerLen += 4
	}
	total := headerLen + len(h.Payload)
	if len(out) < total {
		return 0, errTCPTooShort
	}

	out[0], out[1] = byte(h.SrcPort>>8), byte(h.SrcPort)
	out[2], out[3] = byte(h.DestPort>>8), byte(h.DestPort)
	out[4], out[5], out[6], out[7] = byte(h.SeqNum>>24), byte(h.SeqNum>>16), byte(h.SeqNum>>8), byte(h.SeqNum)
	out[8], out[9], out[10], out[11] = byte(h.AckNum>>24), byte(h.AckNum>>16), byte(h.AckNum>>8), byte(h.AckNum)
	out[12] = byte(headerLen/4) << 4
	out[13] = h.Flags
	out[14], out[15] = byte(h.WindowSize>>8), byte(h.WindowSize)
	out[16], out[17] = 0, 0 // checksum, filled below
	out[18], out[19] = 0, 0 // urgent pointer, unused

	if hasOpts {
		opts[0], opts[1] = tcpOptMSS, 4
		opts[2], opts[3] = byte(h.MSS>>8), byte(h.MSS)
		copy(out[tcpMinHeaderSize:headerLen], opts[:])
	}
	copy(out[headerLen:total], h.Payload)

	sum := pseudoHeaderSum(src, dst, ProtocolTCP, total)
	sum = checksumSum(sum, out[:total])
	cs := foldChecksum(sum)
	out[16], out[17] = byte(cs>>8), byte(cs)
	return total, nil
}
