package net

import "corekernel/kernel"

// IPv4 is a 4-byte IPv4 address in network order.
type IPv4 [4]byte

func (a IPv4) IsUnspecified() bool { return a == IPv4{} }

// IPv4 protocol numbers (IANA).
const (
	ProtocolICMP uint8 = 1
	ProtocolTCP  uint8 = 6
	ProtocolUDP  uint8 = 17
)

const (
	ipv4MinHeaderSize = 20
	ipv4DefaultTTL    = 64

	ipv4FlagDontFragment  = 0x2 // bit 1 of the 3-bit flags field
	ipv4FlagMoreFragments = 0x1
)

var (
	errIPv4TooShort   = &kernel.Error{Module: "net", Message: "ipv4 packet shorter than header"}
	errIPv4Version    = &kernel.Error{Module: "net", Message: "ipv4 version field is not 4"}
	errIPv4IHL        = &kernel.Error{Module: "net", Message: "ipv4 IHL field below minimum"}
	errIPv4Length     = &kernel.Error{Module: "net", Message: "ipv4 total length shorter than header"}
	errIPv4Checksum   = &kernel.Error{Module: "net", Message: "ipv4 header checksum mismatch"}
	errIPv4TTL        = &kernel.Error{Module: "net", Message: "ipv4 TTL is zero"}
)

// IPv4Header is a parsed IPv4 header (options, if any, are dropped —
// nothing in this stack emits or consumes them).
type IPv4Header struct {
	IHL            uint8
	DSCP           uint8
	ECN            uint8
	TotalLength    uint16
	Identification uint16
	Flags          uint8
	FragmentOffset uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	Src            IPv4
	Dst            IPv4
}

// NewIPv4Header builds a header with the stack's usual defaults (version
// 4, IHL 5, TTL 64, no fragmentation), as original_source/net/ipv4.rs's
// Ipv4Header::new does.
func NewIPv4Header(src, dst IPv4, protocol uint8, payloadLen int) IPv4Header {
	return IPv4Header{
		IHL:         5,
		TotalLength: uint16(ipv4MinHeaderSize + payloadLen),
		TTL:         ipv4DefaultTTL,
		Protocol:    protocol,
		Src:         src,
		Dst:         dst,
	}
}

// ParseIPv4 parses a header from data and returns it along with the
// payload slice, validating version, IHL, total length, TTL and checksum.
func ParseIPv4(data []byte) (IPv4Header, []byte, *kernel.Error) {
	if len(data) < ipv4MinHeaderSize {
		return IPv4Header{}, nil, errIPv4TooShort
	}
	version := data[0] >> 4
	ihl := data[0] & 0x0F
	if version != 4 {
		return IPv4Header{}, nil, errIPv4Version
	}
	if ihl < 5 {
		return IPv4Header{}, nil, errIPv4IHL
	}
	headerLen := int(ihl) * 4
	if len(data) < headerLen {
		return IPv4Header{}, nil, errIPv4TooShort
	}

	h := IPv4Header{
		IHL:            ihl,
		DSCP:           data[1] >> 2,
		ECN:            data[1] & 0x03,
		TotalLength:    uint16(data[2])<<8 | uint16(data[3]),
		Identification: uint16(data[4])<<8 | uint16(data[5]),
		TTL:            data[8],
		Protocol:       data[9],
		Checksum:       uint16(data[10])<<8 | uint16(data[11]),
	}
	flagsFrag := uint16(data[6])<<8 | uint16(data[7])
	h.Flags = uint8(flagsFrag >> 13)
	h.FragmentOffset = flagsFrag & 0x1FFF
	copy(h.Src[:], data[12:16])
	copy(h.Dst[:], data[16:20])

	if int(h.TotalLength) < headerLen {
		return IPv4Header{}, nil, errIPv4Length
	}
	if h.TTL == 0 {
		return IPv4Header{}, nil, errIPv4TTL
	}

	sum := checksumSum(0, data[:10])
	sum = checksumSum(sum, []byte{0, 0})
	sum = checksumSum(sum, data[12:headerLen])
	if foldChecksum(sum) != h.Checksum {
		return IPv4Header{}, nil, errIPv4Checksum
	}

	end := int(h.TotalLength)
	if end > len(data) {
		end = len(data)
	}
	return h, data[headerLen:end], nil
}

// IsFragmented reports whether this header describes a fragment.
func (h IPv4Header) IsFragmented() bool {
	return h.Flags&ipv4FlagMoreFragments != 0 || h.FragmentOffset != 0
}

// Build serializes the 20-byte header (no options) and payload into out,
// computing the header checksum.
func (h IPv4Header) Build(payload []byte, out []byte) (int, *kernel.Error) {
	total := ipv4MinHeaderSize + len(payload)
	if len(out) < total {
		return 0, errIPv4TooShort
	}
	out[0] = (4 << 4) | 5
	out[1] = (h.DSCP << 2) | (h.ECN & 0x03)
	out[2] = byte(h.TotalLength >> 8)
	out[3] = byte(h.TotalLength)
	out[4] = byte(h.Identification >> 8)
	out[5] = byte(h.Identification)
	flagsFrag := (uint16(h.Flags&0x07) << 13) | (h.FragmentOffset & 0x1FFF)
	out[6] = byte(flagsFrag >> 8)
	out[7] = byte(flagsFrag)
	out[8] = h.TTL
	out[9] = h.Protocol
	out[10] = 0
	out[11] = 0
	copy(out[12:16], h.Src[:])
	copy(out[16:20], h.Dst[:])

	cs := checksum(out[:ipv4MinHeaderSize])
	out[10] = byte(cs >> 8)
	out[11] = byte(cs)

	copy(out[ipv4MinHeaderSize:total], payload)
	return total, nil
}
