package net

import "corekernel/kernel"

// EtherType identifies the protocol carried in an Ethernet frame's payload.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

const (
	ethHeaderSize  = 14
	ethMinPayload  = 46
	ethMaxPayload  = 1500
)

// BroadcastMAC is the all-ones Ethernet broadcast address.
var BroadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

var (
	errFrameTooShort    = &kernel.Error{Module: "net", Message: "ethernet frame shorter than header"}
	errPayloadTooLarge  = &kernel.Error{Module: "net", Message: "ethernet payload exceeds MTU"}
)

// EthernetFrame is a parsed Ethernet II frame (no CRC: the NIC driver
// strips it on receive and the hardware appends it on transmit).
type EthernetFrame struct {
	DestMAC   [6]byte
	SrcMAC    [6]byte
	EtherType EtherType
	Payload   []byte
}

// ParseEthernetFrame parses dest/src/ethertype and slices out the payload,
// grounded on original_source/net/ethernet.rs's EthernetFrame::from_bytes.
func ParseEthernetFrame(data []byte) (EthernetFrame, *kernel.Error) {
	if len(data) < ethHeaderSize {
		return EthernetFrame{}, errFrameTooShort
	}
	var f EthernetFrame
	copy(f.DestMAC[:], data[0:6])
	copy(f.SrcMAC[:], data[6:12])
	f.EtherType = EtherType(uint16(data[12])<<8 | uint16(data[13]))
	f.Payload = data[ethHeaderSize:]
	return f, nil
}

// Build serializes the frame, padding the payload to the minimum frame
// size. The CRC is left for the NIC to append on transmit.
func (f EthernetFrame) Build(out []byte) (int, *kernel.Error) {
	if len(f.Payload) > ethMaxPayload {
		return 0, errPayloadTooLarge
	}
	n := ethHeaderSize + len(f.Payload)
	padded := n
	if padded < ethHeaderSize+ethMinPayload {
		padded = ethHeaderSize + ethMinPayload
	}
	if len(out) < padded {
		return 0, errFrameTooShort
	}
	copy(out[0:6], f.DestMAC[:])
	copy(out[6:12], f.SrcMAC[:])
	out[12] = byte(f.EtherType >> 8)
	out[13] = byte(f.EtherType)
	copy(out[ethHeaderSize:n], f.Payload)
	for i := n; i < padded; i++ {
		out[i] = 0
	}
	return padded, nil
}

// IsBroadcast reports whether the frame is addressed to the broadcast MAC.
func (f EthernetFrame) IsBroadcast() bool {
	return f.DestMAC == BroadcastMAC
}

// IsMulticast reports whether the destination MAC has the multicast bit
// set and is not the broadcast address.
func (f EthernetFrame) IsMulticast() bool {
	return f.DestMAC[0]&0x01 != 0 && !f.IsBroadcast()
}
