// Package rtl8139 drives the Realtek RTL8139 fast-ethernet controller: PCI
// discovery, DMA ring setup, and the register-level transmit/receive
// protocol. It satisfies kernel/driver/net.Interface.
//
// Grounded throughout on original_source/drivers/net/rtl8139/{mod,consts,
// registers}.rs, translated from I/O-port-only Rust into Go using
// kernel/cpu's port primitives and kernel/mem/dma for buffer allocation.
package rtl8139

const (
	vendorID = 0x10EC
	deviceID = 0x8139
)

// Register offsets from the device's I/O base.
const (
	regIDR0    = 0x00 // first of 6 consecutive MAC address bytes
	regTSD0    = 0x10 // first of 4 transmit status registers
	regTSAD0   = 0x20 // first of 4 transmit start address registers
	regRBSTART = 0x30
	regCR      = 0x37
	regCAPR    = 0x38
	regIMR     = 0x3C
	regISR     = 0x3E
	regTCR     = 0x40
	regRCR     = 0x44
	regMSR     = 0x58
)

const (
	txBufferSize  = 2048
	txBufferCount = 4
	// rxBufferSize is 8K + 16 bytes for the wrap-around slack the RTL8139
	// writes past the nominal ring end, plus room for one maximum-size
	// frame so a packet straddling the wrap point can still be read
	// contiguously before CAPR advances past it.
	rxBufferSize = 8192 + 16 + 1536

	maxFrameSize = 1518
)

const (
	cmdBufferEmpty = 1 << 0
	cmdTxEnable    = 1 << 2
	cmdRxEnable    = 1 << 3
	cmdReset       = 1 << 4
)

const (
	imrRxOK       = 1 << 0
	imrRxError    = 1 << 1
	imrTxOK       = 1 << 2
	imrTxError    = 1 << 3
	imrRxOverflow = 1 << 4
)

const (
	rcrAcceptBroadcast = 1 << 3
	rcrAcceptMulticast = 1 << 2
	rcrAcceptMatching  = 1 << 1
	rcrWrap            = 1 << 7
	rcrRxFIFOThresh1K  = 0x0000C000
	rcrMaxDMAUnlimited = 0x00000700
	rcrBufferLen8K     = 0x00000000
)

const (
	tcrMaxDMA2048       = 0x00000700
	tcrInterframeGapStd = 0x03000000
)

const (
	tsdOwnedByNIC = 1 << 13
	tsdTxOK       = 1 << 15
)

const (
	rxStatusOK = 1 << 0
)

const (
	msrNoLink = 1 << 2
)
