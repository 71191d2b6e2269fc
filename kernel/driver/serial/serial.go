// Package serial drives the 16550-compatible UART at the legacy COM1 I/O
// base, giving early boot code (and anything running before a console is
// attached) a place to write diagnostic output.
package serial

import "corekernel/kernel/cpu"

// Port I/O is indirected through function variables, the same seam
// kernel/driver/net/rtl8139 uses, so register access can be swapped for an
// in-memory fake in tests instead of touching real hardware ports.
var (
	portReadByteFn  = cpu.PortReadByte
	portWriteByteFn = cpu.PortWriteByte
)

// COM1Base is the conventional I/O port base for the first serial port on
// PC-compatible hardware.
const COM1Base = 0x3f8

const (
	regData        = 0 // DLAB=0: transmit/receive holding register
	regDivisorLow  = 0 // DLAB=1: low byte of the baud rate divisor
	regIER         = 1 // DLAB=0: interrupt enable register
	regDivisorHigh = 1 // DLAB=1: high byte of the baud rate divisor
	regFCR         = 2 // FIFO control register (write-only)
	regLCR         = 3 // line control register
	regMCR         = 4 // modem control register
	regLSR         = 5 // line status register
)

const (
	lcrDLAB   = 1 << 7 // divisor latch access bit
	lcrWLen8  = 0x03   // 8 data bits
	lcrStop1  = 0 << 2 // 1 stop bit
	lcrParity = 0 << 3 // no parity
	lcr8N1    = lcrWLen8 | lcrStop1 | lcrParity

	fcrEnable    = 1 << 0
	fcrClearRX   = 1 << 1
	fcrClearTX   = 1 << 2
	fcrTrigger14 = 3 << 6
	fcrDefault   = fcrEnable | fcrClearRX | fcrClearTX | fcrTrigger14

	mcrDTR       = 1 << 0
	mcrRTS       = 1 << 1
	mcrOut2      = 1 << 3 // must be set for interrupts to reach the PIC; harmless otherwise
	mcrLoopback  = 1 << 4
	mcrOperating = mcrDTR | mcrRTS | mcrOut2

	lsrTHREmpty = 1 << 5 // transmit holding register empty: safe to write
)

// baseClock is the UART's fixed input clock frequency in Hz; the divisor
// that programs a given baud rate is baseClock/baudRate.
const baseClock = 115200

// Port drives one 16550-compatible UART.
type Port struct {
	base uint16
}

// COM1 returns a Port for the conventional first serial port, initialized
// for 38400 8N1 with the transmit/receive FIFOs enabled.
func COM1() *Port {
	p := &Port{base: COM1Base}
	p.init(38400)
	return p
}

func (p *Port) reg(offset uint16) uint8 {
	return portReadByteFn(p.base + offset)
}

func (p *Port) setReg(offset uint16, v uint8) {
	portWriteByteFn(p.base+offset, v)
}

// init programs the divisor latch for baudRate, sets 8N1 framing and
// enables the transmit/receive FIFOs with a 14-byte trigger level.
func (p *Port) init(baudRate uint32) {
	divisor := uint16(baseClock / baudRate)

	p.setReg(regIER, 0) // no interrupts; WriteByte polls LSR instead

	p.setReg(regLCR, lcrDLAB)
	p.setReg(regDivisorLow, uint8(divisor))
	p.setReg(regDivisorHigh, uint8(divisor>>8))

	p.setReg(regLCR, lcr8N1)
	p.setReg(regFCR, fcrDefault)
	p.setReg(regMCR, mcrOperating)
}

// WriteByte blocks until the transmit holding register is empty and then
// sends b. It never returns an error: unlike the NIC driver's ring buffer,
// there is no failure mode short of the hardware being absent entirely, and
// an absent UART simply spins forever, which is acceptable for a
// diagnostics-only, boot-time-only output path.
func (p *Port) WriteByte(b byte) {
	for p.reg(regLSR)&lsrTHREmpty == 0 {
	}
	p.setReg(regData, b)
}

// WriteString writes each byte of s in order via WriteByte, translating a
// bare '\n' into "\r\n" so a plain terminal emulator renders lines correctly.
func (p *Port) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			p.WriteByte('\r')
		}
		p.WriteByte(s[i])
	}
}
