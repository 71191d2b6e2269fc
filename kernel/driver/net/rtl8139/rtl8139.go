package rtl8139

import (
	"corekernel/kernel"
	"corekernel/kernel/cpu"
	"corekernel/kernel/driver/pci"
	"corekernel/kernel/irq"
	"corekernel/kernel/kfmt"
	"corekernel/kernel/mem/dma"
	"corekernel/kernel/sync"
	"corekernel/kernel/task"
)

var (
	errNotFound      = &kernel.Error{Module: "rtl8139", Message: "no RTL8139 device found on the PCI bus"}
	errNoIOBar       = &kernel.Error{Module: "rtl8139", Message: "BAR0 is not an I/O-port region"}
	errResetTimeout  = &kernel.Error{Module: "rtl8139", Message: "software reset timed out"}
	errFrameTooLarge = &kernel.Error{Module: "rtl8139", Message: "frame exceeds maximum ethernet frame size"}
	errTxBufferBusy  = &kernel.Error{Module: "rtl8139", Message: "transmit descriptor still owned by the NIC"}
)

// Port I/O is indirected through function variables, the same seam
// kernel/cpu's own tests use for its declared-only assembly functions
// (see cpu.cpuidFn), so register access can be swapped for an in-memory
// fake in tests instead of touching real hardware ports.
var (
	portReadByteFn   = cpu.PortReadByte
	portWriteByteFn  = cpu.PortWriteByte
	portReadWordFn   = cpu.PortReadWord
	portWriteWordFn  = cpu.PortWriteWord
	portReadDwordFn  = cpu.PortReadDword
	portWriteDwordFn = cpu.PortWriteDword
)

// rxCoreSize is the nominal ring size configured via RCR (rcrBufferLen8K);
// the extra bytes in rxBufferSize are wrap slack a packet header can spill
// into, not additional ring capacity, so the read cursor folds back into
// [0, rxCoreSize) once it passes this point.
const rxCoreSize = 8192

// Driver drives one RTL8139 adapter through I/O-port register access.
type Driver struct {
	ioBase uint16
	mac    [6]byte

	rx       dma.Buffer
	rxOffset uint16

	tx     [txBufferCount]dma.Buffer
	nextTx uint8
	lock   sync.Spinlock

	rxWakeLock sync.Spinlock
	rxWaker    *task.Waker
}

// RegisterRXWaker stores w as the waker to notify the next time the receive
// interrupt fires, replacing anything registered by a previous poll. Mirrors
// kernel/net's own waiter pattern (socket.go's waiter type), adapted here
// since this package cannot import kernel/net without a cycle.
func (d *Driver) RegisterRXWaker(w *task.Waker) {
	d.rxWakeLock.Acquire()
	d.rxWaker = w
	d.rxWakeLock.Release()
}

func (d *Driver) wakeRX() {
	d.rxWakeLock.Acquire()
	w := d.rxWaker
	d.rxWaker = nil
	d.rxWakeLock.Release()
	if w != nil {
		w.Wake()
	}
}

// Probe scans the PCI bus for an RTL8139, initializes it and registers its
// hardware IRQ handler. It returns an error if no device is present or
// initialization fails at any step; none of those steps is retried.
func Probe() (*Driver, *kernel.Error) {
	dev, ok := pci.Find(vendorID, deviceID)
	if !ok {
		return nil, errNotFound
	}

	pci.EnableIOAndBusMastering(dev)

	base, isIO := pci.BAR(dev.Bus, dev.Slot, dev.Function, 0)
	if !isIO {
		return nil, errNoIOBar
	}

	d := &Driver{ioBase: uint16(base)}
	if err := d.reset(); err != nil {
		return nil, err
	}
	d.readMAC()
	if err := d.setupBuffers(); err != nil {
		return nil, err
	}
	d.configureReceiver()
	d.configureTransmitter()
	d.enableInterrupts()
	d.enableTxRx()

	irq.HandleIRQ(irq.IRQNum(dev.InterruptLine), func(_ *irq.Frame, _ *irq.Regs) {
		d.handleInterrupt()
	})

	kfmt.Printf("rtl8139: initialized, MAC=%02x:%02x:%02x:%02x:%02x:%02x\n",
		d.mac[0], d.mac[1], d.mac[2], d.mac[3], d.mac[4], d.mac[5])

	return d, nil
}

func (d *Driver) reg8(offset uint16) uint8 {
	return portReadByteFn(d.ioBase + offset)
}

func (d *Driver) setReg8(offset uint16, v uint8) {
	portWriteByteFn(d.ioBase+offset, v)
}

func (d *Driver) reg16(offset uint16) uint16 {
	return portReadWordFn(d.ioBase + offset)
}

func (d *Driver) setReg16(offset uint16, v uint16) {
	portWriteWordFn(d.ioBase+offset, v)
}

func (d *Driver) reg32(offset uint16) uint32 {
	return portReadDwordFn(d.ioBase + offset)
}

func (d *Driver) setReg32(offset uint16, v uint32) {
	portWriteDwordFn(d.ioBase+offset, v)
}

func (d *Driver) reset() *kernel.Error {
	d.setReg8(regCR, cmdReset)
	for i := 0; i < 1000; i++ {
		if d.reg8(regCR)&cmdReset == 0 {
			return nil
		}
	}
	return errResetTimeout
}

func (d *Driver) readMAC() {
	for i := 0; i < 6; i++ {
		d.mac[i] = d.reg8(regIDR0 + uint16(i))
	}
}

func (d *Driver) setupBuffers() *kernel.Error {
	rx, err := dma.Alloc(rxBufferSize)
	if err != nil {
		return err
	}
	d.rx = rx
	d.rxOffset = 0
	d.setReg32(regRBSTART, uint32(rx.Phys))

	for i := 0; i < txBufferCount; i++ {
		buf, err := dma.Alloc(txBufferSize)
		if err != nil {
			return err
		}
		d.tx[i] = buf
	}
	return nil
}

func (d *Driver) configureReceiver() {
	d.setReg32(regRCR, rcrAcceptBroadcast|rcrAcceptMulticast|rcrAcceptMatching|
		rcrBufferLen8K|rcrMaxDMAUnlimited|rcrRxFIFOThresh1K|rcrWrap)
}

func (d *Driver) configureTransmitter() {
	d.setReg32(regTCR, tcrMaxDMA2048|tcrInterframeGapStd)
}

func (d *Driver) enableInterrupts() {
	d.setReg16(regIMR, imrRxOK|imrTxOK|imrRxError|imrTxError|imrRxOverflow)
}

func (d *Driver) enableTxRx() {
	d.setReg8(regCR, cmdTxEnable|cmdRxEnable)
}

func (d *Driver) handleInterrupt() {
	isr := d.reg16(regISR)
	d.setReg16(regISR, isr) // write-back acknowledges the bits that fired
	if isr&(imrRxOK|imrRxError|imrRxOverflow) != 0 {
		d.wakeRX()
	}
}

// MAC implements kernel/driver/net.Interface.
func (d *Driver) MAC() [6]byte {
	return d.mac
}

// Transmit implements kernel/driver/net.Interface. It picks the next
// descriptor in round-robin order, rejecting the send if that descriptor
// is still owned by the NIC rather than blocking for it to free up.
func (d *Driver) Transmit(frame []byte) *kernel.Error {
	if len(frame) > maxFrameSize {
		return errFrameTooLarge
	}

	d.lock.Acquire()
	idx := d.nextTx % txBufferCount
	d.nextTx++
	d.lock.Release()

	tsdReg := uint16(regTSD0) + uint16(idx)*4
	if status := d.reg32(tsdReg); status&tsdOwnedByNIC != 0 && status&tsdTxOK == 0 {
		return errTxBufferBusy
	}

	buf := d.tx[idx].Bytes()
	copy(buf, frame)

	d.setReg32(uint16(regTSAD0)+uint16(idx)*4, uint32(d.tx[idx].Phys))
	d.setReg32(tsdReg, uint32(len(frame)))
	return nil
}

// Receive implements kernel/driver/net.Interface: it drains exactly one
// frame per call, advancing the ring's read offset and the CAPR register
// that tells the NIC how much space it can reuse.
func (d *Driver) Receive() ([]byte, bool) {
	if d.reg8(regCR)&cmdBufferEmpty != 0 {
		return nil, false
	}

	ring := d.rx.Bytes()
	header := uint32(ring[d.rxOffset]) | uint32(ring[d.rxOffset+1])<<8 |
		uint32(ring[d.rxOffset+2])<<16 | uint32(ring[d.rxOffset+3])<<24
	status := uint16(header)
	length := uint16(header >> 16)

	advance := func() {
		d.rxOffset = (d.rxOffset + length + 4 + 3) &^ 3
		if d.rxOffset >= rxCoreSize {
			d.rxOffset -= rxCoreSize
		}
		d.setReg16(regCAPR, d.rxOffset-16)
	}

	if status&rxStatusOK == 0 {
		advance()
		return nil, false
	}

	payloadLen := int(length) - 4 // strip the trailing CRC
	start := int(d.rxOffset) + 4
	frame := make([]byte, payloadLen)
	copy(frame, ring[start:start+payloadLen])

	advance()
	return frame, true
}

// LinkStatus implements kernel/driver/net.Interface.
func (d *Driver) LinkStatus() bool {
	return d.reg8(regMSR)&msrNoLink == 0
}
