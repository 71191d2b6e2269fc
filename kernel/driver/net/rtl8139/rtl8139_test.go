package rtl8139

import (
	"corekernel/kernel/mem/dma"
	"testing"
	"unsafe"
)

// fakeRegs is an in-memory register file standing in for the real I/O
// ports, wired in through the portRead/WriteXxxFn seams.
type fakeRegs struct {
	bytes [0x100]uint8
}

func newFakeDriver(t *testing.T) (*Driver, *fakeRegs) {
	t.Helper()
	regs := &fakeRegs{}

	portReadByteFn = func(port uint16) uint8 { return regs.bytes[port] }
	portWriteByteFn = func(port uint16, v uint8) {
		if port == regCR && v&cmdReset != 0 {
			// Real hardware clears the reset bit once the reset
			// completes; the fake models that as instantaneous.
			v &^= cmdReset
		}
		regs.bytes[port] = v
	}
	portReadWordFn = func(port uint16) uint16 {
		return uint16(regs.bytes[port]) | uint16(regs.bytes[port+1])<<8
	}
	portWriteWordFn = func(port uint16, v uint16) {
		regs.bytes[port] = uint8(v)
		regs.bytes[port+1] = uint8(v >> 8)
	}
	portReadDwordFn = func(port uint16) uint32 {
		return uint32(regs.bytes[port]) | uint32(regs.bytes[port+1])<<8 |
			uint32(regs.bytes[port+2])<<16 | uint32(regs.bytes[port+3])<<24
	}
	portWriteDwordFn = func(port uint16, v uint32) {
		regs.bytes[port] = uint8(v)
		regs.bytes[port+1] = uint8(v >> 8)
		regs.bytes[port+2] = uint8(v >> 16)
		regs.bytes[port+3] = uint8(v >> 24)
	}

	t.Cleanup(func() {
		portReadByteFn = nil
		portWriteByteFn = nil
		portReadWordFn = nil
		portWriteWordFn = nil
		portReadDwordFn = nil
		portWriteDwordFn = nil
	})

	// Software reset self-clears immediately in the fake, since nothing
	// ever sets cmdReset again after Driver.reset() writes it.
	d := &Driver{ioBase: 0}
	return d, regs
}

func fakeDMABuffer(size int) dma.Buffer {
	buf := make([]byte, size)
	return dma.Buffer{Virt: uintptr(unsafe.Pointer(&buf[0])), Size: uintptr(size)}
}

func TestResetSucceedsWhenBitSelfClears(t *testing.T) {
	d, regs := newFakeDriver(t)
	regs.bytes[regCR] = 0 // reset bit never actually gets set by the fake

	if err := d.reset(); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
}

func TestReadMACReadsSixConsecutiveBytes(t *testing.T) {
	d, regs := newFakeDriver(t)
	want := [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}
	for i, b := range want {
		regs.bytes[regIDR0+i] = b
	}

	d.readMAC()
	if d.MAC() != want {
		t.Fatalf("unexpected MAC %x, want %x", d.MAC(), want)
	}
}

func TestTransmitWritesFrameAndAdvancesRoundRobin(t *testing.T) {
	d, regs := newFakeDriver(t)
	for i := range d.tx {
		d.tx[i] = fakeDMABuffer(txBufferSize)
	}

	frame := []byte{1, 2, 3, 4}
	if err := d.Transmit(frame); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}

	got := d.tx[0].Bytes()[:len(frame)]
	for i := range frame {
		if got[i] != frame[i] {
			t.Fatalf("tx buffer mismatch at %d: got %x want %x", i, got[i], frame[i])
		}
	}
	gotLen := uint32(regs.bytes[regTSD0]) | uint32(regs.bytes[regTSD0+1])<<8 |
		uint32(regs.bytes[regTSD0+2])<<16 | uint32(regs.bytes[regTSD0+3])<<24
	if gotLen != uint32(len(frame)) {
		t.Fatalf("unexpected TSD length: %d, want %d", gotLen, len(frame))
	}

	// Second transmit must land in descriptor 1.
	if err := d.Transmit([]byte{9}); err != nil {
		t.Fatalf("unexpected error: %s", err.Message)
	}
	if d.tx[1].Bytes()[0] != 9 {
		t.Fatal("expected second transmit to use the next descriptor")
	}
}

func TestTransmitRejectsOversizeFrame(t *testing.T) {
	d, _ := newFakeDriver(t)
	for i := range d.tx {
		d.tx[i] = fakeDMABuffer(txBufferSize)
	}

	oversized := make([]byte, maxFrameSize+1)
	if err := d.Transmit(oversized); err == nil {
		t.Fatal("expected an error for an oversize frame")
	}
}

func TestTransmitRejectsBusyDescriptor(t *testing.T) {
	d, regs := newFakeDriver(t)
	for i := range d.tx {
		d.tx[i] = fakeDMABuffer(txBufferSize)
	}
	regs.bytes[regTSD0] = uint8(tsdOwnedByNIC)
	regs.bytes[regTSD0+1] = uint8(tsdOwnedByNIC >> 8)

	if err := d.Transmit([]byte{1}); err == nil {
		t.Fatal("expected an error when the descriptor is still owned by the NIC")
	}
}

func TestReceiveReturnsFalseWhenBufferEmpty(t *testing.T) {
	d, regs := newFakeDriver(t)
	regs.bytes[regCR] = cmdBufferEmpty

	if _, ok := d.Receive(); ok {
		t.Fatal("expected no frame when CR reports the buffer empty")
	}
}

func TestReceiveParsesHeaderAndAdvancesOffset(t *testing.T) {
	d, regs := newFakeDriver(t)
	regs.bytes[regCR] = 0 // buffer not empty

	d.rx = fakeDMABuffer(rxBufferSize)
	ring := d.rx.Bytes()

	payload := []byte{0xAA, 0xBB, 0xCC}
	totalLen := len(payload) + 4 // + CRC
	ring[0] = byte(rxStatusOK)
	ring[1] = 0
	ring[2] = byte(totalLen)
	ring[3] = byte(totalLen >> 8)
	copy(ring[4:], payload)

	frame, ok := d.Receive()
	if !ok {
		t.Fatal("expected a frame")
	}
	if len(frame) != len(payload) {
		t.Fatalf("unexpected frame length %d, want %d", len(frame), len(payload))
	}
	for i := range payload {
		if frame[i] != payload[i] {
			t.Fatalf("payload mismatch at %d: got %x want %x", i, frame[i], payload[i])
		}
	}

	wantOffset := (uint16(totalLen) + 4 + 3) &^ 3
	if d.rxOffset != wantOffset {
		t.Fatalf("unexpected rxOffset %d, want %d", d.rxOffset, wantOffset)
	}
}

func TestLinkStatusReflectsMSR(t *testing.T) {
	d, regs := newFakeDriver(t)

	regs.bytes[regMSR] = 0
	if !d.LinkStatus() {
		t.Fatal("expected link up when MSR link bit is clear")
	}

	regs.bytes[regMSR] = msrNoLink
	if d.LinkStatus() {
		t.Fatal("expected link down when MSR link bit is set")
	}
}
