package rtc

import (
	"testing"

	"corekernel/kernel/cpu"
)

func TestTickAndNowTicks(t *testing.T) {
	ticks = 0
	if NowTicks() != 0 {
		t.Fatalf("expected 0 ticks at start, got %d", NowTicks())
	}
	for i := 0; i < 5; i++ {
		Tick()
	}
	if got := NowTicks(); got != 5 {
		t.Fatalf("expected 5 ticks, got %d", got)
	}
}

func newFakeCMOS(t *testing.T, seconds, minutes, hours, statusB uint8) {
	t.Helper()
	regs := map[uint8]uint8{
		regSeconds: seconds,
		regMinutes: minutes,
		regHours:   hours,
		regStatusA: 0,
		regStatusB: statusB,
	}
	var selected uint8
	portWriteByteFn = func(port uint16, v uint8) {
		if port == cmosAddress {
			selected = v &^ 0x80
		}
	}
	portReadByteFn = func(port uint16) uint8 {
		if port == cmosData {
			return regs[selected]
		}
		return 0
	}
	t.Cleanup(func() {
		portReadByteFn = cpu.PortReadByte
		portWriteByteFn = cpu.PortWriteByte
	})
}

func TestReadSecondsSinceMidnightBCD(t *testing.T) {
	// 0x12 BCD = 12, 0x34 BCD = 34, 0x08 BCD = 8: 08:34:12, binary mode off.
	newFakeCMOS(t, 0x12, 0x34, 0x08, 0)
	want := uint32(8*3600 + 34*60 + 12)
	if got := ReadSecondsSinceMidnight(); got != want {
		t.Fatalf("ReadSecondsSinceMidnight() = %d, want %d", got, want)
	}
}

func TestReadSecondsSinceMidnightBinaryMode(t *testing.T) {
	newFakeCMOS(t, 12, 34, 8, statusBBinaryMode)
	want := uint32(8*3600 + 34*60 + 12)
	if got := ReadSecondsSinceMidnight(); got != want {
		t.Fatalf("ReadSecondsSinceMidnight() = %d, want %d", got, want)
	}
}
