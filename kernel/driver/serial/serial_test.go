package serial

import "testing"

// fakeUART is an in-memory register file standing in for the real I/O
// ports, wired in through the portRead/WriteByteFn seams.
type fakeUART struct {
	regs    [8]uint8
	dlab    bool
	divisor uint16
	written []byte
}

func newFakeUART(t *testing.T) (*Port, *fakeUART) {
	t.Helper()
	f := &fakeUART{}
	f.regs[regLSR] = lsrTHREmpty

	portReadByteFn = func(port uint16) uint8 {
		return f.regs[port-COM1Base]
	}
	portWriteByteFn = func(port uint16, v uint8) {
		offset := port - COM1Base
		switch offset {
		case regLCR:
			f.dlab = v&lcrDLAB != 0
			f.regs[offset] = v
		case regDivisorLow:
			if f.dlab {
				f.divisor = f.divisor&0xff00 | uint16(v)
				return
			}
			f.written = append(f.written, v)
		case regDivisorHigh:
			if f.dlab {
				f.divisor = f.divisor&0x00ff | uint16(v)<<8
				return
			}
			f.regs[offset] = v
		default:
			f.regs[offset] = v
		}
	}

	t.Cleanup(func() {
		portReadByteFn = savedReadByte
		portWriteByteFn = savedWriteByte
	})

	return &Port{base: COM1Base}, f
}

var savedReadByte = portReadByteFn
var savedWriteByte = portWriteByteFn

func TestInitProgramsDivisorAnd8N1(t *testing.T) {
	p, f := newFakeUART(t)
	p.init(38400)

	wantDivisor := uint16(baseClock / 38400)
	if f.divisor != wantDivisor {
		t.Fatalf("expected divisor %d, got %d", wantDivisor, f.divisor)
	}
	if f.regs[regLCR] != lcr8N1 {
		t.Fatalf("expected LCR left at 8N1 (0x%02x), got 0x%02x", lcr8N1, f.regs[regLCR])
	}
	if f.dlab {
		t.Fatal("DLAB must be cleared after programming the divisor")
	}
	if f.regs[regFCR]&fcrEnable == 0 {
		t.Fatal("expected FIFOs enabled")
	}
}

func TestWriteBytePollsLSRBeforeSending(t *testing.T) {
	p, f := newFakeUART(t)

	// Model a THR that reports busy for a couple of polls before draining,
	// without introducing concurrency into the test.
	pollsLeft := 2
	portReadByteFn = func(port uint16) uint8 {
		if port-COM1Base == regLSR {
			if pollsLeft > 0 {
				pollsLeft--
				return 0
			}
			return lsrTHREmpty
		}
		return f.regs[port-COM1Base]
	}

	p.WriteByte('A')

	if pollsLeft != 0 {
		t.Fatalf("expected WriteByte to poll LSR to completion, %d polls left", pollsLeft)
	}
	if len(f.written) != 1 || f.written[0] != 'A' {
		t.Fatalf("expected 'A' written to the data register, got %v", f.written)
	}
}

func TestWriteStringTranslatesNewlines(t *testing.T) {
	p, f := newFakeUART(t)
	p.WriteString("hi\n")

	if string(f.written) != "hi\r\n" {
		t.Fatalf("expected CRLF translation, got %q", f.written)
	}
}
