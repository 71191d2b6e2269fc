// Package gate installs the x86-64 segmentation structures the CPU needs
// before the IDT can be loaded: the GDT (null, kernel code, kernel data and
// TSS descriptors) and a task-state segment whose first interrupt-stack-table
// slot points at a dedicated stack reserved for double-fault delivery.
//
// Exception and IRQ vector dispatch lives in the sibling irq package; this
// package only builds the segment tables irq's gates are installed into.
package gate

import (
	"corekernel/kernel"
	"unsafe"
)

// Selector identifies a GDT entry via its byte offset and requested
// privilege level, in the format the CPU's segment registers expect.
type Selector uint16

const (
	// NullSelector is the mandatory unused first GDT entry.
	NullSelector Selector = 0

	// KernelCodeSelector addresses the 64-bit kernel code segment.
	KernelCodeSelector Selector = 0x08

	// KernelDataSelector addresses the kernel data segment.
	KernelDataSelector Selector = 0x10

	// TSSSelector addresses the task-state segment descriptor (occupies
	// two GDT slots on x86-64, since its base address is 64 bits wide).
	TSSSelector Selector = 0x18
)

// doubleFaultISTIndex is the 1-based IST slot (IST[0] in spec terms, but the
// x86-64 TSS numbers its seven IST pointers 1-7) reserved exclusively for
// the double-fault handler.
const doubleFaultISTIndex = 1

// MinDoubleFaultStackSize is the minimum size a caller must reserve for the
// stack passed to Init, per the spec's "IST stack ≥16 KiB" invariant.
const MinDoubleFaultStackSize = 16 * 1024

var errStackTooSmall = &kernel.Error{Module: "gate", Message: "double-fault stack smaller than MinDoubleFaultStackSize"}

// taskStateSegment mirrors the x86-64 TSS layout. Only the IST slots are
// used by this kernel (no ring transitions, so RSP0-2 stay zero).
type taskStateSegment struct {
	reserved0 uint32
	rsp       [3]uint64
	reserved1 uint64
	ist       [7]uint64
	reserved2 uint64
	reserved3 uint16
	ioMapBase uint16
}

var tss taskStateSegment

// Init builds the GDT (null, kernel code, kernel data, TSS descriptor),
// points the TSS's first IST slot at doubleFaultStackTop (the highest
// address of a dedicated stack of at least MinDoubleFaultStackSize bytes,
// distinct from the kernel stack) and loads the resulting table. It must run
// before irq.Init installs the double-fault gate, since that gate is wired
// to use IST[0] (irq.UseInterruptStack records the mapping; the CPU only
// honours it once this GDT/TSS pair is active).
func Init(doubleFaultStackTop uintptr, doubleFaultStackSize uintptr) *kernel.Error {
	if doubleFaultStackSize < MinDoubleFaultStackSize {
		return errStackTooSmall
	}

	tss.ist[doubleFaultISTIndex-1] = uint64(doubleFaultStackTop)
	// No IO permission bitmap follows the TSS; point the base past the
	// structure's end so every port access is treated as privileged.
	tss.ioMapBase = uint16(unsafe.Sizeof(tss))

	installGDT(&tss)
	return nil
}

// installGDT writes the GDT descriptors, loads GDTR, reloads the code
// segment via a far return and reloads the data segment registers, then
// loads the task register with TSSSelector. Implemented in assembly.
func installGDT(tss *taskStateSegment)

// DoubleFaultISTIndex returns the 1-based IST slot reserved for the
// double-fault handler, for irq.UseInterruptStack to wire up.
func DoubleFaultISTIndex() uint8 {
	return doubleFaultISTIndex
}
