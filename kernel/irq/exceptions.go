package irq

import (
	"corekernel/kernel"
	"corekernel/kernel/kfmt"
)

var errDoubleFault = &kernel.Error{Module: "irq", Message: "double fault"}

// InstallFaultHandlers wires the CPU exceptions that are not already
// handled elsewhere (page fault and general protection fault are installed
// by kernel/mem/vmm) to their default handlers: breakpoint logs and
// resumes, invalid opcode and double fault are unrecoverable and halt the
// system. The double-fault gate must run on its own interrupt stack, since
// the fault it is reporting may itself be a stack overflow; the IST slot
// is wired via UseInterruptStack once gate.Init has built the TSS that
// slot points into.
func InstallFaultHandlers(doubleFaultISTIndex uint8) {
	HandleException(Breakpoint, breakpointHandler)
	HandleException(InvalidOpcode, invalidOpcodeHandler)
	HandleException(DoubleFault, doubleFaultHandler)
	UseInterruptStack(DoubleFault, doubleFaultISTIndex)
}

func breakpointHandler(frame *Frame, _ *Regs) {
	kfmt.Printf("breakpoint at %16x\n", frame.RIP)
}

func invalidOpcodeHandler(frame *Frame, _ *Regs) {
	kfmt.Printf("invalid opcode at %16x\n", frame.RIP)
	kfmt.Panic(&kernel.Error{Module: "irq", Message: "invalid opcode"})
}

func doubleFaultHandler(frame *Frame, _ *Regs) {
	kfmt.Printf("double fault, faulting RIP=%16x\n", frame.RIP)
	kfmt.Panic(errDoubleFault)
}
