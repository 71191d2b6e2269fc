// Package boot sequences the kernel's subsystem bring-up. It is the Go-side
// counterpart to gopher-os's rt0/kmain split: the assembly entry stub (not
// part of this tree) sets up a minimal stack and jumps into Init, handing it
// the multiboot info pointer and the kernel image's physical extents.
package boot

import (
	"corekernel/kernel"
	"corekernel/kernel/driver/net/rtl8139"
	"corekernel/kernel/gate"
	"corekernel/kernel/goruntime"
	"corekernel/kernel/hal"
	"corekernel/kernel/hal/multiboot"
	"corekernel/kernel/input"
	"corekernel/kernel/irq"
	"corekernel/kernel/kfmt/early"
	"corekernel/kernel/mem"
	"corekernel/kernel/mem/heap"
	"corekernel/kernel/mem/pmm/allocator"
	"corekernel/kernel/mem/vmm"
	"corekernel/kernel/net"
	"corekernel/kernel/rtc"
	"corekernel/kernel/task"
)

// kernelHeapStart is an arbitrary, page-aligned address inside the upper
// half of the address space, well above where setupPDTForKernel maps the
// kernel image itself.
const kernelHeapStart = 0xffffff0000000000

// kernelHeapSize is the network-stack-carrying default (open question 3 in
// favor of a single fixed configuration rather than a build tag).
const kernelHeapSize = 2 * mem.Mb

// doubleFaultStackSize is the minimum gate.Init accepts.
const doubleFaultStackSize = gate.MinDoubleFaultStackSize

// executorCapacity bounds the ready queue; one slot per long-lived task
// (NIC RX, NIC TX, keyboard, mouse) plus headroom for socket futures.
const executorCapacity = 64

var errNoNIC = &kernel.Error{Module: "boot", Message: "no supported NIC found; network stack disabled"}

// Config carries the values only the assembly entry stub can know.
type Config struct {
	MultibootInfoPtr uintptr
	KernelStart      uintptr
	KernelEnd        uintptr
	KernelPageOffset uintptr

	// DoubleFaultStackTop is the highest address of a dedicated stack of
	// at least gate.MinDoubleFaultStackSize bytes, reserved by the
	// assembly stub for the double-fault IST entry.
	DoubleFaultStackTop uintptr

	// LocalIP/Netmask/Gateway configure the network stack. Gateway may
	// be nil for a directly-connected-only routing table.
	LocalIP net.IPv4
	Netmask net.IPv4
	Gateway *net.IPv4
	MTU     int
}

// Init brings up every kernel subsystem in dependency order: frame allocator
// -> page mapper -> heap -> descriptor tables -> IRQ dispatch -> PIC remap ->
// RTC tick source -> executor -> input pipelines -> NIC driver -> network
// stack. It panics on any unrecoverable failure, mirroring the teacher's
// Kmain (there is no supervisor to report to this early in boot).
//
// Init returns the executor without running it: the caller is expected to
// enter Run after Init.
func Init(cfg Config) *task.Executor {
	multiboot.SetInfoPtr(cfg.MultibootInfoPtr)

	if err := allocator.Init(cfg.KernelStart, cfg.KernelEnd); err != nil {
		panic(err)
	}

	vmm.SetFrameAllocator(allocator.AllocFrame)
	if err := vmm.Init(cfg.KernelPageOffset); err != nil {
		panic(err)
	}

	if err := goruntime.Init(); err != nil {
		panic(err)
	}

	hal.DetectHardware()

	heap.SetFrameAllocator(allocator.AllocFrame)
	if err := heap.Init(kernelHeapStart, kernelHeapSize, heap.PolicySizeClass); err != nil {
		panic(err)
	}

	if err := gate.Init(cfg.DoubleFaultStackTop, doubleFaultStackSize); err != nil {
		panic(err)
	}
	irq.InstallFaultHandlers(gate.DoubleFaultISTIndex())
	irq.RemapPIC()

	irq.HandleIRQ(irq.IRQTimer, func(_ *irq.Frame, _ *irq.Regs) {
		rtc.Tick()
	})
	irq.Unmask(irq.IRQTimer)

	input.Init()
	irq.Unmask(irq.IRQKeyboard)
	irq.Unmask(irq.IRQMouse)

	exec := task.NewExecutor(executorCapacity)
	exec.Spawn(input.NewKeyboardTask())
	exec.Spawn(input.NewMouseTask())

	if stack, err := bringUpNetwork(cfg); err == nil {
		exec.Spawn(net.NewRXFuture(stack))
		exec.Spawn(net.NewTXFuture(stack))
	} else {
		early.Printf("[boot] %s\n", err.Message)
	}

	return exec
}

// bringUpNetwork probes for a supported NIC and, if one is found, wires it
// into a fresh network stack. A missing NIC is not fatal: a kernel built
// without networking hardware still boots, just without net.RXFuture/
// net.TXFuture spawned.
func bringUpNetwork(cfg Config) (*net.Stack, *kernel.Error) {
	drv, err := rtl8139.Probe()
	if err != nil {
		return nil, errNoNIC
	}

	return net.NewStack(drv, cfg.LocalIP, cfg.Netmask, cfg.Gateway, cfg.MTU), nil
}
