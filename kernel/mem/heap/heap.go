// Package heap turns a virtual memory range, mapped by Init as
// present+writable+no-execute, into a kernel allocator with Allocate and
// Deallocate entry points. The Go runtime's own allocation hooks (in
// kernel/goruntime) do not go through this package.
//
// Three interchangeable policies are provided (Bump, FreeList, SizeClass);
// all satisfy the Allocator interface and are safe to call concurrently via
// their own internal spinlock. None of them may be used from interrupt
// context: IRQ handlers must never allocate.
package heap

import (
	"corekernel/kernel"
	"corekernel/kernel/mem"
	"corekernel/kernel/mem/pmm"
	"corekernel/kernel/mem/vmm"
)

// FrameAllocatorFn allocates a physical frame to back a heap page.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// Allocator is the contract every heap policy implements.
type Allocator interface {
	// Allocate reserves size bytes aligned to align (a power of two) and
	// returns the start address of the block.
	Allocate(size, align uintptr) (uintptr, *kernel.Error)

	// Deallocate releases a block previously returned by Allocate. size
	// and align must match the values passed to the Allocate call that
	// produced ptr.
	Deallocate(ptr, size, align uintptr)
}

// Policy selects which allocator implementation backs the heap.
type Policy uint8

const (
	// PolicyBump never frees individual blocks; only useful when the
	// total live size is bounded and short-lived.
	PolicyBump Policy = iota

	// PolicyFreeList performs first-fit allocation with splitting and
	// coalesces adjacent free blocks on deallocation.
	PolicyFreeList

	// PolicySizeClass rounds requests up to the nearest power-of-two size
	// class and falls back to a FreeList allocator for oversize requests.
	// This is the default policy.
	PolicySizeClass
)

var (
	active     Allocator
	allocFrame FrameAllocatorFn

	errOutOfHeap = &kernel.Error{Module: "heap", Message: "out of heap memory"}
)

// SetFrameAllocator registers the function Init uses to obtain the physical
// frames backing the heap range. It must be called before Init.
func SetFrameAllocator(fn FrameAllocatorFn) {
	allocFrame = fn
}

// Init maps [start, start+size) as the kernel heap using the vmm package and
// installs the chosen policy as the process-wide allocator. After Init
// returns, Allocate/Deallocate are live. Init must be called exactly once,
// after the vmm and frame
// allocator have been initialized.
func Init(start uintptr, size mem.Size, policy Policy) *kernel.Error {
	pageCount := (uint64(size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute

	page := vmm.PageFromAddress(start)
	for i := uint64(0); i < pageCount; i, page = i+1, page+1 {
		frame, err := allocFrame()
		if err != nil {
			return err
		}
		if err := vmm.Map(page, frame, flags); err != nil {
			return err
		}
	}

	switch policy {
	case PolicyBump:
		active = newBumpAllocator(start, uintptr(size))
	case PolicyFreeList:
		active = newFreeListAllocator(start, uintptr(size))
	default:
		active = newSizeClassAllocator(start, uintptr(size))
	}
	return nil
}

// Allocate reserves size bytes aligned to align using the active policy.
func Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	if active == nil {
		return 0, errOutOfHeap
	}
	return active.Allocate(size, align)
}

// Deallocate releases a block previously returned by Allocate.
func Deallocate(ptr, size, align uintptr) {
	if active == nil {
		return
	}
	active.Deallocate(ptr, size, align)
}

// alignUp rounds addr up to the nearest multiple of align (align must be a
// power of two).
func alignUp(addr, align uintptr) uintptr {
	if align == 0 {
		return addr
	}
	return (addr + align - 1) &^ (align - 1)
}
