// Package dma allocates physically contiguous, page-mapped buffers for
// device drivers (the NIC's receive ring and transmit slots) that need to
// hand a physical address to hardware while reading/writing it through a
// normal Go slice.
//
// Grounded on original_source/memory/dma.rs's bump allocator over a fixed
// region, adapted to this kernel's real paging: instead of assuming an
// identity mapping, each page of the region is mapped by kernel/mem/vmm to
// a frame obtained from the registered frame allocator, and the mapping is
// recorded so a virtual address handed back by Alloc can be translated to
// the physical address hardware needs.
package dma

import (
	"corekernel/kernel"
	"corekernel/kernel/mem"
	"corekernel/kernel/mem/pmm"
	"corekernel/kernel/mem/vmm"
)

// Buffer is a physically contiguous, page-mapped region suitable for
// handing to a DMA-capable device.
type Buffer struct {
	Virt uintptr
	Phys uintptr
	Size uintptr
}

// Bytes views the buffer as a byte slice backed by its mapped virtual
// memory.
func (b Buffer) Bytes() []byte {
	return mem.BackingSlice(b.Virt, int(b.Size))
}

var (
	regionStart uintptr
	regionEnd   uintptr
	next        uintptr
	allocFrame  func() (pmm.Frame, *kernel.Error)

	errOutOfRegion = &kernel.Error{Module: "dma", Message: "out of DMA region"}
	errNotContig   = &kernel.Error{Module: "dma", Message: "frame allocator returned non-contiguous frames"}
)

// Init reserves [start, start+size) as the DMA region: every page in the
// range is mapped present+writable+no-execute, backed by frames obtained
// from allocFrame. allocFrame is assumed to hand out frames in ascending
// order while the region is being built, since device buffers frequently
// span more than one frame and must be physically contiguous; Init
// verifies this and fails closed rather than silently handing a
// non-contiguous buffer to hardware.
func Init(start uintptr, size mem.Size, frameAllocator func() (pmm.Frame, *kernel.Error)) *kernel.Error {
	allocFrame = frameAllocator
	pageCount := (uint64(size) + uint64(mem.PageSize) - 1) / uint64(mem.PageSize)
	flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute

	page := vmm.PageFromAddress(start)
	var firstFrame pmm.Frame
	for i := uint64(0); i < pageCount; i, page = i+1, page+1 {
		frame, err := allocFrame()
		if err != nil {
			return err
		}
		if i == 0 {
			firstFrame = frame
		} else if frame != firstFrame+pmm.Frame(i) {
			return errNotContig
		}
		if err := vmm.Map(page, frame, flags); err != nil {
			return err
		}
	}

	regionStart = start
	regionEnd = start + uintptr(size)
	next = start
	physBase = firstFrame.Address()
	return nil
}

// Alloc reserves size bytes (rounded up to a page) from the DMA region and
// returns the resulting buffer's virtual/physical address pair. Buffers
// are never individually freed: callers hold onto them for the driver's
// lifetime (a receive ring, a fixed pool of transmit slots).
func Alloc(size uintptr) (Buffer, *kernel.Error) {
	aligned := (size + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
	if next+aligned > regionEnd {
		return Buffer{}, errOutOfRegion
	}

	virt := next
	next += aligned

	return Buffer{Virt: virt, Phys: virtToRegionPhys(virt), Size: aligned}, nil
}

// physBase is the physical address backing regionStart, recorded by Init
// from the first frame it mapped; Alloc translates virtual addresses by
// simple offset within the (physically contiguous) region.
var physBase uintptr

func virtToRegionPhys(virt uintptr) uintptr {
	return physBase + (virt - regionStart)
}
