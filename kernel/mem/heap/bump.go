package heap

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
)

// bumpAllocator hands out memory by advancing a cursor and never reclaims
// individual blocks; the whole arena is only reset once every outstanding
// allocation has been freed. Suitable only when total live size is bounded.
type bumpAllocator struct {
	lock sync.Spinlock

	start, end uintptr
	next       uintptr
	live       uint64
}

func newBumpAllocator(start uintptr, size uintptr) *bumpAllocator {
	return &bumpAllocator{start: start, end: start + size, next: start}
}

func (a *bumpAllocator) Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	a.lock.Acquire()
	defer a.lock.Release()

	addr := alignUp(a.next, align)
	if addr+size > a.end {
		return 0, errOutOfHeap
	}

	a.next = addr + size
	a.live++
	return addr, nil
}

func (a *bumpAllocator) Deallocate(_, _, _ uintptr) {
	a.lock.Acquire()
	defer a.lock.Release()

	if a.live == 0 {
		return
	}
	a.live--
	if a.live == 0 {
		a.next = a.start
	}
}
