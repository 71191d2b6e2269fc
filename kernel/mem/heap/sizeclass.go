package heap

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
)

// classSizes lists the supported size classes, smallest first. Every class
// size is a power of two so that a block carved aligned to its own class
// size also satisfies any smaller alignment request.
var classSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// sizeClassAllocator rounds every request up to the smallest class that
// fits it and serves it from a per-class free stack; the stack is refilled,
// one block at a time, from a backing first-fit allocator. Requests that do
// not fit any class (either the size or the required alignment exceeds the
// largest class) fall straight through to the backing allocator. This is
// the default heap policy: O(1) allocate/free for the common small-object
// case, no cross-class coalescing, with the backing allocator absorbing
// fragmentation for everything else.
type sizeClassAllocator struct {
	lock    sync.Spinlock
	backing *freeListAllocator
	classes [len(classSizes)]uintptr // head of each class's free stack, 0 if empty
}

func newSizeClassAllocator(start, size uintptr) *sizeClassAllocator {
	return &sizeClassAllocator{backing: newFreeListAllocator(start, size)}
}

// classFor returns the index of the smallest class able to satisfy a
// request of the given size and alignment, or -1 if none fits.
func classFor(size, align uintptr) int {
	for i, cs := range classSizes {
		if cs >= size && cs >= align {
			return i
		}
	}
	return -1
}

func (a *sizeClassAllocator) Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	idx := classFor(size, align)
	if idx < 0 {
		return a.backing.Allocate(size, align)
	}
	classSize := classSizes[idx]

	a.lock.Acquire()
	defer a.lock.Release()

	if head := a.classes[idx]; head != 0 {
		a.classes[idx] = nodeAt(head).next
		return head, nil
	}

	// Class stack empty: carve a fresh, class-aligned block from the
	// backing allocator. The backing allocator's own lock is distinct
	// from a's, so this nests safely.
	return a.backing.Allocate(classSize, classSize)
}

func (a *sizeClassAllocator) Deallocate(ptr, size, align uintptr) {
	idx := classFor(size, align)
	if idx < 0 {
		a.backing.Deallocate(ptr, size, align)
		return
	}
	classSize := classSizes[idx]

	a.lock.Acquire()
	defer a.lock.Release()

	*nodeAt(ptr) = freeNode{size: classSize, next: a.classes[idx]}
	a.classes[idx] = ptr
}
