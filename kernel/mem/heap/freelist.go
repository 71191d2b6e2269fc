package heap

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
	"unsafe"
)

// freeNode is the header written in-place at the start of every free block.
// It doubles as the minimum allocation granularity: any block smaller than
// unsafe.Sizeof(freeNode{}) cannot be tracked once freed, so allocate()
// rounds small requests up to fit one.
type freeNode struct {
	size uintptr
	next uintptr // address of the next freeNode, or 0 at the list's end
}

var nodeSize = unsafe.Sizeof(freeNode{})

func nodeAt(addr uintptr) *freeNode {
	return (*freeNode)(unsafe.Pointer(addr))
}

// freeListAllocator is a first-fit allocator over a singly linked list of
// free regions kept sorted by address so that adjacent regions can be
// coalesced on deallocation.
type freeListAllocator struct {
	lock sync.Spinlock

	start, end uintptr
	head       uintptr // address of the first free node, 0 if empty
}

func newFreeListAllocator(start, size uintptr) *freeListAllocator {
	a := &freeListAllocator{start: start, end: start + size}
	*nodeAt(start) = freeNode{size: size, next: 0}
	a.head = start
	return a
}

func (a *freeListAllocator) Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	if size < nodeSize {
		size = nodeSize
	}

	a.lock.Acquire()
	defer a.lock.Release()

	var prev uintptr
	for cur := a.head; cur != 0; {
		node := nodeAt(cur)
		allocStart := alignUp(cur, align)
		padding := allocStart - cur
		need := padding + size

		if node.size >= need {
			remaining := node.size - need
			next := node.next

			// Splitting requires room for a new free node; otherwise the
			// whole block (plus any slack) is handed out.
			if remaining >= nodeSize {
				tail := allocStart + size
				*nodeAt(tail) = freeNode{size: remaining, next: next}
				next = tail
			} else {
				// fold the slack into this allocation
				size = node.size - padding
			}

			if padding == 0 {
				a.unlink(prev, cur, next)
			} else {
				// keep [cur, allocStart) as its own (smaller) free node
				*nodeAt(cur) = freeNode{size: padding, next: next}
			}

			return allocStart, nil
		}

		prev, cur = cur, node.next
	}

	return 0, errOutOfHeap
}

func (a *freeListAllocator) unlink(prev, cur, next uintptr) {
	if prev == 0 {
		a.head = next
	} else {
		nodeAt(prev).next = next
	}
}

func (a *freeListAllocator) Deallocate(ptr, size, _ uintptr) {
	if size < nodeSize {
		size = nodeSize
	}

	a.lock.Acquire()
	defer a.lock.Release()

	// Find the insertion point that keeps the list sorted by address so
	// coalescing only ever needs to look at immediate neighbours.
	var prev uintptr
	cur := a.head
	for cur != 0 && cur < ptr {
		prev, cur = cur, nodeAt(cur).next
	}

	node := freeNode{size: size, next: cur}

	// Coalesce with the following block if they are contiguous.
	if cur != 0 && ptr+size == cur {
		node.size += nodeAt(cur).size
		node.next = nodeAt(cur).next
	}

	// Coalesce with the preceding block if they are contiguous.
	if prev != 0 && prev+nodeAt(prev).size == ptr {
		nodeAt(prev).size += node.size
		nodeAt(prev).next = node.next
		return
	}

	*nodeAt(ptr) = node
	if prev == 0 {
		a.head = ptr
	} else {
		nodeAt(prev).next = ptr
	}
}
