// Package input decodes the raw PS/2 keyboard and mouse byte streams fed
// by their IRQ handlers into KeyEvent/MouseEvent values, without doing any
// of that decoding inside the IRQ handler itself.
//
// Grounded on original_source/task/mouse.rs's queue-plus-stream split: an
// interrupt-context producer pushes raw bytes into a bounded queue, and a
// cooperative task (here, a task.Future) drains and decodes them outside
// of interrupt context.
package input

import (
	"sync/atomic"

	"corekernel/kernel/sync"
	"corekernel/kernel/task"
)

// byteQueue is a bounded single-producer single-consumer ring buffer of
// bytes. The keyboard/mouse IRQ handlers are each the sole producer for
// their own queue; the corresponding decoder task is the sole consumer, so
// a plain head/tail pair (no CAS) suffices.
type byteQueue struct {
	buf  []byte
	mask uint32
	head uint32 // next slot to write (producer-owned)
	tail uint32 // next slot to read (consumer-owned)
}

func newByteQueue(capacity int) *byteQueue {
	capPow2 := uint32(1)
	for capPow2 < uint32(capacity) {
		capPow2 <<= 1
	}
	return &byteQueue{buf: make([]byte, capPow2), mask: capPow2 - 1}
}

// push adds b to the queue, returning false (and dropping the byte) if
// full. Called from IRQ context.
func (q *byteQueue) push(b byte) bool {
	head := atomic.LoadUint32(&q.head)
	tail := atomic.LoadUint32(&q.tail)
	if head-tail > q.mask {
		return false
	}
	q.buf[head&q.mask] = b
	atomic.StoreUint32(&q.head, head+1)
	return true
}

// pop removes the oldest byte, returning false if empty. Called from the
// decoder task's Poll.
func (q *byteQueue) pop() (byte, bool) {
	tail := atomic.LoadUint32(&q.tail)
	head := atomic.LoadUint32(&q.head)
	if tail == head {
		return 0, false
	}
	b := q.buf[tail&q.mask]
	atomic.StoreUint32(&q.tail, tail+1)
	return b, true
}

// waiter holds the single waker a decoder task is currently suspended on,
// mirroring kernel/net's socket.go waiter (this package can't import
// kernel/net without a cycle, so the small type is duplicated rather than
// shared).
type waiter struct {
	lock  sync.Spinlock
	waker *task.Waker
}

// register stores w as the waker to notify the next time a byte is pushed,
// replacing anything registered by a previous poll.
func (w *waiter) register(k *task.Waker) {
	w.lock.Acquire()
	w.waker = k
	w.lock.Release()
}

// wake notifies and clears the registered waker, if any. Called from IRQ
// context.
func (w *waiter) wake() {
	w.lock.Acquire()
	k := w.waker
	w.waker = nil
	w.lock.Release()
	if k != nil {
		k.Wake()
	}
}
