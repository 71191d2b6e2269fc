package task

import "sync/atomic"

// Waker lets a pending Future reschedule its task once it can make
// progress again. It is safe to copy the pointer to as many places as the
// future is waiting on (an IRQ handler, a socket's peer) and to call Wake
// from any of them.
type Waker struct {
	id        ID
	scheduled uint32
	queue     *readyQueue
}

// Wake marks the task ready and pushes it onto the executor's ready queue.
// Repeated calls between two polls collapse to a single enqueue: Wake does
// a compare-and-swap on an internal "scheduled" flag and only pushes on the
// 0-to-1 transition, so signaling a task's waker any number of times
// before it is next polled still results in exactly one subsequent poll.
// Executor.Run hands each poll a new Waker whose flag starts at 0, so the
// collapse is per Waker: wakers handed out by two different polls each push
// once.
func (w *Waker) Wake() {
	if atomic.CompareAndSwapUint32(&w.scheduled, 0, 1) {
		w.queue.push(w.id)
	}
}
