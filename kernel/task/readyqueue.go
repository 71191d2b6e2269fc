package task

import "sync/atomic"

// readyQueue is a bounded, lock-free multi-producer single-consumer ring
// buffer of task ids. Producers are waker signals, possibly racing with
// each other; the executor's run loop is the single consumer. The
// algorithm is Dmitry Vyukov's bounded MPMC ring narrowed to one consumer:
// each slot carries its own sequence number so a producer can tell whether
// the slot it claimed has been drained by the consumer yet.
type readyQueue struct {
	mask    uint64
	cells   []readyCell
	enqueue uint64
	dequeue uint64
}

type readyCell struct {
	seq uint64
	id  ID
}

// newReadyQueue creates a queue of the given capacity, rounded up to the
// next power of two.
func newReadyQueue(capacity int) *readyQueue {
	capPow2 := uint64(1)
	for capPow2 < uint64(capacity) {
		capPow2 <<= 1
	}

	q := &readyQueue{mask: capPow2 - 1, cells: make([]readyCell, capPow2)}
	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}
	return q
}

// push enqueues id, returning false if the queue is full. A full ready
// queue indicates more live tasks than the executor was configured for; it
// is never expected in normal operation since every task id is pushed at
// most once between polls (see Waker.Wake).
func (q *readyQueue) push(id ID) bool {
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		cell := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&cell.seq)

		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				cell.id = id
				atomic.StoreUint64(&cell.seq, pos+1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// pop dequeues the next ready id, returning false if the queue is empty.
func (q *readyQueue) pop() (ID, bool) {
	for {
		pos := atomic.LoadUint64(&q.dequeue)
		cell := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&cell.seq)

		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.dequeue, pos, pos+1) {
				id := cell.id
				atomic.StoreUint64(&cell.seq, pos+q.mask+1)
				return id, true
			}
		case diff < 0:
			return 0, false
		}
	}
}
