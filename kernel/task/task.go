// Package task implements a cooperative, single-threaded task executor in
// the style of an async runtime without language-level async/await: a Task
// wraps a Future that is repeatedly polled until it reports Ready, and a
// Waker lets whatever the future was waiting on (an IRQ handler, another
// task) reschedule it without the executor busy-polling every task on every
// iteration.
//
// Grounded on the cooperative executor in original_source/task/mod.rs,
// reimplemented around an explicit Future/Waker pair instead of
// language-native async/await, which Go has no equivalent of.
package task

import "sync/atomic"

// ID uniquely identifies a task for its lifetime. Zero is never issued by
// Spawn and is used internally as a not-found sentinel.
type ID uint64

var nextID uint64

func newID() ID {
	return ID(atomic.AddUint64(&nextID, 1))
}

// PollResult reports whether a Future completed.
type PollResult int

const (
	// Pending means the future has not completed; it must have arranged,
	// before returning, for waker.Wake to be called once it can make
	// progress again.
	Pending PollResult = iota
	// Ready means the future has completed and its task should be dropped.
	Ready
)

// Future is a unit of cooperative work. Poll must never block: if it
// cannot make progress it registers waker with whatever it is waiting on
// and returns Pending.
type Future interface {
	Poll(waker *Waker) PollResult
}

// Task pairs a Future with the identity the executor and its ready queue
// use to refer to it.
type Task struct {
	id     ID
	future Future
}

func newTask(f Future) *Task {
	return &Task{id: newID(), future: f}
}
