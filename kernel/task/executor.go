package task

import "corekernel/kernel/cpu"

const defaultReadyQueueCapacity = 256

// Executor runs a fixed set of cooperative tasks to completion, polling
// only those a Waker has marked ready and halting the CPU between IRQs
// when none are.
type Executor struct {
	tasks map[ID]*Task
	ready *readyQueue
}

// NewExecutor creates an executor whose ready queue can hold up to
// capacity outstanding wake signals; 0 selects a default sized for a
// handful of long-lived tasks (network stack, input pipelines).
func NewExecutor(capacity int) *Executor {
	if capacity <= 0 {
		capacity = defaultReadyQueueCapacity
	}
	return &Executor{tasks: make(map[ID]*Task), ready: newReadyQueue(capacity)}
}

// Spawn adds f to the executor and schedules it for its first poll.
func (e *Executor) Spawn(f Future) ID {
	t := newTask(f)
	e.tasks[t.id] = t
	e.ready.push(t.id)
	return t.id
}

// NumTasks reports how many tasks are still live.
func (e *Executor) NumTasks() int {
	return len(e.tasks)
}

// Run drains the ready queue, polling each ready task once and dropping it
// on Ready, until every spawned task has completed. When the ready queue
// empties but tasks remain, it halts the CPU rather than busy-polling: with
// interrupts disabled it takes one last look at the queue (an IRQ that ran
// between the previous check and the disable may have already woken a
// task) and only halts if it is still empty, closing the lost-wakeup
// window between "queue looked empty" and "CPU stopped fetching
// instructions". The halt instruction itself re-enables interrupts
// atomically with entering the halted state, so the next IRQ's handler
// runs and its iret resumes execution right after Halt.
func (e *Executor) Run() {
	for len(e.tasks) > 0 {
		id, ok := e.ready.pop()
		if !ok {
			e.sleepUntilInterrupt()
			continue
		}

		t, ok := e.tasks[id]
		if !ok {
			// Task already completed and was removed; a stale wake that
			// raced with completion. Nothing to do.
			continue
		}

		w := &Waker{id: id, queue: e.ready}
		if t.future.Poll(w) == Ready {
			delete(e.tasks, id)
		}
	}
}

func (e *Executor) sleepUntilInterrupt() {
	cpu.DisableInterrupts()
	if id, ok := e.ready.pop(); ok {
		// A wake landed between the last empty check and here; requeue it
		// and skip the halt entirely, so Run's next pop picks it up.
		e.ready.push(id)
		cpu.EnableInterrupts()
		return
	}
	cpu.Halt()
}
