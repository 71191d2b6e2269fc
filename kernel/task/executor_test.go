package task

import "testing"

// countingFuture completes after target polls, recording the waker each
// time it stays pending so the test can drive extra wakes between polls.
type countingFuture struct {
	polls    int
	target   int
	lastWake *Waker
}

func (f *countingFuture) Poll(w *Waker) PollResult {
	f.polls++
	f.lastWake = w
	if f.polls >= f.target {
		return Ready
	}
	return Pending
}

func TestExecutorPollsUntilReady(t *testing.T) {
	e := NewExecutor(0)
	f := &countingFuture{target: 3}
	id := e.Spawn(f)

	// Run is not used here: the polls are driven manually to control
	// re-scheduling between them.
	for e.NumTasks() > 0 {
		got, ok := e.ready.pop()
		if !ok {
			t.Fatal("ready queue unexpectedly empty before completion")
		}
		if got != id {
			t.Fatalf("unexpected task id %d", got)
		}
		w := &Waker{id: got, queue: e.ready}
		if f.Poll(w) == Ready {
			delete(e.tasks, got)
			continue
		}
		w.Wake()
	}

	if f.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", f.polls)
	}
}

func TestWakerCollapsesRepeatedWakesToOnePoll(t *testing.T) {
	e := NewExecutor(0)
	f := &countingFuture{target: 2}
	id := e.Spawn(f)

	// Drain the initial scheduling poll.
	got, ok := e.ready.pop()
	if !ok || got != id {
		t.Fatal("expected initial task to be ready")
	}
	w := &Waker{id: got, queue: e.ready}
	if f.Poll(w) != Pending {
		t.Fatal("expected first poll to be pending")
	}

	// Signal the same waker several times before the task is polled again.
	for i := 0; i < 5; i++ {
		w.Wake()
	}

	count := 0
	for {
		if _, ok := e.ready.pop(); !ok {
			break
		}
		count++
	}

	if count != 1 {
		t.Fatalf("expected exactly one queued wake, got %d", count)
	}
}

func TestExecutorRunDrainsAllTasks(t *testing.T) {
	e := NewExecutor(0)
	const n = 5
	futures := make([]*countingFuture, n)
	for i := range futures {
		futures[i] = &countingFuture{target: i + 1}
		f := futures[i]
		e.Spawn(&selfWaking{inner: f})
	}

	e.Run()

	if e.NumTasks() != 0 {
		t.Fatalf("expected all tasks drained, %d remain", e.NumTasks())
	}
	for i, f := range futures {
		if f.polls != i+1 {
			t.Fatalf("future %d: expected %d polls, got %d", i, i+1, f.polls)
		}
	}
}

// selfWaking wraps a Future that never arranges its own wakeup and wakes
// itself immediately, so Run's ready queue always has something to make
// forward progress on in this test instead of halting on real hardware.
type selfWaking struct {
	inner *countingFuture
}

func (s *selfWaking) Poll(w *Waker) PollResult {
	res := s.inner.Poll(w)
	if res == Pending {
		w.Wake()
	}
	return res
}
