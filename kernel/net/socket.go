package net

import (
	"corekernel/kernel/sync"
	"corekernel/kernel/task"
)

// waiter holds the single waker a socket operation is currently suspended
// on, the integration point spec.md's "all suspensions go through the
// executor's waker mechanism" requires of every blocking socket call.
// Grounded on original_source/task/mod.rs's waker pattern; there is no Rust
// analogue for the socket side since that source's sockets used a different
// polling loop, so this is adapted from kernel/task's own Future contract.
type waiter struct {
	lock  sync.Spinlock
	waker *task.Waker
}

// register stores w as the waker to notify once the socket can make
// progress, replacing anything registered by a previous poll.
func (s *waiter) register(w *task.Waker) {
	s.lock.Acquire()
	s.waker = w
	s.lock.Release()
}

// wake notifies and clears the registered waker, if any.
func (s *waiter) wake() {
	s.lock.Acquire()
	w := s.waker
	s.waker = nil
	s.lock.Release()
	if w != nil {
		w.Wake()
	}
}

// UDPRecvFuture adapts UDPSocket.RecvFrom to the executor's Future
// contract so a task can suspend on recv(2)-equivalent reads.
type UDPRecvFuture struct {
	sock *UDPSocket
	Data []byte
	From IPv4
	Port uint16
}

// NewUDPRecvFuture returns a future that resolves with the socket's next
// datagram.
func NewUDPRecvFuture(sock *UDPSocket) *UDPRecvFuture {
	return &UDPRecvFuture{sock: sock}
}

// Poll implements task.Future.
func (f *UDPRecvFuture) Poll(waker *task.Waker) task.PollResult {
	data, from, port, ok := f.sock.RecvFrom()
	if !ok {
		f.sock.readable.register(waker)
		return task.Pending
	}
	f.Data, f.From, f.Port = data, from, port
	return task.Ready
}
