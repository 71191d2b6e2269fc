package net

import (
	"corekernel/kernel"
	"corekernel/kernel/sync"
)

var errQueueFull = &kernel.Error{Module: "net/loopback", Message: "receive queue full"}

// Loopback echoes every transmitted frame back as a received one, letting
// the protocol stack (ARP, ICMP, UDP, TCP) be exercised without physical
// hardware. Grounded on original_source/net/loopback.rs's LoopbackDevice.
type Loopback struct {
	lock     sync.Spinlock
	queue    [][]byte
	maxQueue int
}

// NewLoopback creates a loopback device that queues up to maxQueue frames
// before Transmit starts reporting the queue as full.
func NewLoopback(maxQueue int) *Loopback {
	return &Loopback{maxQueue: maxQueue}
}

// MAC returns the all-zero loopback address.
func (l *Loopback) MAC() [6]byte {
	return [6]byte{}
}

// Transmit enqueues a copy of frame to be returned by a later Receive.
func (l *Loopback) Transmit(frame []byte) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()

	if len(l.queue) >= l.maxQueue {
		return errQueueFull
	}

	cp := make([]byte, len(frame))
	copy(cp, frame)
	l.queue = append(l.queue, cp)
	return nil
}

// Receive dequeues the oldest pending frame, if any.
func (l *Loopback) Receive() ([]byte, bool) {
	l.lock.Acquire()
	defer l.lock.Release()

	if len(l.queue) == 0 {
		return nil, false
	}
	frame := l.queue[0]
	l.queue = l.queue[1:]
	return frame, true
}

// LinkStatus always reports the link as up.
func (l *Loopback) LinkStatus() bool {
	return true
}
