package input

import "corekernel/kernel/task"

// MouseEvent is a single decoded PS/2 mouse packet.
type MouseEvent struct {
	DX, DY  int16
	Buttons MouseButtons
}

// MouseButtons reports which buttons were down at the time of the packet.
type MouseButtons struct {
	Left, Right, Middle bool
}

const (
	packetStartBit = 1 << 3
	buttonLeft     = 1 << 0
	buttonRight    = 1 << 1
	buttonMiddle   = 1 << 2
	signBitX       = 1 << 4
	signBitY       = 1 << 5
)

// packetAssembler reassembles the 3-byte PS/2 mouse packet stream,
// resynchronizing on any byte that doesn't have the packet-start bit set
// while it is looking for a new packet's first byte - matching
// original_source/task/mouse.rs's MouseStream.
type packetAssembler struct {
	buf [3]byte
	idx int
}

func (p *packetAssembler) feed(b byte) (MouseEvent, bool) {
	if p.idx == 0 && b&packetStartBit == 0 {
		return MouseEvent{}, false
	}

	p.buf[p.idx] = b
	p.idx++
	if p.idx < 3 {
		return MouseEvent{}, false
	}
	p.idx = 0

	status := p.buf[0]
	dx := int16(p.buf[1])
	if status&signBitX != 0 {
		dx |= ^int16(0xFF)
	}
	dy := int16(p.buf[2])
	if status&signBitY != 0 {
		dy |= ^int16(0xFF)
	}

	return MouseEvent{
		DX: dx,
		DY: dy,
		Buttons: MouseButtons{
			Left:   status&buttonLeft != 0,
			Right:  status&buttonRight != 0,
			Middle: status&buttonMiddle != 0,
		},
	}, true
}

// MouseTask drains mouseByteQueue and assembles complete MouseEvents.
type MouseTask struct {
	assembler packetAssembler
	Events    []MouseEvent
}

// NewMouseTask creates a task ready to be spawned on an Executor.
func NewMouseTask() *MouseTask {
	return &MouseTask{}
}

// Poll implements task.Future. It never blocks: if no bytes are queued it
// registers waker with the mouse IRQ handler and suspends until the next
// byte arrives.
func (m *MouseTask) Poll(waker *task.Waker) task.PollResult {
	for {
		b, ok := mouseByteQueue.pop()
		if !ok {
			break
		}
		if ev, complete := m.assembler.feed(b); complete {
			m.Events = append(m.Events, ev)
		}
	}

	mouseWait.register(waker)

	// A byte may have arrived between the last pop() above and the
	// registration landing; drain once more before actually suspending.
	for {
		b, ok := mouseByteQueue.pop()
		if !ok {
			return task.Pending
		}
		if ev, complete := m.assembler.feed(b); complete {
			m.Events = append(m.Events, ev)
		}
	}
}
