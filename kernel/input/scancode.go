package input

import "corekernel/kernel/task"

// KeyKind distinguishes a key going down from a key coming back up.
type KeyKind int

const (
	// KeyPressed is emitted on the make code.
	KeyPressed KeyKind = iota
	// KeyReleased is emitted on the break code (scan code | 0x80).
	KeyReleased
)

// Modifiers tracks the latched state of shift/ctrl/alt across scancodes.
type Modifiers struct {
	Shift bool
	Ctrl  bool
	Alt   bool
}

// KeyEvent is a single decoded keyboard transition.
type KeyEvent struct {
	ScanCode  byte
	Kind      KeyKind
	Modifiers Modifiers
}

const (
	scLeftShift  = 0x2A
	scRightShift = 0x36
	scLeftCtrl   = 0x1D
	scLeftAlt    = 0x38
	scEscape1    = 0xE0
	breakBit     = 0x80
)

// decoderState tracks the Set-1 escape prefix and currently latched
// modifier keys across calls to decode.
type decoderState struct {
	sawEscapePrefix bool
	mods            Modifiers
}

func (d *decoderState) decode(b byte) (KeyEvent, bool) {
	if b == scEscape1 {
		d.sawEscapePrefix = true
		return KeyEvent{}, false
	}
	d.sawEscapePrefix = false

	code := b &^ breakBit
	kind := KeyPressed
	if b&breakBit != 0 {
		kind = KeyReleased
	}

	switch code {
	case scLeftShift, scRightShift:
		d.mods.Shift = kind == KeyPressed
	case scLeftCtrl:
		d.mods.Ctrl = kind == KeyPressed
	case scLeftAlt:
		d.mods.Alt = kind == KeyPressed
	}

	return KeyEvent{ScanCode: code, Kind: kind, Modifiers: d.mods}, true
}

// KeyboardTask drains scancodeQueue, decodes PS/2 Set-1 scancodes and
// appends the resulting KeyEvents to its Events slice, waking up once per
// batch of newly available bytes rather than once per byte. Events is not
// bounded: it grows with every decoded event.
type KeyboardTask struct {
	state  decoderState
	Events []KeyEvent
}

// NewKeyboardTask creates a task ready to be spawned on an Executor.
func NewKeyboardTask() *KeyboardTask {
	return &KeyboardTask{}
}

// Poll implements task.Future. It never blocks: if no bytes are queued it
// registers waker with the keyboard IRQ handler and suspends until the next
// byte arrives.
func (k *KeyboardTask) Poll(waker *task.Waker) task.PollResult {
	for {
		b, ok := scancodeQueue.pop()
		if !ok {
			break
		}
		if ev, complete := k.state.decode(b); complete {
			k.Events = append(k.Events, ev)
		}
	}

	scancodeWait.register(waker)

	// A byte may have arrived between the last pop() above and the
	// registration landing; drain once more before actually suspending.
	for {
		b, ok := scancodeQueue.pop()
		if !ok {
			return task.Pending
		}
		if ev, complete := k.state.decode(b); complete {
			k.Events = append(k.Events, ev)
		}
	}
}
