package input

import (
	"corekernel/kernel/cpu"
	"corekernel/kernel/irq"
)

// PS/2 controller I/O ports.
const (
	dataPort    = 0x60
	statusPort  = 0x64
	commandPort = 0x64
)

// Status register bits.
const (
	statusOutputFull = 1 << 0
	statusInputFull  = 1 << 1
)

// Controller commands, per the original_source mouse initialization
// sequence (disable ports, flush, read/write config byte, enable the
// auxiliary device, reset and configure the mouse via the 0xD4 passthrough).
const (
	cmdDisableKeyboard = 0xAD
	cmdEnableKeyboard  = 0xAE
	cmdDisableMouse    = 0xA7
	cmdEnableMouse     = 0xA8
	cmdReadConfig      = 0x20
	cmdWriteConfig     = 0x60
	cmdWriteToMouse    = 0xD4

	mouseCmdReset           = 0xFF
	mouseCmdSetDefaults     = 0xF6
	mouseCmdEnableReporting = 0xF4
)

const (
	configKeyboardIRQEnable = 1 << 0
	configMouseIRQEnable    = 1 << 1
	configMouseClockDisable = 1 << 5
)

var scancodeQueue = newByteQueue(256)
var mouseByteQueue = newByteQueue(256)

var scancodeWait waiter
var mouseWait waiter

// Init performs the PS/2 controller and mouse initialization sequence and
// registers the keyboard and mouse IRQ handlers. It must run after
// irq.RemapPIC so the IRQ vectors it enables are meaningful.
func Init() {
	initMouseHardware()

	irq.HandleIRQ(irq.IRQKeyboard, func(_ *irq.Frame, _ *irq.Regs) {
		scancodeQueue.push(cpu.PortReadByte(dataPort))
		scancodeWait.wake()
	})
	irq.HandleIRQ(irq.IRQMouse, func(_ *irq.Frame, _ *irq.Regs) {
		mouseByteQueue.push(cpu.PortReadByte(dataPort))
		mouseWait.wake()
	})
}

func waitForWrite() {
	for i := 0; i < 100_000; i++ {
		if cpu.PortReadByte(statusPort)&statusInputFull == 0 {
			return
		}
	}
}

func waitForRead() bool {
	for i := 0; i < 100_000; i++ {
		if cpu.PortReadByte(statusPort)&statusOutputFull != 0 {
			return true
		}
	}
	return false
}

func readData() (byte, bool) {
	if waitForRead() {
		return cpu.PortReadByte(dataPort), true
	}
	return 0, false
}

func writeCommand(cmd byte) {
	waitForWrite()
	cpu.PortWriteByte(commandPort, cmd)
}

func writeData(b byte) {
	waitForWrite()
	cpu.PortWriteByte(dataPort, b)
}

// mouseWrite relays cmd to the mouse through the controller's auxiliary
// passthrough (0xD4) and returns its ACK byte, if any.
func mouseWrite(cmd byte) (byte, bool) {
	writeCommand(cmdWriteToMouse)
	writeData(cmd)
	return readData()
}

func initMouseHardware() {
	writeCommand(cmdDisableKeyboard)
	writeCommand(cmdDisableMouse)

	// Flush any stale output byte left over from firmware/BIOS setup.
	for i := 0; i < 100; i++ {
		if cpu.PortReadByte(statusPort)&statusOutputFull == 0 {
			break
		}
		cpu.PortReadByte(dataPort)
	}

	writeCommand(cmdReadConfig)
	config, _ := readData()
	config |= configKeyboardIRQEnable | configMouseIRQEnable
	config &^= configMouseClockDisable

	writeCommand(cmdWriteConfig)
	writeData(config)

	writeCommand(cmdEnableMouse)

	if _, ok := mouseWrite(mouseCmdReset); ok {
		readData() // self-test result (0xAA)
		readData() // device id (0x00)
	}
	mouseWrite(mouseCmdSetDefaults)
	mouseWrite(mouseCmdEnableReporting)

	writeCommand(cmdEnableKeyboard)
}
