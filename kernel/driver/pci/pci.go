// Package pci implements PCI configuration-space access and device
// enumeration over the legacy 0xCF8/0xCFC I/O ports, the mechanism every
// x86 PCI host bridge supports regardless of whether the more modern
// memory-mapped ECAM config space is also available.
//
// Grounded on original_source's native/pci.c (address composition, the
// enable bit and register layout) translated to the port primitives
// kernel/cpu already provides.
package pci

import "corekernel/kernel/cpu"

const (
	configAddress = 0xCF8
	configData    = 0xCFC

	addressEnable = 1 << 31
)

// Device identifies one function of a PCI device and caches the fields a
// driver commonly needs without re-reading configuration space.
type Device struct {
	Bus, Slot, Function uint8
	VendorID, DeviceID  uint16
	ClassCode, SubClass uint8
	InterruptLine       uint8
}

func configAddr(bus, slot, fn, offset uint8) uint32 {
	return addressEnable |
		uint32(bus)<<16 |
		uint32(slot&0x1F)<<11 |
		uint32(fn&0x07)<<8 |
		uint32(offset&0xFC)
}

// ReadConfig32 reads a 32-bit, dword-aligned configuration register.
func ReadConfig32(bus, slot, fn, offset uint8) uint32 {
	cpu.PortWriteDword(configAddress, configAddr(bus, slot, fn, offset))
	return cpu.PortReadDword(configData)
}

// ReadConfig16 reads a 16-bit configuration register at an arbitrary
// (word-aligned) offset.
func ReadConfig16(bus, slot, fn, offset uint8) uint16 {
	v := ReadConfig32(bus, slot, fn, offset&0xFC)
	return uint16(v >> ((offset & 2) * 8))
}

// ReadConfig8 reads an 8-bit configuration register at an arbitrary offset.
func ReadConfig8(bus, slot, fn, offset uint8) uint8 {
	v := ReadConfig32(bus, slot, fn, offset&0xFC)
	return uint8(v >> ((offset & 3) * 8))
}

// WriteConfig32 writes a 32-bit, dword-aligned configuration register.
func WriteConfig32(bus, slot, fn, offset uint8, value uint32) {
	cpu.PortWriteDword(configAddress, configAddr(bus, slot, fn, offset))
	cpu.PortWriteDword(configData, value)
}

// BAR reads base-address-register index (0-5) and reports whether it
// describes an I/O-port region (as opposed to memory-mapped).
func BAR(bus, slot, fn uint8, index int) (addr uint32, isIO bool) {
	raw := ReadConfig32(bus, slot, fn, 0x10+uint8(index*4))
	if raw&0x1 != 0 {
		return raw &^ 0x3, true
	}
	return raw &^ 0xF, false
}

// Scan walks every bus/slot/function and invokes visit for each
// present device (vendor id 0xFFFF marks "not present").
func Scan(visit func(Device)) {
	for bus := 0; bus < 256; bus++ {
		for slot := 0; slot < 32; slot++ {
			for fn := 0; fn < 8; fn++ {
				vendor := ReadConfig16(uint8(bus), uint8(slot), uint8(fn), 0x00)
				if vendor == 0xFFFF {
					if fn == 0 {
						break
					}
					continue
				}

				visit(Device{
					Bus:           uint8(bus),
					Slot:          uint8(slot),
					Function:      uint8(fn),
					VendorID:      vendor,
					DeviceID:      ReadConfig16(uint8(bus), uint8(slot), uint8(fn), 0x02),
					ClassCode:     ReadConfig8(uint8(bus), uint8(slot), uint8(fn), 0x0B),
					SubClass:      ReadConfig8(uint8(bus), uint8(slot), uint8(fn), 0x0A),
					InterruptLine: ReadConfig8(uint8(bus), uint8(slot), uint8(fn), 0x3C),
				})
			}
		}
	}
}

// Find returns the first device matching vendorID/deviceID, if any.
func Find(vendorID, deviceID uint16) (Device, bool) {
	var found Device
	var ok bool
	Scan(func(d Device) {
		if !ok && d.VendorID == vendorID && d.DeviceID == deviceID {
			found, ok = d, true
		}
	})
	return found, ok
}

const (
	commandOffset = 0x04
	cmdIOSpace    = 1 << 0
	cmdBusMaster  = 1 << 2
)

// EnableIOAndBusMastering sets the I/O Space and Bus Master bits in the
// device's command register, required before a driver can use either its
// I/O-port BARs or DMA. The command and status registers share a dword, so
// the status half is read back and preserved rather than zeroed.
func EnableIOAndBusMastering(d Device) {
	dword := ReadConfig32(d.Bus, d.Slot, d.Function, commandOffset)
	dword |= cmdIOSpace | cmdBusMaster
	WriteConfig32(d.Bus, d.Slot, d.Function, commandOffset, dword)
}
