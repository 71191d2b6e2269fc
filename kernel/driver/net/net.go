// Package net defines the contract network interfaces (physical NICs and
// the loopback device) present to the protocol stack in kernel/net, and a
// small registry publishing whichever interface is active - the same
// global-registry shape kernel/hal uses for boot-time collaborators.
package net

import "corekernel/kernel"

// Interface is the contract a network device driver implements.
type Interface interface {
	// MAC returns the device's hardware address.
	MAC() [6]byte

	// Transmit sends frame, which must already be a complete Ethernet
	// frame (destination/source MAC, ethertype, payload). It does not
	// block on link availability.
	Transmit(frame []byte) *kernel.Error

	// Receive returns the next queued inbound frame, if any, without
	// blocking.
	Receive() ([]byte, bool)

	// LinkStatus reports whether the device currently has a usable link.
	LinkStatus() bool
}

var active Interface

// Register publishes iface as the active network interface.
func Register(iface Interface) {
	active = iface
}

// Active returns the currently registered interface, or nil if none has
// been registered yet.
func Active() Interface {
	return active
}
