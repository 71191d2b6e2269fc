// Package kernel contains types and helpers that are shared across all
// kernel subsystems and would otherwise create import cycles if they lived
// in a more specific package.
package kernel

// Error is a lightweight, allocation-free error type used throughout the
// kernel instead of the standard error interface. Its zero cost (no dynamic
// dispatch, no interface allocation) makes it safe to construct from
// interrupt context.
type Error struct {
	// Module names the subsystem that generated the error.
	Module string

	// Message is a short, human readable description of the failure.
	Message string
}

// Error implements the builtin error interface so a *Error can still be
// passed to code (e.g. panic) that expects one.
func (e *Error) Error() string {
	return "[" + e.Module + "] " + e.Message
}
