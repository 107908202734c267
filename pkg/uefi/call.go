package uefi

import (
	"go.uber.org/zap"
)

// ABI performs calls across the firmware boundary. fn is the address of a
// firmware function; args are passed in the firmware calling convention and
// the raw status is returned.
//
// The native implementation lives in package x64; uefitest provides a
// simulated firmware for tests.
type ABI interface {
	Call(fn uintptr, args ...uintptr) Status
}

// scope is a validity window opened by firmware. Boot services, the console
// and every protocol resolved through boot services share the boot scope,
// which ends for good at ExitBootServices; runtime services live in a scope
// that never ends.
type scope struct {
	name  string
	ended bool
}

func (s *scope) valid() bool {
	return s != nil && !s.ended
}

func (s *scope) end() {
	s.ended = true
}

// Caller invokes table and protocol slots on behalf of one scope.
type Caller struct {
	abi   ABI
	scope *scope
	log   *zap.Logger
}

// Valid reports whether the scope of c is still open.
func (c *Caller) Valid() bool {
	return c != nil && c.scope.valid()
}

// Call reads the function pointer at slot and invokes it with args. It never
// reads the slot once its scope ended, and never jumps to a null slot.
//
// Pointer arguments must be converted in the argument list itself, as in
// c.Call(&p.fn, uintptr(unsafe.Pointer(&out))); the referenced memory then
// stays alive, and off the stack, until Call returns.
//
//go:uintptrescapes
func (c *Caller) Call(slot *uintptr, args ...uintptr) Status {
	if !c.Valid() {
		return StatusServicesExited
	}

	fn := *slot
	if fn == 0 {
		return StatusNullFunction
	}

	status := c.abi.Call(fn, args...)

	if status != EFI_SUCCESS {
		c.log.Debug("firmware call",
			zap.String("scope", c.scope.name),
			zap.Uintptr("fn", fn),
			zap.Stringer("status", status))
	}

	return status
}

// Value is Call for slots that return something other than a status, such as
// RaiseTPL. The status reports whether the slot could be invoked at all.
//
//go:uintptrescapes
func (c *Caller) Value(slot *uintptr, args ...uintptr) (uintptr, Status) {
	if !c.Valid() {
		return 0, StatusServicesExited
	}

	fn := *slot
	if fn == 0 {
		return 0, StatusNullFunction
	}

	return uintptr(c.abi.Call(fn, args...)), EFI_SUCCESS
}
