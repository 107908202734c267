package uefi

import (
	"fmt"

	"go.uber.org/zap"
)

// Completion is a firmware call that substantively succeeded: its status is
// either EFI_SUCCESS or a warning, and its value is valid in both cases.
type Completion[T any] struct {
	status Status
	value  T
}

// Status returns the success or warning code.
func (c Completion[T]) Status() Status {
	return c.status
}

// Warning returns the warning code, if any.
func (c Completion[T]) Warning() (Status, bool) {
	return c.status, c.status.IsWarning()
}

// Split returns the value together with its status.
func (c Completion[T]) Split() (T, Status) {
	return c.value, c.status
}

// Discard drops any warning and returns the value. This is the one place a
// warning is ignored, so call sites remain easy to audit.
func (c Completion[T]) Discard() T {
	return c.value
}

// Result is the outcome of a firmware call: a Completion, or a failure that
// carries only the error code.
type Result[T any] struct {
	status Status
	value  T
}

// FromStatus packages a raw status. Success and warning statuses keep v; an
// error status drops it.
func FromStatus[T any](s Status, v T) Result[T] {
	if s.IsError() {
		return Result[T]{status: s}
	}
	return Result[T]{status: s, value: v}
}

// FromStatusFunc is like FromStatus but only builds the value when the call
// succeeded, for out parameters that are undefined on failure.
func FromStatusFunc[T any](s Status, v func() T) Result[T] {
	if s.IsError() {
		return Result[T]{status: s}
	}
	return Result[T]{status: s, value: v()}
}

// Done packages the status of a call that produces no value.
func Done(s Status) Result[Unit] {
	return Result[Unit]{status: s}
}

// Fail returns a failed Result. s must be an error status.
func Fail[T any](s Status) Result[T] {
	if !s.IsError() {
		panic(fmt.Sprintf("uefi: Fail with non-error status %v", s))
	}
	return Result[T]{status: s}
}

// Status returns the raw status.
func (r Result[T]) Status() Status {
	return r.status
}

func (r Result[T]) IsSuccess() bool { return r.status.IsSuccess() }
func (r Result[T]) IsWarning() bool { return r.status.IsWarning() }
func (r Result[T]) IsError() bool   { return r.status.IsError() }

// Err returns the failure, or nil for a completion.
func (r Result[T]) Err() error {
	return StatusError(r.status)
}

// Completion splits r the Go way: a completion, or the failure.
func (r Result[T]) Completion() (Completion[T], error) {
	if r.status.IsError() {
		return Completion[T]{}, errorFor(r.status)
	}
	return Completion[T]{status: r.status, value: r.value}, nil
}

// Unwrap returns the value of a successful call. A warning is reported as a
// *Warning error next to the still valid value; a failure as *Error with the
// zero value.
func (r Result[T]) Unwrap() (T, error) {
	switch r.status.Class() {
	case ClassSuccess:
		return r.value, nil
	case ClassWarning:
		return r.value, &Warning{code: r.status}
	default:
		var zero T
		return zero, errorFor(r.status)
	}
}

// IgnoreWarning returns the value of a completion whether or not it carried
// a warning.
func (r Result[T]) IgnoreWarning() (T, error) {
	c, err := r.Completion()
	if err != nil {
		return c.value, err
	}
	return c.Discard(), nil
}

// LogWarning is IgnoreWarning after logging a warning, if there is one.
func (r Result[T]) LogWarning(log *zap.Logger) (T, error) {
	if r.status.IsWarning() && log != nil {
		log.Warn("firmware warning", zap.Stringer("status", r.status))
	}
	return r.IgnoreWarning()
}

// Map transforms the value of a completion, keeping its status. A failure is
// returned unchanged.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.status.IsError() {
		return Result[U]{status: r.status}
	}
	return Result[U]{status: r.status, value: f(r.value)}
}

// MapError translates a failure into a caller level error. It is meant for
// code built on top of this package; the package itself never translates.
func MapError[T any](r Result[T], f func(*Error) error) (Completion[T], error) {
	c, err := r.Completion()
	if err != nil {
		return c, f(err.(*Error))
	}
	return c, nil
}

// Propagate forwards the failure of r as a Result of another type, with the
// code unchanged. It reports false when r did not fail; the returned Result is
// then the zero Result, which reads as EFI_SUCCESS with a zero value, so it
// must not be used without checking the bool.
func Propagate[U, T any](r Result[T]) (Result[U], bool) {
	if !r.status.IsError() {
		return Result[U]{}, false
	}
	return Result[U]{status: r.status}, true
}
