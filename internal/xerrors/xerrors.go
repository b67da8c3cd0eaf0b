// Package xerrors provides error constructors and wrappers that capture
// caller position so the logger can emit useful error chains without callers
// sprinkling stack captures by hand.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// stacked carries a full call stack captured at creation time.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

// annotated carries a message plus the single PC of the wrap site.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error { return a.err }
func (a *annotated) PC() uintptr   { return a.pc }

func stackPCs(skip int) []uintptr {
	const depth = 64
	pcs := make([]uintptr, depth)
	// +2 skips runtime.Callers and stackPCs itself
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with a captured stack.
func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: stackPCs(1)}
}

// Newf is New with fmt.Errorf formatting.
func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: stackPCs(1)}
}

// Wrap annotates err with msg and records the wrap site. Returns nil for nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with fmt formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// WithStack attaches a stack to err unconditionally.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}

// EnsureTrace attaches a stack only if the chain doesn't already carry one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return &stacked{err: err, pcs: stackPCs(1)}
}
