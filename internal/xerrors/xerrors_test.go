package xerrors

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}
	s, ok := err.(*stacked)
	if !ok {
		t.Fatalf("New returned %T, want *stacked", err)
	}
	if len(s.StackPCs()) == 0 {
		t.Fatal("expected captured stack PCs")
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "ignored") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "ignored %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("base")
	err := Wrap(base, "context")
	if err.Error() != "context: base" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to base")
	}
	a, ok := err.(*annotated)
	if !ok {
		t.Fatalf("Wrap returned %T, want *annotated", err)
	}
	if a.PC() == 0 {
		t.Fatal("expected non-zero wrap-site PC")
	}
}

func TestWrapf_Formats(t *testing.T) {
	err := Wrapf(errors.New("x"), "key %q", "val")
	if err.Error() != `key "val": x` {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestEnsureTrace_NoDoubleStack(t *testing.T) {
	inner := New("inner")
	outer := EnsureTrace(fmt.Errorf("outer: %w", inner))
	// already stacked via inner, so EnsureTrace must not re-wrap
	if _, ok := outer.(*stacked); ok {
		t.Fatal("EnsureTrace re-wrapped an error that already had a stack")
	}
}

func TestEnsureTrace_AddsStack(t *testing.T) {
	err := EnsureTrace(errors.New("plain"))
	s, ok := err.(*stacked)
	if !ok {
		t.Fatalf("EnsureTrace returned %T, want *stacked", err)
	}
	if len(s.StackPCs()) == 0 {
		t.Fatal("expected captured stack PCs")
	}
}

func TestErrorsAs_ThroughWrappers(t *testing.T) {
	base := &fs.PathError{Op: "open", Path: "/x", Err: errors.New("denied")}
	err := Wrap(WithStack(base), "scan failed")
	var pe *fs.PathError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As should find *fs.PathError through wrappers")
	}
	if pe.Path != "/x" {
		t.Fatalf("path = %q", pe.Path)
	}
}
