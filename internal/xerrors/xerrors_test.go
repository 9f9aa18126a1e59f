package xerrors

import (
	"errors"
	"io/fs"
	"testing"
)

type stacker interface{ StackPCs() []uintptr }

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	var hs stacker
	if !errors.As(err, &hs) {
		t.Fatal("New did not capture a stack")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("captured stack is empty")
	}
	if err.Error() != "boom" {
		t.Errorf("Error() = %q, want boom", err.Error())
	}
}

func TestNewf_PreservesSentinel(t *testing.T) {
	err := Newf("%w: details", fs.ErrNotExist)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("Newf with %w lost the sentinel")
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) != nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) != nil")
	}
	if WithStack(nil) != nil {
		t.Error("WithStack(nil) != nil")
	}
	if EnsureTrace(nil) != nil {
		t.Error("EnsureTrace(nil) != nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("inner")
	err := Wrap(base, "outer")
	if err.Error() != "outer: inner" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, base) {
		t.Error("Wrap broke errors.Is")
	}
}

func TestWrap_RecordsCallSite(t *testing.T) {
	err := Wrap(errors.New("inner"), "outer")
	type haspc interface{ PC() uintptr }
	var hp haspc
	if !errors.As(err, &hp) || hp.PC() == 0 {
		t.Fatal("Wrap did not record the call site PC")
	}
}

func TestEnsureTrace_NoDoubleStack(t *testing.T) {
	first := New("original")
	again := EnsureTrace(first)
	if again != first {
		t.Fatal("EnsureTrace re-wrapped an error that already had a stack")
	}

	bare := errors.New("bare")
	traced := EnsureTrace(bare)
	var hs stacker
	if !errors.As(traced, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace did not add a stack to a bare error")
	}
}
