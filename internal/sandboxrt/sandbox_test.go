package sandboxrt

import (
	"context"
	"testing"
	"time"
)

func TestEpochTicksFor_RoundsDownAndFloorsAtOne(t *testing.T) {
	if got := epochTicksFor(25 * time.Millisecond); got != 2 {
		t.Fatalf("expected 2 ticks, got %d", got)
	}
	if got := epochTicksFor(time.Millisecond); got != 1 {
		t.Fatalf("expected floor of 1 tick, got %d", got)
	}
	if got := epochTicksFor(0); got != 1 {
		t.Fatalf("expected floor of 1 tick for zero timeout, got %d", got)
	}
}

func TestDecodeExecuteResult_Nil(t *testing.T) {
	r := decodeExecuteResult(nil)
	if r.pythonErr != nil || r.internalErr != nil {
		t.Fatalf("expected clean result, got %+v", r)
	}
}

func TestDecodeExecuteResult_PythonFailure(t *testing.T) {
	r := decodeExecuteResult([2]string{"boom", "Traceback..."})
	if r.pythonErr == nil {
		t.Fatal("expected a pythonErr")
	}
	if r.pythonErr.message != "boom" || r.pythonErr.traceback != "Traceback..." {
		t.Fatalf("unexpected pythonErr: %+v", r.pythonErr)
	}
}

func TestDecodeExecuteResult_UnexpectedType(t *testing.T) {
	r := decodeExecuteResult(42)
	if r.internalErr == nil {
		t.Fatal("expected an internalErr for an unrecognised return type")
	}
}

func TestTrapError_Classification(t *testing.T) {
	cases := []struct {
		msg        string
		outOfFuel  bool
		memLimit   bool
		interrupt  bool
	}{
		{"all fuel consumed by WebAssembly", true, false, false},
		{"resource limit exceeded", false, true, false},
		{"memory minimum size exceeds limit", false, true, false},
		{"wasm trap: interrupt", false, false, true},
		{"epoch deadline reached while executing", false, false, true},
		{"division by zero", false, false, false},
	}
	for _, c := range cases {
		trap := asTrapError(&stringError{c.msg})
		if trap.isOutOfFuel() != c.outOfFuel {
			t.Errorf("%q: isOutOfFuel = %v, want %v", c.msg, trap.isOutOfFuel(), c.outOfFuel)
		}
		if trap.isMemoryLimit() != c.memLimit {
			t.Errorf("%q: isMemoryLimit = %v, want %v", c.msg, trap.isMemoryLimit(), c.memLimit)
		}
		if trap.isInterrupt() != c.interrupt {
			t.Errorf("%q: isInterrupt = %v, want %v", c.msg, trap.isInterrupt(), c.interrupt)
		}
	}
}

func TestAsTrapError_Nil(t *testing.T) {
	if asTrapError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

type stringError struct{ s string }

func (e *stringError) Error() string { return e.s }

func TestSandbox_ExecuteRejectsWhenDraining(t *testing.T) {
	s := &Sandbox{draining: true}
	_, err := s.Execute(context.Background(), Request{})
	if err != ErrDraining {
		t.Fatalf("expected ErrDraining, got %v", err)
	}
}
