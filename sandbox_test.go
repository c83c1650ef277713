package eryx

import (
	"context"
	"testing"
	"time"

	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/limits"
	"github.com/oriys/eryx/internal/sandboxrt"
)

func TestResourceLimits_ToInternal(t *testing.T) {
	r := ResourceLimits{
		MemoryBytes:      64 << 20,
		Fuel:             1_000_000,
		ExecutionTimeout: 5 * time.Second,
		CallbackTimeout:  time.Second,
		MaxCallbacks:     10,
	}
	got := r.toInternal()
	want := limits.Limits{
		MemoryBytes:      64 << 20,
		Fuel:             1_000_000,
		ExecutionTimeout: 5 * time.Second,
		CallbackTimeout:  time.Second,
		MaxCallbacks:     10,
	}
	if got != want {
		t.Fatalf("toInternal mismatch: got %+v want %+v", got, want)
	}
}

func TestNetworkPolicy_ToInternalNilIsNil(t *testing.T) {
	var p *NetworkPolicy
	if got := p.toInternal(); got != nil {
		t.Fatalf("expected nil NetworkPolicy to translate to nil, got %+v", got)
	}
}

func TestNetworkPolicy_ToInternalCopiesFields(t *testing.T) {
	p := &NetworkPolicy{
		MaxConnections: 4,
		ConnectTimeout: time.Second,
		IOTimeout:      2 * time.Second,
		AllowedHosts:   []string{"api.example.com"},
	}
	got := p.toInternal()
	if got.MaxConnections != 4 || got.ConnectTimeout != time.Second || got.IOTimeout != 2*time.Second {
		t.Fatalf("unexpected translated policy: %+v", got)
	}
	if len(got.AllowedHosts) != 1 || got.AllowedHosts[0] != "api.example.com" {
		t.Fatalf("unexpected AllowedHosts: %v", got.AllowedHosts)
	}
}

func TestCallbacks_RegisterRejectsDuplicateNames(t *testing.T) {
	cbs := NewCallbacks()
	echo := func(ctx context.Context, args []byte) ([]byte, error) { return args, nil }
	if err := cbs.Register("echo", echo); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := cbs.Register("echo", echo); err == nil {
		t.Fatal("expected duplicate Register to fail")
	}
}

func TestExecuteOptions_ToRequestWiresHandlers(t *testing.T) {
	cbs := NewCallbacks()
	var traced []TraceEvent
	var outputs []string
	opts := ExecuteOptions{
		Limits:    ResourceLimits{ExecutionTimeout: time.Second},
		Callbacks: cbs,
		OnTrace:   func(ev TraceEvent) { traced = append(traced, ev) },
		OnOutput:  func(stream string, data []byte) { outputs = append(outputs, stream) },
	}
	req := opts.toRequest("print('hi')")
	if req.Code != "print('hi')" {
		t.Fatalf("unexpected code: %q", req.Code)
	}
	if req.Callbacks == nil {
		t.Fatal("expected callback registry to be threaded through")
	}
	req.TraceHandler(guesttrace.TraceEvent{Line: 3, Function: "f", Detail: "d"})
	if len(traced) != 1 || traced[0].Line != 3 {
		t.Fatalf("trace handler not wired correctly: %+v", traced)
	}
	req.OutputHandler(guesttrace.OutputChunk{Stream: guesttrace.StreamStdout, Data: []byte("hi")})
	if len(outputs) != 1 || outputs[0] != "stdout" {
		t.Fatalf("output handler not wired correctly: %+v", outputs)
	}
}

func TestExecuteOptions_ToRequestLeavesHandlersNilWhenUnset(t *testing.T) {
	req := ExecuteOptions{}.toRequest("pass")
	if req.TraceHandler != nil || req.OutputHandler != nil || req.Callbacks != nil {
		t.Fatal("expected unset handlers/callbacks to stay nil")
	}
}

func TestTranslateOutcome_CleanSuccess(t *testing.T) {
	o := &sandboxrt.Outcome{Stdout: []byte("ok"), FuelConsumed: 42}
	result, err := translateOutcome(o)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(result.Stdout) != "ok" || result.FuelConsumed != 42 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestTranslateOutcome_Cancelled(t *testing.T) {
	_, err := translateOutcome(&sandboxrt.Outcome{Cancelled: true})
	var e *Error
	if !asError(err, &e) || e.Kind != KindCancelled {
		t.Fatalf("expected KindCancelled, got %v", err)
	}
}

func TestTranslateOutcome_PythonError(t *testing.T) {
	o := &sandboxrt.Outcome{PythonMessage: "boom", PythonTraceback: "trace"}
	_, err := translateOutcome(o)
	var e *Error
	if !asError(err, &e) || e.Kind != KindPython || e.Message != "boom" || e.Traceback != "trace" {
		t.Fatalf("unexpected python translation: %v", err)
	}
	if !e.Recoverable() {
		t.Fatal("expected Python failures to be recoverable")
	}
}

func TestTranslateOutcome_FailureCauses(t *testing.T) {
	cases := []struct {
		cause limits.Cause
		kind  ErrorKind
	}{
		{limits.CauseMemoryLimit, KindMemoryLimit},
		{limits.CauseFuelExhausted, KindFuelExhausted},
		{limits.CauseExecutionTimeout, KindTimeout},
		{limits.CauseCallbackTimeout, KindTimeout},
		{limits.CauseCallbackLimit, KindCallbackLimit},
	}
	for _, c := range cases {
		_, err := translateOutcome(&sandboxrt.Outcome{FailureCause: c.cause})
		var e *Error
		if !asError(err, &e) || e.Kind != c.kind {
			t.Fatalf("cause %v: expected kind %v, got %v", c.cause, c.kind, err)
		}
		if e.Recoverable() {
			t.Fatalf("cause %v: expected non-recoverable", c.cause)
		}
	}
}

func TestTranslateOutcome_TraceEventsCopied(t *testing.T) {
	o := &sandboxrt.Outcome{Trace: []guesttrace.TraceEvent{{Line: 1, Function: "main", Detail: "x"}}}
	result, err := translateOutcome(o)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Trace) != 1 || result.Trace[0].Line != 1 || result.Trace[0].Function != "main" {
		t.Fatalf("unexpected trace: %+v", result.Trace)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = e
	return true
}
