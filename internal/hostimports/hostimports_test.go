package hostimports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v28"

	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/guesttrace"
)

func TestBind_RegistersEveryImportWithoutError(t *testing.T) {
	linker := wasmtime.NewLinker(wasmtime.NewEngine())
	cell := &Cell{}
	if err := Bind(linker, cell); err != nil {
		t.Fatalf("Bind: %v", err)
	}
}

func TestCell_CurrentFailsWhenUnset(t *testing.T) {
	cell := &Cell{}
	if _, err := cell.current(); err == nil {
		t.Fatal("expected an error when no ExecContext is installed")
	}
}

func TestCell_SetClearRoundTrip(t *testing.T) {
	cell := &Cell{}
	ec := &ExecContext{Ctx: context.Background()}
	cell.Set(ec)

	got, err := cell.current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got != ec {
		t.Fatal("expected current to return the installed ExecContext")
	}

	cell.Clear()
	if _, err := cell.current(); err == nil {
		t.Fatal("expected an error after Clear")
	}
}

func TestParseEventKind(t *testing.T) {
	cases := map[string]guesttrace.EventKind{
		"call":           guesttrace.EventCall,
		"return":         guesttrace.EventReturn,
		"exception":      guesttrace.EventException,
		"callback-start": guesttrace.EventCallbackStart,
		"callback-end":   guesttrace.EventCallbackEnd,
		"line":           guesttrace.EventLine,
		"unknown":        guesttrace.EventLine,
	}
	for in, want := range cases {
		if got := parseEventKind(in); got != want {
			t.Fatalf("parseEventKind(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExecContext_ScrubPassesThroughWithoutSecrets(t *testing.T) {
	ec := &ExecContext{}
	data := []byte("hello")
	if got := ec.scrub(guesttrace.StreamStdout, data); string(got) != "hello" {
		t.Fatalf("expected unscrubbed passthrough, got %q", got)
	}
}

func TestTrackerResultRace_InvokeIsSoleConsumer(t *testing.T) {
	// invoke's host closure blocks on Tracker.Results() as its sole
	// consumer; confirm Dispatch still delivers promptly under that
	// assumption, independent of the wasmtime plumbing.
	registry := callback.NewRegistry()
	_ = registry.Register(callback.Handler{
		Name: "echo",
		Kind: callback.KindDynamic,
		Func: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	})
	tracker := callback.NewTracker(registry, 0, 0)
	id := tracker.NextSubtaskID()
	tracker.Dispatch(context.Background(), id, "echo", json.RawMessage(`{"ok":true}`))

	select {
	case res := <-tracker.Results():
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if string(res.Value) != `{"ok":true}` {
			t.Fatalf("unexpected value: %s", res.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch result")
	}
	tracker.Wait()
}

