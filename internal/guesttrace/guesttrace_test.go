package guesttrace

import "testing"

func TestRecorder_CapturesWithoutHandler(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.Trace(TraceEvent{Kind: EventLine, Line: 1})
	r.Write(StreamStdout, []byte("hello"))

	if len(r.Events()) != 1 {
		t.Fatalf("expected 1 captured event, got %d", len(r.Events()))
	}
	if string(r.Stdout()) != "hello" {
		t.Fatalf("expected captured stdout 'hello', got %q", r.Stdout())
	}
}

func TestRecorder_DeliversToHandlerAndStillCaptures(t *testing.T) {
	var delivered []TraceEvent
	r := NewRecorder(func(ev TraceEvent) { delivered = append(delivered, ev) }, nil)

	r.Trace(TraceEvent{Kind: EventCall, Function: "f"})
	r.Trace(TraceEvent{Kind: EventReturn, Function: "f"})

	if len(delivered) != 2 {
		t.Fatalf("expected 2 live-delivered events, got %d", len(delivered))
	}
	if len(r.Events()) != 2 {
		t.Fatalf("expected events still captured for final result, got %d", len(r.Events()))
	}
}

func TestRecorder_StreamsDoNotInterleaveWithinThemselves(t *testing.T) {
	r := NewRecorder(nil, nil)
	r.Write(StreamStdout, []byte("a"))
	r.Write(StreamStderr, []byte("x"))
	r.Write(StreamStdout, []byte("b"))
	r.Write(StreamStderr, []byte("y"))

	if string(r.Stdout()) != "ab" {
		t.Fatalf("expected stdout 'ab' preserving write order, got %q", r.Stdout())
	}
	if string(r.Stderr()) != "xy" {
		t.Fatalf("expected stderr 'xy' preserving write order, got %q", r.Stderr())
	}
}

func TestRecorder_WriteCopiesInputBuffer(t *testing.T) {
	r := NewRecorder(nil, nil)
	buf := []byte("mutable")
	r.Write(StreamStdout, buf)
	buf[0] = 'X'

	if string(r.Stdout()) != "mutable" {
		t.Fatalf("expected recorder to copy input, got %q", r.Stdout())
	}
}
