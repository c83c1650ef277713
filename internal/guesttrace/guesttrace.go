// Package guesttrace implements the Tracing & Output Channel (C10): two
// one-way, buffered, backpressured channels from guest to host — trace
// events and output chunks — each with an optional caller handler.
// When no handler is attached, events are simply captured for the final
// ExecuteResult; when one is attached, events are delivered to it in
// order as they occur AND still captured, matching spec.md §4.10's
// "optional handler: when absent, events are captured into the final
// result; when present, events are delivered in order as they occur
// and still appear in the final result."
//
// The optional-handler-plus-always-capture split mirrors the teacher's
// internal/logsink "LogSink is pluggable, but the write always happens"
// shape, generalized from "one write path, swappable destination" to
// "one capture path, plus an optional live tee".
package guesttrace

import "sync"

// EventKind distinguishes the guest-side hook points that produce Trace
// Events (spec.md §4.10).
type EventKind int

const (
	EventLine EventKind = iota
	EventCall
	EventReturn
	EventException
	EventCallbackStart
	EventCallbackEnd
)

func (k EventKind) String() string {
	switch k {
	case EventLine:
		return "line"
	case EventCall:
		return "call"
	case EventReturn:
		return "return"
	case EventException:
		return "exception"
	case EventCallbackStart:
		return "callback-start"
	case EventCallbackEnd:
		return "callback-end"
	default:
		return "unknown"
	}
}

// TraceEvent is one entry on the trace channel.
type TraceEvent struct {
	Kind     EventKind
	Line     int
	Function string
	Detail   string // exception message, callback name, etc.
}

// Stream identifies which guest output stream a chunk came from.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// OutputChunk is one write captured from the guest's stdout/stderr
// wrapper.
type OutputChunk struct {
	Stream Stream
	Data   []byte
}

// TraceHandler receives trace events live, in order, as they occur.
type TraceHandler func(TraceEvent)

// OutputHandler receives output chunks live. The host MUST NOT reorder
// stdout vs stderr relative to their guest-side order within a single
// stream, but may interleave the two streams arbitrarily (spec.md
// §4.10) — Recorder preserves this by appending each chunk to its own
// stream's buffer independently and delivering each chunk to the handler
// as it is written.
type OutputHandler func(OutputChunk)

// Recorder is the per-execution sink for both channels. It is always
// created, even when the caller attaches no handlers, since capture is
// unconditional.
type Recorder struct {
	mu sync.Mutex

	traceHandler  TraceHandler
	outputHandler OutputHandler

	trace  []TraceEvent
	stdout []byte
	stderr []byte
}

// NewRecorder creates a Recorder with optional live handlers. Either
// may be nil.
func NewRecorder(trace TraceHandler, output OutputHandler) *Recorder {
	return &Recorder{traceHandler: trace, outputHandler: output}
}

// Trace records a trace event and, if a handler is attached, delivers it
// immediately before returning (so ordering between the live delivery
// and the call site is preserved for a single-threaded guest).
func (r *Recorder) Trace(ev TraceEvent) {
	r.mu.Lock()
	r.trace = append(r.trace, ev)
	r.mu.Unlock()

	if r.traceHandler != nil {
		r.traceHandler(ev)
	}
}

// Write records an output chunk for stream and, if a handler is
// attached, delivers it immediately.
func (r *Recorder) Write(stream Stream, data []byte) {
	cp := append([]byte(nil), data...)

	r.mu.Lock()
	switch stream {
	case StreamStdout:
		r.stdout = append(r.stdout, cp...)
	case StreamStderr:
		r.stderr = append(r.stderr, cp...)
	}
	r.mu.Unlock()

	if r.outputHandler != nil {
		r.outputHandler(OutputChunk{Stream: stream, Data: cp})
	}
}

// Events returns a copy of every recorded trace event, in emission order.
func (r *Recorder) Events() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.trace))
	copy(out, r.trace)
	return out
}

// Stdout returns the full captured stdout stream.
func (r *Recorder) Stdout() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.stdout...)
}

// Stderr returns the full captured stderr stream.
func (r *Recorder) Stderr() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.stderr...)
}
