// Package callback implements the Callback Bridge (C9): a name-unique
// registry of host functions the guest can invoke, with per-call
// subtask tracking, a per-execution invocation budget, and concurrent
// dispatch on the host's own goroutines.
//
// The invocation path is grounded on the teacher's
// internal/executor/balanced_invoker.go shape — track an in-flight
// count per unit of work, dispatch, then release the slot — generalized
// from "route to the least-loaded remote endpoint" to "track concurrent
// in-process callback invocations and bound their total for one execution".
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/eryx/internal/metrics"
)

// Kind distinguishes how a handler's arguments are validated.
type Kind int

const (
	// KindTyped handlers carry a Schema surfaced through list-callbacks;
	// Dispatch does not validate arguments against it, and Func receives
	// the raw JSON.
	KindTyped Kind = iota
	// KindDynamic handlers receive raw JSON and validate it themselves.
	KindDynamic
)

// Handler is a registered callback implementation. Typed handlers
// should unmarshal Args into their own parameter struct; dynamic
// handlers receive Args as-is.
type Handler struct {
	Name string
	Kind Kind
	// Description is a short human-readable summary surfaced to the
	// guest through list-callbacks (spec.md §6), so Python code can
	// introspect what a callback does without reading host source.
	Description string
	// Schema is an optional JSON Schema document describing a typed
	// handler's parameters, surfaced through list-callbacks; Dispatch
	// does not validate arguments against it. Nil for dynamic handlers.
	Schema json.RawMessage
	Func   func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Error kinds from spec.md §4.9's failure mapping.
var (
	ErrInvalidArguments = errors.New("callback: invalid arguments")
	ErrExecutionFailed  = errors.New("callback: execution failed")
	ErrNotFound         = errors.New("callback: not found")
	ErrTimeout          = errors.New("callback: timed out")
	ErrLimitExceeded    = errors.New("callback: invocation limit exceeded")
)

// Registry is the name-unique map of callback handlers shared across
// every execution it is passed to. Dotted
// names (e.g. "mcp.github.search") are exposed to the guest as
// attribute access on namespace objects; Registry itself is agnostic to
// the dots and just indexes by the full string.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under h.Name. It returns an error if the name is
// already registered, since the registry is name-unique.
func (r *Registry) Register(h Handler) error {
	if h.Name == "" {
		return fmt.Errorf("callback: handler name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name]; exists {
		return fmt.Errorf("callback: handler %q already registered", h.Name)
	}
	r.handlers[h.Name] = h
	return nil
}

// ListCallbacks returns every registered name, satisfying spec.md
// §4.9's "list-callbacks" introspection import.
func (r *Registry) ListCallbacks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

func (r *Registry) lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Handlers returns a copy of every registered Handler, for list-callbacks
// to build its full descriptor list from (name, description, schema),
// not just names.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// Invocation is a single subtask-id-keyed callback call in flight for
// one execution.
type Invocation struct {
	SubtaskID uint64
	Name      string
	Args      json.RawMessage
}

// Result is the outcome written into an invocation's result slot.
type Result struct {
	SubtaskID uint64
	Value     json.RawMessage
	Err       error
}

// Tracker runs one execution's worth of callback invocations against a
// Registry, enforcing a per-execution count budget and per-call
// timeout, and exposes subtask-id-keyed result delivery for the guest
// task pump (C7) to consume.
//
// A Tracker is single-execution scoped: sandboxrt.ExecuteOn creates one
// per call to execute(), matching spec.md §4.9's "operations on one
// Sandbox/Session are serialised — a Session processes at most one
// execute() at a time".
type Tracker struct {
	registry       *Registry
	perCallTimeout time.Duration
	maxInvocations int64

	invocations atomic.Int64
	used        atomic.Int64
	nextSubtask atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]context.CancelFunc
	results chan Result

	wg sync.WaitGroup
}

// NewTracker creates a Tracker bound to registry. maxInvocations <= 0
// means unlimited. perCallTimeout <= 0 means no per-call timeout beyond
// the execution's own deadline.
func NewTracker(registry *Registry, maxInvocations int64, perCallTimeout time.Duration) *Tracker {
	return &Tracker{
		registry:       registry,
		perCallTimeout: perCallTimeout,
		maxInvocations: maxInvocations,
		pending:        make(map[uint64]context.CancelFunc),
		results:        make(chan Result, 16),
	}
}

// NextSubtaskID mints a fresh subtask id for a new invoke call, per
// spec.md §4.9 step 2.
func (t *Tracker) NextSubtaskID() uint64 {
	return t.nextSubtask.Add(1)
}

// Registry returns the Registry this Tracker dispatches against, so the
// host's list-callbacks import can enumerate handlers without the
// Tracker itself needing to proxy every Registry method.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Dispatch schedules name(args) on the host executor under subtaskID,
// honoring the per-execution invocation budget and per-call timeout.
// The result is delivered asynchronously on Results(); Dispatch itself
// does not block on handler completion.
func (t *Tracker) Dispatch(ctx context.Context, subtaskID uint64, name string, args json.RawMessage) {
	if n := t.used.Add(1); t.maxInvocations > 0 && n > t.maxInvocations {
		t.used.Add(-1)
		t.emit(Result{SubtaskID: subtaskID, Err: fmt.Errorf("%w: %q", ErrLimitExceeded, name)})
		return
	}

	handler, ok := t.registry.lookup(name)
	if !ok {
		t.used.Add(-1)
		t.emit(Result{SubtaskID: subtaskID, Err: fmt.Errorf("%w: %q", ErrNotFound, name)})
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if t.perCallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, t.perCallTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}

	t.mu.Lock()
	t.pending[subtaskID] = cancel
	t.mu.Unlock()

	t.invocations.Add(1)
	t.wg.Add(1)
	go func() {
		start := time.Now()
		defer t.wg.Done()
		defer t.invocations.Add(-1)
		defer func() {
			t.mu.Lock()
			delete(t.pending, subtaskID)
			t.mu.Unlock()
			cancel()
		}()

		value, err := handler.Func(callCtx, args)
		result := "success"
		if callCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %q", ErrTimeout, name)
			result = "timeout"
		} else if err != nil {
			err = fmt.Errorf("%w: %v", ErrExecutionFailed, err)
			result = "error"
		}
		metrics.Global().RecordCallback(name, result, time.Since(start))
		t.emit(Result{SubtaskID: subtaskID, Value: value, Err: err})
	}()
}

func (t *Tracker) emit(r Result) {
	select {
	case t.results <- r:
	default:
		// The task pump must keep draining Results(); a full channel here
		// indicates the pump has stopped reading, which only happens after
		// Cancel, so dropping is safe.
	}
}

// Results is the channel the task pump reads completed invocations
// from, matching subtask-id to the guest's awaited value (spec.md §4.9
// steps 4-5).
func (t *Tracker) Results() <-chan Result {
	return t.results
}

// Cancel drops every pending callback result slot and aborts their
// contexts, per spec.md §4.9's cancellation contract: "handlers already
// running are not forcibly killed but their results are discarded."
// Handlers are responsible for reacting to context cancellation
// themselves if they hold resources that must be released.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.pending))
	for _, c := range t.pending {
		cancels = append(cancels, c)
	}
	t.pending = make(map[uint64]context.CancelFunc)
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Wait blocks until every dispatched handler has returned (whether or
// not its result was consumed), used when draining at the end of
// execute() (spec.md §4.7 step 6).
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// InFlight reports the current number of dispatched-but-not-completed
// invocations, for metrics.
func (t *Tracker) InFlight() int64 {
	return t.invocations.Load()
}

// Dispatched reports the total number of subtask ids minted by this
// Tracker, for the callback-count stat on a completed execution.
func (t *Tracker) Dispatched() uint64 {
	return t.nextSubtask.Load()
}
