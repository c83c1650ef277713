// Package sandboxrt implements the Sandbox / Executor (C7): the
// fresh-guest-instance-per-execute pipeline that arms resource limits,
// invokes the guest's execute export, pumps the callback/trace/output
// imports, and drains on completion.
//
// # Pipeline
//
// Execute's pipeline mirrors the teacher's internal/executor/executor.go
// doc-comment structure, restructured around a single in-process guest
// instance instead of a vsock round-trip to a remote agent:
//
//  1. Drain-check: reject if the Sandbox is shutting down.
//  2. Obtain an instance (from the Factory template, if present).
//  3. Build a per-execution context: callback tracker, trace/output
//     recorder, network policy connection table, VFS mount.
//  4. Arm resource limits (epoch deadline, fuel, memory cap) before
//     entering guest code.
//  5. Invoke the guest's execute export asynchronously.
//  6. Pump the async task: dispatch callback invocations, forward trace
//     and output events, race the execution deadline.
//  7. Drain remaining output, close remaining connections, resolve
//     pending callback slots, and report the outcome.
//
// # Failure behaviour
//
// Only KindPython is recoverable; every other failure leaves the
// instance unusable and the owning Session must Reset before further
// use (spec.md §7), mirroring the teacher's "a VM that returns an
// execution error is evicted rather than returned to the warm set."
package sandboxrt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/hostimports"
	"github.com/oriys/eryx/internal/limits"
	"github.com/oriys/eryx/internal/metrics"
	"github.com/oriys/eryx/internal/netpolicy"
	"github.com/oriys/eryx/internal/observability"
	"github.com/oriys/eryx/internal/secrets"
)

// Outcome is the classified result of one Execute call.
type Outcome struct {
	Stdout              []byte
	Stderr              []byte
	Trace               []guesttrace.TraceEvent
	Duration            time.Duration
	PeakMemoryBytes     int64
	FuelConsumed        uint64
	FuelLimit           uint64
	CallbackInvocations int64

	// FailureCause is limits.CauseNone on success or a KindPython
	// recoverable error; otherwise it names which enforcer mechanism
	// ended the execution.
	FailureCause limits.Cause
	// Cancelled is true when the caller's ctx was cancelled directly,
	// as distinct from the per-execution timeout ctx expiring (which
	// shows up as FailureCause == CauseExecutionTimeout instead).
	Cancelled bool
	// PythonMessage/PythonTraceback are set only when the guest raised
	// an exception that propagated out of execute() (a recoverable
	// failure).
	PythonMessage   string
	PythonTraceback string
}

// Recoverable reports whether the instance that produced o remains
// usable without a Reset: true for a clean return or a Python failure,
// false for every enforcer-ended or cancelled execution.
func (o *Outcome) Recoverable() bool {
	return !o.Cancelled && o.FailureCause == limits.CauseNone
}

// Request is one execute() call's input.
type Request struct {
	Code          string
	Limits        limits.Limits
	TraceHandler  guesttrace.TraceHandler
	OutputHandler guesttrace.OutputHandler
	Callbacks     *callback.Registry
	Network       *netpolicy.Policy
}

// Sandbox runs isolated, fresh-instance executions against a Factory
// Template. A Sandbox has no persistent guest state across calls; to
// persist Python state between executions, callers use
// internal/session.Session instead, which wraps a Sandbox-shaped
// executor around one long-lived instance.
type Sandbox struct {
	template *factory.Template
	secrets  []secrets.Secret

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New returns a Sandbox that spawns fresh instances from template.
func New(template *factory.Template) *Sandbox {
	return &Sandbox{template: template}
}

// NewWithSecrets returns a Sandbox that binds secretBindings into every
// instance it spawns (spec.md §4.13). Since a plain Sandbox spawns a
// fresh instance per Execute call, this re-mints fresh placeholders
// every call too — callers that need one stable placeholder set across
// many calls should use a Session instead.
func NewWithSecrets(template *factory.Template, secretBindings []secrets.Secret) *Sandbox {
	return &Sandbox{template: template, secrets: secretBindings}
}

// Shutdown marks the Sandbox as draining: no new Execute calls are
// accepted, and Shutdown blocks until in-flight calls finish.
func (s *Sandbox) Shutdown() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// ErrDraining is returned by Execute when the Sandbox is shutting down.
var ErrDraining = fmt.Errorf("sandboxrt: sandbox is draining")

// Execute runs req.Code in a fresh guest instance end-to-end, per
// spec.md §4.7's algorithm.
func (s *Sandbox) Execute(ctx context.Context, req Request) (*Outcome, error) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return nil, ErrDraining
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	instance, err := s.template.SpawnWithOptions(ctx, factory.SpawnOptions{Secrets: s.secrets})
	if err != nil {
		return nil, fmt.Errorf("sandboxrt: obtain instance: %w", err)
	}
	defer instance.Close()

	return ExecuteOn(ctx, instance, req)
}

// ExecuteOn runs req.Code against an already-spawned instance, without
// spawning or closing it. Session (C8) uses this to run repeated
// execute() calls against its one long-lived instance, while Sandbox's
// Execute wraps it around a fresh Spawn/Close pair per call.
func ExecuteOn(ctx context.Context, instance *factory.Instance, req Request) (outcome *Outcome, execErr error) {
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "execute", observability.AttrSandboxID.String(instance.ID))
	defer span.End()

	m := metrics.Global()
	m.IncActiveExecutions()
	defer func() {
		m.DecActiveExecutions()
		if outcome == nil {
			if execErr != nil {
				observability.SetSpanError(span, execErr)
			}
			return
		}
		label := outcomeResultLabel(outcome)
		if execErr != nil {
			label = "internal_error"
			observability.SetSpanError(span, execErr)
		} else {
			observability.SetSpanOK(span)
		}
		span.SetAttributes(
			observability.AttrResult.String(label),
			observability.AttrFuelConsumed.Int64(int64(outcome.FuelConsumed)),
		)
		m.RecordExecution(label, outcome.Duration, outcome.FuelConsumed)
	}()

	recorder := guesttrace.NewRecorder(req.TraceHandler, req.OutputHandler)

	registry := req.Callbacks
	if registry == nil {
		registry = callback.NewRegistry()
	}
	effectiveLimits := req.Limits.WithDefaults()
	tracker := callback.NewTracker(registry, effectiveLimits.MaxCallbacks, effectiveLimits.CallbackTimeout)
	defer tracker.Wait()

	var connTable *netpolicy.Table
	if req.Network != nil {
		connTable = netpolicy.NewTable(req.Network.WithDefaults())
		defer connTable.CloseAll()
	}

	enforcer := limits.NewEnforcer(effectiveLimits)
	if err := enforcer.Arm(instance.Store, epochTicksFor(effectiveLimits.ExecutionTimeout)); err != nil {
		return nil, fmt.Errorf("sandboxrt: arm limits: %w", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, effectiveLimits.ExecutionTimeout)
	defer cancel()

	// Host functions bound on instance's Linker at spawn time dispatch
	// through instance.Exec; install this call's collaborators for the
	// duration of runGuest and tear them down before returning, since the
	// Linker itself outlives any one execute() call (Session reuses the
	// same Instance across many calls).
	instance.Exec.Set(&hostimports.ExecContext{
		Ctx:      execCtx,
		Tracker:  tracker,
		Recorder: recorder,
		Conns:    connTable,
		Secrets:  instance.Secrets,
	})
	defer instance.Exec.Clear()

	var fuelConsumed atomic.Uint64
	result := runGuest(execCtx, instance, req.Code, tracker, recorder, enforcer, &fuelConsumed)

	cancelledByCaller := ctx.Err() == context.Canceled
	if !cancelledByCaller && execCtx.Err() == context.DeadlineExceeded {
		enforcer.Record(limits.CauseExecutionTimeout)
	}

	tracker.Cancel()
	tracker.Wait()

	outcome = &Outcome{
		Stdout:              recorder.Stdout(),
		Stderr:              recorder.Stderr(),
		Trace:               recorder.Events(),
		Duration:            time.Since(start),
		FuelConsumed:        fuelConsumed.Load(),
		CallbackInvocations: int64(tracker.Dispatched()),
		Cancelled:           cancelledByCaller,
	}

	if cancelledByCaller {
		return outcome, nil
	}

	if cause := enforcer.Winner(); cause != limits.CauseNone {
		outcome.FailureCause = cause
		if cause == limits.CauseFuelExhausted {
			info := enforcer.FuelInfo()
			outcome.FuelConsumed = info.Consumed
			outcome.FuelLimit = info.Limit
		}
		return outcome, nil
	}

	if result.pythonErr != nil {
		outcome.PythonMessage = result.pythonErr.message
		outcome.PythonTraceback = result.pythonErr.traceback
		return outcome, nil
	}

	if result.internalErr != nil {
		return outcome, fmt.Errorf("sandboxrt: %w", result.internalErr)
	}

	return outcome, nil
}

// outcomeResultLabel maps an Outcome onto the "result" label
// metrics.RecordExecution groups by.
func outcomeResultLabel(o *Outcome) string {
	switch {
	case o.Cancelled:
		return "cancelled"
	case o.FailureCause == limits.CauseMemoryLimit:
		return "memory_limit"
	case o.FailureCause == limits.CauseFuelExhausted:
		return "fuel_exhausted"
	case o.FailureCause == limits.CauseExecutionTimeout:
		return "timeout"
	case o.FailureCause == limits.CauseCallbackTimeout:
		return "callback_timeout"
	case o.FailureCause == limits.CauseCallbackLimit:
		return "callback_limit"
	case o.PythonMessage != "":
		return "python_error"
	default:
		return "success"
	}
}

// epochTicksFor converts a wall-clock timeout into a tick count for
// Store.SetEpochDeadline, assuming the Engine's ticker runs at
// wasmengine.DefaultEpochTickInterval. A Builder that configures a
// different tick interval must pass the corresponding tick count
// through a different path; this helper covers the common default.
func epochTicksFor(timeout time.Duration) uint64 {
	const defaultTick = 10 * time.Millisecond
	ticks := uint64(timeout / defaultTick)
	if ticks == 0 {
		ticks = 1
	}
	return ticks
}
