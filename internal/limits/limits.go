// Package limits implements the Resource Enforcer (C11): composing the
// engine's epoch deadline, fuel budget, and memory limiter with the
// Callback Bridge's per-call timeout and invocation counter into one
// failure classification with a fixed, first-fire-wins priority order:
// memory, fuel, execution timeout, callback timeout, callback count.
//
// The zero-means-unlimited convention for every field is grounded on
// the teacher's internal/pool/pool_acquisition.go getCapacityLimits,
// which returns zero for "no limit" throughout its acquisition path.
package limits

import (
	"fmt"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v28"
)

// Limits is the caller-supplied resource budget for one Sandbox
// execution (spec.md §3 "Resource Limits"). Zero means unlimited for
// every field except ExecutionTimeout, which defaults to
// DefaultExecutionTimeout when zero to avoid an accidentally-hanging
// guest.
type Limits struct {
	MemoryBytes      int64
	Fuel             uint64
	ExecutionTimeout time.Duration
	CallbackTimeout  time.Duration
	MaxCallbacks     int64
}

// DefaultExecutionTimeout bounds a Sandbox execution when the caller
// supplies no explicit timeout.
const DefaultExecutionTimeout = 30 * time.Second

// WithDefaults fills ExecutionTimeout when unset, leaving every other
// zero-valued field as an explicit "unlimited".
func (l Limits) WithDefaults() Limits {
	if l.ExecutionTimeout <= 0 {
		l.ExecutionTimeout = DefaultExecutionTimeout
	}
	return l
}

// Cause identifies which enforcement mechanism ended an execution.
type Cause int

const (
	CauseNone Cause = iota
	CauseMemoryLimit
	CauseFuelExhausted
	CauseExecutionTimeout
	CauseCallbackTimeout
	CauseCallbackLimit
)

func (c Cause) String() string {
	switch c {
	case CauseMemoryLimit:
		return "memory-limit"
	case CauseFuelExhausted:
		return "fuel-exhausted"
	case CauseExecutionTimeout:
		return "execution-timeout"
	case CauseCallbackTimeout:
		return "callback-timeout"
	case CauseCallbackLimit:
		return "callback-limit"
	default:
		return "none"
	}
}

// priorityOrder is the fixed first-fire-wins ranking from spec.md
// §4.11: memory, fuel, execution timeout, callback timeout, callback
// count. Lower index wins when multiple causes are recorded before the
// winner is read.
var priorityOrder = []Cause{
	CauseMemoryLimit,
	CauseFuelExhausted,
	CauseExecutionTimeout,
	CauseCallbackTimeout,
	CauseCallbackLimit,
}

// FuelExhaustedInfo carries the consumed/limit pair spec.md's
// FuelExhausted error kind requires.
type FuelExhaustedInfo struct {
	Consumed uint64
	Limit    uint64
}

// Enforcer tracks every limit signal raised during one execution and
// resolves them to a single winning Cause under the fixed priority
// order, regardless of the order signals actually arrive in (wasmtime
// traps, timer fires, and the callback tracker run on different
// goroutines and may race).
type Enforcer struct {
	limits Limits

	mu      sync.Mutex
	fired   map[Cause]struct{}
	fuelInf FuelExhaustedInfo
}

// NewEnforcer returns an Enforcer for limits (already defaulted via
// WithDefaults by the caller).
func NewEnforcer(limits Limits) *Enforcer {
	return &Enforcer{limits: limits, fired: make(map[Cause]struct{})}
}

// Arm configures store's epoch deadline and, if a fuel budget is set,
// adds fuel and enables consumption — the two mechanisms that must be
// armed before guest entry per spec.md §4.7 step 3.
func (e *Enforcer) Arm(store *wasmtime.Store, epochTicksUntilDeadline uint64) error {
	store.SetEpochDeadline(epochTicksUntilDeadline)
	if e.limits.Fuel > 0 {
		if err := store.SetFuel(e.limits.Fuel); err != nil {
			return fmt.Errorf("limits: set fuel: %w", err)
		}
	}
	if e.limits.MemoryBytes > 0 {
		limiter := wasmtime.NewStoreLimitsBuilder().MemorySize(e.limits.MemoryBytes).Build()
		store.Limiter(limiter)
	}
	return nil
}

// Record notes that cause fired, along with any cause-specific detail.
// It is safe to call from multiple goroutines (the epoch/fuel trap
// handler, the execution-timeout timer, and the callback tracker may
// all call Record concurrently).
func (e *Enforcer) Record(cause Cause) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired[cause] = struct{}{}
}

// RecordFuelExhausted is Record(CauseFuelExhausted) plus the
// consumed/limit pair for the eventual FuelExhausted error.
func (e *Enforcer) RecordFuelExhausted(consumed uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired[CauseFuelExhausted] = struct{}{}
	e.fuelInf = FuelExhaustedInfo{Consumed: consumed, Limit: e.limits.Fuel}
}

// Winner returns the highest-priority cause recorded so far, or
// CauseNone if nothing has fired.
func (e *Enforcer) Winner() Cause {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range priorityOrder {
		if _, ok := e.fired[c]; ok {
			return c
		}
	}
	return CauseNone
}

// FuelInfo returns the consumed/limit pair recorded by
// RecordFuelExhausted, valid only when Winner() == CauseFuelExhausted.
func (e *Enforcer) FuelInfo() FuelExhaustedInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuelInf
}

// AnyFired reports whether at least one limit has been recorded.
func (e *Enforcer) AnyFired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fired) > 0
}
