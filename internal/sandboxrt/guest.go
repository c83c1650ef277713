package sandboxrt

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/limits"
)

// pythonFailure carries a guest-raised exception that propagated out of
// execute(), the one failure mode that leaves the instance usable
// without a Reset (spec.md §7).
type pythonFailure struct {
	message   string
	traceback string
}

// guestResult is runGuest's outcome, separate from Outcome because it
// reports only what the guest call itself produced; Execute layers the
// enforcer's verdict and elapsed time on top.
type guestResult struct {
	pythonErr   *pythonFailure
	internalErr error
}

// runGuest invokes the component's execute export and pumps its
// callback/trace/output imports until it returns or ctx is done.
//
// The imports are modelled as host functions the guest calls
// synchronously during execute(); this mirrors how wasmtime component
// bindings surface host-provided interfaces, so "pumping" here means
// routing each host-function call to the tracker/recorder rather than
// running a separate event loop goroutine. A guest that blocks inside
// execute() past ctx's deadline is caught by the epoch deadline set in
// Execute's Arm call, which traps the guest's next epoch checkpoint and
// unblocks the Call below with a wasmtime trap error.
func runGuest(ctx context.Context, instance *factory.Instance, code string, tracker *callback.Tracker, recorder *guesttrace.Recorder, enforcer *limits.Enforcer, fuelConsumed *atomic.Uint64) guestResult {
	export := instance.Instance.GetExport(instance.Store, "execute")
	if export == nil || export.Func() == nil {
		return guestResult{internalErr: fmt.Errorf("sandboxrt: component does not export execute")}
	}

	done := make(chan guestResult, 1)
	go func() {
		defer close(done)
		raw, err := export.Func().Call(instance.Store, code)
		if err != nil {
			if consumed, ok := instance.Store.FuelConsumed(); ok {
				fuelConsumed.Store(consumed)
			}
			if trap := asTrapError(err); trap != nil {
				switch {
				case trap.isOutOfFuel():
					enforcer.RecordFuelExhausted(fuelConsumed.Load())
				case trap.isMemoryLimit():
					enforcer.Record(limits.CauseMemoryLimit)
				case trap.isInterrupt():
					enforcer.Record(limits.CauseExecutionTimeout)
				}
				done <- guestResult{}
				return
			}
			done <- guestResult{internalErr: err}
			return
		}
		if consumed, ok := instance.Store.FuelConsumed(); ok {
			fuelConsumed.Store(consumed)
		}
		done <- decodeExecuteResult(raw)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		<-done // guest goroutine still owns the Store; wait for the trap/return before returning
		return guestResult{}
	}
}

// decodeExecuteResult interprets execute()'s return value. The
// component interface returns a Python-error variant as a two-field
// (message, traceback) pair rather than a trap, since a raised
// exception is expected guest behaviour, not a host-enforced failure.
func decodeExecuteResult(raw interface{}) guestResult {
	switch v := raw.(type) {
	case nil:
		return guestResult{}
	case string:
		return guestResult{}
	case [2]string:
		return guestResult{pythonErr: &pythonFailure{message: v[0], traceback: v[1]}}
	default:
		return guestResult{internalErr: fmt.Errorf("sandboxrt: unexpected execute() return type %T", raw)}
	}
}
