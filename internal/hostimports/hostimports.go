// Package hostimports binds spec.md §6's guest-exposed host imports
// (invoke, list-callbacks, report-trace, report-output, net.tcp.*,
// net.tls.*) onto a wasmtime.Linker, so a guest component can actually
// call back into the host instead of finding those imports undefined at
// instantiation time.
//
// Grounded on the host-module-export shape in
// other_examples/5e6a0bd9_JanFalkin-wapc-go__engines-wazero-wazero.go.go's
// instantiateWapcHost (one host module, several named function exports,
// each dispatching to a Go method on a shared host object) — generalized
// from wazero's NewHostModuleBuilder to wasmtime-go's Linker.FuncWrap,
// and from wapc's single fixed hostCall export to the five-shaped import
// set this spec names. Argument passing follows this codebase's own
// established convention at every other WASM boundary crossing
// (sandboxrt/guest.go's execute call, session.go's SnapshotState/
// RestoreState) of handing Go strings/[]byte straight to Func.Call
// rather than manually walking guest linear memory for ptr/len pairs;
// host imports stay consistent with that rather than introducing a
// second, lower-level marshalling convention solely for this package.
package hostimports

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/bytecodealliance/wasmtime-go/v28"

	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/netpolicy"
	"github.com/oriys/eryx/internal/secrets"
)

// maxNetRead caps one net.tcp.read host call's buffer, so a guest
// passing an unreasonable length can't force an oversized host
// allocation.
const maxNetRead = 1 << 20

// ExecContext is the live set of per-execution collaborators a bound
// host function dispatches into. sandboxrt.ExecuteOn builds one per
// execute() call and installs it into the owning Instance's Cell for
// the call's duration, since the Linker the host functions are defined
// on is built once per Instance at spawn time (factory.newInstance),
// long before any particular execute() call's Tracker/Recorder exist.
type ExecContext struct {
	Ctx      context.Context
	Tracker  *callback.Tracker
	Recorder *guesttrace.Recorder
	// Conns is nil when the execution has no attached NetworkPolicy;
	// every net.tcp.*/net.tls.* import reports HostBlocked-equivalent
	// failure in that case rather than panicking.
	Conns *netpolicy.Table
	// Secrets is nil when the instance has no secrets bound. Set once
	// at spawn time (factory.Instance.Secrets) and carried into every
	// ExecContext built against that instance, since placeholders are
	// per-sandbox, not per-call (spec.md §4.13).
	Secrets  *secrets.Bridge
	scrubber *secrets.Scrubber
}

func (ec *ExecContext) scrub(stream guesttrace.Stream, data []byte) []byte {
	if ec.Secrets == nil {
		return data
	}
	if ec.scrubber == nil {
		ec.scrubber = secrets.NewScrubber(ec.Secrets, secrets.DefaultScrubOptions())
	}
	if stream == guesttrace.StreamStderr {
		return []byte(ec.scrubber.ScrubStderr(string(data)))
	}
	return []byte(ec.scrubber.ScrubStdout(string(data)))
}

// Cell holds the ExecContext currently active for one Instance. Host
// closures close over a Cell (never an ExecContext directly) because
// Bind runs before any ExecContext exists.
type Cell struct {
	ptr atomic.Pointer[ExecContext]
}

// Set installs ec as the active context. Called once per execute() call
// before the guest's execute export is invoked.
func (c *Cell) Set(ec *ExecContext) { c.ptr.Store(ec) }

// Clear removes the active context. Called when an execute() call
// returns, so a host import invoked outside any call (which should
// never happen for a well-behaved guest, but must not crash the host)
// reports a clean error instead of dereferencing a stale pointer.
func (c *Cell) Clear() { c.ptr.Store(nil) }

func (c *Cell) current() (*ExecContext, error) {
	ec := c.ptr.Load()
	if ec == nil {
		return nil, fmt.Errorf("hostimports: called outside an active execute()")
	}
	return ec, nil
}

// Bind registers every host import spec.md §6 names on linker, each
// dispatching through whatever ExecContext cell currently holds. It
// must run before Linker.Instantiate, since a core-wasm module resolves
// its imports at instantiation time — every compiled guest component
// this engine runs declares these imports, so omitting any one of them
// here fails Instantiate with an unresolved-import error, on the
// pre-init path as much as the normal execute path.
func Bind(linker *wasmtime.Linker, cell *Cell) error {
	if err := bindCallback(linker, cell); err != nil {
		return err
	}
	if err := bindTrace(linker, cell); err != nil {
		return err
	}
	if err := bindNet(linker, cell); err != nil {
		return err
	}
	return nil
}

func bindCallback(linker *wasmtime.Linker, cell *Cell) error {
	// invoke(subtask-id, name, args-json) -> result<string, string>
	// (spec.md §6). The subtask id is minted here rather than accepted
	// as a guest-supplied argument: NextSubtaskID is the host's own
	// monotonic counter (spec.md §4.9 step 2), so handing the guest a
	// ready-made id keeps one counter authoritative instead of trusting
	// the guest not to collide or replay one.
	err := linker.FuncWrap("eryx:callback", "invoke", func(name, argsJSON string) (string, string) {
		ec, err := cell.current()
		if err != nil {
			return "", err.Error()
		}
		subtaskID := ec.Tracker.NextSubtaskID()
		ec.Tracker.Dispatch(ec.Ctx, subtaskID, name, json.RawMessage(argsJSON))
		select {
		case res, ok := <-ec.Tracker.Results():
			if !ok {
				return "", "callback: tracker closed before a result arrived"
			}
			if res.Err != nil {
				return "", res.Err.Error()
			}
			return string(res.Value), ""
		case <-ec.Ctx.Done():
			return "", "callback: execution cancelled while awaiting result"
		}
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind invoke: %w", err)
	}

	// list-callbacks() -> list<{name, description, parameters-schema-json}>,
	// JSON-encoded (spec.md §6) so the guest can build its namespace
	// objects and populate list_callbacks() (spec.md §4.9).
	err = linker.FuncWrap("eryx:callback", "list-callbacks", func() string {
		ec, err := cell.current()
		if err != nil {
			return "[]"
		}
		handlers := ec.Tracker.Registry().Handlers()
		sort.Slice(handlers, func(i, j int) bool { return handlers[i].Name < handlers[j].Name })
		descriptors := make([]callbackDescriptor, len(handlers))
		for i, h := range handlers {
			descriptors[i] = callbackDescriptor{
				Name:               h.Name,
				Description:        h.Description,
				ParametersSchemaRaw: h.Schema,
			}
		}
		encoded, marshalErr := json.Marshal(descriptors)
		if marshalErr != nil {
			return "[]"
		}
		return string(encoded)
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind list-callbacks: %w", err)
	}
	return nil
}

type callbackDescriptor struct {
	Name                string          `json:"name"`
	Description         string          `json:"description"`
	ParametersSchemaRaw json.RawMessage `json:"parameters_schema_json,omitempty"`
}

func bindTrace(linker *wasmtime.Linker, cell *Cell) error {
	// report-trace(lineno, event-json, context-json) (spec.md §6):
	// event-json carries {"kind", "function"}, context-json carries
	// {"detail"} (exception message, callback name, ...).
	err := linker.FuncWrap("eryx:trace", "report-trace", func(lineno int32, eventJSON, contextJSON string) {
		ec, err := cell.current()
		if err != nil {
			return
		}
		var ev struct {
			Kind     string `json:"kind"`
			Function string `json:"function"`
		}
		_ = json.Unmarshal([]byte(eventJSON), &ev)
		var cx struct {
			Detail string `json:"detail"`
		}
		_ = json.Unmarshal([]byte(contextJSON), &cx)
		ec.Recorder.Trace(guesttrace.TraceEvent{
			Kind:     parseEventKind(ev.Kind),
			Line:     int(lineno),
			Function: ev.Function,
			Detail:   cx.Detail,
		})
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind report-trace: %w", err)
	}

	// report-output(stream: 0|1, data: string) (spec.md §6). This is the
	// guest's stdout/stderr wrapper's one write path (spec.md §4.10); it
	// replaces wasiCfg.InheritStdout/InheritStderr, which piped guest
	// writes straight to the host process's own terminal instead of
	// returning them to the caller.
	err = linker.FuncWrap("eryx:trace", "report-output", func(stream int32, data string) {
		ec, err := cell.current()
		if err != nil {
			return
		}
		s := guesttrace.StreamStdout
		if stream == 1 {
			s = guesttrace.StreamStderr
		}
		ec.Recorder.Write(s, ec.scrub(s, []byte(data)))
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind report-output: %w", err)
	}
	return nil
}

func parseEventKind(s string) guesttrace.EventKind {
	switch s {
	case "call":
		return guesttrace.EventCall
	case "return":
		return guesttrace.EventReturn
	case "exception":
		return guesttrace.EventException
	case "callback-start":
		return guesttrace.EventCallbackStart
	case "callback-end":
		return guesttrace.EventCallbackEnd
	default:
		return guesttrace.EventLine
	}
}

// errNoNetwork is returned by every net.tcp.*/net.tls.* import when the
// execution has no attached NetworkPolicy, matching spec.md §4.12's
// "networking is disabled unless a policy is attached".
const errNoNetwork = "netpolicy: networking is not enabled for this execution"

func bindNet(linker *wasmtime.Linker, cell *Cell) error {
	err := linker.FuncWrap("eryx:net.tcp", "connect", func(host string, port int32) (int32, string) {
		ec, err := cell.current()
		if err != nil {
			return 0, err.Error()
		}
		if ec.Conns == nil {
			return 0, errNoNetwork
		}
		h, err := ec.Conns.Connect(ec.Ctx, host, int(port))
		if err != nil {
			return 0, err.Error()
		}
		return int32(h), ""
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind net.tcp.connect: %w", err)
	}

	err = linker.FuncWrap("eryx:net.tcp", "read", func(handle, n int32) (string, string) {
		ec, err := cell.current()
		if err != nil {
			return "", err.Error()
		}
		if ec.Conns == nil {
			return "", errNoNetwork
		}
		if n < 0 || n > maxNetRead {
			n = maxNetRead
		}
		buf := make([]byte, n)
		read, err := ec.Conns.Read(ec.Ctx, netpolicy.Handle(handle), buf)
		if err != nil {
			return "", err.Error()
		}
		return string(buf[:read]), ""
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind net.tcp.read: %w", err)
	}

	err = linker.FuncWrap("eryx:net.tcp", "write", func(handle int32, data string) (int32, string) {
		ec, err := cell.current()
		if err != nil {
			return 0, err.Error()
		}
		if ec.Conns == nil {
			return 0, errNoNetwork
		}
		payload := []byte(data)
		if ec.Secrets != nil {
			payload = ec.Secrets.EgressRewrite(ec.Conns.HostFor(netpolicy.Handle(handle)), payload)
		}
		written, err := ec.Conns.Write(ec.Ctx, netpolicy.Handle(handle), payload)
		if err != nil {
			return int32(written), err.Error()
		}
		return int32(written), ""
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind net.tcp.write: %w", err)
	}

	err = linker.FuncWrap("eryx:net.tcp", "close", func(handle int32) {
		ec, err := cell.current()
		if err != nil {
			return
		}
		if ec.Conns == nil {
			return
		}
		ec.Conns.Close(netpolicy.Handle(handle))
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind net.tcp.close: %w", err)
	}

	err = linker.FuncWrap("eryx:net.tls", "upgrade", func(handle int32, sni string) (int32, string) {
		ec, err := cell.current()
		if err != nil {
			return 0, err.Error()
		}
		if ec.Conns == nil {
			return 0, errNoNetwork
		}
		newHandle, err := ec.Conns.TLSUpgrade(ec.Ctx, netpolicy.Handle(handle), sni)
		if err != nil {
			return 0, err.Error()
		}
		return int32(newHandle), ""
	})
	if err != nil {
		return fmt.Errorf("hostimports: bind net.tls.upgrade: %w", err)
	}
	return nil
}
