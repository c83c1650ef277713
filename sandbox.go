package eryx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/limits"
	"github.com/oriys/eryx/internal/netpolicy"
	"github.com/oriys/eryx/internal/sandboxrt"
	"github.com/oriys/eryx/internal/secrets"
)

// Secret is a named value bound into a Sandbox or Session's guest
// environment as an unguessable placeholder, rewritten to its real
// value only on egress to one of AllowedHosts (spec.md §3 "Secret",
// §4.13). Guest code never observes Value directly.
type Secret struct {
	Name         string
	Value        string
	AllowedHosts []string
}

func toInternalSecrets(in []Secret) []secrets.Secret {
	if len(in) == 0 {
		return nil
	}
	out := make([]secrets.Secret, len(in))
	for i, s := range in {
		out[i] = secrets.Secret{Name: s.Name, Value: s.Value, AllowedHosts: s.AllowedHosts}
	}
	return out
}

// ResourceLimits is the public mirror of internal/limits.Limits (spec.md
// §3 "Resource Limits"). Zero means unlimited for every field except
// ExecutionTimeout, which falls back to a 30s default.
type ResourceLimits struct {
	MemoryBytes      int64
	Fuel             uint64
	ExecutionTimeout time.Duration
	CallbackTimeout  time.Duration
	MaxCallbacks     int64
}

func (r ResourceLimits) toInternal() limits.Limits {
	return limits.Limits{
		MemoryBytes:      r.MemoryBytes,
		Fuel:             r.Fuel,
		ExecutionTimeout: r.ExecutionTimeout,
		CallbackTimeout:  r.CallbackTimeout,
		MaxCallbacks:     r.MaxCallbacks,
	}
}

// NetworkPolicy is the public mirror of internal/netpolicy.Policy
// (spec.md §3, §4.12). A nil NetworkPolicy disables networking.
type NetworkPolicy struct {
	MaxConnections int
	ConnectTimeout time.Duration
	IOTimeout      time.Duration
	AllowedHosts   []string
	BlockedHosts   []string
	RootCAs        []byte
}

func (p *NetworkPolicy) toInternal() *netpolicy.Policy {
	if p == nil {
		return nil
	}
	return &netpolicy.Policy{
		MaxConnections: p.MaxConnections,
		ConnectTimeout: p.ConnectTimeout,
		IOTimeout:      p.IOTimeout,
		AllowedHosts:   p.AllowedHosts,
		BlockedHosts:   p.BlockedHosts,
		RootCAs:        p.RootCAs,
	}
}

// CallbackFunc handles one host callback invoked from guest code
// (spec.md §4.9). args and the returned value are caller-defined JSON.
type CallbackFunc func(ctx context.Context, args []byte) ([]byte, error)

// Callbacks collects named host functions a Sandbox or Session exposes
// to guest code via invoke().
type Callbacks struct {
	registry *callback.Registry
}

// NewCallbacks returns an empty Callbacks set.
func NewCallbacks() *Callbacks {
	return &Callbacks{registry: callback.NewRegistry()}
}

// Register adds fn under name. It returns an error if name is already
// registered.
func (c *Callbacks) Register(name string, fn CallbackFunc) error {
	return c.registry.Register(callback.Handler{
		Name: name,
		Kind: callback.KindDynamic,
		Func: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			result, err := fn(ctx, []byte(args))
			return json.RawMessage(result), err
		},
	})
}

// TraceEvent is the public mirror of a guest line-trace event (spec.md
// §4.10).
type TraceEvent struct {
	Line     int
	Function string
	Detail   string
}

// ExecuteResult is the outcome of a successful or Python-failed execute
// call (spec.md §4.7, §6).
type ExecuteResult struct {
	Stdout              []byte
	Stderr              []byte
	Trace               []TraceEvent
	Duration            time.Duration
	FuelConsumed        uint64
	CallbackInvocations int64
}

// ExecuteOptions configures one Execute/Session.Execute call.
type ExecuteOptions struct {
	Limits    ResourceLimits
	Network   *NetworkPolicy
	Callbacks *Callbacks
	OnTrace   func(TraceEvent)
	OnOutput  func(stream string, data []byte)
}

func (o ExecuteOptions) toRequest(code string) sandboxrt.Request {
	req := sandboxrt.Request{
		Code:    code,
		Limits:  o.Limits.toInternal(),
		Network: o.Network.toInternal(),
	}
	if o.Callbacks != nil {
		req.Callbacks = o.Callbacks.registry
	}
	if o.OnTrace != nil {
		req.TraceHandler = func(ev guesttrace.TraceEvent) {
			o.OnTrace(TraceEvent{Line: ev.Line, Function: ev.Function, Detail: ev.Detail})
		}
	}
	if o.OnOutput != nil {
		req.OutputHandler = func(chunk guesttrace.OutputChunk) {
			o.OnOutput(chunk.Stream.String(), chunk.Data)
		}
	}
	return req
}

// Sandbox runs isolated, stateless Python executions: every Execute
// call gets a fresh guest instance with no memory of prior calls
// (spec.md §4 "Sandbox"). Use Session instead to persist interpreter
// state across calls.
type Sandbox struct {
	rt *sandboxrt.Sandbox
}

// NewSandbox wraps template as a Sandbox.
func NewSandbox(template *factory.Template) *Sandbox {
	return &Sandbox{rt: sandboxrt.New(template)}
}

// NewSandboxWithSecrets wraps template as a Sandbox that binds
// secretBindings into every instance it spawns (spec.md §4.13).
func NewSandboxWithSecrets(template *factory.Template, secretBindings []Secret) *Sandbox {
	return &Sandbox{rt: sandboxrt.NewWithSecrets(template, toInternalSecrets(secretBindings))}
}

// Execute runs code to completion or failure, per spec.md §4.7.
func (s *Sandbox) Execute(ctx context.Context, code string, opts ExecuteOptions) (*ExecuteResult, error) {
	outcome, err := s.rt.Execute(ctx, opts.toRequest(code))
	if err != nil {
		return nil, wrapError(KindInternal, err)
	}
	return translateOutcome(outcome)
}

// Shutdown drains in-flight executions and stops accepting new ones.
func (s *Sandbox) Shutdown() {
	s.rt.Shutdown()
}

func translateOutcome(o *sandboxrt.Outcome) (*ExecuteResult, error) {
	result := &ExecuteResult{
		Stdout:              o.Stdout,
		Stderr:              o.Stderr,
		Duration:            o.Duration,
		FuelConsumed:        o.FuelConsumed,
		CallbackInvocations: o.CallbackInvocations,
	}
	result.Trace = make([]TraceEvent, len(o.Trace))
	for i, ev := range o.Trace {
		result.Trace[i] = TraceEvent{Line: ev.Line, Function: ev.Function, Detail: ev.Detail}
	}

	if o.Cancelled {
		return result, &Error{Kind: KindCancelled, Message: "execution cancelled by caller"}
	}

	switch o.FailureCause {
	case limits.CauseNone:
		if o.PythonMessage != "" {
			return result, &Error{Kind: KindPython, Message: o.PythonMessage, Traceback: o.PythonTraceback}
		}
		return result, nil
	case limits.CauseMemoryLimit:
		return result, &Error{Kind: KindMemoryLimit, Message: "memory limit exceeded"}
	case limits.CauseFuelExhausted:
		return result, &Error{Kind: KindFuelExhausted, Consumed: o.FuelConsumed, Limit: o.FuelLimit}
	case limits.CauseExecutionTimeout:
		return result, &Error{Kind: KindTimeout, Message: "execution timeout exceeded"}
	case limits.CauseCallbackTimeout:
		return result, &Error{Kind: KindTimeout, Message: "callback timeout exceeded"}
	case limits.CauseCallbackLimit:
		return result, &Error{Kind: KindCallbackLimit, Message: "callback invocation limit exceeded"}
	default:
		return result, &Error{Kind: KindInternal, Message: "unrecognised failure cause"}
	}
}
