// Package wasmengine implements the Engine Pool (C1): the shared
// wasmtime.Engine configuration, epoch-interruption ticker, and
// on-demand fuel metering that every Sandbox ultimately runs on.
//
// # Design rationale
//
// A wasmtime.Engine is expensive to build (it JIT-compiles the runtime's
// own trampolines) and is safe for concurrent use, so Eryx builds exactly
// one per distinct Config and shares it across every Sandbox that needs
// that configuration. Two sandboxes only share an Engine when their
// EngineConfig values are identical; otherwise each gets its own.
//
// # Epoch ticker
//
// Wasmtime's epoch-based interruption requires something to call
// engine.IncrementEpoch() on a schedule; execution timeouts are enforced
// by arming a deadline a fixed number of epochs in the future and relying
// on the ticker to eventually cross it. The ticker goroutine is
// reference-counted exactly as the teacher's internal/pool reference-
// counts totalVMs: started when the first Sandbox registers against this
// Engine, stopped when the last one unregisters.
//
// # Fuel metering
//
// ConsumeFuel is off by default (enabling it costs a small fixed overhead
// per instruction block) and is switched on lazily the first time any
// Sandbox built against this Engine requests a fuel limit, matching
// spec.md's "fuel metering = on when any Sandbox requests a fuel limit".
// Once enabled for an Engine it stays enabled; Config is immutable after
// Engine construction, so enabling fuel for a new requirement means
// routing future builds with that requirement to a fuel-enabled Engine
// variant of the same otherwise-identical Config.
package wasmengine

import (
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v28"
)

// Config is the caller-supplied engine configuration (spec.md §3 "Engine
// Config"). Two Configs that compare equal under Key() share one Engine.
type Config struct {
	// EpochTickInterval is how often the background ticker increments the
	// engine epoch. Execution deadlines are expressed in epoch ticks, so
	// this interval is the granularity of timeout enforcement.
	EpochTickInterval time.Duration
}

// Key returns the string that determines Engine sharing; two Configs
// with the same Key share the same underlying wasmtime.Engine and ticker.
func (c Config) Key() string {
	if c.EpochTickInterval <= 0 {
		c.EpochTickInterval = DefaultEpochTickInterval
	}
	return c.EpochTickInterval.String()
}

// DefaultEpochTickInterval matches spec.md's suggested execution-timeout
// granularity of 10ms.
const DefaultEpochTickInterval = 10 * time.Millisecond

// Engine wraps a shared wasmtime.Engine plus the epoch ticker and
// fuel-enablement state for every Sandbox built against it.
type Engine struct {
	cfg    Config
	mu     sync.Mutex
	fuel   bool
	refs   int
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	wasm *wasmtime.Engine
}

// Pool is the registry of shared Engines, keyed by Config. A process
// typically has exactly one Pool.
type Pool struct {
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewPool creates an empty engine registry.
func NewPool() *Pool {
	return &Pool{engines: make(map[string]*Engine)}
}

// Acquire returns the shared Engine for cfg, building it (and a
// fuel-disabled wasmtime.Engine) on first use. The caller must call
// Release when it no longer needs this Engine, exactly once per Acquire.
func (p *Pool) Acquire(cfg Config) (*Engine, error) {
	key := cfg.Key()

	p.mu.Lock()
	e, ok := p.engines[key]
	if !ok {
		var err error
		e, err = newEngine(cfg)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.engines[key] = e
	}
	p.mu.Unlock()

	e.addRef()
	return e, nil
}

// Release drops a reference to e. When the last reference is released
// the epoch ticker is stopped; the underlying wasmtime.Engine itself is
// left for garbage collection (wasmtime-go has no explicit Engine.Close).
func (p *Pool) Release(e *Engine) {
	if e.delRef() {
		p.mu.Lock()
		delete(p.engines, e.cfg.Key())
		p.mu.Unlock()
	}
}

func newEngine(cfg Config) (*Engine, error) {
	if cfg.EpochTickInterval <= 0 {
		cfg.EpochTickInterval = DefaultEpochTickInterval
	}

	wcfg := wasmtime.NewConfig()
	wcfg.SetWasmComponentModel(true)
	wcfg.SetEpochInterruption(true)

	return &Engine{
		cfg:  cfg,
		wasm: wasmtime.NewEngineWithConfig(wcfg),
	}, nil
}

func (e *Engine) addRef() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs++
	if e.refs == 1 {
		e.startTickerLocked()
	}
}

// delRef decrements the reference count and returns true if it reached
// zero (the caller owns removing the Engine from the Pool in that case).
func (e *Engine) delRef() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs--
	if e.refs <= 0 {
		e.stopTickerLocked()
		return true
	}
	return false
}

func (e *Engine) startTickerLocked() {
	e.ticker = time.NewTicker(e.cfg.EpochTickInterval)
	e.stopCh = make(chan struct{})
	ticker := e.ticker
	stop := e.stopCh
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ticker.C:
				e.wasm.IncrementEpoch()
			case <-stop:
				return
			}
		}
	}()
}

func (e *Engine) stopTickerLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.stopCh)
	e.mu.Unlock()
	e.wg.Wait()
	e.mu.Lock()
	e.ticker = nil
}

// Wasmtime returns the underlying *wasmtime.Engine for building Stores,
// Linkers, and Modules against.
func (e *Engine) Wasmtime() *wasmtime.Engine {
	return e.wasm
}

// EnableFuel switches on fuel consumption for every Store subsequently
// created against this Engine. It is idempotent; once enabled an Engine
// never disables fuel, since Config is baked in at Store creation and
// disabling mid-flight would desync already-running Stores.
//
// wasmtime-go enables fuel per Store (Store.AddFuel), not per Engine;
// this flag exists so Factory/Builder code can decide, once, whether a
// Store needs AddFuel called at all.
func (e *Engine) EnableFuel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fuel = true
}

// FuelEnabled reports whether any Sandbox built against this Engine has
// requested a fuel limit.
func (e *Engine) FuelEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fuel
}
