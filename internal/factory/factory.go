// Package factory implements the Sandbox Factory (C6): a user-level
// optimisation that pre-compiles a resolved component's wasmtime.Module
// once into a Template, then spawns cheap per-execution instances from
// it instead of re-resolving and re-validating the module on every
// Sandbox.
//
// This is grounded on the teacher's internal/pool warm-instance reuse
// shape (pool_acquisition.go's takeWarmVMLocked/addReadyVMLocked), with
// one structural difference: a functionPool hands back the SAME warm VM
// to be reused across invocations, while a Template hands back a FRESH
// Instance built from the same compiled Module every time, since
// spec.md §4.7 requires a fresh guest instance per execution (no
// cross-execution state for a plain Sandbox).
package factory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bytecodealliance/wasmtime-go/v28"
	"github.com/google/uuid"

	"github.com/oriys/eryx/internal/artifact"
	"github.com/oriys/eryx/internal/hostimports"
	"github.com/oriys/eryx/internal/metrics"
	"github.com/oriys/eryx/internal/secrets"
	"github.com/oriys/eryx/internal/wasmengine"
)

// Template holds a compiled wasmtime.Module ready for repeated, cheap
// instantiation. Building a Template performs the expensive module
// validation and finalize-preinit probe once; Spawn instantiates the
// already-compiled Module and calls finalize-preinit, without recompiling.
type Template struct {
	engine    *wasmengine.Engine
	module    *wasmtime.Module
	stdlibDir string

	spawned atomic.Int64
	active  atomic.Int64
	label   string
}

// New compiles art's bytes against engine and verifies the module
// instantiates and (if present) exports finalize-preinit, per spec.md
// §4.6 "Store + Instance constructed, finalize-preinit called".
func New(ctx context.Context, engine *wasmengine.Engine, art *artifact.Artifact) (*Template, error) {
	module, err := wasmtime.NewModule(engine.Wasmtime(), art.Bytes)
	if err != nil {
		return nil, fmt.Errorf("factory: compile module: %w", err)
	}

	t := &Template{engine: engine, module: module, stdlibDir: art.StdlibDir, label: art.ContentHash}

	probeStore, probeInstance, _, _, err := t.newInstance(SpawnOptions{})
	if err != nil {
		return nil, fmt.Errorf("factory: probe instantiate: %w", err)
	}
	defer probeStore.Close()

	if export := probeInstance.GetExport(probeStore, "finalize-preinit"); export != nil {
		if fn := export.Func(); fn != nil {
			if _, err := fn.Call(probeStore); err != nil {
				return nil, fmt.Errorf("factory: probe finalize-preinit: %w", err)
			}
		}
	}

	return t, nil
}

// Spawned returns the total number of instances this Template has
// spawned (the eryx_pool_template_instances gauge tracks live instances
// instead).
func (t *Template) Spawned() int64 {
	return t.spawned.Load()
}

// Instance is a fresh, ready-to-run guest instance produced by Spawn.
// The caller owns its lifetime and must call Close when the execution
// that consumed it is finished.
type Instance struct {
	// ID uniquely identifies this instance for tracing and logging
	// (SPEC_FULL.md §4.17's eryx.sandbox.id span attribute); it has no
	// bearing on cache identity, which is keyed on the Template alone.
	ID       string
	Store    *wasmtime.Store
	Instance *wasmtime.Instance

	// Exec is the Cell the host imports bound on this instance's Linker
	// dispatch through. sandboxrt.ExecuteOn installs a fresh ExecContext
	// here for the duration of each execute() call, since the Linker
	// itself is built once, at Spawn time, long before any call's
	// Tracker/Recorder/Conns exist.
	Exec *hostimports.Cell
	// Secrets is non-nil when SpawnOptions.Secrets was non-empty. It is
	// bound once at spawn time, not per execute() call, because
	// placeholders are per-sandbox and because WASI env vars can only be
	// set at instantiation (spec.md §4.13).
	Secrets *secrets.Bridge

	template *Template
}

// Close releases the underlying Store.
func (i *Instance) Close() {
	i.Store.Close()
	if i.template != nil {
		n := i.template.active.Add(-1)
		metrics.Global().SetPoolTemplateInstances(i.template.label, int(n))
	}
}

// Spawn produces a fresh Instance from the Template's precompiled
// Module and calls finalize-preinit on it, per spec.md §4.4's "must be
// invoked once per instance before other exports, to refresh WASI
// handles that were invalidated when the snapshot was taken."
func (t *Template) Spawn(ctx context.Context) (*Instance, error) {
	return t.SpawnWithMounts(ctx, nil)
}

// SpawnWithMounts is Spawn plus additional host-directory preopens,
// keyed by host directory with the guest-visible path as the value.
// Session (C8) uses this to attach its VFS
// mount, which must be present on every instance a reset() constructs
// (spec.md §4.8: the VFS "survives clear_state and reset").
func (t *Template) SpawnWithMounts(ctx context.Context, mounts map[string]string) (*Instance, error) {
	return t.SpawnWithOptions(ctx, SpawnOptions{Mounts: mounts})
}

// SpawnOptions extends a Spawn call with the per-sandbox bindings that
// must be fixed at instantiation time rather than per execute() call:
// VFS preopens and secret placeholders (spec.md §4.13 — WASI env vars
// can only be set before Linker.Instantiate runs).
type SpawnOptions struct {
	Mounts  map[string]string
	Secrets []secrets.Secret
}

// SpawnWithOptions is the full form Spawn and SpawnWithMounts delegate
// to, kept so existing callers' signatures stay stable while C13
// (secrets) gets the same per-instance binding treatment as mounts.
func (t *Template) SpawnWithOptions(ctx context.Context, opts SpawnOptions) (*Instance, error) {
	store, instance, cell, bridge, err := t.newInstance(opts)
	if err != nil {
		return nil, fmt.Errorf("factory: spawn: %w", err)
	}

	if export := instance.GetExport(store, "finalize-preinit"); export != nil {
		if fn := export.Func(); fn != nil {
			if _, err := fn.Call(store); err != nil {
				store.Close()
				return nil, fmt.Errorf("factory: spawn finalize-preinit: %w", err)
			}
		}
	}

	t.spawned.Add(1)
	n := t.active.Add(1)
	metrics.Global().SetPoolTemplateInstances(t.label, int(n))
	return &Instance{ID: uuid.NewString(), Store: store, Instance: instance, Exec: cell, Secrets: bridge, template: t}, nil
}

// Engine exposes the Template's Engine, so Session can rebuild its own
// instances through SpawnWithMounts after a reset().
func (t *Template) Engine() *wasmengine.Engine { return t.engine }

func (t *Template) newInstance(opts SpawnOptions) (*wasmtime.Store, *wasmtime.Instance, *hostimports.Cell, *secrets.Bridge, error) {
	store := wasmtime.NewStore(t.engine.Wasmtime())

	var bridge *secrets.Bridge
	if len(opts.Secrets) > 0 {
		b, err := secrets.NewBridge(opts.Secrets)
		if err != nil {
			store.Close()
			return nil, nil, nil, nil, fmt.Errorf("build secrets bridge: %w", err)
		}
		bridge = b
	}

	wasiCfg := wasmtime.NewWasiConfig()
	// Guest stdout/stderr are not inherited from the host process: they
	// are captured by the report-output host import (spec.md §4.10) and
	// returned to the caller instead of reaching the host's own console.
	if t.stdlibDir != "" {
		if err := wasiCfg.PreopenDir(t.stdlibDir, "/stdlib"); err != nil {
			store.Close()
			return nil, nil, nil, nil, fmt.Errorf("preopen stdlib dir: %w", err)
		}
	}
	for hostDir, guestPath := range opts.Mounts {
		if err := wasiCfg.PreopenDir(hostDir, guestPath); err != nil {
			store.Close()
			return nil, nil, nil, nil, fmt.Errorf("preopen mount %s: %w", guestPath, err)
		}
	}
	if bridge != nil {
		env := bridge.GuestEnv()
		names := make([]string, 0, len(env))
		values := make([]string, 0, len(env))
		for name, placeholder := range env {
			names = append(names, name)
			values = append(values, placeholder)
		}
		if err := wasiCfg.SetEnv(names, values); err != nil {
			store.Close()
			return nil, nil, nil, nil, fmt.Errorf("set secret env: %w", err)
		}
	}
	store.SetWasi(wasiCfg)

	linker := wasmtime.NewLinker(t.engine.Wasmtime())
	if err := linker.DefineWasi(); err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("define wasi: %w", err)
	}

	cell := &hostimports.Cell{}
	if err := hostimports.Bind(linker, cell); err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("bind host imports: %w", err)
	}

	instance, err := linker.Instantiate(store, t.module)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("instantiate: %w", err)
	}
	return store, instance, cell, bridge, nil
}
