// Package preinit implements the Pre-Initializer (C4): it instantiates a
// linked component once in a disposable host, runs the guest's init
// entry point plus a synthesized import script, captures the resulting
// memory/globals state, and emits a new Runtime Artifact that starts
// from that state on every subsequent Sandbox execution.
//
// This mirrors the "capture state, hand back a serialized blob" shape of
// the teacher's internal/checkpoint/store.go, except the blob here is a
// serialized Wasmtime component rather than a JSON-encoded workflow
// step, and it is produced once per Cache Key rather than once per
// request.
package preinit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v28"

	"github.com/oriys/eryx/internal/artifact"
	"github.com/oriys/eryx/internal/callback"
	"github.com/oriys/eryx/internal/guesttrace"
	"github.com/oriys/eryx/internal/hostimports"
	"github.com/oriys/eryx/internal/wasmengine"
)

// ErrNonDeterministicScript is a documentation-only sentinel; the
// pre-initializer cannot detect wall-clock/randomness use inside guest
// code, so this exists to name the contract violation in error messages
// produced by higher-level validation, not to be returned by this
// package itself.
var ErrNonDeterministicScript = errors.New("preinit: import script must not depend on wall clock, randomness, or external state")

// ErrFinalizeExportMissing is returned when a pre-initialized artifact
// does not export "finalize-preinit".
var ErrFinalizeExportMissing = errors.New("preinit: component does not export finalize-preinit")

// Request describes one pre-initialization run.
type Request struct {
	// Component is the linked (or base) component to instantiate.
	Component []byte
	// StdlibDir is a host directory preopened into the guest as the
	// Python standard library + site-packages, per spec.md §4.2's
	// "Stdlib Archive".
	StdlibDir string
	// Imports is the ordered list of module names the synthesized
	// import script runs: `sys.path = [...]; import <m1>; import <m2>;
	// …`. The emitted artifact's PreinitImports metadata holds them
	// sorted (it participates in the Cache Key), and execution order
	// of independent imports does not affect the resulting snapshot for
	// well-behaved (side-effect-free at import time) modules.
	Imports []string
	// SysPath is prepended to the guest's sys.path before running Imports.
	SysPath []string
}

// PreInitializer runs pre-initialization against a shared Engine.
type PreInitializer struct {
	engine *wasmengine.Engine
}

// New returns a PreInitializer bound to engine.
func New(engine *wasmengine.Engine) *PreInitializer {
	return &PreInitializer{engine: engine}
}

// Run instantiates req.Component in a disposable Store, runs the guest's
// init entry point and synthesized import script, then serializes the
// resulting component so a later Sandbox build can start from this
// state. The returned Artifact is KindPrecompiled and carries
// PreinitImports so callers can fold it into a Cache Key.
func (p *PreInitializer) Run(ctx context.Context, req Request) (*artifact.Artifact, error) {
	if len(req.Imports) == 0 {
		return nil, fmt.Errorf("preinit: no imports requested, nothing to pre-initialize")
	}

	module, err := wasmtime.NewModule(p.engine.Wasmtime(), req.Component)
	if err != nil {
		return nil, fmt.Errorf("preinit: parse component: %w", err)
	}

	store := wasmtime.NewStore(p.engine.Wasmtime())
	store.SetEpochDeadline(1)
	defer store.Close()

	wasiCfg := wasmtime.NewWasiConfig()
	// Not inherited: the import script and init entry point must not leak
	// guest writes to the host's own console (spec.md §4.10), and any
	// output produced here is discarded anyway since pre-init has no
	// caller to return it to.
	if req.StdlibDir != "" {
		if err := wasiCfg.PreopenDir(req.StdlibDir, "/stdlib"); err != nil {
			return nil, fmt.Errorf("preinit: preopen stdlib dir: %w", err)
		}
	}
	store.SetWasi(wasiCfg)

	linker := wasmtime.NewLinker(p.engine.Wasmtime())
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("preinit: define wasi: %w", err)
	}

	// The compiled module declares the same host imports a normal
	// execute() does, so pre-init must resolve them too even though a
	// well-behaved import script never calls callbacks, trace, or
	// networking. The bound ExecContext discards trace/output and fails
	// any callback/network call cleanly rather than leaving Instantiate
	// unable to resolve the import.
	cell := &hostimports.Cell{}
	if err := hostimports.Bind(linker, cell); err != nil {
		return nil, fmt.Errorf("preinit: bind host imports: %w", err)
	}
	cell.Set(&hostimports.ExecContext{
		Ctx:      ctx,
		Tracker:  callback.NewTracker(callback.NewRegistry(), 0, 0),
		Recorder: guesttrace.NewRecorder(nil, nil),
	})
	defer cell.Clear()

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, fmt.Errorf("preinit: instantiate: %w", err)
	}

	if initFn := instance.GetExport(store, "init"); initFn != nil {
		if fn := initFn.Func(); fn != nil {
			if _, err := fn.Call(store); err != nil {
				return nil, fmt.Errorf("preinit: run init entry point: %w", err)
			}
		}
	}

	script := buildImportScript(req.SysPath, req.Imports)
	if err := runImportScript(store, instance, script); err != nil {
		return nil, fmt.Errorf("preinit: run import script: %w", err)
	}

	if export := instance.GetExport(store, "finalize-preinit"); export == nil || export.Func() == nil {
		return nil, ErrFinalizeExportMissing
	}

	serialized, err := module.Serialize()
	if err != nil {
		return nil, fmt.Errorf("preinit: serialize: %w", err)
	}

	art := artifact.FromBytes(serialized, artifact.KindPrecompiled, req.StdlibDir)
	art.PreinitImports = sortedCopy(req.Imports)
	return art, nil
}

func buildImportScript(sysPath, imports []string) string {
	var b strings.Builder
	if len(sysPath) > 0 {
		b.WriteString("sys.path = ")
		b.WriteString(pyStringList(sysPath))
		b.WriteString("\n")
	}
	for _, m := range imports {
		fmt.Fprintf(&b, "import %s\n", m)
	}
	return b.String()
}

func pyStringList(items []string) string {
	var b strings.Builder
	b.WriteString("[")
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", item)
	}
	b.WriteString("]")
	return b.String()
}

// runImportScript writes the script to a temp file exposed on the
// guest's preopened filesystem and invokes the component's
// "run-script" export with its path; this mirrors how a host would
// synthesize any other guest-visible input without a dedicated
// string-passing ABI.
func runImportScript(store *wasmtime.Store, instance *wasmtime.Instance, script string) error {
	f, err := os.CreateTemp("", "eryx-preinit-*.py")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	export := instance.GetExport(store, "run-script")
	if export == nil || export.Func() == nil {
		return fmt.Errorf("preinit: component does not export run-script")
	}
	_, err = export.Func().Call(store, f.Name())
	return err
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
