package eryx

import (
	"context"
	"fmt"
	"sort"

	"github.com/oriys/eryx/internal/artifact"
	"github.com/oriys/eryx/internal/componentcache"
	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/linker"
	"github.com/oriys/eryx/internal/preinit"
	"github.com/oriys/eryx/internal/session"
	"github.com/oriys/eryx/internal/wasmengine"
)

// RuntimeVersion and LinkerVersion feed the Component Cache Key
// (internal/componentcache.Key) so a binary upgrade never serves a
// stale precompiled component to a newer embedded runtime.
const (
	RuntimeVersion = "eryx-runtime-0"
	LinkerVersion  = "eryx-linker-0"
)

// Extension is the public mirror of internal/linker.Extension: a native
// Python extension the guest's built-in dlopen can load.
type Extension struct {
	Name       string
	DlopenPath string
	Bytes      []byte
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Engine tunes the shared wasmengine.Pool entry this Builder's
	// Engine is acquired from.
	Engine wasmengine.Config

	// Store backs the Component Cache; if nil, NewBuilder builds an in-memory
	// MemoryStore capped at 128 entries.
	Store componentcache.Store

	// Artifacts resolves the base (unlinked) component and Stdlib
	// Archive directory a build starts from.
	Artifacts *artifact.Store

	// BaseLibraries and Adapter feed the Linker, together with
	// BuildOptions.Extensions, when a build requests extensions beyond
	// the embedded baseline. A
	// Builder that never links extensions may leave these empty.
	BaseLibraries []linker.BaseLibrary
	Adapter       linker.WASIAdapter
}

// Builder wires the Linker, Pre-Initializer, Component Cache, and
// Sandbox Factory into the pipeline spec.md §4.5 describes: given a set
// of preinit imports and extensions, produce a Template ready to spawn
// Sandboxes or Sessions from, resolving via the cache on every call
// after the first.
type Builder struct {
	cfg    BuilderConfig
	pool   *wasmengine.Pool
	engine *wasmengine.Engine
	cache  *componentcache.ComponentCache
	link   *linker.Linker
	pre    *preinit.PreInitializer
}

// NewBuilder acquires an Engine from a fresh Pool and assembles the
// build pipeline. Close releases the Engine when the Builder is no
// longer needed.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("eryx: BuilderConfig.Artifacts is required")
	}

	pool := wasmengine.NewPool()
	engine, err := pool.Acquire(cfg.Engine)
	if err != nil {
		return nil, wrapError(KindInternal, err)
	}

	store := cfg.Store
	if store == nil {
		store = componentcache.NewMemoryStore(128)
	}

	b := &Builder{
		cfg:    cfg,
		pool:   pool,
		engine: engine,
		link:   linker.New(),
		pre:    preinit.New(engine),
	}
	b.cache = componentcache.New(store, b.resolve)
	return b, nil
}

// Close releases the Builder's Engine reference.
func (b *Builder) Close() {
	b.pool.Release(b.engine)
}

// BuildOptions selects which extensions and preinit imports a Template
// should be built from.
type BuildOptions struct {
	Extensions     []Extension
	PreinitImports []string
	SysPath        []string
}

func (o BuildOptions) cacheKey() componentcache.Key {
	refs := make([]componentcache.ExtensionRef, len(o.Extensions))
	for i, e := range o.Extensions {
		refs[i] = componentcache.ExtensionRef{Name: e.Name, SHA256: hashBytes(e.Bytes)}
	}
	return componentcache.Key{
		RuntimeVersion: RuntimeVersion,
		EngineVersion:  "wasmtime-v28",
		LinkerVersion:  LinkerVersion,
		Extensions:     refs,
		PreinitImports: o.PreinitImports,
	}
}

// Build resolves (via the Component Cache, linking and pre-initializing
// on a miss) and compiles a Template ready for Spawn/SpawnWithMounts.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*factory.Template, error) {
	key := opts.cacheKey()

	bytes, err := b.cache.Get(withBuildOptions(ctx, opts), key)
	if err != nil {
		return nil, wrapError(KindCacheIoFailed, err)
	}

	stdlibDir := ""
	if b.cfg.Artifacts != nil {
		if art, err := b.cfg.Artifacts.Embedded(ctx); err == nil {
			stdlibDir = art.StdlibDir
		}
	}

	art := artifact.FromBytes(bytes, artifact.KindPrecompiled, stdlibDir)
	art.PreinitImports = append([]string(nil), opts.PreinitImports...)
	sort.Strings(art.PreinitImports)

	tmpl, err := factory.New(ctx, b.engine, art)
	if err != nil {
		return nil, wrapError(KindInvalidArtifact, err)
	}
	return tmpl, nil
}

// Resolver returns a session.Resolver bound to this Builder, so a
// Session's Reset can switch to a differently pre-initialized Template
// by calling back into Build.
func (b *Builder) Resolver() session.Resolver {
	return func(ctx context.Context, preinitImports []string) (*factory.Template, error) {
		return b.Build(ctx, BuildOptions{PreinitImports: preinitImports})
	}
}

// resolve is the componentcache.Resolver this Builder registers: it
// links (if extensions were requested) and then pre-initializes,
// exactly mirroring spec.md §4.5's "On a miss, run Linker ->
// Pre-Initializer -> engine-serialize."
func (b *Builder) resolve(ctx context.Context, key componentcache.Key) ([]byte, error) {
	opts, ok := buildOptionsFrom(ctx)
	if !ok {
		return nil, fmt.Errorf("eryx: internal: resolve called without BuildOptions in context")
	}

	baseArt, err := b.cfg.Artifacts.Embedded(ctx)
	if err != nil {
		return nil, fmt.Errorf("eryx: resolve base artifact: %w", err)
	}

	component := baseArt.Bytes
	if len(opts.Extensions) > 0 {
		exts := make([]linker.Extension, len(opts.Extensions))
		for i, e := range opts.Extensions {
			exts[i] = linker.Extension{Name: e.Name, DlopenPath: e.DlopenPath, Bytes: e.Bytes}
		}
		out, err := b.link.Link(linker.Input{
			BaseLibraries: b.cfg.BaseLibraries,
			Adapter:       b.cfg.Adapter,
			Extensions:    exts,
		})
		if err != nil {
			return nil, fmt.Errorf("eryx: link: %w", err)
		}
		component = out.Bytes
	}

	if len(opts.PreinitImports) == 0 {
		return component, nil
	}

	art, err := b.pre.Run(ctx, preinit.Request{
		Component: component,
		StdlibDir: baseArt.StdlibDir,
		Imports:   opts.PreinitImports,
		SysPath:   opts.SysPath,
	})
	if err != nil {
		return nil, fmt.Errorf("eryx: preinit: %w", err)
	}
	return art.Bytes, nil
}

func hashBytes(b []byte) string {
	return artifact.FromBytes(b, artifact.KindLinked, "").ContentHash
}

type buildOptionsKey struct{}

// withBuildOptions threads BuildOptions through to resolve alongside
// the Cache Key singleflight collapses on: the Resolver signature is
// fixed to (ctx, Key) by componentcache.Resolver, but resolving a miss
// needs the full extension bytes and import list the Key only hashes.
func withBuildOptions(ctx context.Context, opts BuildOptions) context.Context {
	return context.WithValue(ctx, buildOptionsKey{}, opts)
}

func buildOptionsFrom(ctx context.Context) (BuildOptions, bool) {
	opts, ok := ctx.Value(buildOptionsKey{}).(BuildOptions)
	return opts, ok
}
