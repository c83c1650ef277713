// Package linker implements the Component Linker (C3): deterministic,
// offline composition of the base WASI/Python runtime libraries with
// zero or more caller-supplied native extensions, used only when a
// Sandbox needs native Python extensions beyond the embedded baseline.
//
// Composition never touches a wasmtime.Engine; it operates purely on
// component bytes and name metadata, which is what lets its output be
// Cache-Key-addressable independent of any running process.
package linker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
)

// ErrMissingSymbol is returned when a base library's imports cannot all
// be resolved by the base libraries' declared Exports; the adapter is
// not consulted.
var ErrMissingSymbol = errors.New("linker: missing symbol")

// ErrNameCollision is returned when two base libraries share a name or
// two extensions declare the same dlopen path; extensions are not
// checked against base libraries.
var ErrNameCollision = errors.New("linker: name collision")

// ErrInvalidArtifact is returned when a base library or extension's
// bytes are not a well-formed component/module.
var ErrInvalidArtifact = errors.New("linker: invalid artifact")

// BaseLibrary is one of the fixed, deterministic components composed
// into every linked output (spec.md §4.3): C runtime, C++ runtime,
// libpython, WASI emulation polyfills, the host interpreter runtime,
// and WIT bindings.
type BaseLibrary struct {
	Name  string
	Bytes []byte
	// Exports lists the symbols this library provides to others.
	Exports []string
	// Imports lists the symbols this library requires from others.
	Imports []string
}

// Extension is a caller-supplied native Python extension, addressed in
// the guest's built-in dlopen by DlopenPath — which must match exactly
// what the guest's sys.path + module structure will pass to dlopen.
type Extension struct {
	Name       string
	DlopenPath string
	Bytes      []byte
}

// WASIAdapter translates WASI Preview 1 calls made by base libraries or
// extensions into WASI Preview 2 calls the host actually implements.
type WASIAdapter struct {
	Name  string
	Bytes []byte
}

// Input is everything the Linker needs to produce one composed
// component.
type Input struct {
	BaseLibraries []BaseLibrary
	Adapter       WASIAdapter
	Extensions    []Extension
}

// Output is the composed component plus the static dlopen lookup table
// the guest's built-in dlopen consults, keyed by exact path.
type Output struct {
	Bytes         []byte
	DlopenTable   map[string]string // DlopenPath -> Extension.Name, for diagnostics
	ComponentHash string            // sha256 hex of Bytes
}

// Linker composes Input into Output deterministically: identical Input
// (independent of slice order) always yields byte-identical Output,
// which is required for Output's hash to be a stable Cache Key
// ingredient (spec.md "Late-linking determinism").
type Linker struct{}

// New returns a Linker. It holds no state; composition is a pure
// function of its Input.
func New() *Linker {
	return &Linker{}
}

// Link validates and composes in.
func (l *Linker) Link(in Input) (*Output, error) {
	if err := validateArtifacts(in); err != nil {
		return nil, err
	}
	if err := checkCollisions(in); err != nil {
		return nil, err
	}
	if err := resolveSymbols(in); err != nil {
		return nil, err
	}

	base := sortedBaseLibraries(in.BaseLibraries)
	ext := sortedExtensions(in.Extensions)

	var buf bytes.Buffer
	for _, b := range base {
		buf.Write(b.Bytes)
	}
	buf.Write(in.Adapter.Bytes)
	table := make(map[string]string, len(ext))
	for _, e := range ext {
		buf.Write(e.Bytes)
		table[e.DlopenPath] = e.Name
	}

	sum := sha256.Sum256(buf.Bytes())
	return &Output{
		Bytes:         buf.Bytes(),
		DlopenTable:   table,
		ComponentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func validateArtifacts(in Input) error {
	if len(in.BaseLibraries) == 0 {
		return fmt.Errorf("%w: no base libraries supplied", ErrInvalidArtifact)
	}
	for _, b := range in.BaseLibraries {
		if len(b.Bytes) == 0 {
			return fmt.Errorf("%w: base library %q has no bytes", ErrInvalidArtifact, b.Name)
		}
	}
	if len(in.Adapter.Bytes) == 0 {
		return fmt.Errorf("%w: WASI adapter has no bytes", ErrInvalidArtifact)
	}
	for _, e := range in.Extensions {
		if len(e.Bytes) == 0 {
			return fmt.Errorf("%w: extension %q has no bytes", ErrInvalidArtifact, e.Name)
		}
		if e.DlopenPath == "" {
			return fmt.Errorf("%w: extension %q has no dlopen path", ErrInvalidArtifact, e.Name)
		}
	}
	return nil
}

func checkCollisions(in Input) error {
	seen := make(map[string]string)
	for _, b := range in.BaseLibraries {
		if prev, ok := seen[b.Name]; ok {
			return fmt.Errorf("%w: base library name %q used by both %q and %q", ErrNameCollision, b.Name, prev, b.Name)
		}
		seen[b.Name] = b.Name
	}
	paths := make(map[string]string)
	for _, e := range in.Extensions {
		if prev, ok := paths[e.DlopenPath]; ok {
			return fmt.Errorf("%w: dlopen path %q claimed by both %q and %q", ErrNameCollision, e.DlopenPath, prev, e.Name)
		}
		paths[e.DlopenPath] = e.Name
	}
	return nil
}

// resolveSymbols performs a conservative check that every base library's
// declared Imports are satisfied by some base library's Exports (the
// adapter is not consulted); it does not inspect actual component bytes (that
// requires a real wasmtime.Module parse, done by the caller before
// Input is built) and does not attempt cycle detection beyond what a
// flat export/import set can reveal.
func resolveSymbols(in Input) error {
	exported := make(map[string]struct{})
	for _, b := range in.BaseLibraries {
		for _, sym := range b.Exports {
			exported[sym] = struct{}{}
		}
	}
	for _, b := range in.BaseLibraries {
		for _, sym := range b.Imports {
			if _, ok := exported[sym]; !ok {
				return fmt.Errorf("%w: %q required by %q", ErrMissingSymbol, sym, b.Name)
			}
		}
	}
	return nil
}

func sortedBaseLibraries(libs []BaseLibrary) []BaseLibrary {
	out := make([]BaseLibrary, len(libs))
	copy(out, libs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedExtensions(ext []Extension) []Extension {
	out := make([]Extension, len(ext))
	copy(out, ext)
	sort.Slice(out, func(i, j int) bool { return out[i].DlopenPath < out[j].DlopenPath })
	return out
}
