// Package componentcache implements the Component Cache (C5): a
// content-addressed store of pre-compiled, optionally pre-initialized
// WebAssembly components, keyed by a canonical Cache Key.
//
// The cache itself is two-level (in-memory LRU by entry count, filesystem
// LRU by total byte size) and may be fronted by the generic distributed
// cache package for a shared Redis L2 across a fleet of hosts.
package componentcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ExtensionRef identifies one native extension contributing to a linked
// component, by name and content hash (see spec.md §4.3 / §6).
type ExtensionRef struct {
	Name string
	SHA256 string
}

// Key is the canonical Cache Key described in spec.md §3 and §6:
//
//	hash(runtime-version, wasm-host-version, linker-version,
//	     sorted(extensions: name, sha256), sorted(preinit-imports))
//
// Key binds the engine version so stale pre-compiled bytes from an
// incompatible host are never loaded (spec.md §4.5, §9 "Cache staleness").
type Key struct {
	RuntimeVersion string
	EngineVersion  string
	LinkerVersion  string
	Extensions     []ExtensionRef
	PreinitImports []string
}

// Canonical returns the bit-exact canonical encoding used to derive Hex.
// Fields are joined in the fixed order from spec.md §6; extensions and
// imports are sorted first so that equivalent sets always encode
// identically regardless of construction order.
func (k Key) Canonical() string {
	exts := append([]ExtensionRef(nil), k.Extensions...)
	sort.Slice(exts, func(i, j int) bool {
		if exts[i].Name != exts[j].Name {
			return exts[i].Name < exts[j].Name
		}
		return exts[i].SHA256 < exts[j].SHA256
	})
	imports := append([]string(nil), k.PreinitImports...)
	sort.Strings(imports)

	var b strings.Builder
	b.WriteString(k.RuntimeVersion)
	b.WriteByte('\x00')
	b.WriteString(k.EngineVersion)
	b.WriteByte('\x00')
	b.WriteString(k.LinkerVersion)
	b.WriteByte('\x00')
	for _, e := range exts {
		b.WriteString(e.Name)
		b.WriteByte('\x01')
		b.WriteString(e.SHA256)
		b.WriteByte('\x00')
	}
	b.WriteByte('\x00')
	for _, imp := range imports {
		b.WriteString(imp)
		b.WriteByte('\x00')
	}
	return b.String()
}

// Hex returns the stable hex-encoded sha256 of the canonical encoding.
// Cache Entry files on disk are named "<Hex()>.cwasm" (spec.md §6).
func (k Key) Hex() string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}
