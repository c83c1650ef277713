// Package artifact implements the Runtime Artifact Store (C2): resolving
// where the guest component's bytes live (embedded in the host binary,
// memory-mapped from disk, or supplied fresh in memory after linking) and
// exposing them uniformly as an immutable, content-hashed Artifact.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind distinguishes a freshly linked component from one that has already
// been pre-compiled by the host's engine.
type Kind int

const (
	KindLinked Kind = iota
	KindPrecompiled
)

func (k Kind) String() string {
	switch k {
	case KindLinked:
		return "linked"
	case KindPrecompiled:
		return "precompiled"
	default:
		return "unknown"
	}
}

// Source identifies how an Artifact's bytes were acquired (spec.md §3).
type Source int

const (
	SourceEmbedded Source = iota
	SourceFileMmap
	SourceInMemory
)

func (s Source) String() string {
	switch s {
	case SourceEmbedded:
		return "embedded"
	case SourceFileMmap:
		return "file-mmap"
	case SourceInMemory:
		return "in-memory"
	default:
		return "unknown"
	}
}

// Artifact is an immutable handle to guest component bytes plus a Stdlib
// Archive directory, per spec.md §3. Two artifacts with equal ContentHash
// are interchangeable; callers may deduplicate on it.
type Artifact struct {
	Bytes       []byte
	Kind        Kind
	Source      Source
	ContentHash string

	// StdlibDir, if non-empty, is a directory (or mount-ready archive
	// path) containing the Python standard library, preopened for the
	// guest as described in spec.md §4.2's "companion Stdlib Archive".
	StdlibDir string

	// PreinitImports is the sorted list of module names baked into this
	// artifact by the Pre-Initializer (C4), if any. It is empty for an
	// artifact that has not been pre-initialized. It participates in the
	// Component Cache Key so two artifacts differing only in which
	// modules were pre-imported never collide.
	PreinitImports []string

	closer func() error
}

// Close releases any OS resources (an open mmap, a held file handle)
// backing the artifact. Embedded and in-memory artifacts are no-ops.
func (a *Artifact) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

func hashOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FromBytes wraps caller-supplied bytes as an in-memory Artifact — the
// path used after Linker (C3) or Pre-Initializer (C4) produce fresh
// component bytes that have not yet round-tripped through the cache.
func FromBytes(b []byte, kind Kind, stdlibDir string) *Artifact {
	return &Artifact{
		Bytes:       b,
		Kind:        kind,
		Source:      SourceInMemory,
		ContentHash: hashOf(b),
		StdlibDir:   stdlibDir,
	}
}

// InMemory is the Store-method form of FromBytes (spec.md §4.2 mode 3),
// kept alongside Embedded/FileMmap so callers can select a mode
// uniformly through the Store rather than mixing a free function in.
func (s *Store) InMemory(_ context.Context, b []byte, stdlibDir string) (*Artifact, error) {
	return FromBytes(b, KindLinked, stdlibDir), nil
}

// Store resolves an Artifact from one of the three acquisition modes
// described in spec.md §4.2. It is safe for concurrent use; each call to
// Embedded/FileMmap/InMemory is independent and returns its own handle.
type Store struct {
	embedded *EmbeddedSource
}

// NewStore creates a Store. embedded may be nil if the binary was not
// built with an embedded component (e.g. a dev build using only
// file-mmap or in-memory artifacts).
func NewStore(embedded *EmbeddedSource) *Store {
	return &Store{embedded: embedded}
}

// Embedded returns the component baked into the host binary (spec.md
// §4.2 mode 1, "enables zero-configuration use").
func (s *Store) Embedded(_ context.Context) (*Artifact, error) {
	if s.embedded == nil {
		return nil, fmt.Errorf("artifact: no embedded component compiled into this binary")
	}
	b := s.embedded.bytes
	return &Artifact{
		Bytes:       b,
		Kind:        KindPrecompiled,
		Source:      SourceEmbedded,
		ContentHash: hashOf(b),
		StdlibDir:   s.embedded.stdlibDir,
	}, nil
}
