package artifact

import "embed"

// EmbeddedSource holds the bytes compiled into the host binary via
// go:embed. Binaries that want zero-configuration use call
// NewEmbeddedSource with their own embed.FS and the asset's path inside
// it; this package places no //go:embed directive of its own so it never
// forces callers to ship a particular component.
type EmbeddedSource struct {
	bytes     []byte
	stdlibDir string
}

// NewEmbeddedSource reads componentPath out of fsys and records
// stdlibDir (a path inside fsys, or a sibling embed.FS root, that holds
// the preopened Python standard library directory tree).
func NewEmbeddedSource(fsys embed.FS, componentPath, stdlibDir string) (*EmbeddedSource, error) {
	b, err := fsys.ReadFile(componentPath)
	if err != nil {
		return nil, err
	}
	return &EmbeddedSource{bytes: b, stdlibDir: stdlibDir}, nil
}

// NewEmbeddedSourceFromBytes wraps bytes already resident in memory (for
// example read from disk at process startup by a development CLI that
// has no go:embed directive of its own) as an EmbeddedSource, so callers
// that only know their component's path at runtime can still use
// Store.Embedded rather than go through a second acquisition mode.
func NewEmbeddedSourceFromBytes(b []byte, stdlibDir string) *EmbeddedSource {
	return &EmbeddedSource{bytes: b, stdlibDir: stdlibDir}
}
