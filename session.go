package eryx

import (
	"context"

	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/session"
)

// Mount attaches a host directory into every instance a Session spawns,
// surviving ClearState and Reset but excluded from Snapshot/Restore
// (spec.md §4.8 "Optional VFS").
type Mount struct {
	HostDir   string
	GuestPath string
}

// Session reuses one guest instance across many Execute calls, adding
// snapshot/restore/clear/reset state management (spec.md §4.8). Unlike
// Sandbox, a Session's Python globals persist between calls until
// ClearState or Reset discards them.
type Session struct {
	inner   *session.Session
	builder *Builder
}

// NewSession builds template (via builder, with no preinit imports) and
// starts a Session from it. mount, if non-nil, is attached to every
// instance the Session ever spawns, including across Reset.
func NewSession(ctx context.Context, builder *Builder, mount *Mount) (*Session, error) {
	return NewSessionWithSecrets(ctx, builder, mount, nil)
}

// NewSessionWithSecrets is NewSession plus secretBindings, bound once at
// spawn time and re-bound identically on every Reset (spec.md §4.13:
// placeholders are per-sandbox, and a Session is one sandbox across
// resets).
func NewSessionWithSecrets(ctx context.Context, builder *Builder, mount *Mount, secretBindings []Secret) (*Session, error) {
	tmpl, err := builder.Build(ctx, BuildOptions{})
	if err != nil {
		return nil, err
	}
	return newSessionFromTemplate(ctx, builder, tmpl, mount, secretBindings)
}

// NewSessionFromTemplate starts a Session from an already-built
// Template, skipping the Builder's cache lookup — useful when a caller
// has pre-warmed templates for several preinit-import sets and wants to
// pick one directly.
func NewSessionFromTemplate(ctx context.Context, builder *Builder, template *factory.Template, mount *Mount) (*Session, error) {
	return newSessionFromTemplate(ctx, builder, template, mount, nil)
}

func newSessionFromTemplate(ctx context.Context, builder *Builder, tmpl *factory.Template, mount *Mount, secretBindings []Secret) (*Session, error) {
	var innerMount *session.Mount
	if mount != nil {
		innerMount = &session.Mount{HostDir: mount.HostDir, GuestPath: mount.GuestPath}
	}
	inner, err := session.New(ctx, tmpl, innerMount, builder.Resolver(), toInternalSecrets(secretBindings))
	if err != nil {
		return nil, wrapError(KindInternal, err)
	}
	return &Session{inner: inner, builder: builder}, nil
}

// Execute runs code against the Session's current instance, per
// spec.md §4.9's "at most one execute() at a time" — concurrent callers
// are serialised, not rejected.
func (s *Session) Execute(ctx context.Context, code string, opts ExecuteOptions) (*ExecuteResult, error) {
	outcome, err := s.inner.Execute(ctx, opts.toRequest(code))
	if err != nil {
		return nil, wrapError(KindInternal, err)
	}
	return translateOutcome(outcome)
}

// ExecutionCount returns how many Execute calls have completed cleanly
// or with a recoverable Python error.
func (s *Session) ExecutionCount() int64 {
	return s.inner.ExecutionCount()
}

// SnapshotState captures __main__'s globals as an opaque blob, for
// later RestoreState (spec.md §4.8).
func (s *Session) SnapshotState(ctx context.Context) ([]byte, error) {
	data, err := s.inner.SnapshotState(ctx)
	if err != nil {
		return nil, wrapError(KindInternal, err)
	}
	return data, nil
}

// RestoreState merges a previously captured snapshot into __main__.
func (s *Session) RestoreState(ctx context.Context, data []byte) error {
	if err := s.inner.RestoreState(ctx, data); err != nil {
		return wrapError(KindInternal, err)
	}
	return nil
}

// ClearState removes user-defined names from __main__, leaving the VFS
// mount untouched.
func (s *Session) ClearState(ctx context.Context) error {
	if err := s.inner.ClearState(ctx); err != nil {
		return wrapError(KindInternal, err)
	}
	return nil
}

// Reset discards the current instance and builds a fresh one, optionally
// pre-initialized against a different set of imports. Callers use this
// to recover after any non-Python Execute failure (spec.md §7).
func (s *Session) Reset(ctx context.Context, preinitImports []string) error {
	if err := s.inner.Reset(ctx, preinitImports); err != nil {
		return wrapError(KindInternal, err)
	}
	return nil
}

// Close releases the Session's current instance.
func (s *Session) Close() {
	s.inner.Close()
}
