// Package session implements the Session (C8): a Sandbox that reuses
// one guest instance across many execute() calls and adds
// snapshot/restore/clear/reset state management plus an optional VFS
// mount that survives clear_state and reset but is excluded from
// snapshots.
//
// The state lifecycle (capture a serialized blob, hand it back later,
// discard-and-rebuild on irrecoverable error) is grounded on
// internal/checkpoint/store.go's Save/Load/Delete shape; the VFS mount
// bookkeeping — a host directory preopened into the guest that outlives
// the guest instance it's attached to — is grounded on
// internal/volume/manager.go's "durable image survives the VM that
// mounts it" model, adapted from an ext4 image file to a plain host
// directory since Eryx has no VM boundary to cross.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oriys/eryx/internal/factory"
	"github.com/oriys/eryx/internal/observability"
	"github.com/oriys/eryx/internal/sandboxrt"
	"github.com/oriys/eryx/internal/secrets"
)

// Mount describes the optional VFS attached to a Session (spec.md §4.8
// "Optional VFS").
type Mount struct {
	// HostDir is the directory backing the mount. It is created once
	// and reused across every reset() for the life of the Session.
	HostDir string
	// GuestPath is where the guest sees it, default "/data".
	GuestPath string
}

// DefaultGuestPath is spec.md §4.8's stated default mount point.
const DefaultGuestPath = "/data"

// Resolver produces the Template to use for a given set of preinit
// imports, typically backed by the Builder's
// Linker -> Pre-Initializer -> Component Cache -> Factory pipeline.
// Reset calls it so that reset(preinit_imports) can switch to a
// differently pre-initialized template, not just re-spawn the current
// one.
type Resolver func(ctx context.Context, preinitImports []string) (*factory.Template, error)

// Session wraps one long-lived guest instance. Unlike a plain Sandbox,
// operations on a Session are serialised: Go callers must not call
// Execute concurrently with Snapshot/Restore/Clear/Reset, and the
// mutex below enforces that a Session processes at most one operation
// at a time, matching spec.md §4.9's "a Session processes at most one
// execute() at a time."
type Session struct {
	mu       sync.Mutex
	template *factory.Template
	instance *factory.Instance
	mount    *Mount
	resolve  Resolver
	secrets  []secrets.Secret

	executionCount atomic.Int64
}

// New creates a Session from template, spawning its first instance with
// mount attached (if non-nil). resolve may be nil if the Session will
// never need Reset to switch preinit imports (Reset then re-spawns the
// same template). secretBindings is bound once, at spawn time, and
// re-bound on every Reset, matching spec.md §4.13's "placeholders are
// per-sandbox" (a Session is one long-lived sandbox across resets).
func New(ctx context.Context, template *factory.Template, mount *Mount, resolve Resolver, secretBindings []secrets.Secret) (*Session, error) {
	s := &Session{template: template, mount: mount, resolve: resolve, secrets: secretBindings}
	inst, err := s.spawn(ctx)
	if err != nil {
		return nil, err
	}
	s.instance = inst
	return s, nil
}

func (s *Session) spawn(ctx context.Context) (*factory.Instance, error) {
	opts := factory.SpawnOptions{Secrets: s.secrets}
	if s.mount != nil {
		guestPath := s.mount.GuestPath
		if guestPath == "" {
			guestPath = DefaultGuestPath
		}
		opts.Mounts = map[string]string{s.mount.HostDir: guestPath}
	}
	return s.template.SpawnWithOptions(ctx, opts)
}

// Execute runs req against the Session's current instance, serialised
// against every other Session operation by s.mu (spec.md §4.9: "a
// Session processes at most one execute() at a time"). A non-Python
// failure leaves the instance unusable; the caller must call Reset
// before the next Execute or state operation.
func (s *Session) Execute(ctx context.Context, req sandboxrt.Request) (*sandboxrt.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome, err := sandboxrt.ExecuteOn(ctx, s.instance, req)
	if err == nil && outcome.Recoverable() {
		s.executionCount.Add(1)
	}
	return outcome, err
}

// ExecutionCount returns the number of successful or Python-failed
// execute() calls this Session has completed (spec.md §4.8 invariant:
// increases by exactly one per such call).
func (s *Session) ExecutionCount() int64 {
	return s.executionCount.Load()
}

// Instance returns the Session's current live instance, for the
// executor (C7) to run execute() against. Callers must hold no
// reference across a Reset, since Reset invalidates the previous
// instance.
func (s *Session) Instance() *factory.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// RecordExecution increments the execution counter by one. Session.Execute
// counts its own successful and Python-failed calls directly and does not
// call it.
func (s *Session) RecordExecution() {
	s.executionCount.Add(1)
}

// SnapshotState calls the guest's snapshot-state export, returning
// pickled globals from __main__ minus builtins, callback helpers, and
// unpicklable entries (spec.md §4.8).
func (s *Session) SnapshotState(ctx context.Context) ([]byte, error) {
	_, span := observability.StartSpan(ctx, "session.snapshot_state")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	export := s.instance.Instance.GetExport(s.instance.Store, "snapshot-state")
	if export == nil || export.Func() == nil {
		err := fmt.Errorf("session: component does not export snapshot-state")
		observability.SetSpanError(span, err)
		return nil, err
	}
	result, err := export.Func().Call(s.instance.Store)
	if err != nil {
		err = fmt.Errorf("session: snapshot-state: %w", err)
		observability.SetSpanError(span, err)
		return nil, err
	}
	bytes, ok := result.([]byte)
	if !ok {
		err := fmt.Errorf("session: snapshot-state returned unexpected type %T", result)
		observability.SetSpanError(span, err)
		return nil, err
	}
	observability.SetSpanOK(span)
	return bytes, nil
}

// RestoreState calls restore-state, unpickling data into __main__,
// merging with the existing namespace (spec.md §4.8).
func (s *Session) RestoreState(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	export := s.instance.Instance.GetExport(s.instance.Store, "restore-state")
	if export == nil || export.Func() == nil {
		return fmt.Errorf("session: component does not export restore-state")
	}
	_, err := export.Func().Call(s.instance.Store, data)
	if err != nil {
		return fmt.Errorf("session: restore-state: %w", err)
	}
	return nil
}

// ClearState removes user-defined names from the guest's __main__
// namespace, preserving builtins and callback helpers (spec.md §4.8).
// The VFS mount, if any, is untouched.
func (s *Session) ClearState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	export := s.instance.Instance.GetExport(s.instance.Store, "clear-state")
	if export == nil || export.Func() == nil {
		return fmt.Errorf("session: component does not export clear-state")
	}
	_, err := export.Func().Call(s.instance.Store)
	if err != nil {
		return fmt.Errorf("session: clear-state: %w", err)
	}
	return nil
}

// Reset discards the current instance and constructs a new one from
// preinitImports, for use after a non-recoverable error (spec.md §4.8).
// The VFS mount, if any, is re-attached to the new instance using the
// same HostDir, so guest-visible files created before Reset remain
// visible after it.
func (s *Session) Reset(ctx context.Context, preinitImports []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	template := s.template
	if len(preinitImports) > 0 && s.resolve != nil {
		resolved, err := s.resolve(ctx, preinitImports)
		if err != nil {
			return fmt.Errorf("session: reset: resolve template: %w", err)
		}
		template = resolved
	}

	old := s.instance
	s.template = template
	fresh, err := s.spawn(ctx)
	if err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}
	if old != nil {
		old.Close()
	}
	s.instance = fresh
	return nil
}

// Close releases the Session's current instance. It does not remove
// the VFS mount's host directory, which is owned by the caller that
// supplied it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance != nil {
		s.instance.Close()
		s.instance = nil
	}
}
