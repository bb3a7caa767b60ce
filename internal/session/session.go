// Package session implements the active context pointer: which context a
// caller is working in and whether that context's index is resident in
// memory. Each Session is an explicit state machine
//
//	NoContext -> ContextLoaded(name) -> IndexResident(name)
//
// driven by Switch, Create, Clear, Delete, Rename and by the indexing
// pipeline when it loads or builds an index. Sessions live in a Registry,
// which shares resident indexes between sessions pointing at the same
// context and keeps every session consistent with lifecycle changes made
// through the contexts.Manager.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// ErrNoContext is returned by Search when no context is selected.
var ErrNoContext = fmt.Errorf("session: no active context: %w", errkind.ErrNotInitialized)

// State is the position of a Session in its lifecycle.
type State int

const (
	// NoContext means no context is selected.
	NoContext State = iota
	// ContextLoaded means a context is selected but has no resident index,
	// either because it was never indexed or because it was just cleared.
	ContextLoaded
	// IndexResident means the selected context's index is in memory.
	IndexResident
)

// String returns the snake_case state name used in logs and API responses.
func (s State) String() string {
	switch s {
	case NoContext:
		return "no_context"
	case ContextLoaded:
		return "context_loaded"
	case IndexResident:
		return "index_resident"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Session is one caller's active context pointer. It is safe for concurrent
// use, but a single session is meant to be driven by one caller at a time.
type Session struct {
	id  string
	reg *Registry

	mu    sync.Mutex
	state State
	name  string
	store *index.Store
}

// Snapshot is a point-in-time view of a Session.
type Snapshot struct {
	ID        string `json:"id"`
	State     State  `json:"state"`
	Context   string `json:"context,omitempty"`
	Documents int    `json:"documents"`
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Name returns the active context name, or "" in NoContext.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Snapshot returns the current state, context and resident document count.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{ID: s.id, State: s.state, Context: s.name, Documents: s.store.Len()}
}

// Switch makes name the active context. When the context has a persisted
// index it is loaded (or shared from another session) and the session
// becomes IndexResident; otherwise it becomes ContextLoaded. On any error
// the session is left unchanged.
func (s *Session) Switch(ctx context.Context, name string) error {
	n, err := contexts.NormalizeName(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mgr := s.reg.mgr
	if !mgr.Exists(n) {
		return fmt.Errorf("session: switch: %w: context %q", contexts.ErrNotFound, n)
	}

	unlock := mgr.Lock(n)
	defer unlock()

	store, err := s.reg.loadLocked(n)
	if err != nil {
		return err
	}
	s.point(n, store)
	s.reg.log.Debug("session: switched",
		slog.String("session", s.id),
		slog.String("context", n),
		slog.String("state", s.State().String()),
	)
	return nil
}

// Create creates a context and switches to it.
func (s *Session) Create(ctx context.Context, name, description string) error {
	if err := s.reg.mgr.Create(name, description); err != nil {
		return err
	}
	return s.Switch(ctx, name)
}

// Clear removes name's index. Every session pointing at name, this one
// included, drops to ContextLoaded.
func (s *Session) Clear(name string) error {
	return s.reg.mgr.ClearIndex(name)
}

// Delete removes name. Every session pointing at name, this one included,
// drops to NoContext.
func (s *Session) Delete(name string) error {
	return s.reg.mgr.Delete(name)
}

// Rename renames a context. Sessions pointing at the old name follow it.
func (s *Session) Rename(oldName, newName string) error {
	return s.reg.mgr.Rename(oldName, newName)
}

// Resident returns the resident index for name when it was built under a
// capability compatible with c. It consults this session first, then any
// index shared by another session.
func (s *Session) Resident(name string, c index.Capability) *index.Store {
	s.mu.Lock()
	if s.state == IndexResident && s.name == name && s.store.Capability().Compatible(c) {
		st := s.store
		s.mu.Unlock()
		return st
	}
	s.mu.Unlock()
	return s.reg.Resident(name, c)
}

// SetResident records store as name's resident index and moves this
// session's pointer to name. The indexing pipeline calls it after a
// successful persist, which is how indexing auto-loads a context.
func (s *Session) SetResident(name string, store *index.Store) {
	s.reg.SetResident(name, store)
	s.point(name, store)
}

// DropResident discards name's resident index in every session.
func (s *Session) DropResident(name string) {
	s.reg.DropResident(name)
}

// Search embeds query with the registry's embedder and returns up to k
// nearest records from the active context's resident index.
func (s *Session) Search(ctx context.Context, query string, k int, threshold *float32) ([]index.Hit, error) {
	s.mu.Lock()
	state, name, store := s.state, s.name, s.store
	s.mu.Unlock()

	switch state {
	case NoContext:
		return nil, ErrNoContext
	case ContextLoaded:
		return nil, fmt.Errorf("session: context %q has no index: %w", name, index.ErrNotInitialized)
	}
	return s.reg.search(ctx, store, query, k, threshold)
}

// point sets the pointer to name with store (nil meaning not resident).
func (s *Session) point(name string, store *index.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.store = store
	if store != nil {
		s.state = IndexResident
	} else {
		s.state = ContextLoaded
	}
}

// reset moves the session to NoContext.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.name, s.store = NoContext, "", nil
}

// follow applies a lifecycle change to the session if it points at name.
func (s *Session) follow(name string, apply func(*Session)) {
	s.mu.Lock()
	match := s.name == name
	s.mu.Unlock()
	if match {
		apply(s)
	}
}

// isNotFound reports whether err means the persisted index is absent.
func isNotFound(err error) bool {
	return errors.Is(err, index.ErrIndexNotFound)
}
