package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/embedder"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// ErrSessionNotFound is returned by Get for unknown session IDs.
var ErrSessionNotFound = fmt.Errorf("session: %w", errkind.ErrNotFound)

// Registry owns the sessions of one process and the indexes resident for
// them. At most one index is resident per context; every session pointing at
// that context shares it. The Registry observes the contexts.Manager so a
// clear, delete or rename by any caller is reflected in every session.
type Registry struct {
	mgr *contexts.Manager
	emb embedder.Embedder
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	resident map[string]*index.Store
}

// NewRegistry builds a Registry and subscribes it to mgr's lifecycle events.
func NewRegistry(mgr *contexts.Manager, emb embedder.Embedder, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		mgr:      mgr,
		emb:      emb,
		log:      log,
		sessions: make(map[string]*Session),
		resident: make(map[string]*index.Store),
	}
	mgr.AddObserver(r)
	return r
}

// Manager returns the contexts manager the registry observes.
func (r *Registry) Manager() *contexts.Manager { return r.mgr }

// New creates a session in NoContext and returns it.
func (r *Registry) New() *Session {
	s := &Session{id: uuid.NewString(), reg: r}
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
	return s
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close forgets a session. Resident indexes no session points at any more
// are released.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if name := s.Name(); name != "" && !r.inUseLocked(name) {
		delete(r.resident, name)
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ResidentContexts returns the names of contexts with an index in memory.
func (r *Registry) ResidentContexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.resident))
	for n := range r.resident {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Resident returns the shared resident index for name when it was built
// under a capability compatible with c.
func (r *Registry) Resident(name string, c index.Capability) *index.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.resident[name]
	if st == nil || !st.Capability().Compatible(c) {
		return nil
	}
	return st
}

// SetResident records store as name's resident index and hands it to every
// session pointing at name.
func (r *Registry) SetResident(name string, store *index.Store) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resident[name] = store
	for _, s := range r.sessions {
		s.follow(name, func(s *Session) { s.point(name, store) })
	}
}

// DropResident discards name's resident index; sessions pointing at name
// fall back to ContextLoaded.
func (r *Registry) DropResident(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resident, name)
	for _, s := range r.sessions {
		s.follow(name, func(s *Session) { s.point(name, nil) })
	}
}

// Store returns name's index, loading it from disk when no session has it
// resident. It returns (nil, nil) for a context without a persisted index.
func (r *Registry) Store(name string) (*index.Store, error) {
	n, err := contexts.NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if !r.mgr.Exists(n) {
		return nil, fmt.Errorf("session: %w: context %q", contexts.ErrNotFound, n)
	}
	unlock := r.mgr.Lock(n)
	defer unlock()
	return r.loadLocked(n)
}

// Search embeds query and searches name's index without moving any session.
func (r *Registry) Search(ctx context.Context, name, query string, k int, threshold *float32) ([]index.Hit, error) {
	st, err := r.Store(name)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("session: context %q has no index: %w", name, index.ErrNotInitialized)
	}
	return r.search(ctx, st, query, k, threshold)
}

// loadLocked returns the shared index for n, loading and caching it when
// needed. The caller holds n's context lock; the context is re-checked
// under it so a delete that won the lock is reported as ErrNotFound.
func (r *Registry) loadLocked(n string) (*index.Store, error) {
	if !r.mgr.Exists(n) {
		return nil, fmt.Errorf("session: %w: context %q", contexts.ErrNotFound, n)
	}
	r.mu.Lock()
	st := r.resident[n]
	r.mu.Unlock()
	if st != nil {
		return st, nil
	}

	st, err := index.Load(r.mgr.IndexDir(n))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: load %q: %w", n, err)
	}
	r.log.Info("session: index loaded",
		slog.String("context", n),
		slog.Int("documents", st.Len()),
		slog.String("capability", st.Capability().String()),
	)

	r.mu.Lock()
	r.resident[n] = st
	r.mu.Unlock()
	return st, nil
}

// search embeds the query and runs it against st after checking that the
// query vector comes from the geometry st was built with.
func (r *Registry) search(ctx context.Context, st *index.Store, query string, k int, threshold *float32) ([]index.Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("session: %w: empty query", errkind.ErrInput)
	}
	vec, err := r.emb.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if want, have := st.Capability(), r.emb.Capability(); !want.Compatible(have) {
		return nil, fmt.Errorf("%w: index built with %s, queries embedded with %s; clear the context and re-index",
			index.ErrCapabilityMismatch, want, have)
	}
	return st.Search(vec, k, threshold)
}

func (r *Registry) inUseLocked(name string) bool {
	for _, s := range r.sessions {
		if s.Name() == name {
			return true
		}
	}
	return false
}

// ContextCleared implements contexts.Observer.
func (r *Registry) ContextCleared(name string) {
	r.DropResident(name)
}

// ContextDeleted implements contexts.Observer.
func (r *Registry) ContextDeleted(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resident, name)
	for _, s := range r.sessions {
		s.follow(name, (*Session).reset)
	}
}

// ContextRenamed implements contexts.Observer.
func (r *Registry) ContextRenamed(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.resident[oldName]
	if ok {
		delete(r.resident, oldName)
		r.resident[newName] = st
	}
	for _, s := range r.sessions {
		s.follow(oldName, func(s *Session) {
			s.mu.Lock()
			s.name = newName
			s.mu.Unlock()
		})
	}
}
