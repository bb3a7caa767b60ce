// Package contexts owns the lifecycle of named contexts on disk and the
// metadata registry that describes them. Each context lives in its own
// directory under the data root:
//
//	<root>/<name>/metadata.json   registry entry
//	<root>/<name>/index/          persisted Index Store (see package index)
//
// The registry stays authoritative whether or not a context's index is
// resident in memory. Lifecycle operations on the same context are
// serialised by a per-context lock; different contexts proceed in parallel.
package contexts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/fsutil"
	"github.com/54b3r/ragctx-go/internal/index"
)

// Sentinel errors.
var (
	// ErrInvalidName is returned for names that fail NormalizeName.
	ErrInvalidName = fmt.Errorf("contexts: invalid name: %w", errkind.ErrInput)
	// ErrAlreadyExists is returned by Create and Rename when the target exists.
	ErrAlreadyExists = fmt.Errorf("contexts: already exists: %w", errkind.ErrConflict)
	// ErrNotFound is returned when a context or its metadata is absent.
	ErrNotFound = fmt.Errorf("contexts: %w", errkind.ErrNotFound)
	// ErrProtected is returned when deleting or renaming the default context.
	ErrProtected = fmt.Errorf("contexts: default context is protected: %w", errkind.ErrConflict)
)

const (
	// indexDirName is the per-context subdirectory holding the index.
	indexDirName = "index"
	// clearingMarker is written before a clear starts and removed when it
	// completes. A marker found on open means the clear must be finished.
	clearingMarker = ".clearing"
	// trashPrefix names directories of deleted contexts awaiting removal.
	trashPrefix = ".trash-"
)

// Observer is notified after lifecycle changes commit. Callbacks run while
// the affected context's lock is held, so implementations must not call back
// into the Manager for the same context.
type Observer interface {
	// ContextCleared is called after a context's index was removed.
	ContextCleared(name string)
	// ContextDeleted is called after a context was deleted.
	ContextDeleted(name string)
	// ContextRenamed is called after a context was renamed.
	ContextRenamed(oldName, newName string)
}

// ContextStats is the per-context slice of Stats.
type ContextStats struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	TotalDocuments int        `json:"total_documents"`
	TotalFiles     int        `json:"total_files"`
	HasIndex       bool       `json:"has_index"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdated    *time.Time `json:"last_updated"`
}

// Stats aggregates the metadata registry.
type Stats struct {
	TotalContexts  int            `json:"total_contexts"`
	TotalDocuments int            `json:"total_documents"`
	TotalFiles     int            `json:"total_files"`
	Contexts       []ContextStats `json:"contexts"`
}

// Manager manages contexts rooted at one data directory.
type Manager struct {
	// root is the data directory holding one subdirectory per context.
	root string
	// locks maps context name to *sync.Mutex.
	locks sync.Map
	// log receives recovery and lifecycle events.
	log *slog.Logger
	// now is the clock; overridden in tests.
	now func() time.Time
	// obsMu guards observers.
	obsMu sync.RWMutex
	// observers are notified after lifecycle changes.
	observers []Observer
	// defaultDescription is used when the default context is created.
	defaultDescription string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for recovery and lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithObserver registers an observer for lifecycle changes.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Open prepares root for use: it creates the directory, finishes any clear
// or delete interrupted by a crash, removes stray temporary files and makes
// sure the default context exists.
func Open(root string, opts ...Option) (*Manager, error) {
	m := &Manager{
		root:               root,
		log:                slog.Default(),
		now:                func() time.Time { return time.Now().UTC() },
		defaultDescription: "Default context",
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errkind.WrapStorage("open", root, err)
	}
	if err := m.recover(); err != nil {
		return nil, err
	}
	if !m.Exists(DefaultContext) {
		if err := m.Create(DefaultContext, m.defaultDescription); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("contexts: create default context: %w", err)
		}
	}
	return m, nil
}

// Root returns the data directory.
func (m *Manager) Root() string { return m.root }

// AddObserver registers an observer after construction.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// notify calls fn for every registered observer.
func (m *Manager) notify(fn func(Observer)) {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	for _, o := range m.observers {
		fn(o)
	}
}

// Lock acquires the per-context lock for name and returns its release
// function. Callers must pass a normalised name.
func (m *Manager) Lock(name string) func() {
	v, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// IndexDir returns the directory holding name's persisted index.
func (m *Manager) IndexDir(name string) string {
	return filepath.Join(m.root, name, indexDirName)
}

func (m *Manager) contextDir(name string) string {
	return filepath.Join(m.root, name)
}

func (m *Manager) metadataPath(name string) string {
	return filepath.Join(m.root, name, metadataFile)
}

// List returns the names of every context that has a metadata entry or a
// persisted index, in lexicographic order.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, errkind.WrapStorage("list", m.root, err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || !validName.MatchString(name) {
			continue
		}
		if fileExists(m.metadataPath(name)) || index.Exists(m.IndexDir(name)) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// Exists reports whether a directory for name exists. Invalid names never exist.
func (m *Manager) Exists(name string) bool {
	n, err := NormalizeName(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(m.contextDir(n))
	return err == nil && info.IsDir()
}

// HasIndex reports whether name has a persisted index, regardless of metadata.
func (m *Manager) HasIndex(name string) bool {
	n, err := NormalizeName(name)
	if err != nil {
		return false
	}
	return index.Exists(m.IndexDir(n))
}

// Create makes a new, empty context. It fails with ErrAlreadyExists when a
// directory for the name is already present.
func (m *Manager) Create(name, description string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	unlock := m.Lock(n)
	defer unlock()

	dir := m.contextDir(n)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, n)
		}
		return errkind.WrapStorage("create", dir, err)
	}

	meta := &Metadata{
		Name:         n,
		Description:  strings.TrimSpace(description),
		CreatedAt:    m.now(),
		IndexedFiles: []string{},
	}
	if err := writeMetadata(m.metadataPath(n), meta); err != nil {
		// Leave no directory behind that would make the name look taken.
		_ = os.RemoveAll(dir)
		return err
	}
	m.log.Info("contexts: created", slog.String("context", n))
	return nil
}

// Metadata returns a copy of name's registry entry.
func (m *Manager) Metadata(name string) (*Metadata, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return readMetadata(m.metadataPath(n), n)
}

// UpdateMetadata overwrites name's file list and document count and stamps
// last_updated. When the entry is missing (an index persisted without its
// metadata) a fresh one is created. The pipeline calls this while holding
// the context lock, so it does not take the lock itself.
func (m *Manager) UpdateMetadata(name string, files []string, documents int) (*Metadata, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.contextDir(n), 0o755); err != nil {
		return nil, errkind.WrapStorage("update metadata", m.contextDir(n), err)
	}

	now := m.now()
	meta, err := readMetadata(m.metadataPath(n), n)
	switch {
	case errors.Is(err, ErrNotFound):
		m.log.Warn("contexts: metadata missing, recreating", slog.String("context", n))
		meta = &Metadata{Name: n, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	meta.IndexedFiles = uniqueFiles(files)
	meta.TotalDocuments = documents
	meta.LastUpdated = &now
	if err := writeMetadata(m.metadataPath(n), meta); err != nil {
		return nil, err
	}
	return meta.clone(), nil
}

// Delete removes a context and everything in it. The directory is first
// renamed into a trash slot, so observers see the context vanish in one
// step; the trash is then removed, and any leftover is swept on next Open.
func (m *Manager) Delete(name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if n == DefaultContext {
		return fmt.Errorf("%w: cannot delete %q", ErrProtected, n)
	}
	unlock := m.Lock(n)
	defer unlock()

	dir := m.contextDir(n)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: context %q", ErrNotFound, n)
		}
		return errkind.WrapStorage("delete", dir, err)
	}

	trash := filepath.Join(m.root, trashPrefix+n+"-"+uuid.NewString())
	if err := os.Rename(dir, trash); err != nil {
		return errkind.WrapStorage("delete", dir, err)
	}
	fsutil.SyncDir(m.root)

	if err := os.RemoveAll(trash); err != nil {
		m.log.Warn("contexts: deleted context left files behind, will retry on next open",
			slog.String("context", n),
			slog.String("trash", trash),
			slog.Any("error", err),
		)
	}
	m.log.Info("contexts: deleted", slog.String("context", n))
	m.notify(func(o Observer) { o.ContextDeleted(n) })
	return nil
}

// ClearIndex removes name's persisted index and resets its metadata to zero
// documents and no files, keeping description and creation time.
func (m *Manager) ClearIndex(name string) error {
	n, err := NormalizeName(name)
	if err != nil {
		return err
	}
	unlock := m.Lock(n)
	defer unlock()

	dir := m.contextDir(n)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: context %q", ErrNotFound, n)
		}
		return errkind.WrapStorage("clear", dir, err)
	}

	marker := filepath.Join(dir, clearingMarker)
	if err := fsutil.WriteFileAtomic(marker, nil, 0o644); err != nil {
		return errkind.WrapStorage("clear", marker, err)
	}
	if err := m.finishClear(n); err != nil {
		return err
	}
	m.log.Info("contexts: index cleared", slog.String("context", n))
	m.notify(func(o Observer) { o.ContextCleared(n) })
	return nil
}

// finishClear performs the clear steps after the marker is in place. It is
// idempotent so recovery can rerun it.
func (m *Manager) finishClear(n string) error {
	if err := index.Remove(m.IndexDir(n)); err != nil {
		return err
	}

	now := m.now()
	meta, err := readMetadata(m.metadataPath(n), n)
	switch {
	case errors.Is(err, ErrNotFound):
		meta = &Metadata{Name: n, CreatedAt: now}
	case err != nil:
		return err
	}
	meta.IndexedFiles = []string{}
	meta.TotalDocuments = 0
	meta.LastUpdated = &now
	if err := writeMetadata(m.metadataPath(n), meta); err != nil {
		return err
	}

	marker := filepath.Join(m.contextDir(n), clearingMarker)
	if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errkind.WrapStorage("clear", marker, err)
	}
	return nil
}

// Rename moves a context to a new name and updates its metadata entry.
func (m *Manager) Rename(oldName, newName string) error {
	from, err := NormalizeName(oldName)
	if err != nil {
		return err
	}
	to, err := NormalizeName(newName)
	if err != nil {
		return err
	}
	if from == DefaultContext {
		return fmt.Errorf("%w: cannot rename %q", ErrProtected, from)
	}
	if from == to {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, to)
	}

	// Lock in a fixed order so two opposite renames cannot deadlock.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	unlockFirst := m.Lock(first)
	defer unlockFirst()
	unlockSecond := m.Lock(second)
	defer unlockSecond()

	src, dst := m.contextDir(from), m.contextDir(to)
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: context %q", ErrNotFound, from)
		}
		return errkind.WrapStorage("rename", src, err)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, to)
	}

	if err := os.Rename(src, dst); err != nil {
		return errkind.WrapStorage("rename", src, err)
	}
	fsutil.SyncDir(m.root)

	meta, err := readMetadata(m.metadataPath(to), to)
	switch {
	case errors.Is(err, ErrNotFound):
		meta = &Metadata{Name: to, CreatedAt: m.now(), IndexedFiles: []string{}}
	case err != nil:
		return err
	}
	meta.Name = to
	if err := writeMetadata(m.metadataPath(to), meta); err != nil {
		return err
	}

	m.log.Info("contexts: renamed", slog.String("from", from), slog.String("to", to))
	m.notify(func(o Observer) { o.ContextRenamed(from, to) })
	return nil
}

// Stats sums the registry entries of every listed context. It never loads
// an index.
func (m *Manager) Stats() (*Stats, error) {
	names, err := m.List()
	if err != nil {
		return nil, err
	}
	st := &Stats{Contexts: make([]ContextStats, 0, len(names))}
	for _, n := range names {
		cs := ContextStats{Name: n, HasIndex: index.Exists(m.IndexDir(n))}
		meta, err := readMetadata(m.metadataPath(n), n)
		switch {
		case err == nil:
			cs.Description = meta.Description
			cs.TotalDocuments = meta.TotalDocuments
			cs.TotalFiles = len(meta.IndexedFiles)
			cs.CreatedAt = meta.CreatedAt
			cs.LastUpdated = meta.LastUpdated
		case errors.Is(err, ErrNotFound):
			// Index without metadata: counted, with zero totals, until the
			// next indexing run recreates the entry.
		default:
			return nil, err
		}
		st.TotalContexts++
		st.TotalDocuments += cs.TotalDocuments
		st.TotalFiles += cs.TotalFiles
		st.Contexts = append(st.Contexts, cs)
	}
	return st, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
