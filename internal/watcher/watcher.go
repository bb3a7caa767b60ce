// Package watcher re-indexes files into a context as they change on disk.
// Events are debounced per path so an editor's burst of writes produces a
// single index call once the file settles.
//
// Re-indexing a file name appends its chunks to the context; it does not
// replace the chunks of an earlier version.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/ragctx-go/internal/extract"
)

// DefaultDebounce is the quiet period after the last event on a path.
const DefaultDebounce = 500 * time.Millisecond

// IndexFunc indexes the file at path. Errors are logged and reported through
// Config.OnResult; they never stop the watcher.
type IndexFunc func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	// Root is the directory to watch.
	Root string
	// Recursive also watches subdirectories, including ones created later.
	// Hidden directories are skipped.
	Recursive bool
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnResult, when set, is called after every index attempt.
	OnResult func(path string, err error)
}

// Watcher watches one directory tree.
type Watcher struct {
	cfg     Config
	index   IndexFunc
	log     *slog.Logger
	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New validates cfg and registers the watches. Call Run to start processing.
func New(cfg Config, index IndexFunc) (*Watcher, error) {
	if index == nil {
		return nil, errors.New("watcher: index func is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watcher: stat %s: %w", cfg.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: %s is not a directory", cfg.Root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	w := &Watcher{
		cfg:     cfg,
		index:   index,
		log:     log.With(slog.String("root", cfg.Root)),
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
	}
	if err := w.addTree(cfg.Root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run processes events until ctx is cancelled, then waits for in-flight
// index calls and releases the watches.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watcher: started", slog.Bool("recursive", w.cfg.Recursive))
	defer w.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher: fsnotify error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancel(ev.Name)
		return
	default:
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if w.cfg.Recursive && ev.Has(fsnotify.Create) {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("watcher: add directory failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
			}
		}
		return
	}
	if !watched(ev.Name) {
		return
	}
	w.schedule(ctx, ev.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if prev, ok := w.pending[path]; ok && prev.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.cfg.Debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.fire(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) fire(ctx context.Context, path string) {
	err := w.index(ctx, path)
	if err != nil {
		w.log.Warn("watcher: index failed", slog.String("path", path), slog.String("error", err.Error()))
	} else {
		w.log.Info("watcher: indexed", slog.String("path", path))
	}
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(path, err)
	}
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

// shutdown stops pending timers, waits for running index calls and closes
// the fsnotify watcher.
func (w *Watcher) shutdown() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
	_ = w.fsw.Close()
	w.log.Info("watcher: stopped")
}

func (w *Watcher) addTree(root string) error {
	if !w.cfg.Recursive {
		if err := w.fsw.Add(root); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watcher: watch %s: %w", path, err)
		}
		return nil
	})
}

// watched reports whether path is a visible file of a supported format.
func watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return extract.Supported(path)
}
