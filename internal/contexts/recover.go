package contexts

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/fsutil"
)

// recover restores a consistent data root after a crash:
//   - trash directories of deleted contexts are removed,
//   - clears that were interrupted are finished,
//   - temporary files from interrupted atomic writes are swept.
func (m *Manager) recover() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return errkind.WrapStorage("recover", m.root, err)
	}

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(name, trashPrefix) {
			path := filepath.Join(m.root, name)
			if err := os.RemoveAll(path); err != nil {
				m.log.Warn("contexts: could not remove trash", slog.String("path", path), slog.Any("error", err))
				continue
			}
			m.log.Info("contexts: removed leftover of deleted context", slog.String("path", path))
			continue
		}
		if strings.HasPrefix(name, ".") || !validName.MatchString(name) {
			continue
		}

		dir := filepath.Join(m.root, name)
		if _, err := fsutil.Sweep(dir); err != nil {
			m.log.Warn("contexts: sweep failed", slog.String("context", name), slog.Any("error", err))
		}
		if fileExists(filepath.Join(dir, clearingMarker)) {
			m.log.Warn("contexts: finishing interrupted clear", slog.String("context", name))
			if err := m.finishClear(name); err != nil {
				return err
			}
		}
	}

	if _, err := fsutil.Sweep(m.root); err != nil {
		m.log.Warn("contexts: sweep failed", slog.String("path", m.root), slog.Any("error", err))
	}
	return nil
}
