package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/fsutil"
)

// On-disk layout of a persisted index directory:
//
//	CURRENT            name of the live generation, swapped atomically
//	gen-00000007/
//	    index.vec      vector geometry (see codec.go)
//	    records.json   record payloads, capability and indexed file list
//
// A persist writes a complete new generation under a temporary name, renames
// it into place, then repoints CURRENT. Readers only ever follow CURRENT, so
// they see the previous generation or the new one in full.
const (
	currentFile  = "CURRENT"
	geometryFile = "index.vec"
	recordsFile  = "records.json"
	genPrefix    = "gen-"
)

// manifest is the JSON document stored next to the geometry.
type manifest struct {
	Version      int             `json:"version"`
	Capability   Capability      `json:"capability"`
	IndexedFiles []string        `json:"indexed_files"`
	IndexedAt    time.Time       `json:"indexed_at"`
	TotalFiles   int             `json:"total_files"`
	Records      []recordPayload `json:"records"`
}

// recordPayload is the non-vector part of a Record.
type recordPayload struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Source      string            `json:"source"`
	ChunkIndex  int               `json:"chunk_index"`
	TotalChunks int               `json:"total_chunks"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Persist writes the store to dir, creating it if needed. files is recorded
// as the index's file list and reported back by Stats after a Load.
func (s *Store) Persist(dir string, files []string) error {
	if s == nil {
		return ErrNotInitialized
	}

	// Records are never mutated after insertion, so a bounded slice of the
	// current backing array is a consistent snapshot.
	s.mu.RLock()
	snapshot := s.records[:len(s.records):len(s.records)]
	capability := s.capability
	s.mu.RUnlock()

	now := time.Now().UTC()
	files = slices.Clone(files)
	m := manifest{
		Version:      geometryVersion,
		Capability:   capability,
		IndexedFiles: files,
		IndexedAt:    now,
		TotalFiles:   len(files),
		Records:      make([]recordPayload, len(snapshot)),
	}
	for i, r := range snapshot {
		m.Records[i] = recordPayload{
			ID:          r.ID,
			Text:        r.Text,
			Source:      r.Source,
			ChunkIndex:  r.ChunkIndex,
			TotalChunks: r.TotalChunks,
			Metadata:    r.Metadata,
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.WrapStorage("persist", dir, err)
	}
	gen, err := nextGeneration(dir)
	if err != nil {
		return errkind.WrapStorage("persist", dir, err)
	}

	tmp, err := os.MkdirTemp(dir, ".gen-*"+fsutil.TempSuffix)
	if err != nil {
		return errkind.WrapStorage("persist", dir, err)
	}
	renamed := false
	defer func() {
		if !renamed {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := fsutil.WriteFileSync(filepath.Join(tmp, geometryFile), 0o644, func(w io.Writer) error {
		return writeGeometry(w, capability.Dimensions, snapshot)
	}); err != nil {
		return errkind.WrapStorage("persist", tmp, err)
	}
	if err := fsutil.WriteFileSync(filepath.Join(tmp, recordsFile), 0o644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(&m)
	}); err != nil {
		return errkind.WrapStorage("persist", tmp, err)
	}
	fsutil.SyncDir(tmp)

	genDir := filepath.Join(dir, gen)
	if err := os.Rename(tmp, genDir); err != nil {
		return errkind.WrapStorage("persist", genDir, err)
	}
	renamed = true

	if err := fsutil.WriteFileAtomic(filepath.Join(dir, currentFile), []byte(gen+"\n"), 0o644); err != nil {
		// CURRENT still names the previous generation; drop the orphan.
		_ = os.RemoveAll(genDir)
		return errkind.WrapStorage("persist", dir, err)
	}

	pruneGenerations(dir, gen)

	s.mu.Lock()
	s.indexedFiles = files
	s.indexedAt = now
	s.mu.Unlock()
	return nil
}

// Load reads the index persisted in dir. It returns ErrIndexNotFound when dir
// holds no committed generation.
func Load(dir string) (*Store, error) {
	gen, err := currentGeneration(dir)
	if err != nil {
		return nil, err
	}
	genDir := filepath.Join(dir, gen)

	raw, err := os.ReadFile(filepath.Join(genDir, recordsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s references missing generation %s", ErrIndexNotFound, dir, gen)
		}
		return nil, errkind.WrapStorage("load", genDir, err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, recordsFile, err)
	}

	f, err := os.Open(filepath.Join(genDir, geometryFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrIndexNotFound, genDir, geometryFile)
		}
		return nil, errkind.WrapStorage("load", genDir, err)
	}
	defer f.Close()

	_, vectors, err := readGeometry(f, m.Capability.Dimensions, len(m.Records))
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(vectors))
	for i, p := range m.Records {
		records[i] = Record{
			ID:          p.ID,
			Vector:      vectors[i],
			Text:        p.Text,
			Source:      p.Source,
			ChunkIndex:  p.ChunkIndex,
			TotalChunks: p.TotalChunks,
			Metadata:    p.Metadata,
		}
	}

	return &Store{
		capability:   m.Capability,
		records:      records,
		indexedFiles: m.IndexedFiles,
		indexedAt:    m.IndexedAt,
	}, nil
}

// Exists reports whether dir holds a committed index.
func Exists(dir string) bool {
	_, err := currentGeneration(dir)
	return err == nil
}

// Remove deletes every persisted artifact under dir. Removing CURRENT first
// makes the index disappear for readers before the bulk delete starts.
func Remove(dir string) error {
	if err := os.Remove(filepath.Join(dir, currentFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errkind.WrapStorage("remove", dir, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return errkind.WrapStorage("remove", dir, err)
	}
	return nil
}

// currentGeneration returns the generation name CURRENT points at.
func currentGeneration(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
		}
		return "", errkind.WrapStorage("load", dir, err)
	}
	gen := strings.TrimSpace(string(raw))
	if _, ok := parseGeneration(gen); !ok {
		return "", fmt.Errorf("%w: CURRENT holds %q", ErrCorrupt, gen)
	}
	return gen, nil
}

// nextGeneration returns a generation name higher than any present in dir.
func nextGeneration(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	highest := 0
	for _, e := range entries {
		if n, ok := parseGeneration(e.Name()); ok && e.IsDir() && n > highest {
			highest = n
		}
	}
	return fmt.Sprintf("%s%08d", genPrefix, highest+1), nil
}

// parseGeneration extracts the sequence number from a gen-NNNNNNNN name.
func parseGeneration(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, genPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// pruneGenerations removes every generation except keep, plus temporaries.
// Failures are ignored: a stale generation is unreachable and retried on the
// next persist.
func pruneGenerations(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name() == keep {
			continue
		}
		if _, ok := parseGeneration(e.Name()); ok {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	_, _ = fsutil.Sweep(dir)
}
