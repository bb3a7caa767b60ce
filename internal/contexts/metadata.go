package contexts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/fsutil"
)

// metadataFile is the registry entry stored in every context directory.
const metadataFile = "metadata.json"

// Metadata is the durable bookkeeping for one context. It is independent of
// whether the context's index is loaded in memory.
type Metadata struct {
	// Name is the context name. The directory name is authoritative; a
	// mismatching value on disk is corrected on read.
	Name string `json:"name"`
	// Description is free text supplied at creation.
	Description string `json:"description"`
	// CreatedAt is when the context was created.
	CreatedAt time.Time `json:"created_at"`
	// IndexedFiles is the ordered, duplicate-free list of indexed file names.
	IndexedFiles []string `json:"indexed_files"`
	// TotalDocuments is the number of records in the persisted index.
	TotalDocuments int `json:"total_documents"`
	// LastUpdated is nil until the first successful indexing run.
	LastUpdated *time.Time `json:"last_updated"`
}

// clone returns a deep copy.
func (m *Metadata) clone() *Metadata {
	c := *m
	c.IndexedFiles = slices.Clone(m.IndexedFiles)
	if m.LastUpdated != nil {
		t := *m.LastUpdated
		c.LastUpdated = &t
	}
	return &c
}

// readMetadata loads the entry at path. It returns ErrNotFound when the file
// does not exist.
func readMetadata(path, name string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: metadata for %q", ErrNotFound, name)
		}
		return nil, errkind.WrapStorage("read metadata", path, err)
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errkind.WrapStorage("decode metadata", path, err)
	}
	m.Name = name
	if m.IndexedFiles == nil {
		m.IndexedFiles = []string{}
	}
	return &m, nil
}

// writeMetadata atomically replaces the entry at path.
func writeMetadata(path string, m *Metadata) error {
	out := m.clone()
	if out.IndexedFiles == nil {
		out.IndexedFiles = []string{}
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("contexts: encode metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, append(raw, '\n'), 0o644); err != nil {
		return errkind.WrapStorage("write metadata", path, err)
	}
	return nil
}

// uniqueFiles drops duplicates from files, keeping first occurrences.
func uniqueFiles(files []string) []string {
	seen := make(map[string]bool, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
