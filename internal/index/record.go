// Package index implements the per-context Index Store: an in-memory
// collection of embedded records with exact nearest-neighbour search and an
// atomic on-disk format.
//
// All records in one Store share a single dimensionality and were produced by
// a single embedding provider/model pair, recorded as the store's Capability.
// Incoming batches that disagree with either are refused rather than coerced.
package index

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
)

// Sentinel errors. Each wraps an errkind sentinel so callers can branch on
// the coarse kind with errors.Is.
var (
	// ErrEmptyInput is returned when a create/add batch has no records or a
	// search asks for k <= 0.
	ErrEmptyInput = fmt.Errorf("index: empty input: %w", errkind.ErrInput)
	// ErrNotInitialized is returned by operations on a store that was never
	// created or loaded.
	ErrNotInitialized = fmt.Errorf("index: store not initialized: %w", errkind.ErrNotInitialized)
	// ErrDimensionMismatch is returned when a vector length differs from the
	// store's established dimensionality.
	ErrDimensionMismatch = fmt.Errorf("index: %w", errkind.ErrDimensionMismatch)
	// ErrCapabilityMismatch is returned when a batch was embedded by a
	// different provider or model than the one the store was built with.
	ErrCapabilityMismatch = fmt.Errorf("index: embedding capability mismatch: %w", errkind.ErrDimensionMismatch)
	// ErrNonFinite is returned when a query or record vector holds a NaN or
	// an infinite component.
	ErrNonFinite = fmt.Errorf("index: non-finite vector component: %w", errkind.ErrInput)
	// ErrIndexNotFound is returned by Load when no persisted index exists.
	ErrIndexNotFound = fmt.Errorf("index: persisted index %w", errkind.ErrNotFound)
	// ErrCorrupt is returned by Load when the persisted artifacts disagree
	// with each other or carry an unknown format.
	ErrCorrupt = fmt.Errorf("index: corrupt artifact: %w", errkind.ErrStorage)
)

// Capability identifies the embedding geometry a store was built with.
type Capability struct {
	// Provider is the embedding backend identifier (e.g. "ollama").
	Provider string `json:"provider"`
	// Model is the embedding model identifier (e.g. "bge-m3").
	Model string `json:"model"`
	// Dimensions is the vector length every record must have.
	Dimensions int `json:"dimensions"`
}

// String renders the capability as provider/model@dims for logs and errors.
func (c Capability) String() string {
	return fmt.Sprintf("%s/%s@%d", c.Provider, c.Model, c.Dimensions)
}

// Compatible reports whether vectors produced under other may be mixed into
// a store built under c. A zero Dimensions on either side matches anything,
// since the provider may not have been probed yet.
func (c Capability) Compatible(other Capability) bool {
	if c.Provider != other.Provider || c.Model != other.Model {
		return false
	}
	if c.Dimensions == 0 || other.Dimensions == 0 {
		return true
	}
	return c.Dimensions == other.Dimensions
}

// Record is one embedded chunk of a source document.
type Record struct {
	// ID is the unique record identifier.
	ID string
	// Vector is the embedding. Callers must not modify it after handing the
	// record to a Store.
	Vector []float32
	// Text is the chunk text.
	Text string
	// Source is the file name the chunk came from.
	Source string
	// ChunkIndex is the zero-based position of the chunk in its source.
	ChunkIndex int
	// TotalChunks is the number of chunks the source was split into.
	TotalChunks int
	// Metadata holds free-form key/value pairs.
	Metadata map[string]string
}

// clone returns a deep copy so results handed to callers never alias the
// store's internal slices.
func (r Record) clone() Record {
	r.Vector = slices.Clone(r.Vector)
	r.Metadata = maps.Clone(r.Metadata)
	return r
}

// Hit is one search result.
type Hit struct {
	// Record is the matched record.
	Record Record
	// Distance is the squared L2 distance to the query; smaller is closer.
	Distance float32
}

// Stats is a point-in-time summary of a store.
type Stats struct {
	// Initialized is false for a nil store.
	Initialized bool `json:"initialized"`
	// TotalDocuments is the number of records.
	TotalDocuments int `json:"total_documents"`
	// Dimensions is the established vector length, 0 for a nil store.
	Dimensions int `json:"dimensions"`
	// Capability is the embedding geometry of the store.
	Capability Capability `json:"capability"`
	// IndexedFiles is the file list recorded at the last persist or load.
	IndexedFiles []string `json:"indexed_files,omitempty"`
	// IndexedAt is the time of the last persist or load, zero if never.
	IndexedAt time.Time `json:"indexed_at,omitzero"`
}
