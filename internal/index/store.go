package index

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

// Store is the in-memory collection of records for one context.
// It is safe for concurrent use; Search and Persist take a read lock and Add
// takes a write lock.
type Store struct {
	// mu guards every field below.
	mu sync.RWMutex
	// capability is fixed at creation and checked on every Add.
	capability Capability
	// records are kept in insertion order, which is the search tie-breaker.
	records []Record
	// indexedFiles is the file list recorded with the last persist or load.
	indexedFiles []string
	// indexedAt is the time of the last persist or load.
	indexedAt time.Time
}

// Create builds a new Store from a non-empty batch. The store's
// dimensionality is taken from capability.Dimensions when set, otherwise from the
// first record; every record must match it.
func Create(capability Capability, records []Record) (*Store, error) {
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}
	dim := capability.Dimensions
	if dim == 0 {
		dim = len(records[0].Vector)
	}
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length vector in record %q", ErrDimensionMismatch, records[0].ID)
	}
	capability.Dimensions = dim
	if err := checkVectors(dim, records); err != nil {
		return nil, err
	}

	s := &Store{capability: capability}
	s.records = appendClones(make([]Record, 0, len(records)), records)
	return s, nil
}

// AddOrCreate appends records to s, or creates a new Store when s is nil.
// It returns the store that now holds the records.
func AddOrCreate(s *Store, capability Capability, records []Record) (*Store, error) {
	if s == nil {
		return Create(capability, records)
	}
	if err := s.Add(capability, records); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends a batch embedded under capability. The capability and every vector
// length are validated before anything is appended, so a failed Add leaves
// the store unchanged.
func (s *Store) Add(capability Capability, records []Record) error {
	if s == nil {
		return ErrNotInitialized
	}
	if len(records) == 0 {
		return ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capability.Compatible(capability) {
		if s.capability.Provider == capability.Provider && s.capability.Model == capability.Model {
			return fmt.Errorf("%w: store has %d dimensions, batch declares %d",
				ErrDimensionMismatch, s.capability.Dimensions, capability.Dimensions)
		}
		return fmt.Errorf("%w: store built with %s, batch embedded with %s",
			ErrCapabilityMismatch, s.capability, capability)
	}
	if err := checkVectors(s.capability.Dimensions, records); err != nil {
		return err
	}

	s.records = appendClones(s.records, records)
	return nil
}

// Search returns up to k records nearest to query, ordered by ascending
// squared L2 distance with ties kept in insertion order. When threshold is
// non-nil, records farther than *threshold are dropped, so fewer than k (or
// zero) hits may be returned.
func (s *Store) Search(query []float32, k int, threshold *float32) ([]Hit, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrEmptyInput, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(query) != s.capability.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			ErrDimensionMismatch, len(query), s.capability.Dimensions)
	}

	if i := nonFinite(query); i >= 0 {
		return nil, fmt.Errorf("%w: query component %d is %v", ErrNonFinite, i, query[i])
	}

	type scored struct {
		idx  int
		dist float32
	}
	candidates := make([]scored, 0, len(s.records))
	for i := range s.records {
		d := squaredL2(query, s.records[i].Vector)
		if threshold != nil && d > *threshold {
			continue
		}
		candidates = append(candidates, scored{idx: i, dist: d})
	}

	slices.SortStableFunc(candidates, func(a, b scored) int {
		return cmp.Compare(a.dist, b.dist)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{Record: s.records[c.idx].clone(), Distance: c.dist}
	}
	return hits, nil
}

// Len returns the number of records, zero for a nil store.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capability returns the embedding geometry the store was built with.
func (s *Store) Capability() Capability {
	if s == nil {
		return Capability{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capability
}

// Dimensions returns the established vector length, 0 for a nil store.
func (s *Store) Dimensions() int {
	return s.Capability().Dimensions
}

// Stats returns a summary of the store. A nil store reports Initialized=false.
func (s *Store) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Initialized:    true,
		TotalDocuments: len(s.records),
		Dimensions:     s.capability.Dimensions,
		Capability:     s.capability,
		IndexedFiles:   slices.Clone(s.indexedFiles),
		IndexedAt:      s.indexedAt,
	}
}

// Records returns a copy of every record in insertion order.
func (s *Store) Records() []Record {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return appendClones(make([]Record, 0, len(s.records)), s.records)
}

// checkVectors verifies every record has exactly dim finite components.
func checkVectors(dim int, records []Record) error {
	for i := range records {
		if n := len(records[i].Vector); n != dim {
			return fmt.Errorf("%w: record %d (%q) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, records[i].ID, n, dim)
		}
		if j := nonFinite(records[i].Vector); j >= 0 {
			return fmt.Errorf("%w: record %d (%q) component %d", ErrNonFinite, i, records[i].ID, j)
		}
	}
	return nil
}

// nonFinite returns the index of the first NaN or infinite component of v,
// or -1.
func nonFinite(v []float32) int {
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return i
		}
	}
	return -1
}

// appendClones appends deep copies of src to dst.
func appendClones(dst, src []Record) []Record {
	for _, r := range src {
		dst = append(dst, r.clone())
	}
	return dst
}
