package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/54b3r/ragctx-go/internal/errkind"
)

var testCap = Capability{Provider: "hash", Model: "test", Dimensions: 3}

// rec builds a record with the given id and vector.
func rec(id string, v ...float32) Record {
	return Record{
		ID:          id,
		Vector:      v,
		Text:        "text " + id,
		Source:      "a.txt",
		TotalChunks: 1,
		Metadata:    map[string]string{"id": id},
	}
}

func sampleRecords() []Record {
	return []Record{
		rec("r0", 0, 0, 0),
		rec("r1", 1, 0, 0),
		rec("r2", 0, 2, 0),
		rec("r3", 0, 0, 3),
		rec("r4", 1, 1, 1),
	}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.Record.ID
	}
	return ids
}

func Test_Index_CreateRejectsEmpty(t *testing.T) {
	t.Parallel()
	_, err := Create(testCap, nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("want ErrEmptyInput, got %v", err)
	}
	if errkind.Of(err) != errkind.Input {
		t.Errorf("kind = %q, want input", errkind.Of(err))
	}
}

func Test_Index_ExactVectorRanksFirstAtZero(t *testing.T) {
	t.Parallel()
	s, err := Create(testCap, sampleRecords())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, r := range sampleRecords() {
		hits, err := s.Search(r.Vector, 3, nil)
		if err != nil {
			t.Fatalf("search %s: %v", r.ID, err)
		}
		if len(hits) == 0 || hits[0].Record.ID != r.ID {
			t.Errorf("query %s: first hit = %v", r.ID, hitIDs(hits))
			continue
		}
		if hits[0].Distance != 0 {
			t.Errorf("query %s: distance = %v, want 0", r.ID, hits[0].Distance)
		}
	}
}

func Test_Index_SearchOrderingAndK(t *testing.T) {
	t.Parallel()
	s, err := Create(testCap, sampleRecords())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	hits, err := s.Search([]float32{0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Distances from origin: r0=0 r1=1 r4=3 r2=4 r3=9.
	want := []string{"r0", "r1", "r4", "r2", "r3"}
	if got := hitIDs(hits); !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("distances not ascending at %d: %v", i, hits)
		}
	}

	top2, _ := s.Search([]float32{0, 0, 0}, 2, nil)
	if len(top2) != 2 {
		t.Errorf("k=2 returned %d hits", len(top2))
	}
}

func Test_Index_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	s, err := Create(testCap, []Record{
		rec("first", 1, 0, 0),
		rec("second", 0, 1, 0),
		rec("third", 0, 0, 1),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	hits, err := s.Search([]float32{0, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []string{"first", "second", "third"}
	if got := hitIDs(hits); !reflect.DeepEqual(got, want) {
		t.Errorf("tie order = %v, want %v", got, want)
	}
}

func Test_Index_ThresholdFilters(t *testing.T) {
	t.Parallel()
	s, err := Create(testCap, sampleRecords())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	limit := float32(1)
	hits, err := s.Search([]float32{0, 0, 0}, 5, &limit)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := hitIDs(hits); !reflect.DeepEqual(got, []string{"r0", "r1"}) {
		t.Errorf("threshold 1 returned %v", got)
	}

	none := float32(-1)
	hits, err = s.Search([]float32{0, 0, 0}, 5, &none)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("negative threshold must return no hits, got %v", hitIDs(hits))
	}
}

func Test_Index_SearchErrors(t *testing.T) {
	t.Parallel()
	var nilStore *Store
	if _, err := nilStore.Search([]float32{1, 2, 3}, 1, nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil store: want ErrNotInitialized, got %v", err)
	}

	s, _ := Create(testCap, sampleRecords())
	if _, err := s.Search([]float32{1, 2}, 1, nil); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short query: want ErrDimensionMismatch, got %v", err)
	}
	if _, err := s.Search([]float32{1, 2, 3}, 0, nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("k=0: want ErrEmptyInput, got %v", err)
	}
}

func Test_Index_AddDimensionMismatchLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	s, err := Create(testCap, sampleRecords())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := s.Len()

	// Second record is short: the whole batch must be refused.
	err = s.Add(testCap, []Record{rec("ok", 1, 1, 1), rec("bad", 1, 1)})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if errkind.Of(err) != errkind.DimensionMismatch {
		t.Errorf("kind = %q", errkind.Of(err))
	}
	if s.Len() != before {
		t.Errorf("record count changed from %d to %d", before, s.Len())
	}

	wider := Capability{Provider: "hash", Model: "test", Dimensions: 4}
	if err := s.Add(wider, []Record{rec("w", 1, 1, 1, 1)}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("wider capability: want ErrDimensionMismatch, got %v", err)
	}
	if s.Len() != before {
		t.Errorf("record count changed after capability refusal")
	}
}

func Test_Index_AddRefusesOtherProvider(t *testing.T) {
	t.Parallel()
	s, _ := Create(testCap, sampleRecords())
	other := Capability{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 3}

	err := s.Add(other, []Record{rec("x", 1, 2, 3)})
	if !errors.Is(err, ErrCapabilityMismatch) {
		t.Fatalf("want ErrCapabilityMismatch, got %v", err)
	}
	if s.Len() != len(sampleRecords()) {
		t.Errorf("store must be unchanged")
	}
}

func Test_Index_AddOrCreate(t *testing.T) {
	t.Parallel()
	s, err := AddOrCreate(nil, testCap, []Record{rec("a", 1, 2, 3)})
	if err != nil {
		t.Fatalf("create path: %v", err)
	}
	s2, err := AddOrCreate(s, testCap, []Record{rec("b", 3, 2, 1)})
	if err != nil {
		t.Fatalf("add path: %v", err)
	}
	if s2 != s || s.Len() != 2 {
		t.Errorf("expected same store with 2 records, got len %d", s.Len())
	}
	if st := s.Stats(); !st.Initialized || st.TotalDocuments != 2 || st.Capability.Dimensions != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st := (*Store)(nil).Stats(); st.Initialized {
		t.Errorf("nil store must report not initialized")
	}
}

func Test_Index_SearchResultsDoNotAliasStore(t *testing.T) {
	t.Parallel()
	s, _ := Create(testCap, sampleRecords())
	hits, _ := s.Search([]float32{0, 0, 0}, 1, nil)
	hits[0].Record.Vector[0] = 42
	hits[0].Record.Metadata["id"] = "mutated"

	again, _ := s.Search([]float32{0, 0, 0}, 1, nil)
	if again[0].Record.Vector[0] != 0 || again[0].Record.Metadata["id"] != "r0" {
		t.Errorf("store state leaked through search results: %+v", again[0].Record)
	}
}

func Test_Index_PersistLoadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested", "index")

	records := sampleRecords()
	// Values that would not survive a decimal text round trip.
	records = append(records, rec("odd", math.SmallestNonzeroFloat32, -0.1, float32(math.Pi)))
	s, err := Create(testCap, records)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Persist(dir, []string{"a.txt", "b.txt"}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if s.Dimensions() != 3 || (*Store)(nil).Dimensions() != 0 {
		t.Errorf("Dimensions = %d", s.Dimensions())
	}
	if !Exists(dir) {
		t.Fatalf("Exists must report the persisted index")
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Capability() != s.Capability() {
		t.Errorf("capability = %v, want %v", loaded.Capability(), s.Capability())
	}
	if !reflect.DeepEqual(loaded.Records(), s.Records()) {
		t.Errorf("records differ after round trip")
	}
	st := loaded.Stats()
	if !reflect.DeepEqual(st.IndexedFiles, []string{"a.txt", "b.txt"}) || st.IndexedAt.IsZero() || st.Dimensions != 3 {
		t.Errorf("unexpected loaded stats %+v", st)
	}

	queries := [][]float32{{0, 0, 0}, {1, 1, 1}, {-3, 0.5, 2}, {0.1, 0.2, 0.3}}
	for _, q := range queries {
		want, err := s.Search(q, 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := loaded.Search(q, 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("query %v: results differ after load\n got  %v\n want %v", q, got, want)
		}
	}
}

func Test_Index_PersistReplacesGeneration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := Create(testCap, sampleRecords())

	for i := range 3 {
		if err := s.Add(testCap, []Record{rec(fmt.Sprintf("extra%d", i), 1, 2, 3)}); err != nil {
			t.Fatal(err)
		}
		if err := s.Persist(dir, []string{"a.txt"}); err != nil {
			t.Fatalf("persist %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	gens := 0
	for _, e := range entries {
		if _, ok := parseGeneration(e.Name()); ok {
			gens++
		}
	}
	if gens != 1 {
		t.Errorf("expected one live generation, found %d", gens)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != s.Len() {
		t.Errorf("loaded %d records, want %d", loaded.Len(), s.Len())
	}
}

func Test_Index_LoadMissing(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, ErrIndexNotFound) {
		t.Fatalf("want ErrIndexNotFound, got %v", err)
	}
	if errkind.Of(err) != errkind.NotFound {
		t.Errorf("kind = %q, want not_found", errkind.Of(err))
	}
}

func Test_Index_LoadIgnoresUncommittedGeneration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A generation directory without CURRENT simulates a crash before the
	// pointer swap.
	if err := os.MkdirAll(filepath.Join(dir, "gen-00000001"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("want ErrIndexNotFound, got %v", err)
	}
	if Exists(dir) {
		t.Errorf("uncommitted generation must not count as an index")
	}
}

func Test_Index_LoadDetectsCorruption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, _ := Create(testCap, sampleRecords())
	if err := s.Persist(dir, nil); err != nil {
		t.Fatal(err)
	}
	gen, err := currentGeneration(dir)
	if err != nil {
		t.Fatal(err)
	}
	vec := filepath.Join(dir, gen, geometryFile)
	raw, _ := os.ReadFile(vec)
	if err := os.WriteFile(vec, raw[:len(raw)-4], 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Load(dir)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("want ErrCorrupt, got %v", err)
	}
	if errkind.Of(err) != errkind.Storage {
		t.Errorf("kind = %q, want storage", errkind.Of(err))
	}
}

func Test_Index_LoadRejectsImplausibleHeader(t *testing.T) {
	t.Parallel()
	cases := map[string]struct{ dim, count uint32 }{
		"huge dimensions":  {dim: math.MaxUint32, count: 5},
		"huge count":       {dim: 3, count: math.MaxUint32},
		"count off by one": {dim: 3, count: 4},
		"other dimensions": {dim: 4, count: 5},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			s, _ := Create(testCap, sampleRecords())
			if err := s.Persist(dir, nil); err != nil {
				t.Fatal(err)
			}
			gen, err := currentGeneration(dir)
			if err != nil {
				t.Fatal(err)
			}
			vec := filepath.Join(dir, gen, geometryFile)
			raw, err := os.ReadFile(vec)
			if err != nil {
				t.Fatal(err)
			}
			// dimensions at offset 8, record count at offset 12
			binary.LittleEndian.PutUint32(raw[8:], tc.dim)
			binary.LittleEndian.PutUint32(raw[12:], tc.count)
			if err := os.WriteFile(vec, raw, 0o644); err != nil {
				t.Fatal(err)
			}

			if _, err := Load(dir); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("want ErrCorrupt, got %v", err)
			}
		})
	}
}

func Test_Index_RejectsNonFiniteVectors(t *testing.T) {
	t.Parallel()
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	s, _ := Create(testCap, sampleRecords())
	for _, q := range [][]float32{{nan, 0, 0}, {0, inf, 0}, {0, 0, -inf}} {
		_, err := s.Search(q, 3, nil)
		if !errors.Is(err, ErrNonFinite) || errkind.Of(err) != errkind.Input {
			t.Errorf("Search(%v) = %v, want ErrNonFinite", q, err)
		}
	}

	if err := s.Add(testCap, []Record{rec("bad", 1, nan, 0)}); !errors.Is(err, ErrNonFinite) {
		t.Errorf("Add = %v, want ErrNonFinite", err)
	}
	if s.Len() != 5 {
		t.Errorf("Len = %d after rejected add", s.Len())
	}
	if _, err := Create(testCap, []Record{rec("bad", inf, 0, 0)}); !errors.Is(err, ErrNonFinite) {
		t.Errorf("Create = %v, want ErrNonFinite", err)
	}
}

func Test_Index_Remove(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "index")
	s, _ := Create(testCap, sampleRecords())
	if err := s.Persist(dir, nil); err != nil {
		t.Fatal(err)
	}
	if err := Remove(dir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if Exists(dir) {
		t.Errorf("index still exists after Remove")
	}
	if err := Remove(dir); err != nil {
		t.Errorf("removing an absent index must succeed, got %v", err)
	}
}

func Test_Index_PersistNilStore(t *testing.T) {
	t.Parallel()
	var s *Store
	if err := s.Persist(t.TempDir(), nil); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("want ErrNotInitialized, got %v", err)
	}
}
