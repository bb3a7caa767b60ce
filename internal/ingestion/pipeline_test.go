package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/ragctx-go/internal/contexts"
	"github.com/54b3r/ragctx-go/internal/embedder"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

// memResidency is a minimal single-slot Residency.
type memResidency struct {
	mu     sync.Mutex
	name   string
	store  *index.Store
	drops  int
	setsTo []string
}

func (m *memResidency) Resident(name string, c index.Capability) *index.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.name == name && m.store.Capability().Compatible(c) {
		return m.store
	}
	return nil
}

func (m *memResidency) SetResident(name string, s *index.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name, m.store = name, s
	m.setsTo = append(m.setsTo, name)
}

func (m *memResidency) DropResident(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.name == name {
		m.name, m.store = "", nil
	}
	m.drops++
}

// failingEmbedder always fails with a provider error.
type failingEmbedder struct{ *embedder.HashEmbedder }

func (f *failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errkind.WrapProvider("hash", errors.New("connection refused"))
}

// recordingMirror captures upserts.
type recordingMirror struct {
	mu    sync.Mutex
	count map[string]int
}

func (r *recordingMirror) Upsert(_ context.Context, name string, recs []index.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == nil {
		r.count = map[string]int{}
	}
	r.count[name] += len(recs)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, emb embedder.Embedder, cfg *Config) (*Pipeline, *contexts.Manager) {
	t.Helper()
	mgr, err := contexts.Open(t.TempDir(), contexts.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("contexts.Open: %v", err)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = discardLogger()
	p, err := NewPipeline(mgr, emb, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, mgr
}

// chunksOf builds n chunks of distinct text for file.
func chunksOf(file string, n int) []Chunk {
	out := make([]Chunk, n)
	for i := range out {
		out[i] = Chunk{
			Text:     fmt.Sprintf("%s chunk number %d about topic %d", file, i, i),
			Index:    i,
			Total:    n,
			Metadata: map[string]string{"chunk_index": fmt.Sprint(i)},
		}
	}
	return out
}

func Test_Ingestion_LifecycleScenario(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(64)
	p, mgr := newTestPipeline(t, emb, nil)
	res := &memResidency{}
	ctx := context.Background()

	if err := mgr.Create("alpha", ""); err != nil {
		t.Fatal(err)
	}
	r, err := p.IndexFile(ctx, res, chunksOf("a.txt", 3), "a.txt", "alpha")
	if err != nil {
		t.Fatalf("IndexFile a.txt: %v", err)
	}
	if !r.Created || r.TotalDocuments != 3 {
		t.Errorf("first result = %+v", r)
	}
	if _, err := p.IndexFile(ctx, res, chunksOf("b.txt", 2), "b.txt", "alpha"); err != nil {
		t.Fatalf("IndexFile b.txt: %v", err)
	}

	st, err := mgr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	var alpha contexts.ContextStats
	for _, c := range st.Contexts {
		if c.Name == "alpha" {
			alpha = c
		}
	}
	if alpha.TotalDocuments != 5 || alpha.TotalFiles != 2 {
		t.Fatalf("alpha stats = %+v, want 5 documents and 2 files", alpha)
	}

	store := res.Resident("alpha", emb.Capability())
	q, _ := emb.EmbedQuery(ctx, "a.txt chunk number 1 about topic 1")
	hits, err := store.Search(q, 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) > 5 {
		t.Errorf("got %d hits, want at most 5", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Distance < hits[i-1].Distance {
			t.Errorf("hits not ascending at %d", i)
		}
	}

	// The persisted index and the registry agree.
	loaded, err := index.Load(mgr.IndexDir("alpha"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	meta, _ := mgr.Metadata("alpha")
	if loaded.Len() != meta.TotalDocuments || !slices.Equal(loaded.Stats().IndexedFiles, meta.IndexedFiles) {
		t.Errorf("index (%d, %v) and metadata (%d, %v) diverge",
			loaded.Len(), loaded.Stats().IndexedFiles, meta.TotalDocuments, meta.IndexedFiles)
	}

	if err := mgr.ClearIndex("alpha"); err != nil {
		t.Fatal(err)
	}
	meta, _ = mgr.Metadata("alpha")
	if meta.TotalDocuments != 0 || len(meta.IndexedFiles) != 0 {
		t.Errorf("after clear = %+v", meta)
	}
	if err := mgr.Delete("alpha"); err != nil {
		t.Fatal(err)
	}
	names, _ := mgr.List()
	if slices.Contains(names, "alpha") {
		t.Error("alpha listed after delete")
	}
}

func Test_Ingestion_ReindexSameFileAppends(t *testing.T) {
	t.Parallel()
	emb := embedder.NewHashEmbedder(32)
	p, mgr := newTestPipeline(t, emb, nil)
	res := &memResidency{}
	ctx := context.Background()

	for range 2 {
		if _, err := p.IndexFile(ctx, res, chunksOf("a.txt", 3), "a.txt", contexts.DefaultContext); err != nil {
			t.Fatalf("IndexFile: %v", err)
		}
	}
	meta, err := mgr.Metadata(contexts.DefaultContext)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(meta.IndexedFiles, []string{"a.txt"}) {
		t.Errorf("IndexedFiles = %v, want [a.txt]", meta.IndexedFiles)
	}
	if meta.TotalDocuments != 6 {
		t.Errorf("TotalDocuments = %d, want 6", meta.TotalDocuments)
	}
}

func Test_Ingestion_RejectsBeforeMutation(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	res := &memResidency{}
	ctx := context.Background()

	tests := []struct {
		name    string
		chunks  []Chunk
		file    string
		context string
		want    error
	}{
		{name: "no chunks", chunks: nil, file: "a.txt", context: "default", want: ErrEmptyInput},
		{name: "too little text", chunks: []Chunk{{Text: "  tiny  "}}, file: "a.txt", context: "default", want: ErrNoContent},
		{name: "bad context name", chunks: chunksOf("a.txt", 1), file: "a.txt", context: "no/slashes", want: contexts.ErrInvalidName},
		{name: "missing context", chunks: chunksOf("a.txt", 1), file: "a.txt", context: "ghost", want: contexts.ErrNotFound},
	}
	for _, tt := range tests {
		_, err := p.IndexFile(ctx, res, tt.chunks, tt.file, tt.context)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: want %v, got %v", tt.name, tt.want, err)
		}
	}
	if mgr.HasIndex(contexts.DefaultContext) {
		t.Error("rejected input created an index")
	}
}

func Test_Ingestion_ProviderFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	good := embedder.NewHashEmbedder(16)
	p, mgr := newTestPipeline(t, good, nil)
	ctx := context.Background()
	if _, err := p.IndexFile(ctx, &memResidency{}, chunksOf("a.txt", 2), "a.txt", "default"); err != nil {
		t.Fatal(err)
	}
	before, _ := mgr.Metadata("default")

	bad, err := NewPipeline(mgr, &failingEmbedder{embedder.NewHashEmbedder(16)}, &Config{Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = bad.IndexFile(ctx, &memResidency{}, chunksOf("b.txt", 2), "b.txt", "default")
	if errkind.Of(err) != errkind.Provider {
		t.Fatalf("kind = %q, want provider (err=%v)", errkind.Of(err), err)
	}
	after, _ := mgr.Metadata("default")
	if after.TotalDocuments != before.TotalDocuments || !slices.Equal(after.IndexedFiles, before.IndexedFiles) {
		t.Errorf("metadata changed: %+v -> %+v", before, after)
	}
	loaded, _ := index.Load(mgr.IndexDir("default"))
	if loaded.Len() != 2 {
		t.Errorf("persisted documents = %d, want 2", loaded.Len())
	}
}

func Test_Ingestion_PersistFailureDropsResident(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	res := &memResidency{}
	ctx := context.Background()
	if _, err := p.IndexFile(ctx, res, chunksOf("a.txt", 2), "a.txt", "default"); err != nil {
		t.Fatal(err)
	}
	before, _ := mgr.Metadata("default")

	// A regular file where the index directory belongs makes every write fail.
	dir := mgr.IndexDir("default")
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir, []byte("not a directory"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := p.IndexFile(ctx, res, chunksOf("b.txt", 3), "b.txt", "default")
	if errkind.Of(err) != errkind.Storage {
		t.Fatalf("kind = %q, want storage (err=%v)", errkind.Of(err), err)
	}
	res.mu.Lock()
	drops, resident := res.drops, res.store
	res.mu.Unlock()
	if drops != 1 || resident != nil {
		t.Errorf("drops = %d, resident = %v; want the extended index discarded", drops, resident != nil)
	}
	after, _ := mgr.Metadata("default")
	if after.TotalDocuments != before.TotalDocuments || !slices.Equal(after.IndexedFiles, before.IndexedFiles) {
		t.Errorf("metadata changed: %+v -> %+v", before, after)
	}
}

func Test_Ingestion_ConcurrentFilesIntoOneContext(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	res := &memResidency{}
	ctx := context.Background()

	const files, perFile = 8, 3
	var wg sync.WaitGroup
	errs := make(chan error, files)
	for i := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("doc-%d.txt", i)
			if _, err := p.IndexFile(ctx, res, chunksOf(name, perFile), name, "default"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("IndexFile: %v", err)
	}

	meta, err := mgr.Metadata("default")
	if err != nil {
		t.Fatal(err)
	}
	if meta.TotalDocuments != files*perFile || len(meta.IndexedFiles) != files {
		t.Errorf("metadata = %d documents, %d files; want %d, %d",
			meta.TotalDocuments, len(meta.IndexedFiles), files*perFile, files)
	}
	loaded, err := index.Load(mgr.IndexDir("default"))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != files*perFile {
		t.Errorf("persisted documents = %d, want %d", loaded.Len(), files*perFile)
	}
}

func Test_Ingestion_DeleteWinningTheLockIsNotUndone(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	if err := mgr.Create("alpha", "boiler manuals"); err != nil {
		t.Fatal(err)
	}

	unlock := mgr.Lock("alpha")
	done := make(chan error, 1)
	go func() {
		_, err := p.IndexFile(context.Background(), &memResidency{}, chunksOf("a.txt", 2), "a.txt", "alpha")
		done <- err
	}()
	// Remove the context the way Delete does while the lock is held.
	time.Sleep(20 * time.Millisecond)
	if err := os.RemoveAll(filepath.Dir(mgr.IndexDir("alpha"))); err != nil {
		t.Fatal(err)
	}
	unlock()

	if err := <-done; !errors.Is(err, contexts.ErrNotFound) {
		t.Fatalf("IndexFile after delete = %v, want ErrNotFound", err)
	}
	names, err := mgr.List()
	if err != nil {
		t.Fatal(err)
	}
	if slices.Contains(names, "alpha") || mgr.Exists("alpha") {
		t.Errorf("deleted context came back: %v", names)
	}
}

func Test_Ingestion_RefusesOtherGeometry(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	ctx := context.Background()
	if _, err := p.IndexFile(ctx, &memResidency{}, chunksOf("a.txt", 2), "a.txt", "default"); err != nil {
		t.Fatal(err)
	}

	other, err := NewPipeline(mgr, embedder.NewHashEmbedder(32), &Config{Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	_, err = other.IndexFile(ctx, &memResidency{}, chunksOf("b.txt", 2), "b.txt", "default")
	if !errors.Is(err, index.ErrCapabilityMismatch) {
		t.Fatalf("want ErrCapabilityMismatch, got %v", err)
	}
	meta, _ := mgr.Metadata("default")
	if meta.TotalDocuments != 2 {
		t.Errorf("TotalDocuments = %d, want 2", meta.TotalDocuments)
	}
}

func Test_Ingestion_RecoversMissingMetadata(t *testing.T) {
	t.Parallel()
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(16), nil)
	ctx := context.Background()
	if err := mgr.Create("beta", "kept"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.IndexFile(ctx, &memResidency{}, chunksOf("a.txt", 2), "a.txt", "beta"); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash after persist but before the metadata write.
	if err := os.Remove(filepath.Join(mgr.Root(), "beta", "metadata.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.IndexFile(ctx, &memResidency{}, chunksOf("b.txt", 1), "b.txt", "beta"); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	meta, err := mgr.Metadata("beta")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TotalDocuments != 3 || !slices.Equal(meta.IndexedFiles, []string{"a.txt", "b.txt"}) {
		t.Errorf("healed metadata = %+v", meta)
	}
}

func Test_Ingestion_IndexDirectoryIsolatesFailures(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	mirror := &recordingMirror{}
	p, mgr := newTestPipeline(t, embedder.NewHashEmbedder(32), &Config{Metrics: NewMetrics(reg), Mirror: mirror})
	res := &memResidency{}

	dir := t.TempDir()
	write := func(rel, body string) {
		t.Helper()
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.txt", "The boiler room is in the basement of building 169.")
	write("sub/notes.md", "# Notes\nElevator maintenance happens every second Tuesday.")
	write("empty.txt", "   ")
	write("broken.docx", "not a zip archive")
	write("ignored.bin", "binary")
	write(".hidden/secret.txt", "should never be indexed at all")

	var progressed []string
	report, err := p.IndexDirectory(context.Background(), res, dir, "default", DirOptions{
		Recursive: true,
		Progress:  func(file string, _ error) { progressed = append(progressed, file) },
	})
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if len(report.Indexed) != 2 || len(report.Failed) != 2 {
		t.Fatalf("indexed=%d failed=%d: %+v", len(report.Indexed), len(report.Failed), report.Failed)
	}
	for _, f := range report.Failed {
		if f.Kind != errkind.Input {
			t.Errorf("%s failed with kind %q", f.File, f.Kind)
		}
	}
	if len(progressed) != 4 {
		t.Errorf("progress calls = %v", progressed)
	}
	meta, _ := mgr.Metadata("default")
	if !slices.Equal(meta.IndexedFiles, []string{"a.txt", "notes.md"}) {
		t.Errorf("IndexedFiles = %v", meta.IndexedFiles)
	}
	if report.TotalFiles != 2 || report.TotalDocuments != meta.TotalDocuments {
		t.Errorf("report totals = %d files, %d docs", report.TotalFiles, report.TotalDocuments)
	}
	if mirror.count["default"] != meta.TotalDocuments {
		t.Errorf("mirror saw %d records, want %d", mirror.count["default"], meta.TotalDocuments)
	}
	if got := testutil.ToFloat64(p.metrics.filesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("files_total{ok} = %v, want 2", got)
	}
}

func Test_Ingestion_IndexDirectoryWithoutFiles(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, embedder.NewHashEmbedder(8), nil)
	_, err := p.IndexDirectory(context.Background(), &memResidency{}, t.TempDir(), "default", DirOptions{})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("want ErrEmptyInput, got %v", err)
	}
	_, err = p.IndexDirectory(context.Background(), &memResidency{}, filepath.Join(t.TempDir(), "nope"), "default", DirOptions{})
	if errkind.Of(err) != errkind.NotFound {
		t.Errorf("missing dir kind = %q", errkind.Of(err))
	}
}
