package contexts

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/index"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	m, err := Open(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return m
}

// persistIndex writes a tiny index for name, as the pipeline would.
func persistIndex(t *testing.T, m *Manager, name string, files ...string) {
	t.Helper()
	capability := index.Capability{Provider: "hash", Model: "test", Dimensions: 2}
	s, err := index.Create(capability, []index.Record{
		{ID: "r0", Vector: []float32{0, 1}, Text: "a", Source: "a.txt", TotalChunks: 1},
		{ID: "r1", Vector: []float32{1, 0}, Text: "b", Source: "b.txt", TotalChunks: 1},
	})
	if err != nil {
		t.Fatalf("index.Create: %v", err)
	}
	if err := s.Persist(m.IndexDir(name), files); err != nil {
		t.Fatalf("Persist: %v", err)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ContextCleared(name string) { o.add("cleared:" + name) }
func (o *recordingObserver) ContextDeleted(name string) { o.add("deleted:" + name) }
func (o *recordingObserver) ContextRenamed(from, to string) {
	o.add("renamed:" + from + "->" + to)
}

func (o *recordingObserver) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func Test_Contexts_NormalizeName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "alpha", want: "alpha"},
		{in: "  My Project ", want: "my_project"},
		{in: "Team-Docs_2", want: "team-docs_2"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "../etc", wantErr: true},
		{in: "a/b", wantErr: true},
		{in: "dots.not.allowed", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeName(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("NormalizeName(%q): want ErrInvalidName, got %v", tt.in, err)
			}
			if errkind.Of(err) != errkind.Input {
				t.Errorf("NormalizeName(%q): kind = %q, want input", tt.in, errkind.Of(err))
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func Test_Contexts_OpenCreatesDefault(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	names, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(names, []string{DefaultContext}) {
		t.Fatalf("List = %v, want [default]", names)
	}
	meta, err := m.Metadata(DefaultContext)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TotalDocuments != 0 || len(meta.IndexedFiles) != 0 || meta.LastUpdated != nil {
		t.Errorf("default metadata not empty: %+v", meta)
	}
}

func Test_Contexts_LifecycleScenario(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	if err := m.Create("alpha", "test"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	persistIndex(t, m, "alpha", "a.txt", "b.txt")
	if _, err := m.UpdateMetadata("alpha", []string{"a.txt", "b.txt"}, 2); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	st, err := m.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalContexts != 2 || st.TotalDocuments != 2 || st.TotalFiles != 2 {
		t.Fatalf("Stats = %d contexts, %d docs, %d files; want 2, 2, 2",
			st.TotalContexts, st.TotalDocuments, st.TotalFiles)
	}

	if err := m.ClearIndex("alpha"); err != nil {
		t.Fatalf("ClearIndex: %v", err)
	}
	if m.HasIndex("alpha") {
		t.Error("index survived clear")
	}
	meta, err := m.Metadata("alpha")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TotalDocuments != 0 || len(meta.IndexedFiles) != 0 {
		t.Errorf("metadata after clear = %+v", meta)
	}
	if meta.Description != "test" || !meta.CreatedAt.Equal(fixedNow) {
		t.Errorf("clear dropped description or created_at: %+v", meta)
	}

	if err := m.Delete("alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	names, _ := m.List()
	if slices.Contains(names, "alpha") {
		t.Errorf("alpha still listed after delete: %v", names)
	}
}

func Test_Contexts_CreateTwiceConflicts(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if err := m.Create("beta", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := m.Create(" Beta ", "")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
	if errkind.Of(err) != errkind.Conflict {
		t.Errorf("kind = %q, want conflict", errkind.Of(err))
	}
}

func Test_Contexts_DefaultIsProtected(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if err := m.Delete(DefaultContext); !errors.Is(err, ErrProtected) {
		t.Errorf("Delete(default): want ErrProtected, got %v", err)
	}
	if err := m.Rename(DefaultContext, "other"); !errors.Is(err, ErrProtected) {
		t.Errorf("Rename(default): want ErrProtected, got %v", err)
	}
	if err := m.ClearIndex(DefaultContext); err != nil {
		t.Errorf("ClearIndex(default): %v", err)
	}
}

func Test_Contexts_MissingContextErrors(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	for name, err := range map[string]error{
		"delete": m.Delete("ghost"),
		"clear":  m.ClearIndex("ghost"),
		"rename": m.Rename("ghost", "spirit"),
	} {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: want ErrNotFound, got %v", name, err)
		}
	}
	if _, err := m.Metadata("ghost"); errkind.Of(err) != errkind.NotFound {
		t.Errorf("Metadata: kind = %q, want not_found", errkind.Of(err))
	}
}

func Test_Contexts_RenameMovesIndexAndMetadata(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	m := newTestManager(t, WithObserver(obs))

	if err := m.Create("old", "keep me"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	persistIndex(t, m, "old", "a.txt")
	if err := m.Rename("old", "new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if m.Exists("old") {
		t.Error("old still exists")
	}
	if !m.HasIndex("new") {
		t.Error("index did not move")
	}
	meta, err := m.Metadata("new")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Name != "new" || meta.Description != "keep me" {
		t.Errorf("metadata after rename = %+v", meta)
	}

	if err := m.Create("taken", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Rename("new", "taken"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("rename onto existing: want ErrAlreadyExists, got %v", err)
	}
	if !slices.Equal(obs.events, []string{"renamed:old->new"}) {
		t.Errorf("observer events = %v", obs.events)
	}
}

func Test_Contexts_UpdateMetadataDeduplicatesAndStamps(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if err := m.Create("docs", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	meta, err := m.UpdateMetadata("docs", []string{"a.txt", "b.txt", "a.txt"}, 7)
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if !slices.Equal(meta.IndexedFiles, []string{"a.txt", "b.txt"}) {
		t.Errorf("IndexedFiles = %v", meta.IndexedFiles)
	}
	if meta.TotalDocuments != 7 {
		t.Errorf("TotalDocuments = %d, want 7", meta.TotalDocuments)
	}
	if meta.LastUpdated == nil || !meta.LastUpdated.Equal(fixedNow) {
		t.Errorf("LastUpdated = %v", meta.LastUpdated)
	}
}

func Test_Contexts_IndexWithoutMetadataIsListed(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	persistIndex(t, m, "orphan", "a.txt")

	names, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Contains(names, "orphan") {
		t.Fatalf("orphan not listed: %v", names)
	}
	meta, err := m.UpdateMetadata("orphan", []string{"a.txt"}, 2)
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if meta.CreatedAt.IsZero() || meta.TotalDocuments != 2 {
		t.Errorf("recreated metadata = %+v", meta)
	}
}

func Test_Contexts_OpenRecoversInterruptedOperations(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	discard := WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	m, err := Open(root, discard)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Create("half", "d"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	persistIndex(t, m, "half", "a.txt")
	if _, err := m.UpdateMetadata("half", []string{"a.txt"}, 2); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	// Simulate a clear and a delete that crashed half way.
	if err := os.WriteFile(filepath.Join(root, "half", clearingMarker), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	trash := filepath.Join(root, trashPrefix+"gone-1234")
	if err := os.MkdirAll(filepath.Join(trash, "index"), 0o755); err != nil {
		t.Fatal(err)
	}
	stray := filepath.Join(root, "half", ".metadata.json.123.tmp")
	if err := os.WriteFile(stray, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	m2, err := Open(root, discard)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m2.HasIndex("half") {
		t.Error("interrupted clear was not finished")
	}
	meta, err := m2.Metadata("half")
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.TotalDocuments != 0 || meta.Description != "d" {
		t.Errorf("metadata after recovery = %+v", meta)
	}
	for _, p := range []string{trash, stray, filepath.Join(root, "half", clearingMarker)} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s survived recovery", p)
		}
	}
}

func Test_Contexts_ObserversSeeDeleteAndClear(t *testing.T) {
	t.Parallel()
	obs := &recordingObserver{}
	m := newTestManager(t, WithObserver(obs))
	if err := m.Create("tmp", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.ClearIndex("tmp"); err != nil {
		t.Fatalf("ClearIndex: %v", err)
	}
	if err := m.Delete("tmp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	want := []string{"cleared:tmp", "deleted:tmp"}
	if !slices.Equal(obs.events, want) {
		t.Errorf("events = %v, want %v", obs.events, want)
	}
}

func Test_Contexts_ConcurrentCreatesOneWins(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Create("race", "")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyExists):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok=%d conflicts=%d, want 1 and %d", ok, conflicts, n-1)
	}
}
