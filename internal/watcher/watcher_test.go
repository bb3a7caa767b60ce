package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type result struct {
	path string
	err  error
}

func startWatcher(t *testing.T, root string, recursive bool) <-chan result {
	t.Helper()
	results := make(chan result, 16)
	w, err := New(Config{
		Root:      root,
		Recursive: recursive,
		Debounce:  30 * time.Millisecond,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnResult:  func(path string, err error) { results <- result{path, err} },
	}, func(context.Context, string) error { return nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return results
}

func waitFor(t *testing.T, results <-chan result) result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for index call")
		return result{}
	}
}

func Test_Watcher_IndexesSupportedFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	results := startWatcher(t, root, false)

	// Unsupported and hidden files are ignored.
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), []byte("binary"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".notes.txt"), []byte("hidden"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(target, []byte("first version of the notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := waitFor(t, results)
	if r.path != target {
		t.Errorf("indexed %q, want %q", r.path, target)
	}
	if r.err != nil {
		t.Errorf("unexpected error: %v", r.err)
	}
}

func Test_Watcher_RecursiveFollowsNewDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	results := startWatcher(t, root, true)

	sub := filepath.Join(root, "guides")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the event loop time to register the new directory.
	time.Sleep(200 * time.Millisecond)

	target := filepath.Join(sub, "setup.md")
	if err := os.WriteFile(target, []byte("# Setup\n\nInstall the thing."), 0o644); err != nil {
		t.Fatal(err)
	}
	r := waitFor(t, results)
	if r.path != target {
		t.Errorf("indexed %q, want %q", r.path, target)
	}
}

func Test_Watcher_NewValidates(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, string) error { return nil }

	if _, err := New(Config{Root: t.TempDir()}, nil); err == nil {
		t.Error("expected error for nil index func")
	}
	if _, err := New(Config{Root: filepath.Join(t.TempDir(), "missing")}, noop); err == nil {
		t.Error("expected error for missing root")
	}
	file := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Root: file}, noop); err == nil {
		t.Error("expected error for a file root")
	}
}

func Test_Watcher_Watched(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"/d/a.txt":      true,
		"/d/A.PDF":      true,
		"/d/sheet.xlsx": true,
		"/d/a.go":       false,
		"/d/.a.md":      false,
		"/d/a.md~":      false,
	}
	for path, want := range cases {
		if got := watched(path); got != want {
			t.Errorf("watched(%q) = %v, want %v", path, got, want)
		}
	}
}
