package errkind

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func Test_Errkind_Of(t *testing.T) {
	t.Parallel()

	wrappedInput := fmt.Errorf("index: empty input: %w", ErrInput)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"input sentinel", ErrInput, Input},
		{"wrapped input", fmt.Errorf("outer: %w", wrappedInput), Input},
		{"dimension", fmt.Errorf("x: %w", ErrDimensionMismatch), DimensionMismatch},
		{"not found", fmt.Errorf("x: %w", ErrNotFound), NotFound},
		{"conflict", fmt.Errorf("x: %w", ErrConflict), Conflict},
		{"not initialized", fmt.Errorf("x: %w", ErrNotInitialized), NotInitialized},
		{"storage", WrapStorage("persist", "/tmp/x", fs.ErrPermission), Storage},
		{"storage wins over not found", WrapStorage("load", "/tmp/x", fmt.Errorf("y: %w", ErrNotFound)), Storage},
		{"provider", WrapProvider("ollama", errors.New("connection refused")), Provider},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Of(tc.err); got != tc.want {
				t.Errorf("Of(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func Test_Errkind_StorageUnwrapsCause(t *testing.T) {
	t.Parallel()

	err := WrapStorage("delete", "/data/alpha", fs.ErrPermission)
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected underlying fs.ErrPermission to be reachable")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError")
	}
	if se.Op != "delete" || se.Path != "/data/alpha" {
		t.Errorf("unexpected fields: %+v", se)
	}
	if WrapStorage("x", "y", nil) != nil {
		t.Errorf("WrapStorage with nil err should return nil")
	}
}
