// Package errkind classifies errors raised anywhere in ragctx into the small
// set of kinds callers act on. Package-level sentinels in index, contexts,
// ingestion and session wrap one of the kind sentinels below, so a single
// errors.Is check tells a caller whether a failure was its own input, a
// missing resource, a provider outage or a storage fault.
//
// Storage faults are reported distinctly because they mean the durable state
// may disagree with the metadata registry and deserves a re-check.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is the coarse category of an error.
type Kind string

const (
	// Unknown is returned for errors that carry no kind.
	Unknown Kind = "unknown"
	// Input marks requests rejected before any mutation.
	Input Kind = "input"
	// NotInitialized marks operations on an index that was never created or loaded.
	NotInitialized Kind = "not_initialized"
	// DimensionMismatch marks vector geometry or capability incompatibility.
	DimensionMismatch Kind = "dimension_mismatch"
	// NotFound marks a missing context, index artifact or file.
	NotFound Kind = "not_found"
	// Conflict marks a name that is already taken or protected.
	Conflict Kind = "conflict"
	// Provider marks a failed embedding or language model call.
	Provider Kind = "provider"
	// Storage marks a disk I/O failure during persist, load or delete.
	Storage Kind = "storage"
)

// Kind sentinels. Package sentinels wrap these with fmt.Errorf("...: %w").
var (
	ErrInput             = errors.New("invalid input")
	ErrNotInitialized    = errors.New("not initialized")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrProvider          = errors.New("provider error")
	ErrStorage           = errors.New("storage error")
)

// kindOrder is checked top to bottom; storage first so a storage fault that
// also wraps a not-found os error is still reported as storage.
var kindOrder = []struct {
	sentinel error
	kind     Kind
}{
	{ErrStorage, Storage},
	{ErrProvider, Provider},
	{ErrDimensionMismatch, DimensionMismatch},
	{ErrNotInitialized, NotInitialized},
	{ErrNotFound, NotFound},
	{ErrConflict, Conflict},
	{ErrInput, Input},
}

// Of returns the Kind of err, or Unknown when err carries none.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	for _, k := range kindOrder {
		if errors.Is(err, k.sentinel) {
			return k.kind
		}
	}
	return Unknown
}

// StorageError wraps a filesystem failure with the operation and path that
// produced it. errors.Is(err, ErrStorage) holds for every StorageError.
type StorageError struct {
	// Op is the logical operation (persist, load, delete, clear, rename, ...).
	Op string
	// Path is the file or directory involved.
	Path string
	// Err is the underlying error.
	Err error
}

// WrapStorage constructs a *StorageError. It returns nil when err is nil so it
// can wrap call results directly.
func WrapStorage(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the storage kind and the underlying cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// ProviderError wraps a failed call to an external embedding or chat provider.
type ProviderError struct {
	// Provider names the backend (ollama, openai, azure, hash, ...).
	Provider string
	// Err is the underlying error.
	Err error
}

// WrapProvider constructs a *ProviderError, returning nil for a nil err.
func WrapProvider(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap exposes both the provider kind and the underlying cause.
func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }
