package engine

import (
	"errors"
	"fmt"

	"github.com/lazypower/secondbrain/internal/store"
)

var (
	ErrNotFound         = store.ErrNotFound
	ErrInvalidFilterKey = store.ErrInvalidFilterKey

	// ErrProviderUnavailable means the embedding provider could not be
	// reached or is overloaded; the call may succeed later.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrInvalidInput means the request itself was rejected.
	ErrInvalidInput = errors.New("invalid input")

	ErrNoEmbedder       = errors.New("no embedder configured")
	ErrMergeConflict    = errors.New("merge conflict")
	ErrInvalidDecayMode = errors.New("invalid decay mode")
)

// MergeConflictError reports a merge transaction that failed and was rolled
// back. It matches ErrMergeConflict.
type MergeConflictError struct {
	KeepID   string
	RemoveID string
	Err      error
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge %s <- %s: %v", e.KeepID, e.RemoveID, e.Err)
}

func (e *MergeConflictError) Unwrap() error { return e.Err }

func (e *MergeConflictError) Is(target error) bool { return target == ErrMergeConflict }
