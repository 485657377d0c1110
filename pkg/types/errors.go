package types

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// ErrValidation marks malformed input or configuration. Returned at
	// submission; the job is never created.
	ErrValidation = errors.New("validation error")

	// ErrRetrieval marks a failure of the embedding provider or another
	// retrieval collaborator. Fails the job; never retried internally.
	ErrRetrieval = errors.New("retrieval error")

	// ErrIndexBuild marks a failure building the vector or lexical index.
	ErrIndexBuild = errors.New("index build error")

	// ErrCancelled is returned by pipeline steps that observed the
	// cancellation flag. The job ends as cancelled, not failed.
	ErrCancelled = errors.New("job cancelled")

	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

// DimensionMismatchError is returned when a vector does not match the
// dimension the index was configured with.
type DimensionMismatchError struct {
	Expected int
	Actual   int
	ChunkRef string
}

func (e *DimensionMismatchError) Error() string {
	if e.ChunkRef != "" {
		return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.ChunkRef, e.Expected, e.Actual)
	}
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrIndexBuild) match.
func (e *DimensionMismatchError) Unwrap() error {
	return ErrIndexBuild
}
