package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or missing required input. The operation
	// is rejected synchronously and job state is left unchanged.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing batch, job, step, or sub-step.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an operation that is not legal in the current state,
	// e.g. advancing a cancelled job.
	ErrConflict = errors.New("conflict")

	// ErrConcurrency marks a duplicate in-flight operation on the same
	// (job, step) pair. Duplicates are rejected, never queued.
	ErrConcurrency = errors.New("operation already in flight")

	// ErrDependencyBlocked marks a sub-step transition that violates the
	// dependency graph.
	ErrDependencyBlocked = errors.New("dependency blocked")

	// ErrExternalService marks a failed registry, setup, or upload call.
	ErrExternalService = errors.New("external service error")
)

// DependencyBlockedError carries the sub-step key whose transition was
// rejected and the dependency keys still blocking it, for operator display.
type DependencyBlockedError struct {
	Key      string
	Blocking []string
}

func (e *DependencyBlockedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("sub-step %q is blocked by: %s", e.Key, strings.Join(e.Blocking, ", "))
}

func (e *DependencyBlockedError) Unwrap() error {
	return ErrDependencyBlocked
}
