// Package faults defines the shared error taxonomy for the ledger and
// credit engine. Business failures are returned as values wrapping one of
// these sentinels so callers can classify them with errors.Is.
package faults

import "errors"

var (
	// ErrInvalidParameters marks malformed input. Caller's fault, never retried.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrInvalidState marks an operation that is not legal in the entity's
	// current state, e.g. releasing a cancelled stream. Not retried.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a uniqueness violation, e.g. a duplicate active loan.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a funds-movement timeout or network failure.
	// Retried up to the configured attempt and wall-clock budget.
	ErrTransient = errors.New("transient failure")

	// ErrRejected marks a hard no from the verification verdict. Terminal.
	ErrRejected = errors.New("rejected by verification")
)

// Retryable reports whether the error is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
