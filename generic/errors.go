/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All storage-level error types in one place. Stores return these; the
  studio package translates them into user-facing error codes.

ERROR CATEGORIES:
  1. Journal errors - Transaction persistence failures
  2. Concurrency errors - Lost updates detected by version checks
  3. Lookup errors - Missing rows

SEE ALSO:
  - studio/errors.go: Closed ErrorCode enum built on top of these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionFailed is returned when a transaction cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConcurrentModification is returned when an optimistic version check
	// finds the row changed since it was read.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting a row whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrCurrencyMismatch is returned when adding amounts in different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// VersionConflictError names the row that lost an optimistic update.
type VersionConflictError struct {
	Kind     string
	ID       string
	Expected int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s: expected version %d", e.Kind, e.ID, e.Expected)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// NotFoundError names the missing row.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate returns true for idempotency or primary-key collisions.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrAlreadyExists)
}
