/*
errors.go - Centralized error types for the endowment engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The waqf package returns these sentinels (or structured errors that
  unwrap to them) so callers can branch with errors.Is().

ERROR CATEGORIES:
  1. Allocation errors - Percentages that do not add up, bad routing
  2. Lifecycle errors - Tranche actions invalid for the tranche's state
  3. Ledger errors - Post-condition invariants violated (never retried)
  4. Store errors - Stale aggregates, missing records

USAGE:
  out, err := engine.ResolveMaturity(e, trancheID, action, now)
  if errors.Is(err, generic.ErrNotYetMatured) {
      // tell the donor when the lock ends
  }

SEE ALSO:
  - waqf/reconciler.go: Produces LedgerInconsistencyError
  - waqf/service.go: Retries only IsRetryable errors
  - api/errors.go: Maps these errors to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAllocation is returned when percentages do not sum to 100.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrInvalidDuration is returned when a lock, rollover or schedule
	// duration is outside its allowed range.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrAlreadyResolved is returned when a maturity action targets a
	// tranche that already reached a terminal state.
	ErrAlreadyResolved = errors.New("tranche already resolved")

	// ErrNotYetMatured is returned when a maturity action targets a tranche
	// that is still locked.
	ErrNotYetMatured = errors.New("tranche not yet matured")

	// ErrScheduleClosed is returned when a consumable endowment cannot accept
	// further funds.
	ErrScheduleClosed = errors.New("schedule closed")

	// ErrLedgerInconsistency is returned when a post-condition invariant is
	// violated. It indicates a modeling bug and is never retried.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidAmount is returned for zero or negative money inputs.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput is returned for malformed commands that are not an
	// allocation, duration or amount problem.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType is returned when an operation does not apply to the
	// endowment's waqf type.
	ErrUnsupportedType = errors.New("operation not supported for waqf type")

	// ErrEarlyWithdrawalNotAllowed is returned when a locked tranche is
	// withdrawn from an endowment that does not permit it.
	ErrEarlyWithdrawalNotAllowed = errors.New("early withdrawal not allowed")

	// ErrEndowmentInactive is returned when a paused or inactive endowment
	// is asked to take a financial action.
	ErrEndowmentInactive = errors.New("endowment is not active")

	// ErrInstallmentNotFound is returned when a referenced installment doesn't exist.
	ErrInstallmentNotFound = errors.New("installment not found")

	// ErrEndowmentNotFound is returned when a referenced endowment doesn't exist.
	ErrEndowmentNotFound = errors.New("endowment not found")

	// ErrTrancheNotFound is returned when a referenced tranche doesn't exist.
	ErrTrancheNotFound = errors.New("tranche not found")

	// ErrCauseNotFound is returned when a referenced cause is not in the catalog.
	ErrCauseNotFound = errors.New("cause not found")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AllocationError names the cause whose percentages are wrong.
type AllocationError struct {
	CauseID string
	Sum     decimal.Decimal
	Message string
}

func (e *AllocationError) Error() string {
	if e.CauseID == "" {
		return fmt.Sprintf("invalid allocation: %s (total %s%%)", e.Message, e.Sum.StringFixed(2))
	}
	return fmt.Sprintf("invalid allocation for cause %s: %s (total %s%%)",
		e.CauseID, e.Message, e.Sum.StringFixed(2))
}

func (e *AllocationError) Unwrap() error {
	return ErrInvalidAllocation
}

// DurationError reports an out-of-range month count.
type DurationError struct {
	Field  string
	Months int
	Min    int
	Max    int
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("invalid duration: %s must be between %d and %d months, got %d",
		e.Field, e.Min, e.Max, e.Months)
}

func (e *DurationError) Unwrap() error {
	return ErrInvalidDuration
}

// NotYetMaturedError tells the caller when the tranche becomes actionable.
type NotYetMaturedError struct {
	TrancheID    string
	MaturityDate TimePoint
}

func (e *NotYetMaturedError) Error() string {
	return fmt.Sprintf("tranche %s not yet matured: matures at %s", e.TrancheID, e.MaturityDate)
}

func (e *NotYetMaturedError) Unwrap() error {
	return ErrNotYetMatured
}

// AlreadyResolvedError names the terminal state the tranche is in.
type AlreadyResolvedError struct {
	TrancheID string
	State     string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("tranche %s already resolved: %s", e.TrancheID, e.State)
}

func (e *AlreadyResolvedError) Unwrap() error {
	return ErrAlreadyResolved
}

// ScheduleClosedError explains why a consumable endowment stopped accepting funds.
type ScheduleClosedError struct {
	EntityID EntityID
	Reason   string
}

func (e *ScheduleClosedError) Error() string {
	return fmt.Sprintf("schedule closed for %s: %s", e.EntityID, e.Reason)
}

func (e *ScheduleClosedError) Unwrap() error {
	return ErrScheduleClosed
}

// LedgerInconsistencyError records which invariant broke and by how much.
type LedgerInconsistencyError struct {
	EntityID  EntityID
	Invariant string
	Expected  decimal.Decimal
	Actual    decimal.Decimal
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency on %s: %s (expected %s, got %s)",
		e.EntityID, e.Invariant, e.Expected.String(), e.Actual.String())
}

func (e *LedgerInconsistencyError) Unwrap() error {
	return ErrLedgerInconsistency
}

// ConcurrentModificationError carries the version the writer expected.
type ConcurrentModificationError struct {
	EntityID        EntityID
	ExpectedVersion int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of %s: expected version %d", e.EntityID, e.ExpectedVersion)
}

func (e *ConcurrentModificationError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Ledger inconsistencies are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAllocation) ||
		errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsConflict returns true if the request is valid but the resource's current
// state refuses it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyResolved) ||
		errors.Is(err, ErrNotYetMatured) ||
		errors.Is(err, ErrScheduleClosed) ||
		errors.Is(err, ErrEarlyWithdrawalNotAllowed) ||
		errors.Is(err, ErrEndowmentInactive) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEndowmentNotFound) ||
		errors.Is(err, ErrTrancheNotFound) ||
		errors.Is(err, ErrInstallmentNotFound) ||
		errors.Is(err, ErrCauseNotFound)
}
