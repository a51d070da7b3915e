/*
errors.go - Centralized error types for the cashback engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps these to status codes via the classification helpers.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any state change
  2. Conflict errors   - business-rule violations, retry is pointless
  3. Concurrency errors - transient, safe to retry (idempotency keys
     make retried transitions and redemptions harmless)
  4. Integrity errors  - journal/projection mismatch, writes frozen

USAGE:
    if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

SEE ALSO:
  - engine.go: Returns these from every operation
  - projection.go: ErrNegativeBalance, ErrIntegrity
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive purchase or movement amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPercentage is returned when a split percentage is negative,
	// exceeds 100, or client% + admin% > 100.
	ErrInvalidPercentage = errors.New("invalid percentage")

	// ErrInvalidMovementKind is returned when a movement carries a kind
	// outside credit/use/reversal/adjustment.
	ErrInvalidMovementKind = errors.New("invalid movement kind")

	// ErrInvalidTransition is returned for a status change not in the
	// transition table. The transaction is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNegativeBalance is returned when a use movement would drive a
	// pair's available amount below zero.
	ErrNegativeBalance = errors.New("movement would drive balance negative")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// available amount at the pair.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrWrongStore is returned when a redemption addresses a store other
	// than the one where the balance was earned.
	ErrWrongStore = errors.New("balance not spendable at this store")

	// ErrWrongWalletProgram is returned when an operation addresses a ledger
	// namespace the client is not routed to.
	ErrWrongWalletProgram = errors.New("wrong wallet program")

	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBusy is returned when the per-pair lock cannot be acquired within
	// the configured timeout. The identical call is safe to retry.
	ErrBusy = errors.New("pair busy: lock acquisition timed out")

	// ErrIntegrity is returned when the cached projection disagrees with a
	// journal replay. The pair is frozen for manual reconciliation.
	ErrIntegrity = errors.New("journal/projection mismatch")

	// ErrPairFrozen is returned for writes against a pair flagged by an
	// integrity check.
	ErrPairFrozen = errors.New("pair frozen pending reconciliation")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrStoreNotFound is returned when a referenced store doesn't exist.
	ErrStoreNotFound = errors.New("store not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Pair      PairKey
	Available Money
	Requested Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance at %s/%s: available %s, requested %s",
		e.Pair.ClientID, e.Pair.StoreID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransitionError provides details about a rejected status transition.
type TransitionError struct {
	TransactionID TransactionID
	From          Status
	To            Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transaction %s: cannot transition %s -> %s", e.TransactionID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IntegrityError reports a projection that could not be reproduced from the
// journal. The affected pair must be reconciled by an operator.
type IntegrityError struct {
	Pair     PairKey
	Cached   Money
	Replayed Money
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity mismatch at %s/%s: cached available %s, journal replay %s",
		e.Pair.ClientID, e.Pair.StoreID, e.Cached, e.Replayed)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the identical call might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPercentage) ||
		errors.Is(err, ErrInvalidMovementKind) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsConflict returns true for business-rule violations that require a
// different request, not a retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrNegativeBalance) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrWrongStore) ||
		errors.Is(err, ErrWrongWalletProgram) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrPairFrozen)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrStoreNotFound)
}
