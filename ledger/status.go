/*
status.go - Transaction lifecycle state machine

PURPOSE:
  The only code allowed to mutate a transaction's status. Transitions follow
  a closed table; anything else is rejected with ErrInvalidTransition and
  leaves state unchanged.

TRANSITION TABLE:
  pending         -> approved | canceled | payment_pending
  payment_pending -> approved | canceled
  approved        -> reversed
  canceled        -> (terminal)
  reversed        -> (terminal)

MOVEMENT EMISSION:
  *  -> approved: exactly one credit movement of the client share. Store and
     admin shares are settled outside the client-facing ledger.
  approved -> reversed: exactly one reversal movement, capped at the amount
     the client has not yet spent. A capped reversal is reported as partial;
     the balance is driven to zero, never below.

IDEMPOTENCY:
  Re-requesting the current status is a no-op that emits nothing. A retried
  transition whose movement already posted (credit/reversal keys are derived
  from the transaction id) completes the status write without a second
  movement. Scenario: approve times out after the credit posts, caller
  retries, exactly one credit exists afterwards.

SEE ALSO:
  - journal.go: Idempotency keys
  - projection.go: Atomic movement+balance posting
*/
package ledger

import (
	"context"
	"errors"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusApproved, StatusCanceled, StatusPaymentPending},
	StatusPaymentPending: {StatusApproved, StatusCanceled},
	StatusApproved:       {StatusReversed},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TransitionResult reports the outcome of a status change.
type TransitionResult struct {
	Transaction *Transaction
	Movements   []Movement
	// Partial is set when a reversal was capped at the unused remainder
	// because part of the credited amount had already been spent.
	Partial bool
}

// StateMachine applies status transitions and emits the movements they
// imply, atomically with the status write.
type StateMachine struct {
	Repo      TxRepository
	Projector *Projector
	Now       func() time.Time
}

func NewStateMachine(repo TxRepository) *StateMachine {
	return &StateMachine{
		Repo:      repo,
		Projector: NewProjector(repo),
		Now:       time.Now,
	}
}

// Transition moves a transaction to target. The caller holds the pair lock.
func (sm *StateMachine) Transition(ctx context.Context, tx *Transaction, target Status) (*TransitionResult, error) {
	if !target.Valid() {
		return nil, &TransitionError{TransactionID: tx.ID, From: tx.Status, To: target}
	}

	// Idempotent retry of a completed transition.
	if tx.Status == target {
		return &TransitionResult{Transaction: tx}, nil
	}

	if !CanTransition(tx.Status, target) {
		return nil, &TransitionError{TransactionID: tx.ID, From: tx.Status, To: target}
	}

	switch target {
	case StatusApproved:
		return sm.approve(ctx, tx)
	case StatusReversed:
		return sm.reverse(ctx, tx)
	default:
		// canceled / payment_pending: status-only, no ledger effect.
		return sm.setStatus(ctx, tx, target)
	}
}

func (sm *StateMachine) approve(ctx context.Context, tx *Transaction) (*TransitionResult, error) {
	now := sm.Now().UTC()
	pair := PairKey{Program: tx.Program, ClientID: tx.ClientID, StoreID: tx.StoreID}

	result := &TransitionResult{Transaction: tx}
	err := sm.Repo.WithTx(ctx, func(r Repository) error {
		if tx.Split.ClientValue.IsPositive() {
			m := Movement{
				ID:             NewMovementID(),
				Pair:           pair,
				Kind:           KindCredit,
				Amount:         tx.Split.ClientValue,
				TransactionID:  tx.ID,
				IdempotencyKey: CreditKey(tx.ID),
				Reason:         "cashback credit on approval",
				CreatedAt:      now,
			}
			_, err := sm.Projector.postIn(ctx, r, m)
			switch {
			case err == nil:
				result.Movements = append(result.Movements, m)
			case errors.Is(err, ErrDuplicateIdempotencyKey):
				// Credit already posted by an earlier attempt; finish the
				// status write without a second movement.
			default:
				return err
			}
		}

		tx.Status = StatusApproved
		tx.ApprovedAt = &now
		return r.SaveTransaction(ctx, *tx)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (sm *StateMachine) reverse(ctx context.Context, tx *Transaction) (*TransitionResult, error) {
	now := sm.Now().UTC()
	pair := PairKey{Program: tx.Program, ClientID: tx.ClientID, StoreID: tx.StoreID}

	result := &TransitionResult{Transaction: tx}
	err := sm.Repo.WithTx(ctx, func(r Repository) error {
		b, found, err := r.GetBalance(ctx, pair)
		if err != nil {
			return err
		}
		if !found {
			b = NewBalance(pair)
		}

		// Only the unspent portion of the credit is reversible.
		amount := tx.Split.ClientValue.Min(b.AvailableAmount)
		result.Partial = amount.LessThan(tx.Split.ClientValue)

		if amount.IsPositive() {
			m := Movement{
				ID:             NewMovementID(),
				Pair:           pair,
				Kind:           KindReversal,
				Amount:         amount,
				TransactionID:  tx.ID,
				IdempotencyKey: ReversalKey(tx.ID),
				Reason:         "cashback reversal",
				CreatedAt:      now,
			}
			_, err := sm.Projector.postIn(ctx, r, m)
			switch {
			case err == nil:
				result.Movements = append(result.Movements, m)
			case errors.Is(err, ErrDuplicateIdempotencyKey):
				// Reversal already posted by an earlier attempt.
			default:
				return err
			}
		}

		tx.Status = StatusReversed
		tx.ReversedAt = &now
		return r.SaveTransaction(ctx, *tx)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (sm *StateMachine) setStatus(ctx context.Context, tx *Transaction, target Status) (*TransitionResult, error) {
	tx.Status = target
	if err := sm.Repo.SaveTransaction(ctx, *tx); err != nil {
		return nil, err
	}
	return &TransitionResult{Transaction: tx}, nil
}
