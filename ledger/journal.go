/*
journal.go - Append-only movement journal

PURPOSE:
  The journal is the immutable source of truth for every balance change.
  Every credit, use, reversal and manual adjustment is recorded here; the
  cached balance projection is always re-derivable by replaying it.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, movements cannot be modified
  3. IDEMPOTENT: Same idempotency key = same movement (no duplicates)
  4. ORDERED: Per-pair sequence numbers define replay order

IDEMPOTENCY KEYS:
  Credits and reversals derive their key from the transaction:
      <transactionID>:credit   <transactionID>:reversal
  so a status transition retried after a transient failure can never post
  the same movement twice. Redemptions and adjustments carry their own
  generated key.

CORRECTIONS:
  A mistake is never edited away. A compensating movement is appended and
  both remain in the journal; the net effect is the correction, the history
  is preserved.

SEE ALSO:
  - store.go: Low-level persistence interface
  - projection.go: Balance projection replaying this journal
*/
package ledger

import (
	"context"
	"fmt"
)

// CreditKey and ReversalKey derive the idempotency key that makes status
// transitions safe to retry.
func CreditKey(id TransactionID) string   { return fmt.Sprintf("%s:credit", id) }
func ReversalKey(id TransactionID) string { return fmt.Sprintf("%s:reversal", id) }

// =============================================================================
// JOURNAL
// =============================================================================

// Journal appends and reads movements for (client, store) pairs.
type Journal struct {
	Repo Repository
}

func NewJournal(repo Repository) *Journal {
	return &Journal{Repo: repo}
}

// Append validates and posts a movement. The amount must be positive, the
// kind valid, and the idempotency key unposted.
func (j *Journal) Append(ctx context.Context, m Movement) error {
	if !m.Amount.IsPositive() {
		return fmt.Errorf("movement amount %s: %w", m.Amount, ErrInvalidAmount)
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("movement kind %q: %w", m.Kind, ErrInvalidMovementKind)
	}
	if m.IdempotencyKey != "" {
		exists, err := j.Repo.MovementExists(ctx, m.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return j.Repo.AppendMovement(ctx, m)
}

// Movements returns the full journal for a pair, oldest first.
func (j *Journal) Movements(ctx context.Context, pair PairKey) ([]Movement, error) {
	return j.Repo.LoadMovements(ctx, pair)
}

// History returns a lazy, restartable cursor over a pair's movements,
// oldest first. Used for auditing and balance reconstruction.
func (j *Journal) History(pair PairKey) *HistoryCursor {
	return &HistoryCursor{repo: j.Repo, pair: pair, pageSize: defaultHistoryPage}
}

// =============================================================================
// HISTORY CURSOR - Lazy, restartable chronological reads
// =============================================================================

const defaultHistoryPage = 100

// HistoryCursor pages through a pair's journal in sequence order. The cursor
// only remembers the last sequence number it served, so it survives process
// restarts: create a new cursor and Seek to the saved position.
type HistoryCursor struct {
	repo     MovementRepository
	pair     PairKey
	afterSeq int64
	pageSize int
}

// Seek positions the cursor after the given sequence number.
func (c *HistoryCursor) Seek(afterSeq int64) *HistoryCursor {
	c.afterSeq = afterSeq
	return c
}

// WithPageSize overrides the batch size.
func (c *HistoryCursor) WithPageSize(n int) *HistoryCursor {
	if n > 0 {
		c.pageSize = n
	}
	return c
}

// Next returns the next batch of movements, or nil when the journal is
// exhausted. Movements appended after exhaustion are picked up by a
// subsequent Next call.
func (c *HistoryCursor) Next(ctx context.Context) ([]Movement, error) {
	batch, err := c.repo.LoadMovementsAfter(ctx, c.pair, c.afterSeq, c.pageSize)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	c.afterSeq = batch[len(batch)-1].Seq
	return batch, nil
}

// Position returns the sequence number the cursor has consumed up to.
func (c *HistoryCursor) Position() int64 { return c.afterSeq }
