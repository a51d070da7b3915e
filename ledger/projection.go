/*
projection.go - Balance projection over the movement journal

PURPOSE:
  Maintains the cached per-pair balance the platform queries on every
  redemption. The projection is DERIVED state: replaying the journal from
  scratch must always reproduce it exactly. When it doesn't, the pair is
  frozen and an operator reconciles it - the engine never silently
  auto-corrects.

ATOMICITY:
  Post() runs "append movement + update projection" as one storage
  transaction. The overdraft check and the balance update are therefore a
  single atomic unit: no interleaving write can drive a pair negative.

REBUILD:
  Rebuild() replays the journal through the restartable history cursor in
  sequence order. It is deterministic and order-sensitive, and is the basis
  of both the integrity audit and repair.

SEE ALSO:
  - journal.go: The journal being projected
  - engine.go: Per-pair locking around Post
*/
package ledger

import (
	"context"
	"fmt"
)

// Projector maintains the cached balance projection.
type Projector struct {
	Repo TxRepository
}

func NewProjector(repo TxRepository) *Projector {
	return &Projector{Repo: repo}
}

// Post atomically appends a movement and folds it into the pair's cached
// balance. It rejects writes to frozen pairs, duplicate idempotency keys,
// and any use or reversal that would drive the balance negative.
func (p *Projector) Post(ctx context.Context, m Movement) (Balance, error) {
	var updated Balance
	err := p.Repo.WithTx(ctx, func(r Repository) error {
		var err error
		updated, err = p.postIn(ctx, r, m)
		return err
	})
	if err != nil {
		return Balance{}, err
	}
	return updated, nil
}

// postIn is Post inside an already-open storage transaction. The state
// machine composes it with the transaction-status write.
func (p *Projector) postIn(ctx context.Context, r Repository, m Movement) (Balance, error) {
	b, found, err := r.GetBalance(ctx, m.Pair)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		// Lazy creation on first credit; spending from a pair that was
		// never credited is an overdraft.
		b = NewBalance(m.Pair)
	}
	if b.Frozen {
		return Balance{}, fmt.Errorf("pair %s/%s: %w", m.Pair.ClientID, m.Pair.StoreID, ErrPairFrozen)
	}

	if m.Kind == KindUse || m.Kind == KindReversal {
		if m.Amount.GreaterThan(b.AvailableAmount) {
			return Balance{}, fmt.Errorf("%s of %s with available %s: %w",
				m.Kind, m.Amount, b.AvailableAmount, ErrNegativeBalance)
		}
	}

	if err := NewJournal(r).Append(ctx, m); err != nil {
		return Balance{}, err
	}

	updated := b.apply(m)
	return updated, r.SaveBalance(ctx, updated)
}

// Rebuild replays the full journal for a pair and recomputes the projection
// from scratch. It does not touch the cached row.
func (p *Projector) Rebuild(ctx context.Context, pair PairKey) (Balance, error) {
	b := NewBalance(pair)
	cursor := NewJournal(p.Repo).History(pair)
	for {
		batch, err := cursor.Next(ctx)
		if err != nil {
			return Balance{}, err
		}
		if batch == nil {
			return b, nil
		}
		for _, m := range batch {
			b = b.apply(m)
		}
	}
}

// Verify compares the cached projection against a journal replay. On
// mismatch the pair is frozen - further writes fail with ErrPairFrozen
// until Reconcile is called - and an IntegrityError is returned.
func (p *Projector) Verify(ctx context.Context, pair PairKey) error {
	replayed, err := p.Rebuild(ctx, pair)
	if err != nil {
		return err
	}

	cached, found, err := p.Repo.GetBalance(ctx, pair)
	if err != nil {
		return err
	}
	if !found {
		cached = NewBalance(pair)
	}

	if cached.AvailableAmount.Equal(replayed.AvailableAmount) &&
		cached.TotalCredited.Equal(replayed.TotalCredited) &&
		cached.TotalUsed.Equal(replayed.TotalUsed) &&
		cached.TotalReversed.Equal(replayed.TotalReversed) {
		return nil
	}

	cached.Frozen = true
	if saveErr := p.Repo.SaveBalance(ctx, cached); saveErr != nil {
		return saveErr
	}
	return &IntegrityError{
		Pair:     pair,
		Cached:   cached.AvailableAmount,
		Replayed: replayed.AvailableAmount,
	}
}

// Reconcile replaces the cached projection with a fresh journal replay and
// unfreezes the pair. Explicit operator action, never automatic.
func (p *Projector) Reconcile(ctx context.Context, pair PairKey) (Balance, error) {
	replayed, err := p.Rebuild(ctx, pair)
	if err != nil {
		return Balance{}, err
	}
	replayed.Frozen = false
	if err := p.Repo.SaveBalance(ctx, replayed); err != nil {
		return Balance{}, err
	}
	return replayed, nil
}
