/*
register.go - Purchase transaction registration

PURPOSE:
  Creates the immutable transaction record for a purchase: validates the
  amount, computes the cashback split, and persists the transaction in
  pending status. No balance or movement is touched here - credit only
  happens when the state machine approves the transaction.

SEE ALSO:
  - split.go: Share calculation
  - status.go: The only mutator of the created record
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Register creates purchase transactions.
type Register struct {
	Repo   Repository
	Router *WalletRouter
	Now    func() time.Time
}

func NewRegister(repo Repository, router *WalletRouter) *Register {
	return &Register{Repo: repo, Router: router, Now: time.Now}
}

// Create validates the purchase, computes the split, and persists a new
// pending transaction in the client's wallet-program namespace.
func (rg *Register) Create(ctx context.Context, clientID ClientID, storeID StoreID, amount Money, cfg StoreConfig) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("purchase amount %s: %w", amount, ErrInvalidAmount)
	}

	split, err := CalculateSplit(amount, cfg)
	if err != nil {
		return nil, err
	}

	pair, err := rg.Router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return nil, err
	}

	tx := Transaction{
		ID:             NewTransactionID(),
		ClientID:       clientID,
		StoreID:        storeID,
		Program:        pair.Program,
		PurchaseAmount: amount,
		Split:          split,
		Status:         StatusPending,
		CreatedAt:      rg.Now().UTC(),
	}

	if err := rg.Repo.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return &tx, nil
}
