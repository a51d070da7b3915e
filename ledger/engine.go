/*
engine.go - Engine facade: the operation surface the platform calls

PURPOSE:
  Composes the register, state machine, journal, projection, redemption
  guard and wallet router into the synchronous operation surface the
  surrounding platform (controllers, PWA backends) invokes:

    CreateTransaction(clientID, storeID, amount, storeConfig)
    TransitionStatus(transactionID, target)
    GetBalance(clientID, storeID)
    AuthorizeUse(clientID, storeID, amount)
    ListMovements(clientID, storeID)
    Adjust(clientID, storeID, amount, reason)      [admin]
    SetProgram(clientID, program)                  [admin]
    VerifyPair / ReconcilePair                     [audit]

CONCURRENCY:
  Each operation is an independent unit of work. Mutations acquire the
  per-pair lock (bounded wait, ErrBusy on timeout), then run one storage
  transaction. Different pairs never block each other; the lock is never
  held across external I/O.

  The engine never depends on ambient session state: every operation takes
  explicit identifiers and returns an explicit result or error for the
  calling layer to present however it likes.

SEE ALSO:
  - store.go: Repository interfaces the engine is built over
  - api/: HTTP layer consuming this surface
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Engine is the cashback ledger and balance engine.
type Engine struct {
	repo      TxRepository
	register  *Register
	machine   *StateMachine
	projector *Projector
	journal   *Journal
	router    *WalletRouter
	locks     *PairLocks
	now       func() time.Time
}

// NewEngine wires the engine over a transactional repository.
func NewEngine(repo TxRepository) *Engine {
	router := NewWalletRouter(repo)
	return &Engine{
		repo:      repo,
		register:  NewRegister(repo, router),
		machine:   NewStateMachine(repo),
		projector: NewProjector(repo),
		journal:   NewJournal(repo),
		router:    router,
		locks:     NewPairLocks(),
		now:       time.Now,
	}
}

// SetLockTimeout bounds how long mutations wait for a busy pair.
func (e *Engine) SetLockTimeout(d time.Duration) { e.locks.Timeout = d }

// Router exposes wallet-program administration.
func (e *Engine) Router() *WalletRouter { return e.router }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransaction registers a purchase and returns the pending transaction
// with its computed split. No movement is emitted.
func (e *Engine) CreateTransaction(ctx context.Context, clientID ClientID, storeID StoreID, amount Money, cfg StoreConfig) (*Transaction, error) {
	return e.register.Create(ctx, clientID, storeID, amount, cfg)
}

// TransitionStatus moves a transaction through its lifecycle, emitting the
// movements the transition implies. Safe to retry on ErrBusy.
func (e *Engine) TransitionStatus(ctx context.Context, id TransactionID, target Status) (*TransitionResult, error) {
	tx, err := e.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}

	pair := PairKey{Program: tx.Program, ClientID: tx.ClientID, StoreID: tx.StoreID}
	release, err := e.locks.Acquire(ctx, pair)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; a concurrent transition may have advanced it.
	tx, err = e.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return e.machine.Transition(ctx, tx, target)
}

// GetTransaction returns a transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := e.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return tx, nil
}

// =============================================================================
// BALANCE & REDEMPTION
// =============================================================================

// GetBalance returns the cached projection for the exact (client, store)
// pair in the client's program namespace. There is deliberately no call that
// reads balance without a store id.
func (e *Engine) GetBalance(ctx context.Context, clientID ClientID, storeID StoreID) (Balance, error) {
	pair, err := e.router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return Balance{}, err
	}
	b, found, err := e.repo.GetBalance(ctx, pair)
	if err != nil {
		return Balance{}, err
	}
	if !found {
		return NewBalance(pair), nil
	}
	return b, nil
}

// RedemptionResult is the outcome of a successful redemption.
type RedemptionResult struct {
	MovementID MovementID
	NewBalance Balance
}

// AuthorizeUse authorizes spending available balance at the store where it
// was earned. The store id must match the pair the balance lives at - there
// is no cross-store aggregate to spend from - and the amount must not
// exceed the available amount.
func (e *Engine) AuthorizeUse(ctx context.Context, clientID ClientID, storeID StoreID, amount Money) (*RedemptionResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("redemption amount %s: %w", amount, ErrInvalidAmount)
	}

	store, err := e.repo.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("store %s: %w", storeID, ErrStoreNotFound)
	}

	pair, err := e.router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, pair)
	if err != nil {
		return nil, err
	}
	defer release()

	b, found, err := e.repo.GetBalance(ctx, pair)
	if err != nil {
		return nil, err
	}
	if !found {
		// Nothing was ever earned here. If the client holds balance at
		// other stores, this is a misdirected spend, not a shortage.
		others, err := e.repo.ListClientPairs(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if len(others) > 0 {
			return nil, fmt.Errorf("client %s holds no balance at store %s: %w", clientID, storeID, ErrWrongStore)
		}
		b = NewBalance(pair)
	}
	if amount.GreaterThan(b.AvailableAmount) {
		return nil, &InsufficientBalanceError{Pair: pair, Available: b.AvailableAmount, Requested: amount}
	}

	id := NewMovementID()
	m := Movement{
		ID:             id,
		Pair:           pair,
		Kind:           KindUse,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("use:%s", id),
		Reason:         "redemption",
		CreatedAt:      e.now().UTC(),
	}
	newBalance, err := e.projector.Post(ctx, m)
	if err != nil {
		return nil, err
	}
	return &RedemptionResult{MovementID: m.ID, NewBalance: newBalance}, nil
}

// ListMovements returns the pair's journal, oldest first.
func (e *Engine) ListMovements(ctx context.Context, clientID ClientID, storeID StoreID) ([]Movement, error) {
	pair, err := e.router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return nil, err
	}
	return e.journal.Movements(ctx, pair)
}

// History returns a restartable cursor over the pair's journal.
func (e *Engine) History(ctx context.Context, clientID ClientID, storeID StoreID) (*HistoryCursor, error) {
	pair, err := e.router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return nil, err
	}
	return e.journal.History(pair), nil
}

// =============================================================================
// ADMINISTRATIVE OPERATIONS
// =============================================================================

// Adjust posts a manual adjustment movement (positive credit with no linked
// transaction) to a pair. Operator action.
func (e *Engine) Adjust(ctx context.Context, clientID ClientID, storeID StoreID, amount Money, reason string) (*RedemptionResult, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("adjustment amount %s: %w", amount, ErrInvalidAmount)
	}

	pair, err := e.router.PairFor(ctx, clientID, storeID, "")
	if err != nil {
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, pair)
	if err != nil {
		return nil, err
	}
	defer release()

	id := NewMovementID()
	m := Movement{
		ID:             id,
		Pair:           pair,
		Kind:           KindAdjustment,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("adjust:%s", id),
		Reason:         reason,
		CreatedAt:      e.now().UTC(),
	}
	newBalance, err := e.projector.Post(ctx, m)
	if err != nil {
		return nil, err
	}
	return &RedemptionResult{MovementID: m.ID, NewBalance: newBalance}, nil
}

// SetProgram reassigns a client's wallet program. Explicit admin operation.
func (e *Engine) SetProgram(ctx context.Context, clientID ClientID, program Program) error {
	return e.router.SetProgram(ctx, clientID, program)
}

// =============================================================================
// INTEGRITY
// =============================================================================

// VerifyPair checks the cached projection against a journal replay for the
// client's pair, freezing it on mismatch.
func (e *Engine) VerifyPair(ctx context.Context, pair PairKey) error {
	release, err := e.locks.Acquire(ctx, pair)
	if err != nil {
		return err
	}
	defer release()
	return e.projector.Verify(ctx, pair)
}

// ReconcilePair rebuilds a frozen pair's projection from the journal and
// unfreezes it. Operator action.
func (e *Engine) ReconcilePair(ctx context.Context, pair PairKey) (Balance, error) {
	release, err := e.locks.Acquire(ctx, pair)
	if err != nil {
		return Balance{}, err
	}
	defer release()
	return e.projector.Reconcile(ctx, pair)
}

// ListPairs returns every pair holding a balance row.
func (e *Engine) ListPairs(ctx context.Context) ([]PairKey, error) {
	return e.repo.ListPairs(ctx)
}
