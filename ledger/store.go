/*
store.go - Persistence interfaces for the cashback engine

PURPOSE:
  Defines the boundary between the engine's logic and the database, so the
  engine is storage-agnostic and independently testable against an in-memory
  implementation. Different implementations can use SQLite, PostgreSQL, or
  in-memory storage.

KEY INTERFACES:
  Repository:   movements (append-only), balances, transactions, directory
  TxRepository: Repository plus WithTx for atomic multi-write operations

APPEND-ONLY CONTRACT:
  Movements have no Update or Delete. Corrections happen through compensating
  reversal/adjustment movements. The store must enforce idempotency-key
  uniqueness at the schema level and assign a strictly increasing per-pair
  sequence number on append: that sequence is the journal's order.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - ledger/store: In-memory for testing

SEE ALSO:
  - journal.go: Higher-level journal using Repository
  - projection.go: Balance projection over Repository
*/
package ledger

import "context"

// =============================================================================
// REPOSITORY - Combined persistence surface
// =============================================================================

// Repository is the full persistence surface the engine requires.
type Repository interface {
	MovementRepository
	BalanceRepository
	TransactionRepository
	DirectoryRepository
}

// MovementRepository persists journal movements.
// IMPORTANT: append-only. No Update, no Delete. Ever.
type MovementRepository interface {
	// AppendMovement persists a movement and assigns its per-pair sequence
	// number. Fails with ErrDuplicateIdempotencyKey if the key exists.
	AppendMovement(ctx context.Context, m Movement) error

	// MovementExists checks whether an idempotency key is already posted.
	MovementExists(ctx context.Context, idempotencyKey string) (bool, error)

	// LoadMovements returns every movement for a pair, ordered by sequence
	// (oldest first).
	LoadMovements(ctx context.Context, pair PairKey) ([]Movement, error)

	// LoadMovementsAfter returns up to limit movements with Seq > afterSeq,
	// ordered by sequence. Used by the restartable history cursor.
	LoadMovementsAfter(ctx context.Context, pair PairKey, afterSeq int64, limit int) ([]Movement, error)
}

// BalanceRepository persists the cached balance projection.
type BalanceRepository interface {
	// GetBalance returns the projection for a pair. found is false when the
	// pair has never been credited.
	GetBalance(ctx context.Context, pair PairKey) (b Balance, found bool, err error)

	// SaveBalance upserts a projection row.
	SaveBalance(ctx context.Context, b Balance) error

	// ListPairs returns every pair that has a balance row. Used by the
	// integrity auditor.
	ListPairs(ctx context.Context) ([]PairKey, error)

	// ListClientPairs returns the pairs a client holds balances at. Used by
	// the redemption guard to tell a misdirected spend (balance earned at
	// another store) apart from a plain shortage.
	ListClientPairs(ctx context.Context, clientID ClientID) ([]PairKey, error)
}

// TransactionRepository persists purchase transactions.
type TransactionRepository interface {
	SaveTransaction(ctx context.Context, tx Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactionsByClient(ctx context.Context, clientID ClientID) ([]Transaction, error)
}

// DirectoryRepository persists the clients and stores the engine routes
// between. The surrounding platform owns registration flows; the engine only
// reads identifiers, program tags and split configuration from here.
type DirectoryRepository interface {
	SaveClient(ctx context.Context, c Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context) ([]Client, error)

	SaveStore(ctx context.Context, s Store) error
	GetStore(ctx context.Context, id StoreID) (*Store, error)
	ListStores(ctx context.Context) ([]Store, error)
}

// =============================================================================
// TRANSACTIONAL REPOSITORY - Atomic multi-write operations
// =============================================================================

// TxRepository wraps Repository with transaction support. The engine uses it
// to make "append movement + update projection" a single atomic unit.
type TxRepository interface {
	Repository

	// WithTx executes fn within a storage transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Repository) error) error
}
