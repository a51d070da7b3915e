/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxRepository using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The movements table has no UPDATE and no DELETE statements anywhere in
  this package. Corrections happen via compensating movements only. The
  idempotency key carries a UNIQUE constraint, so a retried transition can
  never post the same credit or reversal twice, even under races.

KEY TABLES:
  movements:    Immutable journal of all balance changes
  balances:     Cached projection per (program, client, store) pair
  transactions: Purchase records with status and split fields
  clients:      Client directory (wallet-program tags)
  stores:       Store directory (cashback + split configuration)

SEQUENCING:
  Each movement gets a per-pair seq assigned inside the insert transaction;
  (program, client_id, store_id, seq) is unique. That sequence is the
  journal's replay order.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.
  A sync.RWMutex serializes writers; in production PostgreSQL, row locks
  take over this role.

USAGE:
  repo, err := sqlite.New("./data/cashback.db")
  if err != nil {
      log.Fatal(err)
  }
  defer repo.Close()

  engine := ledger.NewEngine(repo)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/ledger"
)

// Repo implements ledger.TxRepository using SQLite.
type Repo struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxRepository = (*Repo)(nil)

// New creates a new SQLite repository at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Repo, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; a single pooled connection also keeps
	// ":memory:" databases (one per connection otherwise) usable in tests.
	db.SetMaxOpenConns(1)

	repo := &Repo{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, nil
}

// Close closes the database connection.
func (s *Repo) Close() error {
	return s.db.Close()
}

func (s *Repo) migrate() error {
	schema := `
	-- Movements (append-only journal)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		program TEXT NOT NULL,
		client_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		transaction_id TEXT,
		idempotency_key TEXT UNIQUE,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_pair_seq
		ON movements(program, client_id, store_id, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_transaction
		ON movements(transaction_id) WHERE transaction_id IS NOT NULL;

	-- Balances (cached projection; always re-derivable from movements)
	CREATE TABLE IF NOT EXISTS balances (
		program TEXT NOT NULL,
		client_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		available TEXT NOT NULL,
		credited TEXT NOT NULL,
		used TEXT NOT NULL,
		reversed TEXT NOT NULL,
		frozen INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (program, client_id, store_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_client
		ON balances(client_id);

	-- Purchase transactions
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		store_id TEXT NOT NULL,
		program TEXT NOT NULL,
		purchase_amount TEXT NOT NULL,
		total_cashback TEXT NOT NULL,
		client_value TEXT NOT NULL,
		admin_value TEXT NOT NULL,
		store_value TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		reversed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_client
		ON transactions(client_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status);

	-- Client directory
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		program TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Store directory
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cashback_percent TEXT NOT NULL,
		client_percent TEXT NOT NULL,
		admin_percent TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same query helpers work both
// standalone and inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// MOVEMENT REPOSITORY
// =============================================================================

func (s *Repo) AppendMovement(ctx context.Context, m ledger.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendMovement(ctx, s.db, m)
}

func appendMovement(ctx context.Context, db dbtx, m ledger.Movement) error {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM movements
		 WHERE program = ? AND client_id = ? AND store_id = ?`,
		m.Pair.Program, m.Pair.ClientID, m.Pair.StoreID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to assign movement seq: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO movements
		 (id, program, client_id, store_id, seq, kind, amount, transaction_id, idempotency_key, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID,
		m.Pair.Program,
		m.Pair.ClientID,
		m.Pair.StoreID,
		seq,
		m.Kind,
		m.Amount.Value.String(),
		nullString(string(m.TransactionID)),
		nullString(m.IdempotencyKey),
		m.Reason,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isIdempotencyKeyConflict(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (s *Repo) MovementExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return movementExists(ctx, s.db, idempotencyKey)
}

func movementExists(ctx context.Context, db dbtx, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movements WHERE idempotency_key = ?", key,
	).Scan(&count)
	return count > 0, err
}

const movementColumns = `id, program, client_id, store_id, seq, kind, amount, transaction_id, idempotency_key, reason, created_at`

const movementsByPairQuery = `
	SELECT ` + movementColumns + `
	FROM movements
	WHERE program = ? AND client_id = ? AND store_id = ?
	ORDER BY seq ASC`

const movementsAfterSeqQuery = `
	SELECT ` + movementColumns + `
	FROM movements
	WHERE program = ? AND client_id = ? AND store_id = ? AND seq > ?
	ORDER BY seq ASC
	LIMIT ?`

func (s *Repo) LoadMovements(ctx context.Context, pair ledger.PairKey) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadMovements(ctx, s.db, pair)
}

func loadMovements(ctx context.Context, db dbtx, pair ledger.PairKey) ([]ledger.Movement, error) {
	return queryMovements(ctx, db, movementsByPairQuery,
		pair.Program, pair.ClientID, pair.StoreID)
}

func (s *Repo) LoadMovementsAfter(ctx context.Context, pair ledger.PairKey, afterSeq int64, limit int) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadMovementsAfter(ctx, s.db, pair, afterSeq, limit)
}

func loadMovementsAfter(ctx context.Context, db dbtx, pair ledger.PairKey, afterSeq int64, limit int) ([]ledger.Movement, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}
	return queryMovements(ctx, db, movementsAfterSeqQuery,
		pair.Program, pair.ClientID, pair.StoreID, afterSeq, limit)
}

func queryMovements(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.Movement, error) {
	var (
		m              ledger.Movement
		amount         string
		transactionID  sql.NullString
		idempotencyKey sql.NullString
		reason         sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&m.ID, &m.Pair.Program, &m.Pair.ClientID, &m.Pair.StoreID,
		&m.Seq, &m.Kind, &amount, &transactionID, &idempotencyKey, &reason, &createdAt,
	)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}

	m.Amount = parseMoney(amount)
	m.TransactionID = ledger.TransactionID(transactionID.String)
	m.IdempotencyKey = idempotencyKey.String
	m.Reason = reason.String
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return m, nil
}

// =============================================================================
// BALANCE REPOSITORY
// =============================================================================

func (s *Repo) GetBalance(ctx context.Context, pair ledger.PairKey) (ledger.Balance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBalance(ctx, s.db, pair)
}

func getBalance(ctx context.Context, db dbtx, pair ledger.PairKey) (ledger.Balance, bool, error) {
	var (
		b         = ledger.Balance{Pair: pair}
		available string
		credited  string
		used      string
		reversed  string
		frozen    int
		updatedAt string
	)

	err := db.QueryRowContext(ctx,
		`SELECT available, credited, used, reversed, frozen, updated_at
		 FROM balances WHERE program = ? AND client_id = ? AND store_id = ?`,
		pair.Program, pair.ClientID, pair.StoreID,
	).Scan(&available, &credited, &used, &reversed, &frozen, &updatedAt)

	if err == sql.ErrNoRows {
		return ledger.Balance{}, false, nil
	}
	if err != nil {
		return ledger.Balance{}, false, err
	}

	b.AvailableAmount = parseMoney(available)
	b.TotalCredited = parseMoney(credited)
	b.TotalUsed = parseMoney(used)
	b.TotalReversed = parseMoney(reversed)
	b.Frozen = frozen != 0
	b.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return b, true, nil
}

func (s *Repo) SaveBalance(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBalance(ctx, s.db, b)
}

func saveBalance(ctx context.Context, db dbtx, b ledger.Balance) error {
	frozen := 0
	if b.Frozen {
		frozen = 1
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO balances (program, client_id, store_id, available, credited, used, reversed, frozen, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(program, client_id, store_id) DO UPDATE SET
			available = excluded.available,
			credited = excluded.credited,
			used = excluded.used,
			reversed = excluded.reversed,
			frozen = excluded.frozen,
			updated_at = excluded.updated_at`,
		b.Pair.Program, b.Pair.ClientID, b.Pair.StoreID,
		b.AvailableAmount.Value.String(),
		b.TotalCredited.Value.String(),
		b.TotalUsed.Value.String(),
		b.TotalReversed.Value.String(),
		frozen,
		b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

const allPairsQuery = `SELECT program, client_id, store_id FROM balances ORDER BY client_id, store_id`
const clientPairsQuery = `SELECT program, client_id, store_id FROM balances WHERE client_id = ? ORDER BY store_id`

func (s *Repo) ListPairs(ctx context.Context) ([]ledger.PairKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPairs(ctx, s.db, allPairsQuery)
}

func (s *Repo) ListClientPairs(ctx context.Context, clientID ledger.ClientID) ([]ledger.PairKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPairs(ctx, s.db, clientPairsQuery, clientID)
}

func queryPairs(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.PairKey, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []ledger.PairKey
	for rows.Next() {
		var p ledger.PairKey
		if err := rows.Scan(&p.Program, &p.ClientID, &p.StoreID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// =============================================================================
// TRANSACTION REPOSITORY
// =============================================================================

const transactionColumns = `id, client_id, store_id, program, purchase_amount, total_cashback, client_value, admin_value, store_value, status, created_at, approved_at, reversed_at`

func (s *Repo) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTransaction(ctx, s.db, tx)
}

func saveTransaction(ctx context.Context, db dbtx, tx ledger.Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO transactions
		 (`+transactionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			approved_at = excluded.approved_at,
			reversed_at = excluded.reversed_at`,
		tx.ID, tx.ClientID, tx.StoreID, tx.Program,
		tx.PurchaseAmount.Value.String(),
		tx.Split.TotalCashback.Value.String(),
		tx.Split.ClientValue.Value.String(),
		tx.Split.AdminValue.Value.String(),
		tx.Split.StoreValue.Value.String(),
		tx.Status,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(tx.ApprovedAt),
		nullTime(tx.ReversedAt),
	)
	return err
}

func (s *Repo) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id ledger.TransactionID) (*ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	tx, err := scanTransaction(rows)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Repo) ListTransactionsByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactionsByClient(ctx, s.db, clientID)
}

func listTransactionsByClient(ctx context.Context, db dbtx, clientID ledger.ClientID) ([]ledger.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE client_id = ? ORDER BY created_at ASC, id ASC`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		purchaseAmount string
		total          string
		client         string
		admin          string
		store          string
		createdAt      string
		approvedAt     sql.NullString
		reversedAt     sql.NullString
	)

	err := rows.Scan(
		&tx.ID, &tx.ClientID, &tx.StoreID, &tx.Program,
		&purchaseAmount, &total, &client, &admin, &store,
		&tx.Status, &createdAt, &approvedAt, &reversedAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.PurchaseAmount = parseMoney(purchaseAmount)
	tx.Split = ledger.Split{
		TotalCashback: parseMoney(total),
		ClientValue:   parseMoney(client),
		AdminValue:    parseMoney(admin),
		StoreValue:    parseMoney(store),
	}
	tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	tx.ApprovedAt = parseNullTime(approvedAt)
	tx.ReversedAt = parseNullTime(reversedAt)
	return tx, nil
}

// =============================================================================
// DIRECTORY REPOSITORY
// =============================================================================

func (s *Repo) SaveClient(ctx context.Context, c ledger.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveClient(ctx, s.db, c)
}

func saveClient(ctx context.Context, db dbtx, c ledger.Client) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO clients (id, name, program, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			program = excluded.program`,
		c.ID, c.Name, c.Program, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Repo) GetClient(ctx context.Context, id ledger.ClientID) (*ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClient(ctx, s.db, id)
}

func getClient(ctx context.Context, db dbtx, id ledger.ClientID) (*ledger.Client, error) {
	var c ledger.Client
	var createdAt string
	err := db.QueryRowContext(ctx,
		"SELECT id, name, program, created_at FROM clients WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.Program, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

func (s *Repo) ListClients(ctx context.Context) ([]ledger.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listClients(ctx, s.db)
}

func listClients(ctx context.Context, db dbtx) ([]ledger.Client, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, program, created_at FROM clients ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []ledger.Client
	for rows.Next() {
		var c ledger.Client
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Program, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Repo) SaveStore(ctx context.Context, st ledger.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveStore(ctx, s.db, st)
}

func saveStore(ctx context.Context, db dbtx, st ledger.Store) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO stores (id, name, cashback_percent, client_percent, admin_percent, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cashback_percent = excluded.cashback_percent,
			client_percent = excluded.client_percent,
			admin_percent = excluded.admin_percent`,
		st.ID, st.Name,
		st.Config.CashbackPercent.String(),
		st.Config.ClientPercent.String(),
		st.Config.AdminPercent.String(),
		st.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Repo) GetStore(ctx context.Context, id ledger.StoreID) (*ledger.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStore(ctx, s.db, id)
}

func getStore(ctx context.Context, db dbtx, id ledger.StoreID) (*ledger.Store, error) {
	var (
		st        ledger.Store
		cashback  string
		client    string
		admin     string
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, cashback_percent, client_percent, admin_percent, created_at FROM stores WHERE id = ?", id,
	).Scan(&st.ID, &st.Name, &cashback, &client, &admin, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.Config = ledger.StoreConfig{
		CashbackPercent: parseDecimal(cashback),
		ClientPercent:   parseDecimal(client),
		AdminPercent:    parseDecimal(admin),
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &st, nil
}

func (s *Repo) ListStores(ctx context.Context) ([]ledger.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listStores(ctx, s.db)
}

func listStores(ctx context.Context, db dbtx) ([]ledger.Store, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, cashback_percent, client_percent, admin_percent, created_at FROM stores ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stores []ledger.Store
	for rows.Next() {
		var (
			st        ledger.Store
			cashback  string
			client    string
			admin     string
			createdAt string
		)
		if err := rows.Scan(&st.ID, &st.Name, &cashback, &client, &admin, &createdAt); err != nil {
			return nil, err
		}
		st.Config = ledger.StoreConfig{
			CashbackPercent: parseDecimal(cashback),
			ClientPercent:   parseDecimal(client),
			AdminPercent:    parseDecimal(admin),
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		stores = append(stores, st)
	}
	return stores, rows.Err()
}

// =============================================================================
// TRANSACTIONAL WRAPPER
// =============================================================================

// WithTx executes fn within a database transaction. Every repository call
// made through fn's argument runs on the same sql.Tx, so reads see the
// transaction's own writes and a returned error rolls everything back.
func (s *Repo) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txRepo{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txRepo struct {
	tx *sql.Tx
}

var _ ledger.Repository = (*txRepo)(nil)

func (t *txRepo) AppendMovement(ctx context.Context, m ledger.Movement) error {
	return appendMovement(ctx, t.tx, m)
}

func (t *txRepo) MovementExists(ctx context.Context, key string) (bool, error) {
	return movementExists(ctx, t.tx, key)
}

func (t *txRepo) LoadMovements(ctx context.Context, pair ledger.PairKey) ([]ledger.Movement, error) {
	return loadMovements(ctx, t.tx, pair)
}

func (t *txRepo) LoadMovementsAfter(ctx context.Context, pair ledger.PairKey, afterSeq int64, limit int) ([]ledger.Movement, error) {
	return loadMovementsAfter(ctx, t.tx, pair, afterSeq, limit)
}

func (t *txRepo) GetBalance(ctx context.Context, pair ledger.PairKey) (ledger.Balance, bool, error) {
	return getBalance(ctx, t.tx, pair)
}

func (t *txRepo) SaveBalance(ctx context.Context, b ledger.Balance) error {
	return saveBalance(ctx, t.tx, b)
}

func (t *txRepo) ListPairs(ctx context.Context) ([]ledger.PairKey, error) {
	return queryPairs(ctx, t.tx, allPairsQuery)
}

func (t *txRepo) ListClientPairs(ctx context.Context, clientID ledger.ClientID) ([]ledger.PairKey, error) {
	return queryPairs(ctx, t.tx, clientPairsQuery, clientID)
}

func (t *txRepo) SaveTransaction(ctx context.Context, tx ledger.Transaction) error {
	return saveTransaction(ctx, t.tx, tx)
}

func (t *txRepo) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, t.tx, id)
}

func (t *txRepo) ListTransactionsByClient(ctx context.Context, clientID ledger.ClientID) ([]ledger.Transaction, error) {
	return listTransactionsByClient(ctx, t.tx, clientID)
}

func (t *txRepo) SaveClient(ctx context.Context, c ledger.Client) error {
	return saveClient(ctx, t.tx, c)
}

func (t *txRepo) GetClient(ctx context.Context, id ledger.ClientID) (*ledger.Client, error) {
	return getClient(ctx, t.tx, id)
}

func (t *txRepo) ListClients(ctx context.Context) ([]ledger.Client, error) {
	return listClients(ctx, t.tx)
}

func (t *txRepo) SaveStore(ctx context.Context, st ledger.Store) error {
	return saveStore(ctx, t.tx, st)
}

func (t *txRepo) GetStore(ctx context.Context, id ledger.StoreID) (*ledger.Store, error) {
	return getStore(ctx, t.tx, id)
}

func (t *txRepo) ListStores(ctx context.Context) ([]ledger.Store, error) {
	return listStores(ctx, t.tx)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseMoney(s string) ledger.Money {
	return ledger.Money{Value: parseDecimal(s)}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// isIdempotencyKeyConflict matches the specific UNIQUE violation on
// movements.idempotency_key. Other unique indexes on the table (the per-pair
// seq index) must surface as plain errors, not as idempotent retries.
func isIdempotencyKeyConflict(err error) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), "movements.idempotency_key")
}
