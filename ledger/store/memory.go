// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/cashback-engine/ledger"
)

// =============================================================================
// MEMORY REPOSITORY - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	movements    map[ledger.PairKey][]ledger.Movement
	seq          map[ledger.PairKey]int64
	idempotency  map[string]bool
	balances     map[ledger.PairKey]ledger.Balance
	transactions map[ledger.TransactionID]ledger.Transaction
	clients      map[ledger.ClientID]ledger.Client
	stores       map[ledger.StoreID]ledger.Store
}

func NewMemory() *Memory {
	return &Memory{
		movements:    make(map[ledger.PairKey][]ledger.Movement),
		seq:          make(map[ledger.PairKey]int64),
		idempotency:  make(map[string]bool),
		balances:     make(map[ledger.PairKey]ledger.Balance),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		clients:      make(map[ledger.ClientID]ledger.Client),
		stores:       make(map[ledger.StoreID]ledger.Store),
	}
}

// -----------------------------------------------------------------------------
// MovementRepository
// -----------------------------------------------------------------------------

func (m *Memory) AppendMovement(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(mv)
}

func (m *Memory) appendLocked(mv ledger.Movement) error {
	if mv.IdempotencyKey != "" && m.idempotency[mv.IdempotencyKey] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	m.seq[mv.Pair]++
	mv.Seq = m.seq[mv.Pair]
	m.movements[mv.Pair] = append(m.movements[mv.Pair], mv)
	if mv.IdempotencyKey != "" {
		m.idempotency[mv.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) MovementExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

func (m *Memory) LoadMovements(_ context.Context, pair ledger.PairKey) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Movement, len(m.movements[pair]))
	copy(result, m.movements[pair])
	return result, nil
}

func (m *Memory) LoadMovementsAfter(_ context.Context, pair ledger.PairKey, afterSeq int64, limit int) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Movement
	for _, mv := range m.movements[pair] {
		if mv.Seq > afterSeq {
			result = append(result, mv)
			if limit > 0 && len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// BalanceRepository
// -----------------------------------------------------------------------------

func (m *Memory) GetBalance(_ context.Context, pair ledger.PairKey) (ledger.Balance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[pair]
	return b, ok, nil
}

func (m *Memory) SaveBalance(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[b.Pair] = b
	return nil
}

func (m *Memory) ListPairs(_ context.Context) ([]ledger.PairKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pairs := make([]ledger.PairKey, 0, len(m.balances))
	for k := range m.balances {
		pairs = append(pairs, k)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ClientID != pairs[j].ClientID {
			return pairs[i].ClientID < pairs[j].ClientID
		}
		return pairs[i].StoreID < pairs[j].StoreID
	})
	return pairs, nil
}

func (m *Memory) ListClientPairs(_ context.Context, clientID ledger.ClientID) ([]ledger.PairKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pairs []ledger.PairKey
	for k := range m.balances {
		if k.ClientID == clientID {
			pairs = append(pairs, k)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].StoreID < pairs[j].StoreID })
	return pairs, nil
}

// -----------------------------------------------------------------------------
// TransactionRepository
// -----------------------------------------------------------------------------

func (m *Memory) SaveTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

func (m *Memory) ListTransactionsByClient(_ context.Context, clientID ledger.ClientID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []ledger.Transaction
	for _, tx := range m.transactions {
		if tx.ClientID == clientID {
			txs = append(txs, tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}

// -----------------------------------------------------------------------------
// DirectoryRepository
// -----------------------------------------------------------------------------

func (m *Memory) SaveClient(_ context.Context, c ledger.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id ledger.ClientID) (*ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListClients(_ context.Context) ([]ledger.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]ledger.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID < clients[j].ID })
	return clients, nil
}

func (m *Memory) SaveStore(_ context.Context, s ledger.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[s.ID] = s
	return nil
}

func (m *Memory) GetStore(_ context.Context, id ledger.StoreID) (*ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) ListStores(_ context.Context) ([]ledger.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stores := make([]ledger.Store, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	sort.Slice(stores, func(i, j int) bool { return stores[i].ID < stores[j].ID })
	return stores, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY REPOSITORY
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ ledger.TxRepository = (*TxMemory)(nil)

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Repository) error) error {
	tm.txMu.Lock()
	defer tm.txMu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	movements    map[ledger.PairKey][]ledger.Movement
	seq          map[ledger.PairKey]int64
	idempotency  map[string]bool
	balances     map[ledger.PairKey]ledger.Balance
	transactions map[ledger.TransactionID]ledger.Transaction
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	s := memorySnapshot{
		movements:    make(map[ledger.PairKey][]ledger.Movement, len(tm.movements)),
		seq:          make(map[ledger.PairKey]int64, len(tm.seq)),
		idempotency:  make(map[string]bool, len(tm.idempotency)),
		balances:     make(map[ledger.PairKey]ledger.Balance, len(tm.balances)),
		transactions: make(map[ledger.TransactionID]ledger.Transaction, len(tm.transactions)),
	}
	for k, v := range tm.movements {
		s.movements[k] = append([]ledger.Movement{}, v...)
	}
	for k, v := range tm.seq {
		s.seq[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.balances {
		s.balances[k] = v
	}
	for k, v := range tm.transactions {
		s.transactions[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.movements = s.movements
	tm.seq = s.seq
	tm.idempotency = s.idempotency
	tm.balances = s.balances
	tm.transactions = s.transactions
}
