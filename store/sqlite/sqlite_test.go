package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/ledger"
	"github.com/warp/cashback-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestRepo(t *testing.T) *sqlite.Repo {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func money(s string) ledger.Money {
	return ledger.Money{Value: decimal.RequireFromString(s)}
}

func testPair() ledger.PairKey {
	return ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s1"}
}

func creditMovement(pair ledger.PairKey, key, amount string) ledger.Movement {
	return ledger.Movement{
		ID:             ledger.NewMovementID(),
		Pair:           pair,
		Kind:           ledger.KindCredit,
		Amount:         money(amount),
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestAppendMovement_AssignsPerPairSeq(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pairA := testPair()
	pairB := ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s2"}

	require.NoError(t, repo.AppendMovement(ctx, creditMovement(pairA, "a1", "1.00")))
	require.NoError(t, repo.AppendMovement(ctx, creditMovement(pairA, "a2", "2.00")))
	require.NoError(t, repo.AppendMovement(ctx, creditMovement(pairB, "b1", "3.00")))

	a, err := repo.LoadMovements(ctx, pairA)
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.Equal(t, int64(1), a[0].Seq)
	assert.Equal(t, int64(2), a[1].Seq)

	// Each pair counts from 1 independently.
	b, err := repo.LoadMovements(ctx, pairB)
	require.NoError(t, err)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), b[0].Seq)
}

func TestAppendMovement_DuplicateIdempotencyKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	require.NoError(t, repo.AppendMovement(ctx, creditMovement(pair, "tx-1:credit", "5.00")))

	err := repo.AppendMovement(ctx, creditMovement(pair, "tx-1:credit", "5.00"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	exists, err := repo.MovementExists(ctx, "tx-1:credit")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.MovementExists(ctx, "tx-2:credit")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAppendMovement_RoundTripsAllFields(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	in := ledger.Movement{
		ID:             ledger.NewMovementID(),
		Pair:           pair,
		Kind:           ledger.KindReversal,
		Amount:         money("3.21"),
		TransactionID:  "tx-9",
		IdempotencyKey: "tx-9:reversal",
		Reason:         "order returned",
		CreatedAt:      time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
	}
	require.NoError(t, repo.AppendMovement(ctx, in))

	out, err := repo.LoadMovements(ctx, pair)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, in.ID, got.ID)
	assert.Equal(t, in.Pair, got.Pair)
	assert.Equal(t, in.Kind, got.Kind)
	assert.True(t, got.Amount.Equal(in.Amount))
	assert.Equal(t, in.TransactionID, got.TransactionID)
	assert.Equal(t, in.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, in.Reason, got.Reason)
	assert.True(t, got.CreatedAt.Equal(in.CreatedAt))
}

func TestLoadMovementsAfter_Paging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.AppendMovement(ctx, creditMovement(pair, fmt.Sprintf("k%d", i), "1.00")))
	}

	batch, err := repo.LoadMovementsAfter(ctx, pair, 0, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(1), batch[0].Seq)
	assert.Equal(t, int64(2), batch[1].Seq)

	batch, err = repo.LoadMovementsAfter(ctx, pair, 3, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, int64(4), batch[0].Seq)
	assert.Equal(t, int64(5), batch[1].Seq)

	batch, err = repo.LoadMovementsAfter(ctx, pair, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	// Non-positive limit means no limit.
	batch, err = repo.LoadMovementsAfter(ctx, pair, 0, 0)
	require.NoError(t, err)
	assert.Len(t, batch, 5)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestBalance_UpsertAndFoundFlag(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	_, found, err := repo.GetBalance(ctx, pair)
	require.NoError(t, err)
	assert.False(t, found)

	b := ledger.NewBalance(pair)
	b.TotalCredited = money("10.00")
	b.TotalUsed = money("3.00")
	b.AvailableAmount = money("7.00")
	b.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.SaveBalance(ctx, b))

	got, found, err := repo.GetBalance(ctx, pair)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.AvailableAmount.Equal(money("7.00")))
	assert.True(t, got.TotalCredited.Equal(money("10.00")))
	assert.True(t, got.TotalUsed.Equal(money("3.00")))
	assert.False(t, got.Frozen)

	// Upsert overwrites the row in place, including the frozen flag.
	b.Frozen = true
	b.AvailableAmount = money("6.00")
	require.NoError(t, repo.SaveBalance(ctx, b))

	got, found, err = repo.GetBalance(ctx, pair)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Frozen)
	assert.True(t, got.AvailableAmount.Equal(money("6.00")))
}

func TestBalance_ListPairs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pairs := []ledger.PairKey{
		{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s1"},
		{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s2"},
		{Program: ledger.ProgramPartner, ClientID: "c2", StoreID: "s1"},
	}
	for _, p := range pairs {
		require.NoError(t, repo.SaveBalance(ctx, ledger.NewBalance(p)))
	}

	all, err := repo.ListPairs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, pairs, all)

	c1, err := repo.ListClientPairs(ctx, "c1")
	require.NoError(t, err)
	assert.ElementsMatch(t, pairs[:2], c1)

	none, err := repo.ListClientPairs(ctx, "c9")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testTransaction(id ledger.TransactionID, created time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:             id,
		ClientID:       "c1",
		StoreID:        "s1",
		Program:        ledger.ProgramGeneral,
		PurchaseAmount: money("100.00"),
		Split: ledger.Split{
			TotalCashback: money("10.00"),
			ClientValue:   money("5.00"),
			AdminValue:    money("1.00"),
			StoreValue:    money("4.00"),
		},
		Status:    ledger.StatusPending,
		CreatedAt: created,
	}
}

func TestTransaction_SaveGetUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	missing, err := repo.GetTransaction(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	tx := testTransaction("tx-1", time.Now().UTC())
	require.NoError(t, repo.SaveTransaction(ctx, tx))

	got, err := repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.StatusPending, got.Status)
	assert.True(t, got.PurchaseAmount.Equal(money("100.00")))
	assert.True(t, got.Split.ClientValue.Equal(money("5.00")))
	assert.Nil(t, got.ApprovedAt)
	assert.Nil(t, got.ReversedAt)

	approvedAt := time.Now().UTC()
	tx.Status = ledger.StatusApproved
	tx.ApprovedAt = &approvedAt
	require.NoError(t, repo.SaveTransaction(ctx, tx))

	got, err = repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))
}

func TestTransaction_ListByClient_CreationOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, repo.SaveTransaction(ctx, testTransaction("tx-b", base.Add(time.Second))))
	require.NoError(t, repo.SaveTransaction(ctx, testTransaction("tx-a", base)))

	other := testTransaction("tx-c", base)
	other.ClientID = "c2"
	require.NoError(t, repo.SaveTransaction(ctx, other))

	list, err := repo.ListTransactionsByClient(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.TransactionID("tx-a"), list[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-b"), list[1].ID)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_ClientRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	missing, err := repo.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	c := ledger.Client{ID: "c1", Name: "Ada", Program: ledger.ProgramGeneral, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.SaveClient(ctx, c))

	got, err := repo.GetClient(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, ledger.ProgramGeneral, got.Program)

	// Program changes are upserts on the same row.
	c.Program = ledger.ProgramPartner
	require.NoError(t, repo.SaveClient(ctx, c))

	got, err = repo.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProgramPartner, got.Program)

	all, err := repo.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDirectory_StoreRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s := ledger.Store{
		ID:   "s1",
		Name: "Corner Cafe",
		Config: ledger.StoreConfig{
			CashbackPercent: decimal.RequireFromString("10"),
			ClientPercent:   decimal.RequireFromString("50"),
			AdminPercent:    decimal.RequireFromString("10"),
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveStore(ctx, s))

	got, err := repo.GetStore(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Corner Cafe", got.Name)
	assert.True(t, got.Config.CashbackPercent.Equal(decimal.RequireFromString("10")))
	assert.True(t, got.Config.ClientPercent.Equal(decimal.RequireFromString("50")))

	all, err := repo.ListStores(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// TRANSACTIONS (STORAGE-LEVEL)
// =============================================================================

func TestWithTx_CommitsAllWrites(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	err := repo.WithTx(ctx, func(r ledger.Repository) error {
		if err := r.AppendMovement(ctx, creditMovement(pair, "k1", "5.00")); err != nil {
			return err
		}
		b := ledger.NewBalance(pair)
		b.TotalCredited = money("5.00")
		b.AvailableAmount = money("5.00")
		return r.SaveBalance(ctx, b)
	})
	require.NoError(t, err)

	movements, err := repo.LoadMovements(ctx, pair)
	require.NoError(t, err)
	assert.Len(t, movements, 1)

	_, found, err := repo.GetBalance(ctx, pair)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(r ledger.Repository) error {
		if err := r.AppendMovement(ctx, creditMovement(pair, "k1", "5.00")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	movements, err := repo.LoadMovements(ctx, pair)
	require.NoError(t, err)
	assert.Empty(t, movements, "rolled-back movement must not persist")

	exists, err := repo.MovementExists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	// The projection reads the balance it just wrote within the same
	// transaction, so the tx-scoped repository must serve its own writes.
	repo := newTestRepo(t)
	ctx := context.Background()
	pair := testPair()

	err := repo.WithTx(ctx, func(r ledger.Repository) error {
		if err := r.AppendMovement(ctx, creditMovement(pair, "k1", "5.00")); err != nil {
			return err
		}
		exists, err := r.MovementExists(ctx, "k1")
		if err != nil {
			return err
		}
		require.True(t, exists, "in-tx read must see the in-tx write")
		return nil
	})
	require.NoError(t, err)
}
