package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashback-engine/ledger"
	"github.com/warp/cashback-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*ledger.Engine, *store.TxMemory) {
	t.Helper()
	repo := store.NewTxMemory()
	return ledger.NewEngine(repo), repo
}

func seedClient(t *testing.T, repo ledger.TxRepository, id string, program ledger.Program) {
	t.Helper()
	err := repo.SaveClient(context.Background(), ledger.Client{
		ID:        ledger.ClientID(id),
		Name:      "Client " + id,
		Program:   program,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func seedStore(t *testing.T, repo ledger.TxRepository, id string, cfg ledger.StoreConfig) {
	t.Helper()
	err := repo.SaveStore(context.Background(), ledger.Store{
		ID:        ledger.StoreID(id),
		Name:      "Store " + id,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

// approveTx creates a purchase and approves it, crediting the client share.
func approveTx(t *testing.T, e *ledger.Engine, client, storeID, amount string, cfg ledger.StoreConfig) *ledger.Transaction {
	t.Helper()
	ctx := context.Background()

	tx, err := e.CreateTransaction(ctx, ledger.ClientID(client), ledger.StoreID(storeID), money(amount), cfg)
	require.NoError(t, err)

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusApproved)
	require.NoError(t, err)
	return result.Transaction
}

// =============================================================================
// TRANSACTION CREATION
// =============================================================================

func TestEngine_CreateTransaction_PendingWithSplit(t *testing.T) {
	// GIVEN: A registered client and store
	// WHEN: Registering a 100.00 purchase
	// THEN: Transaction is pending with the computed split, no balance change

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx, err := e.CreateTransaction(ctx, "c1", "s1", money("100.00"), splitCfg("10", "50", "10"))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.Equal(t, ledger.ProgramGeneral, tx.Program)
	assert.True(t, tx.Split.ClientValue.Equal(money("5.00")))
	assert.NotEmpty(t, tx.ID)

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.IsZero(), "pending purchase must not credit anything")
}

func TestEngine_CreateTransaction_UnknownClient(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateTransaction(context.Background(), "ghost", "s1", money("10.00"), splitCfg("10", "50", "10"))
	assert.ErrorIs(t, err, ledger.ErrClientNotFound)
}

// =============================================================================
// APPROVAL AND CREDIT
// =============================================================================

func TestEngine_Approve_CreditsClientShare(t *testing.T) {
	// GIVEN: A pending 100.00 purchase with client share 5.00
	// WHEN: Approving it
	// THEN: Exactly one credit movement posts and available becomes 5.00

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx, err := e.CreateTransaction(ctx, "c1", "s1", money("100.00"), splitCfg("10", "50", "10"))
	require.NoError(t, err)

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusApproved)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusApproved, result.Transaction.Status)
	require.NotNil(t, result.Transaction.ApprovedAt)
	require.Len(t, result.Movements, 1)
	assert.Equal(t, ledger.KindCredit, result.Movements[0].Kind)
	assert.True(t, result.Movements[0].Amount.Equal(money("5.00")))

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.Equal(money("5.00")))
	assert.True(t, b.TotalCredited.Equal(money("5.00")))
}

func TestEngine_ApproveRetry_CreditsExactlyOnce(t *testing.T) {
	// GIVEN: An approved transaction whose credit already posted
	// WHEN: The approval is retried (timeout on the caller's side)
	// THEN: The retry is a no-op; exactly one credit exists

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx, err := e.CreateTransaction(ctx, "c1", "s1", money("100.00"), splitCfg("10", "50", "10"))
	require.NoError(t, err)

	_, err = e.TransitionStatus(ctx, tx.ID, ledger.StatusApproved)
	require.NoError(t, err)

	retry, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusApproved)
	require.NoError(t, err)
	assert.Empty(t, retry.Movements, "retry must not emit a second credit")

	movements, err := e.ListMovements(ctx, "c1", "s1")
	require.NoError(t, err)
	require.Len(t, movements, 1)

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.Equal(money("5.00")), "balance credited exactly once")
}

func TestEngine_Cancel_NoLedgerEffect(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx, err := e.CreateTransaction(ctx, "c1", "s1", money("100.00"), splitCfg("10", "50", "10"))
	require.NoError(t, err)

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusCanceled)
	require.NoError(t, err)
	assert.Empty(t, result.Movements)

	movements, err := e.ListMovements(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Empty(t, movements)
}

// =============================================================================
// REDEMPTION GUARD
// =============================================================================

func TestEngine_AuthorizeUse_SpendsAtEarningStore(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	result, err := e.AuthorizeUse(ctx, "c1", "s1", money("3.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.MovementID)
	assert.True(t, result.NewBalance.AvailableAmount.Equal(money("2.00")))
	assert.True(t, result.NewBalance.TotalUsed.Equal(money("3.00")))
}

func TestEngine_AuthorizeUse_InsufficientBalance(t *testing.T) {
	// GIVEN: 5.00 available
	// WHEN: Spending 5.01
	// THEN: Rejected with the shortfall detailed; balance untouched

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	_, err := e.AuthorizeUse(ctx, "c1", "s1", money("5.01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.True(t, insErr.Available.Equal(money("5.00")))
	assert.True(t, insErr.Requested.Equal(money("5.01")))

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.Equal(money("5.00")))
}

func TestEngine_AuthorizeUse_WrongStore(t *testing.T) {
	// GIVEN: Cashback earned at store A only
	// WHEN: Trying to spend it at store B
	// THEN: Rejected as a wrong-store spend, not a shortage

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "sA", splitCfg("10", "50", "10"))
	seedStore(t, repo, "sB", splitCfg("10", "50", "10"))

	approveTx(t, e, "c1", "sA", "100.00", splitCfg("10", "50", "10"))

	_, err := e.AuthorizeUse(ctx, "c1", "sB", money("1.00"))
	assert.ErrorIs(t, err, ledger.ErrWrongStore)
}

func TestEngine_AuthorizeUse_UnknownStore(t *testing.T) {
	e, repo := newTestEngine(t)
	seedClient(t, repo, "c1", ledger.ProgramGeneral)

	_, err := e.AuthorizeUse(context.Background(), "c1", "ghost", money("1.00"))
	assert.ErrorIs(t, err, ledger.ErrStoreNotFound)
}

func TestEngine_AuthorizeUse_ExactBalanceToZero(t *testing.T) {
	// Spending exactly the available amount succeeds and lands on zero.
	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	result, err := e.AuthorizeUse(ctx, "c1", "s1", money("5.00"))
	require.NoError(t, err)
	assert.True(t, result.NewBalance.AvailableAmount.IsZero())
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestEngine_Reverse_FullWhenUnspent(t *testing.T) {
	// GIVEN: 5.00 credited, nothing spent
	// WHEN: Reversing the purchase
	// THEN: The full 5.00 comes back out, balance is zero, not partial

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx := approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusReversed)
	require.NoError(t, err)
	assert.False(t, result.Partial)
	require.Len(t, result.Movements, 1)
	assert.Equal(t, ledger.KindReversal, result.Movements[0].Kind)
	assert.True(t, result.Movements[0].Amount.Equal(money("5.00")))

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.IsZero())
	assert.True(t, b.TotalReversed.Equal(money("5.00")))
}

func TestEngine_Reverse_PartialAfterSpend(t *testing.T) {
	// GIVEN: 5.00 credited, 3.00 already spent
	// WHEN: Reversing the purchase
	// THEN: Only the unused 2.00 is reversed, balance lands on zero
	//       and never goes negative

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx := approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	_, err := e.AuthorizeUse(ctx, "c1", "s1", money("3.00"))
	require.NoError(t, err)

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusReversed)
	require.NoError(t, err)
	assert.True(t, result.Partial, "capped reversal must be reported as partial")
	require.Len(t, result.Movements, 1)
	assert.True(t, result.Movements[0].Amount.Equal(money("2.00")))

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.True(t, b.AvailableAmount.IsZero())
	assert.True(t, b.TotalCredited.Equal(money("5.00")))
	assert.True(t, b.TotalUsed.Equal(money("3.00")))
	assert.True(t, b.TotalReversed.Equal(money("2.00")))
}

func TestEngine_Reverse_NothingLeft(t *testing.T) {
	// Everything spent: the reversal emits no movement but the status
	// still becomes reversed.
	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	tx := approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	_, err := e.AuthorizeUse(ctx, "c1", "s1", money("5.00"))
	require.NoError(t, err)

	result, err := e.TransitionStatus(ctx, tx.ID, ledger.StatusReversed)
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Empty(t, result.Movements)
	assert.Equal(t, ledger.StatusReversed, result.Transaction.Status)
}

// =============================================================================
// WALLET PROGRAM ISOLATION
// =============================================================================

func TestEngine_ProgramNamespaces_Isolated(t *testing.T) {
	// GIVEN: A general client and a partner client earning at the same store
	// WHEN: Each earns cashback
	// THEN: Balances live in separate namespaces; neither sees the other

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "gen", ledger.ProgramGeneral)
	seedClient(t, repo, "par", ledger.ProgramPartner)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	approveTx(t, e, "gen", "s1", "100.00", splitCfg("10", "50", "10"))
	approveTx(t, e, "par", "s1", "200.00", splitCfg("10", "50", "10"))

	genBal, err := e.GetBalance(ctx, "gen", "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProgramGeneral, genBal.Pair.Program)
	assert.True(t, genBal.AvailableAmount.Equal(money("5.00")))

	parBal, err := e.GetBalance(ctx, "par", "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProgramPartner, parBal.Pair.Program)
	assert.True(t, parBal.AvailableAmount.Equal(money("10.00")))
}

func TestEngine_SetProgram_NewActivityOnly(t *testing.T) {
	// GIVEN: A general client with 5.00 at store s1
	// WHEN: The client moves to the partner program and earns again
	// THEN: The old balance stays in the general namespace; reads now
	//       resolve to the partner namespace

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	approveTx(t, e, "c1", "s1", "100.00", splitCfg("10", "50", "10"))

	require.NoError(t, e.SetProgram(ctx, "c1", ledger.ProgramPartner))

	b, err := e.GetBalance(ctx, "c1", "s1")
	require.NoError(t, err)
	assert.Equal(t, ledger.ProgramPartner, b.Pair.Program)
	assert.True(t, b.AvailableAmount.IsZero(), "partner namespace starts empty")

	// The general-namespace balance is still there, untouched.
	genPair := ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s1"}
	genBal, found, err := repo.GetBalance(ctx, genPair)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, genBal.AvailableAmount.Equal(money("5.00")))
}

func TestEngine_SetProgram_RejectsUnknownProgram(t *testing.T) {
	e, repo := newTestEngine(t)
	seedClient(t, repo, "c1", ledger.ProgramGeneral)

	err := e.SetProgram(context.Background(), "c1", "vip")
	assert.ErrorIs(t, err, ledger.ErrWrongWalletProgram)
}

func TestEngine_ProgramPin_RejectsMismatchedNamespace(t *testing.T) {
	// GIVEN: A client routed to the partner program
	// WHEN: A caller pins the general namespace for the client's pair
	// THEN: The router rejects the address instead of silently re-routing

	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramPartner)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	_, err := e.Router().PairFor(ctx, "c1", "s1", ledger.ProgramGeneral)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrWrongWalletProgram)

	// The matching pin resolves to the client's namespace.
	pair, err := e.Router().PairFor(ctx, "c1", "s1", ledger.ProgramPartner)
	require.NoError(t, err)
	assert.Equal(t, ledger.ProgramPartner, pair.Program)
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

func TestEngine_Adjust_CreditsWithReason(t *testing.T) {
	e, repo := newTestEngine(t)
	ctx := context.Background()
	seedClient(t, repo, "c1", ledger.ProgramGeneral)
	seedStore(t, repo, "s1", splitCfg("10", "50", "10"))

	result, err := e.Adjust(ctx, "c1", "s1", money("2.50"), "goodwill credit")
	require.NoError(t, err)
	assert.True(t, result.NewBalance.AvailableAmount.Equal(money("2.50")))

	movements, err := e.ListMovements(ctx, "c1", "s1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, ledger.KindAdjustment, movements[0].Kind)
	assert.Equal(t, "goodwill credit", movements[0].Reason)
}

func TestEngine_Adjust_RejectsNonPositive(t *testing.T) {
	e, repo := newTestEngine(t)
	seedClient(t, repo, "c1", ledger.ProgramGeneral)

	_, err := e.Adjust(context.Background(), "c1", "s1", money("0"), "noop")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// PAIR LOCKING
// =============================================================================

func TestPairLocks_BusyPairTimesOut(t *testing.T) {
	// GIVEN: One holder on a pair's lock
	// WHEN: A second acquirer waits past the timeout
	// THEN: It fails fast with ErrBusy; other pairs are unaffected

	locks := ledger.NewPairLocks()
	locks.Timeout = 20 * time.Millisecond
	ctx := context.Background()

	pair := ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s1"}
	other := ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s2"}

	release, err := locks.Acquire(ctx, pair)
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, pair)
	assert.ErrorIs(t, err, ledger.ErrBusy)

	// A different pair acquires immediately.
	releaseOther, err := locks.Acquire(ctx, other)
	require.NoError(t, err)
	releaseOther()

	// After release the original pair is free again.
	release()
	release2, err := locks.Acquire(ctx, pair)
	require.NoError(t, err)
	release2()
}

func TestPairLocks_AcquireHonorsContext(t *testing.T) {
	locks := ledger.NewPairLocks()
	locks.Timeout = time.Minute
	pair := ledger.PairKey{Program: ledger.ProgramGeneral, ClientID: "c1", StoreID: "s1"}

	release, err := locks.Acquire(context.Background(), pair)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locks.Acquire(ctx, pair)
	assert.ErrorIs(t, err, context.Canceled)
}
