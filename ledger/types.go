/*
Package ledger provides the cashback ledger and balance engine.

PURPOSE:
  This package contains the core rules of the cashback platform: splitting
  a purchase's cashback into client/store/admin shares, moving a purchase
  transaction through its approval lifecycle, keeping an append-only journal
  of balance movements per (client, store) pair, and deriving the spendable
  balance that redemption checks against.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount with exact decimal arithmetic
  - Split: The client/store/admin division of a purchase's cashback
  - Transaction: An immutable purchase record carrying its split and status
  - Movement: An append-only ledger entry (credit, use, reversal, adjustment)
  - Balance: The cached projection of a (client, store) pair's movements

DESIGN PRINCIPLES:
  1. Immutability: Movements are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing client/store IDs
  4. Auditability: Every movement carries its transaction link and key

SEE ALSO:
  - split.go: Cashback share calculation
  - journal.go: Movement persistence
  - projection.go: Balance derivation from the journal
*/
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount with exact arithmetic
// =============================================================================

// Money is a monetary amount in the platform currency.
// All amounts are kept at two decimal places (the minor unit).
type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value).RoundBank(2)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money          { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money          { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s)} }
func (m Money) Neg() Money                 { return Money{Value: m.Value.Neg()} }
func (m Money) RoundMinor() Money          { return Money{Value: m.Value.RoundBank(2)} }
func (m Money) IsNegative() bool           { return m.Value.IsNegative() }
func (m Money) IsPositive() bool           { return m.Value.IsPositive() }
func (m Money) IsZero() bool               { return m.Value.IsZero() }
func (m Money) Equal(o Money) bool         { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool   { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool      { return m.Value.LessThan(o.Value) }
func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}
func (m Money) String() string             { return m.Value.StringFixed(2) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type StoreID string
type TransactionID string
type MovementID string

func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }
func NewMovementID() MovementID       { return MovementID(uuid.NewString()) }

// =============================================================================
// WALLET PROGRAM - Ledger namespace a client belongs to
// =============================================================================

// Program identifies the wallet program a client's balances live in.
// Balances never mix across programs.
type Program string

const (
	ProgramGeneral Program = "general"
	ProgramPartner Program = "partner"
)

func (p Program) Valid() bool {
	return p == ProgramGeneral || p == ProgramPartner
}

// PairKey addresses one balance: a (client, store) pair inside a program
// namespace. Every journal and projection operation is scoped to one key.
type PairKey struct {
	Program  Program
	ClientID ClientID
	StoreID  StoreID
}

func (p PairKey) String() string {
	return fmt.Sprintf("%s/%s/%s", p.Program, p.ClientID, p.StoreID)
}

// =============================================================================
// SPLIT - Division of a purchase's cashback
// =============================================================================

// Split is the result of dividing a purchase's total cashback between the
// client, the admin party, and the store. StoreValue is always the remainder
// so the three shares sum to TotalCashback exactly.
type Split struct {
	TotalCashback Money
	ClientValue   Money
	AdminValue    Money
	StoreValue    Money
}

// StoreConfig is the cashback configuration of a store.
// CashbackPercent is applied to the purchase amount; ClientPercent and
// AdminPercent divide the resulting cashback (store share is the remainder).
type StoreConfig struct {
	CashbackPercent decimal.Decimal
	ClientPercent   decimal.Decimal
	AdminPercent    decimal.Decimal
}

// =============================================================================
// TRANSACTION - Immutable purchase record
// =============================================================================

type Status string

const (
	StatusPending        Status = "pending"
	StatusApproved       Status = "approved"
	StatusCanceled       Status = "canceled"
	StatusPaymentPending Status = "payment_pending"
	StatusReversed       Status = "reversed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCanceled, StatusPaymentPending, StatusReversed:
		return true
	}
	return false
}

// Transaction records a purchase and its computed cashback split.
// The split fields never change after creation; only Status, ApprovedAt and
// ReversedAt move, and only through the state machine.
type Transaction struct {
	ID             TransactionID
	ClientID       ClientID
	StoreID        StoreID
	Program        Program
	PurchaseAmount Money
	Split          Split
	Status         Status
	CreatedAt      time.Time
	ApprovedAt     *time.Time
	ReversedAt     *time.Time
}

// =============================================================================
// MOVEMENT - Append-only ledger entry
// =============================================================================

type MovementKind string

const (
	KindCredit     MovementKind = "credit"
	KindUse        MovementKind = "use"
	KindReversal   MovementKind = "reversal"
	KindAdjustment MovementKind = "adjustment"
)

func (k MovementKind) Valid() bool {
	switch k {
	case KindCredit, KindUse, KindReversal, KindAdjustment:
		return true
	}
	return false
}

// Movement is one balance-affecting event for a (client, store) pair.
// Amount is always positive; the kind determines the direction.
// TransactionID is empty for manual adjustments.
type Movement struct {
	ID             MovementID
	Seq            int64 // store-assigned, strictly increasing per pair
	Pair           PairKey
	Kind           MovementKind
	Amount         Money
	TransactionID  TransactionID
	IdempotencyKey string
	Reason         string
	CreatedAt      time.Time
}

// Delta returns the signed effect of the movement on available balance.
func (m Movement) Delta() Money {
	switch m.Kind {
	case KindCredit, KindAdjustment:
		return m.Amount
	case KindUse, KindReversal:
		return m.Amount.Neg()
	}
	return ZeroMoney()
}

// =============================================================================
// BALANCE - Cached projection per (client, store) pair
// =============================================================================

// Balance is the derived, cached projection of a pair's journal.
// Invariant: AvailableAmount == TotalCredited - TotalUsed - TotalReversed,
// and AvailableAmount >= 0 at all times. It must always be re-derivable by
// replaying the journal (see projection.go Rebuild).
type Balance struct {
	Pair            PairKey
	AvailableAmount Money
	TotalCredited   Money
	TotalUsed       Money
	TotalReversed   Money

	// Frozen marks a pair whose cached projection disagreed with a journal
	// replay. Writes are rejected until an operator reconciles it.
	Frozen    bool
	UpdatedAt time.Time
}

// NewBalance returns the zero balance for a pair. Balances are created
// lazily on first credit and never deleted.
func NewBalance(pair PairKey) Balance {
	return Balance{
		Pair:            pair,
		AvailableAmount: ZeroMoney(),
		TotalCredited:   ZeroMoney(),
		TotalUsed:       ZeroMoney(),
		TotalReversed:   ZeroMoney(),
	}
}

// apply folds one movement into the projection. The caller is responsible
// for atomicity and for rejecting overdrafts before calling.
func (b Balance) apply(m Movement) Balance {
	switch m.Kind {
	case KindCredit:
		b.TotalCredited = b.TotalCredited.Add(m.Amount)
	case KindUse:
		b.TotalUsed = b.TotalUsed.Add(m.Amount)
	case KindReversal:
		b.TotalReversed = b.TotalReversed.Add(m.Amount)
	case KindAdjustment:
		b.TotalCredited = b.TotalCredited.Add(m.Amount)
	}
	b.AvailableAmount = b.TotalCredited.Sub(b.TotalUsed).Sub(b.TotalReversed)
	b.UpdatedAt = m.CreatedAt
	return b
}

// =============================================================================
// DIRECTORY RECORDS - Clients and stores as seen by the engine
// =============================================================================

// Client is the engine's view of a client: an identifier and the wallet
// program the client is routed to. The program changes only through an
// explicit administrative call, never implicitly.
type Client struct {
	ID        ClientID
	Name      string
	Program   Program
	CreatedAt time.Time
}

// Store is the engine's view of a participating store.
type Store struct {
	ID        StoreID
	Name      string
	Config    StoreConfig
	CreatedAt time.Time
}
