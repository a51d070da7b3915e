/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY REPRESENTATION:
  All money fields are JSON strings with two decimal places ("25.30").
  Clients must not do float arithmetic on them.

VALIDATION:
  Validation is done in handlers and domain logic, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/cashback-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Program   string `json:"program"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateClientRequest is the request to register a client.
type CreateClientRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Program string `json:"program"`
}

// SetProgramRequest switches a client's wallet program.
type SetProgramRequest struct {
	Program string `json:"program"`
}

// StoreDTO represents a store and its cashback configuration.
type StoreDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CashbackPercent string `json:"cashback_percent"`
	ClientPercent   string `json:"client_percent"`
	AdminPercent    string `json:"admin_percent"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// CreateStoreRequest is the request to register a store.
type CreateStoreRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CashbackPercent string `json:"cashback_percent"`
	ClientPercent   string `json:"client_percent"`
	AdminPercent    string `json:"admin_percent"`
}

// CreateTransactionRequest registers a purchase.
type CreateTransactionRequest struct {
	ClientID       string `json:"client_id"`
	StoreID        string `json:"store_id"`
	PurchaseAmount string `json:"purchase_amount"`
}

// TransactionDTO represents a purchase transaction in API responses.
type TransactionDTO struct {
	ID             string  `json:"id"`
	ClientID       string  `json:"client_id"`
	StoreID        string  `json:"store_id"`
	Program        string  `json:"program"`
	PurchaseAmount string  `json:"purchase_amount"`
	TotalCashback  string  `json:"total_cashback"`
	ClientValue    string  `json:"client_value"`
	AdminValue     string  `json:"admin_value"`
	StoreValue     string  `json:"store_value"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	ApprovedAt     *string `json:"approved_at,omitempty"`
	ReversedAt     *string `json:"reversed_at,omitempty"`
}

// TransitionRequest moves a transaction to a new status.
type TransitionRequest struct {
	Status string `json:"status"`
}

// TransitionResponse reports the outcome of a status change.
type TransitionResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Movements   []MovementDTO  `json:"movements"`
	Partial     bool           `json:"partial"`
}

// BalanceDTO represents a client's balance at one store.
type BalanceDTO struct {
	ClientID      string `json:"client_id"`
	StoreID       string `json:"store_id"`
	Program       string `json:"program"`
	Available     string `json:"available"`
	TotalCredited string `json:"total_credited"`
	TotalUsed     string `json:"total_used"`
	TotalReversed string `json:"total_reversed"`
	Frozen        bool   `json:"frozen"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// MovementDTO represents one journal entry.
type MovementDTO struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// RedeemRequest spends cashback at a store. Program optionally pins the
// wallet namespace the caller believes it is spending from; a mismatch with
// the client's assigned program is rejected rather than silently re-routed.
type RedeemRequest struct {
	StoreID string `json:"store_id"`
	Amount  string `json:"amount"`
	Program string `json:"program,omitempty"`
}

// RedeemResponse reports the posted redemption and the resulting balance.
type RedeemResponse struct {
	MovementID string     `json:"movement_id"`
	Balance    BalanceDTO `json:"balance"`
}

// AdjustmentRequest is an admin credit applied to a pair's balance.
type AdjustmentRequest struct {
	ClientID string `json:"client_id"`
	StoreID  string `json:"store_id"`
	Amount   string `json:"amount"`
	Reason   string `json:"reason"`
}

// AuditResponse reports an integrity sweep outcome.
type AuditResponse struct {
	PairsChecked int      `json:"pairs_checked"`
	Mismatches   []string `json:"mismatches"`
}

// ReconcileRequest names the pair to rebuild from the journal.
type ReconcileRequest struct {
	ClientID string `json:"client_id"`
	StoreID  string `json:"store_id"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:             string(tx.ID),
		ClientID:       string(tx.ClientID),
		StoreID:        string(tx.StoreID),
		Program:        string(tx.Program),
		PurchaseAmount: tx.PurchaseAmount.String(),
		TotalCashback:  tx.Split.TotalCashback.String(),
		ClientValue:    tx.Split.ClientValue.String(),
		AdminValue:     tx.Split.AdminValue.String(),
		StoreValue:     tx.Split.StoreValue.String(),
		Status:         string(tx.Status),
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.ApprovedAt != nil {
		dto.ApprovedAt = strPtr(tx.ApprovedAt.Format(time.RFC3339))
	}
	if tx.ReversedAt != nil {
		dto.ReversedAt = strPtr(tx.ReversedAt.Format(time.RFC3339))
	}
	return dto
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	dto := BalanceDTO{
		ClientID:      string(b.Pair.ClientID),
		StoreID:       string(b.Pair.StoreID),
		Program:       string(b.Pair.Program),
		Available:     b.AvailableAmount.String(),
		TotalCredited: b.TotalCredited.String(),
		TotalUsed:     b.TotalUsed.String(),
		TotalReversed: b.TotalReversed.String(),
		Frozen:        b.Frozen,
	}
	if !b.UpdatedAt.IsZero() {
		dto.UpdatedAt = b.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:            string(m.ID),
		Seq:           m.Seq,
		Kind:          string(m.Kind),
		Amount:        m.Amount.String(),
		TransactionID: string(m.TransactionID),
		Reason:        m.Reason,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
}

func toMovementDTOs(movements []ledger.Movement) []MovementDTO {
	dtos := make([]MovementDTO, len(movements))
	for i, m := range movements {
		dtos[i] = toMovementDTO(m)
	}
	return dtos
}

func strPtr(s string) *string {
	return &s
}
