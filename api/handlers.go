/*
handlers.go - HTTP API handlers for the cashback engine

PURPOSE:
  Exposes the cashback ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Clients:
    GET    /api/clients                List all clients
    POST   /api/clients                Register client
    GET    /api/clients/{id}           Get client details
    POST   /api/clients/{id}/program   Switch wallet program
    GET    /api/clients/{id}/transactions  Purchase history
    GET    /api/clients/{id}/stores/{storeID}/balance    Balance at store
    GET    /api/clients/{id}/stores/{storeID}/movements  Journal at store
    POST   /api/clients/{id}/redeem    Spend cashback at a store

  Stores:
    GET    /api/stores                 List all stores
    POST   /api/stores                 Register store with split config
    GET    /api/stores/{id}            Get store details

  Transactions:
    POST   /api/transactions           Register purchase (pending)
    GET    /api/transactions/{id}      Get transaction
    POST   /api/transactions/{id}/status  Transition status

  Admin:
    POST   /api/admin/adjustments      Manual balance correction
    POST   /api/admin/audit            Run integrity sweep now
    POST   /api/admin/reconcile        Rebuild one pair from the journal

ERROR HANDLING:
  Domain errors map to HTTP status via the ledger error taxonomy:
  - 400: Validation errors, invalid input, bad transition
  - 404: Unknown client, store, or transaction
  - 409: Business rejections (insufficient funds, wrong store/program,
         frozen pair, duplicate idempotency key)
  - 503: Busy pair or lock timeout; safe to retry

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - auditor.go: Background integrity sweep
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/cashback-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Repo   ledger.TxRepository
}

// NewHandler creates a new handler around the engine and its repository.
func NewHandler(engine *ledger.Engine, repo ledger.TxRepository) *Handler {
	return &Handler{Engine: engine, Repo: repo}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all registered clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Repo.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = ClientDTO{
			ID:        string(c.ID),
			Name:      c.Name,
			Program:   string(c.Program),
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	c, err := h.Repo.GetClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get client", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, ClientDTO{
		ID:        string(c.ID),
		Name:      c.Name,
		Program:   string(c.Program),
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	})
}

// CreateClient registers a new client. Program defaults to general.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Client id is required", nil)
		return
	}

	program := ledger.Program(req.Program)
	if program == "" {
		program = ledger.ProgramGeneral
	}
	if !program.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown wallet program", nil)
		return
	}

	c := ledger.Client{
		ID:        ledger.ClientID(req.ID),
		Name:      req.Name,
		Program:   program,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Repo.SaveClient(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}

	writeJSON(w, http.StatusCreated, ClientDTO{
		ID:      string(c.ID),
		Name:    c.Name,
		Program: string(c.Program),
	})
}

// SetProgram switches a client's wallet program. Existing balances keep
// their original namespace; only new activity lands in the new one.
func (h *Handler) SetProgram(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	var req SetProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Engine.SetProgram(r.Context(), id, ledger.Program(req.Program)); err != nil {
		writeDomainError(w, "Failed to set program", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"program": req.Program})
}

// GetClientTransactions returns a client's purchase history.
func (h *Handler) GetClientTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))

	txs, err := h.Repo.ListTransactionsByClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STORE HANDLERS
// =============================================================================

// ListStores returns all registered stores.
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.Repo.ListStores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list stores", err)
		return
	}

	dtos := make([]StoreDTO, len(stores))
	for i, s := range stores {
		dtos[i] = toStoreDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStore returns a single store.
func (h *Handler) GetStore(w http.ResponseWriter, r *http.Request) {
	id := ledger.StoreID(chi.URLParam(r, "id"))

	s, err := h.Repo.GetStore(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get store", err)
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "Store not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStoreDTO(*s))
}

// CreateStore registers a store with its cashback configuration.
// Percentages are validated the same way the split calculator validates
// them, so a bad configuration is rejected at registration time.
func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Store id is required", nil)
		return
	}

	cfg, err := parseStoreConfig(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid percentage", err)
		return
	}
	// Probe the config against a nominal amount so invalid percentages
	// are caught here instead of on the first purchase.
	if _, err := ledger.CalculateSplit(ledger.NewMoneyFromInt(100), cfg); err != nil {
		writeDomainError(w, "Invalid store configuration", err)
		return
	}

	s := ledger.Store{
		ID:        ledger.StoreID(req.ID),
		Name:      req.Name,
		Config:    cfg,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Repo.SaveStore(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create store", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStoreDTO(s))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// CreateTransaction registers a purchase in pending status. The cashback
// split is computed immediately from the store's configuration; no balance
// changes until approval.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.PurchaseAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase_amount", err)
		return
	}

	store, err := h.Repo.GetStore(r.Context(), ledger.StoreID(req.StoreID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get store", err)
		return
	}
	if store == nil {
		writeError(w, http.StatusNotFound, "Store not found", nil)
		return
	}

	tx, err := h.Engine.CreateTransaction(r.Context(),
		ledger.ClientID(req.ClientID), store.ID, amount, store.Config)
	if err != nil {
		writeDomainError(w, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Engine.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// TransitionStatus moves a transaction through its lifecycle. Approving
// posts the client's cashback credit; reversing posts a compensating
// movement capped at what the client has not yet spent.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.TransitionStatus(r.Context(), id, ledger.Status(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to transition status", err)
		return
	}

	writeJSON(w, http.StatusOK, TransitionResponse{
		Transaction: toTransactionDTO(result.Transaction),
		Movements:   toMovementDTOs(result.Movements),
		Partial:     result.Partial,
	})
}

// =============================================================================
// BALANCE AND REDEMPTION HANDLERS
// =============================================================================

// checkProgramPin enforces an optional wallet-program pin: when the caller
// names a program, it must be the one the client is routed to. An empty pin
// means the caller defers to the client's assigned program.
func (h *Handler) checkProgramPin(r *http.Request, clientID ledger.ClientID, storeID ledger.StoreID, program string) error {
	if program == "" {
		return nil
	}
	_, err := h.Engine.Router().PairFor(r.Context(), clientID, storeID, ledger.Program(program))
	return err
}

// GetBalance returns a client's balance at one store. A pair with no
// activity yet reads as zero, not as an error. The optional ?program=
// query parameter pins the wallet namespace; a mismatch is rejected.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	clientID := ledger.ClientID(chi.URLParam(r, "id"))
	storeID := ledger.StoreID(chi.URLParam(r, "storeID"))

	if err := h.checkProgramPin(r, clientID, storeID, r.URL.Query().Get("program")); err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	b, err := h.Engine.GetBalance(r.Context(), clientID, storeID)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetMovements returns the full journal for a client at one store, in
// posting order. Accepts the same ?program= pin as GetBalance.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	clientID := ledger.ClientID(chi.URLParam(r, "id"))
	storeID := ledger.StoreID(chi.URLParam(r, "storeID"))

	if err := h.checkProgramPin(r, clientID, storeID, r.URL.Query().Get("program")); err != nil {
		writeDomainError(w, "Failed to list movements", err)
		return
	}

	movements, err := h.Engine.ListMovements(r.Context(), clientID, storeID)
	if err != nil {
		writeDomainError(w, "Failed to list movements", err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// Redeem spends cashback at the store where it was earned.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	clientID := ledger.ClientID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	if err := h.checkProgramPin(r, clientID, ledger.StoreID(req.StoreID), req.Program); err != nil {
		writeDomainError(w, "Redemption rejected", err)
		return
	}

	result, err := h.Engine.AuthorizeUse(r.Context(), clientID, ledger.StoreID(req.StoreID), amount)
	if err != nil {
		writeDomainError(w, "Redemption rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		MovementID: string(result.MovementID),
		Balance:    toBalanceDTO(result.NewBalance),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment posts a manual credit movement with an operator reason.
// Decreases go through transaction reversal, never through adjustments.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "Adjustment reason is required", nil)
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	result, err := h.Engine.Adjust(r.Context(),
		ledger.ClientID(req.ClientID), ledger.StoreID(req.StoreID), amount, req.Reason)
	if err != nil {
		writeDomainError(w, "Adjustment rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, RedeemResponse{
		MovementID: string(result.MovementID),
		Balance:    toBalanceDTO(result.NewBalance),
	})
}

// TriggerAudit sweeps every known pair and verifies the cached balance
// against a journal replay. Mismatched pairs are frozen and reported.
func (h *Handler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pairs, err := h.Engine.ListPairs(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pairs", err)
		return
	}

	resp := AuditResponse{PairsChecked: len(pairs), Mismatches: []string{}}
	for _, pair := range pairs {
		if err := h.Engine.VerifyPair(ctx, pair); err != nil {
			var integrityErr *ledger.IntegrityError
			if errors.As(err, &integrityErr) {
				resp.Mismatches = append(resp.Mismatches, pair.String())
				continue
			}
			writeError(w, http.StatusInternalServerError, "Audit failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reconcile rebuilds one pair's cached balance from the journal and
// unfreezes it. This is the recovery path after an audit mismatch.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, err := h.Engine.Router().Resolve(r.Context(), ledger.ClientID(req.ClientID))
	if err != nil {
		writeDomainError(w, "Failed to resolve client", err)
		return
	}

	pair := ledger.PairKey{
		Program:  program,
		ClientID: ledger.ClientID(req.ClientID),
		StoreID:  ledger.StoreID(req.StoreID),
	}
	b, err := h.Engine.ReconcilePair(r.Context(), pair)
	if err != nil {
		writeDomainError(w, "Reconcile failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// HELPERS
// =============================================================================

func toStoreDTO(s ledger.Store) StoreDTO {
	return StoreDTO{
		ID:              string(s.ID),
		Name:            s.Name,
		CashbackPercent: s.Config.CashbackPercent.String(),
		ClientPercent:   s.Config.ClientPercent.String(),
		AdminPercent:    s.Config.AdminPercent.String(),
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
	}
}

func parseStoreConfig(req CreateStoreRequest) (ledger.StoreConfig, error) {
	cashback, err := decimal.NewFromString(req.CashbackPercent)
	if err != nil {
		return ledger.StoreConfig{}, err
	}
	client, err := decimal.NewFromString(req.ClientPercent)
	if err != nil {
		return ledger.StoreConfig{}, err
	}
	admin, err := decimal.NewFromString(req.AdminPercent)
	if err != nil {
		return ledger.StoreConfig{}, err
	}
	return ledger.StoreConfig{
		CashbackPercent: cashback,
		ClientPercent:   client,
		AdminPercent:    admin,
	}, nil
}

// parseAmount parses a positive money string.
func parseAmount(s string) (ledger.Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return ledger.Money{}, err
	}
	m := ledger.Money{Value: d}
	if !m.IsPositive() {
		return ledger.Money{}, ledger.ErrInvalidAmount
	}
	return m, nil
}

// writeDomainError maps ledger errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case ledger.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, message, err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
