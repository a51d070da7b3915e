/*
wallet.go - Wallet program routing

PURPOSE:
  Clients belong to one of several parallel wallet programs (the general
  program, or an affiliated-partner program). Each program is an isolated
  ledger namespace: a partner-program client's balances never appear in -
  and can never be spent from - the general ledger, and vice versa.

  Namespace selection happens HERE, once, before any journal or projection
  operation. Callers never check program flags themselves; they ask the
  router for the pair key and get ErrWrongWalletProgram when they address
  the wrong namespace.

  Moving a client between programs is an explicit administrative operation
  (SetProgram); it is never inferred from transaction data.
*/
package ledger

import (
	"context"
	"fmt"
)

// WalletRouter resolves which ledger namespace a client's operations target.
type WalletRouter struct {
	Directory DirectoryRepository
}

func NewWalletRouter(dir DirectoryRepository) *WalletRouter {
	return &WalletRouter{Directory: dir}
}

// Resolve returns the program the client is routed to.
func (wr *WalletRouter) Resolve(ctx context.Context, clientID ClientID) (Program, error) {
	c, err := wr.Directory.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("client %s: %w", clientID, ErrClientNotFound)
	}
	return c.Program, nil
}

// PairFor returns the namespaced pair key for a client at a store.
// When requested is non-empty the caller is pinning a specific program;
// a mismatch with the client's assigned program is rejected.
func (wr *WalletRouter) PairFor(ctx context.Context, clientID ClientID, storeID StoreID, requested Program) (PairKey, error) {
	assigned, err := wr.Resolve(ctx, clientID)
	if err != nil {
		return PairKey{}, err
	}
	if requested != "" && requested != assigned {
		return PairKey{}, fmt.Errorf("client %s is routed to %q, not %q: %w",
			clientID, assigned, requested, ErrWrongWalletProgram)
	}
	return PairKey{Program: assigned, ClientID: clientID, StoreID: storeID}, nil
}

// SetProgram reassigns a client to a program. Administrative action only;
// existing balances stay in their original namespace.
func (wr *WalletRouter) SetProgram(ctx context.Context, clientID ClientID, program Program) error {
	if !program.Valid() {
		return fmt.Errorf("program %q: %w", program, ErrWrongWalletProgram)
	}
	c, err := wr.Directory.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("client %s: %w", clientID, ErrClientNotFound)
	}
	c.Program = program
	return wr.Directory.SaveClient(ctx, *c)
}
