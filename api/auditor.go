/*
auditor.go - Background integrity auditor

PURPOSE:
  Periodically sweeps every known (program, client, store) pair and
  verifies the cached balance against a full journal replay. A pair whose
  cache disagrees with the journal is frozen so no further writes can
  compound the damage; an operator reconciles it via the admin API.

DESIGN:
  - Runs a background goroutine with configurable sweep interval
  - Locks each pair while verifying so a concurrent write cannot produce
    a false mismatch
  - Never repairs automatically; freezing is the only side effect

CONFIGURATION:
  - SweepInterval: How often to sweep (default: 5 minutes)
  - Enabled: Whether the auditor is active (default: true)

USAGE:
  auditor := NewIntegrityAuditor(engine)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: TriggerAudit endpoint (manual sweep)
  - ledger/projection.go: Verify and Reconcile
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/warp/cashback-engine/ledger"
)

// IntegrityAuditor periodically verifies cached balances against the journal.
type IntegrityAuditor struct {
	Engine        *ledger.Engine
	SweepInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewIntegrityAuditor creates a new auditor.
func NewIntegrityAuditor(engine *ledger.Engine) *IntegrityAuditor {
	return &IntegrityAuditor{
		Engine:        engine,
		SweepInterval: 5 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the background sweep loop.
func (a *IntegrityAuditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled {
		log.Println("[Auditor] Disabled, not starting")
		return
	}

	a.ticker = time.NewTicker(a.SweepInterval)
	a.wg.Add(1)

	go a.run()

	log.Printf("[Auditor] Started with sweep interval: %v", a.SweepInterval)
}

// Stop stops the auditor and waits for an in-flight sweep to finish.
func (a *IntegrityAuditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.stop)
		a.wg.Wait()
		log.Println("[Auditor] Stopped")
	}
}

func (a *IntegrityAuditor) run() {
	defer a.wg.Done()

	// Sweep immediately on start
	a.sweep()

	for {
		select {
		case <-a.ticker.C:
			a.sweep()
		case <-a.stop:
			return
		}
	}
}

func (a *IntegrityAuditor) sweep() {
	ctx := context.Background()

	pairs, err := a.Engine.ListPairs(ctx)
	if err != nil {
		log.Printf("[Auditor] Error listing pairs: %v", err)
		return
	}

	checked := 0
	mismatched := 0

	for _, pair := range pairs {
		err := a.Engine.VerifyPair(ctx, pair)
		switch {
		case err == nil:
			checked++
		case errors.Is(err, ledger.ErrIntegrity):
			mismatched++
			log.Printf("[Auditor] Integrity mismatch on %s, pair frozen: %v", pair, err)
		case errors.Is(err, ledger.ErrBusy):
			// Pair is busy; the next sweep will get it.
			continue
		default:
			log.Printf("[Auditor] Error verifying %s: %v", pair, err)
		}
	}

	if mismatched > 0 {
		log.Printf("[Auditor] Sweep completed: %d verified, %d MISMATCHED", checked, mismatched)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (a *IntegrityAuditor) RunNow() {
	a.sweep()
}
