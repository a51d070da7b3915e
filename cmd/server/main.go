/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the cashback engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment variables, optional .env)
  2. Initialize SQLite repository
  3. Build the ledger engine
  4. Start the background integrity auditor
  5. Start HTTP server with graceful shutdown

CONFIGURATION:
  SERVER_PORT             HTTP server port (default: 8080)
  DATABASE_PATH           SQLite database path (default: ./data/cashback.db)
                          Use ":memory:" for in-memory database
  AUDIT_INTERVAL_SECONDS  Integrity sweep period, 0 disables (default: 300)
  LOCK_TIMEOUT_MS         Pair lock wait before busy error (default: 2000)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/cashback-engine/api"
	"github.com/warp/cashback-engine/config"
	"github.com/warp/cashback-engine/ledger"
	"github.com/warp/cashback-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize repository
	repo, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer repo.Close()

	// Build engine
	engine := ledger.NewEngine(repo)
	engine.SetLockTimeout(cfg.LockTimeout())

	// Background integrity auditor
	auditor := api.NewIntegrityAuditor(engine)
	if interval := cfg.AuditInterval(); interval > 0 {
		auditor.SweepInterval = interval
	} else {
		auditor.Enabled = false
	}
	auditor.Start()
	defer auditor.Stop()

	// HTTP layer
	handler := api.NewHandler(engine, repo)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.ServerPort)
		log.Printf("API available at http://localhost:%s/api", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
