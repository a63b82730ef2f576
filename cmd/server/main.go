/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Studio Engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env + optional .env file)
  2. Initialize store (SQLite or in-memory)
  3. Wire the domain services (ledger, waitlist, booking engine,
     payment reconciler)
  4. Start the grant-expiry sweeper
  5. Start server with graceful shutdown

CONFIGURATION:
  All via STUDIO_* environment variables; see config/config.go.
  STUDIO_DB_PATH= (empty) runs entirely in memory for development.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper, close broker and database connections
  4. Exit

EXAMPLES:
  # Run in-memory (dev)
  go run ./cmd/server

  # Run with a file database on port 3000
  STUDIO_DB_PATH=./data/studio.db STUDIO_PORT=3000 go run ./cmd/server

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

	"github.com/warp/studio-engine/api"
	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/config"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/notify"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/store"
	"github.com/warp/studio-engine/store/sqlite"
	"github.com/warp/studio-engine/waitlist"
)

// dataStore is the union of every persistence interface the engine
// needs. Both the in-memory store and the SQLite store satisfy it.
type dataStore interface {
	registry.ClassStore
	booking.BookingStore
	waitlist.EntryStore
	waitlist.BookingGuard
	ledger.GrantStore
	catalog.PriceStore
	catalog.ProductStore
	catalog.MemberStore
	purchase.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Store: SQLite when a path is configured, in-memory otherwise.
	var st dataStore
	if cfg.DBPath != "" {
		sqliteStore, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer sqliteStore.Close()
		st = sqliteStore
		log.Printf("[Main] Using SQLite store at %s", cfg.DBPath)
	} else {
		st = store.NewMemory()
		log.Println("[Main] Using in-memory store (state is lost on restart)")
	}

	// Notifications: RabbitMQ when configured, process log otherwise.
	var notifier notify.Dispatcher = notify.LogDispatcher{}
	if cfg.AMQPURL != "" {
		amqpDispatcher, err := notify.NewAMQPDispatcher(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		defer amqpDispatcher.Close()
		notifier = amqpDispatcher
		log.Println("[Main] Publishing notifications to AMQP")
	}

	clk := clock.Real{}

	// Domain wiring. The waitlist manager and the booking engine
	// reference each other; the Booker side is assigned after the
	// engine exists.
	reg := registry.New(st, st)
	ledgerSvc := ledger.NewService(st, clk)
	pricing := catalog.StorePricing{Prices: st}
	manager := waitlist.NewManager(st, st, notifier, clk)
	engine := booking.NewEngine(reg, ledgerSvc, pricing, manager, st, notifier, clk, cfg.CancelWindow)
	manager.Booker = engine

	reconciler := purchase.NewReconciler(st, st, st, notifier, clk)

	handler := &api.Handler{
		Engine:     engine,
		Waitlist:   manager,
		Ledger:     ledgerSvc,
		Registry:   reg,
		Classes:    st,
		Prices:     st,
		Products:   st,
		Members:    st,
		Reconciler: reconciler,
		Clock:      clk,
	}

	sweeper := api.NewExpirySweeper(ledgerSvc, clk, cfg.SweepCron)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start expiry sweeper: %v", err)
	}
	defer sweeper.Stop()

	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[Main] Server starting on http://localhost:%d (env=%s)", cfg.Port, cfg.Env)
		log.Printf("[Main] API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Main] Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("[Main] Server stopped")
}
