/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + LEAVE_* environment variables)
  2. Open the storage backend (memory, sqlite or postgres)
  3. Build the tenant resolver over the policy registry
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to an optional YAML config file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Close the storage backend
  4. Exit

EXAMPLES:
  # Memory backend, default policies
  LEAVE_STORAGE_DRIVER=memory ./server

  # SQLite file database
  LEAVE_STORAGE_DRIVER=sqlite LEAVE_STORAGE_SQLITE_PATH=./data/leave.db ./server

  # PostgreSQL with a config file carrying the tenant registry
  ./server -config=./config.yaml

SEE ALSO:
  - config/config.go: Configuration schema
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/store/memory"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/tenant"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := cfg.NewLogger()

	ctx := context.Background()
	stores, cleanup, err := openStores(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer cleanup()

	resolver := tenant.NewResolver(tenant.ResolverConfig{
		Tenants:  cfg.TenantIDs(),
		Stores:   stores,
		Policies: cfg.PolicySource(),
		Log:      log,
	})

	handler := api.NewHandler(resolver, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).
			WithField("driver", cfg.Storage.Driver).
			WithField("tenants", len(cfg.Tenants)).
			Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}
	log.Info("server stopped")
}

func openStores(ctx context.Context, cfg *config.Config) (tenant.Stores, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		st := memory.New()
		return tenant.Stores{
			Ledger:     st.Ledger(),
			Leaves:     st.Leaves(),
			Attendance: st.Attendance(),
			Employees:  st,
		}, func() {}, nil

	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			return tenant.Stores{}, nil, err
		}
		return tenant.Stores{
			Ledger:     st.Ledger(),
			Leaves:     st.Leaves(),
			Attendance: st.Attendance(),
			Employees:  st,
		}, func() { st.Close() }, nil

	case config.DriverPostgres:
		st, err := postgres.Connect(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return tenant.Stores{}, nil, err
		}
		return tenant.Stores{
			Ledger:     st.Ledger(),
			Leaves:     st.Leaves(),
			Attendance: st.Attendance(),
			Employees:  st,
		}, func() { st.Close() }, nil
	}
	return tenant.Stores{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
