/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the material adjustment server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (YAML file, then command-line flags)
  2. Initialize logger and SQLite store
  3. Seed the catalog if one is configured
  4. Create API handler, router and session reaper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    YAML configuration file (optional)
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: material.db)
             Use ":memory:" for in-memory database
  -log-mode  development | production
  -debounce  Delay before rules run after a dimension edit (default: 5s)
  -seed      YAML catalog imported at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reaper and close every session (pending passes are dropped)
  4. Close database connection

EXAMPLES:
  # Run with a seeded in-memory database
  ./server -db=":memory:" -seed=./catalog.yaml

  # Apply rules immediately after every edit
  ./server -debounce=0

SEE ALSO:
  - config/config.go: Configuration file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"github.com/warp/material-engine/api"
	"github.com/warp/material-engine/config"
	"github.com/warp/material-engine/factory"
	"github.com/warp/material-engine/logger"
	"github.com/warp/material-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "material.db", "SQLite database path")
	logMode := flag.String("log-mode", "development", "Log mode: development or production")
	debounce := flag.Duration("debounce", config.DefaultDebounce, "Delay before rules run after a dimension edit")
	seed := flag.String("seed", "", "YAML catalog imported at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// explicit flags override the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		case "log-mode":
			cfg.LogMode = *logMode
		case "debounce":
			cfg.Debounce = *debounce
		case "seed":
			cfg.SeedCatalog = *seed
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", "db", cfg.DBPath, "error", err)
	}
	defer store.Close()

	if cfg.SeedCatalog != "" {
		if err := seedCatalog(context.Background(), store, cfg.SeedCatalog); err != nil {
			log.Fatal("failed to seed catalog", "path", cfg.SeedCatalog, "error", err)
		}
		log.Info("catalog seeded", "path", cfg.SeedCatalog)
	}

	handler := api.NewHandler(store, cfg, log)
	router := api.NewRouter(handler)

	reaper := api.NewSessionReaper(handler.Sessions, cfg, log)
	reaper.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", server.Addr, "debounce", cfg.Debounce.String(), "auto_calc", cfg.AutoCalcDimensions)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	reaper.Stop()
	if closed := handler.Sessions.CloseAll(); closed > 0 {
		log.Info("open sessions closed", "sessions", closed)
	}

	log.Info("server stopped")
}

// seedCatalog imports a catalog file on top of whatever the store holds.
func seedCatalog(ctx context.Context, store *sqlite.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	catalog, err := factory.ParseCatalog(data)
	if err != nil {
		return err
	}
	return catalog.Apply(ctx, store)
}
