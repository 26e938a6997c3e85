// RCRT builder runs the derived-state workers: entity keyword
// extraction, relationship edges and the context assembler. Deployed
// as a single replica so per-record work is not duplicated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcrt-io/rcrt/pkg/builder"
	"github.com/rcrt-io/rcrt/pkg/database"
	"github.com/rcrt-io/rcrt/pkg/embedding"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/transform"
	"github.com/rcrt-io/rcrt/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	opsPort := getEnv("BUILDER_HTTP_PORT", "8081")
	slog.Info("Starting RCRT builder",
		"version", version.Full(), "ops_port", opsPort, "config_dir", *configDir)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB(), dbConfig.EmbeddingDim)

	// 2. Change fabric
	bus := events.NewBus()
	publisher := events.NewPublisher(dbClient.DB())

	listener := events.NewListener(dbConfig.DSN(), bus, dbClient.DB())
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start notify listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	slog.Info("Change fabric initialized")

	// 3. Transform engine and schema cache. The assembler invalidates
	// the cache itself off the event stream.
	engine := transform.NewEngine()
	cache := transform.NewSchemaCache(st)

	// 4. Embedding provider
	provider, err := embedding.NewProvider(embedding.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to initialize embedding provider", "error", err)
		os.Exit(1)
	}
	slog.Info("Embedding provider initialized",
		"provider", provider.Name(), "dim", provider.Dimension())

	m := metrics.New()
	builderCfg := builder.LoadConfigFromEnv()

	// 5. Derived-state workers
	entityWorker := builder.NewEntityWorker(st, bus, engine, cache, provider, builderCfg)
	entityWorker.Start(ctx)
	defer entityWorker.Stop()
	slog.Info("Entity worker started", "workers", builderCfg.Workers)

	edgeBuilder := builder.NewEdgeBuilder(st, bus, builderCfg)
	edgeBuilder.Start(ctx)
	defer edgeBuilder.Stop()
	slog.Info("Edge builder started")

	// 6. Context assembler
	assembler, err := builder.NewAssembler(st, bus, publisher, engine, cache, m, builderCfg)
	if err != nil {
		slog.Error("Failed to build assembler", "error", err)
		os.Exit(1)
	}
	assembler.Start(ctx)
	defer assembler.Stop()
	slog.Info("Context assembler started")

	// 7. Ops endpoint: health and metrics only, no API surface here
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := database.Health(reqCtx, dbClient.DB()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"unhealthy","error":%q}`, err.Error())
			return
		}
		fmt.Fprint(w, `{"status":"healthy"}`)
	})

	opsServer := &http.Server{
		Addr:              ":" + opsPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Ops server listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("RCRT builder started")

	// 8. Wait for shutdown signal or ops server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Ops server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Ops server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
