// RCRT substrate server: serves the HTTP API, runs the change-fabric
// listener, the webhook dispatcher and the hygiene sweeper.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rcrt-io/rcrt/pkg/api"
	"github.com/rcrt-io/rcrt/pkg/auth"
	"github.com/rcrt-io/rcrt/pkg/database"
	"github.com/rcrt-io/rcrt/pkg/delivery"
	"github.com/rcrt-io/rcrt/pkg/embedding"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/hygiene"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/secrets"
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

// resolvePodID determines the pod identifier for multi-replica coordination.
// Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
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

	podID := resolvePodID()
	apiCfg := api.LoadConfigFromEnv()

	slog.Info("Starting RCRT server",
		"version", version.Full(),
		"http_port", apiCfg.Port,
		"pod_id", podID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Database (migrations and index sizing run inside NewClient)
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

	// 2. Store over the shared pool
	st := store.New(dbClient.DB(), dbConfig.EmbeddingDim)

	// 3. Change fabric: bus, publisher, notify listener
	bus := events.NewBus()
	publisher := events.NewPublisher(dbClient.DB())

	listener := events.NewListener(dbConfig.DSN(), bus, dbClient.DB())
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start notify listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)
	slog.Info("Change fabric initialized")

	// 4. Transform engine and schema cache, kept fresh off the bus
	engine := transform.NewEngine()
	cache := transform.NewSchemaCache(st)
	defWatcher := watchSchemaDefs(bus, cache)
	defer defWatcher.Close()

	// 5. Embedding provider
	embCfg := embedding.LoadConfigFromEnv()
	provider, err := embedding.NewProvider(embCfg)
	if err != nil {
		slog.Error("Failed to initialize embedding provider", "error", err)
		os.Exit(1)
	}
	slog.Info("Embedding provider initialized",
		"provider", provider.Name(), "dim", provider.Dimension())

	// 6. Secrets. Without a KMS the secret endpoints answer 503 while
	// the rest of the surface stays up.
	var secretsService *secrets.Service
	if strings.EqualFold(os.Getenv("KMS_DISABLED"), "true") {
		slog.Warn("KMS disabled, secret storage unavailable")
	} else {
		kms, err := secrets.NewLocalKMSFromEnv()
		if err != nil {
			slog.Error("Failed to initialize KMS", "error", err)
			os.Exit(1)
		}
		secretsService = secrets.NewService(st, kms)
		slog.Info("Secret storage initialized")
	}

	// 7. Metrics registry (shared by middleware and workers)
	m := metrics.New()

	// 8. Webhook dispatcher
	dispatcher := delivery.NewDispatcher(st, bus, m, delivery.LoadConfigFromEnv())
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	slog.Info("Webhook dispatcher started")

	// 9. Hygiene sweeper
	sweeper := hygiene.NewSweeper(st, publisher, hygiene.LoadConfigFromEnv())
	if err := sweeper.Start(ctx); err != nil {
		slog.Error("Failed to start hygiene sweeper", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()
	slog.Info("Hygiene sweeper started")

	// 10. Authentication
	authn, err := auth.NewAuthenticator(auth.LoadConfigFromEnv())
	if err != nil {
		slog.Error("Failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	// 11. HTTP server
	server, err := api.NewServer(apiCfg, api.Deps{
		DB:         dbClient,
		Store:      st,
		Publisher:  publisher,
		Bus:        bus,
		Dispatcher: dispatcher,
		Sweeper:    sweeper,
		Secrets:    secretsService,
		Engine:     engine,
		Cache:      cache,
		Provider:   provider,
		Authn:      authn,
		Metrics:    m,
	})
	if err != nil {
		slog.Error("Failed to build HTTP server", "error", err)
		os.Exit(1)
	}
	errCh := server.Start()

	slog.Info("RCRT server started", "pod_id", podID)

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: drain HTTP first so no new work arrives,
	// the deferred stops then unwind the workers and the fabric.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// watchSchemaDefs invalidates cached llm_hints when a schema.def.v1
// record changes. The defines:<target> tag names which schema's hints
// the definition drives.
func watchSchemaDefs(bus *events.Bus, cache *transform.SchemaCache) *events.Subscription {
	sub := bus.Subscribe("bc.>", 64)
	go func() {
		for evt := range sub.C {
			env := evt.Envelope
			if env.SchemaName != "schema.def.v1" {
				continue
			}
			if env.Type != models.EventCreated && env.Type != models.EventUpdated && env.Type != models.EventDeleted {
				continue
			}
			for _, tag := range env.Tags {
				if target, ok := strings.CutPrefix(tag, "defines:"); ok {
					cache.Invalidate(target)
				}
			}
		}
	}()
	return sub
}
