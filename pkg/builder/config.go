package builder

import (
	"os"
	"strconv"
	"time"
)

// Config tunes the derived-state workers and the context assembler.
type Config struct {
	// Entity worker.
	Workers       int
	QueueSize     int
	BackfillBatch int

	// Edge builder.
	EdgeTagPeers       int
	EdgeTemporalWindow time.Duration
	EdgeSemanticTopK   int
	EdgeSemanticFloor  float64
	EdgeMaxPerRecord   int

	// Assembler.
	GraphRadius      int
	MaxResults       int
	MaxDepth         int
	DefaultBudget    int
	AssemblyTimeout  time.Duration
	SessionCacheSize int
	FetchConcurrency int
}

// LoadConfigFromEnv reads the BUILDER_* and EDGE_* configuration
// surface.
func LoadConfigFromEnv() Config {
	return Config{
		Workers:       getEnvInt("BUILDER_WORKERS", 4),
		QueueSize:     getEnvInt("BUILDER_QUEUE_SIZE", 256),
		BackfillBatch: getEnvInt("BUILDER_BACKFILL_BATCH", 100),

		EdgeTagPeers:       getEnvInt("EDGE_TAG_PEERS", 5),
		EdgeTemporalWindow: time.Duration(getEnvInt("EDGE_TEMPORAL_WINDOW_MINUTES", 30)) * time.Minute,
		EdgeSemanticTopK:   getEnvInt("EDGE_SEMANTIC_TOP_K", 5),
		EdgeSemanticFloor:  getEnvFloat("EDGE_SEMANTIC_FLOOR", 0.7),
		EdgeMaxPerRecord:   getEnvInt("EDGE_MAX_PER_RECORD", 20),

		GraphRadius:      getEnvInt("BUILDER_GRAPH_RADIUS", 2),
		MaxResults:       getEnvInt("BUILDER_MAX_RESULTS", 50),
		MaxDepth:         getEnvInt("BUILDER_MAX_DEPTH", 5),
		DefaultBudget:    getEnvInt("BUILDER_DEFAULT_BUDGET", 50000),
		AssemblyTimeout:  time.Duration(getEnvInt("BUILDER_ASSEMBLY_TIMEOUT_SECONDS", 30)) * time.Second,
		SessionCacheSize: getEnvInt("BUILDER_SESSION_CACHE_SIZE", 128),
		FetchConcurrency: getEnvInt("BUILDER_FETCH_CONCURRENCY", 8),
	}
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
