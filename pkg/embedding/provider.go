// Package embedding turns text projections into fixed-dimension
// vectors. The provider is chosen at boot and its dimension is global:
// mixing dimensions across records is forbidden, so the store enforces
// the configured width on every write.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrDisabled is returned by the disabled provider; callers store a
// null vector and move on.
var ErrDisabled = errors.New("embedding provider disabled")

// Provider converts text into a vector. Embed failures must never
// block record creation: callers log, store NULL and leave the row for
// the backfill pass.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// Config selects and tunes the provider.
type Config struct {
	// Provider is one of ollama, openai, disabled.
	Provider string

	Model     string
	Dimension int
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
}

// LoadConfigFromEnv reads the embedding configuration.
func LoadConfigFromEnv() Config {
	dim, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIM", "0"))
	timeoutSec, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_TIMEOUT_SECONDS", "30"))

	return Config{
		Provider:  getEnvOrDefault("EMBEDDING_PROVIDER", "disabled"),
		Model:     os.Getenv("EMBEDDING_MODEL"),
		Dimension: dim,
		BaseURL:   os.Getenv("EMBEDDING_URL"),
		APIKey:    os.Getenv("OPENAI_API_KEY"),
		Timeout:   time.Duration(timeoutSec) * time.Second,
	}
}

// NewProvider constructs the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return newOllamaProvider(cfg), nil
	case "openai":
		return newOpenAIProvider(cfg)
	case "", "disabled", "none":
		return &disabledProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// disabledProvider stores no vectors; hybrid search degrades to
// keyword-only scoring.
type disabledProvider struct{}

func (d *disabledProvider) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (d *disabledProvider) Dimension() int { return 0 }
func (d *disabledProvider) Name() string   { return "disabled" }
