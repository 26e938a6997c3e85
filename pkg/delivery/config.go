package delivery

import (
	"os"
	"strconv"
	"time"
)

// Config tunes webhook delivery.
type Config struct {
	// PublicBaseURL is prefixed to record paths in delivery bodies so
	// receivers can fetch the record without knowing the deployment.
	PublicBaseURL string

	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	Timeout       time.Duration
	MaxConcurrent int64
	RatePerSecond float64
}

// LoadConfigFromEnv reads the WEBHOOK_* configuration surface.
func LoadConfigFromEnv() Config {
	return Config{
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		MaxAttempts:   getEnvInt("WEBHOOK_MAX_ATTEMPTS", 6),
		BackoffBase:   time.Duration(getEnvInt("WEBHOOK_BACKOFF_BASE_MS", 500)) * time.Millisecond,
		BackoffCap:    time.Duration(getEnvInt("WEBHOOK_BACKOFF_CAP_SECONDS", 60)) * time.Second,
		Timeout:       time.Duration(getEnvInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxConcurrent: int64(getEnvInt("WEBHOOK_MAX_CONCURRENT", 16)),
		RatePerSecond: getEnvFloat("WEBHOOK_RATE_PER_SECOND", 50),
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
