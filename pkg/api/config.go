package api

import (
	"os"
	"strconv"
	"time"
)

// Config holds HTTP server settings.
type Config struct {
	Port int

	// SSE stream tuning.
	SSEHeartbeat time.Duration
	SSEBuffer    int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// LoadConfigFromEnv loads server configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Port:              getEnvInt("HTTP_PORT", 8080),
		SSEHeartbeat:      time.Duration(getEnvInt("SSE_HEARTBEAT_SECONDS", 25)) * time.Second,
		SSEBuffer:         getEnvInt("SSE_BUFFER", 64),
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
