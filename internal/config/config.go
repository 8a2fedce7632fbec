package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Port      string
	DBPath    string
	JWTSecret string

	// Sandbox execution service (Judge0-compatible API).
	ExecURL string
	ExecKey string

	// Idle room cache eviction.
	EvictInterval  time.Duration
	EvictIdleAfter time.Duration
}

func FromEnv() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		DBPath:         envOr("HUDDLE_DB_PATH", "./data/huddle.db"),
		JWTSecret:      os.Getenv("HUDDLE_JWT_SECRET"),
		ExecURL:        envOr("EXEC_API_URL", "https://ce.judge0.com"),
		ExecKey:        os.Getenv("EXEC_API_KEY"),
		EvictInterval:  envDuration("HUDDLE_EVICT_INTERVAL", 5*time.Minute),
		EvictIdleAfter: envDuration("HUDDLE_EVICT_IDLE_AFTER", 30*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
