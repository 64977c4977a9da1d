package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// UncertainPolicy controls where low-confidence candidates end up.
// "exclude" keeps them off the five-category board but retained for audit;
// "catchall" files them under Applied.
type UncertainPolicy string

const (
	UncertainExclude  UncertainPolicy = "exclude"
	UncertainCatchall UncertainPolicy = "catchall"
)

type Config struct {
	Port               string
	DatabaseURL        string
	JWTSecret          string
	EncryptionKey      string
	GoogleClientID     string
	GoogleClientSecret string

	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	FetchWorkers      int
	RetryAttempts     int
	LogPageSize       int

	GhostThreshold time.Duration
	SweepInterval  time.Duration
	Uncertain      UncertainPolicy
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "host=localhost user=apptrack password=apptrack dbname=apptrack port=5432 sslmode=disable"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		LeaseTTL:          getDuration("SYNC_LEASE_TTL", 10*time.Minute),
		HeartbeatInterval: getDuration("SYNC_HEARTBEAT_INTERVAL", 30*time.Second),
		FetchWorkers:      getInt("SYNC_FETCH_WORKERS", 6),
		RetryAttempts:     getInt("SYNC_RETRY_ATTEMPTS", 5),
		LogPageSize:       getInt("SYNC_LOG_PAGE_SIZE", 200),

		GhostThreshold: getDuration("GHOST_THRESHOLD", 21*24*time.Hour),
		SweepInterval:  getDuration("GHOST_SWEEP_INTERVAL", 1*time.Hour),
		Uncertain:      uncertainPolicy(getEnv("UNCERTAIN_POLICY", string(UncertainExclude))),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func uncertainPolicy(v string) UncertainPolicy {
	if v == string(UncertainCatchall) {
		return UncertainCatchall
	}
	return UncertainExclude
}
