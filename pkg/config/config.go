// Package config loads service configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Datastore selects the storage backend
type Datastore string

const (
	DatastoreMemory    Datastore = "memory"
	DatastoreFirestore Datastore = "firestore"
	DatastoreRedis     Datastore = "redis"
	DatastorePostgres  Datastore = "postgres"
)

// Config is the resolved service configuration
type Config struct {
	// Port the HTTP server listens on (PORT, default 8080)
	Port int

	// Datastore backend (DATASTORE, default firestore)
	Datastore Datastore

	// FirestoreProject is the GCP project id (FIRESTORE_PROJECT)
	FirestoreProject string

	// FirebaseCredentials is the decoded service-account JSON, nil when the
	// ambient credentials (GOOGLE_APPLICATION_CREDENTIALS or metadata
	// server) should be used instead
	FirebaseCredentials []byte

	// RedisAddr is the Redis server address (REDIS_ADDR)
	RedisAddr string

	// PostgresDSN is the PostgreSQL connection string (POSTGRES_DSN)
	PostgresDSN string

	// HotmartSecret is the hottok shared secret (HOTMART_SECRET).
	// Empty disables the webhook endpoint.
	HotmartSecret string

	// MaxDevices caps registered devices per account (MAX_DEVICES, default 2)
	MaxDevices int

	// ShutdownTimeout bounds graceful shutdown (SHUTDOWN_TIMEOUT, default 15s)
	ShutdownTimeout time.Duration

	// LogLevel is the minimum log level (LOG_LEVEL, default info)
	LogLevel string
}

// Load reads configuration from the environment.
//
// Firebase credentials resolve in order: FIREBASE_CREDENTIALS_B64 (base64 of
// the service-account JSON, convenient for PaaS env vars), then
// GOOGLE_APPLICATION_CREDENTIALS and the rest of the ADC chain, which the
// Firestore client picks up on its own.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             8080,
		Datastore:        DatastoreFirestore,
		FirestoreProject: os.Getenv("FIRESTORE_PROJECT"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		HotmartSecret:    os.Getenv("HOTMART_SECRET"),
		MaxDevices:       2,
		ShutdownTimeout:  15 * time.Second,
		LogLevel:         "info",
	}

	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", raw)
		}
		cfg.Port = port
	}

	if raw := os.Getenv("DATASTORE"); raw != "" {
		switch Datastore(raw) {
		case DatastoreMemory, DatastoreFirestore, DatastoreRedis, DatastorePostgres:
			cfg.Datastore = Datastore(raw)
		default:
			return nil, fmt.Errorf("unknown DATASTORE %q", raw)
		}
	}

	if raw := os.Getenv("FIREBASE_CREDENTIALS_B64"); raw != "" {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid FIREBASE_CREDENTIALS_B64: %w", err)
		}
		cfg.FirebaseCredentials = decoded
	}

	if raw := os.Getenv("MAX_DEVICES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_DEVICES %q", raw)
		}
		cfg.MaxDevices = n
	}

	if raw := os.Getenv("SHUTDOWN_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", raw, err)
		}
		cfg.ShutdownTimeout = d
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}

	// Fail fast on combinations that would only surface at first request
	switch cfg.Datastore {
	case DatastoreFirestore:
		if cfg.FirestoreProject == "" {
			return nil, fmt.Errorf("FIRESTORE_PROJECT is required when DATASTORE=firestore")
		}
	case DatastoreRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required when DATASTORE=redis")
		}
	case DatastorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when DATASTORE=postgres")
		}
	}

	return cfg, nil
}
