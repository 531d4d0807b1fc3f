// Package config loads runtime configuration from the environment and
// contract definitions from YAML files. File definitions are validated
// against an embedded JSON Schema before they become contract specs.
package config

import "os"

// Config holds runtime configuration.
type Config struct {
	LogLevel      string
	StoreBackend  string // "memory" | "sqlite" | "postgres"
	DatabaseURL   string
	SQLitePath    string
	DefaultPolicy string
	Telemetry     bool
	OTLPEndpoint  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		backend = "memory"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://covenant@localhost:5432/covenant?sslmode=disable"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "covenant.db"
	}

	defaultPolicy := os.Getenv("DEFAULT_POLICY")
	if defaultPolicy == "" {
		defaultPolicy = "strict"
	}

	telemetry := os.Getenv("TELEMETRY_ENABLED") == "true"

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Config{
		LogLevel:      logLevel,
		StoreBackend:  backend,
		DatabaseURL:   dbURL,
		SQLitePath:    sqlitePath,
		DefaultPolicy: defaultPolicy,
		Telemetry:     telemetry,
		OTLPEndpoint:  otlpEndpoint,
	}
}
