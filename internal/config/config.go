// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package config

import (
	"time"

	"github.com/tomtom215/lodestar/internal/breaker"
	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/database"
	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/events"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/postgres"
)

// Storage backends.
const (
	BackendDuckDB   = "duckdb"
	BackendPostgres = "postgres"
)

// Authentication modes.
const (
	AuthModeNone = "none"
	AuthModeJWT  = "jwt"
)

// Config holds all application configuration.
type Config struct {
	// Engine sections. Their keys sit at the top level.
	COI             coi.Config                        `koanf:"coi"`
	Personalization personalize.PersonalizationConfig `koanf:"personalization"`
	SemanticSearch  personalize.SemanticSearchConfig  `koanf:"semantic_search"`
	Retry           personalize.RetryConfig           `koanf:"retry"`
	Timeouts        personalize.TimeoutConfig         `koanf:"timeouts"`

	Storage   StorageConfig    `koanf:"storage"`
	Embedding embedding.Config `koanf:"embedding"`
	Breaker   breaker.Config   `koanf:"breaker"`
	Cache     CacheConfig      `koanf:"cache"`
	Events    events.Config    `koanf:"events"`
	Server    ServerConfig     `koanf:"server"`
	Security  SecurityConfig   `koanf:"security"`
	Logging   LoggingConfig    `koanf:"logging"`
}

// Engine assembles the personalization engine configuration.
func (c *Config) Engine() personalize.Config {
	return personalize.Config{
		COI:             c.COI,
		Personalization: c.Personalization,
		SemanticSearch:  c.SemanticSearch,
		Retry:           c.Retry,
		Timeouts:        c.Timeouts,
	}
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Backend is "duckdb" (embedded, single node) or "postgres".
	// Default: duckdb
	Backend string `koanf:"backend"`

	DuckDB   database.Config `koanf:"duckdb"`
	Postgres postgres.Config `koanf:"postgres"`
}

// CacheConfig configures the rank cache and the query embedding cache.
type CacheConfig struct {
	// RankTTL is how long ranked feeds are served from memory.
	// Zero disables the rank cache.
	// Default: 30s
	RankTTL time.Duration `koanf:"rank_ttl"`

	// EmbeddingEnabled caches query embeddings in badger.
	// Default: true
	EmbeddingEnabled bool `koanf:"embedding_enabled"`

	// EmbeddingPath is the badger directory. Empty keeps it in memory.
	// Default: /data/embeddings
	EmbeddingPath string `koanf:"embedding_path"`

	// EmbeddingTTL expires cached embeddings.
	// Default: 168h
	EmbeddingTTL time.Duration `koanf:"embedding_ttl"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// ReadTimeout and WriteTimeout bound a whole request.
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxBodyBytes caps request bodies.
	// Default: 8MB
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// Environment is "development" or "production". Production refuses
	// to start without authentication.
	Environment string `koanf:"environment"`
}

// SecurityConfig holds authentication, authorization and rate limiting.
type SecurityConfig struct {
	// AuthMode is "none" (tenant from the X-Tenant-ID header) or "jwt".
	// Default: none
	AuthMode string `koanf:"auth_mode"`

	// JWTSecret signs bearer tokens. At least 32 characters in jwt mode.
	JWTSecret string `koanf:"jwt_secret"`

	// JWTIssuer is the iss claim of issued tokens.
	// Default: lodestar
	JWTIssuer string `koanf:"jwt_issuer"`

	// TokenTTL is the lifetime of tokens issued by lodestarctl.
	// Default: 24h
	TokenTTL time.Duration `koanf:"token_ttl"`

	// PolicyPath overrides the built-in casbin policy.
	PolicyPath string `koanf:"policy_path"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	engine := personalize.DefaultConfig()
	return &Config{
		COI:             engine.COI,
		Personalization: engine.Personalization,
		SemanticSearch:  engine.SemanticSearch,
		Retry:           engine.Retry,
		Timeouts:        engine.Timeouts,
		Storage: StorageConfig{
			Backend: BackendDuckDB,
			DuckDB: database.Config{
				Path:      "/data/lodestar.duckdb",
				MaxMemory: "2GB",
				Threads:   0, // 0 = use runtime.NumCPU()
			},
			Postgres: postgres.DefaultConfig(),
		},
		Embedding: embedding.Config{
			Provider:          "hashing",
			Model:             "text-embedding-3-small",
			Dimension:         1536,
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Breaker: breaker.DefaultConfig(),
		Cache: CacheConfig{
			RankTTL:          30 * time.Second,
			EmbeddingEnabled: true,
			EmbeddingPath:    "/data/embeddings",
			EmbeddingTTL:     7 * 24 * time.Hour,
		},
		Events: events.DefaultConfig(),
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    8 << 20,
			Environment:     "development",
		},
		Security: SecurityConfig{
			AuthMode:        AuthModeNone,
			JWTIssuer:       "lodestar",
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
