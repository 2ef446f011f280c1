// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/lodestar/internal/validation"
)

// minJWTSecretLength is the minimum signing secret length in jwt mode.
const minJWTSecretLength = 32

// Validate checks that required configuration is present and valid.
// All section errors are reported together.
func (c *Config) Validate() error {
	return errors.Join(
		c.Engine().Validate(),
		c.validateStorage(),
		c.validateEmbedding(),
		c.validateBreaker(),
		c.validateCache(),
		c.Events.Validate(),
		c.validateEventURL(),
		c.validateServer(),
		c.validateSecurity(),
		c.validateLogging(),
	)
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendDuckDB:
		if c.Storage.DuckDB.Path == "" {
			return fmt.Errorf("DUCKDB_PATH is required for the duckdb backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
		if c.Storage.Postgres.MinConns > c.Storage.Postgres.MaxConns {
			return fmt.Errorf("storage.postgres.min_conns (%d) must not exceed max_conns (%d)",
				c.Storage.Postgres.MinConns, c.Storage.Postgres.MaxConns)
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be duckdb or postgres, got %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateEmbedding() error {
	e := c.Embedding
	if e.Dimension < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive, got %d", e.Dimension)
	}
	if e.RequestsPerSecond < 0 || e.Burst < 0 {
		return fmt.Errorf("embedding rate limits must be non-negative")
	}
	switch strings.ToLower(e.Provider) {
	case "hashing":
		return nil
	case "openai":
		if e.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai embedding provider")
		}
		if e.BaseURL != "" {
			return validateHTTPURL(e.BaseURL, "OPENAI_BASE_URL", true)
		}
		return nil
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be hashing or openai, got %q", e.Provider)
	}
}

// validateBreaker checks the struct tags on breaker.Config.
func (c *Config) validateBreaker() error {
	if err := validation.ValidateStruct(&c.Breaker); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.RankTTL < 0 {
		return fmt.Errorf("RANK_CACHE_TTL must not be negative, got %s", c.Cache.RankTTL)
	}
	if c.Cache.EmbeddingEnabled && c.Cache.EmbeddingTTL <= 0 {
		return fmt.Errorf("EMBEDDING_CACHE_TTL must be positive when the embedding cache is enabled")
	}
	return nil
}

func (c *Config) validateEventURL() error {
	if !c.Events.Enabled || c.Events.Transport != "nats" || c.Events.NATS.Embedded {
		return nil
	}
	if err := validateNATSURL(c.Events.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive, got %d", c.Server.MaxBodyBytes)
	}
	switch c.Server.Environment {
	case "development", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
	return nil
}

func (c *Config) validateSecurity() error {
	s := c.Security
	switch s.AuthMode {
	case AuthModeNone:
		if c.Server.Environment == "production" {
			return fmt.Errorf("AUTH_MODE=none is not allowed when ENVIRONMENT=production")
		}
	case AuthModeJWT:
		if len(s.JWTSecret) < minJWTSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters for AUTH_MODE=jwt", minJWTSecretLength)
		}
		if s.TokenTTL <= 0 {
			return fmt.Errorf("TOKEN_TTL must be positive, got %s", s.TokenTTL)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be none or jwt, got %q", s.AuthMode)
	}
	if !s.RateLimitDisabled && (s.RateLimitReqs < 1 || s.RateLimitWindow <= 0) {
		return fmt.Errorf("rate limiting requires positive RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
