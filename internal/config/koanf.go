// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/lodestar/internal/coi"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/lodestar/config.yaml",
	"/etc/lodestar/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// horizonDaysPath carries COI_HORIZON_DAYS until it is folded into coi.horizon.
const horizonDaysPath = "coi.horizon_days"

// Load loads configuration with layered sources:
//  1. Defaults: built-in defaults
//  2. Config File: optional YAML config file
//  3. Environment Variables: override any mapped setting
//
// The result is validated.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile loads configuration like Load but from an explicit file.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}
	if err := processHorizonDays(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// FilePath returns the config file Load would read, or "" when none
// exists.
func FilePath() string {
	return findConfigFile()
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"personalization.score_weights",
	"semantic_search.score_weights",
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// processHorizonDays folds a horizon given in days into coi.horizon.
func processHorizonDays(k *koanf.Koanf) error {
	raw := k.String(horizonDaysPath)
	if raw == "" {
		return nil
	}
	days, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("COI_HORIZON_DAYS must be a number of days, got %q", raw)
	}
	if err := k.Set("coi.horizon", time.Duration(days*float64(coi.Day))); err != nil {
		return fmt.Errorf("failed to set coi.horizon: %w", err)
	}
	k.Delete(horizonDaysPath)
	return nil
}

// envMappings maps environment variables (lower case) to config paths.
// Unmapped variables are ignored so random environment variables cannot
// pollute the configuration.
var envMappings = map[string]string{
	// COI update rule
	"coi_shift_factor": "coi.shift_factor",
	"coi_threshold":    "coi.threshold",
	"coi_min_cois":     "coi.min_cois",
	"coi_horizon_days": horizonDaysPath,

	// Personalized ranking
	"personalization_max_number_documents":           "personalization.max_number_documents",
	"personalization_max_number_candidates":          "personalization.max_number_candidates",
	"personalization_default_number_documents":       "personalization.default_number_documents",
	"personalization_max_cois_for_knn":               "personalization.max_cois_for_knn",
	"personalization_score_weights":                  "personalization.score_weights",
	"personalization_store_user_history":             "personalization.store_user_history",
	"personalization_max_stateless_history_size":     "personalization.max_stateless_history_size",
	"personalization_max_stateless_history_for_cois": "personalization.max_stateless_history_for_cois",
	"personalization_negative_weight":                "personalization.negative_weight",
	"personalization_min_tag_weight":                 "personalization.min_tag_weight",

	// Semantic search
	"semantic_search_max_number_documents":     "semantic_search.max_number_documents",
	"semantic_search_max_number_candidates":    "semantic_search.max_number_candidates",
	"semantic_search_default_number_documents": "semantic_search.default_number_documents",
	"semantic_search_score_weights":            "semantic_search.score_weights",
	"semantic_search_max_query_size":           "semantic_search.max_query_size",

	// Retries and timeouts
	"retry_max_attempts":   "retry.max_attempts",
	"retry_base_delay":     "retry.base_delay",
	"retry_max_delay":      "retry.max_delay",
	"request_timeout":      "timeouts.request",
	"collaborator_timeout": "timeouts.collaborator",

	// Storage
	"storage_backend":            "storage.backend",
	"duckdb_path":                "storage.duckdb.path",
	"duckdb_max_memory":          "storage.duckdb.max_memory",
	"duckdb_threads":             "storage.duckdb.threads",
	"postgres_dsn":               "storage.postgres.dsn",
	"database_url":               "storage.postgres.dsn",
	"postgres_max_conns":         "storage.postgres.max_conns",
	"postgres_min_conns":         "storage.postgres.min_conns",
	"postgres_max_conn_lifetime": "storage.postgres.max_conn_lifetime",

	// Embedder
	"embedding_provider":            "embedding.provider",
	"embedding_model":               "embedding.model",
	"openai_api_key":                "embedding.api_key",
	"openai_base_url":               "embedding.base_url",
	"embedding_dimension":           "embedding.dimension",
	"embedding_requests_per_second": "embedding.requests_per_second",
	"embedding_burst":               "embedding.burst",

	// Circuit breaker
	"breaker_max_requests":  "breaker.max_requests",
	"breaker_interval":      "breaker.interval",
	"breaker_timeout":       "breaker.timeout",
	"breaker_min_requests":  "breaker.min_requests",
	"breaker_failure_ratio": "breaker.failure_ratio",

	// Caches
	"rank_cache_ttl":          "cache.rank_ttl",
	"embedding_cache_enabled": "cache.embedding_enabled",
	"embedding_cache_path":    "cache.embedding_path",
	"embedding_cache_ttl":     "cache.embedding_ttl",

	// Events
	"events_enabled":       "events.enabled",
	"events_transport":     "events.transport",
	"events_topic":         "events.topic",
	"nats_url":             "events.nats.url",
	"nats_jetstream":       "events.nats.jetstream",
	"nats_embedded":        "events.nats.embedded",
	"nats_store_dir":       "events.nats.server.store_dir",
	"nats_port":            "events.nats.server.port",
	"nats_max_memory":      "events.nats.server.max_memory",
	"nats_max_store":       "events.nats.server.max_store",
	"events_retry_count":   "events.retry_max_retries",
	"events_close_timeout": "events.close_timeout",

	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_max_body_bytes":   "server.max_body_bytes",
	"environment":           "server.environment",

	// Security
	"auth_mode":           "security.auth_mode",
	"jwt_secret":          "security.jwt_secret",
	"jwt_issuer":          "security.jwt_issuer",
	"token_ttl":           "security.token_ttl",
	"policy_path":         "security.policy_path",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - COI_THRESHOLD -> coi.threshold
//   - DUCKDB_PATH -> storage.duckdb.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file changes. The caller
// reloads and swaps configuration under its own lock.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
