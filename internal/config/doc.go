// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package config loads and validates Lodestar configuration.

# Configuration Sources

Configuration is layered with koanf, later layers winning:
  - Built-in defaults (defaultConfig)
  - A YAML file: CONFIG_PATH, else config.yaml or /etc/lodestar/config.yaml
  - Mapped environment variables (see envMappings)

The commands load a .env file into the environment before calling Load.

# Engine Settings

The update rule, ranking and search settings keep the names used in the
YAML file:

	coi:
	  shift_factor: 0.1
	  threshold: 0.67
	  min_cois: 2
	  horizon: 720h
	personalization:
	  default_number_documents: 10
	  max_number_documents: 100
	  max_number_candidates: 100
	  score_weights: [1, 1, 0.5]
	  store_user_history: true
	semantic_search:
	  max_query_size: 512

COI_HORIZON_DAYS sets the horizon in days. Score weights accept a
comma-separated list in the environment, e.g.
PERSONALIZATION_SCORE_WEIGHTS=1,0.5,0.25.

# Environment Variables

Storage:
  - STORAGE_BACKEND: duckdb (default) or postgres
  - DUCKDB_PATH, DUCKDB_MAX_MEMORY, DUCKDB_THREADS
  - POSTGRES_DSN (or DATABASE_URL), POSTGRES_MAX_CONNS

Embedder:
  - EMBEDDING_PROVIDER: hashing (default) or openai
  - OPENAI_API_KEY, OPENAI_BASE_URL, EMBEDDING_MODEL, EMBEDDING_DIMENSION

Events:
  - EVENTS_TRANSPORT: gochannel (default) or nats
  - NATS_URL, NATS_EMBEDDED, NATS_JETSTREAM, NATS_STORE_DIR

Security:
  - AUTH_MODE: none (default, tenant from X-Tenant-ID) or jwt
  - JWT_SECRET: at least 32 characters in jwt mode
  - CORS_ORIGINS, RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW

# Validation

Validate reports every invalid section at once. ENVIRONMENT=production
refuses AUTH_MODE=none.
*/
package config
