// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package main is the entry point for the Lodestar server.

Lodestar records user interactions with documents, learns each user's
centers of interest (COIs) from document embeddings, and ranks documents
for them. It also serves stateless ranking from a supplied history and
semantic search, all scoped per tenant.

# Application Architecture

The server runs under a Suture v4 supervisor tree:

	RootSupervisor ("lodestar")
	├── DataSupervisor ("data-layer")
	│   └── embedding-cache-gc (when EMBEDDING_CACHE_ENABLED=true)
	├── MessagingSupervisor ("messaging-layer")
	│   └── Event bus with the rank-invalidator consumer (EVENTS_ENABLED=true)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (chi router)

Component initialization order:

 1. Environment: optional .env file (godotenv)
 2. Configuration: Koanf v2 with defaults, config file and environment variables
 3. Logging: zerolog with JSON or console output
 4. Storage: DuckDB (default) or PostgreSQL, with schema migrations
 5. Collaborators: embedder and KNN index behind circuit breakers, optional
    Badger embedding cache, in-memory rank cache
 6. Event bus: Watermill over GoChannel or NATS JetStream
 7. Domain: ranking engine, interaction recorder, document service
 8. HTTP: tenant resolution (header or JWT with Casbin), chi middleware
 9. Supervisor Tree: Suture v4 process supervision

# Configuration

Priority: Environment variables > Config file > Defaults

	# Server
	HTTP_PORT=8080
	LOG_LEVEL=info               # trace, debug, info, warn, error
	LOG_FORMAT=json              # json or console

	# Storage
	STORAGE_BACKEND=duckdb       # duckdb or postgres
	DUCKDB_PATH=/data/lodestar.duckdb
	DATABASE_URL=postgres://...  # postgres backend

	# Embeddings
	EMBEDDING_PROVIDER=hashing   # hashing or openai
	OPENAI_API_KEY=<key>

	# Authentication
	AUTH_MODE=none               # none or jwt
	JWT_SECRET=<32+ chars>       # required for jwt mode
	POLICY_PATH=/etc/lodestar/policy.csv

A config file is read from CONFIG_PATH or the default search
paths. While the server runs, changes to the file's log level are applied
immediately; other settings need a restart.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains
in-flight requests for HTTP_SHUTDOWN_TIMEOUT, the event bus closes after
the tree stops, and storage is closed last.

# Example Usage

Development with header tenancy:

	export AUTH_MODE=none
	./lodestar
	curl -H 'X-Tenant-ID: acme' localhost:8080/users/u1/personalized_documents

Production with JWT and PostgreSQL:

	export STORAGE_BACKEND=postgres
	export DATABASE_URL=postgres://lodestar@db/lodestar
	export AUTH_MODE=jwt
	export JWT_SECRET=$(openssl rand -base64 32)
	./lodestar

Tenants are provisioned with lodestarctl before they can be used.
*/
package main
