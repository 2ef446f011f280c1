// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package database is the embedded DuckDB storage backend.
//
// # Overview
//
// DB implements personalize.Store, personalize.Index and
// personalize.TenantRegistry on a single DuckDB file. It is the default
// backend for single-node deployments; internal/postgres serves the same
// ports on a shared server.
//
// # Architecture
//
//   - database.go: lifecycle (open, initialize, checkpoint, close)
//   - database_connection.go: pool configuration and error classification
//   - database_utils.go: context helpers and column encoding
//   - migrations.go: per-tenant versioned schema
//   - tenants.go: tenant registry (one schema per tenant)
//   - store.go: reads and document writes
//   - tx.go: the user-serialized write transaction
//   - index.go: exact nearest-neighbour search
//   - keyed_mutex.go: per-key write serialization
//
// # Tenancy
//
// Every tenant owns a schema named after its id (see tenant.Context). The
// main schema only holds the tenants registry. Queries name tables through
// the tenant schema, so no statement can read across tenants.
//
// # Concurrency
//
// DuckDB uses optimistic concurrency control: conflicting writers fail at
// commit with "Transaction conflict". WithUserLock serializes writers of
// the same (tenant, user, polarity) in process before opening the
// transaction, taking the positive key before the negative one when a
// batch needs both; remaining conflicts surface as KindStorage errors
// and are retried by the recorder.
//
// # Column Encoding
//
// Embeddings are FLOAT[] columns bound from and scanned as their text form.
// Tags live in document_tag and are aggregated with string_agg. Properties
// are JSON text.
package database
