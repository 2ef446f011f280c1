// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Migration is a versioned tenant schema change. SQL is a template in
// which %[1]s expands to the tenant schema.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tenantsTable = `
CREATE TABLE IF NOT EXISTS lodestar_tenants (
	tenant_id TEXT PRIMARY KEY,
	schema_name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`

// Migrations MUST be append-only.
func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_documents",
			SQL: `
CREATE TABLE IF NOT EXISTS %[1]s.document (
	document_id TEXT PRIMARY KEY,
	tags TEXT[] NOT NULL DEFAULT '{}',
	properties JSONB NOT NULL DEFAULT '{}',
	preprocessing_step TEXT NOT NULL DEFAULT 'none',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS document_tags_idx ON %[1]s.document USING GIN (tags);
CREATE TABLE IF NOT EXISTS %[1]s.snippet (
	document_id TEXT NOT NULL REFERENCES %[1]s.document (document_id) ON DELETE CASCADE,
	sub_id INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	embedding REAL[] NOT NULL,
	PRIMARY KEY (document_id, sub_id)
);
CREATE OR REPLACE FUNCTION %[1]s.cosine_similarity(a REAL[], b REAL[]) RETURNS DOUBLE PRECISION
LANGUAGE sql IMMUTABLE PARALLEL SAFE AS $$
	SELECT CASE WHEN sum(x::float8 * x::float8) = 0 OR sum(y::float8 * y::float8) = 0 THEN 0
		ELSE sum(x::float8 * y::float8) / (sqrt(sum(x::float8 * x::float8)) * sqrt(sum(y::float8 * y::float8)))
	END
	FROM unnest(a, b) AS v(x, y)
$$;`,
		},
		{
			Version: 2,
			Name:    "create_interactions",
			SQL: `
CREATE TABLE IF NOT EXISTS %[1]s.interaction (
	document_id TEXT NOT NULL,
	sub_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	time_stamp TIMESTAMPTZ NOT NULL,
	reaction BOOLEAN NOT NULL,
	view_time_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (document_id, sub_id, user_id, time_stamp)
);
CREATE INDEX IF NOT EXISTS interaction_time_idx ON %[1]s.interaction (time_stamp);
CREATE INDEX IF NOT EXISTS interaction_user_idx ON %[1]s.interaction (user_id);`,
		},
		{
			Version: 3,
			Name:    "create_user_state",
			SQL: `
CREATE TABLE IF NOT EXISTS %[1]s.center_of_interest (
	coi_id UUID PRIMARY KEY,
	seq BIGINT GENERATED ALWAYS AS IDENTITY,
	user_id TEXT NOT NULL,
	is_positive BOOLEAN NOT NULL,
	embedding REAL[] NOT NULL,
	view_count INTEGER NOT NULL,
	view_time_ms BIGINT NOT NULL DEFAULT 0,
	last_view TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS coi_user_idx ON %[1]s.center_of_interest (user_id, seq);
CREATE TABLE IF NOT EXISTS %[1]s.weighted_tag (
	user_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	weight INTEGER NOT NULL,
	PRIMARY KEY (user_id, tag)
);`,
		},
	}
}

// runMigrations applies pending migrations to schema and returns how many
// ran. q must be a transaction: concurrent callers are serialized by an
// advisory lock held until it ends.
func runMigrations(ctx context.Context, q pgx.Tx, schema string, now time.Time) (int, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "migrate|"+schema); err != nil {
		return 0, fmt.Errorf("lock migrations of %s: %w", schema, err)
	}
	if _, err := q.Exec(ctx, fmt.Sprintf(schemaMigrationsTable, schema)); err != nil {
		return 0, fmt.Errorf("create schema_migrations in %s: %w", schema, err)
	}

	applied := make(map[int]bool)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT version FROM %s.schema_migrations`, schema))
	if err != nil {
		return 0, fmt.Errorf("query applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return 0, fmt.Errorf("scan applied migrations: %w", err)
	}
	for _, v := range versions {
		applied[int(v)] = true
	}

	n := 0
	for _, m := range getMigrations() {
		if applied[m.Version] {
			continue
		}
		if _, err := q.Exec(ctx, fmt.Sprintf(m.SQL, schema)); err != nil {
			return n, fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := q.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s.schema_migrations (version, name, applied_at) VALUES ($1, $2, $3)`, schema),
			m.Version, m.Name, now.UTC()); err != nil {
			return n, fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		n++
	}
	return n, nil
}
