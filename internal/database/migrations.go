// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package database provides versioned schema migration support.
//
// Every tenant schema carries its own schema_migrations table so tenants
// created by different releases converge on the same layout when the
// server starts. Migrations are templates: %[1]s expands to the tenant
// schema name, which tenant.New has already restricted to [a-z0-9_].
//
// Layout notes:
//   - DuckDB implements updates of LIST columns as delete plus insert,
//     which ART-backed unique constraints reject inside a transaction.
//     snippet and center_of_interest therefore carry no primary key;
//     their writers keep rows unique.
//   - Timestamps are TIMESTAMP holding UTC.
//
// Migrations MUST be append-only.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a versioned database migration.
type Migration struct {
	Version     int       // Unique version number (monotonically increasing)
	Name        string    // Human-readable migration name
	Description string    // Description of what this migration does
	SQL         string    // SQL template executed with the schema name
	AppliedAt   time.Time // When the migration was applied (populated on query)
}

// tenantsTable is the global tenant registry in the main schema.
const tenantsTable = `
CREATE TABLE IF NOT EXISTS tenants (
	tenant_id VARCHAR PRIMARY KEY,
	schema_name VARCHAR NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// schemaMigrationsTable creates the migration tracking table of a schema.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS %[1]s.schema_migrations (
	version INTEGER PRIMARY KEY,
	name VARCHAR NOT NULL,
	description VARCHAR,
	applied_at TIMESTAMP NOT NULL
);
`

// getMigrations returns all versioned tenant migrations in order.
func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "create_documents",
			Description: "Documents, their tags and embedded snippets",
			SQL: `
CREATE TABLE IF NOT EXISTS %[1]s.document (
	document_id VARCHAR PRIMARY KEY,
	properties VARCHAR NOT NULL DEFAULT '{}',
	preprocessing_step VARCHAR NOT NULL DEFAULT 'none',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]s.document_tag (
	document_id VARCHAR NOT NULL,
	tag VARCHAR NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]s.snippet (
	document_id VARCHAR NOT NULL,
	sub_id INTEGER NOT NULL,
	text VARCHAR NOT NULL DEFAULT '',
	embedding FLOAT[] NOT NULL
);`,
		},
		{
			Version:     2,
			Name:        "create_interactions",
			Description: "Append-only interaction log",
			SQL: `
CREATE TABLE IF NOT EXISTS %[1]s.interaction (
	document_id VARCHAR NOT NULL,
	sub_id INTEGER NOT NULL,
	user_id VARCHAR NOT NULL,
	time_stamp TIMESTAMP NOT NULL,
	reaction BOOLEAN NOT NULL,
	view_time_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (document_id, sub_id, user_id, time_stamp)
);`,
		},
		{
			Version:     3,
			Name:        "create_user_state",
			Description: "Centers of interest and tag weights",
			SQL: `
CREATE SEQUENCE IF NOT EXISTS %[1]s.coi_seq START 1;
CREATE TABLE IF NOT EXISTS %[1]s.center_of_interest (
	coi_id VARCHAR NOT NULL,
	seq BIGINT NOT NULL DEFAULT nextval('%[1]s.coi_seq'),
	user_id VARCHAR NOT NULL,
	is_positive BOOLEAN NOT NULL,
	embedding FLOAT[] NOT NULL,
	view_count INTEGER NOT NULL,
	view_time_ms BIGINT NOT NULL DEFAULT 0,
	last_view TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS %[1]s.weighted_tag (
	user_id VARCHAR NOT NULL,
	tag VARCHAR NOT NULL,
	weight INTEGER NOT NULL,
	PRIMARY KEY (user_id, tag)
);`,
		},
	}
}

// getAppliedMigrations returns a map of version -> Migration for all
// migrations applied to schema.
func getAppliedMigrations(ctx context.Context, conn execQuerier, schema string) (map[int]Migration, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT version, name, COALESCE(description, ''), applied_at FROM %s.schema_migrations ORDER BY version`, schema))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// runVersionedMigrations executes the migrations schema has not applied
// yet and returns how many ran.
func runVersionedMigrations(ctx context.Context, conn execQuerier, schema string, now time.Time) (int, error) {
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(schemaMigrationsTable, schema)); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(ctx, conn, schema)
	if err != nil {
		return 0, err
	}

	newMigrations := 0
	for _, m := range getMigrations() {
		if _, exists := applied[m.Version]; exists {
			continue
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(m.SQL, schema)); err != nil {
			return newMigrations, fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
		_, err := conn.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.schema_migrations (version, name, description, applied_at) VALUES (?, ?, ?, ?)`, schema),
			m.Version, m.Name, m.Description, now.UTC())
		if err != nil {
			return newMigrations, fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		newMigrations++
	}
	return newMigrations, nil
}

// SchemaVersion returns the highest migration version applied to a tenant.
func (db *DB) SchemaVersion(ctx context.Context, schema string) (int, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var version int
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s.schema_migrations`, schema)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
