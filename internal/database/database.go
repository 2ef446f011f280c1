// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// backend labels storage metrics.
const backend = "duckdb"

// Config configures the embedded DuckDB backend.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory, e.g. "1GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB worker count; 0 uses all CPUs.
	Threads int `koanf:"threads"`
}

// DB is the DuckDB implementation of personalize.Store, personalize.Index
// and personalize.TenantRegistry. Each tenant lives in its own schema.
type DB struct {
	conn   *sql.DB
	cfg    Config
	logger zerolog.Logger

	// Writers serialize per (tenant, user, polarity) before opening a
	// transaction.
	locks *keyedMutex

	// Registered tenants, loaded at startup and kept in sync by
	// CreateTenant and DeleteTenant.
	tenants   map[string]tenant.Context
	tenantsMu sync.RWMutex

	// now stamps document creation times.
	now func() time.Time
}

// Compile-time interface checks.
var (
	_ personalize.Store          = (*DB)(nil)
	_ personalize.Index          = (*DB)(nil)
	_ personalize.TenantRegistry = (*DB)(nil)
)

// New opens the database and creates the tenant registry.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) (*DB, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.MaxMemory == "" {
		cfg.MaxMemory = "1GB"
	}
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	// Use 0750 permissions (owner: rwx, group: rx, other: none) per gosec G301
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With().Str("component", "database").Str("backend", backend).Logger(),
		locks:   newKeyedMutex(),
		tenants: make(map[string]tenant.Context),
		now:     time.Now,
	}
	db.configureConnectionPool()

	if err := db.initialize(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// initialize creates the global registry and loads registered tenants.
func (db *DB) initialize() error {
	ctx, cancel := schemaContext()
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, tenantsTable); err != nil {
		return fmt.Errorf("failed to create tenants table: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}
	defer rows.Close()

	db.tenantsMu.Lock()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			db.tenantsMu.Unlock()
			return fmt.Errorf("failed to scan tenant: %w", err)
		}
		tc, err := tenant.New(id)
		if err != nil {
			db.logger.Warn().Str("tenant", id).Err(err).Msg("skipping tenant with invalid id")
			continue
		}
		db.tenants[tc.ID] = tc
	}
	db.tenantsMu.Unlock()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("failed to load tenants: %w", err)
	}

	return db.migrateTenants(ctx)
}

// Close checkpoints and closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Checkpoint(ctx); err != nil {
		db.logger.Warn().Err(err).Msg("Failed to checkpoint database before close")
	}
	cancel()
	return db.conn.Close()
}

// Ping checks if the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Conn returns the underlying SQL database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// requireTenant fails with KindTenantNotFound for unregistered tenants.
func (db *DB) requireTenant(op string, tc tenant.Context) error {
	if tc.IsZero() {
		return personalize.NewInternalError(op, tenant.ErrMissing)
	}
	db.tenantsMu.RLock()
	_, ok := db.tenants[tc.ID]
	db.tenantsMu.RUnlock()
	if !ok {
		return personalize.NewTenantNotFound(op, tc.ID)
	}
	return nil
}
