// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package postgres is the PostgreSQL storage backend.
//
// It serves the same ports as internal/database for deployments where
// several Lodestar instances share one database. Each tenant owns a
// schema; writes of one user and polarity are serialized with
// transaction-scoped advisory locks, so the guarantee holds across
// instances.
package postgres

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// backend labels storage metrics.
const backend = "postgres"

// Config configures the connection pool.
type Config struct {
	// DSN is a libpq connection string or postgres:// URL.
	DSN string `koanf:"dsn" validate:"required"`

	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime"`
}

// DefaultConfig returns pool defaults. DSN must be set by the caller.
func DefaultConfig() Config {
	return Config{
		MaxConns:        16,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
	}
}

// DB implements the storage ports on a pgx pool.
type DB struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	now    func() time.Time

	tenantsMu sync.RWMutex
	tenants   map[string]tenant.Context
}

var (
	_ personalize.Store          = (*DB)(nil)
	_ personalize.Index          = (*DB)(nil)
	_ personalize.TenantRegistry = (*DB)(nil)
)

// New connects, creates the tenant registry and migrates every known
// tenant.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db := &DB{
		pool:    pool,
		logger:  logger.With().Str("component", "postgres").Logger(),
		now:     time.Now,
		tenants: make(map[string]tenant.Context),
	}
	if err := db.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.pool.Exec(ctx, tenantsTable); err != nil {
		return fmt.Errorf("create tenants table: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT tenant_id FROM lodestar_tenants`)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan tenant: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}

	for _, id := range ids {
		tc, err := tenant.New(id)
		if err != nil {
			db.logger.Warn().Err(err).Str("tenant", id).Msg("Skipping invalid tenant")
			continue
		}
		var applied int
		err = pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			var err error
			applied, err = runMigrations(ctx, tx, tc.Schema, db.now())
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate tenant %s: %w", id, err)
		}
		if applied > 0 {
			db.logger.Info().Str("tenant", id).Int("migrations", applied).Msg("Applied tenant migrations")
		}
		db.tenants[tc.ID] = tc
	}
	db.logger.Info().Int("tenants", len(db.tenants)).Msg("PostgreSQL storage ready")
	return nil
}

// Close releases the pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) requireTenant(op string, tc tenant.Context) error {
	db.tenantsMu.RLock()
	_, ok := db.tenants[tc.ID]
	db.tenantsMu.RUnlock()
	if !ok || tc.IsZero() {
		return personalize.NewTenantNotFound(op, tc.ID)
	}
	return nil
}

// CreateTenant creates and migrates the tenant schema. It is idempotent.
func (db *DB) CreateTenant(ctx context.Context, tc tenant.Context) error {
	const op = "create tenant"
	if tc.IsZero() {
		return personalize.NewValidationError(op, personalize.CodeInvalidRequest, tenant.ErrMissing)
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(ctx, tx, &db.logger)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, tc.Schema)); err != nil {
		return observe(op, start, fmt.Errorf("create schema %s: %w", tc.Schema, err))
	}
	applied, err := runMigrations(ctx, tx, tc.Schema, db.now())
	if err != nil {
		return observe(op, start, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO lodestar_tenants (tenant_id, schema_name, created_at)
		VALUES ($1, $2, $3) ON CONFLICT (tenant_id) DO NOTHING`, tc.ID, tc.Schema, db.now().UTC()); err != nil {
		return observe(op, start, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return observe(op, start, err)
	}

	db.tenantsMu.Lock()
	db.tenants[tc.ID] = tc
	db.tenantsMu.Unlock()

	db.logger.Info().Str("tenant", tc.ID).Str("schema", tc.Schema).Int("migrations", applied).Msg("Tenant ready")
	return observe(op, start, nil)
}

// DeleteTenant drops the tenant schema and all of its data.
func (db *DB) DeleteTenant(ctx context.Context, tc tenant.Context) error {
	const op = "delete tenant"
	if err := db.requireTenant(op, tc); err != nil {
		return err
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(ctx, tx, &db.logger)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, tc.Schema)); err != nil {
		return observe(op, start, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM lodestar_tenants WHERE tenant_id = $1`, tc.ID); err != nil {
		return observe(op, start, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return observe(op, start, err)
	}

	db.tenantsMu.Lock()
	delete(db.tenants, tc.ID)
	db.tenantsMu.Unlock()

	db.logger.Info().Str("tenant", tc.ID).Msg("Tenant deleted")
	return observe(op, start, nil)
}

// ListTenants returns the tenants known to this instance in order.
func (db *DB) ListTenants(_ context.Context) ([]string, error) {
	db.tenantsMu.RLock()
	ids := make([]string, 0, len(db.tenants))
	for id := range db.tenants {
		ids = append(ids, id)
	}
	db.tenantsMu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// HasTenant reports whether tc is registered. Tenants created by other
// instances are picked up from the registry table on a miss.
func (db *DB) HasTenant(ctx context.Context, tc tenant.Context) (bool, error) {
	db.tenantsMu.RLock()
	_, ok := db.tenants[tc.ID]
	db.tenantsMu.RUnlock()
	if ok {
		return true, nil
	}

	ctx, cancel := ensureContext(ctx)
	defer cancel()
	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lodestar_tenants WHERE tenant_id = $1)`, tc.ID).Scan(&exists); err != nil {
		return false, classify("has tenant", err)
	}
	if exists {
		db.tenantsMu.Lock()
		db.tenants[tc.ID] = tc
		db.tenantsMu.Unlock()
	}
	return exists, nil
}
