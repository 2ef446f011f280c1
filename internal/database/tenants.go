// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// CreateTenant creates the tenant schema, migrates it and registers the
// tenant. Creating an existing tenant migrates it and succeeds.
func (db *DB) CreateTenant(ctx context.Context, tc tenant.Context) error {
	const op = "create tenant"
	if tc.IsZero() {
		return personalize.NewValidationError(op, personalize.CodeInvalidRequest, tenant.ErrMissing)
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(tx, &db.logger)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, tc.Schema)); err != nil {
		return observe(op, start, fmt.Errorf("create schema %s: %w", tc.Schema, err))
	}
	applied, err := runVersionedMigrations(ctx, tx, tc.Schema, time.Now())
	if err != nil {
		return observe(op, start, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO tenants (tenant_id, schema_name, created_at) VALUES (?, ?, ?)`,
		tc.ID, tc.Schema, time.Now().UTC()); err != nil {
		return observe(op, start, err)
	}
	if err := tx.Commit(); err != nil {
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

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return observe(op, start, err)
	}
	defer rollbackQuietly(tx, &db.logger)

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, tc.Schema)); err != nil {
		return observe(op, start, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE tenant_id = ?`, tc.ID); err != nil {
		return observe(op, start, err)
	}
	if err := tx.Commit(); err != nil {
		return observe(op, start, err)
	}

	db.tenantsMu.Lock()
	delete(db.tenants, tc.ID)
	db.tenantsMu.Unlock()

	db.logger.Info().Str("tenant", tc.ID).Msg("Tenant deleted")
	return observe(op, start, nil)
}

// ListTenants returns registered tenant ids in order.
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

// HasTenant reports whether tc is registered.
func (db *DB) HasTenant(_ context.Context, tc tenant.Context) (bool, error) {
	db.tenantsMu.RLock()
	_, ok := db.tenants[tc.ID]
	db.tenantsMu.RUnlock()
	return ok, nil
}

// migrateTenants brings every registered tenant schema up to date.
func (db *DB) migrateTenants(ctx context.Context) error {
	ids, err := db.ListTenants(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		db.tenantsMu.RLock()
		tc := db.tenants[id]
		db.tenantsMu.RUnlock()

		applied, err := runVersionedMigrations(ctx, db.conn, tc.Schema, time.Now())
		if err != nil {
			return fmt.Errorf("migrate tenant %s: %w", id, err)
		}
		if applied > 0 {
			db.logger.Info().Str("tenant", id).Int("migrations", applied).Msg("Applied tenant migrations")
		}
	}
	return nil
}
