// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package storage opens the configured persistence backend.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/config"
	"github.com/tomtom215/lodestar/internal/database"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/postgres"
)

// Backend is what both DuckDB and PostgreSQL provide.
type Backend interface {
	personalize.Store
	personalize.Index
	personalize.TenantRegistry
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*database.DB)(nil)
	_ Backend = (*postgres.DB)(nil)
)

// Open opens the configured backend and applies migrations. An empty
// backend name selects DuckDB.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := postgres.New(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return db, nil
	case config.BackendDuckDB, "":
		db, err := database.New(cfg.DuckDB, logger)
		if err != nil {
			return nil, fmt.Errorf("open duckdb: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
