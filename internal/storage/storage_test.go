// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/config"
	"github.com/tomtom215/lodestar/internal/database"
	"github.com/tomtom215/lodestar/internal/tenant"
)

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.StorageConfig{Backend: "sqlite"}, zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "sqlite") {
		t.Fatalf("Open() error = %v, want unknown backend error", err)
	}
}

func TestOpenDuckDB(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{
		Backend: config.BackendDuckDB,
		DuckDB: database.Config{
			Path:      filepath.Join(t.TempDir(), "lodestar.duckdb"),
			MaxMemory: "512MB",
			Threads:   2,
		},
	}

	backend, err := Open(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	if err := backend.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	tc := tenant.MustNew("acme")
	if err := backend.CreateTenant(ctx, tc); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	ok, err := backend.HasTenant(ctx, tc)
	if err != nil || !ok {
		t.Fatalf("HasTenant() = %v, %v; want true", ok, err)
	}
}
