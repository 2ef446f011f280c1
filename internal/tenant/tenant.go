// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package tenant defines the isolation scope every storage call runs in.
//
// A tenant maps to exactly one database schema. Storage backends never read
// the schema from global state: it is always taken from the Context value
// passed with the call, which keeps the isolation boundary explicit and
// testable.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultID is the tenant used when a deployment runs single-tenant.
const DefaultID = "default"

// schemaPrefix keeps tenant schemas apart from system schemas (main, public).
const schemaPrefix = "t_"

// maxIDLength bounds identifiers so schema names stay under the 63 byte
// identifier limit of Postgres.
const maxIDLength = 48

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var (
	// ErrInvalidID is returned for identifiers that cannot be mapped to a schema.
	ErrInvalidID = errors.New("invalid tenant id")

	// ErrNotFound is returned when a tenant is not registered.
	ErrNotFound = errors.New("tenant not found")

	// ErrMissing is returned when a request carries no tenant.
	ErrMissing = errors.New("tenant missing from context")
)

// Context identifies the storage scope of a request.
type Context struct {
	// ID is the external tenant identifier.
	ID string
	// Schema is the database schema holding the tenant's tables.
	Schema string
}

// New validates id and derives the schema name for it.
func New(id string) (Context, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || len(id) > maxIDLength || !idPattern.MatchString(id) {
		return Context{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Context{
		ID:     id,
		Schema: schemaPrefix + strings.ReplaceAll(id, "-", "_"),
	}, nil
}

// MustNew is New for static identifiers, panicking on invalid input.
func MustNew(id string) Context {
	tc, err := New(id)
	if err != nil {
		panic(err)
	}
	return tc
}

// IsZero reports whether tc was never initialised.
func (tc Context) IsZero() bool {
	return tc.ID == "" && tc.Schema == ""
}

// Qualify prefixes a table name with the tenant schema.
// The schema name is validated by New, so quoting is not required.
func (tc Context) Qualify(table string) string {
	return tc.Schema + "." + table
}

// String returns the tenant id.
func (tc Context) String() string {
	return tc.ID
}

type contextKey struct{}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant stored in ctx.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok || tc.IsZero() {
		return Context{}, ErrMissing
	}
	return tc, nil
}
