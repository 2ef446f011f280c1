// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		id         string
		wantSchema string
		wantErr    bool
	}{
		{name: "simple", id: "acme", wantSchema: "t_acme"},
		{name: "dash becomes underscore", id: "acme-news", wantSchema: "t_acme_news"},
		{name: "case folded", id: "  ACME ", wantSchema: "t_acme"},
		{name: "digits", id: "42", wantSchema: "t_42"},
		{name: "empty", id: "", wantErr: true},
		{name: "leading dash", id: "-acme", wantErr: true},
		{name: "sql injection", id: "acme;drop schema", wantErr: true},
		{name: "dot", id: "acme.news", wantErr: true},
		{name: "too long", id: strings.Repeat("a", maxIDLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tc, err := New(tt.id)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidID) {
					t.Fatalf("New(%q) error = %v, want ErrInvalidID", tt.id, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) unexpected error: %v", tt.id, err)
			}
			if tc.Schema != tt.wantSchema {
				t.Errorf("Schema = %q, want %q", tc.Schema, tt.wantSchema)
			}
		})
	}
}

func TestQualify(t *testing.T) {
	t.Parallel()

	tc := MustNew("acme")
	if got := tc.Qualify("snippet"); got != "t_acme.snippet" {
		t.Errorf("Qualify() = %q, want t_acme.snippet", got)
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	if _, err := FromContext(context.Background()); !errors.Is(err, ErrMissing) {
		t.Fatalf("FromContext(empty) error = %v, want ErrMissing", err)
	}

	tc := MustNew("acme")
	got, err := FromContext(WithContext(context.Background(), tc))
	if err != nil {
		t.Fatalf("FromContext() error = %v", err)
	}
	if got != tc {
		t.Errorf("FromContext() = %+v, want %+v", got, tc)
	}
}
