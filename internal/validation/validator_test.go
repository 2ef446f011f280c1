// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package validation

import (
	"errors"
	"strings"
	"testing"
)

type entry struct {
	DocumentID string `json:"document_id" validate:"entity_id"`
	Reaction   string `json:"reaction" validate:"required,oneof=positive negative"`
}

type batch struct {
	Interactions []entry `json:"interactions" validate:"required,min=1,max=3,dive"`
	Count        *int    `json:"count" validate:"omitempty,gte=1"`
	Query        string  `json:"query" validate:"max=8"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	zero, two := 0, 2
	tests := []struct {
		name       string
		in         batch
		wantFields []string
		wantMsg    string
	}{
		{
			name: "valid",
			in:   batch{Interactions: []entry{{DocumentID: "d1", Reaction: "positive"}}, Count: &two},
		},
		{
			name:       "missing interactions",
			in:         batch{},
			wantFields: []string{"interactions"},
			wantMsg:    "interactions is required",
		},
		{
			name: "too many",
			in: batch{Interactions: []entry{
				{"a", "positive"}, {"b", "positive"}, {"c", "positive"}, {"d", "positive"},
			}},
			wantFields: []string{"interactions"},
			wantMsg:    "interactions must be at most 3 elements",
		},
		{
			name:       "nested element",
			in:         batch{Interactions: []entry{{DocumentID: "d1", Reaction: "positive"}, {DocumentID: " ", Reaction: "meh"}}},
			wantFields: []string{"interactions[1].document_id", "interactions[1].reaction"},
			wantMsg:    "interactions[1].reaction must be one of: positive negative",
		},
		{
			name:       "count and query",
			in:         batch{Interactions: []entry{{"d1", "negative"}}, Count: &zero, Query: "far too long"},
			wantFields: []string{"count", "query"},
			wantMsg:    "query must be at most 8 characters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("ValidateStruct() error = %v", err)
				}
				return
			}
			var ve *RequestValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateStruct() error = %v, want *RequestValidationError", err)
			}
			var got []string
			for _, f := range ve.Fields {
				got = append(got, f.Field)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantFields, ",") {
				t.Errorf("fields = %v, want %v", got, tt.wantFields)
			}
			if !strings.Contains(ve.Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want it to contain %q", ve.Error(), tt.wantMsg)
			}
		})
	}
}

func TestEntityID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"doc-1", true},
		{"user@example.com", true},
		{"", false},
		{"   ", false},
		{"bad\x00id", false},
		{"tab\tid", false},
		{strings.Repeat("x", maxEntityIDLength), true},
		{strings.Repeat("x", maxEntityIDLength+1), false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&entry{DocumentID: tt.id, Reaction: "positive"})
		if got := err == nil; got != tt.want {
			t.Errorf("entity_id(%q) valid = %v, want %v (err %v)", tt.id, got, tt.want, err)
		}
	}
}

func TestRequestValidationErrorEmpty(t *testing.T) {
	t.Parallel()

	if got := (&RequestValidationError{}).Error(); got != "validation failed" {
		t.Errorf("Error() = %q", got)
	}
}
