// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestDocumentServiceUpsert(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	emb := &fakeEmbedder{vectors: map[string][]float32{"intro to go": {1, 0, 0}}}
	svc := NewDocumentService(s, emb, testConfig(), zerolog.Nop())
	ctx := context.Background()

	err := svc.Upsert(ctx, testTenant, []Document{{
		ID:   "go-101",
		Tags: []string{"go", "go", "beginner"},
		Snippets: []Snippet{
			{SubID: 0, Text: "intro to go"},
			{SubID: 1, Text: "chapter two", Embedding: []float32{0, 1, 0}},
		},
	}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	doc, err := svc.Get(ctx, testTenant, "go-101")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.PreprocessingStep != PreprocessingNone {
		t.Errorf("preprocessing step = %q, want none", doc.PreprocessingStep)
	}
	if len(doc.Tags) != 2 || doc.Tags[0] != "beginner" {
		t.Errorf("tags = %v, want deduplicated and sorted", doc.Tags)
	}
	if len(doc.Snippets[0].Embedding) != 3 || doc.Snippets[0].Embedding[0] != 1 {
		t.Errorf("missing embedding not computed: %v", doc.Snippets[0].Embedding)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("created_at should be set by storage")
	}

	if err := svc.Delete(ctx, testTenant, "go-101"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, testTenant, "go-101"); KindOf(err) != KindNotFound {
		t.Errorf("second Delete() error = %v, want not_found", err)
	}
	if _, err := svc.Get(ctx, testTenant, "go-101"); KindOf(err) != KindNotFound {
		t.Errorf("Get() after delete error = %v, want not_found", err)
	}
}

func TestDocumentServiceUpsertValidation(t *testing.T) {
	t.Parallel()

	snippet := func(sub int, emb ...float32) Snippet { return Snippet{SubID: sub, Text: "t", Embedding: emb} }
	tests := []struct {
		name     string
		docs     []Document
		embedder Embedder
		wantCode string
	}{
		{name: "empty batch", docs: nil, wantCode: CodeInvalidRequest},
		{name: "missing id", docs: []Document{{Snippets: []Snippet{snippet(0, 1)}}}, wantCode: CodeInvalidRequest},
		{name: "no snippets", docs: []Document{{ID: "a"}}, wantCode: CodeInvalidRequest},
		{name: "unknown preprocessing", docs: []Document{{ID: "a", PreprocessingStep: "translate", Snippets: []Snippet{snippet(0, 1)}}}, wantCode: CodeInvalidRequest},
		{name: "duplicate document", docs: []Document{{ID: "a", Snippets: []Snippet{snippet(0, 1)}}, {ID: "a", Snippets: []Snippet{snippet(0, 1)}}}, wantCode: CodeInvalidRequest},
		{name: "duplicate sub id", docs: []Document{{ID: "a", Snippets: []Snippet{snippet(0, 1), snippet(0, 1)}}}, wantCode: CodeInvalidRequest},
		{name: "zero embedding", docs: []Document{{ID: "a", Snippets: []Snippet{snippet(0, 0, 0)}}}, wantCode: CodeInvalidEmbedding},
		{name: "dimension mismatch", docs: []Document{{ID: "a", Snippets: []Snippet{snippet(0, 1, 0)}}, {ID: "b", Snippets: []Snippet{snippet(0, 1, 0, 0)}}}, wantCode: CodeDimensionMismatch},
		{name: "no embedder", docs: []Document{{ID: "a", Snippets: []Snippet{{SubID: 0, Text: "t"}}}}, wantCode: CodeInvalidEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newMemStore()
			svc := NewDocumentService(s, tt.embedder, testConfig(), zerolog.Nop())
			err := svc.Upsert(context.Background(), testTenant, tt.docs)
			if KindOf(err) != KindValidation || CodeOf(err) != tt.wantCode {
				t.Errorf("error = %v, want validation/%s", err, tt.wantCode)
			}
			if _, _, writes := s.snapshot(); writes != 0 {
				t.Error("rejected batch must not be stored")
			}
		})
	}
}
