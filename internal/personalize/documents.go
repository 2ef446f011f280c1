// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// DocumentService is the backoffice side: ingesting, reading and deleting
// documents. Snippets without an embedding are embedded on upsert.
type DocumentService struct {
	store    Store
	embedder Embedder
	retry    RetryConfig
	timeout  TimeoutConfig
	logger   zerolog.Logger
}

// NewDocumentService creates a document service. embedder may be nil, in
// which case every snippet must carry an embedding.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewDocumentService(store Store, embedder Embedder, cfg Config, logger zerolog.Logger) *DocumentService {
	return &DocumentService{
		store:    store,
		embedder: embedder,
		retry:    cfg.Retry,
		timeout:  cfg.Timeouts,
		logger:   logger.With().Str("component", "documents").Logger(),
	}
}

// Upsert validates docs, embeds snippets missing an embedding and stores
// them. A document is fully replaced, snippets included.
func (s *DocumentService) Upsert(ctx context.Context, tc tenant.Context, docs []Document) error {
	if tc.IsZero() {
		return NewInternalError("upsert documents", tenant.ErrMissing)
	}
	if len(docs) == 0 {
		return NewValidationError("upsert documents", CodeInvalidRequest, errors.New("no documents"))
	}

	dim := 0
	seen := make(map[string]struct{}, len(docs))
	prepared := make([]Document, len(docs))
	for i := range docs {
		doc, err := s.prepare(ctx, docs[i], &dim)
		if err != nil {
			return err
		}
		if _, dup := seen[doc.ID]; dup {
			return NewValidationError("upsert documents", CodeInvalidRequest, fmt.Errorf("duplicate document %q", doc.ID))
		}
		seen[doc.ID] = struct{}{}
		prepared[i] = doc
	}

	err := withRetry(ctx, s.retry, "upsert documents", s.logger, func() error {
		return wrapStorage("upsert documents", s.store.UpsertDocuments(ctx, tc, prepared))
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("tenant", tc.ID).Int("documents", len(prepared)).Msg("documents upserted")
	return nil
}

// Delete removes a document and, by cascade, its snippets.
func (s *DocumentService) Delete(ctx context.Context, tc tenant.Context, documentID string) error {
	if err := validateID("document_id", documentID); err != nil {
		return err
	}
	return withRetry(ctx, s.retry, "delete document", s.logger, func() error {
		return wrapStorage("delete document", s.store.DeleteDocument(ctx, tc, documentID))
	})
}

// Get loads a document with its snippets.
func (s *DocumentService) Get(ctx context.Context, tc tenant.Context, documentID string) (*Document, error) {
	if err := validateID("document_id", documentID); err != nil {
		return nil, err
	}
	var doc *Document
	err := withRetry(ctx, s.retry, "get document", s.logger, func() error {
		var err error
		doc, err = s.store.Document(ctx, tc, documentID)
		return wrapStorage("get document", err)
	})
	return doc, err
}

// prepare validates one document and fills missing embeddings. dim tracks
// the embedding dimension across the batch.
//
//nolint:gocritic // hugeParam: document copied on purpose
func (s *DocumentService) prepare(ctx context.Context, doc Document, dim *int) (Document, error) {
	if err := validateID("document_id", doc.ID); err != nil {
		return Document{}, err
	}
	if doc.PreprocessingStep == "" {
		doc.PreprocessingStep = PreprocessingNone
	}
	if !doc.PreprocessingStep.Valid() {
		return Document{}, NewValidationError("upsert documents", CodeInvalidRequest,
			fmt.Errorf("document %q: unknown preprocessing_step %q", doc.ID, doc.PreprocessingStep))
	}
	if len(doc.Snippets) == 0 {
		return Document{}, NewValidationError("upsert documents", CodeInvalidRequest,
			fmt.Errorf("document %q has no snippets", doc.ID))
	}
	doc.Tags = distinctTags(doc.Tags)

	subIDs := make(map[int]struct{}, len(doc.Snippets))
	snippets := make([]Snippet, len(doc.Snippets))
	for i, sn := range doc.Snippets {
		if sn.SubID < 0 {
			return Document{}, NewValidationError("upsert documents", CodeInvalidRequest,
				fmt.Errorf("document %q: negative sub_id %d", doc.ID, sn.SubID))
		}
		if _, dup := subIDs[sn.SubID]; dup {
			return Document{}, NewValidationError("upsert documents", CodeInvalidRequest,
				fmt.Errorf("document %q: duplicate sub_id %d", doc.ID, sn.SubID))
		}
		subIDs[sn.SubID] = struct{}{}

		if len(sn.Embedding) == 0 {
			emb, err := s.embed(ctx, sn.Text)
			if err != nil {
				return Document{}, err
			}
			sn.Embedding = emb
		}
		if _, err := coi.Normalize(sn.Embedding); err != nil {
			return Document{}, NewValidationError("upsert documents", CodeInvalidEmbedding,
				fmt.Errorf("document %q snippet %d: %w", doc.ID, sn.SubID, err))
		}
		if *dim == 0 {
			*dim = len(sn.Embedding)
		} else if len(sn.Embedding) != *dim {
			return Document{}, NewValidationError("upsert documents", CodeDimensionMismatch,
				fmt.Errorf("document %q snippet %d has dimension %d, batch has %d", doc.ID, sn.SubID, len(sn.Embedding), *dim))
		}
		snippets[i] = sn
	}
	doc.Snippets = snippets
	return doc, nil
}

func (s *DocumentService) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, NewValidationError("upsert documents", CodeInvalidEmbedding,
			errors.New("snippet has no embedding and no embedder is configured"))
	}
	if text == "" {
		return nil, NewValidationError("upsert documents", CodeInvalidRequest, errors.New("snippet has neither text nor embedding"))
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout.Collaborator)
	defer cancel()
	emb, err := s.embedder.Embed(callCtx, text)
	if err != nil {
		return nil, classifyCollaboratorError(callCtx, "embed", "embedder", err)
	}
	return emb, nil
}
