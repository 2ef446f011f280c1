// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
	"github.com/tomtom215/lodestar/internal/validation"
)

// Ranker produces rankings. *personalize.Engine satisfies it.
type Ranker interface {
	Rank(ctx context.Context, tc tenant.Context, req personalize.RankRequest) (*personalize.RankResult, error)
	RankStateless(ctx context.Context, tc tenant.Context, req personalize.StatelessRequest) (*personalize.RankResult, error)
	SemanticSearch(ctx context.Context, tc tenant.Context, req personalize.SearchRequest) (*personalize.RankResult, error)
}

// InteractionRecorder records interactions. *personalize.Recorder
// satisfies it.
type InteractionRecorder interface {
	RecordBatch(ctx context.Context, tc tenant.Context, userID string, batch []personalize.Interaction) ([]personalize.RecordResult, error)
}

// DocumentManager manages the document corpus.
// *personalize.DocumentService satisfies it.
type DocumentManager interface {
	Upsert(ctx context.Context, tc tenant.Context, docs []personalize.Document) error
	Delete(ctx context.Context, tc tenant.Context, documentID string) error
	Get(ctx context.Context, tc tenant.Context, documentID string) (*personalize.Document, error)
}

// Handler serves the personalization API.
type Handler struct {
	ranker    Ranker
	recorder  InteractionRecorder
	documents DocumentManager
	checks    []HealthCheck
	startTime time.Time
	logger    zerolog.Logger
}

// NewHandler creates the API handler. checks are consulted by the
// readiness probe.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewHandler(ranker Ranker, recorder InteractionRecorder, documents DocumentManager, logger zerolog.Logger, checks ...HealthCheck) *Handler {
	return &Handler{
		ranker:    ranker,
		recorder:  recorder,
		documents: documents,
		checks:    checks,
		startTime: time.Now(),
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// rankResponse is the payload of every ranking endpoint.
type rankResponse struct {
	Documents  []personalize.RankedDocument `json:"documents"`
	Mode       personalize.Mode             `json:"mode"`
	Degraded   bool                         `json:"degraded"`
	Candidates int                          `json:"candidates"`
}

func newRankResponse(res *personalize.RankResult) rankResponse {
	docs := res.Documents
	if docs == nil {
		docs = []personalize.RankedDocument{}
	}
	return rankResponse{
		Documents:  docs,
		Mode:       res.Mode,
		Degraded:   res.Degraded,
		Candidates: res.Candidates,
	}
}

type interactionsResponse struct {
	Recorded int                        `json:"recorded"`
	Results  []personalize.RecordResult `json:"results"`
}

type upsertResponse struct {
	Upserted int `json:"upserted"`
}

// tenantFrom returns the tenant resolved by the tenant middleware.
func tenantFrom(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal error", err)
		return tenant.Context{}, false
	}
	return tc, true
}

// pathID reads and validates an identifier from the URL path.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := validation.GetValidator().Var(id, "entity_id"); err != nil {
		respondDomainError(w, r, singleFieldError(name, "entity_id", name+" must be a non-blank identifier of at most 256 characters"))
		return "", false
	}
	return id, true
}

// RecordInteractions handles PATCH /users/{user_id}/interactions.
func (h *Handler) RecordInteractions(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}

	var req interactionsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, r, err)
		return
	}
	batch, err := req.toInteractions()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	results, err := h.recorder.RecordBatch(r.Context(), tc, userID, batch)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, interactionsResponse{Recorded: len(results), Results: results})
}

// PersonalizedDocuments handles GET and POST
// /users/{user_id}/personalized_documents. GET reads count and tags from
// the query string; POST accepts an optional JSON body.
func (h *Handler) PersonalizedDocuments(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}

	var req rankRequest
	if r.Method == http.MethodGet {
		var err error
		if req, err = rankQuery(r); err != nil {
			respondDomainError(w, r, err)
			return
		}
	} else if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondDecodeError(w, r, err)
		return
	}

	res, err := h.ranker.Rank(r.Context(), tc, personalize.RankRequest{
		UserID: userID,
		Count:  req.Count,
		Query:  req.Query,
		Tags:   req.Tags,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, newRankResponse(res))
}

// StatelessDocuments handles POST /personalized_documents.
func (h *Handler) StatelessDocuments(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var body statelessRequest
	if err := decodeJSON(r, &body); err != nil {
		respondDecodeError(w, r, err)
		return
	}
	req, err := body.toStateless()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	res, err := h.ranker.RankStateless(r.Context(), tc, req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, newRankResponse(res))
}

// SemanticSearch handles POST /semantic_search.
func (h *Handler) SemanticSearch(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var body searchRequest
	if err := decodeJSON(r, &body); err != nil {
		respondDecodeError(w, r, err)
		return
	}
	req, err := body.toSearch()
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	res, err := h.ranker.SemanticSearch(r.Context(), tc, req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, newRankResponse(res))
}

// UpsertDocuments handles PUT /documents.
func (h *Handler) UpsertDocuments(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}

	var body documentsRequest
	if err := decodeJSON(r, &body); err != nil {
		respondDecodeError(w, r, err)
		return
	}
	docs := body.toDocuments()
	if err := h.documents.Upsert(r.Context(), tc, docs); err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, upsertResponse{Upserted: len(docs)})
}

// GetDocument handles GET /documents/{document_id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "document_id")
	if !ok {
		return
	}

	doc, err := h.documents.Get(r.Context(), tc, id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondData(w, r, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /documents/{document_id}. Deleting an
// unknown document is not an error.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "document_id")
	if !ok {
		return
	}

	if err := h.documents.Delete(r.Context(), tc, id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
