// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// SearchRequest asks for documents similar to a query text or to an
// existing document, optionally personalized.
type SearchRequest struct {
	// Query is the search text. Exactly one of Query and DocumentID is set.
	Query string

	// DocumentID searches for documents similar to this one.
	DocumentID string

	// Count is the number of documents; nil selects the default.
	Count *int

	// UserID personalizes with the user's stored state.
	UserID string

	// History personalizes with inline history. Exclusive with UserID.
	History []HistoryEntry

	// Tags restricts results to documents carrying any of them.
	Tags []string
}

// SemanticSearch ranks documents by similarity to the query. When the
// request names a user or carries history with enough positive COIs, the
// similarity term blends query and COI similarity and the tag and recency
// signals apply.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) SemanticSearch(ctx context.Context, tc tenant.Context, req SearchRequest) (*RankResult, error) {
	start := time.Now()
	run := &rankRun{}

	result, err := e.semanticSearch(ctx, tc, req, run)
	e.finish(kindSearch, run, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) semanticSearch(ctx context.Context, tc tenant.Context, req SearchRequest, run *rankRun) (*RankResult, error) {
	if tc.IsZero() {
		return nil, NewInternalError("search", tenant.ErrMissing)
	}
	if err := e.validateSearch(&req); err != nil {
		return nil, err
	}
	s := e.config.SemanticSearch
	count, err := resolveCount(req.Count, s.DefaultNumberDocuments, s.MaxNumberDocuments)
	if err != nil {
		return nil, err
	}
	params := rankParams{count: count, candidates: s.MaxNumberCandidates, weights: s.ScoreWeights, tags: distinctTags(req.Tags)}
	logger := e.logger.With().Str("tenant", tc.ID).Str("kind", kindSearch).Logger()

	query, exclude, err := e.searchEmbedding(ctx, tc, req, logger)
	if err != nil {
		return nil, err
	}

	state, mode, err := e.searchState(ctx, tc, req, logger)
	if err != nil {
		return nil, err
	}
	if err := run.selectMode(mode); err != nil {
		return nil, err
	}

	cands, err := e.knn(ctx, tc, query, KNNParams{K: params.candidates, ExcludeDocuments: exclude, Tags: params.tags})
	if err != nil {
		return nil, err
	}
	matches := dedupe([][]Candidate{cands}, exclude, params.candidates)
	if err := run.advance(StateCandidatesRetrieved); err != nil {
		return nil, err
	}

	now := e.now()
	horizon := e.config.COI.Horizon
	docs := make([]RankedDocument, 0, len(matches))
	for _, m := range matches {
		b := ScoreBreakdown{Relevance: SimilarityToUnit(m.candidate.Similarity)}
		similarity := b.Relevance
		if mode != ModeColdStart {
			if idx, sim := closestTo(state.positives, m.candidate.Embedding); idx >= 0 {
				b.COISimilarity = SimilarityToUnit(sim)
				b.Recency = coi.DecayWeight(horizon, now, state.positives[idx].LastView)
			}
			b.TagAffinity = TagAffinity(m.candidate.Tags, state.tagWeights)
			b.NegativePenalty = negativePenalty(m.candidate.Embedding, state.negatives, e.config.Personalization.NegativeWeight, horizon, now)
			similarity = (b.Relevance + b.COISimilarity) / 2
		}
		docs = append(docs, RankedDocument{
			DocumentID: m.candidate.DocumentID,
			SubID:      m.candidate.SubID,
			Score:      Score(similarity, b.TagAffinity, b.Recency, params.weights) - b.NegativePenalty,
			Breakdown:  b,
			Properties: m.candidate.Properties,
		})
	}

	docs, n, err := e.finishRanking(docs, params.count, run, len(matches))
	if err != nil {
		return nil, err
	}
	if err := run.advance(StateReturned); err != nil {
		return nil, err
	}
	return &RankResult{Documents: docs, Mode: run.mode, State: run.state, Candidates: n}, nil
}

// validateSearch enforces the exclusive fields and the query size.
func (e *Engine) validateSearch(req *SearchRequest) error {
	if (req.Query == "") == (req.DocumentID == "") {
		return NewValidationError("search", CodeInvalidRequest, errors.New("exactly one of query and document_id is required"))
	}
	if req.UserID != "" && len(req.History) > 0 {
		return NewValidationError("search", CodeInvalidRequest, errors.New("user_id and history are mutually exclusive"))
	}
	if n := utf8.RuneCountInString(req.Query); n > e.config.SemanticSearch.MaxQuerySize {
		return NewValidationError("search", CodeQueryTooLong,
			fmt.Errorf("query has %d characters, maximum is %d", n, e.config.SemanticSearch.MaxQuerySize))
	}
	if req.DocumentID != "" {
		if err := validateID("document_id", req.DocumentID); err != nil {
			return err
		}
	}
	if req.UserID != "" {
		return validateID("user_id", req.UserID)
	}
	return nil
}

// searchEmbedding returns the query embedding and the documents to
// exclude: the source document of a document search.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) searchEmbedding(ctx context.Context, tc tenant.Context, req SearchRequest, logger zerolog.Logger) ([]float32, []string, error) {
	if req.Query != "" {
		emb, err := e.embed(ctx, req.Query)
		return emb, nil, err
	}

	var snippets []SnippetData
	err := withRetry(ctx, e.config.Retry, "load snippets", logger, func() error {
		var err error
		snippets, err = e.store.Snippets(ctx, tc, []SnippetRef{{DocumentID: req.DocumentID, SubID: PrimarySubID}})
		return wrapStorage("load snippets", err)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(snippets) == 0 || len(snippets[0].Embedding) == 0 {
		return nil, nil, NewNotFound("search", CodeDocumentNotFound, fmt.Errorf("document %q not found", req.DocumentID))
	}
	return snippets[0].Embedding, []string{req.DocumentID}, nil
}

// searchState loads or derives the personalization state of a search.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) searchState(ctx context.Context, tc tenant.Context, req SearchRequest, logger zerolog.Logger) (*userState, Mode, error) {
	switch {
	case len(req.History) > 0:
		state, err := e.replayHistory(ctx, tc, req.History, logger)
		if err != nil {
			return nil, ModeUnknown, err
		}
		return state, selectMode(len(state.positives), e.config.COI.MinCOIs, ModeStateless), nil

	case req.UserID != "":
		state := &userState{}
		err := withRetry(ctx, e.config.Retry, "load cois", logger, func() error {
			cois, err := e.store.COIs(ctx, tc, req.UserID)
			if err != nil {
				return wrapStorage("load cois", err)
			}
			state.positives, state.negatives = splitPools(cois)
			state.tagWeights, err = e.store.TagWeights(ctx, tc, req.UserID)
			return wrapStorage("load tag weights", err)
		})
		if err != nil {
			return nil, ModeUnknown, err
		}
		return state, selectMode(len(state.positives), e.config.COI.MinCOIs, ModePersisted), nil

	default:
		return &userState{}, ModeColdStart, nil
	}
}

// closestTo returns the COI most similar to embedding.
func closestTo(pool []coi.COI, embedding []float32) (int, float64) {
	point, err := coi.Normalize(embedding)
	if err != nil {
		return -1, 0
	}
	return coi.Closest(pool, point)
}
