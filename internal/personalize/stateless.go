// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// StatelessRequest asks for a ranking from inline history only.
type StatelessRequest struct {
	// History is the caller's recent interactions, any order.
	History []HistoryEntry

	// Count is the number of documents; nil selects the default.
	Count *int

	// Query is optional context used by cold start.
	Query string

	// Tags restricts results to documents carrying any of them.
	Tags []string
}

// RankStateless ranks from COIs derived in memory from the inline history.
// Nothing is read from or written to the user's stored state. Documents in
// the history are excluded from the result.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) RankStateless(ctx context.Context, tc tenant.Context, req StatelessRequest) (*RankResult, error) {
	start := time.Now()
	run := &rankRun{}

	result, err := e.rankStateless(ctx, tc, req, run)
	e.finish(kindStateless, run, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) rankStateless(ctx context.Context, tc tenant.Context, req StatelessRequest, run *rankRun) (*RankResult, error) {
	if tc.IsZero() {
		return nil, NewInternalError("rank", tenant.ErrMissing)
	}
	p := e.config.Personalization
	count, err := resolveCount(req.Count, p.DefaultNumberDocuments, p.MaxNumberDocuments)
	if err != nil {
		return nil, err
	}
	params := rankParams{count: count, candidates: p.MaxNumberCandidates, weights: p.ScoreWeights, tags: distinctTags(req.Tags)}
	logger := e.logger.With().Str("tenant", tc.ID).Str("mode", ModeStateless.String()).Logger()

	state, err := e.replayHistory(ctx, tc, req.History, logger)
	if err != nil {
		return nil, err
	}

	if err := run.selectMode(selectMode(len(state.positives), e.config.COI.MinCOIs, ModeStateless)); err != nil {
		return nil, err
	}

	var docs []RankedDocument
	var candidates int
	if run.mode == ModeStateless {
		docs, candidates, err = e.personalized(ctx, tc, state, params, run)
		if err != nil {
			if !e.degradable(ctx, err) {
				return nil, err
			}
			logger.Warn().Err(err).Msg("stateless retrieval failed, degrading to cold start")
			if err := run.degrade(string(KindOf(err))); err != nil {
				return nil, err
			}
		}
	}
	if run.mode == ModeColdStart {
		docs, candidates, err = e.coldStart(ctx, tc, req.Query, state.exclude, params, run, logger)
		if err != nil {
			return nil, err
		}
	}

	if err := run.advance(StateReturned); err != nil {
		return nil, err
	}
	return &RankResult{
		Documents:  docs,
		Mode:       run.mode,
		State:      run.state,
		Degraded:   run.degraded,
		Candidates: candidates,
	}, nil
}

// replayHistory derives ephemeral COIs and tag weights from history.
// History beyond max_stateless_history_size is truncated to the newest
// entries; only the newest max_stateless_history_for_cois entries are
// replayed, oldest first. Unknown documents are skipped.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func (e *Engine) replayHistory(ctx context.Context, tc tenant.Context, history []HistoryEntry, logger zerolog.Logger) (*userState, error) {
	p := e.config.Personalization
	entries, err := normalizeHistory(history, e.now())
	if err != nil {
		return nil, err
	}
	if len(entries) > p.MaxStatelessHistorySize {
		logger.Warn().
			Int("size", len(entries)).
			Int("max", p.MaxStatelessHistorySize).
			Msg("stateless history truncated to newest entries")
		entries = entries[len(entries)-p.MaxStatelessHistorySize:]
	}

	state := &userState{tagWeights: make(map[string]int)}
	seen := make(map[string]struct{}, len(entries))
	for _, h := range entries {
		if _, ok := seen[h.DocumentID]; !ok {
			seen[h.DocumentID] = struct{}{}
			state.exclude = append(state.exclude, h.DocumentID)
		}
	}

	forCOIs := entries
	if len(forCOIs) > p.MaxStatelessHistoryForCOIs {
		forCOIs = forCOIs[len(forCOIs)-p.MaxStatelessHistoryForCOIs:]
	}
	if len(forCOIs) == 0 {
		return state, nil
	}

	refs := make([]SnippetRef, 0, len(forCOIs))
	for _, h := range forCOIs {
		refs = append(refs, SnippetRef{DocumentID: h.DocumentID, SubID: h.SubID})
	}
	var snippets []SnippetData
	err = withRetry(ctx, e.config.Retry, "load snippets", logger, func() error {
		var err error
		snippets, err = e.store.Snippets(ctx, tc, refs)
		return wrapStorage("load snippets", err)
	})
	if err != nil {
		return nil, err
	}
	byRef := make(map[SnippetRef]SnippetData, len(snippets))
	for _, s := range snippets {
		byRef[s.SnippetRef] = s
	}

	for _, h := range forCOIs {
		s, ok := byRef[SnippetRef{DocumentID: h.DocumentID, SubID: h.SubID}]
		if !ok || len(s.Embedding) == 0 {
			continue
		}
		if h.Reaction.IsPositive() {
			state.positives, _, err = e.system.Update(state.positives, coi.Positive, s.Embedding, h.Timestamp, 0)
		} else {
			state.negatives, _, err = e.system.Update(state.negatives, coi.Negative, s.Embedding, h.Timestamp, 0)
		}
		if err != nil {
			return nil, classifyVectorError("replay history", err)
		}
		ApplyTagDeltas(state.tagWeights, TagDeltas(s.Tags, h.Reaction), p.MinTagWeight)
	}
	return state, nil
}

// normalizeHistory validates entries, fills missing timestamps and sorts
// oldest first. The input is not modified.
func normalizeHistory(history []HistoryEntry, now time.Time) ([]HistoryEntry, error) {
	out := make([]HistoryEntry, len(history))
	for i, h := range history {
		if err := validateID("document_id", h.DocumentID); err != nil {
			return nil, err
		}
		if h.SubID < 0 {
			return nil, NewValidationError("rank", CodeInvalidRequest, fmt.Errorf("history[%d].sub_id must be non-negative", i))
		}
		if !h.Reaction.Valid() {
			return nil, NewValidationError("rank", CodeInvalidRequest, errors.New("history reactions must be positive or negative"))
		}
		if h.Timestamp.IsZero() {
			h.Timestamp = now
		}
		out[i] = h
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
