// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// Request kinds used in metrics labels.
const (
	kindFeed      = "feed"
	kindStateless = "stateless"
	kindSearch    = "search"
)

// Engine ranks documents for users. It reads COIs and tag weights, asks
// the index for candidates per COI, fuses the signals and truncates.
// It is safe for concurrent use.
type Engine struct {
	store    Store
	index    Index
	embedder Embedder
	config   Config
	system   *coi.System
	cache    RankCache
	logger   zerolog.Logger
	now      func() time.Time
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithEmbedder enables query embedding for cold start and search.
func WithEmbedder(e Embedder) EngineOption {
	return func(eng *Engine) { eng.embedder = e }
}

// WithRankCache caches feed rankings per user.
func WithRankCache(c RankCache) EngineOption {
	return func(eng *Engine) { eng.cache = c }
}

// WithEngineClock overrides the clock used for decay.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(eng *Engine) { eng.now = now }
}

// NewEngine creates a ranking engine.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEngine(store Store, index Index, cfg Config, logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	if store == nil || index == nil {
		return nil, errors.New("engine: store and index are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	system, err := coi.NewSystem(cfg.COI)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:  store,
		index:  index,
		config: cfg,
		system: system,
		logger: logger.With().Str("component", "personalize").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// RankRequest asks for a personalized feed.
type RankRequest struct {
	// UserID is the user to rank for.
	UserID string

	// Count is the number of documents; nil selects the default.
	Count *int

	// Query is optional context used by cold start.
	Query string

	// Tags restricts results to documents carrying any of them.
	Tags []string
}

// RankResult is a ranking with its metadata.
type RankResult struct {
	Documents  []RankedDocument `json:"documents"`
	Mode       Mode             `json:"mode"`
	State      RankState        `json:"state"`
	Degraded   bool             `json:"degraded"`
	Candidates int              `json:"candidates"`
	CacheHit   bool             `json:"cache_hit"`
}

// clone returns a copy safe to hand to another caller.
func (r *RankResult) clone() *RankResult {
	out := *r
	out.Documents = append([]RankedDocument(nil), r.Documents...)
	return &out
}

// userState is the personalization state a ranking runs on, loaded from
// storage or derived from inline history.
type userState struct {
	positives  []coi.COI
	negatives  []coi.COI
	tagWeights map[string]int
	exclude    []string
}

// rankParams are the per-kind limits.
type rankParams struct {
	count      int
	candidates int
	weights    ScoreWeights
	tags       []string
}

// Rank returns the personalized feed of a user. Users with at least
// coi.min_cois positive COIs get persisted mode, others cold start.
// Index failures in persisted mode degrade to cold start.
//
//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) Rank(ctx context.Context, tc tenant.Context, req RankRequest) (*RankResult, error) {
	start := time.Now()
	run := &rankRun{}

	result, err := e.rank(ctx, tc, req, run)
	e.finish(kindFeed, run, start, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

//nolint:gocritic // hugeParam: req passed by value for immutability
func (e *Engine) rank(ctx context.Context, tc tenant.Context, req RankRequest, run *rankRun) (*RankResult, error) {
	if tc.IsZero() {
		return nil, NewInternalError("rank", tenant.ErrMissing)
	}
	if err := validateID("user_id", req.UserID); err != nil {
		return nil, err
	}
	p := e.config.Personalization
	count, err := resolveCount(req.Count, p.DefaultNumberDocuments, p.MaxNumberDocuments)
	if err != nil {
		return nil, err
	}
	params := rankParams{count: count, candidates: p.MaxNumberCandidates, weights: p.ScoreWeights, tags: distinctTags(req.Tags)}

	cacheKey := rankCacheKey(tc, req.UserID, count, req.Query, params.tags)
	if cached := e.cached(cacheKey); cached != nil {
		run.state, run.mode = cached.State, cached.Mode
		return cached, nil
	}

	logger := e.logger.With().Str("tenant", tc.ID).Str("user_id", req.UserID).Logger()

	var cois []coi.COI
	err = withRetry(ctx, e.config.Retry, "load cois", logger, func() error {
		var err error
		cois, err = e.store.COIs(ctx, tc, req.UserID)
		return wrapStorage("load cois", err)
	})
	if err != nil {
		return nil, err
	}

	state := &userState{}
	state.positives, state.negatives = splitPools(cois)

	if err := run.selectMode(selectMode(len(state.positives), e.config.COI.MinCOIs, ModePersisted)); err != nil {
		return nil, err
	}

	if p.StoreUserHistory {
		err = withRetry(ctx, e.config.Retry, "load history", logger, func() error {
			var err error
			state.exclude, err = e.store.InteractedDocuments(ctx, tc, req.UserID)
			return wrapStorage("load history", err)
		})
		if err != nil {
			return nil, err
		}
	}

	var docs []RankedDocument
	var candidates int
	if run.mode == ModePersisted {
		err = withRetry(ctx, e.config.Retry, "load tag weights", logger, func() error {
			var err error
			state.tagWeights, err = e.store.TagWeights(ctx, tc, req.UserID)
			return wrapStorage("load tag weights", err)
		})
		if err != nil {
			return nil, err
		}

		docs, candidates, err = e.personalized(ctx, tc, state, params, run)
		if err != nil {
			if !e.degradable(ctx, err) {
				return nil, err
			}
			logger.Warn().Err(err).Msg("personalized retrieval failed, degrading to cold start")
			metrics.RankDegraded.WithLabelValues(string(KindOf(err))).Inc()
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
	result := &RankResult{
		Documents:  docs,
		Mode:       run.mode,
		State:      run.state,
		Degraded:   run.degraded,
		Candidates: candidates,
	}
	if e.cache != nil && !run.degraded {
		e.cache.Set(cacheKey, result.clone())
	}
	return result, nil
}

// personalized retrieves candidates for the most recent positive COIs,
// scores and truncates them.
func (e *Engine) personalized(ctx context.Context, tc tenant.Context, state *userState, params rankParams, run *rankRun) ([]RankedDocument, int, error) {
	now := e.now()
	selected := mostRecent(state.positives, e.config.Personalization.MaxCOIsForKNN)
	budgets := knnBudgets(coi.Weights(selected, e.config.COI.Horizon, now), params.candidates)

	results := make([][]Candidate, len(selected))
	errs := make([]error, len(selected))
	var wg sync.WaitGroup
	for i := range selected {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = e.knn(ctx, tc, selected[idx].Embedding, KNNParams{
				K:                budgets[idx],
				ExcludeDocuments: state.exclude,
				Tags:             params.tags,
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, 0, err
		}
	}

	matches := dedupe(results, state.exclude, params.candidates)
	if err := run.advance(StateCandidatesRetrieved); err != nil {
		return nil, 0, err
	}
	metrics.CandidatesRetrieved.Observe(float64(len(matches)))

	p := e.config.Personalization
	docs := make([]RankedDocument, 0, len(matches))
	for _, m := range matches {
		matched := selected[m.source]
		b := ScoreBreakdown{
			COISimilarity: SimilarityToUnit(m.candidate.Similarity),
			TagAffinity:   TagAffinity(m.candidate.Tags, state.tagWeights),
			Recency:       coi.DecayWeight(e.config.COI.Horizon, now, matched.LastView),
		}
		b.NegativePenalty = negativePenalty(m.candidate.Embedding, state.negatives, p.NegativeWeight, e.config.COI.Horizon, now)
		docs = append(docs, RankedDocument{
			DocumentID: m.candidate.DocumentID,
			SubID:      m.candidate.SubID,
			Score:      Score(b.COISimilarity, b.TagAffinity, b.Recency, params.weights) - b.NegativePenalty,
			Breakdown:  b,
			Properties: m.candidate.Properties,
		})
	}
	sortRanked(docs)
	if err := run.advance(StateScored); err != nil {
		return nil, 0, err
	}

	docs = truncate(docs, params.count)
	if err := run.advance(StateTruncated); err != nil {
		return nil, 0, err
	}
	return docs, len(matches), nil
}

// coldStart ranks without personalization: by similarity to the query
// when one is given and the embedder answers, otherwise by trending order.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func (e *Engine) coldStart(ctx context.Context, tc tenant.Context, query string, exclude []string, params rankParams, run *rankRun, logger zerolog.Logger) ([]RankedDocument, int, error) {
	if query != "" && e.embedder != nil {
		docs, n, err := e.queryRanking(ctx, tc, query, exclude, params, run)
		if err == nil {
			return docs, n, nil
		}
		if !e.degradable(ctx, err) {
			return nil, 0, err
		}
		logger.Warn().Err(err).Msg("query ranking failed, using trending order")
	}
	return e.trending(ctx, tc, exclude, params, run, logger)
}

// queryRanking orders candidates by similarity to the embedded query.
func (e *Engine) queryRanking(ctx context.Context, tc tenant.Context, query string, exclude []string, params rankParams, run *rankRun) ([]RankedDocument, int, error) {
	emb, err := e.embed(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	cands, err := e.knn(ctx, tc, emb, KNNParams{K: params.candidates, ExcludeDocuments: exclude, Tags: params.tags})
	if err != nil {
		return nil, 0, err
	}
	matches := dedupe([][]Candidate{cands}, exclude, params.candidates)
	if err := run.advance(StateCandidatesRetrieved); err != nil {
		return nil, 0, err
	}
	metrics.CandidatesRetrieved.Observe(float64(len(matches)))

	docs := make([]RankedDocument, 0, len(matches))
	for _, m := range matches {
		rel := SimilarityToUnit(m.candidate.Similarity)
		docs = append(docs, RankedDocument{
			DocumentID: m.candidate.DocumentID,
			SubID:      m.candidate.SubID,
			Score:      rel,
			Breakdown:  ScoreBreakdown{Relevance: rel},
			Properties: m.candidate.Properties,
		})
	}
	return e.finishRanking(docs, params.count, run, len(matches))
}

// trending orders by recent interaction volume with a rank-derived score.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func (e *Engine) trending(ctx context.Context, tc tenant.Context, exclude []string, params rankParams, run *rankRun, logger zerolog.Logger) ([]RankedDocument, int, error) {
	since := e.now().Add(-e.config.COI.Horizon)
	limit := params.count
	if len(params.tags) > 0 {
		limit = params.candidates
	}

	var entries []TrendingDocument
	err := withRetry(ctx, e.config.Retry, "trending", logger, func() error {
		var err error
		entries, err = e.store.Trending(ctx, tc, since, limit, exclude)
		return wrapStorage("trending", err)
	})
	if err != nil {
		return nil, 0, err
	}
	entries = filterTrending(entries, params.tags)
	if err := run.advance(StateCandidatesRetrieved); err != nil {
		return nil, 0, err
	}

	docs := make([]RankedDocument, 0, len(entries))
	for i, t := range entries {
		rel := 1 - float64(i)/float64(len(entries))
		docs = append(docs, RankedDocument{
			DocumentID: t.DocumentID,
			Score:      rel,
			Breakdown:  ScoreBreakdown{Relevance: rel},
			Properties: t.Properties,
		})
	}
	return e.finishRanking(docs, params.count, run, len(entries))
}

// finishRanking sorts and truncates an unpersonalized ranking.
func (e *Engine) finishRanking(docs []RankedDocument, count int, run *rankRun, candidates int) ([]RankedDocument, int, error) {
	sortRanked(docs)
	if err := run.advance(StateScored); err != nil {
		return nil, 0, err
	}
	docs = truncate(docs, count)
	if err := run.advance(StateTruncated); err != nil {
		return nil, 0, err
	}
	return docs, candidates, nil
}

// knn calls the index with the collaborator timeout.
func (e *Engine) knn(ctx context.Context, tc tenant.Context, query []float32, params KNNParams) ([]Candidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Collaborator)
	defer cancel()

	cands, err := e.index.KNN(callCtx, tc, query, params)
	if err != nil {
		return nil, classifyCollaboratorError(callCtx, "knn", "index", err)
	}
	return cands, nil
}

// embed calls the embedder with the collaborator timeout.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil {
		return nil, NewInternalError("embed", errors.New("no embedder configured"))
	}
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeouts.Collaborator)
	defer cancel()

	emb, err := e.embedder.Embed(callCtx, text)
	if err != nil {
		return nil, classifyCollaboratorError(callCtx, "embed", "embedder", err)
	}
	return emb, nil
}

// degradable reports whether a read-path failure may fall back to a
// non-personalized ranking. Cancellation of the request itself may not.
func (e *Engine) degradable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindTenantNotFound:
		return false
	default:
		return true
	}
}

// finish records the final state and mode of a request.
func (e *Engine) finish(kind string, run *rankRun, start time.Time, err error) {
	if err != nil {
		run.fail(string(KindOf(err)))
	}
	metrics.RecordRank(kind, run.mode.String(), run.state.String(), time.Since(start))
}

func (e *Engine) cached(key string) *RankResult {
	if e.cache == nil {
		return nil
	}
	v, ok := e.cache.Get(key)
	metrics.RecordCacheLookup("rank", ok)
	if !ok {
		return nil
	}
	res, ok := v.(*RankResult)
	if !ok {
		return nil
	}
	out := res.clone()
	out.CacheHit = true
	return out
}

// classifyCollaboratorError maps deadline errors of a collaborator call to
// KindCollaboratorTimeout.
func classifyCollaboratorError(callCtx context.Context, op, collaborator string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		metrics.CollaboratorTimeouts.WithLabelValues(collaborator).Inc()
		return NewCollaboratorTimeout(op, err)
	}
	return NewInternalError(op, fmt.Errorf("%s: %w", collaborator, err))
}

// selectMode picks personalized over cold start at exactly minCOIs.
func selectMode(positives, minCOIs int, personalized Mode) Mode {
	if positives >= minCOIs {
		return personalized
	}
	return ModeColdStart
}

// resolveCount applies the default and the cap to a requested count.
func resolveCount(count *int, def, maxDocs int) (int, error) {
	if count == nil {
		return def, nil
	}
	if *count < 1 {
		return 0, NewValidationError("rank", CodeInvalidRequest, fmt.Errorf("count must be positive, got %d", *count))
	}
	if *count > maxDocs {
		return maxDocs, nil
	}
	return *count, nil
}

// splitPools separates the positive and negative pools.
func splitPools(cois []coi.COI) (positives, negatives []coi.COI) {
	for i := range cois {
		if cois[i].Polarity.IsPositive() {
			positives = append(positives, cois[i])
		} else {
			negatives = append(negatives, cois[i])
		}
	}
	return positives, negatives
}

// mostRecent returns up to n COIs ordered by descending last view.
func mostRecent(pool []coi.COI, n int) []coi.COI {
	out := append([]coi.COI(nil), pool...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastView.After(out[j].LastView)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// knnBudgets splits a candidate budget by weight, at least 1 per COI.
func knnBudgets(weights []float64, total int) []int {
	out := make([]int, len(weights))
	for i, w := range weights {
		k := int(math.Ceil(w * float64(total)))
		if k < 1 {
			k = 1
		}
		out[i] = k
	}
	return out
}

// match is a deduplicated candidate and the index of the query it came from.
type match struct {
	candidate Candidate
	source    int
}

// dedupe keeps the most similar hit per document, drops excluded
// documents and caps the union at limit by similarity.
func dedupe(results [][]Candidate, exclude []string, limit int) []match {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	best := make(map[string]match)
	for src, cands := range results {
		for _, c := range cands {
			if _, ok := skip[c.DocumentID]; ok {
				continue
			}
			if cur, ok := best[c.DocumentID]; !ok || c.Similarity > cur.candidate.Similarity {
				best[c.DocumentID] = match{candidate: c, source: src}
			}
		}
	}
	out := make([]match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].candidate.Similarity != out[j].candidate.Similarity {
			return out[i].candidate.Similarity > out[j].candidate.Similarity
		}
		return out[i].candidate.DocumentID < out[j].candidate.DocumentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// filterTrending keeps entries carrying any of tags.
func filterTrending(entries []TrendingDocument, tags []string) []TrendingDocument {
	if len(tags) == 0 {
		return entries
	}
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}
	out := make([]TrendingDocument, 0, len(entries))
	for _, t := range entries {
		for _, tag := range t.Tags {
			if _, ok := want[tag]; ok {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func truncate(docs []RankedDocument, n int) []RankedDocument {
	if len(docs) > n {
		return docs[:n]
	}
	return docs
}
