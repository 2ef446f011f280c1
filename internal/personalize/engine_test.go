// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/cache"
	"github.com/tomtom215/lodestar/internal/coi"
)

func assertSorted(t *testing.T, docs []RankedDocument) {
	t.Helper()
	for i := 1; i < len(docs); i++ {
		if docs[i].Score > docs[i-1].Score {
			t.Fatalf("ranking not sorted at %d: %v", i, docIDs(docs))
		}
	}
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	if _, err := NewEngine(nil, &memIndex{store: s}, testConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error without store")
	}
	if _, err := NewEngine(s, nil, testConfig(), zerolog.Nop()); err == nil {
		t.Error("expected error without index")
	}
	cfg := testConfig()
	cfg.Personalization.DefaultNumberDocuments = 0
	if _, err := NewEngine(s, &memIndex{store: s}, cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestRankModeSelectionAtMinCOIs(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	ix := &memIndex{store: s}
	r := newTestRecorder(t, s, testConfig())
	e := newTestEngine(t, s, ix, testConfig())
	ctx := context.Background()

	react(t, r, "alice", coi.Positive, "go-1")
	res, err := e.Rank(ctx, testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Mode != ModeColdStart || res.Degraded {
		t.Errorf("one COI: mode=%s degraded=%v, want cold_start", res.Mode, res.Degraded)
	}
	if ix.calls.Load() != 0 {
		t.Errorf("cold start without query should not query the index")
	}

	react(t, r, "alice", coi.Positive, "bake-1")
	res, err = e.Rank(ctx, testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Mode != ModePersisted {
		t.Errorf("two COIs: mode=%s, want persisted", res.Mode)
	}
	if res.State != StateReturned {
		t.Errorf("state = %s, want returned", res.State)
	}
}

func TestRankPersistedExcludesHistory(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	r := newTestRecorder(t, s, testConfig())
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig())

	react(t, r, "alice", coi.Positive, "go-1", "bake-1")
	res, err := e.Rank(context.Background(), testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}

	ids := docIDs(res.Documents)
	if len(ids) != 4 || res.Candidates != 4 {
		t.Fatalf("documents = %v candidates = %d, want the 4 unseen documents", ids, res.Candidates)
	}
	for _, seen := range []string{"go-1", "bake-1"} {
		if contains(ids, seen) {
			t.Errorf("%s was interacted with and must be excluded", seen)
		}
	}
	assertSorted(t, res.Documents)
	// space-1 is orthogonal to both interests and carries an unknown tag.
	if ids[len(ids)-1] != "space-1" {
		t.Errorf("last document = %s, want space-1", ids[len(ids)-1])
	}
	if res.Documents[0].Properties["title"] != res.Documents[0].DocumentID {
		t.Errorf("properties not carried through: %v", res.Documents[0].Properties)
	}
}

func TestRankSimilarityOnlyWeights(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Personalization.ScoreWeights = ScoreWeights{1, 0, 0}
	s := newMemStore()
	seedCorpus(s)
	r := newTestRecorder(t, s, cfg)
	e := newTestEngine(t, s, &memIndex{store: s}, cfg)

	react(t, r, "alice", coi.Positive, "go-1", "bake-1")
	res, err := e.Rank(context.Background(), testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	for _, d := range res.Documents {
		if math.Abs(d.Score-d.Breakdown.COISimilarity) > 1e-12 {
			t.Errorf("%s: score %f != coi similarity %f", d.DocumentID, d.Score, d.Breakdown.COISimilarity)
		}
	}
	assertSorted(t, res.Documents)
}

func TestRankDegradesOnIndexFailure(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	ix := &memIndex{store: s, err: errors.New("index unavailable")}
	r := newTestRecorder(t, s, testConfig())
	e := newTestEngine(t, s, ix, testConfig())

	react(t, r, "alice", coi.Positive, "go-1", "bake-1")
	res, err := e.Rank(context.Background(), testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Mode != ModeColdStart || !res.Degraded || res.State != StateReturned {
		t.Errorf("mode=%s degraded=%v state=%s, want degraded cold start", res.Mode, res.Degraded, res.State)
	}
	if len(res.Documents) == 0 {
		t.Fatal("degraded ranking should fall back to trending documents")
	}
	if contains(docIDs(res.Documents), "go-1") {
		t.Error("fallback must still exclude seen documents")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Rank(ctx, testTenant, RankRequest{UserID: "alice"}); err == nil {
		t.Error("a cancelled request must fail instead of degrading")
	}
}

func TestRankColdStartTrending(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig())

	tests := []struct {
		name string
		req  RankRequest
		want []string
	}{
		{name: "newest first", req: RankRequest{UserID: "bob", Count: intPtr(3)}, want: []string{"space-1", "bake-2", "bake-1"}},
		{name: "tag filter", req: RankRequest{UserID: "bob", Tags: []string{"go"}}, want: []string{"go-3", "go-2", "go-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := e.Rank(context.Background(), testTenant, tt.req)
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			got := docIDs(res.Documents)
			if len(got) != len(tt.want) {
				t.Fatalf("documents = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("documents = %v, want %v", got, tt.want)
				}
			}
			if res.Documents[0].Score != 1 || math.Abs(res.Documents[1].Score-2.0/3) > 1e-12 {
				t.Errorf("scores = %f, %f, want 1, 2/3", res.Documents[0].Score, res.Documents[1].Score)
			}
		})
	}
}

func TestRankColdStartQuery(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	emb := &fakeEmbedder{vectors: map[string][]float32{"golang": {1, 0, 0}}}
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig(), WithEmbedder(emb))

	res, err := e.Rank(context.Background(), testTenant, RankRequest{UserID: "bob", Query: "golang", Count: intPtr(2)})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Mode != ModeColdStart || res.Degraded {
		t.Errorf("mode=%s degraded=%v", res.Mode, res.Degraded)
	}
	if got := docIDs(res.Documents); len(got) != 2 || got[0] != "go-1" || got[1] != "go-2" {
		t.Errorf("documents = %v, want [go-1 go-2]", got)
	}
	if res.Documents[0].Breakdown.Relevance != 1 {
		t.Errorf("relevance of exact match = %f, want 1", res.Documents[0].Breakdown.Relevance)
	}

	// An unknown query falls back to trending.
	res, err = e.Rank(context.Background(), testTenant, RankRequest{UserID: "bob", Query: "unknown", Count: intPtr(1)})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if got := docIDs(res.Documents); len(got) != 1 || got[0] != "space-1" {
		t.Errorf("fallback documents = %v, want [space-1]", got)
	}
}

func TestRankCount(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	cfg := testConfig()
	cfg.Personalization.DefaultNumberDocuments = 2
	cfg.Personalization.MaxNumberDocuments = 4
	e := newTestEngine(t, s, &memIndex{store: s}, cfg)

	tests := []struct {
		name    string
		count   *int
		want    int
		wantErr bool
	}{
		{name: "default", count: nil, want: 2},
		{name: "explicit", count: intPtr(3), want: 3},
		{name: "capped", count: intPtr(50), want: 4},
		{name: "zero", count: intPtr(0), wantErr: true},
		{name: "negative", count: intPtr(-1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := e.Rank(context.Background(), testTenant, RankRequest{UserID: "bob", Count: tt.count})
			if tt.wantErr {
				if KindOf(err) != KindValidation {
					t.Errorf("error = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Rank() error = %v", err)
			}
			if len(res.Documents) != tt.want {
				t.Errorf("len = %d, want %d", len(res.Documents), tt.want)
			}
		})
	}
}

func TestRankCacheInvalidatedByInteraction(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	c := cache.New(time.Minute)
	defer c.Close()
	r := newTestRecorder(t, s, testConfig(), WithRecorderCache(c))
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig(), WithRankCache(c))
	ctx := context.Background()

	react(t, r, "alice", coi.Positive, "go-1", "bake-1")

	first, err := e.Rank(ctx, testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	second, err := e.Rank(ctx, testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if first.CacheHit || !second.CacheHit {
		t.Errorf("cache hits = %v, %v, want false, true", first.CacheHit, second.CacheHit)
	}
	if len(second.Documents) != len(first.Documents) {
		t.Errorf("cached ranking differs: %v vs %v", docIDs(second.Documents), docIDs(first.Documents))
	}

	react(t, r, "alice", coi.Positive, "go-2")
	third, err := e.Rank(ctx, testTenant, RankRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if third.CacheHit {
		t.Error("ranking after an interaction must not be served from cache")
	}
	if contains(docIDs(third.Documents), "go-2") {
		t.Error("newly seen document must be excluded")
	}
}

func TestRankCacheKeysAreUnambiguous(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	c := cache.New(time.Minute)
	defer c.Close()
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig(), WithRankCache(c))
	ctx := context.Background()

	// Each pair would share a key if parts were joined with separators
	// that ids, tags and queries may contain.
	pairs := []struct {
		name        string
		first, next RankRequest
	}{
		{
			name:  "user id with separator",
			first: RankRequest{UserID: "bob:5", Count: intPtr(10), Query: "q"},
			next:  RankRequest{UserID: "bob", Count: intPtr(5), Tags: []string{"10"}, Query: ":q"},
		},
		{
			name:  "tag with comma",
			first: RankRequest{UserID: "carol", Tags: []string{"a,b"}},
			next:  RankRequest{UserID: "carol", Tags: []string{"a", "b"}},
		},
		{
			name:  "query with tag delimiter",
			first: RankRequest{UserID: "dave", Tags: []string{"go"}, Query: "x"},
			next:  RankRequest{UserID: "dave", Query: `"go"]"x`},
		},
	}
	for _, tt := range pairs {
		if _, err := e.Rank(ctx, testTenant, tt.first); err != nil {
			t.Fatalf("%s: Rank(first) error = %v", tt.name, err)
		}
		res, err := e.Rank(ctx, testTenant, tt.next)
		if err != nil {
			t.Fatalf("%s: Rank(next) error = %v", tt.name, err)
		}
		if res.CacheHit {
			t.Errorf("%s: served another request's cached ranking %v", tt.name, docIDs(res.Documents))
		}
	}
}

func TestUserCachePrefixIsolatesUsers(t *testing.T) {
	t.Parallel()

	c := cache.New(time.Minute)
	defer c.Close()
	alice := rankCacheKey(testTenant, "alice", 10, "", nil)
	aliceX := rankCacheKey(testTenant, "alice:x", 10, "", nil)
	c.Set(alice, "alice")
	c.Set(aliceX, "alice:x")

	if n := c.DeletePrefix(UserCachePrefix(testTenant, "alice")); n != 1 {
		t.Errorf("DeletePrefix(alice) removed %d entries, want 1", n)
	}
	if _, ok := c.Get(aliceX); !ok {
		t.Error("invalidating alice dropped alice:x's ranking")
	}
}

func TestRankStatelessLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig())

	res, err := e.RankStateless(context.Background(), testTenant, StatelessRequest{
		History: []HistoryEntry{
			{DocumentID: "space-1", Reaction: coi.Negative, Timestamp: testNow.Add(-time.Minute)},
			{DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow.Add(-3 * time.Minute)},
			{DocumentID: "bake-1", Reaction: coi.Positive, Timestamp: testNow.Add(-2 * time.Minute)},
			{DocumentID: "deleted-doc", Reaction: coi.Positive, Timestamp: testNow.Add(-4 * time.Minute)},
		},
	})
	if err != nil {
		t.Fatalf("RankStateless() error = %v", err)
	}
	if res.Mode != ModeStateless {
		t.Errorf("mode = %s, want stateless", res.Mode)
	}
	ids := docIDs(res.Documents)
	for _, seen := range []string{"space-1", "go-1", "bake-1"} {
		if contains(ids, seen) {
			t.Errorf("history document %s must be excluded", seen)
		}
	}
	if len(ids) != 3 {
		t.Errorf("documents = %v, want go-2, go-3 and bake-2", ids)
	}
	if cois, logged, writes := s.snapshot(); cois != 0 || logged != 0 || writes != 0 {
		t.Errorf("stateless ranking wrote state: cois=%d logged=%d writes=%d", cois, logged, writes)
	}
}

func TestRankStatelessHistoryLimits(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Personalization.MaxStatelessHistorySize = 2
	cfg.Personalization.MaxStatelessHistoryForCOIs = 2
	s := newMemStore()
	seedCorpus(s)
	e := newTestEngine(t, s, &memIndex{store: s}, cfg)

	res, err := e.RankStateless(context.Background(), testTenant, StatelessRequest{
		History: []HistoryEntry{
			{DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow.Add(-3 * time.Minute)},
			{DocumentID: "bake-1", Reaction: coi.Positive, Timestamp: testNow.Add(-2 * time.Minute)},
			{DocumentID: "space-1", Reaction: coi.Positive, Timestamp: testNow.Add(-time.Minute)},
		},
	})
	if err != nil {
		t.Fatalf("RankStateless() error = %v", err)
	}
	if res.Mode != ModeStateless {
		t.Errorf("mode = %s, want stateless", res.Mode)
	}
	// The oldest entry is truncated away and no longer excluded.
	if !contains(docIDs(res.Documents), "go-1") {
		t.Errorf("documents = %v, want go-1 included", docIDs(res.Documents))
	}
}

func TestRankStatelessColdStartAndValidation(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig())

	res, err := e.RankStateless(context.Background(), testTenant, StatelessRequest{
		History: []HistoryEntry{{DocumentID: "space-1", Reaction: coi.Positive}},
	})
	if err != nil {
		t.Fatalf("RankStateless() error = %v", err)
	}
	if res.Mode != ModeColdStart || contains(docIDs(res.Documents), "space-1") {
		t.Errorf("mode=%s documents=%v, want cold start without space-1", res.Mode, docIDs(res.Documents))
	}

	_, err = e.RankStateless(context.Background(), testTenant, StatelessRequest{
		History: []HistoryEntry{{DocumentID: "go-1"}},
	})
	if KindOf(err) != KindValidation {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestSemanticSearchValidation(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	cfg := testConfig()
	cfg.SemanticSearch.MaxQuerySize = 8
	e := newTestEngine(t, s, &memIndex{store: s}, cfg)

	tests := []struct {
		name     string
		req      SearchRequest
		wantCode string
	}{
		{name: "neither", req: SearchRequest{}, wantCode: CodeInvalidRequest},
		{name: "both", req: SearchRequest{Query: "go", DocumentID: "go-1"}, wantCode: CodeInvalidRequest},
		{name: "user and history", req: SearchRequest{DocumentID: "go-1", UserID: "alice", History: []HistoryEntry{{DocumentID: "go-2", Reaction: coi.Positive}}}, wantCode: CodeInvalidRequest},
		{name: "query too long", req: SearchRequest{Query: "ünïcödé text"}, wantCode: CodeQueryTooLong},
		{name: "bad count", req: SearchRequest{DocumentID: "go-1", Count: intPtr(0)}, wantCode: CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.SemanticSearch(context.Background(), testTenant, tt.req)
			if KindOf(err) != KindValidation || CodeOf(err) != tt.wantCode {
				t.Errorf("error = %v, want validation/%s", err, tt.wantCode)
			}
		})
	}
}

func TestSemanticSearchByDocument(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	r := newTestRecorder(t, s, testConfig())
	e := newTestEngine(t, s, &memIndex{store: s}, testConfig())
	ctx := context.Background()

	res, err := e.SemanticSearch(ctx, testTenant, SearchRequest{DocumentID: "go-1", Count: intPtr(2)})
	if err != nil {
		t.Fatalf("SemanticSearch() error = %v", err)
	}
	if got := docIDs(res.Documents); len(got) != 2 || got[0] != "go-2" || got[1] != "go-3" {
		t.Errorf("documents = %v, want [go-2 go-3]", got)
	}
	if res.Mode != ModeColdStart {
		t.Errorf("mode = %s, want cold_start", res.Mode)
	}

	if _, err := e.SemanticSearch(ctx, testTenant, SearchRequest{DocumentID: "missing"}); KindOf(err) != KindNotFound {
		t.Errorf("unknown document error = %v, want not_found", err)
	}

	react(t, r, "alice", coi.Positive, "go-1", "bake-1")
	res, err = e.SemanticSearch(ctx, testTenant, SearchRequest{DocumentID: "go-1", UserID: "alice"})
	if err != nil {
		t.Fatalf("SemanticSearch() error = %v", err)
	}
	if res.Mode != ModePersisted {
		t.Errorf("mode = %s, want persisted", res.Mode)
	}
	if res.Documents[0].Breakdown.COISimilarity == 0 {
		t.Errorf("personalized search should carry COI similarity: %+v", res.Documents[0].Breakdown)
	}

	res, err = e.SemanticSearch(ctx, testTenant, SearchRequest{DocumentID: "go-1", History: []HistoryEntry{
		{DocumentID: "go-2", Reaction: coi.Positive},
		{DocumentID: "bake-2", Reaction: coi.Positive},
	}})
	if err != nil {
		t.Fatalf("SemanticSearch() error = %v", err)
	}
	if res.Mode != ModeStateless {
		t.Errorf("mode = %s, want stateless", res.Mode)
	}
}

func TestSemanticSearchByQuery(t *testing.T) {
	t.Parallel()

	s := newMemStore()
	seedCorpus(s)
	emb := &fakeEmbedder{vectors: map[string][]float32{"stars": {0, 0, 1}}}

	noEmbedder := newTestEngine(t, s, &memIndex{store: s}, testConfig())
	if _, err := noEmbedder.SemanticSearch(context.Background(), testTenant, SearchRequest{Query: "stars"}); err == nil {
		t.Error("query search without embedder should fail")
	}

	e := newTestEngine(t, s, &memIndex{store: s}, testConfig(), WithEmbedder(emb))
	res, err := e.SemanticSearch(context.Background(), testTenant, SearchRequest{Query: "stars", Tags: []string{"space", "go"}})
	if err != nil {
		t.Fatalf("SemanticSearch() error = %v", err)
	}
	got := docIDs(res.Documents)
	if len(got) != 4 || got[0] != "space-1" {
		t.Errorf("documents = %v, want space-1 first among 4 tagged", got)
	}
	if contains(got, "bake-1") {
		t.Error("tag filter not applied")
	}
}
