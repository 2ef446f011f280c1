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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/tenant"
)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTenant = tenant.MustNew("acme")
)

// memStore is an in-memory Store used by the package tests. WithUserLock
// holds the store mutex for the whole transaction and commits staged
// writes only when fn succeeds. Reads inside the transaction see its
// staged writes.
type memStore struct {
	mu     sync.Mutex
	docs   map[string]Document
	cois   map[string][]coi.COI
	tags   map[string]map[string]int
	log    []LoggedInteraction
	now    time.Time
	writes int

	failLocks int
	lockCalls int
	locked    [][]coi.Polarity
}

func newMemStore() *memStore {
	return &memStore{
		docs: make(map[string]Document),
		cois: make(map[string][]coi.COI),
		tags: make(map[string]map[string]int),
		now:  testNow,
	}
}

// addDoc adds a single-snippet document created age before testNow.
func (s *memStore) addDoc(id string, tags []string, age time.Duration, emb ...float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = Document{
		ID:                id,
		Tags:              tags,
		PreprocessingStep: PreprocessingNone,
		CreatedAt:         testNow.Add(-age),
		Properties:        map[string]any{"title": id},
		Snippets:          []Snippet{{SubID: PrimarySubID, Text: id, Embedding: emb}},
	}
}

func (s *memStore) snapshot() (cois int, logged int, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pool := range s.cois {
		cois += len(pool)
	}
	return cois, len(s.log), s.writes
}

func (s *memStore) COIs(_ context.Context, _ tenant.Context, userID string) ([]coi.COI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]coi.COI, 0, len(s.cois[userID]))
	for _, c := range s.cois[userID] {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *memStore) TagWeights(_ context.Context, _ tenant.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.tags[userID]))
	for k, v := range s.tags[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) InteractedDocuments(_ context.Context, _ tenant.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, in := range s.log {
		if in.UserID != userID {
			continue
		}
		if _, ok := seen[in.DocumentID]; !ok {
			seen[in.DocumentID] = struct{}{}
			out = append(out, in.DocumentID)
		}
	}
	return out, nil
}

func (s *memStore) Snippets(_ context.Context, _ tenant.Context, refs []SnippetRef) ([]SnippetData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SnippetData
	for _, ref := range refs {
		if data, ok := s.snippet(ref); ok {
			out = append(out, data)
		}
	}
	return out, nil
}

func (s *memStore) snippet(ref SnippetRef) (SnippetData, bool) {
	doc, ok := s.docs[ref.DocumentID]
	if !ok {
		return SnippetData{}, false
	}
	for _, sn := range doc.Snippets {
		if sn.SubID == ref.SubID {
			return SnippetData{SnippetRef: ref, Embedding: sn.Embedding, Tags: doc.Tags}, true
		}
	}
	return SnippetData{}, false
}

func (s *memStore) Trending(_ context.Context, _ tenant.Context, since time.Time, limit int, exclude []string) ([]TrendingDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	counts := make(map[string]int)
	for _, in := range s.log {
		if !in.Timestamp.Before(since) {
			counts[in.DocumentID]++
		}
	}
	var out []TrendingDocument
	for id, doc := range s.docs {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, TrendingDocument{
			DocumentID:   id,
			Interactions: counts[id],
			CreatedAt:    doc.CreatedAt,
			Tags:         doc.Tags,
			Properties:   doc.Properties,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interactions != out[j].Interactions {
			return out[i].Interactions > out[j].Interactions
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) WithUserLock(ctx context.Context, _ tenant.Context, _ string, pools []coi.Polarity, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	s.locked = append(s.locked, append([]coi.Polarity(nil), pools...))
	if s.failLocks > 0 {
		s.failLocks--
		return NewStorageError("begin", errors.New("serialization failure"))
	}
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) UpsertDocuments(_ context.Context, _ tenant.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if old, ok := s.docs[d.ID]; ok {
			d.CreatedAt = old.CreatedAt
		} else if d.CreatedAt.IsZero() {
			d.CreatedAt = s.now
		}
		s.docs[d.ID] = d
	}
	s.writes++
	return nil
}

func (s *memStore) DeleteDocument(_ context.Context, _ tenant.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return NewNotFound("delete document", CodeDocumentNotFound, fmt.Errorf("document %q not found", documentID))
	}
	delete(s.docs, documentID)
	s.writes++
	return nil
}

func (s *memStore) Document(_ context.Context, _ tenant.Context, documentID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, NewNotFound("get document", CodeDocumentNotFound, fmt.Errorf("document %q not found", documentID))
	}
	return &doc, nil
}

type stagedCOI struct {
	userID string
	c      coi.COI
}

type stagedTags struct {
	userID string
	deltas map[string]int
	floor  int
}

// memTx runs with the store mutex held.
type memTx struct {
	s      *memStore
	cois   []stagedCOI
	logged []LoggedInteraction
	tags   []stagedTags
}

func (tx *memTx) Snippet(_ context.Context, ref SnippetRef) (SnippetData, error) {
	data, ok := tx.s.snippet(ref)
	if !ok {
		return SnippetData{}, NewNotFound("load snippet", "", fmt.Errorf("snippet %s/%d", ref.DocumentID, ref.SubID))
	}
	return data, nil
}

func (tx *memTx) COIDimension(_ context.Context, userID string) (int, error) {
	if pool := tx.view(userID); len(pool) > 0 {
		return len(pool[0].Embedding), nil
	}
	return 0, nil
}

func (tx *memTx) COIs(_ context.Context, userID string, polarity coi.Polarity) ([]coi.COI, error) {
	var out []coi.COI
	for _, c := range tx.view(userID) {
		if c.Polarity == polarity {
			out = append(out, c)
		}
	}
	return out, nil
}

// view returns the user's committed COIs overlaid with staged ones.
func (tx *memTx) view(userID string) []coi.COI {
	var out []coi.COI
	for _, c := range tx.s.cois[userID] {
		out = append(out, c.Clone())
	}
	for _, sc := range tx.cois {
		if sc.userID != userID {
			continue
		}
		out = mergeCOI(out, sc.c.Clone())
	}
	return out
}

func mergeCOI(pool []coi.COI, c coi.COI) []coi.COI {
	for i := range pool {
		if pool[i].ID == c.ID {
			pool[i] = c
			return pool
		}
	}
	return append(pool, c)
}

func (tx *memTx) SaveCOI(_ context.Context, userID string, c coi.COI) error {
	tx.cois = append(tx.cois, stagedCOI{userID: userID, c: c.Clone()})
	return nil
}

func (tx *memTx) AppendInteraction(_ context.Context, in LoggedInteraction) error {
	tx.logged = append(tx.logged, in)
	return nil
}

func (tx *memTx) AdjustTagWeights(_ context.Context, userID string, deltas map[string]int, floor int) error {
	tx.tags = append(tx.tags, stagedTags{userID: userID, deltas: deltas, floor: floor})
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	for _, sc := range tx.cois {
		s.cois[sc.userID] = mergeCOI(s.cois[sc.userID], sc.c)
	}
	s.log = append(s.log, tx.logged...)
	for _, st := range tx.tags {
		if s.tags[st.userID] == nil {
			s.tags[st.userID] = make(map[string]int)
		}
		ApplyTagDeltas(s.tags[st.userID], st.deltas, st.floor)
	}
	s.writes++
}

// memIndex is a brute-force Index over a memStore.
type memIndex struct {
	store *memStore
	err   error
	calls atomic.Int32
}

func (ix *memIndex) KNN(_ context.Context, _ tenant.Context, query []float32, p KNNParams) ([]Candidate, error) {
	ix.calls.Add(1)
	if ix.err != nil {
		return nil, ix.err
	}
	ix.store.mu.Lock()
	defer ix.store.mu.Unlock()

	skip := make(map[string]struct{}, len(p.ExcludeDocuments))
	for _, id := range p.ExcludeDocuments {
		skip[id] = struct{}{}
	}
	var out []Candidate
	for id, doc := range ix.store.docs {
		if _, ok := skip[id]; ok {
			continue
		}
		if len(p.Tags) > 0 && !hasAnyTag(doc.Tags, p.Tags) {
			continue
		}
		for _, sn := range doc.Snippets {
			sim, err := coi.Cosine(query, sn.Embedding)
			if err != nil {
				continue
			}
			out = append(out, Candidate{
				SnippetRef: SnippetRef{DocumentID: id, SubID: sn.SubID},
				Similarity: sim,
				Embedding:  sn.Embedding,
				Tags:       doc.Tags,
				Properties: doc.Properties,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	if p.K > 0 && len(out) > p.K {
		out = out[:p.K]
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

// fakeEmbedder embeds known texts.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return append([]float32(nil), v...), nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake" }

// testConfig is DefaultConfig with fast retries.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	return cfg
}

// seedCorpus adds documents around three topics.
func seedCorpus(s *memStore) {
	s.addDoc("go-1", []string{"go"}, 5*time.Hour, 1, 0, 0)
	s.addDoc("go-2", []string{"go"}, 4*time.Hour, 0.95, 0.31, 0)
	s.addDoc("go-3", []string{"go", "databases"}, 3*time.Hour, 0.9, 0, 0.43)
	s.addDoc("bake-1", []string{"food"}, 2*time.Hour, 0, 1, 0)
	s.addDoc("bake-2", []string{"food"}, 1*time.Hour, 0.1, 0.99, 0.1)
	s.addDoc("space-1", []string{"space"}, 30*time.Minute, 0, 0, 1)
}

func newTestRecorder(t *testing.T, s *memStore, cfg Config, opts ...RecorderOption) *Recorder {
	t.Helper()
	opts = append([]RecorderOption{WithRecorderClock(func() time.Time { return testNow })}, opts...)
	r, err := NewRecorder(s, cfg, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r
}

func newTestEngine(t *testing.T, s *memStore, ix Index, cfg Config, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithEngineClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(s, ix, cfg, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

// react records positive or negative reactions of userID at successive
// minutes before testNow.
func react(t *testing.T, r *Recorder, userID string, polarity coi.Polarity, docs ...string) {
	t.Helper()
	for i, id := range docs {
		_, err := r.Record(context.Background(), testTenant, userID, Interaction{
			DocumentID: id,
			Reaction:   polarity,
			Timestamp:  testNow.Add(-time.Duration(len(docs)-i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record(%s) error = %v", id, err)
		}
	}
}

func docIDs(docs []RankedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.DocumentID
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func intPtr(n int) *int { return &n }
