// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/coi"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// testDBSemaphore limits concurrent database creation to prevent resource exhaustion in CI.
// DuckDB CGO calls can hang when many connections work concurrently, so
// only one test holds a database at a time.
var testDBSemaphore = make(chan struct{}, 1)

var (
	testNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTenant = tenant.MustNew("acme")
)

// setupTestDB creates a new in-memory test database with the acme tenant.
// The semaphore is held for the entire test and released by t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	type result struct {
		db  *DB
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		db, err := New(Config{Path: ":memory:", MaxMemory: "512MB", Threads: 2}, zerolog.Nop())
		resultCh <- result{db: db, err: err}
	}()

	var db *DB
	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		db = res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s (DuckDB may be under resource pressure)")
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	db.now = func() time.Time { return testNow }
	if err := db.CreateTenant(context.Background(), testTenant); err != nil {
		t.Fatalf("CreateTenant() error = %v", err)
	}
	return db
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func doc(id string, tags []string, emb ...float32) personalize.Document {
	return personalize.Document{
		ID:                id,
		Tags:              tags,
		Properties:        map[string]any{"title": id},
		PreprocessingStep: personalize.PreprocessingNone,
		Snippets:          []personalize.Snippet{{SubID: personalize.PrimarySubID, Text: id, Embedding: emb}},
	}
}

// seedDocuments adds documents around three topics, created an hour apart.
func seedDocuments(t *testing.T, db *DB) {
	t.Helper()
	docs := []personalize.Document{
		doc("go-1", []string{"go"}, 1, 0, 0),
		doc("go-2", []string{"go"}, 0.95, 0.31, 0),
		doc("go-3", []string{"databases", "go"}, 0.9, 0, 0.43),
		doc("bake-1", []string{"food"}, 0, 1, 0),
		doc("space-1", []string{"space"}, 0, 0, 1),
	}
	for i := range docs {
		docs[i].CreatedAt = testNow.Add(time.Duration(i-len(docs)) * time.Hour)
	}
	checkNoError(t, db.UpsertDocuments(context.Background(), testTenant, docs))
}

func TestTenantLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// Creating again migrates nothing and succeeds.
	checkNoError(t, db.CreateTenant(ctx, testTenant))

	version, err := db.SchemaVersion(ctx, testTenant.Schema)
	checkNoError(t, err)
	if want := len(getMigrations()); version != want {
		t.Errorf("SchemaVersion() = %d, want %d", version, want)
	}

	other := tenant.MustNew("globex-eu")
	checkNoError(t, db.CreateTenant(ctx, other))
	ids, err := db.ListTenants(ctx)
	checkNoError(t, err)
	if len(ids) != 2 || ids[0] != "acme" || ids[1] != "globex-eu" {
		t.Errorf("ListTenants() = %v", ids)
	}

	// Tenant data is isolated.
	checkNoError(t, db.UpsertDocuments(ctx, testTenant, []personalize.Document{doc("shared-id", nil, 1, 0)}))
	if _, err := db.Document(ctx, other, "shared-id"); personalize.KindOf(err) != personalize.KindNotFound {
		t.Errorf("Document() in other tenant error = %v, want not_found", err)
	}

	checkNoError(t, db.DeleteTenant(ctx, other))
	if ok, _ := db.HasTenant(ctx, other); ok {
		t.Error("HasTenant() = true after delete")
	}
	if _, err := db.COIs(ctx, other, "u1"); personalize.KindOf(err) != personalize.KindTenantNotFound {
		t.Errorf("COIs() on deleted tenant error = %v, want tenant_not_found", err)
	}
	if err := db.DeleteTenant(ctx, other); personalize.KindOf(err) != personalize.KindTenantNotFound {
		t.Errorf("second DeleteTenant() error = %v, want tenant_not_found", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	in := personalize.Document{
		ID:                "go-101",
		Tags:              []string{"beginner", "go"},
		Properties:        map[string]any{"title": "Go 101", "pages": float64(42)},
		PreprocessingStep: personalize.PreprocessingSplit,
		Snippets: []personalize.Snippet{
			{SubID: 0, Text: "intro", Embedding: []float32{1, 0, 0}},
			{SubID: 1, Text: "types", Embedding: []float32{0, 0.5, 0.25}},
		},
	}
	checkNoError(t, db.UpsertDocuments(ctx, testTenant, []personalize.Document{in}))

	got, err := db.Document(ctx, testTenant, "go-101")
	checkNoError(t, err)
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, testNow)
	}
	if got.PreprocessingStep != personalize.PreprocessingSplit {
		t.Errorf("PreprocessingStep = %q", got.PreprocessingStep)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "beginner" || got.Tags[1] != "go" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Properties["title"] != "Go 101" || got.Properties["pages"] != float64(42) {
		t.Errorf("Properties = %v", got.Properties)
	}
	if len(got.Snippets) != 2 || got.Snippets[1].Text != "types" || got.Snippets[1].Embedding[2] != 0.25 {
		t.Errorf("Snippets = %+v", got.Snippets)
	}

	// Upsert fully replaces snippets and tags but keeps created_at.
	db.now = func() time.Time { return testNow.Add(time.Hour) }
	replaced := in
	replaced.Tags = []string{"go"}
	replaced.Snippets = []personalize.Snippet{{SubID: 0, Text: "intro v2", Embedding: []float32{0, 1, 0}}}
	checkNoError(t, db.UpsertDocuments(ctx, testTenant, []personalize.Document{replaced}))

	got, err = db.Document(ctx, testTenant, "go-101")
	checkNoError(t, err)
	if len(got.Snippets) != 1 || got.Snippets[0].Text != "intro v2" {
		t.Errorf("Snippets after replace = %+v", got.Snippets)
	}
	if len(got.Tags) != 1 {
		t.Errorf("Tags after replace = %v", got.Tags)
	}
	if !got.CreatedAt.Equal(testNow) {
		t.Errorf("CreatedAt after replace = %v, want %v", got.CreatedAt, testNow)
	}

	checkNoError(t, db.DeleteDocument(ctx, testTenant, "go-101"))
	if err := db.DeleteDocument(ctx, testTenant, "go-101"); personalize.CodeOf(err) != personalize.CodeDocumentNotFound {
		t.Errorf("second DeleteDocument() error = %v, want document_not_found", err)
	}
	snippets, err := db.Snippets(ctx, testTenant, []personalize.SnippetRef{{DocumentID: "go-101"}})
	checkNoError(t, err)
	if len(snippets) != 0 {
		t.Errorf("snippets survived delete: %v", snippets)
	}
}

func TestUpsertRejectsSeparatorInTag(t *testing.T) {
	db := setupTestDB(t)
	err := db.UpsertDocuments(context.Background(), testTenant, []personalize.Document{doc("a", []string{"bad\x1ftag"}, 1)})
	if personalize.KindOf(err) != personalize.KindValidation {
		t.Errorf("UpsertDocuments() error = %v, want validation", err)
	}
}

func TestSnippetsKeepRefOrder(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)

	refs := []personalize.SnippetRef{{DocumentID: "space-1"}, {DocumentID: "missing"}, {DocumentID: "go-3"}}
	got, err := db.Snippets(context.Background(), testTenant, refs)
	checkNoError(t, err)
	if len(got) != 2 || got[0].DocumentID != "space-1" || got[1].DocumentID != "go-3" {
		t.Fatalf("Snippets() = %+v", got)
	}
	if len(got[1].Tags) != 2 || got[1].Tags[0] != "databases" {
		t.Errorf("tags = %v", got[1].Tags)
	}
}

func TestWithUserLock(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	ctx := context.Background()

	first := coi.COI{ID: coi.NewID(), Polarity: coi.Positive, Embedding: []float32{1, 0, 0}, ViewCount: 1, LastView: testNow.Add(-time.Hour)}
	second := coi.COI{ID: coi.NewID(), Polarity: coi.Negative, Embedding: []float32{0, 1, 0}, ViewCount: 1, LastView: testNow}

	err := db.WithUserLock(ctx, testTenant, "u1", []coi.Polarity{coi.Positive}, func(tx personalize.Tx) error {
		dim, err := tx.COIDimension(ctx, "u1")
		if err != nil || dim != 0 {
			t.Errorf("COIDimension() = %d, %v; want 0", dim, err)
		}
		data, err := tx.Snippet(ctx, personalize.SnippetRef{DocumentID: "go-1"})
		if err != nil || len(data.Embedding) != 3 {
			t.Errorf("Snippet() = %+v, %v", data, err)
		}
		if _, err := tx.Snippet(ctx, personalize.SnippetRef{DocumentID: "nope"}); personalize.KindOf(err) != personalize.KindNotFound {
			t.Errorf("Snippet(missing) error = %v, want not_found", err)
		}
		if err := tx.SaveCOI(ctx, "u1", first); err != nil {
			return err
		}
		if err := tx.SaveCOI(ctx, "u1", second); err != nil {
			return err
		}
		in := personalize.LoggedInteraction{UserID: "u1", Interaction: personalize.Interaction{
			DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow, ViewTime: 1500 * time.Millisecond,
		}}
		if err := tx.AppendInteraction(ctx, in); err != nil {
			return err
		}
		// Replays are ignored.
		if err := tx.AppendInteraction(ctx, in); err != nil {
			return err
		}
		return tx.AdjustTagWeights(ctx, "u1", map[string]int{"go": 2, "food": -3}, -2)
	})
	checkNoError(t, err)

	// Update in place and clamp to the floor again.
	first.ViewCount = 2
	first.ViewTime = 3 * time.Second
	first.Embedding = []float32{0.8, 0.6, 0}
	err = db.WithUserLock(ctx, testTenant, "u1", []coi.Polarity{coi.Positive}, func(tx personalize.Tx) error {
		dim, err := tx.COIDimension(ctx, "u1")
		if err != nil || dim != 3 {
			t.Errorf("COIDimension() = %d, %v; want 3", dim, err)
		}
		pool, err := tx.COIs(ctx, "u1", coi.Positive)
		if err != nil || len(pool) != 1 {
			t.Errorf("COIs(positive) = %v, %v", pool, err)
		}
		if err := tx.SaveCOI(ctx, "u1", first); err != nil {
			return err
		}
		return tx.AdjustTagWeights(ctx, "u1", map[string]int{"go": 1, "food": -5}, -2)
	})
	checkNoError(t, err)

	cois, err := db.COIs(ctx, testTenant, "u1")
	checkNoError(t, err)
	if len(cois) != 2 || cois[0].ID != first.ID || cois[1].Polarity != coi.Negative {
		t.Fatalf("COIs() = %+v", cois)
	}
	if cois[0].ViewCount != 2 || cois[0].ViewTime != 3*time.Second || cois[0].Embedding[1] != 0.6 {
		t.Errorf("updated COI = %+v", cois[0])
	}
	if !cois[1].LastView.Equal(testNow) {
		t.Errorf("LastView = %v, want %v", cois[1].LastView, testNow)
	}

	weights, err := db.TagWeights(ctx, testTenant, "u1")
	checkNoError(t, err)
	if weights["go"] != 3 || weights["food"] != -2 {
		t.Errorf("TagWeights() = %v, want go=3 food=-2", weights)
	}

	docs, err := db.InteractedDocuments(ctx, testTenant, "u1")
	checkNoError(t, err)
	if len(docs) != 1 || docs[0] != "go-1" {
		t.Errorf("InteractedDocuments() = %v", docs)
	}
}

func TestWithUserLockRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := db.WithUserLock(ctx, testTenant, "u1", []coi.Polarity{coi.Positive}, func(tx personalize.Tx) error {
		c := coi.COI{ID: coi.NewID(), Polarity: coi.Positive, Embedding: []float32{1, 0}, ViewCount: 1, LastView: testNow}
		if err := tx.SaveCOI(ctx, "u1", c); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("WithUserLock() error = %v, want fn error unchanged", err)
	}
	cois, err := db.COIs(ctx, testTenant, "u1")
	checkNoError(t, err)
	if len(cois) != 0 {
		t.Errorf("rolled back COI persisted: %v", cois)
	}
	if n := db.locks.size(); n != 0 {
		t.Errorf("lock entries = %d after release, want 0", n)
	}
}

func newTestRecorder(t *testing.T, db *DB) *personalize.Recorder {
	t.Helper()
	cfg := personalize.DefaultConfig()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 10 * time.Millisecond
	r, err := personalize.NewRecorder(db, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	return r
}

func TestRecorderSerializesConcurrentWriters(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	r := newTestRecorder(t, db)
	ctx := context.Background()

	// Unserialized writers would each see an empty pool and create
	// duplicate COIs, or lose view counts.
	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		in := personalize.Interaction{
			DocumentID: "go-1",
			Reaction:   coi.Positive,
			Timestamp:  testNow.Add(-time.Duration(i+1) * time.Second),
		}
		if i%2 == 1 {
			in.DocumentID, in.Reaction = "bake-1", coi.Negative
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Record(ctx, testTenant, "u1", in); err != nil {
				t.Errorf("Record(%s) error = %v", in.DocumentID, err)
			}
		}()
	}
	wg.Wait()

	cois, err := db.COIs(ctx, testTenant, "u1")
	checkNoError(t, err)
	if len(cois) != 2 {
		t.Fatalf("COIs() = %d, want one per pool", len(cois))
	}
	for _, c := range cois {
		if c.ViewCount != writers/2 {
			t.Errorf("%s COI view_count = %d, want %d", c.Polarity, c.ViewCount, writers/2)
		}
	}
	if n := db.locks.size(); n != 0 {
		t.Errorf("lock entries = %d after release, want 0", n)
	}
}

func TestRecordBatchRollsBackOnDuckDB(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	r := newTestRecorder(t, db)
	ctx := context.Background()

	batch := []personalize.Interaction{
		{DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow},
		{DocumentID: "bake-1", Reaction: coi.Negative, Timestamp: testNow},
		{DocumentID: "missing", Reaction: coi.Positive, Timestamp: testNow},
	}
	for attempt := 1; attempt <= 2; attempt++ {
		_, err := r.RecordBatch(ctx, testTenant, "u1", batch)
		if personalize.CodeOf(err) != personalize.CodeUnknownTarget {
			t.Fatalf("attempt %d: error = %v, want unknown_target", attempt, err)
		}
		cois, err := db.COIs(ctx, testTenant, "u1")
		checkNoError(t, err)
		docs, err := db.InteractedDocuments(ctx, testTenant, "u1")
		checkNoError(t, err)
		weights, err := db.TagWeights(ctx, testTenant, "u1")
		checkNoError(t, err)
		if len(cois) != 0 || len(docs) != 0 || len(weights) != 0 {
			t.Errorf("attempt %d: rejected batch persisted cois=%v log=%v weights=%v", attempt, cois, docs, weights)
		}
	}

	results, err := r.RecordBatch(ctx, testTenant, "u1", batch[:2])
	checkNoError(t, err)
	if len(results) != 2 || !results[0].Created || !results[1].Created {
		t.Errorf("RecordBatch() = %+v", results)
	}
}

func TestKNN(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	ctx := context.Background()
	query := []float32{1, 0, 0}

	tests := []struct {
		name   string
		query  []float32
		params personalize.KNNParams
		want   []string
	}{
		{name: "nearest first", query: query, params: personalize.KNNParams{K: 3}, want: []string{"go-1", "go-2", "go-3"}},
		{name: "exclusions", query: query, params: personalize.KNNParams{K: 2, ExcludeDocuments: []string{"go-1"}}, want: []string{"go-2", "go-3"}},
		{name: "tag filter", query: query, params: personalize.KNNParams{K: 5, Tags: []string{"databases", "space"}}, want: []string{"go-3", "space-1"}},
		{name: "other dimension", query: []float32{1, 0}, params: personalize.KNNParams{K: 5}, want: nil},
		{name: "zero k", query: query, params: personalize.KNNParams{K: 0}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.KNN(ctx, testTenant, tt.query, tt.params)
			checkNoError(t, err)
			if len(got) != len(tt.want) {
				t.Fatalf("KNN() returned %d candidates, want %v", len(got), tt.want)
			}
			for i, c := range got {
				if c.DocumentID != tt.want[i] {
					t.Errorf("KNN()[%d] = %s, want %s", i, c.DocumentID, tt.want[i])
				}
			}
		})
	}

	got, err := db.KNN(ctx, testTenant, query, personalize.KNNParams{K: 1})
	checkNoError(t, err)
	c := got[0]
	if c.Similarity < 0.999 || c.Properties["title"] != "go-1" || len(c.Tags) != 1 || len(c.Embedding) != 3 {
		t.Errorf("candidate = %+v", c)
	}
}

func TestTrending(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	ctx := context.Background()

	// bake-1 gets two recent interactions, go-1 one recent and one stale.
	log := []struct {
		doc string
		at  time.Time
	}{
		{"bake-1", testNow.Add(-time.Hour)},
		{"bake-1", testNow.Add(-2 * time.Hour)},
		{"go-1", testNow.Add(-time.Hour)},
		{"go-1", testNow.Add(-30 * 24 * time.Hour)},
	}
	err := db.WithUserLock(ctx, testTenant, "u1", []coi.Polarity{coi.Positive}, func(tx personalize.Tx) error {
		for _, l := range log {
			in := personalize.LoggedInteraction{UserID: "u1", Interaction: personalize.Interaction{
				DocumentID: l.doc, Reaction: coi.Positive, Timestamp: l.at,
			}}
			if err := tx.AppendInteraction(ctx, in); err != nil {
				return err
			}
		}
		return nil
	})
	checkNoError(t, err)

	got, err := db.Trending(ctx, testTenant, testNow.Add(-7*24*time.Hour), 4, []string{"go-2"})
	checkNoError(t, err)
	want := []string{"bake-1", "go-1", "space-1", "go-3"}
	if len(got) != len(want) {
		t.Fatalf("Trending() = %+v", got)
	}
	for i, td := range got {
		if td.DocumentID != want[i] {
			t.Errorf("Trending()[%d] = %s, want %s", i, td.DocumentID, want[i])
		}
	}
	if got[0].Interactions != 2 || got[1].Interactions != 1 || got[2].Interactions != 0 {
		t.Errorf("interaction counts = %d, %d, %d", got[0].Interactions, got[1].Interactions, got[2].Interactions)
	}
}

func TestRecorderOnDuckDB(t *testing.T) {
	db := setupTestDB(t)
	seedDocuments(t, db)
	ctx := context.Background()

	rec, err := personalize.NewRecorder(db, personalize.DefaultConfig(), zerolog.Nop())
	checkNoError(t, err)

	first, err := rec.Record(ctx, testTenant, "u1", personalize.Interaction{DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow.Add(-time.Minute)})
	checkNoError(t, err)
	if !first.Created {
		t.Error("first reaction should create a COI")
	}
	second, err := rec.Record(ctx, testTenant, "u1", personalize.Interaction{DocumentID: "go-1", Reaction: coi.Positive, Timestamp: testNow})
	checkNoError(t, err)
	if second.Created || second.COIID != first.COIID || second.ViewCount != 2 {
		t.Errorf("second reaction = %+v, want update of %s", second, first.COIID)
	}

	if _, err := rec.Record(ctx, testTenant, "u1", personalize.Interaction{DocumentID: "missing", Reaction: coi.Positive}); personalize.KindOf(err) != personalize.KindValidation {
		t.Errorf("Record(missing) error = %v, want validation", err)
	}

	weights, err := db.TagWeights(ctx, testTenant, "u1")
	checkNoError(t, err)
	if weights["go"] <= 0 {
		t.Errorf("TagWeights() = %v, want positive go weight", weights)
	}
}
