// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"math"
	"testing"
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
)

func TestScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		sim, tags, recency float64
		weights            ScoreWeights
		want               float64
	}{
		{name: "defaults", sim: 1, tags: 0.5, recency: 1, weights: ScoreWeights{1, 1, 0.5}, want: 2},
		{name: "similarity only", sim: 0.8, tags: 1, recency: 1, weights: ScoreWeights{1, 0, 0}, want: 0.8},
		{name: "clamped inputs", sim: 3, tags: -1, recency: math.NaN(), weights: ScoreWeights{1, 1, 1}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Score(tt.sim, tt.tags, tt.recency, tt.weights); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSimilarityToUnit(t *testing.T) {
	t.Parallel()

	for cos, want := range map[float64]float64{-1: 0, 0: 0.5, 1: 1, 1.5: 1} {
		if got := SimilarityToUnit(cos); got != want {
			t.Errorf("SimilarityToUnit(%f) = %f, want %f", cos, got, want)
		}
	}
}

func TestTagAffinity(t *testing.T) {
	t.Parallel()

	weights := map[string]int{"go": 3, "food": 1, "space": 0}
	tests := []struct {
		name    string
		tags    []string
		weights map[string]int
		want    float64
	}{
		{name: "single tag", tags: []string{"go"}, weights: weights, want: 0.75},
		{name: "duplicates counted once", tags: []string{"food", "food"}, weights: weights, want: 0.25},
		{name: "all tags", tags: []string{"go", "food", "space"}, weights: weights, want: 1},
		{name: "unknown tag", tags: []string{"rust"}, weights: weights, want: 0},
		{name: "no weights", tags: []string{"go"}, weights: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TagAffinity(tt.tags, tt.weights); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("TagAffinity() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestNegativePenalty(t *testing.T) {
	t.Parallel()

	now := testNow
	horizon := 30 * coi.Day
	negatives := []coi.COI{{Polarity: coi.Negative, Embedding: []float32{1, 0}, ViewCount: 1, LastView: now}}

	if got := negativePenalty([]float32{1, 0}, negatives, 0, horizon, now); got != 0 {
		t.Errorf("disabled penalty = %f, want 0", got)
	}
	if got := negativePenalty([]float32{2, 0}, negatives, 0.5, horizon, now); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("aligned penalty = %f, want 0.5", got)
	}
	if got := negativePenalty([]float32{-1, 0}, negatives, 0.5, horizon, now); got != 0 {
		t.Errorf("opposite penalty = %f, want 0", got)
	}
	expired := []coi.COI{{Polarity: coi.Negative, Embedding: []float32{1, 0}, LastView: now.Add(-horizon - time.Hour)}}
	if got := negativePenalty([]float32{1, 0}, expired, 0.5, horizon, now); got != 0 {
		t.Errorf("expired penalty = %f, want 0", got)
	}
}

func TestSortRankedTieBreak(t *testing.T) {
	t.Parallel()

	docs := []RankedDocument{
		{DocumentID: "b", Score: 1},
		{DocumentID: "a", SubID: 2, Score: 1},
		{DocumentID: "c", Score: 2},
		{DocumentID: "a", SubID: 1, Score: 1},
	}
	sortRanked(docs)
	want := []struct {
		id  string
		sub int
	}{{"c", 0}, {"a", 1}, {"a", 2}, {"b", 0}}
	for i, w := range want {
		if docs[i].DocumentID != w.id || docs[i].SubID != w.sub {
			t.Fatalf("order = %+v", docs)
		}
	}
}

func TestKNNBudgets(t *testing.T) {
	t.Parallel()

	got := knnBudgets([]float64{0.5, 0.25, 0.002}, 100)
	want := []int{50, 25, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("knnBudgets() = %v, want %v", got, want)
		}
	}
}

func TestDedupe(t *testing.T) {
	t.Parallel()

	results := [][]Candidate{
		{
			{SnippetRef: SnippetRef{DocumentID: "a"}, Similarity: 0.5},
			{SnippetRef: SnippetRef{DocumentID: "b"}, Similarity: 0.9},
			{SnippetRef: SnippetRef{DocumentID: "x"}, Similarity: 1},
		},
		{
			{SnippetRef: SnippetRef{DocumentID: "a"}, Similarity: 0.8},
			{SnippetRef: SnippetRef{DocumentID: "c"}, Similarity: 0.1},
		},
	}
	got := dedupe(results, []string{"x"}, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].candidate.DocumentID != "b" || got[1].candidate.DocumentID != "a" {
		t.Errorf("order = %s, %s, want b, a", got[0].candidate.DocumentID, got[1].candidate.DocumentID)
	}
	if got[1].source != 1 || got[1].candidate.Similarity != 0.8 {
		t.Errorf("duplicate should keep the best hit, got source=%d sim=%f", got[1].source, got[1].candidate.Similarity)
	}
}

func TestMostRecent(t *testing.T) {
	t.Parallel()

	pool := []coi.COI{
		{ViewCount: 1, LastView: testNow.Add(-3 * time.Hour)},
		{ViewCount: 2, LastView: testNow.Add(-time.Hour)},
		{ViewCount: 3, LastView: testNow.Add(-2 * time.Hour)},
	}
	got := mostRecent(pool, 2)
	if len(got) != 2 || got[0].ViewCount != 2 || got[1].ViewCount != 3 {
		t.Errorf("mostRecent() = %+v", got)
	}
	if pool[0].ViewCount != 1 {
		t.Error("input pool must not be reordered")
	}
}

func TestTagDeltasAndApply(t *testing.T) {
	t.Parallel()

	weights := map[string]int{"go": 1}
	ApplyTagDeltas(weights, TagDeltas([]string{"go", "go", "", "food"}, coi.Negative), 0)
	if weights["go"] != 0 || weights["food"] != 0 {
		t.Errorf("weights = %v, want go=0 food=0", weights)
	}
	ApplyTagDeltas(weights, TagDeltas([]string{"food"}, coi.Positive), 0)
	if weights["food"] != 1 {
		t.Errorf("food = %d, want 1", weights["food"])
	}
	if _, ok := TagDeltas([]string{""}, coi.Positive)[""]; ok {
		t.Error("empty tags must be ignored")
	}
}
