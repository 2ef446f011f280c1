// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"math"
	"sort"
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
)

// ScoreBreakdown holds the signals behind a document's score.
type ScoreBreakdown struct {
	// COISimilarity is the matched COI's similarity mapped to [0, 1].
	COISimilarity float64 `json:"coi_similarity"`

	// TagAffinity is the user's normalized affinity to the document's tags.
	TagAffinity float64 `json:"tag_affinity"`

	// Recency is the decay weight of the matched COI.
	Recency float64 `json:"recency"`

	// Relevance is the non-personalized signal: query similarity or a
	// trending rank score. Zero in persisted mode.
	Relevance float64 `json:"relevance,omitempty"`

	// NegativePenalty is subtracted when negative COIs are enabled.
	NegativePenalty float64 `json:"negative_penalty,omitempty"`
}

// RankedDocument is one entry of a ranking.
type RankedDocument struct {
	DocumentID string         `json:"id"`
	SubID      int            `json:"sub_id"`
	Score      float64        `json:"score"`
	Breakdown  ScoreBreakdown `json:"breakdown"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Score fuses the three personalization signals. Inputs are clamped to
// [0, 1] so that no signal can dominate regardless of the weights.
func Score(similarity, tagAffinity, recency float64, w ScoreWeights) float64 {
	return w[0]*unitClamp(similarity) + w[1]*unitClamp(tagAffinity) + w[2]*unitClamp(recency)
}

// SimilarityToUnit maps a cosine similarity from [-1, 1] to [0, 1].
func SimilarityToUnit(cos float64) float64 {
	return unitClamp((cos + 1) / 2)
}

// TagAffinity returns the share of the user's total tag weight carried by
// the document's tags, capped at 1. Users without weighted tags get 0.
func TagAffinity(docTags []string, weights map[string]int) float64 {
	var total int
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	var sum int
	for _, tag := range distinctTags(docTags) {
		sum += weights[tag]
	}
	return unitClamp(float64(sum) / float64(total))
}

// negativePenalty returns weight * max(0, cos) * decay for the negative COI
// closest to the embedding.
func negativePenalty(embedding []float32, negatives []coi.COI, weight float64, horizon time.Duration, now time.Time) float64 {
	if weight <= 0 || len(negatives) == 0 || len(embedding) == 0 {
		return 0
	}
	point, err := coi.Normalize(embedding)
	if err != nil {
		return 0
	}
	idx, sim := coi.Closest(negatives, point)
	if idx < 0 {
		return 0
	}
	return weight * math.Max(0, sim) * coi.DecayWeight(horizon, now, negatives[idx].LastView)
}

// sortRanked orders by descending score, then ascending document id and
// sub id.
func sortRanked(docs []RankedDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		if docs[i].DocumentID != docs[j].DocumentID {
			return docs[i].DocumentID < docs[j].DocumentID
		}
		return docs[i].SubID < docs[j].SubID
	})
}

func unitClamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
