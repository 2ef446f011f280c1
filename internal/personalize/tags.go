// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"sort"

	"github.com/tomtom215/lodestar/internal/coi"
)

// TagDeltas returns +1 per distinct tag for a positive reaction and -1 for
// a negative one.
func TagDeltas(tags []string, polarity coi.Polarity) map[string]int {
	delta := 1
	if !polarity.IsPositive() {
		delta = -1
	}
	out := make(map[string]int, len(tags))
	for _, tag := range distinctTags(tags) {
		out[tag] = delta
	}
	return out
}

// ApplyTagDeltas applies deltas to weights in memory with the same floor
// semantics as Tx.AdjustTagWeights.
func ApplyTagDeltas(weights map[string]int, deltas map[string]int, floor int) {
	for tag, d := range deltas {
		w := weights[tag] + d
		if w < floor {
			w = floor
		}
		weights[tag] = w
	}
}

// TagAffinityUpdater applies reaction tag deltas inside a transaction.
type TagAffinityUpdater struct {
	floor int
}

// NewTagAffinityUpdater returns an updater clamping weights to floor.
func NewTagAffinityUpdater(floor int) *TagAffinityUpdater {
	return &TagAffinityUpdater{floor: floor}
}

// Apply adjusts the user's weights for tags by the reaction polarity.
func (u *TagAffinityUpdater) Apply(ctx context.Context, tx Tx, userID string, tags []string, polarity coi.Polarity) error {
	deltas := TagDeltas(tags, polarity)
	if len(deltas) == 0 {
		return nil
	}
	return tx.AdjustTagWeights(ctx, userID, deltas, u.floor)
}

// distinctTags returns the non-empty tags of tags without duplicates, sorted.
func distinctTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
