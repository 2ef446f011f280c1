// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"math"
	"time"
)

// decayRate is the exponential rate per day of the decay curve.
const decayRate = 0.1

// DecayWeight returns the recency weight of a COI last viewed at lastView.
//
// The weight is 1 at age zero (and for last views in the future), strictly
// decreasing up to the horizon, and 0 from the horizon on. A non-positive
// horizon yields 0.
func DecayWeight(horizon time.Duration, now, lastView time.Time) float64 {
	if horizon <= 0 {
		return 0
	}
	age := now.Sub(lastView)
	if age <= 0 {
		return 1
	}
	h := math.Exp(-decayRate * horizon.Hours() / 24)
	d := math.Exp(-decayRate * age.Hours() / 24)
	return clamp((d-h)/(1-h), 0, 1)
}

// Relevances returns the relevance of each COI relative to the others.
//
// Relevance combines the COI's share of the pool's view count and view time,
// scaled by its decay weight, and ranges in [0, 2].
func Relevances(pool []COI, horizon time.Duration, now time.Time) []float64 {
	var counts float64
	var times time.Duration
	for i := range pool {
		counts += float64(pool[i].ViewCount)
		times += pool[i].ViewTime
	}
	if counts == 0 {
		counts = 1
	}
	totalTime := times.Seconds()
	if totalTime == 0 {
		totalTime = 1
	}

	out := make([]float64, len(pool))
	for i := range pool {
		share := float64(pool[i].ViewCount)/counts + pool[i].ViewTime.Seconds()/totalTime
		out[i] = share * DecayWeight(horizon, now, pool[i].LastView)
	}
	return out
}

// Weights distributes a unit budget across the pool by relevance.
// The weights sum to 1 for a non-empty pool; when every COI has decayed
// completely the budget is split evenly.
func Weights(pool []COI, horizon time.Duration, now time.Time) []float64 {
	relevances := Relevances(pool, horizon, now)
	var sum float64
	for i, r := range relevances {
		relevances[i] = 1 - math.Exp(-3*r)
		sum += relevances[i]
	}
	if sum > 0 {
		for i := range relevances {
			relevances[i] /= sum
		}
		return relevances
	}
	for i := range relevances {
		relevances[i] = 1 / float64(len(relevances))
	}
	return relevances
}
