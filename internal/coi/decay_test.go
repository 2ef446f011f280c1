// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"math"
	"testing"
	"time"
)

func TestDecayWeightBoundaries(t *testing.T) {
	t.Parallel()
	horizon := 30 * Day

	if w := DecayWeight(horizon, testNow, testNow); w != 1 {
		t.Errorf("weight at age 0 = %f, want 1", w)
	}
	if w := DecayWeight(horizon, testNow, testNow.Add(time.Hour)); w != 1 {
		t.Errorf("weight for future last view = %f, want 1", w)
	}
	if w := DecayWeight(horizon, testNow, testNow.Add(-horizon)); w > 0.05 {
		t.Errorf("weight at horizon = %f, want <= 0.05", w)
	}
	if w := DecayWeight(horizon, testNow, testNow.Add(-2*horizon)); w != 0 {
		t.Errorf("weight past horizon = %f, want 0", w)
	}
	if w := DecayWeight(0, testNow, testNow); w != 0 {
		t.Errorf("weight with zero horizon = %f, want 0", w)
	}
	if w := DecayWeight(horizon, testNow, testNow.Add(-5*Day)); math.Abs(w-0.58591455) > 1e-6 {
		t.Errorf("weight at 5 days = %f, want 0.585915", w)
	}
}

func TestDecayWeightMonotonic(t *testing.T) {
	t.Parallel()

	for _, horizon := range []time.Duration{Day, 7 * Day, 30 * Day, 365 * Day} {
		prev := 1.0
		for age := time.Duration(0); age <= horizon+Day; age += horizon / 97 {
			w := DecayWeight(horizon, testNow, testNow.Add(-age))
			if w < 0 || w > 1 {
				t.Fatalf("horizon %v age %v: weight %f out of [0,1]", horizon, age, w)
			}
			if w > prev+1e-12 {
				t.Fatalf("horizon %v age %v: weight %f increased from %f", horizon, age, w, prev)
			}
			prev = w
		}
	}
}

func TestRelevances(t *testing.T) {
	t.Parallel()

	pool := []COI{
		{Embedding: []float32{1, 0}, ViewCount: 1, LastView: testNow},
		{Embedding: []float32{0, 1}, ViewCount: 2, LastView: testNow},
		{Embedding: []float32{1, 1}, ViewCount: 3, LastView: testNow},
	}
	got := Relevances(pool, Day, testNow)
	want := []float64{1.0 / 6, 2.0 / 6, 3.0 / 6}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("relevance[%d] = %f, want %f", i, got[i], want[i])
		}
	}

	pool[1].ViewTime = 10 * time.Second
	pool[2].ViewTime = 30 * time.Second
	got = Relevances(pool, Day, testNow)
	if math.Abs(got[2]-(3.0/6+0.75)) > 1e-9 {
		t.Errorf("relevance with view time = %f, want %f", got[2], 3.0/6+0.75)
	}

	if len(Relevances(nil, Day, testNow)) != 0 {
		t.Error("relevances of empty pool must be empty")
	}
}

func TestWeights(t *testing.T) {
	t.Parallel()

	pool := []COI{
		{ViewCount: 1, LastView: testNow},
		{ViewCount: 4, LastView: testNow.Add(-Day)},
		{ViewCount: 2, LastView: testNow.Add(-60 * Day)},
	}
	w := Weights(pool, 30*Day, testNow)
	var sum float64
	for _, x := range w {
		sum += x
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum to %f, want 1", sum)
	}
	if w[2] != 0 {
		t.Errorf("fully decayed COI weight = %f, want 0", w[2])
	}
	if w[1] <= w[0] {
		t.Errorf("more viewed COI should weigh more: %v", w)
	}

	decayed := []COI{{ViewCount: 1, LastView: testNow.Add(-90 * Day)}, {ViewCount: 1, LastView: testNow.Add(-90 * Day)}}
	w = Weights(decayed, 30*Day, testNow)
	if w[0] != 0.5 || w[1] != 0.5 {
		t.Errorf("fully decayed pool weights = %v, want even split", w)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	sim, err := Cosine([]float32{1, 0}, []float32{2, 0})
	if err != nil || math.Abs(sim-1) > 1e-9 {
		t.Errorf("Cosine(parallel) = %f, %v", sim, err)
	}
	sim, _ = Cosine([]float32{1, 0}, []float32{0, 0})
	if sim != 0 {
		t.Errorf("Cosine(zero) = %f, want 0", sim)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 0}); err == nil {
		t.Error("Cosine with mismatched dims should fail")
	}
}
