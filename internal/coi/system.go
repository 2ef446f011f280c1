// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"fmt"
	"math"
	"time"
)

// tieEpsilon treats similarities closer than this as equal.
const tieEpsilon = 1e-9

// System applies the update rule with a fixed configuration.
type System struct {
	config Config
	newID  func() ID
}

// NewSystem validates cfg and returns a System.
func NewSystem(cfg Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &System{config: cfg, newID: NewID}, nil
}

// Config returns the configuration the system was built with.
func (s *System) Config() Config {
	return s.config
}

// Outcome describes what an update did to a pool.
type Outcome struct {
	// COI is a copy of the created or shifted COI.
	COI COI

	// Index is the position of COI in the returned pool.
	Index int

	// Created is true when a new COI was appended.
	Created bool

	// Similarity is the best similarity found before the update,
	// or 0 when the pool was empty.
	Similarity float64
}

// Update attributes a reaction with embedding input at time at to pool and
// returns the updated pool. pool must hold COIs of a single polarity; a new
// COI is created with the given polarity. The backing array of pool is
// modified in place when an existing COI is shifted.
func (s *System) Update(pool []COI, polarity Polarity, input []float32, at time.Time, viewTime time.Duration) ([]COI, Outcome, error) {
	point, err := Normalize(input)
	if err != nil {
		return pool, Outcome{}, err
	}
	if len(pool) > 0 && len(pool[0].Embedding) != len(point) {
		return pool, Outcome{}, fmt.Errorf("%w: pool has %d, input has %d",
			ErrDimensionMismatch, len(pool[0].Embedding), len(point))
	}

	idx, sim := Closest(pool, point)
	if idx >= 0 && sim >= s.config.Threshold {
		if shifted, ok := shift(pool[idx].Embedding, point, s.config.ShiftFactor); ok {
			c := &pool[idx]
			c.Embedding = shifted
			c.ViewCount++
			c.ViewTime += viewTime
			c.LastView = at
			return pool, Outcome{COI: c.Clone(), Index: idx, Similarity: sim}, nil
		}
	}

	created := COI{
		ID:        s.newID(),
		Polarity:  polarity,
		Embedding: point,
		ViewCount: 1,
		ViewTime:  viewTime,
		LastView:  at,
	}
	pool = append(pool, created)
	if idx < 0 {
		sim = 0
	}
	return pool, Outcome{COI: created.Clone(), Index: len(pool) - 1, Created: true, Similarity: sim}, nil
}

// LogViewTime adds d to the view time of the COI closest to embedding
// without shifting it. It returns the index of the updated COI or -1 when
// the pool is empty or the embedding is unusable.
func (s *System) LogViewTime(pool []COI, embedding []float32, d time.Duration) int {
	point, err := Normalize(embedding)
	if err != nil {
		return -1
	}
	idx, _ := Closest(pool, point)
	if idx >= 0 {
		pool[idx].ViewTime += d
	}
	return idx
}

// Closest returns the index and cosine similarity of the COI most similar to
// point. Ties go to the larger view count, then to the earlier position.
// It returns -1 for an empty pool or when dimensions do not match.
func Closest(pool []COI, point []float32) (int, float64) {
	best, bestSim := -1, math.Inf(-1)
	for i := range pool {
		if len(pool[i].Embedding) != len(point) {
			continue
		}
		sim := cosineUnit(pool[i].Embedding, point)
		switch {
		case best < 0, sim > bestSim+tieEpsilon:
			best, bestSim = i, sim
		case math.Abs(sim-bestSim) <= tieEpsilon && pool[i].ViewCount > pool[best].ViewCount:
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, bestSim
}

// shift moves old towards input by factor f and renormalizes. Both vectors
// are unit length. It reports false when the result has zero norm.
func shift(old, input []float32, f float64) ([]float32, bool) {
	switch f {
	case 0:
		return old, true
	case 1:
		return append([]float32(nil), input...), true
	}
	moved := make([]float32, len(old))
	for i := range old {
		moved[i] = float32(float64(old[i]) + f*(float64(input[i])-float64(old[i])))
	}
	out, err := Normalize(moved)
	if err != nil {
		return nil, false
	}
	return out, true
}
