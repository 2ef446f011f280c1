// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrZeroVector is returned when an embedding cannot be normalized.
	ErrZeroVector = errors.New("embedding has zero norm")

	// ErrNonFinite is returned when an embedding contains NaN or Inf.
	ErrNonFinite = errors.New("embedding contains non-finite values")

	// ErrDimensionMismatch is returned when two embeddings differ in length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Norm returns the euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrZeroVector
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, ErrNonFinite
		}
	}
	n := Norm(v)
	if n == 0 {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out, nil
}

// Dot returns the dot product of a and b. Both must have the same length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Cosine returns the cosine similarity of a and b clamped to [-1, 1].
// Zero vectors have similarity 0 to everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return clamp(Dot(a, b)/(na*nb), -1, 1), nil
}

// cosineUnit is Cosine for vectors already known to be unit length.
func cosineUnit(a, b []float32) float64 {
	return clamp(Dot(a, b), -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
