// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package breaker

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// Index protects a nearest-neighbour index.
type Index struct {
	inner personalize.Index
	b     *Breaker
}

var _ personalize.Index = (*Index)(nil)

// NewIndex wraps inner with a breaker named "index".
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewIndex(inner personalize.Index, cfg Config, logger zerolog.Logger) *Index {
	return &Index{inner: inner, b: New("index", cfg, logger)}
}

// KNN calls the wrapped index unless the breaker is open.
func (ix *Index) KNN(ctx context.Context, tc tenant.Context, query []float32, p personalize.KNNParams) ([]personalize.Candidate, error) {
	return execute(ix.b, "knn", func() ([]personalize.Candidate, error) {
		return ix.inner.KNN(ctx, tc, query, p)
	})
}

// Breaker exposes the breaker for health reporting.
func (ix *Index) Breaker() *Breaker { return ix.b }

// Embedder protects an embedder.
type Embedder struct {
	inner embedding.Embedder
	b     *Breaker
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder wraps inner with a breaker named "embedder".
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewEmbedder(inner embedding.Embedder, cfg Config, logger zerolog.Logger) *Embedder {
	return &Embedder{inner: inner, b: New("embedder", cfg, logger)}
}

// Embed calls the wrapped embedder unless the breaker is open.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return execute(e.b, "embed", func() ([]float32, error) {
		return e.inner.Embed(ctx, text)
	})
}

func (e *Embedder) Dimension() int { return e.inner.Dimension() }

func (e *Embedder) Model() string { return e.inner.Model() }

// Breaker exposes the breaker for health reporting.
func (e *Embedder) Breaker() *Breaker { return e.b }
