// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package embedding provides text embedders: an OpenAI-backed client and a
// deterministic hashing embedder for development and tests.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyText is returned when asked to embed blank text.
var ErrEmptyText = errors.New("cannot embed empty text")

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	// Embed returns the embedding of text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the length of every embedding.
	Dimension() int

	// Model identifies the model, used in cache keys.
	Model() string
}

// Config selects and configures an embedder.
type Config struct {
	// Provider is "openai" or "hashing".
	// Default: hashing
	Provider string `koanf:"provider"`

	// Model is the OpenAI embedding model.
	// Default: text-embedding-3-small
	Model string `koanf:"model"`

	// APIKey is the OpenAI API key. Required for the openai provider.
	APIKey string `koanf:"api_key"`

	// BaseURL overrides the OpenAI endpoint for compatible servers.
	BaseURL string `koanf:"base_url"`

	// Dimension is the embedding length. For openai it is requested from
	// the API when the model supports shortening.
	// Default: 1536
	Dimension int `koanf:"dimension"`

	// RequestsPerSecond limits calls to the provider. Zero disables it.
	// Default: 20
	RequestsPerSecond float64 `koanf:"requests_per_second"`

	// Burst is the limiter bucket size.
	// Default: 5
	Burst int `koanf:"burst"`
}

// New builds the embedder selected by cfg.
//
//nolint:gocritic // hugeParam: config is read once at startup
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "hashing":
		return NewHashing(cfg.Dimension)
	case "openai":
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// normalize scales v to unit length in place. Zero vectors are left alone.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
