// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/tomtom215/lodestar/internal/metrics"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	dim     int
	shorten bool
	limiter *rate.Limiter
}

// NewOpenAI creates an OpenAI embedder from cfg.
//
//nolint:gocritic // hugeParam: config is read once at startup
func NewOpenAI(cfg Config) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("embedding.api_key is required for the openai provider")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	// Set dimension based on model
	native := 1536 // text-embedding-3-small, ada-002
	if model == "text-embedding-3-large" {
		native = 3072
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = native
	}
	shorten := dim != native
	if shorten && !strings.HasPrefix(model, "text-embedding-3") {
		return nil, fmt.Errorf("model %s does not support dimension %d", model, dim)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		dim:     dim,
		shorten: shorten,
		limiter: limiter,
	}, nil
}

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.shorten {
		req.Dimensions = e.dim
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	metrics.EmbeddingDuration.WithLabelValues("openai").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned from API")
	}

	raw := resp.Data[0].Embedding
	if len(raw) != e.dim {
		return nil, fmt.Errorf("openai returned dimension %d, expected %d", len(raw), e.dim)
	}
	v := make([]float32, len(raw))
	for i := range raw {
		v[i] = float32(raw[i])
	}
	normalize(v)
	return v, nil
}

// Dimension returns the embedding dimension.
func (e *OpenAIEmbedder) Dimension() int {
	return e.dim
}

// Model returns the OpenAI model name.
func (e *OpenAIEmbedder) Model() string {
	return "openai-" + e.model
}
