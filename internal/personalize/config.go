// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
)

// ScoreWeights are the fusion weights for COI similarity, tag affinity and
// recency, in that order.
type ScoreWeights [3]float64

// Validate requires non-negative weights that are not all zero.
func (w ScoreWeights) Validate() error {
	var sum float64
	for i, v := range w {
		if v < 0 {
			return fmt.Errorf("score_weights[%d] must be non-negative, got %f", i, v)
		}
		sum += v
	}
	if sum == 0 {
		return errors.New("score_weights must not all be zero")
	}
	return nil
}

// Config contains all configuration for personalization.
type Config struct {
	// COI configures the update rule and the decay curve.
	COI coi.Config `koanf:"coi"`

	// Personalization configures feed ranking.
	Personalization PersonalizationConfig `koanf:"personalization"`

	// SemanticSearch configures search requests.
	SemanticSearch SemanticSearchConfig `koanf:"semantic_search"`

	// Retry configures retries of transient storage failures.
	Retry RetryConfig `koanf:"retry"`

	// Timeouts bounds collaborator calls.
	Timeouts TimeoutConfig `koanf:"timeouts"`
}

// PersonalizationConfig configures personalized ranking.
type PersonalizationConfig struct {
	// MaxNumberDocuments caps the documents returned per request.
	// Default: 100
	MaxNumberDocuments int `koanf:"max_number_documents"`

	// MaxNumberCandidates caps the candidates retrieved from the index.
	// Default: 100
	MaxNumberCandidates int `koanf:"max_number_candidates"`

	// DefaultNumberDocuments is used when a request has no count.
	// Default: 10
	DefaultNumberDocuments int `koanf:"default_number_documents"`

	// MaxCOIsForKNN caps the COIs used for candidate retrieval.
	// Default: 10
	MaxCOIsForKNN int `koanf:"max_cois_for_knn"`

	// ScoreWeights are the fusion weights.
	// Default: [1, 1, 0.5]
	ScoreWeights ScoreWeights `koanf:"score_weights"`

	// StoreUserHistory enables the interaction log and the exclusion of
	// documents the user has already interacted with.
	// Default: true
	StoreUserHistory bool `koanf:"store_user_history"`

	// MaxStatelessHistorySize caps the inline history of stateless requests.
	// Default: 200
	MaxStatelessHistorySize int `koanf:"max_stateless_history_size"`

	// MaxStatelessHistoryForCOIs caps the entries replayed into ephemeral COIs.
	// Default: 20
	MaxStatelessHistoryForCOIs int `koanf:"max_stateless_history_for_cois"`

	// NegativeWeight scales the penalty from negative COIs. Zero disables it.
	// Default: 0
	NegativeWeight float64 `koanf:"negative_weight"`

	// MinTagWeight is the floor tag weights are clamped to.
	// Default: 0
	MinTagWeight int `koanf:"min_tag_weight"`
}

// SemanticSearchConfig configures semantic search.
type SemanticSearchConfig struct {
	// Default: 100
	MaxNumberDocuments int `koanf:"max_number_documents"`

	// Default: 100
	MaxNumberCandidates int `koanf:"max_number_candidates"`

	// Default: 10
	DefaultNumberDocuments int `koanf:"default_number_documents"`

	// Default: [1, 1, 0.5]
	ScoreWeights ScoreWeights `koanf:"score_weights"`

	// MaxQuerySize is the maximum query length in characters.
	// Default: 512
	MaxQuerySize int `koanf:"max_query_size"`
}

// RetryConfig bounds retries of retryable failures.
type RetryConfig struct {
	// MaxAttempts includes the first attempt.
	// Default: 3
	MaxAttempts int `koanf:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	// Default: 50ms
	BaseDelay time.Duration `koanf:"base_delay"`

	// MaxDelay caps the exponential backoff.
	// Default: 1s
	MaxDelay time.Duration `koanf:"max_delay"`
}

// TimeoutConfig bounds blocking calls.
type TimeoutConfig struct {
	// Request bounds a whole request.
	// Default: 10s
	Request time.Duration `koanf:"request"`

	// Collaborator bounds a single embedder or index call.
	// Default: 2s
	Collaborator time.Duration `koanf:"collaborator"`
}

// DefaultConfig returns the default personalization configuration.
func DefaultConfig() Config {
	return Config{
		COI: coi.DefaultConfig(),
		Personalization: PersonalizationConfig{
			MaxNumberDocuments:         100,
			MaxNumberCandidates:        100,
			DefaultNumberDocuments:     10,
			MaxCOIsForKNN:              10,
			ScoreWeights:               ScoreWeights{1, 1, 0.5},
			StoreUserHistory:           true,
			MaxStatelessHistorySize:    200,
			MaxStatelessHistoryForCOIs: 20,
		},
		SemanticSearch: SemanticSearchConfig{
			MaxNumberDocuments:     100,
			MaxNumberCandidates:    100,
			DefaultNumberDocuments: 10,
			ScoreWeights:           ScoreWeights{1, 1, 0.5},
			MaxQuerySize:           512,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   50 * time.Millisecond,
			MaxDelay:    time.Second,
		},
		Timeouts: TimeoutConfig{
			Request:      10 * time.Second,
			Collaborator: 2 * time.Second,
		},
	}
}

// Validate checks the configuration for consistency.
//
//nolint:gocritic // hugeParam: config is validated once at startup
func (c Config) Validate() error {
	if err := c.COI.Validate(); err != nil {
		return err
	}
	if err := c.Personalization.Validate(); err != nil {
		return err
	}
	if err := c.SemanticSearch.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Timeouts.Request <= 0 || c.Timeouts.Collaborator <= 0 {
		return errors.New("timeouts.request and timeouts.collaborator must be positive")
	}
	return nil
}

// Validate checks document counts, weights and stateless sizes.
func (c PersonalizationConfig) Validate() error {
	if err := validateCounts("personalization", c.DefaultNumberDocuments, c.MaxNumberDocuments, c.MaxNumberCandidates); err != nil {
		return err
	}
	if c.MaxCOIsForKNN < 1 {
		return fmt.Errorf("personalization.max_cois_for_knn must be positive, got %d", c.MaxCOIsForKNN)
	}
	if err := c.ScoreWeights.Validate(); err != nil {
		return fmt.Errorf("personalization.%w", err)
	}
	if c.MaxStatelessHistorySize < 1 || c.MaxStatelessHistoryForCOIs < 1 {
		return errors.New("personalization stateless history sizes must be positive")
	}
	if c.MaxStatelessHistoryForCOIs > c.MaxStatelessHistorySize {
		return fmt.Errorf("personalization.max_stateless_history_for_cois (%d) must not exceed max_stateless_history_size (%d)",
			c.MaxStatelessHistoryForCOIs, c.MaxStatelessHistorySize)
	}
	if c.NegativeWeight < 0 {
		return fmt.Errorf("personalization.negative_weight must be non-negative, got %f", c.NegativeWeight)
	}
	if c.MinTagWeight < 0 {
		return fmt.Errorf("personalization.min_tag_weight must be non-negative, got %d", c.MinTagWeight)
	}
	return nil
}

// Validate checks document counts, weights and the query size.
func (c SemanticSearchConfig) Validate() error {
	if err := validateCounts("semantic_search", c.DefaultNumberDocuments, c.MaxNumberDocuments, c.MaxNumberCandidates); err != nil {
		return err
	}
	if err := c.ScoreWeights.Validate(); err != nil {
		return fmt.Errorf("semantic_search.%w", err)
	}
	if c.MaxQuerySize < 1 {
		return fmt.Errorf("semantic_search.max_query_size must be positive, got %d", c.MaxQuerySize)
	}
	return nil
}

// Validate checks the retry bounds.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 <= base_delay (%s) <= max_delay (%s)", c.BaseDelay, c.MaxDelay)
	}
	return nil
}

func validateCounts(section string, def, maxDocs, maxCandidates int) error {
	if def < 1 {
		return fmt.Errorf("%s.default_number_documents must be positive, got %d", section, def)
	}
	if def > maxDocs {
		return fmt.Errorf("%s.default_number_documents (%d) must not exceed max_number_documents (%d)", section, def, maxDocs)
	}
	if maxDocs > maxCandidates {
		return fmt.Errorf("%s.max_number_documents (%d) must not exceed max_number_candidates (%d)", section, maxDocs, maxCandidates)
	}
	return nil
}
