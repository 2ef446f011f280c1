// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"fmt"
	"time"
)

// Day is the unit the horizon is configured in.
const Day = 24 * time.Hour

// Config holds the parameters of the update rule and the decay curve.
type Config struct {
	// ShiftFactor is how far a matched COI moves towards a reaction.
	// Must be in [0, 1].
	// Default: 0.1
	ShiftFactor float64 `koanf:"shift_factor"`

	// Threshold is the minimum cosine similarity for a reaction to be
	// attributed to an existing COI. Must be in [-1, 1].
	// Default: 0.67
	Threshold float64 `koanf:"threshold"`

	// MinCOIs is the minimum number of positive COIs before personalized
	// ranking engages.
	// Default: 2
	MinCOIs int `koanf:"min_cois"`

	// Horizon is the age after which a COI no longer influences ranking.
	// Default: 30 days
	Horizon time.Duration `koanf:"horizon"`
}

// DefaultConfig returns the default COI configuration.
func DefaultConfig() Config {
	return Config{
		ShiftFactor: 0.1,
		Threshold:   0.67,
		MinCOIs:     2,
		Horizon:     30 * Day,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.ShiftFactor < 0 || c.ShiftFactor > 1 {
		return fmt.Errorf("coi.shift_factor must be in [0, 1], got %f", c.ShiftFactor)
	}
	if c.Threshold < -1 || c.Threshold > 1 {
		return fmt.Errorf("coi.threshold must be in [-1, 1], got %f", c.Threshold)
	}
	if c.MinCOIs < 1 {
		return fmt.Errorf("coi.min_cois must be positive, got %d", c.MinCOIs)
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("coi.horizon must be positive, got %s", c.Horizon)
	}
	return nil
}
