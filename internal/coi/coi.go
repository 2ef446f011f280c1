// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package coi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Polarity selects the pool a COI or reaction belongs to.
type Polarity int8

const (
	// Positive reactions grow the positive pool.
	Positive Polarity = iota + 1
	// Negative reactions grow the negative pool.
	Negative
)

// String returns the wire name of the polarity.
func (p Polarity) String() string {
	switch p {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return "unknown"
	}
}

// IsPositive reports whether p selects the positive pool.
func (p Polarity) IsPositive() bool {
	return p == Positive
}

// Valid reports whether p is one of the defined polarities.
func (p Polarity) Valid() bool {
	return p == Positive || p == Negative
}

// PolarityFromBool maps the storage representation back to a Polarity.
func PolarityFromBool(isPositive bool) Polarity {
	if isPositive {
		return Positive
	}
	return Negative
}

// ParsePolarity parses the wire name of a polarity.
func ParsePolarity(s string) (Polarity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return Positive, nil
	case "negative":
		return Negative, nil
	default:
		return 0, fmt.Errorf("unknown polarity %q", s)
	}
}

// MarshalText encodes p by its wire name.
func (p Polarity) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid polarity %d", p)
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a wire name.
func (p *Polarity) UnmarshalText(text []byte) error {
	parsed, err := ParsePolarity(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ID identifies a COI.
type ID = uuid.UUID

// NewID returns a fresh random COI id.
func NewID() ID {
	return uuid.New()
}

// COI is one center of interest of a user.
type COI struct {
	ID       ID
	Polarity Polarity

	// Embedding is always unit length.
	Embedding []float32

	// ViewCount is the number of reactions attributed to this COI (>= 1).
	ViewCount int

	// ViewTime accumulates reported reading time.
	ViewTime time.Duration

	// LastView is the time of the latest attributed reaction.
	LastView time.Time
}

// Clone returns a deep copy of c.
func (c COI) Clone() COI {
	c.Embedding = append([]float32(nil), c.Embedding...)
	return c
}

// Dimension returns the embedding length.
func (c COI) Dimension() int {
	return len(c.Embedding)
}
