// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashingEmbedder maps lower-cased word tokens into a fixed number of
// buckets with signed feature hashing. Texts sharing words get similar
// vectors; it needs no network and is deterministic.
type HashingEmbedder struct {
	dim int
}

// NewHashing returns a hashing embedder of the given dimension.
func NewHashing(dim int) (*HashingEmbedder, error) {
	if dim < 2 {
		return nil, fmt.Errorf("hashing embedder dimension must be at least 2, got %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

// Embed returns the unit-length hashed bag of words of text.
func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dim)
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec, nil
}

// Dimension returns the embedding length.
func (h *HashingEmbedder) Dimension() int {
	return h.dim
}

// Model identifies the hashing scheme.
func (h *HashingEmbedder) Model() string {
	return fmt.Sprintf("hashing-fnv64a-%d", h.dim)
}
