// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/lodestar/internal/coi"
)

// COIUpdater runs the update rule against a user's persisted pool.
type COIUpdater struct {
	system *coi.System
}

// NewCOIUpdater returns an updater using system.
func NewCOIUpdater(system *coi.System) *COIUpdater {
	return &COIUpdater{system: system}
}

// Apply loads the (user, polarity) pool, attributes the embedding to it
// and persists the created or shifted COI. It must run inside a
// transaction serialized on the same pool.
func (u *COIUpdater) Apply(ctx context.Context, tx Tx, userID string, polarity coi.Polarity, embedding []float32, at time.Time, viewTime time.Duration) (coi.Outcome, error) {
	pool, err := tx.COIs(ctx, userID, polarity)
	if err != nil {
		return coi.Outcome{}, wrapStorage("load cois", err)
	}

	_, outcome, err := u.system.Update(pool, polarity, embedding, at, viewTime)
	if err != nil {
		return coi.Outcome{}, classifyVectorError("update coi", err)
	}

	if err := tx.SaveCOI(ctx, userID, outcome.COI); err != nil {
		return coi.Outcome{}, wrapStorage("save coi", err)
	}
	return outcome, nil
}

// classifyVectorError maps vector errors to validation errors.
func classifyVectorError(op string, err error) error {
	switch {
	case errors.Is(err, coi.ErrDimensionMismatch):
		return NewValidationError(op, CodeDimensionMismatch, err)
	case errors.Is(err, coi.ErrZeroVector), errors.Is(err, coi.ErrNonFinite):
		return NewValidationError(op, CodeInvalidEmbedding, err)
	default:
		return NewInternalError(op, fmt.Errorf("unexpected update failure: %w", err))
	}
}
