// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// observe classifies err and records the query metric.
func observe(op string, start time.Time, err error) error {
	err = classify(op, err)
	metrics.RecordDBQuery(backend, op, time.Since(start), err)
	return err
}

// classify maps driver errors onto personalize kinds. SQLSTATE class 23
// (integrity constraint violation) is a caller error; serialization
// failures, deadlocks and connection loss are transient storage errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *personalize.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return personalize.NewStorageError(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "23":
			return personalize.NewValidationError(op, personalize.CodeInvalidRequest, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "55P03":
			return personalize.NewStorageError(op, err)
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57"):
			return personalize.NewStorageError(op, err)
		}
		return personalize.NewInternalError(op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return personalize.NewStorageError(op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return personalize.NewStorageError(op, err)
	}
	return personalize.NewInternalError(op, err)
}

// rollbackQuietly rolls tx back after a failed or committed transaction.
func rollbackQuietly(ctx context.Context, tx pgx.Tx, logger *zerolog.Logger) {
	err := tx.Rollback(context.WithoutCancel(ctx))
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return
	}
	if logger != nil {
		logger.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}

// ensureContext applies a 30-second timeout when ctx has no deadline.
func ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 30*time.Second)
	}
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, 30*time.Second)
	}
	return ctx, func() {}
}
