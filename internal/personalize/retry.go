// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/metrics"
)

// backoff returns the delay before attempt (2-based): base * 2^(attempt-2),
// capped at MaxDelay.
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// withRetry runs fn until it succeeds, fails with a non-retryable error,
// the attempt budget is spent, or ctx is done.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func withRetry(ctx context.Context, cfg RetryConfig, op string, logger zerolog.Logger, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := cfg.backoff(attempt)
			metrics.StorageRetries.WithLabelValues(op).Inc()
			logger.Debug().
				Str("op", op).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(err).
				Msg("retrying storage operation")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return NewStorageError(op, ctx.Err())
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
