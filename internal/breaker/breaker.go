// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package breaker protects the ranking collaborators with circuit breakers.
//
// Index and Embedder wrap a personalize.Index and an embedding.Embedder.
// While a breaker is open calls fail fast with a KindCollaboratorTimeout
// error, which the engine treats like an unresponsive collaborator: the
// persisted path degrades to cold start and search returns 504.
//
// The breakers use real time (via sony/gobreaker) for their interval and
// timeout calculations. Tests exercise them with small thresholds.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// Config configures one circuit breaker.
type Config struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32 `koanf:"max_requests" validate:"min=1"`

	// Interval resets the counts while closed. 0 never resets.
	Interval time.Duration `koanf:"interval"`

	// Timeout is the open period before the breaker turns half-open.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// MinRequests is the number of calls in the window before the
	// failure ratio is evaluated.
	MinRequests uint32 `koanf:"min_requests" validate:"min=1"`

	// FailureRatio opens the breaker once reached.
	FailureRatio float64 `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

// DefaultConfig returns the production breaker settings:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 30 second timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func DefaultConfig() Config {
	return Config{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Breaker is a named circuit breaker reporting to the circuit_breaker_*
// metrics.
type Breaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker[any]
	logger zerolog.Logger
}

// New creates a breaker.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(name string, cfg Config, logger zerolog.Logger) *Breaker {
	b := &Breaker{
		name:   name,
		logger: logger.With().Str("component", "breaker").Str("breaker", name).Logger(),
	}

	// Initialize circuit breaker state metrics
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= cfg.FailureRatio
			if shouldTrip {
				b.logger.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			b.logger.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},

		IsSuccessful: isSuccessful,
	})
	return b
}

// isSuccessful counts caller mistakes and cancellations as successes so
// that only collaborator failures trip the breaker.
func isSuccessful(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch personalize.KindOf(err) {
	case personalize.KindValidation, personalize.KindNotFound, personalize.KindTenantNotFound:
		return true
	default:
		return false
	}
}

// State returns the current state name.
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

// execute wraps a collaborator call with circuit breaker protection.
// Rejected calls fail with KindCollaboratorTimeout.
func execute[T any](b *Breaker, op string, fn func() (T, error)) (T, error) {
	var zero T
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			b.logger.Debug().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
			return zero, personalize.NewCollaboratorTimeout(op, fmt.Errorf("%s: %w", b.name, err))
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
		return zero, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)

	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
