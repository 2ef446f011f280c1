// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Storage Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestar_db_query_duration_seconds",
			Help:    "Duration of storage queries in seconds",
			Buckets: prometheus.DefBuckets, // 0.005s, 0.01s, 0.025s, 0.05s, 0.1s, 0.25s, 0.5s, 1s, 2.5s, 5s, 10s
		},
		[]string{"backend", "operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_db_query_errors_total",
			Help: "Total number of storage query errors",
		},
		[]string{"backend", "operation", "error_type"},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_storage_retries_total",
			Help: "Total number of retried storage operations",
		},
		[]string{"operation"},
	)

	// Write Path Metrics
	InteractionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_interactions_recorded_total",
			Help: "Total number of recorded interactions",
		},
		[]string{"polarity", "outcome"}, // outcome: "ok", "validation", "storage", ...
	)

	COIUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_coi_updates_total",
			Help: "Total number of COI updates by effect",
		},
		[]string{"polarity", "effect"}, // effect: "created", "shifted"
	)

	// Read Path Metrics
	RankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_rank_requests_total",
			Help: "Total number of ranking requests by mode and final state",
		},
		[]string{"kind", "mode", "state"},
	)

	RankDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestar_rank_duration_seconds",
			Help:    "Duration of ranking requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind", "mode"},
	)

	RankDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_rank_degraded_total",
			Help: "Total number of personalized rankings that fell back to cold start",
		},
		[]string{"reason"},
	)

	CandidatesRetrieved = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lodestar_rank_candidates",
			Help:    "Number of distinct candidates retrieved per ranking",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	CollaboratorTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_collaborator_timeouts_total",
			Help: "Total number of embedder and index calls that timed out",
		},
		[]string{"collaborator"},
	)

	// Embedder Metrics
	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestar_embedding_duration_seconds",
			Help:    "Duration of embedding calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lodestar_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lodestar_api_active_requests",
			Help: "Number of API requests currently being processed",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_api_rate_limit_hits_total",
			Help: "Total number of rate-limited API requests",
		},
		[]string{"endpoint"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_cache_invalidations_total",
			Help: "Total number of cache entries removed by invalidation",
		},
		[]string{"cache"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Messaging Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_events_published_total",
			Help: "Total number of published events",
		},
		[]string{"topic", "result"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lodestar_events_consumed_total",
			Help: "Total number of consumed events",
		},
		[]string{"topic", "result"},
	)
)

// RecordDBQuery records a storage query duration and, on failure, its error.
func RecordDBQuery(backend, operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		// Truncate long error messages
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(backend, operation, errorType).Inc()
	}
}

// RecordAPIRequest records one API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordInteraction records the outcome of one interaction.
func RecordInteraction(polarity, outcome string) {
	InteractionsRecorded.WithLabelValues(polarity, outcome).Inc()
}

// RecordCOIUpdate records whether an update created or shifted a COI.
func RecordCOIUpdate(polarity string, created bool) {
	effect := "shifted"
	if created {
		effect = "created"
	}
	COIUpdates.WithLabelValues(polarity, effect).Inc()
}

// RecordRank records a finished ranking request.
func RecordRank(kind, mode, state string, duration time.Duration) {
	RankRequests.WithLabelValues(kind, mode, state).Inc()
	RankDuration.WithLabelValues(kind, mode).Observe(duration.Seconds())
}

// RecordCacheLookup records a hit or miss on the named cache.
func RecordCacheLookup(cache string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(cache).Inc()
	} else {
		CacheMisses.WithLabelValues(cache).Inc()
	}
}

// RecordEventPublish records a publish attempt.
func RecordEventPublish(topic string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EventsPublished.WithLabelValues(topic, result).Inc()
}

// RecordEventConsume records a handled message.
func RecordEventConsume(topic string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	EventsConsumed.WithLabelValues(topic, result).Inc()
}
