// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package metrics provides Prometheus metrics collection and export for observability.

Metrics are registered on the default registry with promauto and exposed at
/metrics by the API router.

# Available Metrics

Write path:
  - lodestar_interactions_recorded_total: Labels polarity, outcome
  - lodestar_coi_updates_total: Labels polarity, effect (created, shifted)
  - lodestar_storage_retries_total: Labels operation

Read path:
  - lodestar_rank_requests_total: Labels kind (feed, stateless, search), mode, state
  - lodestar_rank_duration_seconds: Labels kind, mode
  - lodestar_rank_degraded_total: Labels reason
  - lodestar_rank_candidates: distinct candidates per ranking (histogram)
  - lodestar_collaborator_timeouts_total: Labels collaborator (embedder, index)

Storage:
  - lodestar_db_query_duration_seconds: Labels backend (duckdb, postgres), operation
  - lodestar_db_query_errors_total: Labels backend, operation, error_type

Circuit breakers:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total: Labels name, result
  - circuit_breaker_state_transitions_total: Labels name, from_state, to_state

API, caches and events:
  - lodestar_api_requests_total, lodestar_api_request_duration_seconds
  - lodestar_cache_hits_total, lodestar_cache_misses_total: Labels cache (rank, embedding)
  - lodestar_events_published_total, lodestar_events_consumed_total: Labels topic, result

# Alerting Example

	groups:
	  - name: lodestar
	    rules:
	      - alert: RankingDegraded
	        expr: rate(lodestar_rank_degraded_total[5m]) > 0.1
	        for: 10m
	      - alert: CircuitBreakerOpen
	        expr: circuit_breaker_state > 0
	        for: 2m
	        annotations:
	          summary: "Circuit breaker open for {{ $labels.name }}"
*/
package metrics
