// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRecordDBQuery tests storage query metric recording
func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		backend   string
		operation string
		err       error
		wantLabel string
	}{
		{name: "success", backend: "duckdb", operation: "load_cois"},
		{name: "short error", backend: "postgres", operation: "save_coi", err: errors.New("connection refused"), wantLabel: "connection refused"},
		{
			name:      "long error is truncated to 50 chars",
			backend:   "duckdb",
			operation: "knn",
			err:       errors.New(strings.Repeat("x", 80)),
			wantLabel: strings.Repeat("x", 50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordDBQuery(tt.backend, tt.operation, 5*time.Millisecond, tt.err)
			if tt.err == nil {
				return
			}
			got := testutil.ToFloat64(DBQueryErrors.WithLabelValues(tt.backend, tt.operation, tt.wantLabel))
			if got < 1 {
				t.Errorf("error counter for %q = %v, want >= 1", tt.wantLabel, got)
			}
		})
	}
}

func TestRecordCOIUpdate(t *testing.T) {
	created := testutil.ToFloat64(COIUpdates.WithLabelValues("positive", "created"))
	shifted := testutil.ToFloat64(COIUpdates.WithLabelValues("positive", "shifted"))

	RecordCOIUpdate("positive", true)
	RecordCOIUpdate("positive", false)
	RecordCOIUpdate("positive", false)

	if got := testutil.ToFloat64(COIUpdates.WithLabelValues("positive", "created")) - created; got != 1 {
		t.Errorf("created delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(COIUpdates.WithLabelValues("positive", "shifted")) - shifted; got != 2 {
		t.Errorf("shifted delta = %v, want 2", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits.WithLabelValues("rank"))
	misses := testutil.ToFloat64(CacheMisses.WithLabelValues("rank"))

	RecordCacheLookup("rank", true)
	RecordCacheLookup("rank", false)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("rank")) - hits; got != 1 {
		t.Errorf("hits delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("rank")) - misses; got != 1 {
		t.Errorf("misses delta = %v, want 1", got)
	}
}

func TestRecordEventPublish(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("interaction.recorded", "failure"))
	RecordEventPublish("interaction.recorded", errors.New("broker down"))
	RecordEventPublish("interaction.recorded", nil)
	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("interaction.recorded", "failure")) - before; got != 1 {
		t.Errorf("failure delta = %v, want 1", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	TrackActiveRequest(true)
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests) - before; got != 1 {
		t.Errorf("active delta = %v, want 1", got)
	}
}

// TestCircuitBreakerMetrics tests circuit breaker metric recording
func TestCircuitBreakerMetrics(t *testing.T) {
	cbName := "index"

	CircuitBreakerState.WithLabelValues(cbName).Set(2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues(cbName)); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
	CircuitBreakerRequests.WithLabelValues(cbName, "rejected").Inc()
	CircuitBreakerTransitions.WithLabelValues(cbName, "closed", "open").Inc()
}
