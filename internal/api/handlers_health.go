// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"context"
	"net/http"
	"time"
)

// readinessTimeout bounds each readiness check.
const readinessTimeout = 2 * time.Second

// HealthCheck is one dependency consulted by the readiness probe.
type HealthCheck struct {
	// Name appears in the readiness response, e.g. "storage".
	Name string

	// Check returns nil when the dependency is usable.
	Check func(ctx context.Context) error
}

// HealthStatus is the payload of the health endpoints.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Uptime float64           `json:"uptime_seconds"`
}

// HealthLive handles GET /health/live. It reports only that the process
// serves requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, HealthStatus{
		Status: "ok",
		Uptime: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /health/ready. It returns 503 while any check
// fails so load balancers stop routing to the instance.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
		Uptime: time.Since(h.startTime).Seconds(),
	}
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			h.logger.Warn().Err(err).Str("check", c.Name).Msg("readiness check failed")
			status.Status = "unavailable"
			status.Checks[c.Name] = "failing"
			continue
		}
		status.Checks[c.Name] = "ok"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondData(w, r, code, status)
}
