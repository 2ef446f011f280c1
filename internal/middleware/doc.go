// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package middleware provides the transport-level HTTP middleware shared by
every route: request ids and Prometheus instrumentation.

Both are func(http.Handler) http.Handler and are installed on the chi
router by internal/api:

	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)

Middleware that writes API error bodies (tenant resolution,
authentication, authorization) lives in internal/api next to the error
format it writes.
*/
package middleware
