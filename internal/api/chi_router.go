// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/lodestar/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Middleware configures CORS and rate limiting. Nil selects defaults.
	Middleware *ChiMiddlewareConfig

	// MaxBodyBytes caps request bodies. Zero disables the cap.
	MaxBodyBytes int64

	// Tenants resolves the tenant of every API request.
	Tenants *TenantResolver
}

// NewRouter builds the HTTP router.
//
// Middleware order: request id, metrics, panic recovery, CORS, then per
// group rate limiting, body limits and tenant resolution. Health and
// metrics endpoints sit outside the tenant group.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mw := NewChiMiddleware(cfg.Middleware)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withStartTime)
	r.Use(middleware.PrometheusMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(bodyLimit(cfg.MaxBodyBytes))
		r.Use(cfg.Tenants.Middleware)

		// Frontoffice
		r.Patch("/users/{user_id}/interactions", h.RecordInteractions)
		r.Get("/users/{user_id}/personalized_documents", h.PersonalizedDocuments)
		r.Post("/users/{user_id}/personalized_documents", h.PersonalizedDocuments)
		r.Post("/personalized_documents", h.StatelessDocuments)
		r.Post("/semantic_search", h.SemanticSearch)

		// Backoffice
		r.Put("/documents", h.UpsertDocuments)
		r.Get("/documents/{document_id}", h.GetDocument)
		r.Delete("/documents/{document_id}", h.DeleteDocument)
	})

	return r
}
