// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lodestar/internal/logging"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/validation"
)

// APIResponse is the envelope of every response body.
type APIResponse struct {
	// Success indicates whether the request was successful
	Success bool `json:"success"`

	// Data contains the response payload (null on error)
	Data interface{} `json:"data,omitempty"`

	// Error contains error details (null on success)
	Error *APIError `json:"error,omitempty"`

	// Meta contains response metadata
	Meta *APIMeta `json:"meta,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains field errors for validation failures
	Details interface{} `json:"details,omitempty"`

	// RequestID is the request ID for tracing
	RequestID string `json:"request_id,omitempty"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// Error codes for API responses.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidation         = validation.CodeValidationError
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTenantRequired     = "TENANT_REQUIRED"
	ErrCodeTenantNotFound     = "TENANT_NOT_FOUND"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeTimeout            = "COLLABORATOR_TIMEOUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// startTimeKey carries the request start time set by the router.
type startTimeKey struct{}

func requestStart(r *http.Request) time.Time {
	if t, ok := r.Context().Value(startTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

func newMeta(r *http.Request) *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(requestStart(r)).Milliseconds(),
	}
}

// respondData writes a success envelope around data.
func respondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respondJSON(w, r, status, &APIResponse{
		Success: true,
		Data:    data,
		Meta:    newMeta(r),
	})
}

// respondError writes an error envelope. err is logged, never returned
// to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	respondErrorDetails(w, r, status, code, message, nil, err)
}

func respondErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}, err error) {
	if err != nil {
		event := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.Err(err).Str("code", code).Int("status", status).Msg("request failed")
	}
	meta := newMeta(r)
	respondJSON(w, r, status, &APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: meta.RequestID,
		},
		Meta: meta,
	})
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.CtxErr(r.Context(), err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.CtxErr(r.Context(), err).Msg("failed to write JSON response")
	}
}

// respondDomainError maps engine errors onto status codes. Only validation
// messages reach the client verbatim; other kinds get a fixed message.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		respondErrorDetails(w, r, http.StatusBadRequest, ErrCodeValidation, verr.Error(), verr.Fields, nil)
		return
	}

	switch personalize.KindOf(err) {
	case personalize.KindValidation:
		code := ErrCodeValidation
		if c := personalize.CodeOf(err); c != "" {
			code = strings.ToUpper(c)
		}
		respondError(w, r, http.StatusBadRequest, code, validationMessage(err), err)
	case personalize.KindNotFound:
		code := ErrCodeNotFound
		if c := personalize.CodeOf(err); c != "" {
			code = strings.ToUpper(c)
		}
		respondError(w, r, http.StatusNotFound, code, "resource not found", err)
	case personalize.KindTenantNotFound:
		respondError(w, r, http.StatusNotFound, ErrCodeTenantNotFound, "tenant not found", err)
	case personalize.KindStorage:
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "storage temporarily unavailable", err)
	case personalize.KindCollaboratorTimeout:
		respondError(w, r, http.StatusGatewayTimeout, ErrCodeTimeout, "upstream collaborator timed out", err)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal error", err)
	}
}

// validationMessage is the cause of a validation error without the
// operation and kind prefix.
func validationMessage(err error) string {
	var e *personalize.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return "invalid request"
}
