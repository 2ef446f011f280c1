// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package personalize

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable category of an error surfaced to callers.
type Kind string

const (
	// KindValidation marks bad input: missing or malformed embeddings,
	// unknown targets, dimension mismatches. Never retried.
	KindValidation Kind = "validation"

	// KindStorage marks transient transaction or connection failures.
	// Retried with backoff by the recorder and the engine.
	KindStorage Kind = "storage"

	// KindCollaboratorTimeout marks an unresponsive embedder or index.
	KindCollaboratorTimeout Kind = "collaborator_timeout"

	// KindTenantNotFound marks a request for an unknown tenant.
	KindTenantNotFound Kind = "tenant_not_found"

	// KindNotFound marks a missing document or resource.
	KindNotFound Kind = "not_found"

	// KindInternal marks everything else.
	KindInternal Kind = "internal"
)

// Validation error codes.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeUnknownTarget     = "unknown_target"
	CodeDimensionMismatch = "dimension_mismatch"
	CodeInvalidEmbedding  = "invalid_embedding"
	CodeQueryTooLong      = "query_too_long"
	CodeDocumentNotFound  = "document_not_found"
)

// Error is the error type returned across component boundaries.
type Error struct {
	// Kind is the stable category.
	Kind Kind

	// Op is the operation that failed, e.g. "record" or "rank".
	Op string

	// Code refines Kind for validation and not-found errors.
	Code string

	// Err is the underlying cause. It is never shown to API clients.
	Err error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += "(" + e.Code + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError returns a KindValidation error.
func NewValidationError(op, code string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Code: code, Err: err}
}

// NewStorageError returns a retryable KindStorage error.
func NewStorageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// NewCollaboratorTimeout returns a KindCollaboratorTimeout error.
func NewCollaboratorTimeout(op string, err error) *Error {
	return &Error{Kind: KindCollaboratorTimeout, Op: op, Err: err}
}

// NewTenantNotFound returns a KindTenantNotFound error for id.
func NewTenantNotFound(op, id string) *Error {
	return &Error{Kind: KindTenantNotFound, Op: op, Err: fmt.Errorf("tenant %q not found", id)}
}

// NewNotFound returns a KindNotFound error.
func NewNotFound(op, code string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Code: code, Err: err}
}

// NewInternalError returns a KindInternal error.
func NewInternalError(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}

// KindOf returns the kind of err. Errors that are not an *Error are
// internal, except context deadlines which count as collaborator timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindCollaboratorTimeout
	}
	return KindInternal
}

// CodeOf returns the code of err, or "" when it has none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient storage failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorage
}

// wrapStorage passes through *Error values and classifies the rest as
// storage failures.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return NewStorageError(op, err)
}
