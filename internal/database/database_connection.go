// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
database_connection.go - Connection Pool and Error Classification

Connection Pool Configuration:
  - MaxOpenConns: Based on CPU count for parallelism
  - MaxIdleConns: 2 for efficient connection reuse
  - ConnMaxLifetime: 1 hour to prevent stale connections
  - ConnMaxIdleTime: 5 minutes for idle connection cleanup

Error Classification:
DuckDB reports optimistic concurrency failures and lost connections as
plain errors. classify maps them to retryable storage errors and
constraint violations to validation errors, so the recorder and the
engine can decide what to retry.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/lodestar/internal/metrics"
	"github.com/tomtom215/lodestar/internal/personalize"
)

// configureConnectionPool sets connection pool parameters
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// observe records query metrics and classifies err.
func observe(op string, start time.Time, err error) error {
	err = classify(op, err)
	metrics.RecordDBQuery(backend, op, time.Since(start), err)
	return err
}

// classify maps driver errors to personalize errors. *personalize.Error
// values pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *personalize.Error
	switch {
	case errors.As(err, &pe):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return personalize.NewStorageError(op, err)
	case isTransactionConflict(err), isConnectionError(err):
		return personalize.NewStorageError(op, err)
	case isConstraintViolation(err):
		return personalize.NewValidationError(op, personalize.CodeInvalidRequest, err)
	default:
		return personalize.NewInternalError(op, err)
	}
}

// isConnectionError checks if an error indicates database connection loss
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "broken pipe") ||
		strings.Contains(errMsg, "bad connection") ||
		strings.Contains(errMsg, "database is closed")
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "Conflict on tuple deletion") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

// isConstraintViolation checks for primary key and check constraint errors
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Constraint Error") ||
		strings.Contains(errStr, "violates primary key constraint") ||
		strings.Contains(errStr, "Duplicate key")
}
