// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package logging configures the process-wide zerolog logger.
//
// Components receive a zerolog.Logger at construction; this package only
// owns the global instance they are derived from, the request-scoped
// fields the HTTP layer attaches, and a slog bridge for libraries that
// require one.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logger := logging.WithComponent("engine")
//	logging.Ctx(ctx).Info().Str("user_id", uid).Msg("ranked")
//
// # Configuration
//
// Environment variables, read through internal/config:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file and line (default: false)
//
// # Request Fields
//
// The request id middleware stores the id with ContextWithRequestID and
// tenant resolution stores the tenant with ContextWithTenant. Ctx adds
// both as request_id and tenant. Embedding vectors and document
// properties are never logged.
package logging
