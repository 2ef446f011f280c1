// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package auth issues and validates the bearer tokens of the HTTP API.

With AUTH_MODE=jwt every request carries an HS256 token whose claims
bind it to one tenant and one role:

	{
	  "iss": "lodestar",
	  "sub": "news-frontend",
	  "tenant": "acme",
	  "role": "frontoffice",
	  "exp": 1767225600
	}

The tenant claim replaces the X-Tenant-ID header used with AUTH_MODE=none.
Route access per role is decided by internal/authz.

Usage:

	m, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)
	token, err := m.GenerateToken("news-frontend", "acme", auth.RoleFrontoffice)
	claims, err := m.ValidateToken(token)

Tokens are stateless and cannot be revoked before they expire; keep the
TTL short for backoffice tokens (lodestarctl token issue --ttl).
*/
package auth
