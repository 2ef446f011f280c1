// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/lodestar/internal/auth"
	"github.com/tomtom215/lodestar/internal/authz"
	"github.com/tomtom215/lodestar/internal/logging"
	"github.com/tomtom215/lodestar/internal/tenant"
)

// TenantHeader names the tenant when authentication is disabled.
const TenantHeader = "X-Tenant-ID"

// TenantChecker reports whether a tenant exists. Both storage backends
// satisfy it.
type TenantChecker interface {
	HasTenant(ctx context.Context, tc tenant.Context) (bool, error)
}

// TenantResolver resolves, authenticates and authorizes the tenant of a
// request. Without a JWT manager the tenant comes from TenantHeader and
// every caller is trusted. With one, the tenant and role come from the
// bearer token and the enforcer decides which routes the role may call.
type TenantResolver struct {
	tenants  TenantChecker
	jwt      *auth.JWTManager
	enforcer *authz.Enforcer
}

// NewTenantResolver creates a resolver. jwt and enforcer are both nil in
// header mode and both set in jwt mode.
func NewTenantResolver(tenants TenantChecker, jwt *auth.JWTManager, enforcer *authz.Enforcer) (*TenantResolver, error) {
	if tenants == nil {
		return nil, errors.New("tenant checker is required")
	}
	if (jwt == nil) != (enforcer == nil) {
		return nil, errors.New("jwt manager and enforcer must be configured together")
	}
	return &TenantResolver{tenants: tenants, jwt: jwt, enforcer: enforcer}, nil
}

// Middleware stores the tenant with tenant.WithContext, and the principal
// with auth.ContextWithPrincipal in jwt mode.
func (tr *TenantResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var tenantID string

		if tr.jwt != nil {
			principal, ok := tr.authenticate(w, r)
			if !ok {
				return
			}
			tenantID = principal.Tenant
			if header := r.Header.Get(TenantHeader); header != "" && header != tenantID {
				respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "token is not valid for this tenant", nil)
				return
			}
			ctx = auth.ContextWithPrincipal(ctx, principal)
		} else {
			tenantID = r.Header.Get(TenantHeader)
			if tenantID == "" {
				respondError(w, r, http.StatusBadRequest, ErrCodeTenantRequired, TenantHeader+" header is required", nil)
				return
			}
		}

		tc, err := tenant.New(tenantID)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, ErrCodeTenantRequired, "invalid tenant id", nil)
			return
		}
		ctx = logging.ContextWithTenant(ctx, tc.ID)
		r = r.WithContext(ctx)

		exists, err := tr.tenants.HasTenant(ctx, tc)
		if err != nil {
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "storage temporarily unavailable", err)
			return
		}
		if !exists {
			respondError(w, r, http.StatusNotFound, ErrCodeTenantNotFound, "tenant not found", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(tenant.WithContext(ctx, tc)))
	})
}

// authenticate validates the bearer token and checks the route against the
// policy. It writes the error response and returns false on failure.
func (tr *TenantResolver) authenticate(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	token, err := auth.BearerToken(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="lodestar"`)
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "bearer token required", nil)
		return auth.Principal{}, false
	}
	claims, err := tr.jwt.ValidateToken(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="lodestar", error="invalid_token"`)
		respondError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token", err)
		return auth.Principal{}, false
	}

	principal := claims.Principal()
	allowed, err := tr.enforcer.Allow(string(principal.Role), r.URL.Path, r.Method)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal error", err)
		return auth.Principal{}, false
	}
	if !allowed {
		respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "role "+string(principal.Role)+" may not call this endpoint", nil)
		return auth.Principal{}, false
	}
	return principal, true
}
