// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/lodestar/internal/tenant"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

var (
	// ErrInvalidToken is returned for tokens that fail parsing or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingToken is returned when a request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")
)

// Role is the API surface a token may use.
type Role string

const (
	// RoleFrontoffice records interactions and reads rankings.
	RoleFrontoffice Role = "frontoffice"

	// RoleBackoffice manages documents. It does not imply frontoffice.
	RoleBackoffice Role = "backoffice"
)

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleFrontoffice, RoleBackoffice:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Claims are the JWT claims of an API token. The subject names the
// calling application, not an end user.
type Claims struct {
	Tenant string `json:"tenant"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Validate is called by the parser after the registered claims pass.
func (c *Claims) Validate() error {
	if _, err := tenant.New(c.Tenant); err != nil {
		return err
	}
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	return nil
}

// Principal returns the identity carried by the claims.
func (c *Claims) Principal() Principal {
	return Principal{Subject: c.Subject, Tenant: c.Tenant, Role: c.Role}
}

// JWTManager issues and validates HS256 tokens.
type JWTManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTManager returns a manager for tokens of issuer valid for ttl.
func NewJWTManager(secret, issuer string, ttl time.Duration) (*JWTManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", MinSecretLength)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithTTL returns a copy of m issuing tokens valid for ttl.
func (m *JWTManager) WithTTL(ttl time.Duration) *JWTManager {
	out := *m
	if ttl > 0 {
		out.ttl = ttl
	}
	return &out
}

// GenerateToken signs a token for subject scoped to one tenant and role.
func (m *JWTManager) GenerateToken(subject, tenantID string, role Role) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	claims := &Claims{
		Tenant: tenantID,
		Role:   role,
	}
	if err := claims.Validate(); err != nil {
		return "", err
	}

	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses token and checks signature, issuer, expiry and
// the tenant and role claims. Every failure wraps ErrInvalidToken.
func (m *JWTManager) ValidateToken(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
