// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/lodestar/internal/auth"
	"github.com/tomtom215/lodestar/internal/authz"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeRanker records the last request of each kind.
type fakeRanker struct {
	mu        sync.Mutex
	rank      personalize.RankRequest
	stateless personalize.StatelessRequest
	search    personalize.SearchRequest
	tenant    tenant.Context
	result    *personalize.RankResult
	err       error
}

func (f *fakeRanker) Rank(_ context.Context, tc tenant.Context, req personalize.RankRequest) (*personalize.RankResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rank, f.tenant = req, tc
	return f.reply()
}

func (f *fakeRanker) RankStateless(_ context.Context, tc tenant.Context, req personalize.StatelessRequest) (*personalize.RankResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateless, f.tenant = req, tc
	return f.reply()
}

func (f *fakeRanker) SemanticSearch(_ context.Context, tc tenant.Context, req personalize.SearchRequest) (*personalize.RankResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.search, f.tenant = req, tc
	return f.reply()
}

func (f *fakeRanker) reply() (*personalize.RankResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &personalize.RankResult{
		Documents: []personalize.RankedDocument{{DocumentID: "d1", Score: 0.9}},
		Mode:      personalize.ModePersisted,
		State:     personalize.StateReturned,
	}, nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	userID string
	batch  []personalize.Interaction
	err    error
}

func (f *fakeRecorder) RecordBatch(_ context.Context, _ tenant.Context, userID string, batch []personalize.Interaction) ([]personalize.RecordResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID, f.batch = userID, batch
	if f.err != nil {
		return nil, f.err
	}
	out := make([]personalize.RecordResult, len(batch))
	for i, in := range batch {
		out[i] = personalize.RecordResult{DocumentID: in.DocumentID, SubID: in.SubID, Created: true, ViewCount: 1}
	}
	return out, nil
}

type fakeDocuments struct {
	mu      sync.Mutex
	docs    map[string]personalize.Document
	deleted []string
	err     error
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[string]personalize.Document)}
}

func (f *fakeDocuments) Upsert(_ context.Context, _ tenant.Context, docs []personalize.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, _ tenant.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	delete(f.docs, id)
	return f.err
}

func (f *fakeDocuments) Get(_ context.Context, _ tenant.Context, id string) (*personalize.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, personalize.NewNotFound("get document", personalize.CodeDocumentNotFound, errors.New("no such document"))
	}
	return &d, nil
}

// fakeTenants knows the tenants it was created with.
type fakeTenants struct {
	known map[string]bool
	err   error
}

func newFakeTenants(ids ...string) *fakeTenants {
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	return &fakeTenants{known: known}
}

func (f *fakeTenants) HasTenant(_ context.Context, tc tenant.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.known[tc.ID], nil
}

type testServer struct {
	router    http.Handler
	ranker    *fakeRanker
	recorder  *fakeRecorder
	documents *fakeDocuments
	tenants   *fakeTenants
	jwt       *auth.JWTManager
}

type serverOption func(*serverOptions)

type serverOptions struct {
	jwt          bool
	maxBodyBytes int64
	rateLimit    int
	checks       []HealthCheck
}

func withJWT() serverOption {
	return func(o *serverOptions) { o.jwt = true }
}

func withMaxBody(n int64) serverOption {
	return func(o *serverOptions) { o.maxBodyBytes = n }
}

func withRateLimit(n int) serverOption {
	return func(o *serverOptions) { o.rateLimit = n }
}

func withChecks(checks ...HealthCheck) serverOption {
	return func(o *serverOptions) { o.checks = checks }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &testServer{
		ranker:    &fakeRanker{},
		recorder:  &fakeRecorder{},
		documents: newFakeDocuments(),
		tenants:   newFakeTenants("acme"),
	}

	var enforcer *authz.Enforcer
	if o.jwt {
		var err error
		s.jwt, err = auth.NewJWTManager(testSecret, "lodestar", time.Hour)
		if err != nil {
			t.Fatalf("NewJWTManager() error = %v", err)
		}
		enforcer, err = authz.NewEnforcer("")
		if err != nil {
			t.Fatalf("NewEnforcer() error = %v", err)
		}
	}
	resolver, err := NewTenantResolver(s.tenants, s.jwt, enforcer)
	if err != nil {
		t.Fatalf("NewTenantResolver() error = %v", err)
	}

	mwConfig := DefaultChiMiddlewareConfig()
	mwConfig.RateLimitDisabled = o.rateLimit == 0
	mwConfig.RateLimitRequests = o.rateLimit

	h := NewHandler(s.ranker, s.recorder, s.documents, zerolog.Nop(), o.checks...)
	s.router = NewRouter(h, RouterConfig{
		Middleware:   mwConfig,
		MaxBodyBytes: o.maxBodyBytes,
		Tenants:      resolver,
	})
	return s
}

// do sends a request as tenant acme in header mode.
func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.doWith(t, method, path, body, map[string]string{TenantHeader: "acme"})
}

func (s *testServer) doWith(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// decodeEnvelope decodes the response envelope, leaving data raw.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (APIResponse, json.RawMessage) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
		Meta    *APIMeta        `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not a JSON envelope: %v\nbody: %s", err, rec.Body.String())
	}
	return APIResponse{Success: env.Success, Error: env.Error, Meta: env.Meta}, env.Data
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) *APIError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, status, rec.Body.String())
	}
	env, _ := decodeEnvelope(t, rec)
	if env.Success {
		t.Fatalf("success = true, want false")
	}
	if env.Error == nil {
		t.Fatalf("error is missing; body: %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Fatalf("error code = %q, want %q (message %q)", env.Error.Code, code, env.Error.Message)
	}
	return env.Error
}

func expectData(t *testing.T, rec *httptest.ResponseRecorder, status int, dst any) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, status, rec.Body.String())
	}
	env, data := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false; body: %s", rec.Body.String())
	}
	if dst != nil {
		if err := json.Unmarshal(data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}
