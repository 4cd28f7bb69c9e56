// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/prompts"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/tools"
	"github.com/AleutianAI/AleutianForge/services/forge/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func breakerRegistry(breakers ...*breaker.Breaker) *breaker.Registry {
	reg := breaker.NewRegistry()
	for _, b := range breakers {
		reg.Register(b)
	}
	return reg
}

// fakeExecutor scripts the graph seam. Defaults accept writes and
// return empty reads.
type fakeExecutor struct {
	mu     sync.Mutex
	readFn func(query string, params map[string]any) (*graph.Result, error)
}

func (f *fakeExecutor) Read(_ context.Context, query string, params map[string]any) (*graph.Result, error) {
	f.mu.Lock()
	fn := f.readFn
	f.mu.Unlock()
	if fn != nil {
		return fn(query, params)
	}
	return &graph.Result{}, nil
}

func (f *fakeExecutor) Write(context.Context, string, map[string]any) (*graph.Result, error) {
	return &graph.Result{}, nil
}

func (f *fakeExecutor) WriteTx(_ context.Context, fn func(tx graph.Tx) error) error {
	return fn(fakeTx{})
}

func (f *fakeExecutor) VerifyConnectivity(context.Context) error { return nil }

func (f *fakeExecutor) Close(context.Context) error { return nil }

type fakeTx struct{}

func (fakeTx) Run(context.Context, string, map[string]any) (*graph.Result, error) {
	return &graph.Result{Rows: graph.Rows{{"matched": int64(1)}}}, nil
}

type fixture struct {
	router *gin.Engine
	tokens *auth.Service
	exec   *fakeExecutor
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	log := logging.New(logging.Config{Quiet: true})

	exec := &fakeExecutor{}
	client := graph.NewClient(exec, graph.Options{Logger: log})

	catalog, err := prompts.NewCatalog(log)
	require.NoError(t, err)

	sink := audit.NewWriter(nil, 64, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sink.Close(ctx)
	})

	cfg := config.Default()
	cfg.RateLimit = config.RateLimit{
		PerMinute: 1000, PerHour: 10000, PerDay: 100000, Burst: 1000,
	}

	revocations := auth.NewRevocationIndex(auth.NewGraphRevocationStore(client), log)
	tokens, err := auth.NewService(testSigningKey, time.Hour, revocations, true, log)
	require.NoError(t, err)

	registry, err := tools.NewRegistry(tools.Deps{
		Config:    cfg.Exec,
		Graph:     client,
		Validator: validation.NewDefault(),
		Runner:    sandbox.NewRunner(cfg.Exec, nil, log),
		Audit:     sink,
		Prompts:   catalog,
		Log:       log,
	})
	require.NoError(t, err)

	limiter := ratelimit.New(cfg.RateLimit)
	t.Cleanup(limiter.Close)

	deps := Deps{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		Graph:    client,
		Prompts:  catalog,
		Tokens:   tokens,
		Audit:    sink,
		Limiter:  limiter,
		Breakers: breakerRegistry(
			breaker.New("graph-read", breaker.Config{FailureThreshold: 5, ResetTimeout: time.Second, HalfOpenMaxProbes: 1}, nil),
		),
		Version: "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	router, err := NewRouter(deps)
	require.NoError(t, err)
	return &fixture{router: router, tokens: tokens, exec: exec}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) issue(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	token, _, err := f.tokens.Issue(subject, roles, time.Hour)
	require.NoError(t, err)
	return token
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestRouterRequiresDeps(t *testing.T) {
	_, err := NewRouter(Deps{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInternal))
}

func TestHealthReportsDatabaseAndBreakers(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["service"])
	assert.Equal(t, true, body["database"])
	breakers, ok := body["breakers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "closed", breakers["graph-read"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestStatusReportsPosture(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/status", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "aleutian-forge", body["service"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "development", body["environment"])
	assert.Contains(t, body, "uptime_s")
	security, ok := body["security"].(map[string]any)
	require.True(t, ok)
	for _, flag := range []string{"authentication", "rate_limiting", "audit", "validation"} {
		assert.Equal(t, true, security[flag], flag)
	}
}

func TestPromptsList(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/prompts", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	list, ok := body["prompts"].([]any)
	require.True(t, ok)
	ids := make([]string, 0, len(list))
	for _, item := range list {
		p := item.(map[string]any)
		ids = append(ids, p["id"].(string))
	}
	assert.Contains(t, ids, "proceed")
	assert.Contains(t, ids, "review")
}

func TestPromptByID(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/prompts/review", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "review", body["id"])
	assert.NotEmpty(t, body["body"])
}

func TestPromptUnknownIDIs404(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/prompts/never-heard-of-it", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "not_found", env.Error.Code)
	assert.Equal(t, w.Header().Get("X-Request-ID"), env.RequestID)
}

func TestLintRouteOpenToAnonymous(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/lint_code", "", map[string]any{
		"code": "def add(a, b):\n    return a + b\n",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, []any{"add"}, body["functions"])
	assert.Equal(t, float64(1), body["complexity"])
}

func TestExecuteRequiresAuth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/execute_code", "", map[string]any{
		"code": "print(1)",
	})

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "unauthenticated", env.Error.Code)
}

func TestExecuteForbiddenForViewer(t *testing.T) {
	f := newFixture(t)
	token := f.issue(t, "val", "viewer")

	w := f.do(t, http.MethodPost, "/execute_code", token, map[string]any{
		"code": "print(1)",
	})

	require.Equal(t, http.StatusForbidden, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "permission_denied", env.Error.Code)
	assert.Equal(t, "tools:execute", env.Error.Details["permission"])
}

func TestGraphQueryOpenToAnonymous(t *testing.T) {
	f := newFixture(t)
	f.exec.mu.Lock()
	f.exec.readFn = func(query string, params map[string]any) (*graph.Result, error) {
		return &graph.Result{Rows: graph.Rows{{"name": "front"}}}, nil
	}
	f.exec.mu.Unlock()

	w := f.do(t, http.MethodPost, "/graph_query", "", map[string]any{
		"cypher": "MATCH (s:Svc) RETURN s.name AS name",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	rows, ok := body["rows"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
}

func TestGraphQueryMutationRejected(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/graph_query", "", map[string]any{
		"cypher": "MATCH (n) DETACH DELETE n",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "invalid_input", env.Error.Code)
}

func TestGraphUpsertNeedsAdminRole(t *testing.T) {
	f := newFixture(t)
	developer := f.issue(t, "dev", "developer")

	w := f.do(t, http.MethodPost, "/graph_upsert", developer, map[string]any{
		"nodes": []map[string]any{{"key": "a", "labels": []string{"Svc"}}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := f.issue(t, "root", "admin")
	w = f.do(t, http.MethodPost, "/graph_upsert", admin, map[string]any{
		"nodes": []map[string]any{{"key": "a", "labels": []string{"Svc"}}},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRevokeTokenEndsAccess(t *testing.T) {
	f := newFixture(t)
	admin := f.issue(t, "root", "admin")
	victim := f.issue(t, "mallory", "developer")

	w := f.do(t, http.MethodPost, "/auth/revoke", admin, map[string]any{
		"token": victim, "reason": "credential leak",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decodeBody(t, w)["revoked"])

	w = f.do(t, http.MethodPost, "/execute_code", victim, map[string]any{
		"code": "print(1)",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"revoked token must stop verifying immediately")
}

func TestRevokeRequiresAdminPermission(t *testing.T) {
	f := newFixture(t)
	developer := f.issue(t, "dev", "developer")

	w := f.do(t, http.MethodPost, "/auth/revoke", developer, map[string]any{
		"token": developer,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRevokeAllValidatesBody(t *testing.T) {
	f := newFixture(t)
	admin := f.issue(t, "root", "admin")

	w := f.do(t, http.MethodPost, "/auth/revoke_all", admin, map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/auth/revoke_all", admin, map[string]any{
		"user_id": "mallory",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "mallory", decodeBody(t, w)["user_id"])
}

func TestAuditLogRequiresAdminPermission(t *testing.T) {
	f := newFixture(t)
	developer := f.issue(t, "dev", "developer")

	w := f.do(t, http.MethodGet, "/audit", developer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditLogReturnsEvents(t *testing.T) {
	log := logging.New(logging.Config{Quiet: true})
	var trail *audit.Writer
	f := newFixture(t, func(d *Deps) {
		trail = audit.NewWriter(d.Graph, 64, log)
		d.Audit = trail
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = trail.Close(ctx)
	})
	admin := f.issue(t, "root", "admin")

	f.exec.mu.Lock()
	f.exec.readFn = func(query string, params map[string]any) (*graph.Result, error) {
		assert.Contains(t, query, "AuditEvent")
		assert.Equal(t, "auth_failure", params["type"])
		return &graph.Result{Rows: graph.Rows{{
			"id":             "evt-1",
			"type":           "auth_failure",
			"timestamp":      time.Now().UnixMilli(),
			"user_id":        "mallory",
			"severity":       "warning",
			"correlation_id": "req-1",
			"attributes":     `{"ip":"10.0.0.9"}`,
		}}}, nil
	}
	f.exec.mu.Unlock()

	w := f.do(t, http.MethodGet, "/audit?type=auth_failure", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	first, ok := events[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "mallory", first["user_id"])
}

func TestAuditLogRejectsBadFilters(t *testing.T) {
	f := newFixture(t)
	admin := f.issue(t, "root", "admin")

	w := f.do(t, http.MethodGet, "/audit?limit=zero", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/audit?since=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/no/such/route", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "not_found", env.Error.Code)
	assert.NotEmpty(t, env.RequestID)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Metrics = promhttp.Handler()
	})

	w := f.do(t, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOversizedToolBodyRejected(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		cfg := *d.Config
		cfg.Server.BodyMaxBytes = 256
		d.Config = &cfg
	})

	w := f.do(t, http.MethodPost, "/lint_code", "", map[string]any{
		"code": string(bytes.Repeat([]byte("x"), 1024)),
	})

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var env fault.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "too_large", env.Error.Code)
}

func TestInvalidTokenOnOpenRouteFailsClosed(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code,
		"a presented token must verify even on open routes")
}
