// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes assembles the HTTP surface: the middleware pipeline,
// the system endpoints, and one POST route per registry tool. Both
// this package and the MCP transport call through the same frozen
// registry, so a tool behaves identically on either surface.
package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/analytics"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
	"github.com/AleutianAI/AleutianForge/services/forge/prompts"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/tools"
)

// serviceName is what /status reports and what telemetry tags.
const serviceName = "aleutian-forge"

// Deps carries the services the HTTP surface exposes. Metrics, MCP,
// Tracing, and Analytics are optional; everything else must be set.
type Deps struct {
	Config    *config.Config
	Log       *logging.Logger
	Registry  *tools.Registry
	Graph     *graph.Client
	Prompts   *prompts.Catalog
	Analytics *analytics.Engine
	Tokens    *auth.Service
	Audit     *audit.Writer
	Limiter   *ratelimit.Limiter

	// Breakers are surfaced on /health by name and state.
	Breakers *breaker.Registry

	// Metrics serves GET /metrics (Prometheus text). Nil omits the route.
	Metrics http.Handler

	// MCP serves the streamable-HTTP MCP session under /mcp. Nil omits
	// the mount.
	MCP http.Handler

	// Tracing is mounted after the pipeline, before handlers. The
	// telemetry package supplies span and request-metric middleware
	// here so routes does not depend on it.
	Tracing []gin.HandlerFunc

	Version string
}

type server struct {
	cfg       *config.Config
	registry  *tools.Registry
	graph     *graph.Client
	prompts   *prompts.Catalog
	analytics *analytics.Engine
	tokens    *auth.Service
	audit     *audit.Writer
	breakers  *breaker.Registry
	version   string
	started   time.Time
}

// NewRouter builds the gin engine with the full middleware pipeline
// and route table. The returned engine is ready for http.Server.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Config == nil || deps.Registry == nil || deps.Graph == nil ||
		deps.Prompts == nil || deps.Tokens == nil || deps.Audit == nil ||
		deps.Limiter == nil {
		return nil, fault.New(fault.KindInternal,
			"router requires config, registry, graph, prompts, tokens, audit, and limiter")
	}
	log := deps.Log
	if log == nil {
		log = logging.Default()
	}
	if deps.Analytics == nil {
		deps.Analytics = analytics.NewEngine(deps.Graph)
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	if deps.Config.Server.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &server{
		cfg:       deps.Config,
		registry:  deps.Registry,
		graph:     deps.Graph,
		prompts:   deps.Prompts,
		analytics: deps.Analytics,
		tokens:    deps.Tokens,
		audit:     deps.Audit,
		breakers:  deps.Breakers,
		version:   version,
		started:   time.Now(),
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, rec any) {
		logging.FromContext(c.Request.Context()).Error("handler panic", "panic", rec)
		middleware.Abort(c, fault.New(fault.KindInternal, "internal error"))
	}))
	r.Use(middleware.RequestID(log))
	r.Use(middleware.AccessLog())
	r.Use(middleware.BodyLimit(deps.Config.Server.BodyMaxBytes))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	for _, mw := range deps.Tracing {
		r.Use(mw)
	}

	r.NoRoute(func(c *gin.Context) {
		middleware.Abort(c, fault.New(fault.KindNotFound, "route not found"))
	})

	authn := middleware.NewAuthenticator(deps.Tokens, deps.Audit)
	limit := middleware.RateLimit(deps.Limiter, deps.Audit)
	perm := func(p auth.Permission) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Audit, p)
	}

	// Open routes: anonymous allowed, but a presented token must still
	// verify. Rate limiting keys by IP when no identity is bound.
	open := r.Group("", authn.Optional(), limit)
	{
		open.GET("/health", s.health)
		open.GET("/status", s.status)
		if deps.Metrics != nil {
			open.GET("/metrics", gin.WrapH(deps.Metrics))
		}
		open.GET("/prompts", s.listPrompts)
		open.GET("/prompts/:id", s.getPrompt)
		open.POST("/lint_code", s.tool("lint_code"))
		open.POST("/graph_query", s.tool("graph_query"))
	}

	authed := r.Group("", authn.Required())
	{
		authed.GET("/analytics/complexity",
			perm(auth.PermGraphQuery), limit, s.complexity)
		authed.POST("/execute_code",
			perm(auth.PermToolsExecute), limit, s.tool("execute_code"))
		authed.POST("/run_tests",
			perm(auth.PermToolsTest), limit, s.tool("run_tests"))
		authed.POST("/generate_code",
			perm(auth.PermToolsGenerate), limit, s.tool("generate_code"))
		authed.POST("/graph_upsert",
			perm(auth.PermGraphUpsert), limit, s.tool("graph_upsert"))

		admin := authed.Group("/auth", perm(auth.PermSystemAdmin), limit)
		{
			admin.POST("/revoke", s.revokeToken)
			admin.POST("/revoke_all", s.revokeAll)
		}
		authed.GET("/audit", perm(auth.PermSystemAdmin), limit, s.auditLog)
	}

	// MCP does per-call RBAC itself; the HTTP layer verifies any bearer
	// token so the session context carries the identity in.
	if deps.MCP != nil {
		r.Any("/mcp", authn.Optional(), limit, gin.WrapH(deps.MCP))
	}

	return r, nil
}
