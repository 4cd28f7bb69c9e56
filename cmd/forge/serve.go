// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/pkg/ux"
	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/cache"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/mcptransport"
	"github.com/AleutianAI/AleutianForge/services/forge/prompts"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/routes"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
	"github.com/AleutianAI/AleutianForge/services/forge/telemetry"
	"github.com/AleutianAI/AleutianForge/services/forge/tools"
	"github.com/AleutianAI/AleutianForge/services/forge/validation"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the forge HTTP and MCP server",
	Long: `Starts the platform: the REST tool routes, the MCP streamable-HTTP
session under /mcp, health and metrics endpoints, and the background
sweepers that keep caches, rate limits, and revocations current.

The process exits non-zero when the environment configuration is
rejected or the graph schema cannot be applied.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// Shutdown and warm-up bounds. The grace period covers in-flight
// requests plus the audit drain; warm-up covers schema DDL and the
// revocation scan against a cold database.
const (
	shutdownGrace = 10 * time.Second
	warmupTimeout = 30 * time.Second
	sweepInterval = time.Minute
)

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: serviceName,
		JSON:    cfg.Log.Format == "json",
	})
	defer log.Close()

	shutdownTel, err := telemetry.Init(ctx, telemetry.FromConfig(cfg, version))
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTel(flushCtx)
	}()
	col := telemetry.Metrics()

	executor, err := graph.NewDriverExecutor(cfg.Graph)
	if err != nil {
		return err
	}

	readBreaker := breaker.New("graph-read", breaker.Config{
		FailureThreshold:  cfg.Breaker.ReadFailures,
		ResetTimeout:      cfg.Breaker.ReadTimeout,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  cfg.Breaker.ReadSuccesses,
	}, col.OnBreakerChange())
	writeBreaker := breaker.New("graph-write", breaker.Config{
		FailureThreshold:  cfg.Breaker.WriteFailures,
		ResetTimeout:      cfg.Breaker.WriteTimeout,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  cfg.Breaker.WriteSuccesses,
	}, col.OnBreakerChange())
	col.SetBreakerState(readBreaker)
	col.SetBreakerState(writeBreaker)
	breakers := breaker.NewRegistry()
	breakers.Register(readBreaker)
	breakers.Register(writeBreaker)

	gcache := cache.New(cfg.Cache.Capacity, cfg.Cache.TTL)
	gcache.StartSweeper(sweepInterval)
	defer gcache.Close()
	col.WatchCache("graph", gcache.Stats)

	client := graph.NewClient(executor, graph.Options{
		Database:     cfg.Graph.Database,
		Cache:        gcache,
		ReadBreaker:  readBreaker,
		WriteBreaker: writeBreaker,
		RowLimit:     cfg.Graph.RowLimit,
		Logger:       log,
		Hooks:        col.GraphHooks(),
	})
	defer client.Close(context.Background())

	auditTrail := audit.NewWriter(client, 0, log)
	col.WatchAuditTrail(auditTrail.Stats)

	revocations := auth.NewRevocationIndex(auth.NewGraphRevocationStore(client), log)
	defer revocations.Close()

	tokens, err := auth.NewService(cfg.Auth.TakeSigningKey(), cfg.Auth.TokenTTL,
		revocations, cfg.Telemetry.InsecureMemory, log)
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	defer tokens.Close()

	// Constraints must hold before any tool writes. A failed revocation
	// warm-up is tolerable; the sweeper refreshes the index.
	warmCtx, cancelWarm := context.WithTimeout(ctx, warmupTimeout)
	defer cancelWarm()
	g, gctx := errgroup.WithContext(warmCtx)
	g.Go(func() error {
		if err := client.ApplySchema(gctx); err != nil {
			return fmt.Errorf("applying graph schema: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := revocations.Warm(gctx); err != nil {
			log.Warn("revocation index warm-up failed; starting empty", "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	revocations.StartSweeper(sweepInterval)

	limiter := ratelimit.New(cfg.RateLimit)
	limiter.StartSweeper(sweepInterval)
	defer limiter.Close()
	col.WatchRateLimiter(limiter.Stats)

	var execCache *sandbox.ResultCache
	if cfg.Exec.CacheEnabled {
		execCache, err = sandbox.NewResultCache(cfg.Exec.CacheDir, cfg.Exec.CacheTTL, log)
		if err != nil {
			return fmt.Errorf("%w: opening execution cache: %v", errConfig, err)
		}
		defer execCache.Close()
	}
	runner := sandbox.NewRunner(cfg.Exec, execCache, log)
	runner.SetHooks(col.SandboxHooks())

	catalog, err := prompts.NewCatalog(log)
	if err != nil {
		return err
	}
	if cfg.PromptsDir != "" {
		if err := catalog.LoadOverlay(cfg.PromptsDir); err != nil {
			return fmt.Errorf("%w: loading prompt overlay: %v", errConfig, err)
		}
		watcher, err := catalog.Watch(cfg.PromptsDir)
		if err != nil {
			log.Warn("prompt overlay watch unavailable",
				"dir", cfg.PromptsDir, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	registry, err := tools.NewRegistry(tools.Deps{
		Config:    cfg.Exec,
		Graph:     client,
		Validator: validation.NewDefault(),
		Runner:    runner,
		Audit:     auditTrail,
		Prompts:   catalog,
		Log:       log,
	})
	if err != nil {
		return err
	}

	mcpTransport, err := mcptransport.New(mcptransport.Options{
		Registry: registry,
		Audit:    auditTrail,
		Log:      log,
		Version:  version,
	})
	if err != nil {
		return err
	}

	router, err := routes.NewRouter(routes.Deps{
		Config:   cfg,
		Log:      log,
		Registry: registry,
		Graph:    client,
		Prompts:  catalog,
		Tokens:   tokens,
		Audit:    auditTrail,
		Limiter:  limiter,
		Breakers: breakers,
		Metrics:  telemetry.MetricsHandler(),
		MCP:      mcpTransport.Handler(),
		Tracing:  telemetry.Middleware(col),
		Version:  version,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// Execute calls run up to the sandbox timeout, so no write
		// deadline is set.
	}

	ux.Banner(serviceName, version, cfg.Server.Env, cfg.Addr())
	log.Info("server starting",
		"version", version,
		"env", cfg.Server.Env,
		"addr", cfg.Addr(),
		"languages", cfg.Exec.Languages,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Stop intake first, then drain the audit buffer while the graph
	// client is still up. Everything else closes via the defers.
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if err := auditTrail.Close(shCtx); err != nil {
		log.Warn("audit drain incomplete", "error", err)
	}
	log.Info("server stopped")
	return nil
}
