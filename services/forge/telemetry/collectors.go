// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/cache"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
	"github.com/AleutianAI/AleutianForge/services/forge/sandbox"
)

const (
	namespace = "aleutian"
	subsystem = "forge"
)

// Collectors holds the native Prometheus instruments for the service.
// The Watch and hook helpers connect them to the packages that produce
// the numbers without those packages importing this one.
type Collectors struct {
	factory promauto.Factory

	// HTTPRequests counts finished requests by method, path, status.
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration records request wall time in seconds.
	HTTPDuration *prometheus.HistogramVec

	// HTTPActive tracks in-flight requests by method and path.
	HTTPActive *prometheus.GaugeVec

	// Executions counts sandbox runs by language and outcome.
	Executions *prometheus.CounterVec

	// ExecutionDuration records sandbox run wall time in seconds.
	ExecutionDuration *prometheus.HistogramVec

	// GraphQueries counts graph operations by kind and outcome.
	GraphQueries *prometheus.CounterVec

	// GraphQueryDuration records graph operation wall time in seconds.
	GraphQueryDuration *prometheus.HistogramVec

	// GraphRetries counts retried graph attempts.
	GraphRetries prometheus.Counter

	// BreakerState mirrors each breaker: 0 closed, 1 open, 2 half-open.
	BreakerState *prometheus.GaugeVec
}

// NewCollectors registers the service instruments with reg. A nil reg
// leaves them unregistered, which is useful for throwaway instances.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		factory: f,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Finished HTTP requests.",
		}, []string{"method", "path", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path", "status"}),

		HTTPActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_active_requests",
			Help:      "In-flight HTTP requests.",
		}, []string{"method", "path"}),

		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executions_total",
			Help:      "Sandbox executions.",
		}, []string{"language", "outcome"}),

		ExecutionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"language", "outcome"}),

		GraphQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "graph_queries_total",
			Help:      "Graph operations.",
		}, []string{"kind", "outcome"}),

		GraphQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "graph_query_duration_seconds",
			Help:      "Graph operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind", "outcome"}),

		GraphRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "graph_retries_total",
			Help:      "Retried graph attempts.",
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
	}
}

// HTTPMetrics returns middleware that feeds the request instruments.
// Requests are labeled by route template, not raw URL, so path
// cardinality stays bounded; unmatched requests share one label.
func (c *Collectors) HTTPMetrics() gin.HandlerFunc {
	return func(g *gin.Context) {
		start := time.Now()
		method := g.Request.Method
		path := g.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.HTTPActive.WithLabelValues(method, path).Inc()
		defer func() {
			c.HTTPActive.WithLabelValues(method, path).Dec()
			status := strconv.Itoa(g.Writer.Status())
			c.HTTPRequests.WithLabelValues(method, path, status).Inc()
			c.HTTPDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		}()

		g.Next()
	}
}

// GraphHooks returns hooks for graph.Options that feed the query
// instruments. Cache hits count under outcome "cached".
func (c *Collectors) GraphHooks() graph.Hooks {
	observe := func(kind, outcome string, d time.Duration) {
		c.GraphQueries.WithLabelValues(kind, outcome).Inc()
		c.GraphQueryDuration.WithLabelValues(kind, outcome).Observe(d.Seconds())
	}
	return graph.Hooks{
		OnRead: func(d time.Duration, cached bool, err error) {
			switch {
			case err != nil:
				observe("read", "error", d)
			case cached:
				observe("read", "cached", d)
			default:
				observe("read", "ok", d)
			}
		},
		OnWrite: func(d time.Duration, err error) {
			if err != nil {
				observe("write", "error", d)
				return
			}
			observe("write", "ok", d)
		},
		OnRetry: func(int) { c.GraphRetries.Inc() },
	}
}

// SandboxHooks returns hooks for the execution runner.
func (c *Collectors) SandboxHooks() sandbox.Hooks {
	return sandbox.Hooks{
		OnRun: func(language, outcome string, d time.Duration) {
			c.Executions.WithLabelValues(language, outcome).Inc()
			c.ExecutionDuration.WithLabelValues(language, outcome).Observe(d.Seconds())
		},
	}
}

// OnBreakerChange returns a callback for breaker.New that mirrors
// state transitions into the breaker gauge.
func (c *Collectors) OnBreakerChange() func(breaker.StateChange) {
	return func(ch breaker.StateChange) {
		c.BreakerState.WithLabelValues(ch.Name).Set(stateValue(ch.To))
	}
}

// SetBreakerState records b's current state. Breakers start closed and
// only report transitions, so call this once after construction to
// make the series exist before the first trip.
func (c *Collectors) SetBreakerState(b *breaker.Breaker) {
	c.BreakerState.WithLabelValues(b.Name()).Set(stateValue(b.State()))
}

func stateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// WatchCache exports a cache's counters under the given name. stats is
// read at scrape time and must be safe for concurrent use.
func (c *Collectors) WatchCache(name string, stats func() cache.Stats) {
	labels := prometheus.Labels{"cache": name}
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "cache_hits_total",
		Help:        "Cache hits.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Hits) })
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "cache_misses_total",
		Help:        "Cache misses.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Misses) })
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "cache_evictions_total",
		Help:        "Cache evictions, capacity and expiry together.",
		ConstLabels: labels,
	}, func() float64 {
		s := stats()
		return float64(s.Evictions + s.Expirations)
	})
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        "cache_entries",
		Help:        "Live cache entries.",
		ConstLabels: labels,
	}, func() float64 { return float64(stats().Entries) })
}

// WatchRateLimiter exports the limiter's rejection counter.
func (c *Collectors) WatchRateLimiter(stats func() ratelimit.Stats) {
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, func() float64 { return float64(stats().Rejected) })
}

// WatchAuditTrail exports trail write and drop counters.
func (c *Collectors) WatchAuditTrail(stats func() audit.Stats) {
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "audit_events_total",
		Help:      "Audit events written to the trail.",
	}, func() float64 { return float64(stats().Written) })
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "audit_drops_total",
		Help:      "Audit events dropped because the trail buffer was full.",
	}, func() float64 { return float64(stats().Dropped) })
}
