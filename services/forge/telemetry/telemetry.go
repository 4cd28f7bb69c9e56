// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires the process-global OpenTelemetry providers
// and the Prometheus collectors for the forge service.
//
// Init installs a tracer provider (OTLP gRPC, stdout, or none), a
// meter provider (Prometheus, stdout, or none), and the W3C
// trace-context propagator. When the Prometheus exporter is selected,
// MetricsHandler returns the scrape endpoint and Metrics returns
// collectors registered on the same registry, so everything lands on
// one /metrics page.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
)

const serviceName = "aleutian-forge"

// Exporter names accepted by Init.
const (
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// ErrUnknownExporter reports an exporter name Init does not recognize.
var ErrUnknownExporter = errors.New("unknown exporter")

// Options selects exporters for the process-global providers. Zero
// values pick the documented defaults.
type Options struct {
	// ServiceVersion tags the emitted resource. Default: "dev".
	ServiceVersion string

	// Environment is the deployment.environment resource attribute.
	// Default: development.
	Environment string

	// TracesExporter is otlp, stdout, or none. Default: none.
	TracesExporter string

	// MetricsExporter is prometheus, stdout, or none.
	// Default: prometheus.
	MetricsExporter string

	// OTLPEndpoint is the collector target for the otlp exporter,
	// dialed without TLS. Default: "localhost:4317".
	OTLPEndpoint string
}

// FromConfig maps the server configuration onto exporter options.
func FromConfig(cfg *config.Config, version string) Options {
	return Options{
		ServiceVersion:  version,
		Environment:     cfg.Server.Env,
		TracesExporter:  cfg.Telemetry.TracesExporter,
		MetricsExporter: cfg.Telemetry.MetricsExporter,
		OTLPEndpoint:    cfg.Telemetry.OTLPEndpoint,
	}
}

func (o Options) withDefaults() Options {
	if o.ServiceVersion == "" {
		o.ServiceVersion = "dev"
	}
	if o.Environment == "" {
		o.Environment = config.EnvDevelopment
	}
	if o.TracesExporter == "" {
		o.TracesExporter = ExporterNone
	}
	if o.MetricsExporter == "" {
		o.MetricsExporter = ExporterPrometheus
	}
	if o.OTLPEndpoint == "" {
		o.OTLPEndpoint = "localhost:4317"
	}
	return o
}

// published holds what the active Init produced. Collectors built
// before Init record into a registry nothing scrapes, so instrumented
// code never needs a nil check.
var published = struct {
	mu      sync.RWMutex
	handler http.Handler
	metrics *Collectors
}{metrics: NewCollectors(prometheus.NewRegistry())}

func publish(h http.Handler, m *Collectors) {
	published.mu.Lock()
	defer published.mu.Unlock()
	published.handler = h
	published.metrics = m
}

// MetricsHandler returns the scrape endpoint, or nil unless Init
// selected the prometheus exporter.
func MetricsHandler() http.Handler {
	published.mu.RLock()
	defer published.mu.RUnlock()
	return published.handler
}

// Metrics returns the collectors installed by Init.
func Metrics() *Collectors {
	published.mu.RLock()
	defer published.mu.RUnlock()
	return published.metrics
}

// Init installs the global tracer and meter providers and the W3C
// propagator. The returned shutdown flushes and stops every exporter
// that was started; callers must invoke it on exit. Call once at
// startup.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	opts = opts.withDefaults()

	var closers []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range closers {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", serviceName),
		attribute.String("service.version", opts.ServiceVersion),
		attribute.String("deployment.environment", opts.Environment),
	)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if opts.TracesExporter != ExporterNone {
		tp, tpClosers, err := newTracerProvider(ctx, opts, res)
		if err != nil {
			return nil, fmt.Errorf("traces exporter %q: %w", opts.TracesExporter, err)
		}
		otel.SetTracerProvider(tp)
		closers = append(closers, tpClosers...)
	}

	switch opts.MetricsExporter {
	case ExporterNone:
		publish(nil, NewCollectors(prometheus.NewRegistry()))

	case ExporterPrometheus:
		// The otel exporter and the native collectors share one
		// registry so a single handler serves both.
		registry := prometheus.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("metrics exporter %q: %w", opts.MetricsExporter, err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exp),
		)
		otel.SetMeterProvider(mp)
		closers = append(closers, mp.Shutdown)
		if err := observeUptime(); err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("metrics exporter %q: %w", opts.MetricsExporter, err)
		}
		publish(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), NewCollectors(registry))

	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("metrics exporter %q: %w", opts.MetricsExporter, err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		)
		otel.SetMeterProvider(mp)
		closers = append(closers, mp.Shutdown)
		if err := observeUptime(); err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("metrics exporter %q: %w", opts.MetricsExporter, err)
		}
		publish(nil, NewCollectors(prometheus.NewRegistry()))

	default:
		_ = shutdown(ctx)
		return nil, fmt.Errorf("metrics exporter %q: %w", opts.MetricsExporter, ErrUnknownExporter)
	}

	return shutdown, nil
}

// observeUptime registers an observable uptime gauge on the meter
// provider Init just installed.
func observeUptime() error {
	started := time.Now()
	meter := otel.Meter(serviceName)
	uptime, err := meter.Float64ObservableGauge("forge.uptime",
		metric.WithUnit("s"),
		metric.WithDescription("Seconds since telemetry initialization."))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(started).Seconds())
		return nil
	}, uptime)
	return err
}

func newTracerProvider(ctx context.Context, opts Options, res *resource.Resource) (*sdktrace.TracerProvider, []func(context.Context) error, error) {
	var (
		exporter sdktrace.SpanExporter
		closers  []func(context.Context) error
	)

	switch opts.TracesExporter {
	case ExporterOTLP:
		conn, err := grpc.NewClient(opts.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dialing collector: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		closers = append(closers, func(context.Context) error { return conn.Close() })

	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		exporter = exp

	default:
		return nil, nil, ErrUnknownExporter
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	// The provider flushes through the conn, so it shuts down first.
	closers = append([]func(context.Context) error{tp.Shutdown}, closers...)
	return tp, closers, nil
}

// Middleware returns the span and request-metrics middleware for the
// router, in mounting order. With no tracer provider installed the
// span layer is a no-op.
func Middleware(c *Collectors) []gin.HandlerFunc {
	return []gin.HandlerFunc{otelgin.Middleware(serviceName), c.HTTPMetrics()}
}
