// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates server configuration from the
// environment.
//
// Every tunable has a documented default; the zero-configuration
// development experience is `forge serve` against a local graph
// database. Validation happens once at startup and is fatal: a server
// that boots with a bad config is worse than one that refuses to.
//
// The token signing key is handled specially. Load captures it into a
// one-shot holder; the auth layer takes it (moving it into locked
// memory) and the config copy is wiped. After TakeSigningKey the key
// is gone from this struct.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Environment names. Development relaxes secret-strength checks.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ErrWeakSecret marks a signing key that fails strength checks outside
// development. The CLI maps it to its own exit code so operators can
// tell a weak secret from a malformed config.
var ErrWeakSecret = errors.New("signing key fails strength requirements")

// Config is the complete server configuration.
type Config struct {
	Server    Server
	Auth      Auth
	RateLimit RateLimit
	Graph     Graph
	Exec      Exec
	Cache     Cache
	Breaker   Breakers
	Log       Log
	Telemetry Telemetry

	// PromptsDir optionally overlays the embedded prompt catalog with
	// YAML files from a directory, reloaded on change. Empty disables
	// the overlay.
	PromptsDir string
}

// Server holds the HTTP listener settings.
type Server struct {
	// BindAddr is the listen host. Default: "0.0.0.0".
	BindAddr string

	// Port is the listen port. Default: 8000.
	Port int

	// Env is "development" or "production". Default: development.
	Env string

	// AllowedOrigins is the CORS allow-list. Empty means no
	// cross-origin browser access.
	AllowedOrigins []string

	// BodyMaxBytes caps request bodies before any parsing.
	// Default: 1048576 (1 MiB).
	BodyMaxBytes int64
}

// Auth holds token issuance and verification settings.
type Auth struct {
	// TokenTTL is the default lifetime of issued tokens.
	// Default: 24h.
	TokenTTL time.Duration

	// signingKey is raw key material, present only between Load and
	// TakeSigningKey.
	signingKey []byte
}

// TakeSigningKey returns the signing key and wipes the config copy.
// Second and later calls return nil. The caller owns the bytes and
// must move them into protected memory.
func (a *Auth) TakeSigningKey() []byte {
	key := a.signingKey
	a.signingKey = nil
	return key
}

// RateLimit holds the per-key admission windows.
type RateLimit struct {
	// PerMinute, PerHour, PerDay are fixed-window ceilings.
	// Defaults: 60, 1000, 10000.
	PerMinute int
	PerHour   int
	PerDay    int

	// Burst caps requests within any single second. Default: 10.
	Burst int
}

// Graph holds the graph database connection settings.
type Graph struct {
	// URI is the bolt endpoint. Default: "bolt://localhost:7687".
	URI string

	// User and Password authenticate the driver. Empty disables auth.
	User     string
	Password string

	// Database selects the database. Default: "neo4j".
	Database string

	// PoolMax bounds concurrent sessions.
	// Default: min(2*CPU+4, 100).
	PoolMax int

	// AcquireTimeout bounds the wait for a pooled connection.
	// Default: 5s.
	AcquireTimeout time.Duration

	// ConnLifetime recycles connections older than this. Default: 1h.
	ConnLifetime time.Duration

	// RowLimit caps rows returned by a single query. Default: 10000.
	RowLimit int
}

// Exec holds the sandbox settings.
type Exec struct {
	// Workers is the OS-process pool size W. Default: min(CPU, 4).
	Workers int

	// TimeoutMax is the per-execution wall-clock ceiling; requests
	// asking for more are clamped. Default: 30s.
	TimeoutMax time.Duration

	// MemBytes is the child address-space limit. Default: 268435456.
	MemBytes uint64

	// OutputBytes caps captured stdout and stderr, each.
	// Default: 102400.
	OutputBytes int

	// Languages enables interpreters. Valid entries: python,
	// javascript. Default: python only.
	Languages []string

	// CacheEnabled turns on execution-result caching keyed by code
	// hash. Default: false.
	CacheEnabled bool

	// CacheDir is the BadgerDB directory for the result cache. Empty
	// selects in-memory.
	CacheDir string

	// CacheTTL expires cached results. Default: 1h.
	CacheTTL time.Duration
}

// Cache holds the graph read-cache settings.
type Cache struct {
	// Capacity is the LRU entry ceiling. Default: 1024.
	Capacity int

	// TTL expires entries. Default: 5m.
	TTL time.Duration
}

// Breakers holds circuit breaker thresholds for the graph layer.
type Breakers struct {
	// Read trips after ReadFailures consecutive failures, closes after
	// ReadSuccesses probes, and waits ReadTimeout before probing.
	// Defaults: 5, 2, 30s.
	ReadFailures  int
	ReadSuccesses int
	ReadTimeout   time.Duration

	// Write thresholds are tighter. Defaults: 3, 2, 60s.
	WriteFailures  int
	WriteSuccesses int
	WriteTimeout   time.Duration
}

// Log holds logging settings.
type Log struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string

	// Format is json or text. Default: json.
	Format string

	// Dir enables file logging when set.
	Dir string
}

// Telemetry holds exporter selection.
type Telemetry struct {
	// TracesExporter is otlp, stdout, or none. Default: none.
	TracesExporter string

	// MetricsExporter is prometheus, stdout, or none.
	// Default: prometheus.
	MetricsExporter string

	// OTLPEndpoint is the collector target for the otlp exporter.
	// Default: "localhost:4317".
	OTLPEndpoint string

	// InsecureMemory permits falling back to unlocked memory for the
	// signing key when mlock limits are too low. Default: false.
	InsecureMemory bool

	// AnalyzerPath points at an external lint binary. Empty
	// auto-detects from PATH.
	AnalyzerPath string
}

// Default returns a Config with every default applied and no secret.
func Default() *Config {
	cpu := runtime.NumCPU()
	return &Config{
		Server: Server{
			BindAddr:     "0.0.0.0",
			Port:         8000,
			Env:          EnvDevelopment,
			BodyMaxBytes: 1 << 20,
		},
		Auth: Auth{
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimit{
			PerMinute: 60,
			PerHour:   1000,
			PerDay:    10000,
			Burst:     10,
		},
		Graph: Graph{
			URI:            "bolt://localhost:7687",
			Database:       "neo4j",
			PoolMax:        minInt(2*cpu+4, 100),
			AcquireTimeout: 5 * time.Second,
			ConnLifetime:   time.Hour,
			RowLimit:       10000,
		},
		Exec: Exec{
			Workers:     minInt(cpu, 4),
			TimeoutMax:  30 * time.Second,
			MemBytes:    256 << 20,
			OutputBytes: 100 << 10,
			Languages:   []string{"python"},
			CacheTTL:    time.Hour,
		},
		Cache: Cache{
			Capacity: 1024,
			TTL:      5 * time.Minute,
		},
		Breaker: Breakers{
			ReadFailures:   5,
			ReadSuccesses:  2,
			ReadTimeout:    30 * time.Second,
			WriteFailures:  3,
			WriteSuccesses: 2,
			WriteTimeout:   60 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		Telemetry: Telemetry{
			TracesExporter:  "none",
			MetricsExporter: "prometheus",
			OTLPEndpoint:    "localhost:4317",
		},
	}
}

// Load builds a Config from the environment on top of defaults. Parse
// failures and validation failures are both fatal; all problems are
// collected so operators see the complete list in one pass.
func Load() (*Config, error) {
	cfg := Default()
	var errs []error

	env := newEnvReader()

	cfg.Server.BindAddr = env.str("BIND_ADDR", cfg.Server.BindAddr)
	cfg.Server.Port = env.intval("PORT", cfg.Server.Port)
	cfg.Server.Env = env.str("ENV", cfg.Server.Env)
	cfg.Server.AllowedOrigins = env.list("ALLOWED_ORIGINS")
	cfg.Server.BodyMaxBytes = env.int64val("BODY_MAX_BYTES", cfg.Server.BodyMaxBytes)

	cfg.Auth.signingKey = []byte(env.str("AUTH_SIGNING_KEY", ""))
	cfg.Auth.TokenTTL = env.hours("AUTH_TOKEN_TTL_HOURS", cfg.Auth.TokenTTL)

	cfg.RateLimit.PerMinute = env.intval("RATE_LIMIT_PER_MINUTE", cfg.RateLimit.PerMinute)
	cfg.RateLimit.PerHour = env.intval("RATE_LIMIT_PER_HOUR", cfg.RateLimit.PerHour)
	cfg.RateLimit.PerDay = env.intval("RATE_LIMIT_PER_DAY", cfg.RateLimit.PerDay)
	cfg.RateLimit.Burst = env.intval("RATE_LIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Graph.URI = env.str("GRAPH_URI", cfg.Graph.URI)
	cfg.Graph.User = env.str("GRAPH_USER", "")
	cfg.Graph.Password = env.str("GRAPH_PASSWORD", "")
	cfg.Graph.Database = env.str("GRAPH_DATABASE", cfg.Graph.Database)
	cfg.Graph.PoolMax = env.intval("POOL_MAX", cfg.Graph.PoolMax)
	cfg.Graph.AcquireTimeout = env.seconds("POOL_ACQ_TIMEOUT_S", cfg.Graph.AcquireTimeout)
	cfg.Graph.ConnLifetime = env.seconds("CONN_LIFETIME_S", cfg.Graph.ConnLifetime)
	cfg.Graph.RowLimit = env.intval("GRAPH_ROW_LIMIT", cfg.Graph.RowLimit)

	cfg.Exec.Workers = env.intval("EXEC_WORKERS", cfg.Exec.Workers)
	cfg.Exec.TimeoutMax = env.seconds("EXEC_TIMEOUT_S_MAX", cfg.Exec.TimeoutMax)
	cfg.Exec.MemBytes = env.uint64val("EXEC_MEM_BYTES", cfg.Exec.MemBytes)
	cfg.Exec.OutputBytes = env.intval("EXEC_OUTPUT_BYTES", cfg.Exec.OutputBytes)
	if langs := env.list("EXEC_LANGUAGES"); len(langs) > 0 {
		cfg.Exec.Languages = langs
	}
	cfg.Exec.CacheEnabled = env.boolean("EXEC_CACHE", cfg.Exec.CacheEnabled)
	cfg.Exec.CacheDir = env.str("EXEC_CACHE_DIR", "")
	cfg.Exec.CacheTTL = env.seconds("EXEC_CACHE_TTL_S", cfg.Exec.CacheTTL)

	cfg.Cache.Capacity = env.intval("CACHE_CAPACITY", cfg.Cache.Capacity)
	cfg.Cache.TTL = env.seconds("CACHE_TTL_S", cfg.Cache.TTL)

	cfg.Breaker.ReadFailures = env.intval("BREAKER_READ_F", cfg.Breaker.ReadFailures)
	cfg.Breaker.ReadSuccesses = env.intval("BREAKER_READ_S", cfg.Breaker.ReadSuccesses)
	cfg.Breaker.ReadTimeout = env.seconds("BREAKER_READ_T", cfg.Breaker.ReadTimeout)
	cfg.Breaker.WriteFailures = env.intval("BREAKER_WRITE_F", cfg.Breaker.WriteFailures)
	cfg.Breaker.WriteSuccesses = env.intval("BREAKER_WRITE_S", cfg.Breaker.WriteSuccesses)
	cfg.Breaker.WriteTimeout = env.seconds("BREAKER_WRITE_T", cfg.Breaker.WriteTimeout)

	cfg.Log.Level = env.str("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = env.str("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Dir = env.str("LOG_DIR", "")

	cfg.Telemetry.TracesExporter = env.str("OTEL_TRACES_EXPORTER", cfg.Telemetry.TracesExporter)
	cfg.Telemetry.MetricsExporter = env.str("OTEL_METRICS_EXPORTER", cfg.Telemetry.MetricsExporter)
	cfg.Telemetry.OTLPEndpoint = env.str("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.InsecureMemory = env.boolean("INSECURE_MEMORY", false)
	cfg.Telemetry.AnalyzerPath = env.str("ANALYZER_PATH", "")

	cfg.PromptsDir = env.str("PROMPTS_DIR", "")

	errs = append(errs, env.errs...)
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks ranges and enumerations. It does not clamp; bad
// values are reported so the operator fixes the environment.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range 1..65535", c.Server.Port))
	}
	if c.Server.Env != EnvDevelopment && c.Server.Env != EnvProduction {
		errs = append(errs, fmt.Errorf("ENV %q must be development or production", c.Server.Env))
	}
	if c.Server.BodyMaxBytes < 1024 {
		errs = append(errs, fmt.Errorf("BODY_MAX_BYTES %d below minimum 1024", c.Server.BodyMaxBytes))
	}

	if c.Server.Env != EnvDevelopment {
		if err := checkSecretStrength(c.Auth.signingKey); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Auth.TokenTTL < time.Minute {
		errs = append(errs, fmt.Errorf("AUTH_TOKEN_TTL_HOURS yields %v, below minimum 1m", c.Auth.TokenTTL))
	}

	for _, pair := range []struct {
		name string
		v    int
	}{
		{"RATE_LIMIT_PER_MINUTE", c.RateLimit.PerMinute},
		{"RATE_LIMIT_PER_HOUR", c.RateLimit.PerHour},
		{"RATE_LIMIT_PER_DAY", c.RateLimit.PerDay},
		{"RATE_LIMIT_BURST", c.RateLimit.Burst},
		{"POOL_MAX", c.Graph.PoolMax},
		{"GRAPH_ROW_LIMIT", c.Graph.RowLimit},
		{"EXEC_WORKERS", c.Exec.Workers},
		{"EXEC_OUTPUT_BYTES", c.Exec.OutputBytes},
		{"CACHE_CAPACITY", c.Cache.Capacity},
		{"BREAKER_READ_F", c.Breaker.ReadFailures},
		{"BREAKER_READ_S", c.Breaker.ReadSuccesses},
		{"BREAKER_WRITE_F", c.Breaker.WriteFailures},
		{"BREAKER_WRITE_S", c.Breaker.WriteSuccesses},
	} {
		if pair.v < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", pair.name, pair.v))
		}
	}

	if c.Graph.URI == "" {
		errs = append(errs, errors.New("GRAPH_URI must not be empty"))
	}
	if c.Graph.AcquireTimeout < time.Second {
		errs = append(errs, fmt.Errorf("POOL_ACQ_TIMEOUT_S yields %v, below minimum 1s", c.Graph.AcquireTimeout))
	}

	if c.Exec.TimeoutMax < time.Second {
		errs = append(errs, fmt.Errorf("EXEC_TIMEOUT_S_MAX yields %v, below minimum 1s", c.Exec.TimeoutMax))
	}
	if c.Exec.MemBytes < 16<<20 {
		errs = append(errs, fmt.Errorf("EXEC_MEM_BYTES %d below minimum 16 MiB", c.Exec.MemBytes))
	}
	for _, lang := range c.Exec.Languages {
		if lang != "python" && lang != "javascript" {
			errs = append(errs, fmt.Errorf("EXEC_LANGUAGES entry %q is not python or javascript", lang))
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", c.Log.Format))
	}

	switch c.Telemetry.TracesExporter {
	case "otlp", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("OTEL_TRACES_EXPORTER %q must be otlp, stdout, or none", c.Telemetry.TracesExporter))
	}
	switch c.Telemetry.MetricsExporter {
	case "prometheus", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("OTEL_METRICS_EXPORTER %q must be prometheus, stdout, or none", c.Telemetry.MetricsExporter))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddr, c.Server.Port)
}

// checkSecretStrength rejects keys an attacker could guess: empty,
// short, the placeholder shipped in setup docs, or a single repeated
// byte.
func checkSecretStrength(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: AUTH_SIGNING_KEY not set", ErrWeakSecret)
	}
	if len(key) < 32 {
		return fmt.Errorf("%w: %d bytes, need at least 32", ErrWeakSecret, len(key))
	}
	lowered := strings.ToLower(string(key))
	if strings.HasPrefix(lowered, "change-me") || strings.HasPrefix(lowered, "changeme") {
		return fmt.Errorf("%w: placeholder value", ErrWeakSecret)
	}
	uniform := true
	for _, b := range key[1:] {
		if b != key[0] {
			uniform = false
			break
		}
	}
	if uniform {
		return fmt.Errorf("%w: single repeated byte", ErrWeakSecret)
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
