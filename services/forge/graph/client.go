// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/cache"
)

// defaultQueryTimeout bounds a single statement attempt.
const defaultQueryTimeout = 15 * time.Second

// defaultRowLimit caps rows returned by one read.
const defaultRowLimit = 10000

// Hooks lets the observability layer watch client activity without
// this package importing it. Nil funcs are skipped.
type Hooks struct {
	// OnRead fires after every read with its duration, whether it was
	// served from cache, and its error.
	OnRead func(d time.Duration, cached bool, err error)

	// OnWrite fires after every write.
	OnWrite func(d time.Duration, err error)

	// OnRetry fires before each retry wait with the attempt that just
	// failed.
	OnRetry func(attempt int)
}

// Options configures a Client. Zero values pick the documented
// defaults; nil breakers mean the corresponding direction is ungated.
type Options struct {
	Database     string
	Cache        *cache.Cache
	ReadBreaker  *breaker.Breaker
	WriteBreaker *breaker.Breaker
	Retry        RetryConfig
	RowLimit     int
	QueryTimeout time.Duration
	Logger       *logging.Logger
	Hooks        Hooks
}

// Client layers caching, circuit breaking, retry, and deadlines over
// an Executor. Safe for concurrent use.
type Client struct {
	exec         Executor
	database     string
	readCache    *cache.Cache
	readBreaker  *breaker.Breaker
	writeBreaker *breaker.Breaker
	retry        RetryConfig
	rowLimit     int
	queryTimeout time.Duration
	log          *logging.Logger
	hooks        Hooks

	reads         atomic.Int64
	writes        atomic.Int64
	readFailures  atomic.Int64
	writeFailures atomic.Int64
	retries       atomic.Int64
	cacheHits     atomic.Int64
}

// NewClient wraps an executor.
func NewClient(exec Executor, opts Options) *Client {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.RowLimit == 0 {
		opts.RowLimit = defaultRowLimit
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Client{
		exec:         exec,
		database:     opts.Database,
		readCache:    opts.Cache,
		readBreaker:  opts.ReadBreaker,
		writeBreaker: opts.WriteBreaker,
		retry:        opts.Retry,
		rowLimit:     opts.RowLimit,
		queryTimeout: opts.QueryTimeout,
		log:          opts.Logger,
		hooks:        opts.Hooks,
	}
}

// RowLimit returns the per-read row cap, for callers that report
// truncation to their own clients.
func (c *Client) RowLimit() int {
	return c.rowLimit
}

// ExecuteRead runs a read query. Pure queries that mention at least
// one label are served through the cache; everything else goes to the
// database. Rows beyond the row limit are dropped.
func (c *Client) ExecuteRead(ctx context.Context, query string, params map[string]any) (Rows, error) {
	start := time.Now()
	norm := normalizeQuery(query)
	labels := touchedLabels(norm)

	if c.readCache != nil && cacheable(norm, labels) {
		key := c.readCache.Key(c.database, norm, params, cacheLabels(labels))
		value, hit, err := c.readCache.Do(ctx, key, func(ctx context.Context) (any, error) {
			return c.readDirect(ctx, norm, params)
		})
		if err != nil {
			c.observeRead(start, false, err)
			return nil, err
		}
		if hit {
			c.cacheHits.Add(1)
		}
		c.observeRead(start, hit, nil)
		return value.(Rows), nil
	}

	rows, err := c.readDirect(ctx, norm, params)
	c.observeRead(start, false, err)
	return rows, err
}

// ExecuteWrite runs a single write statement. On success the version
// of every label the statement touches is bumped, retiring cached
// reads built before the write.
func (c *Client) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	start := time.Now()
	norm := normalizeQuery(query)

	_, err := c.writeDirect(ctx, norm, params)
	if err == nil && c.readCache != nil {
		c.readCache.BumpVersion(writeLabels(norm)...)
	}
	c.observeWrite(start, err)
	return err
}

// ExecuteWriteTx runs fn inside one transaction; everything commits or
// nothing does. On retry fn re-runs from the start, so its statements
// must be idempotent (MERGE, not CREATE). labels name what the
// transaction touches for cache invalidation; empty means "assume
// everything".
func (c *Client) ExecuteWriteTx(ctx context.Context, labels []string, fn func(tx Tx) error) error {
	start := time.Now()

	if c.writeBreaker != nil && !c.writeBreaker.Allow() {
		err := c.writeBreaker.OpenFault()
		c.writeFailures.Add(1)
		c.observeWrite(start, err)
		return err
	}

	_, err := retryDo(ctx, c.retry, c.retryHook, func(ctx context.Context, attempt int) error {
		if attempt > 1 && c.writeBreaker != nil && !c.writeBreaker.Allow() {
			return c.writeBreaker.OpenFault()
		}
		qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()

		err := c.exec.WriteTx(qctx, fn)
		c.settle(c.writeBreaker, err)
		return err
	})
	if err != nil {
		c.writeFailures.Add(1)
		c.observeWrite(start, err)
		return classifyErr(err)
	}

	c.writes.Add(1)
	if c.readCache != nil {
		if len(labels) == 0 {
			c.readCache.BumpVersion(guardLabel)
		} else {
			c.readCache.BumpVersion(labels...)
		}
	}
	c.observeWrite(start, nil)
	return nil
}

// Health reports whether the database answers a trivial read. It
// bypasses cache and breakers: health checks observe, they must not
// consume probe slots or mask an open breaker.
func (c *Client) Health(ctx context.Context) bool {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.exec.VerifyConnectivity(hctx); err != nil {
		return false
	}
	_, err := c.exec.Read(hctx, "RETURN 1 AS ok", nil)
	return err == nil
}

// Close releases the underlying executor.
func (c *Client) Close(ctx context.Context) error {
	return c.exec.Close(ctx)
}

// CountSummary describes graph contents for the status endpoint.
type CountSummary struct {
	Nodes             int64            `json:"nodes"`
	Relationships     int64            `json:"relationships"`
	Labels            map[string]int64 `json:"labels"`
	RelationshipTypes map[string]int64 `json:"relationship_types"`
}

// Metrics counts nodes and relationships by label and type.
func (c *Client) Metrics(ctx context.Context) (*CountSummary, error) {
	summary := &CountSummary{
		Labels:            make(map[string]int64),
		RelationshipTypes: make(map[string]int64),
	}

	rows, err := c.ExecuteRead(ctx, "MATCH (n) RETURN count(n) AS count", nil)
	if err != nil {
		return nil, err
	}
	summary.Nodes = countFrom(rows, "count")

	rows, err = c.ExecuteRead(ctx, "MATCH ()-[r]->() RETURN count(r) AS count", nil)
	if err != nil {
		return nil, err
	}
	summary.Relationships = countFrom(rows, "count")

	rows, err = c.ExecuteRead(ctx, "MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS occurrences", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if label, ok := row["label"].(string); ok {
			summary.Labels[label] = asInt64(row["occurrences"])
		}
	}

	rows, err = c.ExecuteRead(ctx, "MATCH ()-[r]->() RETURN type(r) AS rel_type, count(*) AS occurrences", nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if relType, ok := row["rel_type"].(string); ok {
			summary.RelationshipTypes[relType] = asInt64(row["occurrences"])
		}
	}

	return summary, nil
}

// Snapshot is a point-in-time view of client activity.
type Snapshot struct {
	Reads         int64 `json:"reads"`
	Writes        int64 `json:"writes"`
	ReadFailures  int64 `json:"read_failures"`
	WriteFailures int64 `json:"write_failures"`
	Retries       int64 `json:"retries"`
	CacheHits     int64 `json:"cache_hits"`
}

// Snapshot returns operation counters.
func (c *Client) Snapshot() Snapshot {
	return Snapshot{
		Reads:         c.reads.Load(),
		Writes:        c.writes.Load(),
		ReadFailures:  c.readFailures.Load(),
		WriteFailures: c.writeFailures.Load(),
		Retries:       c.retries.Load(),
		CacheHits:     c.cacheHits.Load(),
	}
}

// readDirect is the uncached read path: breaker, retry, deadline,
// row cap.
func (c *Client) readDirect(ctx context.Context, query string, params map[string]any) (Rows, error) {
	if c.readBreaker != nil && !c.readBreaker.Allow() {
		c.readFailures.Add(1)
		return nil, c.readBreaker.OpenFault()
	}

	var rows Rows
	_, err := retryDo(ctx, c.retry, c.retryHook, func(ctx context.Context, attempt int) error {
		if attempt > 1 && c.readBreaker != nil && !c.readBreaker.Allow() {
			return c.readBreaker.OpenFault()
		}
		qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()

		res, err := c.exec.Read(qctx, query, params)
		c.settle(c.readBreaker, err)
		if err != nil {
			return err
		}
		rows = res.Rows
		return nil
	})
	if err != nil {
		c.readFailures.Add(1)
		return nil, classifyErr(err)
	}

	c.reads.Add(1)
	if c.rowLimit > 0 && len(rows) > c.rowLimit {
		c.log.Warn("read truncated at row limit", "limit", c.rowLimit)
		rows = rows[:c.rowLimit]
	}
	return rows, nil
}

// writeDirect is the write path for a single statement.
func (c *Client) writeDirect(ctx context.Context, query string, params map[string]any) (*Result, error) {
	if c.writeBreaker != nil && !c.writeBreaker.Allow() {
		c.writeFailures.Add(1)
		return nil, c.writeBreaker.OpenFault()
	}

	var result *Result
	_, err := retryDo(ctx, c.retry, c.retryHook, func(ctx context.Context, attempt int) error {
		if attempt > 1 && c.writeBreaker != nil && !c.writeBreaker.Allow() {
			return c.writeBreaker.OpenFault()
		}
		qctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()

		res, err := c.exec.Write(qctx, query, params)
		c.settle(c.writeBreaker, err)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		c.writeFailures.Add(1)
		return nil, classifyErr(err)
	}

	c.writes.Add(1)
	return result, nil
}

// settle records the attempt outcome against a breaker. Errors that
// say nothing about dependency health count as success so client
// mistakes cannot open the circuit.
func (c *Client) settle(b *breaker.Breaker, err error) {
	if b == nil {
		return
	}
	if err != nil && dependencyFailure(err) {
		b.RecordFailure()
		return
	}
	b.RecordSuccess()
}

func (c *Client) retryHook(attempt int) {
	c.retries.Add(1)
	if c.hooks.OnRetry != nil {
		c.hooks.OnRetry(attempt)
	}
}

func (c *Client) observeRead(start time.Time, cached bool, err error) {
	if c.hooks.OnRead != nil {
		c.hooks.OnRead(time.Since(start), cached, err)
	}
}

func (c *Client) observeWrite(start time.Time, err error) {
	if c.hooks.OnWrite != nil {
		c.hooks.OnWrite(time.Since(start), err)
	}
}

func countFrom(rows Rows, key string) int64 {
	if len(rows) == 0 {
		return 0
	}
	return asInt64(rows[0][key])
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}
