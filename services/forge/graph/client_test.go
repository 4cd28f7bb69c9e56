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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/breaker"
	"github.com/AleutianAI/AleutianForge/services/forge/cache"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

type fakeExecutor struct {
	mu      sync.Mutex
	reads   int
	writes  int
	txs     int
	readFn  func(query string, params map[string]any) (*Result, error)
	writeFn func(query string, params map[string]any) (*Result, error)
	txFn    func(fn func(tx Tx) error) error
	connErr error
}

func (f *fakeExecutor) Read(_ context.Context, query string, params map[string]any) (*Result, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	if f.readFn != nil {
		return f.readFn(query, params)
	}
	return &Result{}, nil
}

func (f *fakeExecutor) Write(_ context.Context, query string, params map[string]any) (*Result, error) {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
	if f.writeFn != nil {
		return f.writeFn(query, params)
	}
	return &Result{}, nil
}

func (f *fakeExecutor) WriteTx(_ context.Context, fn func(tx Tx) error) error {
	f.mu.Lock()
	f.txs++
	f.mu.Unlock()
	if f.txFn != nil {
		return f.txFn(fn)
	}
	return fn(fakeTx{})
}

func (f *fakeExecutor) VerifyConnectivity(context.Context) error { return f.connErr }

func (f *fakeExecutor) Close(context.Context) error { return nil }

func (f *fakeExecutor) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeTx struct{}

func (fakeTx) Run(context.Context, string, map[string]any) (*Result, error) {
	return &Result{}, nil
}

// fastRetry keeps test retries instant.
func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func transientErr() error {
	return &neo4j.Neo4jError{Code: "Neo.TransientError.General.TransactionMemoryLimit", Msg: "busy"}
}

func syntaxErr() error {
	return &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError", Msg: "bad cypher"}
}

func TestClient_ExecuteReadReturnsRows(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			return &Result{Rows: Rows{{"name": "core"}}}, nil
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry()})

	rows, err := c.ExecuteRead(context.Background(), "MATCH (m:Module) RETURN m.name AS name", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "core", rows[0]["name"])
	assert.Equal(t, int64(1), c.Snapshot().Reads)
}

func TestClient_ExecuteReadCachesLabeledQueries(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			return &Result{Rows: Rows{{"n": int64(1)}}}, nil
		},
	}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
	})

	query := "MATCH (m:Module) RETURN count(m) AS n"
	for i := 0; i < 3; i++ {
		_, err := c.ExecuteRead(context.Background(), query, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, exec.readCount(), "repeat reads should come from cache")
	assert.Equal(t, int64(2), c.Snapshot().CacheHits)
}

func TestClient_ExecuteReadSkipsCacheWithoutLabels(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
	})

	for i := 0; i < 2; i++ {
		_, err := c.ExecuteRead(context.Background(), "RETURN 1 AS n", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, exec.readCount(), "label-free queries must not cache")
}

func TestClient_WriteInvalidatesCachedReadsOnSameLabel(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
	})
	ctx := context.Background()
	query := "MATCH (m:Module) RETURN m"

	_, err := c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)
	_, err = c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)
	require.Equal(t, 1, exec.readCount())

	err = c.ExecuteWrite(ctx, "MERGE (m:Module {name: $name})", map[string]any{"name": "core"})
	require.NoError(t, err)

	_, err = c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, exec.readCount(), "write to Module should retire the cached read")
}

func TestClient_LabelFreeWriteInvalidatesEverything(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
	})
	ctx := context.Background()
	query := "MATCH (m:Module) RETURN m"

	_, err := c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)

	err = c.ExecuteWrite(ctx, "MATCH (n) DETACH DELETE n", nil)
	require.NoError(t, err)

	_, err = c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, exec.readCount(), "label-free write should retire every cached read")
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	var calls int
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			calls++
			if calls < 3 {
				return nil, transientErr()
			}
			return &Result{Rows: Rows{{"ok": true}}}, nil
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry()})

	rows, err := c.ExecuteRead(context.Background(), "MATCH (m:Module) RETURN m", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), c.Snapshot().Retries)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			return nil, syntaxErr()
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry()})

	_, err := c.ExecuteRead(context.Background(), "MATCH (m:Module RETURN", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
	assert.Equal(t, 1, exec.readCount(), "client errors must not be retried")
}

func TestClient_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			return nil, errors.New("driver exploded")
		},
	}
	rb := breaker.New("graph-read", breaker.Config{
		FailureThreshold:  2,
		ResetTimeout:      time.Minute,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}, nil)
	c := NewClient(exec, Options{
		Retry:       RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1},
		ReadBreaker: rb,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.ExecuteRead(ctx, "MATCH (m:Module) RETURN m", nil)
		require.Error(t, err)
	}
	require.Equal(t, breaker.StateOpen, rb.State())

	before := exec.readCount()
	_, err := c.ExecuteRead(ctx, "MATCH (m:Module) RETURN m", nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindDependencyUnavailable))
	assert.Equal(t, before, exec.readCount(), "open breaker must short-circuit")
}

func TestClient_SyntaxErrorDoesNotTripBreaker(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			return nil, syntaxErr()
		},
	}
	rb := breaker.New("graph-read", breaker.Config{
		FailureThreshold:  1,
		ResetTimeout:      time.Minute,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}, nil)
	c := NewClient(exec, Options{
		Retry:       RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1},
		ReadBreaker: rb,
	})

	for i := 0; i < 3; i++ {
		_, err := c.ExecuteRead(context.Background(), "MATCH (m:Module RETURN", nil)
		require.Error(t, err)
	}

	assert.Equal(t, breaker.StateClosed, rb.State(), "query mistakes say nothing about database health")
	assert.Equal(t, 3, exec.readCount())
}

func TestClient_RowLimitTruncates(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			rows := make(Rows, 10)
			for i := range rows {
				rows[i] = Row{"i": int64(i)}
			}
			return &Result{Rows: rows}, nil
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry(), RowLimit: 4})

	rows, err := c.ExecuteRead(context.Background(), "RETURN 1", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestClient_ExecuteWriteTxBumpsProvidedLabels(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
	})
	ctx := context.Background()
	query := "MATCH (m:Module) RETURN m"

	_, err := c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)

	err = c.ExecuteWriteTx(ctx, []string{"Module"}, func(tx Tx) error {
		_, err := tx.Run(ctx, "MERGE (m:Module {name: 'core'})", nil)
		return err
	})
	require.NoError(t, err)

	_, err = c.ExecuteRead(ctx, query, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, exec.readCount())
}

func TestClient_ExecuteWriteTxRollsBackOnError(t *testing.T) {
	boom := errors.New("validation failed mid-transaction")
	exec := &fakeExecutor{
		txFn: func(fn func(tx Tx) error) error {
			return fn(fakeTx{})
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry()})

	err := c.ExecuteWriteTx(context.Background(), nil, func(Tx) error {
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), c.Snapshot().WriteFailures)
}

func TestClient_Metrics(t *testing.T) {
	exec := &fakeExecutor{
		readFn: func(query string, _ map[string]any) (*Result, error) {
			switch {
			case strings.Contains(query, "UNWIND labels"):
				return &Result{Rows: Rows{
					{"label": "Module", "occurrences": int64(7)},
					{"label": "AuditEvent", "occurrences": int64(3)},
				}}, nil
			case strings.Contains(query, "type(r)"):
				return &Result{Rows: Rows{{"rel_type": "DEPENDS_ON", "occurrences": int64(4)}}}, nil
			case strings.Contains(query, "count(r)"):
				return &Result{Rows: Rows{{"count": int64(4)}}}, nil
			default:
				return &Result{Rows: Rows{{"count": int64(10)}}}, nil
			}
		},
	}
	c := NewClient(exec, Options{Retry: fastRetry()})

	m, err := c.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), m.Nodes)
	assert.Equal(t, int64(4), m.Relationships)
	assert.Equal(t, int64(7), m.Labels["Module"])
	assert.Equal(t, int64(4), m.RelationshipTypes["DEPENDS_ON"])
}

func TestClient_Health(t *testing.T) {
	exec := &fakeExecutor{}
	c := NewClient(exec, Options{Retry: fastRetry()})
	assert.True(t, c.Health(context.Background()))

	exec.connErr = errors.New("refused")
	assert.False(t, c.Health(context.Background()))
}

func TestClient_HooksFire(t *testing.T) {
	var mu sync.Mutex
	var readCached []bool
	var writeErrs []error
	var retryAttempts []int

	var calls int
	exec := &fakeExecutor{
		readFn: func(string, map[string]any) (*Result, error) {
			calls++
			if calls == 1 {
				return nil, transientErr()
			}
			return &Result{Rows: Rows{{"n": int64(1)}}}, nil
		},
	}
	c := NewClient(exec, Options{
		Retry: fastRetry(),
		Cache: cache.New(64, time.Minute),
		Hooks: Hooks{
			OnRead: func(_ time.Duration, cached bool, _ error) {
				mu.Lock()
				readCached = append(readCached, cached)
				mu.Unlock()
			},
			OnWrite: func(_ time.Duration, err error) {
				mu.Lock()
				writeErrs = append(writeErrs, err)
				mu.Unlock()
			},
			OnRetry: func(attempt int) {
				mu.Lock()
				retryAttempts = append(retryAttempts, attempt)
				mu.Unlock()
			},
		},
	})
	ctx := context.Background()

	_, err := c.ExecuteRead(ctx, "MATCH (m:Module) RETURN count(m) AS n", nil)
	require.NoError(t, err)
	_, err = c.ExecuteRead(ctx, "MATCH (m:Module) RETURN count(m) AS n", nil)
	require.NoError(t, err)
	require.NoError(t, c.ExecuteWrite(ctx, "MERGE (m:Module {name: 'x'})", nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, readCached)
	assert.Len(t, writeErrs, 1)
	assert.NoError(t, writeErrs[0])
	assert.Equal(t, []int{1}, retryAttempts)
}
