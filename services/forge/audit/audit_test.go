// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

type fakeBackend struct {
	mu         sync.Mutex
	writes     []map[string]any
	writeErr   error
	block      chan struct{}
	rows       graph.Rows
	readErr    error
	readParams map[string]any
}

func (f *fakeBackend) ExecuteWrite(_ context.Context, _ string, params map[string]any) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, params)
	return nil
}

func (f *fakeBackend) ExecuteRead(_ context.Context, _ string, params map[string]any) (graph.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readParams = params
	return f.rows, f.readErr
}

func (f *fakeBackend) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestWriter_RecordPersistsEvent(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, 8, quietLogger())
	defer w.Close(context.Background())

	e := CodeExecution("alice", "corr-1", "abc123", "python", true, 12, false)
	w.Record(e)
	require.NoError(t, w.Flush(context.Background()))

	require.Equal(t, 1, backend.writeCount())
	params := backend.writes[0]
	assert.Equal(t, e.ID, params["id"])
	assert.Equal(t, "code_exec", params["type"])
	assert.Equal(t, "alice", params["user_id"])
	assert.Equal(t, "info", params["severity"])
	assert.Equal(t, "corr-1", params["correlation_id"])
	assert.JSONEq(t,
		`{"code_hash":"abc123","language":"python","success":true,"duration_ms":12,"cache_hit":false}`,
		params["attributes"].(string))
	assert.Equal(t, int64(1), w.Stats().Written)
}

func TestWriter_RecordNeverBlocks(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{})}
	w := NewWriter(backend, 2, quietLogger())

	// One event occupies the worker, two fill the buffer; the rest
	// must drop instead of stalling the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 6; i++ {
			w.Record(Authentication(true, "alice", "10.0.0.1", "", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Greater(t, w.Stats().Dropped, int64(0))

	close(backend.block)
	require.NoError(t, w.Close(context.Background()))
}

func TestWriter_FlushWaitsForPriorEvents(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, 16, quietLogger())
	defer w.Close(context.Background())

	for i := 0; i < 5; i++ {
		w.Record(GraphRead("alice", "", "1 rows"))
	}
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, 5, backend.writeCount())
}

func TestWriter_PersistFailureDegrades(t *testing.T) {
	backend := &fakeBackend{writeErr: errors.New("graph down")}
	w := NewWriter(backend, 8, quietLogger())
	defer w.Close(context.Background())

	w.Record(GraphWrite("alice", "", "3 nodes created"))
	require.NoError(t, w.Flush(context.Background()))

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Degraded)
	assert.Equal(t, int64(0), stats.Written)
}

func TestWriter_LogOnlyMode(t *testing.T) {
	w := NewWriter(nil, 8, quietLogger())
	defer w.Close(context.Background())

	w.Record(RateLimited("alice", "corr", "user:alice", "minute"))
	require.NoError(t, w.Flush(context.Background()))
	assert.Equal(t, int64(1), w.Stats().Degraded)

	_, err := w.Query(context.Background(), Filter{})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindDependencyUnavailable))
}

func TestWriter_CloseDrainsBuffer(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, 32, quietLogger())

	for i := 0; i < 10; i++ {
		w.Record(Authorization("alice", "", "tools", "execute", false, nil))
	}
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 10, backend.writeCount())
}

func TestWriter_Query(t *testing.T) {
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		rows: graph.Rows{
			{
				"id":             "ev-1",
				"type":           "security_violation",
				"timestamp":      at.UnixMilli(),
				"user_id":        "mallory",
				"severity":       "critical",
				"correlation_id": "corr-9",
				"attributes":     `{"pattern":"os.system"}`,
			},
		},
	}
	w := NewWriter(backend, 8, quietLogger())
	defer w.Close(context.Background())

	events, err := w.Query(context.Background(), Filter{Type: TypeSecurityViolation, UserID: "mallory"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "ev-1", e.ID)
	assert.Equal(t, TypeSecurityViolation, e.Type)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, "mallory", e.UserID)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.Equal(t, map[string]any{"pattern": "os.system"}, e.Attributes)

	assert.Equal(t, "security_violation", backend.readParams["type"])
	assert.Equal(t, "mallory", backend.readParams["user_id"])
	assert.Equal(t, 100, backend.readParams["limit"], "default limit")
}

func TestWriter_QueryCapsLimit(t *testing.T) {
	backend := &fakeBackend{}
	w := NewWriter(backend, 8, quietLogger())
	defer w.Close(context.Background())

	_, err := w.Query(context.Background(), Filter{Limit: 50000})
	require.NoError(t, err)
	assert.Equal(t, 1000, backend.readParams["limit"])
}

func TestSeverityAssignment(t *testing.T) {
	assert.Equal(t, SeverityInfo, Authentication(true, "u", "", "", "").Severity)
	assert.Equal(t, SeverityWarning, Authentication(false, "u", "", "", "").Severity)
	assert.Equal(t, SeverityInfo, Authorization("u", "", "tools", "lint", true, nil).Severity)
	assert.Equal(t, SeverityWarning, Authorization("u", "", "tools", "lint", false, nil).Severity)
	assert.Equal(t, SeverityInfo, CodeExecution("u", "", "h", "python", true, 1, false).Severity)
	assert.Equal(t, SeverityInfo, GraphRead("u", "", "1 rows").Severity)
	assert.Equal(t, SeverityInfo, GraphWrite("u", "", "1 node").Severity)
	assert.Equal(t, SeverityCritical, SecurityViolation("u", "", "eval", nil).Severity)
	assert.Equal(t, SeverityWarning, RateLimited("u", "", "k", "minute").Severity)
}

func TestEventIdentity(t *testing.T) {
	a := CodeExecution("u", "", "h", "python", true, 1, false)
	b := CodeExecution("u", "", "h", "python", true, 1, false)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())

	auth := Authentication(false, "", "10.0.0.9", "curl/8", "req-7")
	assert.Equal(t, TypeAuthFailure, auth.Type)
	assert.Equal(t, "req-7", auth.CorrelationID)
	assert.Equal(t, "10.0.0.9", auth.Attributes["ip"])
}
