// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// recordingTx captures every statement run inside one transaction.
type recordingTx struct {
	mu      sync.Mutex
	queries []string
	params  []map[string]any
	results map[string]*graph.Result // keyed by query substring
	err     error
}

func (r *recordingTx) Run(_ context.Context, query string, params map[string]any) (*graph.Result, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.params = append(r.params, params)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for needle, res := range r.results {
		if strings.Contains(query, needle) {
			return res, nil
		}
	}
	return &graph.Result{}, nil
}

func newGraphTooling(t *testing.T, fake *fakeExecutor) (*graphTool, Deps, *captureBackend) {
	t.Helper()
	deps, back := testDeps(t, fake)
	return newGraphTool(deps), deps, back
}

func upsertArgs(t *testing.T, body map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func relationshipMatched(n int64) *graph.Result {
	return &graph.Result{
		Rows:     graph.Rows{{"matched": n}},
		Counters: graph.Counters{RelationshipsCreated: int(n)},
	}
}

func TestGraphUpsertNodesBeforeRelationships(t *testing.T) {
	tx := &recordingTx{results: map[string]*graph.Result{
		"MERGE (n {key: $key})": {Counters: graph.Counters{NodesCreated: 1, LabelsAdded: 1, PropertiesSet: 2}},
		"RETURN count(r)":       relationshipMatched(1),
	}}
	fake := &fakeExecutor{txFn: func(fn func(tx graph.Tx) error) error { return fn(tx) }}
	gt, deps, back := newGraphTooling(t, fake)

	out, err := gt.handleUpsert(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"nodes": []map[string]any{
			{"key": "fn:main", "labels": []string{"Function"}, "properties": map[string]any{"name": "main", "arity": 0}},
			{"key": "fn:helper", "labels": []string{"Function", "Private"}},
		},
		"relationships": []map[string]any{
			{"start": "fn:main", "end": "fn:helper", "type": "CALLS"},
		},
	}))
	require.NoError(t, err)
	result := out.(*GraphUpsertResult)

	require.Len(t, tx.queries, 3)
	assert.Contains(t, tx.queries[0], "MERGE (n {key: $key})")
	assert.Contains(t, tx.queries[0], "SET n:`Function`")
	assert.Contains(t, tx.queries[1], "SET n:`Function`:`Private`")
	assert.Contains(t, tx.queries[2], "MERGE (a)-[r:`CALLS`]->(b)")
	assert.Contains(t, tx.queries[2], "RETURN count(r) AS matched")

	assert.Equal(t, "fn:main", tx.params[0]["key"])
	assert.Equal(t, map[string]any{}, tx.params[1]["props"], "absent properties become an empty map")
	assert.Equal(t, "fn:main", tx.params[2]["start_key"])

	assert.Equal(t, 2, result.NodesUpserted)
	assert.Equal(t, 1, result.RelationshipsUpserted)
	assert.Equal(t, 2, result.Counters.NodesCreated)
	assert.Equal(t, 1, result.Counters.RelationshipsCreated)
	assert.Equal(t, 4, result.Counters.PropertiesSet)

	drainAudit(t, deps)
	assert.Contains(t, back.types(), "graph_write")
	attrs := attributesOf(t, back, "graph_write")
	assert.Equal(t, "2 nodes, 1 relationships upserted", attrs["summary"])
}

func TestGraphUpsertMissingEndpointRollsBack(t *testing.T) {
	tx := &recordingTx{results: map[string]*graph.Result{
		"RETURN count(r)": relationshipMatched(0),
	}}
	fake := &fakeExecutor{txFn: func(fn func(tx graph.Tx) error) error { return fn(tx) }}
	gt, deps, back := newGraphTooling(t, fake)

	_, err := gt.handleUpsert(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"relationships": []map[string]any{
			{"start": "a", "end": "ghost", "type": "CALLS"},
		},
	}))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
	assert.Contains(t, fault.MessageOf(err), "relationship endpoint not found: a-[CALLS]->ghost")

	drainAudit(t, deps)
	assert.NotContains(t, back.types(), "graph_write", "failed upserts are not recorded as writes")
}

func TestGraphUpsertEmptyRequest(t *testing.T) {
	gt, _, _ := newGraphTooling(t, &fakeExecutor{})

	_, err := gt.handleUpsert(authedCtx("alice", "developer"), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
	assert.Contains(t, fault.MessageOf(err), "at least one node or relationship")
}

func TestGraphUpsertValidation(t *testing.T) {
	gt, _, _ := newGraphTooling(t, &fakeExecutor{})

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{
			"node key with spaces",
			map[string]any{"nodes": []map[string]any{
				{"key": "bad key!", "labels": []string{"Function"}},
			}},
			`node key "bad key!"`,
		},
		{
			"node without labels",
			map[string]any{"nodes": []map[string]any{
				{"key": "fn:main", "labels": []string{}},
			}},
			"",
		},
		{
			"label injection",
			map[string]any{"nodes": []map[string]any{
				{"key": "fn:main", "labels": []string{"X` DETACH DELETE n //"}},
			}},
			"node label",
		},
		{
			"nested property value",
			map[string]any{"nodes": []map[string]any{
				{"key": "fn:main", "labels": []string{"Function"}, "properties": map[string]any{"meta": map[string]any{"a": 1}}},
			}},
			"node property",
		},
		{
			"relationship type with spaces",
			map[string]any{"relationships": []map[string]any{
				{"start": "a", "end": "b", "type": "BAD TYPE"},
			}},
			`relationship type "BAD TYPE"`,
		},
		{
			"relationship missing end key",
			map[string]any{"relationships": []map[string]any{
				{"start": "a", "type": "CALLS"},
			}},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gt.handleUpsert(authedCtx("alice", "developer"), upsertArgs(t, tt.body))
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
			if tt.message != "" {
				assert.Contains(t, fault.MessageOf(err), tt.message)
			}
		})
	}
}

func TestGraphQueryReturnsRows(t *testing.T) {
	fake := &fakeExecutor{
		readFn: func(query string, params map[string]any) (*graph.Result, error) {
			assert.Contains(t, query, "MATCH (f:Function)")
			assert.Equal(t, map[string]any{"name": "main"}, params)
			return &graph.Result{Rows: graph.Rows{
				{"name": "main", "arity": int64(0)},
				{"name": "helper", "arity": int64(2)},
			}}, nil
		},
	}
	gt, deps, back := newGraphTooling(t, fake)

	out, err := gt.handleQuery(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"cypher":     "MATCH (f:Function) WHERE f.name = $name RETURN f.name AS name, f.arity AS arity",
		"parameters": map[string]any{"name": "main"},
	}))
	require.NoError(t, err)
	result := out.(*GraphQueryResult)

	assert.Equal(t, 2, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, "main", result.Rows[0]["name"])

	drainAudit(t, deps)
	assert.Contains(t, back.types(), "graph_read")
	attrs := attributesOf(t, back, "graph_read")
	assert.Equal(t, "2 rows", attrs["summary"])
}

func TestGraphQueryEmptyResultIsNotNil(t *testing.T) {
	fake := &fakeExecutor{
		readFn: func(string, map[string]any) (*graph.Result, error) {
			return &graph.Result{}, nil
		},
	}
	gt, _, _ := newGraphTooling(t, fake)

	out, err := gt.handleQuery(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"cypher": "MATCH (n:Nothing) RETURN n",
	}))
	require.NoError(t, err)
	result := out.(*GraphQueryResult)

	require.NotNil(t, result.Rows)
	assert.Equal(t, 0, result.RowCount)
	assert.False(t, result.Truncated)
}

func TestGraphQueryTruncationFlag(t *testing.T) {
	var full graph.Rows
	fake := &fakeExecutor{
		readFn: func(string, map[string]any) (*graph.Result, error) {
			return &graph.Result{Rows: full}, nil
		},
	}
	gt, deps, _ := newGraphTooling(t, fake)

	limit := deps.Graph.RowLimit()
	require.Greater(t, limit, 0)
	full = make(graph.Rows, limit)
	for i := range full {
		full[i] = graph.Row{"i": int64(i)}
	}

	out, err := gt.handleQuery(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"cypher": "MATCH (n) RETURN n",
	}))
	require.NoError(t, err)
	result := out.(*GraphQueryResult)

	assert.Equal(t, limit, result.RowCount)
	assert.True(t, result.Truncated)
}

func TestGraphQueryRejectsMutations(t *testing.T) {
	gt, deps, back := newGraphTooling(t, &fakeExecutor{})

	tests := []struct {
		name   string
		cypher string
	}{
		{"detach delete", "MATCH (n) DETACH DELETE n"},
		{"fullwidth delete", "MATCH (n) ＤＥＴＡＣＨ ＤＥＬＥＴＥ n"},
		{"merge", "MERGE (n:Sneaky {key: 'x'}) RETURN n"},
		{"set", "MATCH (n) SET n.owned = true RETURN n"},
		{"statement separator", "MATCH (n) RETURN n; DROP DATABASE neo4j"},
		{"admin procedure", "CALL dbms.listConfig() YIELD name RETURN name"},
		{"comment smuggling", "MATCH (n) RETURN n // DELETE n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gt.handleQuery(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
				"cypher": tt.cypher,
			}))
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
		})
	}

	drainAudit(t, deps)
	assert.NotContains(t, back.types(), "graph_read", "rejected queries never reach the database")
}

func TestGraphQueryRejectsBadParameterKey(t *testing.T) {
	gt, _, _ := newGraphTooling(t, &fakeExecutor{})

	_, err := gt.handleQuery(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"cypher":     "MATCH (n) WHERE n.x = $v RETURN n",
		"parameters": map[string]any{"bad key": 1},
	}))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
	assert.Contains(t, fault.MessageOf(err), `query parameter "bad key"`)
}

func TestMergeNodeQueryBacktickSplice(t *testing.T) {
	query := mergeNodeQuery([]string{"Function", "v2-api"})
	assert.Equal(t, "MERGE (n {key: $key})\nSET n:`Function`:`v2-api`\nSET n += $props", query)
}

func TestMergeRelationshipQuery(t *testing.T) {
	query := mergeRelationshipQuery("CALLS")
	assert.Contains(t, query, "MATCH (a {key: $start_key})")
	assert.Contains(t, query, "MERGE (a)-[r:`CALLS`]->(b)")
	assert.Contains(t, query, "RETURN count(r) AS matched")
}

func TestNodeLabelsDeduplicates(t *testing.T) {
	labels := nodeLabels([]GraphNode{
		{Labels: []string{"Function", "Private"}},
		{Labels: []string{"Function", "Exported"}},
	})
	assert.Equal(t, []string{"Function", "Private", "Exported"}, labels)
}

func TestGraphUpsertCountersAccumulateAcrossStatements(t *testing.T) {
	// Three nodes, one property each: the per-statement counters must
	// sum rather than reflect only the last statement.
	tx := &recordingTx{results: map[string]*graph.Result{
		"MERGE (n {key: $key})": {Counters: graph.Counters{NodesCreated: 1, PropertiesSet: 1}},
	}}
	fake := &fakeExecutor{txFn: func(fn func(tx graph.Tx) error) error { return fn(tx) }}
	gt, _, _ := newGraphTooling(t, fake)

	out, err := gt.handleUpsert(authedCtx("alice", "developer"), upsertArgs(t, map[string]any{
		"nodes": []map[string]any{
			{"key": "a", "labels": []string{"N"}, "properties": map[string]any{"p": 1}},
			{"key": "b", "labels": []string{"N"}, "properties": map[string]any{"p": 2}},
			{"key": "c", "labels": []string{"N"}, "properties": map[string]any{"p": 3}},
		},
	}))
	require.NoError(t, err)
	result := out.(*GraphUpsertResult)
	assert.Equal(t, 3, result.Counters.NodesCreated)
	assert.Equal(t, 3, result.Counters.PropertiesSet)
}
