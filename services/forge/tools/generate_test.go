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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

func newGenerateTooling(t *testing.T, fake *fakeExecutor) *generateTool {
	t.Helper()
	deps, _ := testDeps(t, fake)
	return newGenerateTool(deps)
}

func generateArgs(t *testing.T, body map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return raw
}

func TestGenerateRendersLiteralTemplate(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	out, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
		"template": "def {{ name }}({{ args }}):\n    return {{ value }}\n",
		"context": map[string]any{
			"name":  "answer",
			"args":  []any{"a", "b"},
			"value": 42,
		},
	}))
	require.NoError(t, err)
	result := out.(*GenerationResult)

	assert.Equal(t, "def answer(a, b):\n    return 42\n", result.Output)
	assert.Equal(t, "python", result.Language, "language defaults to python")
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.CreatedAt.IsZero())
}

func TestGenerateScalarRendering(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hello", "hello"},
		{"integer-valued float", float64(42), "42"},
		{"fractional float", 2.5, "2.5"},
		{"bool", true, "true"},
		{"list joins with comma", []any{"x", float64(1), false}, "x, 1, false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
				"template": "v={{ v }}",
				"context":  map[string]any{"v": tt.value},
			}))
			require.NoError(t, err)
			assert.Equal(t, "v="+tt.want, out.(*GenerationResult).Output)
		})
	}
}

func TestGenerateBuiltinScaffolds(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	tests := []struct {
		language string
		template string
		contains string
	}{
		{"python", "function", "def fetch():"},
		{"python", "class", "class Fetch:"},
		{"python", "module", `"""fetch module."""`},
		{"javascript", "function", "function fetch() {"},
		{"javascript", "class", "class Fetch {"},
		{"javascript", "module", "// fetch module."},
	}
	for _, tt := range tests {
		t.Run(tt.language+"/"+tt.template, func(t *testing.T) {
			name := "fetch"
			if tt.template == "class" {
				name = "Fetch"
			}
			out, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
				"template_name": tt.template,
				"language":      tt.language,
				"context":       map[string]any{"name": name},
			}))
			require.NoError(t, err)
			result := out.(*GenerationResult)
			assert.Contains(t, result.Output, tt.contains)
			assert.Equal(t, tt.language, result.Language)
			assert.NotContains(t, result.Output, "{{", "all placeholders filled")
		})
	}
}

func TestGenerateTemplateSelection(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{
			"both fields",
			map[string]any{"template": "x", "template_name": "function"},
			"mutually exclusive",
		},
		{
			"neither field",
			map[string]any{"context": map[string]any{"name": "x"}},
			"either template or template_name",
		},
		{
			"directive block",
			map[string]any{"template": "{% for x in xs %}{{ x }}{% endfor %}"},
			"directives are not supported",
		},
		{
			"comment block",
			map[string]any{"template": "{# hidden #}ok"},
			"directives are not supported",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, tt.body))
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
			assert.Contains(t, fault.MessageOf(err), tt.message)
		})
	}
}

func TestGenerateUnknownPlaceholder(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	_, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
		"template": "{{ name }} and {{ ghost }} and {{ ghost }}",
		"context":  map[string]any{"name": "x"},
	}))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
	assert.Contains(t, fault.MessageOf(err), "unknown context keys: ghost")
	assert.NotContains(t, fault.MessageOf(err), "ghost, ghost", "missing keys reported once")
}

func TestGenerateRejectsBadContext(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{
			"compound key",
			map[string]any{
				"template": "{{ ab }}",
				"context":  map[string]any{"ab}}{{cd": "x"},
			},
		},
		{
			"nested object value",
			map[string]any{
				"template": "{{ v }}",
				"context":  map[string]any{"v": map[string]any{"deep": 1}},
			},
		},
		{
			"nested list value",
			map[string]any{
				"template": "{{ v }}",
				"context":  map[string]any{"v": []any{[]any{"deep"}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, tt.body))
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
		})
	}
}

func TestGeneratePersistsArtifactWithoutContext(t *testing.T) {
	var persistedQuery string
	var persisted map[string]any
	fake := &fakeExecutor{
		writeFn: func(query string, params map[string]any) (*graph.Result, error) {
			persistedQuery = query
			persisted = params
			return &graph.Result{}, nil
		},
	}
	gt := newGenerateTooling(t, fake)

	out, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
		"template": "hello {{ name }}",
		"context":  map[string]any{"name": "world", "secret": "hunter2"},
	}))
	require.NoError(t, err)
	result := out.(*GenerationResult)

	assert.Contains(t, persistedQuery, "MERGE (g:GenerationResult {id: $id})")
	assert.Equal(t, result.ID, persisted["id"])
	assert.Equal(t, "hello world", persisted["output"])
	assert.NotContains(t, persisted, "context")
	assert.NotContains(t, persisted, "secret")
}

func TestGenerateRejectsUnknownTemplateName(t *testing.T) {
	gt := newGenerateTooling(t, &fakeExecutor{})

	_, err := gt.handle(authedCtx("alice", "developer"), generateArgs(t, map[string]any{
		"template_name": "microservice",
	}))
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
}
