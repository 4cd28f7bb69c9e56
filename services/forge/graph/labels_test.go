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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTouchedLabels(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "single node label",
			query: "MATCH (m:Module) RETURN m",
			want:  []string{"Module"},
		},
		{
			name:  "relationship type and labels",
			query: "MATCH (a:Module)-[:DEPENDS_ON]->(b:Module) RETURN a, b",
			want:  []string{"Module", "DEPENDS_ON"},
		},
		{
			name:  "backticked label",
			query: "MATCH (e:`AuditEvent`) RETURN e",
			want:  []string{"AuditEvent"},
		},
		{
			name:  "colon inside string literal ignored",
			query: "MATCH (m:Module) WHERE m.name = 'not:ALabel' RETURN m",
			want:  []string{"Module"},
		},
		{
			name:  "no labels",
			query: "MATCH (n) RETURN n LIMIT 5",
			want:  nil,
		},
		{
			name:  "duplicates collapse",
			query: "MATCH (a:Module), (b:Module) RETURN a, b",
			want:  []string{"Module"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, touchedLabels(tt.query))
		})
	}
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"labeled pure read", "MATCH (m:Module) RETURN m.name", true},
		{"no labels", "MATCH (n) RETURN count(n)", false},
		{"timestamp call", "MATCH (m:Module) RETURN m, timestamp()", false},
		{"datetime call", "MATCH (m:Module) WHERE m.at > datetime() RETURN m", false},
		{"rand call", "MATCH (m:Module) RETURN m ORDER BY rand()", false},
		{"procedure call", "MATCH (m:Module) CALL db.labels() YIELD label RETURN label", false},
		{"elementId call", "MATCH (m:Module) RETURN elementId(m)", false},
		{"time word in literal is fine", "MATCH (m:Module) WHERE m.name = 'datetime()' RETURN m", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := normalizeQuery(tt.query)
			assert.Equal(t, tt.want, cacheable(q, touchedLabels(q)))
		})
	}
}

func TestCacheLabelsAlwaysIncludesGuard(t *testing.T) {
	assert.Equal(t, []string{"Module", guardLabel}, cacheLabels([]string{"Module"}))
	assert.Equal(t, []string{guardLabel}, cacheLabels(nil))
}

func TestWriteLabels(t *testing.T) {
	assert.Equal(t, []string{"Module"}, writeLabels("MERGE (m:Module {name: $name})"))
	assert.Equal(t, []string{guardLabel}, writeLabels("MATCH (n) DETACH DELETE n"))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t,
		"MATCH (m:Module) RETURN m",
		normalizeQuery("  MATCH   (m:Module)\n\tRETURN m  "))
}
