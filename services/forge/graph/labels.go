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
	"regexp"
	"strings"
)

// guardLabel is folded into every cache key and bumped by writes that
// touch no extractable label, so even a label-free write retires every
// cached read.
const guardLabel = "*"

var (
	// labelPattern captures identifiers after a colon: node labels,
	// relationship types, and occasionally map keys' values. The
	// over-capture is harmless; a spurious label in a cache key only
	// widens invalidation, never narrows it.
	labelPattern = regexp.MustCompile(`:\s*` + "`?" + `([A-Za-z_][A-Za-z0-9_]*)` + "`?")

	// impureRead matches constructs whose results change between
	// evaluations or escape the query text, which makes the result
	// uncacheable.
	impureRead = regexp.MustCompile(`(?i)\b(call|rand|randomUUID|timestamp|datetime|localdatetime|date|time|localtime|duration|elementId|id)\s*\(|\bCALL\b`)

	// queryLiteral blanks quoted strings so literal text cannot fake
	// labels or function calls.
	queryLiteral = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
)

// touchedLabels extracts the node labels and relationship types a
// query mentions, deduplicated, order preserving. String literals are
// masked first.
func touchedLabels(query string) []string {
	masked := queryLiteral.ReplaceAllString(query, "''")

	var labels []string
	seen := make(map[string]bool)
	for _, m := range labelPattern.FindAllStringSubmatch(masked, -1) {
		label := m[1]
		if !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}
	return labels
}

// cacheable reports whether a read query may be served from cache: it
// must mention at least one label (so writes can retire it) and must
// not call time-dependent or procedure constructs.
func cacheable(query string, labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	masked := queryLiteral.ReplaceAllString(query, "''")
	return !impureRead.MatchString(masked)
}

// cacheLabels returns the label set folded into a read's cache key,
// always including the guard label.
func cacheLabels(labels []string) []string {
	out := make([]string, 0, len(labels)+1)
	out = append(out, labels...)
	out = append(out, guardLabel)
	return out
}

// writeLabels returns the labels a write must bump. A write with no
// extractable labels bumps the guard so nothing cached survives it.
func writeLabels(query string) []string {
	labels := touchedLabels(query)
	if len(labels) == 0 {
		return []string{guardLabel}
	}
	return labels
}

// normalizeQuery collapses whitespace so trivially reformatted queries
// share a cache entry.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
