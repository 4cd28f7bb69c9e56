// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Clause patterns are matched against the normalized, literal-masked
// query. Word boundaries keep identifiers like "preset" from matching
// SET.
var (
	queryMutatingClauses = []*regexp.Regexp{
		regexp.MustCompile(`\bdelete\b`),
		regexp.MustCompile(`\bdetach\b`),
		regexp.MustCompile(`\bremove\b`),
		regexp.MustCompile(`\bcreate\b`),
		regexp.MustCompile(`\bmerge\b`),
		regexp.MustCompile(`\bset\b`),
		regexp.MustCompile(`\bdrop\b`),
	}
	queryAdminPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bcall\s+dbms\.`),
		regexp.MustCompile(`\bcall\s+db\.`),
		regexp.MustCompile(`\bapoc\.`),
	}
)

// ValidateGraphQuery checks that user-supplied query text is a pure
// read. Normalization happens before matching: Unicode NFKC collapses
// fullwidth spellings, case folding collapses mixed case, and string
// literals are masked so a quoted word cannot trip a clause pattern
// and a clause cannot hide inside a cleverly unterminated literal.
func (v *Validator) ValidateGraphQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return violation("empty", "", 0, "query must not be empty")
	}
	if len(text) > MaxSourceBytes {
		return violation("size", "", 0,
			fmt.Sprintf("query exceeds maximum size of %d bytes", MaxSourceBytes))
	}

	normalized := cases.Fold().String(norm.NFKC.String(text))
	masked := maskStringLiterals(normalized)

	if idx := strings.IndexByte(masked, ';'); idx >= 0 {
		return violation("separator", ";", 0,
			"query contains forbidden operations: statement separator")
	}
	if strings.Contains(masked, "//") || strings.Contains(masked, "/*") {
		return violation("comment", "", 0,
			"query contains forbidden operations: comment sequence")
	}

	for _, re := range queryMutatingClauses {
		if loc := re.FindString(masked); loc != "" {
			return violation("mutating_clause", strings.ToUpper(loc), 0,
				fmt.Sprintf("query contains forbidden operations: %s", strings.ToUpper(loc)))
		}
	}
	for _, re := range queryAdminPatterns {
		if loc := re.FindString(masked); loc != "" {
			return violation("admin_call", loc, 0,
				"query contains forbidden operations: administration procedure")
		}
	}
	return nil
}

// maskStringLiterals replaces the contents of single- and
// double-quoted spans with spaces, honoring backslash escapes. An
// unterminated literal masks through to the end, which errs on the
// side of hiding trailing text from clause matching while the
// separator and comment checks still see the real punctuation before
// the literal began.
func maskStringLiterals(s string) string {
	out := []byte(s)
	var quote byte
	escaped := false
	for i := 0; i < len(out); i++ {
		c := out[i]
		if quote == 0 {
			if c == '\'' || c == '"' {
				quote = c
			}
			continue
		}
		if escaped {
			escaped = false
			out[i] = ' '
			continue
		}
		switch c {
		case '\\':
			escaped = true
			out[i] = ' '
		case quote:
			quote = 0
		default:
			out[i] = ' '
		}
	}
	return string(out)
}
