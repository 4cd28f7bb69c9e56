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
	"strings"
)

const (
	identifierMaxLen = 128
	pathMaxBytes     = 1024
)

// identifierPattern documents the accepted shape; the check itself is
// a hand-rolled scan to avoid regexp allocation on the hot path.
const identifierPattern = `^[A-Za-z_][A-Za-z0-9_:-]{0,127}$`

// ValidateIdentifier checks node labels, relationship types, property
// keys, and tool names.
func (v *Validator) ValidateIdentifier(s string) error {
	if s == "" {
		return violation("identifier", "", 0, "identifier must not be empty")
	}
	if len(s) > identifierMaxLen {
		return violation("identifier", truncateToken(s), 0,
			fmt.Sprintf("identifier must match %s and be at most %d characters", identifierPattern, identifierMaxLen))
	}
	first := s[0]
	if !isAlpha(first) && first != '_' {
		return violation("identifier", truncateToken(s), 0,
			fmt.Sprintf("identifier must match %s", identifierPattern))
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !isAlpha(c) && !isDigit(c) && c != '_' && c != ':' && c != '-' {
			return violation("identifier", truncateToken(s), 0,
				fmt.Sprintf("identifier must match %s", identifierPattern))
		}
	}
	return nil
}

// ValidatePath checks client-supplied file names used for artifact
// labeling. Paths never reach the real filesystem, but the rules hold
// anyway: relative only, no parent traversal, no drive roots, sane
// characters.
func (v *Validator) ValidatePath(s string) error {
	if strings.TrimSpace(s) == "" {
		return violation("path", "", 0, "path must not be empty")
	}
	if len(s) > pathMaxBytes {
		return violation("path", truncateToken(s), 0,
			fmt.Sprintf("path exceeds %d bytes", pathMaxBytes))
	}
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "\\") {
		return violation("path", truncateToken(s), 0, "path must be relative")
	}
	if len(s) >= 2 && isAlpha(s[0]) && s[1] == ':' {
		return violation("path", truncateToken(s), 0, "path must be relative, not drive-qualified")
	}
	for _, segment := range strings.Split(s, "/") {
		if segment == ".." {
			return violation("path", truncateToken(s), 0,
				"path must not contain parent directory segments")
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlpha(c) || isDigit(c) || c == '.' || c == '_' || c == '-' || c == '/' {
			continue
		}
		return violation("path", truncateToken(s), 0,
			fmt.Sprintf("path contains invalid characters: %q", string(c)))
	}
	return nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func truncateToken(s string) string {
	if len(s) <= 40 {
		return s
	}
	return s[:40] + "..."
}
