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
	"strconv"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// isScalar reports whether v is an allowed leaf value. The decoder
// produces string, bool, and float64 from JSON; anything else came
// from a map, a list, or null.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64:
		return true
	default:
		return false
	}
}

// checkFlatValue accepts scalars and flat sequences of scalars. what
// names the offending field in the error.
func checkFlatValue(what, key string, v any) error {
	if isScalar(v) {
		return nil
	}
	seq, ok := v.([]any)
	if !ok {
		return fault.Newf(fault.KindInvalidInput,
			"%s %q must be a scalar or a flat sequence of scalars", what, key)
	}
	for _, item := range seq {
		if !isScalar(item) {
			return fault.Newf(fault.KindInvalidInput,
				"%s %q contains a non-scalar element", what, key)
		}
	}
	return nil
}

// scalarString renders a scalar for template substitution. float64 is
// what the JSON decoder hands us for every number; whole values print
// without a fraction.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
