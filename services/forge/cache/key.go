// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// Key builds a deterministic cache key for a read query. The key folds
// in the current version of every label the query touches, so a write
// that bumps a label version silently retires all keys built before
// it. Params are serialized as JSON, which sorts map keys, so
// logically equal parameter maps produce the same key.
func (c *Cache) Key(database, query string, params map[string]any, labels []string) string {
	h := sha256.New()
	h.Write([]byte(database))
	h.Write([]byte{0})
	h.Write([]byte(query))
	h.Write([]byte{0})

	if len(params) > 0 {
		// Marshal failures degrade to an unkeyed-by-params entry; the
		// graph layer validates params are JSON-safe before this point.
		if raw, err := json.Marshal(params); err == nil {
			h.Write(raw)
		}
	}
	h.Write([]byte{0})

	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	for _, label := range sorted {
		h.Write([]byte(label))
		h.Write([]byte(":"))
		h.Write([]byte(strconv.FormatUint(c.Version(label), 10)))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
