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
	"encoding/base64"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// normalizeRecord zips result keys with normalized values.
func normalizeRecord(keys []string, values []any) Row {
	row := make(Row, len(keys))
	for i, key := range keys {
		if i < len(values) {
			row[key] = normalizeValue(values[i])
		}
	}
	return row
}

// normalizeValue converts a driver value into a JSON-safe shape.
// Temporal and spatial types become strings, entities become property
// maps, and containers are normalized recursively. Scalars pass
// through.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int64, float64:
		return val

	case time.Time:
		return val.Format(time.RFC3339Nano)
	case dbtype.Date:
		return val.String()
	case dbtype.Time:
		return val.String()
	case dbtype.LocalTime:
		return val.String()
	case dbtype.LocalDateTime:
		return val.String()
	case dbtype.Duration:
		return val.String()
	case dbtype.Point2D:
		return val.String()
	case dbtype.Point3D:
		return val.String()

	case []byte:
		return base64.StdEncoding.EncodeToString(val)

	case dbtype.Node:
		return map[string]any{
			"element_id": val.ElementId,
			"labels":     val.Labels,
			"properties": normalizeMap(val.Props),
		}
	case dbtype.Relationship:
		return map[string]any{
			"element_id":       val.ElementId,
			"start_element_id": val.StartElementId,
			"end_element_id":   val.EndElementId,
			"type":             val.Type,
			"properties":       normalizeMap(val.Props),
		}
	case dbtype.Path:
		nodes := make([]any, len(val.Nodes))
		for i, n := range val.Nodes {
			nodes[i] = normalizeValue(n)
		}
		rels := make([]any, len(val.Relationships))
		for i, r := range val.Relationships {
			rels[i] = normalizeValue(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}

	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return normalizeMap(val)

	default:
		// Unknown driver types degrade to their string form rather
		// than failing the whole row.
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}
