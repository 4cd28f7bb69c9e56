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
	"encoding/json"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	Type   Type
	UserID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

const defaultQueryLimit = 100
const maxQueryLimit = 1000

// Query returns matching events, newest first.
func (w *Writer) Query(ctx context.Context, filter Filter) ([]Event, error) {
	if w.backend == nil {
		return nil, fault.New(fault.KindDependencyUnavailable, "audit trail is running log-only")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	var since, until int64
	if !filter.Since.IsZero() {
		since = filter.Since.UnixMilli()
	}
	until = time.Now().UnixMilli()
	if !filter.Until.IsZero() {
		until = filter.Until.UnixMilli()
	}

	rows, err := w.backend.ExecuteRead(ctx, `
		MATCH (e:AuditEvent)
		WHERE ($type = '' OR e.type = $type)
		  AND ($user_id = '' OR e.user_id = $user_id)
		  AND e.timestamp >= $since AND e.timestamp <= $until
		RETURN e.id AS id, e.type AS type, e.timestamp AS timestamp,
		       e.user_id AS user_id, e.severity AS severity,
		       e.correlation_id AS correlation_id, e.attributes AS attributes
		ORDER BY e.timestamp DESC
		LIMIT $limit`,
		map[string]any{
			"type":    string(filter.Type),
			"user_id": filter.UserID,
			"since":   since,
			"until":   until,
			"limit":   limit,
		})
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, eventFromRow(row))
	}
	return events, nil
}

func eventFromRow(row map[string]any) Event {
	e := Event{
		ID:            stringAt(row, "id"),
		Type:          Type(stringAt(row, "type")),
		UserID:        stringAt(row, "user_id"),
		Severity:      Severity(stringAt(row, "severity")),
		CorrelationID: stringAt(row, "correlation_id"),
	}
	if ms, ok := row["timestamp"].(int64); ok {
		e.Timestamp = time.UnixMilli(ms).UTC()
	}
	if raw := stringAt(row, "attributes"); raw != "" && raw != "{}" {
		var attrs map[string]any
		if json.Unmarshal([]byte(raw), &attrs) == nil {
			e.Attributes = attrs
		}
	}
	return e
}

func stringAt(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}
