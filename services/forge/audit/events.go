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
	"time"

	"github.com/google/uuid"
)

// Type enumerates the auditable event categories. The set is closed;
// a new category is a schema decision, not a call-site convenience.
type Type string

const (
	TypeAuthSuccess       Type = "auth_success"
	TypeAuthFailure       Type = "auth_failure"
	TypeAuthzGranted      Type = "authz_granted"
	TypeAuthzDenied       Type = "authz_denied"
	TypeCodeExec          Type = "code_exec"
	TypeGraphWrite        Type = "graph_write"
	TypeGraphRead         Type = "graph_read"
	TypeSecurityViolation Type = "security_violation"
	TypeRateLimited       Type = "rate_limited"
)

// Severity grades events for triage.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityOf assigns each type its fixed severity. Denials are
// warnings; injected-code findings are critical.
func severityOf(t Type) Severity {
	switch t {
	case TypeAuthFailure, TypeAuthzDenied, TypeRateLimited:
		return SeverityWarning
	case TypeSecurityViolation:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// Event is one audit record. Attributes must be JSON-encodable and
// free of secrets; the trail outlives key rotations.
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Severity      Severity       `json:"severity"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// NewEvent stamps identity, time, and severity onto an event.
func NewEvent(eventType Type, userID, correlationID string, attributes map[string]any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
		CorrelationID: correlationID,
		Severity:      severityOf(eventType),
		Attributes:    attributes,
	}
}

// Authentication records a credential check. On failure userID is
// whatever the token claimed, possibly empty.
func Authentication(success bool, userID, ip, userAgent, requestID string) Event {
	t := TypeAuthSuccess
	if !success {
		t = TypeAuthFailure
	}
	attrs := map[string]any{}
	if ip != "" {
		attrs["ip"] = ip
	}
	if userAgent != "" {
		attrs["user_agent"] = userAgent
	}
	return NewEvent(t, userID, requestID, attrs)
}

// Authorization records a permission check.
func Authorization(userID, correlationID, resource, action string, granted bool, details map[string]any) Event {
	t := TypeAuthzGranted
	if !granted {
		t = TypeAuthzDenied
	}
	attrs := map[string]any{
		"resource": resource,
		"action":   action,
	}
	for k, v := range details {
		attrs[k] = v
	}
	return NewEvent(t, userID, correlationID, attrs)
}

// CodeExecution records a sandbox run, including test runs and cache hits.
func CodeExecution(userID, correlationID, codeHash, language string, success bool, durationMS int64, cacheHit bool) Event {
	return NewEvent(TypeCodeExec, userID, correlationID, map[string]any{
		"code_hash":   codeHash,
		"language":    language,
		"success":     success,
		"duration_ms": durationMS,
		"cache_hit":   cacheHit,
	})
}

// GraphWrite records a graph mutation issued on behalf of a user.
func GraphWrite(userID, correlationID, summary string) Event {
	return NewEvent(TypeGraphWrite, userID, correlationID, map[string]any{"summary": summary})
}

// GraphRead records a graph query issued on behalf of a user.
func GraphRead(userID, correlationID, summary string) Event {
	return NewEvent(TypeGraphRead, userID, correlationID, map[string]any{"summary": summary})
}

// SecurityViolation records rejected dangerous input.
func SecurityViolation(userID, correlationID, kind string, details map[string]any) Event {
	attrs := map[string]any{"violation": kind}
	for k, v := range details {
		attrs[k] = v
	}
	return NewEvent(TypeSecurityViolation, userID, correlationID, attrs)
}

// RateLimited records a request rejected by the limiter.
func RateLimited(userID, correlationID, key, window string) Event {
	return NewEvent(TypeRateLimited, userID, correlationID, map[string]any{
		"key":    key,
		"window": window,
	})
}
