// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fault defines the error taxonomy shared by every Forge component.
//
// Each failure is classified by a Kind. Business logic attaches kinds with
// New or Wrap and propagates plain errors; only the transport boundary
// (HTTP middleware, MCP tool adapter) converts a Kind into a status code
// and a client-safe envelope. One kind maps to exactly one HTTP status, so
// a failure classified deep inside the graph layer surfaces with the same
// status no matter which route it traveled through.
//
// Client responses carry the kind's wire code plus a short message and an
// optional details map. Internal diagnostics (stack context, driver
// errors, node identifiers) stay in the logs keyed by correlation id and
// are never copied into the envelope.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure. The string value is the machine-readable
// code clients see in the error envelope.
type Kind string

const (
	// KindInvalidInput covers malformed requests, schema violations, and
	// code or query validation failures.
	KindInvalidInput Kind = "invalid_input"

	// KindUnauthenticated covers missing, malformed, expired, or revoked
	// credentials.
	KindUnauthenticated Kind = "unauthenticated"

	// KindPermissionDenied covers authenticated principals lacking the
	// permission a route or tool requires.
	KindPermissionDenied Kind = "permission_denied"

	// KindNotFound covers requests for resources that do not exist.
	KindNotFound Kind = "not_found"

	// KindConflict covers writes that contradict existing state, such as
	// uniqueness constraint violations.
	KindConflict Kind = "conflict"

	// KindTooLarge covers request bodies exceeding the configured cap.
	KindTooLarge Kind = "too_large"

	// KindRateLimited covers requests rejected by the per-key limiter.
	KindRateLimited Kind = "rate_limited"

	// KindBusy covers requests rejected because a bounded worker pool or
	// admission queue is full. Clients may retry after backoff.
	KindBusy Kind = "busy"

	// KindTimeout covers operations that exceeded their deadline after
	// being admitted.
	KindTimeout Kind = "timeout"

	// KindDependencyUnavailable covers failures of a backing system, such
	// as the graph database being unreachable or a circuit breaker open.
	KindDependencyUnavailable Kind = "dependency_unavailable"

	// KindInternal covers programming errors and unclassified failures.
	// It is the default for errors carrying no kind.
	KindInternal Kind = "internal"
)

// String returns the wire code.
func (k Kind) String() string {
	return string(k)
}

// HTTPStatus returns the canonical HTTP status for the kind.
//
// Timeout maps to 500: an admitted operation that ran out of time is a
// server-side failure, not a client retry hint. Busy and
// DependencyUnavailable map to 503 because the client may retry.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBusy, KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Fault is an error carrying a Kind, a client-safe message, and optional
// structured details. Wrap the cause so errors.Is and errors.As keep
// working through the classification layer.
type Fault struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is safe to show to clients. No internal identifiers.
	Message string

	// Details holds optional structured context for the envelope, such
	// as {"limit": 60} on a rate-limit rejection.
	Details map[string]any

	// Err is the underlying cause, if any. Not exposed to clients.
	Err error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (f *Fault) Unwrap() error {
	return f.Err
}

// WithDetails returns a copy of the fault with the details map replaced.
func (f *Fault) WithDetails(details map[string]any) *Fault {
	clone := *f
	clone.Details = details
	return &clone
}

// New creates a fault with the given kind and client-safe message.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Newf creates a fault with a formatted client-safe message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The message is what clients see;
// err stays available to errors.Is/As and to the logs.
func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Errors that carry no
// fault classify as KindInternal; nil classifies as KindInternal too,
// callers should not ask for the kind of a nil error.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// MessageOf returns the client-safe message from the error chain, or a
// generic fallback for unclassified errors so internals never leak.
func MessageOf(err error) string {
	var f *Fault
	if errors.As(err, &f) && f.Message != "" {
		return f.Message
	}
	return "internal error"
}

// DetailsOf returns the structured details from the error chain, or nil.
func DetailsOf(err error) map[string]any {
	var f *Fault
	if errors.As(err, &f) {
		return f.Details
	}
	return nil
}
