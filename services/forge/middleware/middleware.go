// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware implements the HTTP request pipeline: correlation
// IDs, body limits, security headers and CORS, bearer authentication,
// permission checks, rate limiting, and access logging. Each stage is
// an independent gin handler so routes compose only what they need,
// but the mounting order is fixed: a request must carry a correlation
// ID before anything logs, be size-checked before anything parses, and
// be authenticated before anything authorizes.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Header names used across the pipeline. Request IDs are echoed back
// on every response, including errors.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderResponseTime = "X-Response-Time"
)

// requestIDKey is the gin context key holding the correlation ID.
const requestIDKey = "forge.request_id"

// RequestIDFrom returns the correlation ID assigned by RequestID, or
// empty if the middleware has not run.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Abort renders err as the standard error envelope and stops the
// handler chain. The status code comes from the fault kind; unknown
// errors map to 500 without leaking their message.
func Abort(c *gin.Context, err error) {
	kind := fault.KindOf(err)
	c.AbortWithStatusJSON(kind.HTTPStatus(), fault.EnvelopeFor(err, RequestIDFrom(c)))
}

// bearerToken extracts the token from an Authorization header. Returns
// empty when the header is absent or not a Bearer scheme.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
