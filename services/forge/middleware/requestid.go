// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/pkg/logging"
)

// maxRequestIDLen bounds caller-supplied correlation IDs so a hostile
// header cannot bloat logs or audit rows.
const maxRequestIDLen = 128

// RequestID assigns every request a correlation ID: the caller's
// X-Request-ID when it looks sane, a fresh UUID otherwise. The ID is
// echoed on the response, stored on the gin context, and bound into
// the request context for audit events and the request-scoped logger.
func RequestID(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)

		ctx := audit.ContextWithCorrelation(c.Request.Context(), id)
		ctx = logging.IntoContext(ctx, log.With("request_id", id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// validRequestID accepts printable ASCII up to maxRequestIDLen. UUIDs
// and common trace formats pass; control characters and binary do not.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
