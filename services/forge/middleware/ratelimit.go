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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/ratelimit"
)

// RateLimit applies the sliding-window quota. Authenticated requests
// are keyed by subject so one user cannot starve another behind a
// shared NAT; anonymous requests fall back to the client IP. Runs
// after authentication so the subject is available, and stamps the
// quota headers on allowed responses too.
func RateLimit(limiter *ratelimit.Limiter, sink *audit.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := auth.SubjectFromContext(c.Request.Context())
		key := "ip:" + c.ClientIP()
		if subject != "" {
			key = "user:" + subject
		}

		d := limiter.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			retry := int(d.RetryAfter.Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			sink.Record(audit.RateLimited(subject,
				audit.CorrelationFromContext(c.Request.Context()), key, d.Window))
			Abort(c, d.Fault())
			return
		}
		c.Next()
	}
}
