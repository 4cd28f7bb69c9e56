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
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// RequirePermission gates a route on one RBAC permission. Must run
// after Required authentication; a request that reaches it without an
// identity is a mounting bug and is refused as unauthenticated rather
// than allowed through. Every decision, grant or deny, is audited.
func RequirePermission(sink *audit.Writer, perm auth.Permission) gin.HandlerFunc {
	resource, action, _ := strings.Cut(string(perm), ":")
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		claims, ok := auth.IdentityFromContext(ctx)
		if !ok {
			Abort(c, fault.New(fault.KindUnauthenticated, "authentication required"))
			return
		}
		correlation := audit.CorrelationFromContext(ctx)
		if err := auth.Require(claims.Roles, perm); err != nil {
			sink.Record(audit.Authorization(claims.Subject, correlation,
				resource, action, false, map[string]any{"roles": claims.Roles}))
			Abort(c, err)
			return
		}
		sink.Record(audit.Authorization(claims.Subject, correlation,
			resource, action, true, nil))
		c.Next()
	}
}
