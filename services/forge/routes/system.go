// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
)

// health reports liveness. The process answering is the service check;
// the database check bypasses caches and breakers so an open breaker
// cannot mask a recovered database, and the breaker states themselves
// are reported alongside.
func (s *server) health(c *gin.Context) {
	snapshot := s.breakers.Snapshot()
	states := make(map[string]string, len(snapshot))
	for _, st := range snapshot {
		states[st.Name] = st.State
	}
	c.JSON(http.StatusOK, gin.H{
		"service":   "ok",
		"database":  s.graph.Health(c.Request.Context()),
		"breakers":  states,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// status is the operator view: identity, environment, uptime, database
// health, and which protections are active.
func (s *server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     serviceName,
		"version":     s.version,
		"environment": s.cfg.Server.Env,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime_s":    int64(time.Since(s.started).Seconds()),
		"database":    s.graph.Health(c.Request.Context()),
		"security": gin.H{
			"authentication": true,
			"rate_limiting":  true,
			"audit":          true,
			"validation":     true,
		},
	})
}

func (s *server) listPrompts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prompts": s.prompts.List()})
}

func (s *server) getPrompt(c *gin.Context) {
	p, err := s.prompts.Get(c.Param("id"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// auditLog serves the admin view of the audit trail. Filters arrive as
// query parameters; timestamps are RFC3339.
func (s *server) auditLog(c *gin.Context) {
	filter := audit.Filter{
		Type:   audit.Type(c.Query("type")),
		UserID: c.Query("user_id"),
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			middleware.Abort(c, fault.Wrap(fault.KindInvalidInput, "since must be RFC3339", err))
			return
		}
		filter.Since = t
	}
	if v := c.Query("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			middleware.Abort(c, fault.Wrap(fault.KindInvalidInput, "until must be RFC3339", err))
			return
		}
		filter.Until = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			middleware.Abort(c, fault.New(fault.KindInvalidInput, "limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	events, err := s.audit.Query(c.Request.Context(), filter)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *server) complexity(c *gin.Context) {
	report, err := s.analytics.Complexity(c.Request.Context())
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
