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
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/middleware"
)

// tool dispatches one POST route to the registry. The body passes to
// the tool verbatim; tools own their argument schemas, so the route
// layer neither parses nor re-validates.
func (s *server) tool(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				middleware.Abort(c, fault.Newf(fault.KindTooLarge,
					"request body exceeds %d bytes", tooBig.Limit))
				return
			}
			middleware.Abort(c, fault.Wrap(fault.KindInvalidInput,
				"request body unreadable", err))
			return
		}

		out, err := s.registry.Call(c.Request.Context(), id, raw)
		if err != nil {
			middleware.Abort(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type revokeRequest struct {
	Token  string `json:"token" binding:"required"`
	Reason string `json:"reason"`
}

// revokeToken blacklists a single token until its natural expiry.
func (s *server) revokeToken(c *gin.Context) {
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, fault.Wrap(fault.KindInvalidInput, "token is required", err))
		return
	}
	if err := s.tokens.Revoke(c.Request.Context(), req.Token); err != nil {
		middleware.Abort(c, err)
		return
	}
	logging.FromContext(c.Request.Context()).Info("token revoked",
		"by", auth.SubjectFromContext(c.Request.Context()),
		"reason", req.Reason,
	)
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

type revokeAllRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// revokeAll invalidates every token the user holds that was issued
// before now. Tokens issued afterwards remain valid.
func (s *server) revokeAll(c *gin.Context) {
	var req revokeAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, fault.Wrap(fault.KindInvalidInput, "user_id is required", err))
		return
	}
	if err := s.tokens.RevokeSubject(c.Request.Context(), req.UserID); err != nil {
		middleware.Abort(c, err)
		return
	}
	logging.FromContext(c.Request.Context()).Info("all tokens revoked for user",
		"user_id", req.UserID,
		"by", auth.SubjectFromContext(c.Request.Context()),
	)
	c.JSON(http.StatusOK, gin.H{"revoked_all": true, "user_id": req.UserID})
}
