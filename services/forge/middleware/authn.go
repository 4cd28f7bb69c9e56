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

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Authenticator turns bearer tokens into request identities and writes
// an audit event for every verification attempt.
type Authenticator struct {
	tokens *auth.Service
	sink   *audit.Writer
}

// NewAuthenticator wires token verification to the audit trail.
func NewAuthenticator(tokens *auth.Service, sink *audit.Writer) *Authenticator {
	return &Authenticator{tokens: tokens, sink: sink}
}

// Required rejects requests without a valid bearer token. On success
// the verified identity is bound to the request context for the
// stages downstream.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			a.record(c, false, "")
			Abort(c, fault.New(fault.KindUnauthenticated, "missing bearer token"))
			return
		}
		a.verify(c, token)
	}
}

// Optional admits anonymous requests untouched but still verifies any
// token that is presented. A present-but-invalid token is rejected
// rather than downgraded to anonymous, so a caller who believes they
// are authenticated can never silently act without their roles.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		a.verify(c, token)
	}
}

func (a *Authenticator) verify(c *gin.Context, token string) {
	claims, err := a.tokens.Verify(c.Request.Context(), token)
	if err != nil {
		a.record(c, false, "")
		Abort(c, err)
		return
	}
	a.record(c, true, claims.Subject)
	c.Request = c.Request.WithContext(auth.ContextWithIdentity(c.Request.Context(), claims))
	c.Next()
}

func (a *Authenticator) record(c *gin.Context, success bool, subject string) {
	a.sink.Record(audit.Authentication(
		success, subject, c.ClientIP(), c.Request.UserAgent(), RequestIDFrom(c)))
}
