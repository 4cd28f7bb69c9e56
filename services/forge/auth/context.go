// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import "context"

type identityKey struct{}

// ContextWithIdentity stores the verified claims for downstream handlers.
// Both transports call this after bearer verification.
func ContextWithIdentity(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, identityKey{}, claims)
}

// IdentityFromContext returns the verified claims, if the request
// authenticated.
func IdentityFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(identityKey{}).(*Claims)
	return claims, ok && claims != nil
}

// SubjectFromContext returns the authenticated subject, or "" for
// anonymous requests.
func SubjectFromContext(ctx context.Context) string {
	if claims, ok := IdentityFromContext(ctx); ok {
		return claims.Subject
	}
	return ""
}

// RolesFromContext returns the authenticated roles, or nil.
func RolesFromContext(ctx context.Context) []string {
	if claims, ok := IdentityFromContext(ctx); ok {
		return claims.Roles
	}
	return nil
}
