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

import (
	"sort"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// Permission names one guarded capability. Every tool and route
// declares exactly one.
type Permission string

const (
	PermToolsRead     Permission = "tools:read"
	PermToolsLint     Permission = "tools:lint"
	PermToolsExecute  Permission = "tools:execute"
	PermToolsTest     Permission = "tools:test"
	PermToolsGenerate Permission = "tools:generate"
	PermGraphQuery    Permission = "graph:query"
	PermGraphUpsert   Permission = "graph:upsert"
	PermGraphDelete   Permission = "graph:delete"
	PermSystemAdmin   Permission = "system:admin"
)

// Role names. The table is fixed at compile time; roles are not
// user-defined.
const (
	RoleViewer    = "viewer"
	RoleDeveloper = "developer"
	RoleAdmin     = "admin"
)

// rolePermissions is the complete authorization table. Developer is a
// superset of viewer, admin a superset of developer. PermGraphDelete
// exists in the vocabulary but no role grants it; destructive graph
// operations go through the export/import tooling, not the API.
var rolePermissions = map[string]map[Permission]bool{
	RoleViewer: {
		PermToolsRead:  true,
		PermToolsLint:  true,
		PermGraphQuery: true,
	},
	RoleDeveloper: {
		PermToolsRead:     true,
		PermToolsLint:     true,
		PermGraphQuery:    true,
		PermToolsExecute:  true,
		PermToolsTest:     true,
		PermToolsGenerate: true,
	},
	RoleAdmin: {
		PermToolsRead:     true,
		PermToolsLint:     true,
		PermGraphQuery:    true,
		PermToolsExecute:  true,
		PermToolsTest:     true,
		PermToolsGenerate: true,
		PermGraphUpsert:   true,
		PermSystemAdmin:   true,
	},
}

// KnownRole reports whether role appears in the table.
func KnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// Roles returns the role names, sorted.
func Roles() []string {
	out := make([]string, 0, len(rolePermissions))
	for role := range rolePermissions {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// RolePermissions returns the permissions a role grants, sorted. Nil
// for unknown roles.
func RolePermissions(role string) []Permission {
	grants, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(grants))
	for perm := range grants {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allowed reports whether any of the principal's roles grants perm.
// Unknown roles grant nothing; they are tolerated so an old token
// survives a role being retired without turning into a parse error.
func Allowed(roles []string, perm Permission) bool {
	for _, role := range roles {
		if rolePermissions[role][perm] {
			return true
		}
	}
	return false
}

// Require returns nil when roles grant perm and a PermissionDenied
// fault naming the permission when they do not.
func Require(roles []string, perm Permission) error {
	if Allowed(roles, perm) {
		return nil
	}
	return fault.New(fault.KindPermissionDenied, "missing permission").
		WithDetails(map[string]any{"permission": string(perm)})
}
