// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// schemaStatements is everything the service expects the database to
// enforce. All statements are idempotent.
var schemaStatements = []string{
	"CREATE CONSTRAINT audit_event_id IF NOT EXISTS FOR (e:AuditEvent) REQUIRE e.id IS UNIQUE",
	"CREATE CONSTRAINT blacklisted_token_hash IF NOT EXISTS FOR (t:BlacklistedToken) REQUIRE t.token_hash IS UNIQUE",
	"CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.user_id IS UNIQUE",
	"CREATE INDEX execution_result_code_hash IF NOT EXISTS FOR (r:ExecutionResult) ON (r.code_hash)",
	"CREATE INDEX execution_result_timestamp IF NOT EXISTS FOR (r:ExecutionResult) ON (r.timestamp)",
	"CREATE INDEX lint_result_code_hash IF NOT EXISTS FOR (r:LintResult) ON (r.code_hash)",
	"CREATE INDEX audit_event_type_time IF NOT EXISTS FOR (e:AuditEvent) ON (e.type, e.timestamp)",
	"CREATE INDEX audit_event_user IF NOT EXISTS FOR (e:AuditEvent) ON (e.user_id)",
	"CREATE INDEX blacklisted_token_expiry IF NOT EXISTS FOR (t:BlacklistedToken) ON (t.expires_at)",
}

// ApplySchema creates the constraints and indexes the service relies
// on. Uniqueness of audit event ids and token hashes is a correctness
// requirement, not an optimization, so callers should treat an error
// here as fatal.
func (c *Client) ApplySchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := c.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fault.Wrap(fault.KindDependencyUnavailable, "applying graph schema", err)
		}
	}
	c.log.Info("graph schema applied", "statements", len(schemaStatements))
	return nil
}
