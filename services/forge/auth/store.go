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
	"context"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// graphRevocationStore persists revocations as BlacklistedToken nodes
// and User cutoff properties. Expiries are unix seconds so the
// expires_at index orders them.
type graphRevocationStore struct {
	client *graph.Client
}

// NewGraphRevocationStore persists revocations in the graph database.
func NewGraphRevocationStore(client *graph.Client) RevocationStore {
	return &graphRevocationStore{client: client}
}

func (s *graphRevocationStore) SaveToken(ctx context.Context, hash, subject string, expiresAt time.Time) error {
	return s.client.ExecuteWrite(ctx, `
		MERGE (t:BlacklistedToken {token_hash: $hash})
		SET t.subject = $subject, t.expires_at = $expires_at, t.revoked_at = $revoked_at`,
		map[string]any{
			"hash":       hash,
			"subject":    subject,
			"expires_at": expiresAt.Unix(),
			"revoked_at": time.Now().Unix(),
		})
}

func (s *graphRevocationStore) SaveSubjectCutoff(ctx context.Context, subject string, cutoff time.Time) error {
	return s.client.ExecuteWrite(ctx, `
		MERGE (u:User {user_id: $subject})
		SET u.revoked_before = $cutoff`,
		map[string]any{
			"subject": subject,
			"cutoff":  cutoff.Unix(),
		})
}

func (s *graphRevocationStore) Load(ctx context.Context) (map[string]time.Time, map[string]time.Time, error) {
	rows, err := s.client.ExecuteRead(ctx,
		"MATCH (t:BlacklistedToken) RETURN t.token_hash AS hash, t.expires_at AS expires_at", nil)
	if err != nil {
		return nil, nil, err
	}
	tokens := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		hash, ok := row["hash"].(string)
		if !ok {
			continue
		}
		tokens[hash] = unixTime(row["expires_at"])
	}

	rows, err = s.client.ExecuteRead(ctx, `
		MATCH (u:User) WHERE u.revoked_before IS NOT NULL
		RETURN u.user_id AS subject, u.revoked_before AS cutoff`, nil)
	if err != nil {
		return nil, nil, err
	}
	subjects := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		subject, ok := row["subject"].(string)
		if !ok {
			continue
		}
		subjects[subject] = unixTime(row["cutoff"])
	}
	return tokens, subjects, nil
}

func (s *graphRevocationStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	err := s.client.ExecuteWriteTx(ctx, []string{"BlacklistedToken"}, func(tx graph.Tx) error {
		res, err := tx.Run(ctx,
			"MATCH (t:BlacklistedToken) WHERE t.expires_at < $now DETACH DELETE t",
			map[string]any{"now": now.Unix()})
		if err != nil {
			return err
		}
		deleted = res.Counters.NodesDeleted
		return nil
	})
	return deleted, err
}

func unixTime(v any) time.Time {
	switch n := v.(type) {
	case int64:
		return time.Unix(n, 0)
	case float64:
		return time.Unix(int64(n), 0)
	default:
		return time.Time{}
	}
}
