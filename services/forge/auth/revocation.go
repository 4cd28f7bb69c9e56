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
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianForge/pkg/logging"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// TokenHash returns the hex SHA-256 of the raw token text. The
// blacklist stores hashes only; a leaked blacklist must not leak
// usable credentials.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RevocationStore persists revocations across restarts. Implementations
// must be safe for concurrent use.
type RevocationStore interface {
	// SaveToken records one revoked token until its natural expiry.
	SaveToken(ctx context.Context, hash, subject string, expiresAt time.Time) error

	// SaveSubjectCutoff records that every token issued to subject
	// before cutoff is dead.
	SaveSubjectCutoff(ctx context.Context, subject string, cutoff time.Time) error

	// Load returns all live revocations.
	Load(ctx context.Context) (tokens map[string]time.Time, subjects map[string]time.Time, err error)

	// DeleteExpired drops token rows whose expiry has passed, returning
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// snapshot is an immutable view of the revocation state. Readers load
// it atomically; writers build a replacement under the index mutex.
type snapshot struct {
	// tokens maps token hash to the token's expiry.
	tokens map[string]time.Time

	// subjects maps subject to a cutoff; tokens issued before it are
	// revoked regardless of hash.
	subjects map[string]time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		tokens:   map[string]time.Time{},
		subjects: map[string]time.Time{},
	}
}

// RevocationIndex answers "is this token revoked" on the hot path from
// an in-memory snapshot and writes through to a store. With a nil
// store the index is memory-only and revocations do not survive a
// restart.
type RevocationIndex struct {
	store RevocationStore
	log   *logging.Logger

	snap atomic.Pointer[snapshot]

	// mu serializes writers; readers never take it.
	mu sync.Mutex

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRevocationIndex starts empty; call Warm to load persisted state.
func NewRevocationIndex(store RevocationStore, log *logging.Logger) *RevocationIndex {
	if log == nil {
		log = logging.Default()
	}
	r := &RevocationIndex{
		store: store,
		log:   log,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	r.snap.Store(emptySnapshot())
	return r
}

// Warm loads persisted revocations. On failure the index stays empty
// and the error is returned; the caller decides whether an unreadable
// blacklist is fatal for its environment.
func (r *RevocationIndex) Warm(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	tokens, subjects, err := r.store.Load(ctx)
	if err != nil {
		r.log.Warn("revocation warm-up failed; starting with empty blacklist", "error", err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := &snapshot{tokens: tokens, subjects: subjects}
	if next.tokens == nil {
		next.tokens = map[string]time.Time{}
	}
	if next.subjects == nil {
		next.subjects = map[string]time.Time{}
	}
	r.snap.Store(next)
	r.log.Info("revocation index warmed", "tokens", len(next.tokens), "subjects", len(next.subjects))
	return nil
}

// IsRevoked reports whether a token is dead, either individually or by
// a subject-wide cutoff covering its issue time.
func (r *RevocationIndex) IsRevoked(hash, subject string, issuedAt time.Time) bool {
	s := r.snap.Load()
	if _, ok := s.tokens[hash]; ok {
		return true
	}
	if cutoff, ok := s.subjects[subject]; ok && issuedAt.Before(cutoff) {
		return true
	}
	return false
}

// Revoke blacklists one token until expiresAt. The in-memory snapshot
// is updated before the store write, so the token is dead immediately
// even when persistence fails; the error then tells the caller the
// revocation will not survive a restart.
func (r *RevocationIndex) Revoke(ctx context.Context, hash, subject string, expiresAt time.Time) error {
	r.mu.Lock()
	next := r.copySnapshot()
	next.tokens[hash] = expiresAt
	r.snap.Store(next)
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.SaveToken(ctx, hash, subject, expiresAt); err != nil {
		r.log.Error("revocation not persisted; token blocked in-memory only", "error", err)
		return fault.Wrap(fault.KindDependencyUnavailable, "revocation not persisted", err)
	}
	return nil
}

// RevokeSubject kills every token issued to subject before cutoff.
func (r *RevocationIndex) RevokeSubject(ctx context.Context, subject string, cutoff time.Time) error {
	r.mu.Lock()
	next := r.copySnapshot()
	if existing, ok := next.subjects[subject]; !ok || cutoff.After(existing) {
		next.subjects[subject] = cutoff
	}
	r.snap.Store(next)
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.SaveSubjectCutoff(ctx, subject, cutoff); err != nil {
		r.log.Error("subject revocation not persisted", "subject", subject, "error", err)
		return fault.Wrap(fault.KindDependencyUnavailable, "revocation not persisted", err)
	}
	return nil
}

// Sweep drops token entries whose expiry has passed; an expired token
// fails verification on its own. Store cleanup is best effort.
func (r *RevocationIndex) Sweep(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	next := r.copySnapshot()
	removed := 0
	for hash, expiresAt := range next.tokens {
		if now.After(expiresAt) {
			delete(next.tokens, hash)
			removed++
		}
	}
	if removed > 0 {
		r.snap.Store(next)
	}
	r.mu.Unlock()

	if r.store != nil {
		if _, err := r.store.DeleteExpired(ctx, now); err != nil {
			r.log.Warn("revocation store sweep failed", "error", err)
		}
	}
	return removed
}

// StartSweeper sweeps on an interval until Close.
func (r *RevocationIndex) StartSweeper(interval time.Duration) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				r.Sweep(ctx, time.Now())
				cancel()
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops the sweeper.
func (r *RevocationIndex) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Size returns the number of individually blacklisted tokens.
func (r *RevocationIndex) Size() int {
	return len(r.snap.Load().tokens)
}

// copySnapshot clones the current snapshot for mutation. Callers must
// hold mu.
func (r *RevocationIndex) copySnapshot() *snapshot {
	cur := r.snap.Load()
	next := &snapshot{
		tokens:   make(map[string]time.Time, len(cur.tokens)+1),
		subjects: make(map[string]time.Time, len(cur.subjects)+1),
	}
	for k, v := range cur.tokens {
		next.tokens[k] = v
	}
	for k, v := range cur.subjects {
		next.subjects[k] = v
	}
	return next
}
