// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit enforces per-key request quotas.
//
// Each key (authenticated user id, or client IP for anonymous
// requests) gets three fixed windows, minute, hour, and day, plus a
// token-bucket burst limiter that smooths within-second floods. The
// windows are aligned to wall-clock boundaries so the retry hint is
// the time to the next boundary, not a sliding guess.
//
// Checks are ordered windows first, burst last: the burst limiter
// consumes a token when consulted, and a request that a window already
// rejected must not drain burst capacity. Window counters only
// increment after every check passes, so rejected requests never eat
// quota.
//
// State is per-process. Keys idle for more than a day are swept; by
// then every window they held has rolled over, so dropping them
// changes nothing an active client could observe.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// idleAfter is how long a key must go unused before the sweeper drops
// its state. One hour past the day window guarantees every counter the
// key held has already reset.
const idleAfter = 25 * time.Hour

// Limiter applies per-key quotas. Safe for concurrent use.
type Limiter struct {
	cfg config.RateLimit

	mu      sync.Mutex
	buckets map[string]*bucket

	allowed  atomic.Int64
	rejected atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

type bucket struct {
	mu       sync.Mutex
	burst    *rate.Limiter
	minute   window
	hour     window
	day      window
	lastSeen time.Time
}

type window struct {
	start time.Time
	count int
}

// Decision is the outcome of a single admission check. The window
// fields describe the minute window on success and the violated window
// on rejection, which is what the rate-limit response headers report.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
	Window     string
}

// Fault builds the client-facing rejection error. Only meaningful when
// the decision is a rejection.
func (d Decision) Fault() error {
	retryAfter := int(d.RetryAfter.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return fault.New(fault.KindRateLimited, "rate limit exceeded").
		WithDetails(map[string]any{
			"window":        d.Window,
			"limit":         d.Limit,
			"retry_after_s": retryAfter,
		})
}

// New creates a limiter from config.
func New(cfg config.RateLimit) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
}

// Allow charges one request against the key and reports the decision.
func (l *Limiter) Allow(key string) Decision {
	b := l.bucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastSeen = now

	b.minute.roll(now, time.Minute)
	b.hour.roll(now, time.Hour)
	b.day.roll(now, 24*time.Hour)

	checks := []struct {
		name   string
		w      *window
		limit  int
		period time.Duration
	}{
		{"minute", &b.minute, l.cfg.PerMinute, time.Minute},
		{"hour", &b.hour, l.cfg.PerHour, time.Hour},
		{"day", &b.day, l.cfg.PerDay, 24 * time.Hour},
	}

	for _, chk := range checks {
		if chk.w.count >= chk.limit {
			l.rejected.Add(1)
			reset := chk.w.start.Add(chk.period)
			return Decision{
				Allowed:    false,
				Limit:      chk.limit,
				Remaining:  0,
				Reset:      reset,
				RetryAfter: reset.Sub(now),
				Window:     chk.name,
			}
		}
	}

	if !b.burst.Allow() {
		l.rejected.Add(1)
		return Decision{
			Allowed:    false,
			Limit:      l.cfg.Burst,
			Remaining:  0,
			Reset:      now.Add(time.Second),
			RetryAfter: time.Second,
			Window:     "burst",
		}
	}

	b.minute.count++
	b.hour.count++
	b.day.count++
	l.allowed.Add(1)

	return Decision{
		Allowed:   true,
		Limit:     l.cfg.PerMinute,
		Remaining: l.cfg.PerMinute - b.minute.count,
		Reset:     b.minute.start.Add(time.Minute),
		Window:    "minute",
	}
}

// bucket returns the state for a key, creating it on first sight.
func (l *Limiter) bucket(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			burst: rate.NewLimiter(rate.Limit(l.cfg.Burst), l.cfg.Burst),
		}
		l.buckets[key] = b
	}
	return b
}

// roll resets the window if now crossed an aligned boundary.
func (w *window) roll(now time.Time, period time.Duration) {
	start := now.Truncate(period)
	if !start.Equal(w.start) {
		w.start = start
		w.count = 0
	}
}

// Sweep drops keys idle past the retention horizon and returns how
// many it removed.
func (l *Limiter) Sweep() int {
	cutoff := time.Now().Add(-idleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// StartSweeper begins periodic idle-key sweeps. Stop it with Close.
func (l *Limiter) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Close stops the background sweeper. Idempotent.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	TrackedKeys int   `json:"tracked_keys"`
	Allowed     int64 `json:"allowed"`
	Rejected    int64 `json:"rejected"`
}

// Stats returns current limiter counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	keys := len(l.buckets)
	l.mu.Unlock()

	return Stats{
		TrackedKeys: keys,
		Allowed:     l.allowed.Load(),
		Rejected:    l.rejected.Load(),
	}
}
