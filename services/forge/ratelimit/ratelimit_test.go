// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/config"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

func testConfig() config.RateLimit {
	return config.RateLimit{
		PerMinute: 5,
		PerHour:   100,
		PerDay:    1000,
		Burst:     10,
	}
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		d := l.Allow("user-1")
		assert.True(t, d.Allowed, "request %d should pass", i)
	}
}

func TestLimiter_RejectsOverMinuteWindow(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("user-1").Allowed)
	}

	d := l.Allow("user-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, "minute", d.Window)
	assert.Equal(t, 5, d.Limit)
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)
}

func TestLimiter_RejectionDoesNotConsumeQuota(t *testing.T) {
	cfg := testConfig()
	cfg.PerHour = 5 // same as minute so both windows fill together
	l := New(cfg)
	defer l.Close()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("user-1").Allowed)
	}
	// Hammer past the limit; none of these should touch the hour count.
	for i := 0; i < 20; i++ {
		require.False(t, l.Allow("user-1").Allowed)
	}

	b := l.bucket("user-1")
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 5, b.minute.count)
	assert.Equal(t, 5, b.hour.count)
}

func TestLimiter_BurstRejection(t *testing.T) {
	cfg := testConfig()
	cfg.PerMinute = 100
	cfg.Burst = 3
	l := New(cfg)
	defer l.Close()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("user-1").Allowed)
	}

	d := l.Allow("user-1")
	assert.False(t, d.Allowed)
	assert.Equal(t, "burst", d.Window)
	assert.Equal(t, 3, d.Limit)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		require.True(t, l.Allow("user-1").Allowed)
	}
	require.False(t, l.Allow("user-1").Allowed)

	assert.True(t, l.Allow("user-2").Allowed)
	assert.True(t, l.Allow("10.1.2.3").Allowed)
}

func TestLimiter_FaultKindAndDetails(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Allow("user-1")
	}
	d := l.Allow("user-1")
	require.False(t, d.Allowed)

	err := d.Fault()
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))

	details := fault.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "minute", details["window"])
	assert.Equal(t, 5, details["limit"])
	retryAfter, ok := details["retry_after_s"].(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.LessOrEqual(t, retryAfter, 60)
}

func TestLimiter_SweepDropsIdleKeys(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	l.Allow("stale")
	l.Allow("fresh")

	l.mu.Lock()
	l.buckets["stale"].lastSeen = time.Now().Add(-26 * time.Hour)
	l.mu.Unlock()

	removed := l.Sweep()
	assert.Equal(t, 1, removed)

	stats := l.Stats()
	assert.Equal(t, 1, stats.TrackedKeys)
}

func TestLimiter_Stats(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	for i := 0; i < 5; i++ {
		l.Allow("user-1")
	}
	l.Allow("user-1")
	l.Allow("user-1")

	stats := l.Stats()
	assert.Equal(t, 1, stats.TrackedKeys)
	assert.Equal(t, int64(5), stats.Allowed)
	assert.Equal(t, int64(2), stats.Rejected)
}

func TestDecision_RemainingCountsDown(t *testing.T) {
	l := New(testConfig())
	defer l.Close()

	d := l.Allow("user-1")
	assert.Equal(t, 4, d.Remaining)
	d = l.Allow("user-1")
	assert.Equal(t, 3, d.Remaining)
}
