// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

func testConfig() Config {
	return Config{
		FailureThreshold:  3,
		ResetTimeout:      50 * time.Millisecond,
		HalfOpenMaxProbes: 2,
		SuccessThreshold:  2,
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New("graph-read", testConfig(), nil)

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("graph-read", testConfig(), nil)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := New("graph-read", testConfig(), nil)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	assert.True(t, b.Allow(), "first request after reset timeout is the probe")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenBoundsConcurrentProbes(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "third concurrent probe exceeds the bound")

	// Settling a probe frees its slot.
	b.RecordSuccess()
	assert.True(t, b.Allow())
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	require.True(t, b.Allow())
	b.RecordSuccess()
	require.Equal(t, StateHalfOpen, b.State())

	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailureInHalfOpenReopens(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	require.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_OpenFaultKindAndDetails(t *testing.T) {
	b := New("graph-write", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	err := b.OpenFault()
	require.Error(t, err)
	assert.Equal(t, fault.KindDependencyUnavailable, fault.KindOf(err))

	details := fault.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "graph-write", details["dependency"])
	retryAfter, ok := details["retry_after_s"].(int)
	require.True(t, ok)
	assert.GreaterOrEqual(t, retryAfter, 1)
}

func TestBreaker_StateChangeHook(t *testing.T) {
	var changes []StateChange
	b := New("graph-read", testConfig(), func(c StateChange) {
		changes = append(changes, c)
	})

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	b.Allow()
	b.RecordSuccess()
	b.Allow()
	b.RecordSuccess()

	require.Len(t, changes, 3)
	assert.Equal(t, StateClosed, changes[0].From)
	assert.Equal(t, StateOpen, changes[0].To)
	assert.Equal(t, StateOpen, changes[1].From)
	assert.Equal(t, StateHalfOpen, changes[1].To)
	assert.Equal(t, StateHalfOpen, changes[2].From)
	assert.Equal(t, StateClosed, changes[2].To)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_StatsSnapshot(t *testing.T) {
	b := New("graph-read", testConfig(), nil)
	b.RecordFailure()
	b.RecordFailure()

	stats := b.Stats()
	assert.Equal(t, "graph-read", stats.Name)
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 2, stats.ConsecutiveFailures)
	assert.False(t, stats.LastFailure.IsZero())
}

func TestRegistry_SnapshotOrdered(t *testing.T) {
	r := NewRegistry()
	r.Register(New("graph-write", testConfig(), nil))
	r.Register(New("graph-read", testConfig(), nil))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "graph-read", snap[0].Name)
	assert.Equal(t, "graph-write", snap[1].Name)
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	b := New("graph-read", testConfig(), nil)
	r.Register(b)

	assert.Same(t, b, r.Get("graph-read"))
	assert.Nil(t, r.Get("missing"))
}
