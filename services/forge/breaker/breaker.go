// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker implements per-dependency circuit breakers.
//
// A breaker sits in front of a backing system and converts a run of
// failures into fast rejections so callers stop piling onto a dependency
// that is already down. Reads and writes to the same dependency get
// separate breakers with separate thresholds: a write outage must not
// take cached reads down with it.
//
// Failure classification is the caller's job. The breaker counts
// whatever it is told to count; the graph layer only records failures
// for errors that indicate dependency trouble, never for client
// mistakes like a malformed query.
package breaker

import (
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// State is the breaker position.
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows a bounded number of concurrent probes.
	StateHalfOpen
)

// String returns the wire name for the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// request is allowed through as a probe.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes bounds concurrent in-flight probes while
	// half-open. Requests beyond the bound are rejected.
	HalfOpenMaxProbes int

	// SuccessThreshold is the consecutive-success count that closes the
	// circuit from half-open.
	SuccessThreshold int
}

// DefaultConfig returns the thresholds used for read paths.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 2,
		SuccessThreshold:  2,
	}
}

// StateChange describes a transition, delivered to the observer hook.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Breaker is a named circuit breaker. Safe for concurrent use.
type Breaker struct {
	name     string
	config   Config
	onChange func(StateChange)

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	lastFailure          time.Time
	lastChange           time.Time
}

// New creates a closed breaker. The onChange hook, if non-nil, fires
// under the breaker lock so transitions are delivered in order; hooks
// must not call back into the breaker.
func New(name string, config Config, onChange func(StateChange)) *Breaker {
	return &Breaker{
		name:       name,
		config:     config,
		onChange:   onChange,
		state:      StateClosed,
		lastChange: time.Now(),
	}
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Allow reports whether a request may proceed. In the open state it
// flips to half-open once the reset timeout has elapsed, admitting the
// caller as the first probe. In half-open it admits callers until the
// probe bound is reached; each admitted probe must be settled with
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Sub(b.lastFailure) >= b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen, now)
			b.halfOpenInFlight = 1
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenInFlight < b.config.HalfOpenMaxProbes {
			b.halfOpenInFlight++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess settles a request as successful. Enough consecutive
// successes in half-open close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed, time.Now())
		}
	}
}

// RecordFailure settles a request as failed. Enough consecutive
// failures open the circuit; any failure in half-open reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen, now)
		}

	case StateHalfOpen:
		b.transitionTo(StateOpen, now)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OpenFault builds the rejection error for a request the breaker
// refused. The retry hint is the remaining open window, floored at one
// second so clients never see zero.
func (b *Breaker) OpenFault() error {
	b.mu.Lock()
	remaining := b.config.ResetTimeout - time.Since(b.lastFailure)
	b.mu.Unlock()

	retryAfter := int(remaining.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return fault.New(fault.KindDependencyUnavailable, b.name+" temporarily unavailable").
		WithDetails(map[string]any{
			"dependency":    b.name,
			"retry_after_s": retryAfter,
		})
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Name                 string    `json:"name"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailure          time.Time `json:"last_failure,omitempty"`
	LastStateChange      time.Time `json:"last_state_change"`
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:                 b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		LastFailure:          b.lastFailure,
		LastStateChange:      b.lastChange,
	}
}

// Reset forces the breaker closed. Manual intervention and tests only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed, time.Now())
}

// transitionTo changes state. Caller holds the lock.
func (b *Breaker) transitionTo(next State, now time.Time) {
	if next == b.state {
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
		b.halfOpenInFlight = 0
		b.lastChange = now
		return
	}
	prev := b.state
	b.state = next
	b.lastChange = now
	b.consecutiveSuccesses = 0
	b.halfOpenInFlight = 0
	if next == StateClosed {
		b.consecutiveFailures = 0
	}
	if b.onChange != nil {
		b.onChange(StateChange{Name: b.name, From: prev, To: next, At: now})
	}
}
