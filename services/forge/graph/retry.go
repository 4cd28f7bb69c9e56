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
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the
	// first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry.
	BackoffFactor float64

	// JitterFactor spreads waits by up to this fraction either way so
	// concurrent callers do not retry in lockstep.
	JitterFactor float64
}

// DefaultRetryConfig returns the retry posture for graph operations.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// retryableFunc is one attempt. The attempt number starts at 1.
type retryableFunc func(ctx context.Context, attempt int) error

// retryDo runs fn with exponential backoff, retrying only errors that
// retryable classifies as transient. It returns the attempt count and
// the last error. Context cancellation wins over the backoff wait.
func retryDo(ctx context.Context, config RetryConfig, onRetry func(attempt int), fn retryableFunc) (int, error) {
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			return attempt, err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if onRetry != nil {
			onRetry(attempt)
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(jittered(backoff, config.JitterFactor)):
		}

		backoff = nextBackoff(backoff, config.BackoffFactor, config.MaxBackoff)
	}

	return config.MaxAttempts, lastErr
}

// jittered spreads base into [base*(1-j), base*(1+j)].
func jittered(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}

// nextBackoff grows the backoff, capped at max.
func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
