// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_HTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindInvalidInput, http.StatusBadRequest},
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindPermissionDenied, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindConflict, http.StatusConflict},
		{KindTooLarge, http.StatusRequestEntityTooLarge},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindBusy, http.StatusServiceUnavailable},
		{KindDependencyUnavailable, http.StatusServiceUnavailable},
		{KindTimeout, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
		{Kind("mystery"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.HTTPStatus())
		})
	}
}

func TestNew(t *testing.T) {
	f := New(KindInvalidInput, "code exceeds limit")
	assert.Equal(t, KindInvalidInput, f.Kind)
	assert.Equal(t, "code exceeds limit", f.Message)
	assert.Nil(t, f.Err)
	assert.Equal(t, "invalid_input: code exceeds limit", f.Error())
}

func TestNewf(t *testing.T) {
	f := Newf(KindTooLarge, "body exceeds %d bytes", 1048576)
	assert.Equal(t, "body exceeds 1048576 bytes", f.Message)
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	f := Wrap(KindDependencyUnavailable, "graph database unavailable", cause)

	assert.Equal(t, KindDependencyUnavailable, f.Kind)
	assert.ErrorIs(t, f, cause)
	assert.Contains(t, f.Error(), "connection refused")
}

func TestWrap_PreservesSentinels(t *testing.T) {
	sentinel := errors.New("pool exhausted")
	wrapped := fmt.Errorf("acquire session: %w", sentinel)
	f := Wrap(KindBusy, "server busy", wrapped)

	assert.ErrorIs(t, f, sentinel)
}

func TestKindOf(t *testing.T) {
	t.Run("direct fault", func(t *testing.T) {
		f := New(KindRateLimited, "too many requests")
		assert.Equal(t, KindRateLimited, KindOf(f))
	})

	t.Run("wrapped fault", func(t *testing.T) {
		f := New(KindNotFound, "artifact not found")
		err := fmt.Errorf("lookup: %w", f)
		assert.Equal(t, KindNotFound, KindOf(err))
	})

	t.Run("plain error defaults to internal", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("oops")))
	})

	t.Run("innermost fault wins through double wrap", func(t *testing.T) {
		inner := New(KindTimeout, "query deadline exceeded")
		err := fmt.Errorf("tool execute: %w", fmt.Errorf("graph: %w", inner))
		assert.Equal(t, KindTimeout, KindOf(err))
	})
}

func TestIsKind(t *testing.T) {
	f := New(KindUnauthenticated, "token expired")
	wrapped := fmt.Errorf("auth: %w", f)

	assert.True(t, IsKind(wrapped, KindUnauthenticated))
	assert.False(t, IsKind(wrapped, KindPermissionDenied))
	assert.False(t, IsKind(errors.New("plain"), KindInternal))
}

func TestMessageOf(t *testing.T) {
	t.Run("fault message surfaces", func(t *testing.T) {
		f := New(KindInvalidInput, "identifier contains invalid characters")
		assert.Equal(t, "identifier contains invalid characters", MessageOf(f))
	})

	t.Run("plain error masked", func(t *testing.T) {
		err := errors.New("pq: relation users does not exist")
		assert.Equal(t, "internal error", MessageOf(err))
	})

	t.Run("empty message masked", func(t *testing.T) {
		f := &Fault{Kind: KindInternal}
		assert.Equal(t, "internal error", MessageOf(f))
	})
}

func TestWithDetails(t *testing.T) {
	f := New(KindRateLimited, "too many requests")
	withLimit := f.WithDetails(map[string]any{"limit": 60, "window_s": 60})

	assert.Nil(t, f.Details, "original not mutated")
	assert.Equal(t, 60, withLimit.Details["limit"])
	assert.Equal(t, f.Kind, withLimit.Kind)
}

func TestEnvelopeFor(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		f := New(KindPermissionDenied, "missing permission tools:execute").
			WithDetails(map[string]any{"required": "tools:execute"})
		env := EnvelopeFor(f, "req-123")

		assert.Equal(t, "permission_denied", env.Error.Code)
		assert.Equal(t, "missing permission tools:execute", env.Error.Message)
		assert.Equal(t, "tools:execute", env.Error.Details["required"])
		assert.Equal(t, "req-123", env.RequestID)
	})

	t.Run("unclassified error never leaks internals", func(t *testing.T) {
		err := errors.New("dial tcp 10.0.0.5:7687: connect: connection refused")
		env := EnvelopeFor(err, "req-456")

		require.Equal(t, "internal", env.Error.Code)
		assert.Equal(t, "internal error", env.Error.Message)
		assert.NotContains(t, env.Error.Message, "10.0.0.5")
		assert.Nil(t, env.Error.Details)
	})
}
