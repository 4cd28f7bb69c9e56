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
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// retryable reports whether another attempt could plausibly succeed.
// Connectivity failures and server-transient errors qualify; client
// mistakes (syntax, constraints, bad parameters) and blown deadlines
// do not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if neo4j.IsConnectivityError(err) {
		return true
	}

	var dbErr *neo4j.Neo4jError
	if errors.As(err, &dbErr) {
		code := dbErr.Code
		switch {
		case strings.HasPrefix(code, "Neo.TransientError."):
			return true
		case code == "Neo.ClientError.Security.AuthorizationExpired":
			return true
		case code == "Neo.ClientError.Cluster.NotALeader":
			return true
		case code == "Neo.ClientError.General.DatabaseUnavailable":
			return true
		}
	}
	return false
}

// dependencyFailure reports whether the error says something about the
// database's health, which is what the circuit breakers count. A
// syntax error proves the database answered; it must not trip a
// breaker.
func dependencyFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if neo4j.IsConnectivityError(err) {
		return true
	}
	var dbErr *neo4j.Neo4jError
	if errors.As(err, &dbErr) {
		return strings.HasPrefix(dbErr.Code, "Neo.TransientError.") ||
			dbErr.Code == "Neo.ClientError.General.DatabaseUnavailable"
	}
	// Callers abort transactions with their own faults (bad input,
	// missing endpoints). The database answered; the breaker must not
	// hear about it.
	var f *fault.Fault
	if errors.As(err, &f) {
		switch fault.KindOf(err) {
		case fault.KindInvalidInput, fault.KindConflict, fault.KindNotFound, fault.KindPermissionDenied:
			return false
		}
		return true
	}
	// Unrecognized errors count against the dependency; an optimistic
	// default would let a broken driver hold a breaker closed forever.
	return true
}

// classifyErr converts driver and context errors into faults. Errors
// that already carry a fault pass through unchanged.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var f *fault.Fault
	if errors.As(err, &f) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fault.Wrap(fault.KindTimeout, "graph operation timed out", err)
	case errors.Is(err, context.Canceled):
		return fault.Wrap(fault.KindTimeout, "graph operation canceled", err)
	case neo4j.IsConnectivityError(err):
		return fault.Wrap(fault.KindDependencyUnavailable, "graph database unreachable", err)
	}

	var dbErr *neo4j.Neo4jError
	if errors.As(err, &dbErr) {
		code := dbErr.Code
		switch {
		case strings.Contains(code, "Schema.ConstraintValidationFailed"):
			return fault.Wrap(fault.KindConflict, "write conflicts with existing data", err)
		case strings.Contains(code, "Statement.SyntaxError"):
			return fault.Wrap(fault.KindInvalidInput, "query syntax rejected", err)
		case strings.Contains(code, "Statement.ParameterMissing"),
			strings.Contains(code, "Statement.TypeError"):
			return fault.Wrap(fault.KindInvalidInput, "query parameters rejected", err)
		case strings.HasPrefix(code, "Neo.TransientError."):
			return fault.Wrap(fault.KindDependencyUnavailable, "graph database overloaded", err)
		case strings.Contains(code, "Security."):
			return fault.Wrap(fault.KindInternal, "graph authentication failed", err)
		}
	}

	return fault.Wrap(fault.KindInternal, "graph operation failed", err)
}
