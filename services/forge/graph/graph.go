// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph is the single gateway to the graph database.
//
// Every read and write in the service funnels through Client, which
// layers, in order: a read cache for pure queries, per-direction
// circuit breakers, bounded retry with jittered backoff, and per-query
// deadlines. Callers upstream see faults, never driver errors.
//
// The neo4j driver sits behind the Executor seam so the layering can
// be tested against a fake without a running database. Row values
// coming out of the driver are normalized to JSON-safe shapes before
// they cross the seam; nothing above this package handles driver
// types.
package graph

import (
	"context"
)

// Row is one normalized result record: column name to JSON-safe value.
type Row map[string]any

// Counters reports what a write changed.
type Counters struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
	LabelsAdded          int `json:"labels_added"`
}

// Add accumulates another set of counters, for callers that sum the
// effect of several statements in one transaction.
func (c *Counters) Add(other Counters) {
	c.NodesCreated += other.NodesCreated
	c.NodesDeleted += other.NodesDeleted
	c.RelationshipsCreated += other.RelationshipsCreated
	c.RelationshipsDeleted += other.RelationshipsDeleted
	c.PropertiesSet += other.PropertiesSet
	c.LabelsAdded += other.LabelsAdded
}

// Result is the outcome of one statement.
type Result struct {
	Rows     Rows     `json:"rows"`
	Counters Counters `json:"counters"`
}

// Rows is a normalized record list.
type Rows []Row

// Typed accessors over normalized values. Missing keys and foreign
// types fall back to zero values; readers treat absent fields as
// empty, not as errors.

func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Row) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

func (r Row) Int(key string) int {
	switch n := r[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func (r Row) Float(key string) float64 {
	switch n := r[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func (r Row) Strings(key string) []string {
	out := []string{}
	switch seq := r[key].(type) {
	case []string:
		return append(out, seq...)
	case []any:
		for _, item := range seq {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Tx runs statements inside one write transaction.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]any) (*Result, error)
}

// Executor is the raw database seam. The production implementation
// wraps the neo4j driver; tests substitute a fake. Implementations
// return normalized rows and do not retry.
type Executor interface {
	// Read runs a query in a read session.
	Read(ctx context.Context, query string, params map[string]any) (*Result, error)

	// Write runs a single statement in a write transaction.
	Write(ctx context.Context, query string, params map[string]any) (*Result, error)

	// WriteTx runs fn inside one write transaction; fn returning an
	// error rolls everything back.
	WriteTx(ctx context.Context, fn func(tx Tx) error) error

	// VerifyConnectivity checks the database is reachable.
	VerifyConnectivity(ctx context.Context) error

	// Close releases the underlying driver.
	Close(ctx context.Context) error
}
