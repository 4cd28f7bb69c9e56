// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics aggregates complexity metrics over stored lint
// artifacts. Every read goes through the graph gateway's cached path,
// so repeated dashboard polls cost one query per lint write.
package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

const (
	hotspotLimit         = 10
	hotspotMinComplexity = 10
)

// Metrics aggregates cyclomatic complexity over a set of lint
// artifacts. Distribution buckets are keyed 0-2, 3-5, 6-10, 11+.
type Metrics struct {
	AvgComplexity       float64        `json:"avg_complexity"`
	MaxComplexity       int            `json:"max_complexity"`
	MinComplexity       int            `json:"min_complexity"`
	TotalSamples        int            `json:"total_samples"`
	HighComplexityCount int            `json:"high_complexity_count"`
	Distribution        map[string]int `json:"complexity_distribution"`
}

// LanguageMetrics is one language's slice of the aggregate, ordered
// most complex first in the report.
type LanguageMetrics struct {
	Language   string  `json:"language"`
	Metrics    Metrics `json:"metrics"`
	SampleSize int     `json:"sample_size"`
}

// Hotspot is one stored artifact worth refactoring attention.
type Hotspot struct {
	CodeHash   string   `json:"code_hash"`
	Complexity int      `json:"complexity"`
	Functions  []string `json:"functions"`
	Classes    []string `json:"classes"`
	Language   string   `json:"language"`
	CreatedAt  string   `json:"created_at,omitempty"`
	Priority   string   `json:"refactor_priority"`
}

// Report is the full complexity picture at one instant.
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Overall     Metrics           `json:"overall"`
	Languages   []LanguageMetrics `json:"languages"`
	Hotspots    []Hotspot         `json:"hotspots"`
}

// Engine computes reports against the graph gateway.
type Engine struct {
	graph *graph.Client
}

func NewEngine(client *graph.Client) *Engine {
	return &Engine{graph: client}
}

const overallQuery = `
MATCH (l:LintResult)
RETURN avg(l.complexity) AS avg_complexity,
       max(l.complexity) AS max_complexity,
       min(l.complexity) AS min_complexity,
       count(l) AS total_samples,
       sum(CASE WHEN l.complexity > 10 THEN 1 ELSE 0 END) AS high_complexity_count,
       sum(CASE WHEN l.complexity <= 2 THEN 1 ELSE 0 END) AS simple_count,
       sum(CASE WHEN l.complexity > 2 AND l.complexity <= 5 THEN 1 ELSE 0 END) AS moderate_count,
       sum(CASE WHEN l.complexity > 5 AND l.complexity <= 10 THEN 1 ELSE 0 END) AS complex_count,
       sum(CASE WHEN l.complexity > 10 THEN 1 ELSE 0 END) AS very_complex_count`

const languageQuery = `
MATCH (l:LintResult)
WHERE l.language IS NOT NULL
WITH l.language AS language, l.complexity AS complexity
RETURN language,
       avg(complexity) AS avg_complexity,
       max(complexity) AS max_complexity,
       min(complexity) AS min_complexity,
       count(*) AS total_samples,
       sum(CASE WHEN complexity > 10 THEN 1 ELSE 0 END) AS high_complexity_count,
       sum(CASE WHEN complexity <= 2 THEN 1 ELSE 0 END) AS simple_count,
       sum(CASE WHEN complexity > 2 AND complexity <= 5 THEN 1 ELSE 0 END) AS moderate_count,
       sum(CASE WHEN complexity > 5 AND complexity <= 10 THEN 1 ELSE 0 END) AS complex_count,
       sum(CASE WHEN complexity > 10 THEN 1 ELSE 0 END) AS very_complex_count
ORDER BY avg_complexity DESC`

const hotspotQuery = `
MATCH (l:LintResult)
WHERE l.complexity >= $min_complexity
RETURN l.code_hash AS code_hash,
       l.complexity AS complexity,
       l.functions AS functions,
       l.classes AS classes,
       l.language AS language,
       l.created_at AS created_at
ORDER BY l.complexity DESC
LIMIT $limit`

// Complexity runs the three aggregations concurrently and assembles
// the report. An empty store yields a zeroed report, not an error.
func (e *Engine) Complexity(ctx context.Context) (*Report, error) {
	report := &Report{GeneratedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := e.graph.ExecuteRead(gctx, overallQuery, nil)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			report.Overall = metricsFromRow(rows[0])
		} else {
			report.Overall = metricsFromRow(graph.Row{})
		}
		return nil
	})
	g.Go(func() error {
		rows, err := e.graph.ExecuteRead(gctx, languageQuery, nil)
		if err != nil {
			return err
		}
		report.Languages = make([]LanguageMetrics, 0, len(rows))
		for _, row := range rows {
			report.Languages = append(report.Languages, LanguageMetrics{
				Language:   row.String("language"),
				Metrics:    metricsFromRow(row),
				SampleSize: row.Int("total_samples"),
			})
		}
		return nil
	})
	g.Go(func() error {
		rows, err := e.graph.ExecuteRead(gctx, hotspotQuery, map[string]any{
			"min_complexity": hotspotMinComplexity,
			"limit":          hotspotLimit,
		})
		if err != nil {
			return err
		}
		report.Hotspots = make([]Hotspot, 0, len(rows))
		for _, row := range rows {
			report.Hotspots = append(report.Hotspots, hotspotFromRow(row))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func metricsFromRow(row graph.Row) Metrics {
	return Metrics{
		AvgComplexity:       row.Float("avg_complexity"),
		MaxComplexity:       row.Int("max_complexity"),
		MinComplexity:       row.Int("min_complexity"),
		TotalSamples:        row.Int("total_samples"),
		HighComplexityCount: row.Int("high_complexity_count"),
		Distribution: map[string]int{
			"0-2":  row.Int("simple_count"),
			"3-5":  row.Int("moderate_count"),
			"6-10": row.Int("complex_count"),
			"11+":  row.Int("very_complex_count"),
		},
	}
}

func hotspotFromRow(row graph.Row) Hotspot {
	complexity := row.Int("complexity")
	priority := "MEDIUM"
	if complexity > 20 {
		priority = "HIGH"
	}
	return Hotspot{
		CodeHash:   row.String("code_hash"),
		Complexity: complexity,
		Functions:  row.Strings("functions"),
		Classes:    row.Strings("classes"),
		Language:   row.String("language"),
		CreatedAt:  row.String("created_at"),
		Priority:   priority,
	}
}
