// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianForge/services/forge/audit"
	"github.com/AleutianAI/AleutianForge/services/forge/auth"
	"github.com/AleutianAI/AleutianForge/services/forge/fault"
	"github.com/AleutianAI/AleutianForge/services/forge/graph"
)

// GraphNode is one user-defined node. Its key is the primary identity;
// labels and properties are replaced on every upsert.
type GraphNode struct {
	Key        string         `json:"key" validate:"required"`
	Labels     []string       `json:"labels" validate:"required,min=1"`
	Properties map[string]any `json:"properties"`
}

// GraphRelationship connects two nodes by key. Endpoints must exist
// when the relationship is merged; nodes in the same request count.
type GraphRelationship struct {
	StartKey   string         `json:"start" validate:"required"`
	EndKey     string         `json:"end" validate:"required"`
	Type       string         `json:"type" validate:"required"`
	Properties map[string]any `json:"properties"`
}

// GraphUpsertRequest is the argument document for graph_upsert.
type GraphUpsertRequest struct {
	Nodes         []GraphNode         `json:"nodes" validate:"omitempty,dive"`
	Relationships []GraphRelationship `json:"relationships" validate:"omitempty,dive"`
}

// GraphUpsertResult reports what one atomic upsert changed.
type GraphUpsertResult struct {
	NodesUpserted         int            `json:"nodes_upserted"`
	RelationshipsUpserted int            `json:"relationships_upserted"`
	Counters              graph.Counters `json:"counters"`
}

// GraphQueryRequest is the argument document for graph_query.
type GraphQueryRequest struct {
	Cypher     string         `json:"cypher" validate:"required"`
	Parameters map[string]any `json:"parameters"`
}

// GraphQueryResult carries normalized rows. Truncated is set when the
// row limit cut the result off.
type GraphQueryResult struct {
	Rows      graph.Rows `json:"rows"`
	RowCount  int        `json:"row_count"`
	Truncated bool       `json:"truncated"`
}

type graphTool struct {
	deps Deps
}

func newGraphTool(deps Deps) *graphTool {
	return &graphTool{deps: deps}
}

func (t *graphTool) handleUpsert(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[GraphUpsertRequest](raw)
	if err != nil {
		return nil, err
	}
	if len(req.Nodes) == 0 && len(req.Relationships) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "upsert requires at least one node or relationship")
	}
	if err := t.checkUpsert(req); err != nil {
		return nil, err
	}

	// Relationships can touch nodes of labels this request never
	// names, so their presence invalidates all cached reads.
	var touched []string
	if len(req.Relationships) == 0 {
		touched = nodeLabels(req.Nodes)
	}

	result := &GraphUpsertResult{}
	err = t.deps.Graph.ExecuteWriteTx(ctx, touched, func(tx graph.Tx) error {
		result.Counters = graph.Counters{}

		// Nodes first: relationship endpoints must exist inside the
		// same transaction.
		for _, node := range req.Nodes {
			res, err := tx.Run(ctx, mergeNodeQuery(node.Labels), map[string]any{
				"key":   node.Key,
				"props": orEmpty(node.Properties),
			})
			if err != nil {
				return err
			}
			result.Counters.Add(res.Counters)
		}
		for _, rel := range req.Relationships {
			res, err := tx.Run(ctx, mergeRelationshipQuery(rel.Type), map[string]any{
				"start_key": rel.StartKey,
				"end_key":   rel.EndKey,
				"props":     orEmpty(rel.Properties),
			})
			if err != nil {
				return err
			}
			if len(res.Rows) == 0 || res.Rows[0].Int("matched") == 0 {
				return fault.Newf(fault.KindInvalidInput,
					"relationship endpoint not found: %s-[%s]->%s", rel.StartKey, rel.Type, rel.EndKey)
			}
			result.Counters.Add(res.Counters)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.NodesUpserted = len(req.Nodes)
	result.RelationshipsUpserted = len(req.Relationships)
	t.deps.Audit.Record(audit.GraphWrite(
		auth.SubjectFromContext(ctx), audit.CorrelationFromContext(ctx),
		fmt.Sprintf("%d nodes, %d relationships upserted", len(req.Nodes), len(req.Relationships))))
	return result, nil
}

func (t *graphTool) handleQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[GraphQueryRequest](raw)
	if err != nil {
		return nil, err
	}
	if err := t.deps.Validator.ValidateGraphQuery(req.Cypher); err != nil {
		return nil, err
	}
	for key := range req.Parameters {
		if err := t.deps.Validator.ValidateIdentifier(key); err != nil {
			return nil, fault.Wrap(fault.KindInvalidInput,
				fmt.Sprintf("query parameter %q", key), err)
		}
	}

	rows, err := t.deps.Graph.ExecuteRead(ctx, req.Cypher, req.Parameters)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = graph.Rows{}
	}

	t.deps.Audit.Record(audit.GraphRead(
		auth.SubjectFromContext(ctx), audit.CorrelationFromContext(ctx),
		fmt.Sprintf("%d rows", len(rows))))
	return &GraphQueryResult{
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: len(rows) == t.deps.Graph.RowLimit(),
	}, nil
}

// checkUpsert applies the identifier and property rules to the whole
// document before anything is written.
func (t *graphTool) checkUpsert(req *GraphUpsertRequest) error {
	v := t.deps.Validator
	for _, node := range req.Nodes {
		if err := v.ValidateIdentifier(node.Key); err != nil {
			return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("node key %q", node.Key), err)
		}
		for _, label := range node.Labels {
			if err := v.ValidateIdentifier(label); err != nil {
				return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("node label %q", label), err)
			}
		}
		if err := checkProperties(v, "node", node.Key, node.Properties); err != nil {
			return err
		}
	}
	for _, rel := range req.Relationships {
		if err := v.ValidateIdentifier(rel.StartKey); err != nil {
			return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("relationship start key %q", rel.StartKey), err)
		}
		if err := v.ValidateIdentifier(rel.EndKey); err != nil {
			return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("relationship end key %q", rel.EndKey), err)
		}
		if err := v.ValidateIdentifier(rel.Type); err != nil {
			return fault.Wrap(fault.KindInvalidInput, fmt.Sprintf("relationship type %q", rel.Type), err)
		}
		if err := checkProperties(v, "relationship", rel.Type, rel.Properties); err != nil {
			return err
		}
	}
	return nil
}

func checkProperties(v interface{ ValidateIdentifier(string) error }, what, owner string, props map[string]any) error {
	for key, value := range props {
		if err := v.ValidateIdentifier(key); err != nil {
			return fault.Wrap(fault.KindInvalidInput,
				fmt.Sprintf("%s %q property key %q", what, owner, key), err)
		}
		if err := checkFlatValue(what+" property", key, value); err != nil {
			return err
		}
	}
	return nil
}

// mergeNodeQuery builds the per-node statement. Labels are validated
// identifiers, so splicing them into the text is safe; Cypher cannot
// parameterize labels.
func mergeNodeQuery(labels []string) string {
	var b strings.Builder
	b.WriteString("MERGE (n {key: $key})\nSET n")
	for _, label := range labels {
		b.WriteString(":`")
		b.WriteString(label)
		b.WriteString("`")
	}
	b.WriteString("\nSET n += $props")
	return b.String()
}

// mergeRelationshipQuery builds the per-relationship statement. The
// aggregate RETURN always yields one row; matched 0 means an endpoint
// was missing and the transaction must roll back.
func mergeRelationshipQuery(relType string) string {
	return fmt.Sprintf(
		"MATCH (a {key: $start_key})\nMATCH (b {key: $end_key})\nMERGE (a)-[r:`%s`]->(b)\nSET r += $props\nRETURN count(r) AS matched",
		relType)
}

func nodeLabels(nodes []GraphNode) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, node := range nodes {
		for _, label := range node.Labels {
			if _, dup := seen[label]; dup {
				continue
			}
			seen[label] = struct{}{}
			out = append(out, label)
		}
	}
	return out
}

func orEmpty(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}
