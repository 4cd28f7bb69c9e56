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
	"encoding/json"
	"io"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/fault"
)

// exportBatch is the page size for export pagination. Small enough to
// stay far under the read row limit, large enough to keep round trips
// reasonable.
const exportBatch = 1000

const exportNodesQuery = `MATCH (n)
RETURN elementId(n) AS element_id, labels(n) AS labels, properties(n) AS properties
ORDER BY element_id SKIP $skip LIMIT $limit`

const exportRelsQuery = `MATCH (a)-[r]->(b)
RETURN elementId(r) AS element_id, type(r) AS type,
       elementId(a) AS start_element_id, elementId(b) AS end_element_id,
       properties(r) AS properties
ORDER BY element_id SKIP $skip LIMIT $limit`

// Export streams the whole graph to w as one JSON document with
// "nodes" and "relationships" arrays. Pagination keeps memory flat;
// concurrent writes during an export may appear in neither or both
// pages, so exports of a live database are advisory snapshots.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	head := struct {
		ExportedAt string `json:"exported_at"`
	}{ExportedAt: time.Now().UTC().Format(time.RFC3339)}

	headJSON, err := json.Marshal(head)
	if err != nil {
		return fault.Wrap(fault.KindInternal, "encoding export header", err)
	}
	// Re-open the header object so the arrays land inside it.
	if _, err := w.Write(headJSON[:len(headJSON)-1]); err != nil {
		return fault.Wrap(fault.KindInternal, "writing export", err)
	}

	nodeCount, err := c.exportPages(ctx, w, `,"nodes":[`, exportNodesQuery)
	if err != nil {
		return err
	}
	relCount, err := c.exportPages(ctx, w, `,"relationships":[`, exportRelsQuery)
	if err != nil {
		return err
	}

	tail := []byte(`,"node_count":` + jsonInt(nodeCount) + `,"relationship_count":` + jsonInt(relCount) + "}\n")
	if _, err := w.Write(tail); err != nil {
		return fault.Wrap(fault.KindInternal, "writing export", err)
	}

	c.log.Info("graph export complete", "nodes", nodeCount, "relationships", relCount)
	return nil
}

// exportPages streams one paginated query as a JSON array, returning
// the element count.
func (c *Client) exportPages(ctx context.Context, w io.Writer, open string, query string) (int, error) {
	if _, err := io.WriteString(w, open); err != nil {
		return 0, fault.Wrap(fault.KindInternal, "writing export", err)
	}

	count := 0
	for skip := 0; ; skip += exportBatch {
		rows, err := c.ExecuteRead(ctx, query, map[string]any{
			"skip":  skip,
			"limit": exportBatch,
		})
		if err != nil {
			return count, err
		}
		for _, row := range rows {
			rowJSON, err := json.Marshal(row)
			if err != nil {
				return count, fault.Wrap(fault.KindInternal, "encoding export row", err)
			}
			if count > 0 {
				if _, err := io.WriteString(w, ","); err != nil {
					return count, fault.Wrap(fault.KindInternal, "writing export", err)
				}
			}
			if _, err := w.Write(rowJSON); err != nil {
				return count, fault.Wrap(fault.KindInternal, "writing export", err)
			}
			count++
		}
		if len(rows) < exportBatch {
			break
		}
	}

	if _, err := io.WriteString(w, "]"); err != nil {
		return count, fault.Wrap(fault.KindInternal, "writing export", err)
	}
	return count, nil
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
