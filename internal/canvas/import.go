package canvas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// parseImportSnapshot decodes and validates a snapshot read from an
// /canvas import source: schema and canvas id must match, node/edge ids
// must be non-empty and unique, and every edge endpoint must reference an
// existing node. The returned snapshot has its nodes and edges sorted.
func parseImportSnapshot(raw []byte, expectedCanvasID string) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse import snapshot: %w", err)
	}
	if snap.SchemaVersion != schemaVersion {
		return Snapshot{}, fmt.Errorf("unsupported canvas snapshot schema: expected %d, found %d", schemaVersion, snap.SchemaVersion)
	}
	if snap.CanvasID != expectedCanvasID {
		return Snapshot{}, fmt.Errorf("canvas snapshot id mismatch: expected %q, found %q", expectedCanvasID, snap.CanvasID)
	}

	nodeIDs := make(map[string]struct{}, len(snap.Nodes))
	for _, n := range snap.Nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			return Snapshot{}, fmt.Errorf("canvas snapshot contains a node with empty id")
		}
		if _, exists := nodeIDs[id]; exists {
			return Snapshot{}, fmt.Errorf("canvas snapshot has duplicate node id %q", n.ID)
		}
		nodeIDs[id] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(snap.Edges))
	for _, e := range snap.Edges {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return Snapshot{}, fmt.Errorf("canvas snapshot contains an edge with empty id")
		}
		if _, exists := edgeIDs[id]; exists {
			return Snapshot{}, fmt.Errorf("canvas snapshot has duplicate edge id %q", e.ID)
		}
		edgeIDs[id] = struct{}{}
		if _, ok := nodeIDs[e.From]; !ok {
			return Snapshot{}, fmt.Errorf("canvas snapshot edge %q references missing source node %q", e.ID, e.From)
		}
		if _, ok := nodeIDs[e.To]; !ok {
			return Snapshot{}, fmt.Errorf("canvas snapshot edge %q references missing destination node %q", e.ID, e.To)
		}
	}

	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].ID < snap.Edges[j].ID })
	return snap, nil
}
