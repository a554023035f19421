package canvas

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
)

// document is the canvas' mutable state: a map-backed, last-writer-wins
// register per node/edge id. No lock is taken around a mutation: the
// package assumes a single writer per canvas id, so concurrent writers
// are not merged - the last saved document wins. Only binary-snapshot
// persistence and deterministic rendering are provided.
type document struct {
	Nodes map[string]Node
	Edges map[string]Edge
}

func newDocument() *document {
	return &document{Nodes: make(map[string]Node), Edges: make(map[string]Edge)}
}

func decodeDocument(data []byte) (*document, error) {
	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode canvas document: %w", err)
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]Node)
	}
	if doc.Edges == nil {
		doc.Edges = make(map[string]Edge)
	}
	return doc, nil
}

func (d *document) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, fmt.Errorf("encode canvas document: %w", err)
	}
	return buf.Bytes(), nil
}

func (d *document) snapshot(canvasID string) Snapshot {
	nodes := make([]Node, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, 0, len(d.Edges))
	for _, e := range d.Edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	return Snapshot{
		SchemaVersion: schemaVersion,
		CanvasID:      canvasID,
		Nodes:         nodes,
		Edges:         edges,
	}
}

func (d *document) replaceWithSnapshot(snap Snapshot) {
	d.Nodes = make(map[string]Node, len(snap.Nodes))
	for _, n := range snap.Nodes {
		d.Nodes[n.ID] = n
	}
	d.Edges = make(map[string]Edge, len(snap.Edges))
	for _, e := range snap.Edges {
		d.Edges[e.ID] = e
	}
}

// edgeIDsTouching returns, sorted, every edge id whose From or To equals
// nodeID.
func (d *document) edgeIDsTouching(nodeID string) []string {
	var ids []string
	for id, e := range d.Edges {
		if e.From == nodeID || e.To == nodeID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
