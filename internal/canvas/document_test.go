package canvas

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDocumentEncodeDecodeRoundTrips(t *testing.T) {
	doc := newDocument()
	doc.Nodes["n1"] = Node{ID: "n1", Label: "a", X: 1.5, Y: 2.5}
	doc.Edges["e1"] = Edge{ID: "e1", From: "n1", To: "n1", Label: "self"}

	encoded, err := doc.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := decodeDocument(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(doc, decoded); diff != "" {
		t.Fatalf("document round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeDocumentEmptyBytesYieldsFreshDocument(t *testing.T) {
	doc, err := decodeDocument(nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Nodes) != 0 || len(doc.Edges) != 0 {
		t.Fatalf("expected an empty document, got %+v", doc)
	}
}

func TestEdgeIDsTouchingIsSortedAndMatchesBothEndpoints(t *testing.T) {
	doc := newDocument()
	doc.Edges["e2"] = Edge{ID: "e2", From: "x", To: "n1"}
	doc.Edges["e1"] = Edge{ID: "e1", From: "n1", To: "y"}
	doc.Edges["e3"] = Edge{ID: "e3", From: "x", To: "y"}

	got := doc.edgeIDsTouching("n1")
	want := []string{"e1", "e2"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("edgeIDsTouching(n1) = %v, want %v", got, want)
	}
}

func TestSnapshotSortsNodesAndEdgesByID(t *testing.T) {
	doc := newDocument()
	doc.Nodes["b"] = Node{ID: "b"}
	doc.Nodes["a"] = Node{ID: "a"}
	doc.Edges["y"] = Edge{ID: "y"}
	doc.Edges["x"] = Edge{ID: "x"}

	snap := doc.snapshot("board-1")
	if snap.Nodes[0].ID != "a" || snap.Nodes[1].ID != "b" {
		t.Fatalf("expected nodes sorted by id, got %+v", snap.Nodes)
	}
	if snap.Edges[0].ID != "x" || snap.Edges[1].ID != "y" {
		t.Fatalf("expected edges sorted by id, got %+v", snap.Edges)
	}
}
