package domain

import (
	"encoding/json"
	"testing"
)

func buildTestGraph(t *testing.T) (*Graph, PermanentID, PermanentID) {
	t.Helper()
	root := &Record{Meta: NewMeta(), Type: "doc", Fields: []string{"child"}}
	child := &Record{Meta: NewMeta(), Type: "section", Fields: []string{"text"}}
	rootID := root.Meta.PermanentID
	childID := child.Meta.PermanentID
	g := &Graph{
		RootPermanentID: rootID,
		LineageID:       root.Meta.LineageID,
		Nodes:           map[PermanentID]*Record{rootID: root, childID: child},
		Edges: map[EdgeKey]Edge{
			{Source: rootID, Target: childID}: {Kind: EdgeDirect, Field: "child", Index: -1, Primary: true},
		},
		AncestryPaths: map[PermanentID][]PermanentID{
			rootID:  {rootID},
			childID: {rootID, childID},
		},
	}
	return g, rootID, childID
}

func TestGraphNodeAndRoot(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	if g.Root() == nil || g.Root().Meta.PermanentID != rootID {
		t.Fatalf("unexpected root")
	}
	if _, ok := g.Node(childID); !ok {
		t.Fatalf("expected child node present")
	}
	if _, ok := g.Node(NewPermanentID()); ok {
		t.Fatalf("expected unknown id to be absent")
	}
}

func TestGraphAncestryReturnsCopy(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	path := g.Ancestry(childID)
	if len(path) != 2 || path[0] != rootID || path[1] != childID {
		t.Fatalf("unexpected ancestry path: %v", path)
	}
	path[0] = NewPermanentID()
	if g.AncestryPaths[childID][0] != rootID {
		t.Fatalf("expected stored path untouched")
	}
	if g.Ancestry(NewPermanentID()) != nil {
		t.Fatalf("expected nil path for unknown node")
	}
}

func TestGraphNodeByLineage(t *testing.T) {
	g, _, childID := buildTestGraph(t)
	child := g.Nodes[childID]
	found, ok := g.NodeByLineage(child.Meta.LineageID)
	if !ok || found.Meta.PermanentID != childID {
		t.Fatalf("expected child located by lineage")
	}
	if _, ok := g.NodeByLineage(NewLineageID()); ok {
		t.Fatalf("expected unknown lineage to be absent")
	}
}

func TestGraphResolveSlot(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	target, ok := g.ResolveSlot(rootID, "child", -1, "")
	if !ok || target != childID {
		t.Fatalf("expected direct slot resolved to child")
	}
	if _, ok := g.ResolveSlot(rootID, "missing", -1, ""); ok {
		t.Fatalf("expected unknown field to miss")
	}
	if _, ok := g.ResolveSlot(rootID, "child", 0, ""); ok {
		t.Fatalf("expected index mismatch to miss")
	}
}

func TestGraphIncomingSources(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	sources := g.IncomingSources(childID)
	if len(sources) != 1 {
		t.Fatalf("expected one incoming source, got %d", len(sources))
	}
	if _, ok := sources[rootID]; !ok {
		t.Fatalf("expected root as incoming source")
	}
	if len(g.IncomingSources(rootID)) != 0 {
		t.Fatalf("expected root to have no incoming edges")
	}
}

func TestGraphCloneIsolatesMaps(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	clone := g.Clone()
	delete(clone.Nodes, childID)
	clone.AncestryPaths[childID] = []PermanentID{childID}
	clone.Edges[EdgeKey{Source: childID, Target: rootID}] = Edge{Kind: EdgeDirect, Field: "x", Index: -1}
	if _, ok := g.Node(childID); !ok {
		t.Fatalf("expected original nodes untouched")
	}
	if len(g.Edges) != 1 {
		t.Fatalf("expected original edges untouched")
	}
	if len(g.AncestryPaths[childID]) != 2 {
		t.Fatalf("expected original paths untouched")
	}
}

func TestEdgeKeyTextRoundTrip(t *testing.T) {
	key := EdgeKey{Source: NewPermanentID(), Target: NewPermanentID()}
	text, err := key.MarshalText()
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	var decoded EdgeKey
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if decoded != key {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, key)
	}
}

func TestEdgeKeyUnmarshalRejectsMalformed(t *testing.T) {
	cases := []string{"", "abc", "a->b", NewPermanentID().String() + "->bogus"}
	for _, input := range cases {
		var key EdgeKey
		if err := key.UnmarshalText([]byte(input)); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestGraphJSONRoundTrip(t *testing.T) {
	g, rootID, childID := buildTestGraph(t)
	payload, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}
	var decoded Graph
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal graph: %v", err)
	}
	if decoded.RootPermanentID != rootID || decoded.LineageID != g.LineageID {
		t.Fatalf("identity mismatch after round trip")
	}
	if len(decoded.Nodes) != 2 || len(decoded.Edges) != 1 {
		t.Fatalf("shape mismatch after round trip: %d nodes %d edges", len(decoded.Nodes), len(decoded.Edges))
	}
	edge, ok := decoded.Edges[EdgeKey{Source: rootID, Target: childID}]
	if !ok || edge.Kind != EdgeDirect || !edge.Primary {
		t.Fatalf("edge mismatch after round trip: %+v", edge)
	}
}
