package graph

import (
	"errors"
	"testing"

	"entitygraph/internal/testutil"
	"entitygraph/pkg/domain"
)

// rebuild captures a graph, applies the mutation, and captures the graph
// again, so both versions share permanent ids.
func rebuild(t *testing.T, root *testutil.Node, mutate func()) (*domain.Graph, *domain.Graph) {
	t.Helper()
	before, err := Build(root)
	if err != nil {
		t.Fatalf("build before: %v", err)
	}
	mutate()
	after, err := Build(root)
	if err != nil {
		t.Fatalf("build after: %v", err)
	}
	return before.Graph, after.Graph
}

func wantChanged(t *testing.T, changed map[domain.PermanentID]struct{}, want ...domain.PermanentID) {
	t.Helper()
	if len(changed) != len(want) {
		t.Fatalf("changed-set size mismatch: got %d, want %d (%v)", len(changed), len(want), changed)
	}
	for _, id := range want {
		if _, ok := changed[id]; !ok {
			t.Fatalf("expected %s in changed-set", id)
		}
	}
}

func TestChangedIdenticalGraphs(t *testing.T) {
	leaf := testutil.NewNode("leaf").SetAttr("v", 1)
	root := testutil.NewNode("doc").SetChild("child", leaf)
	old, new := rebuild(t, root, func() {})
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed)
}

func TestChangedLeafAttributeCascades(t *testing.T) {
	leaf := testutil.NewNode("leaf").SetAttr("v", 1)
	mid := testutil.NewNode("mid").SetChild("down", leaf)
	sibling := testutil.NewNode("leaf").SetAttr("v", 9)
	root := testutil.NewNode("doc").SetChild("a", mid).SetChild("b", sibling)

	old, new := rebuild(t, root, func() { leaf.SetAttr("v", 2) })
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed,
		leaf.Meta().PermanentID,
		mid.Meta().PermanentID,
		root.Meta().PermanentID,
	)
}

func TestChangedStructuralAddition(t *testing.T) {
	existing := testutil.NewNode("item").SetAttr("v", 1)
	root := testutil.NewNode("doc").SetList("items", existing)

	var added *testutil.Node
	old, new := rebuild(t, root, func() {
		added = testutil.NewNode("item").SetAttr("v", 2)
		root.SetList("items", existing, added)
	})
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed, added.Meta().PermanentID, root.Meta().PermanentID)
}

func TestChangedReparentingMarksMovedSubtree(t *testing.T) {
	moved := testutil.NewNode("item").SetAttr("v", 1)
	a := testutil.NewNode("branch").SetChild("holds", moved)
	b := testutil.NewNode("branch")
	quiet := testutil.NewNode("branch").SetAttr("v", "still")
	root := testutil.NewNode("doc").SetChild("a", a).SetChild("b", b).SetChild("c", quiet)

	old, new := rebuild(t, root, func() {
		a.DeleteField("holds")
		b.SetChild("holds", moved)
	})
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed,
		moved.Meta().PermanentID,
		a.Meta().PermanentID,
		b.Meta().PermanentID,
		root.Meta().PermanentID,
	)
	if _, ok := changed[quiet.Meta().PermanentID]; ok {
		t.Fatalf("expected untouched branch to keep its id")
	}
}

func TestChangedRemovalMarksParentOnly(t *testing.T) {
	x := testutil.NewNode("item").SetAttr("v", "x")
	y := testutil.NewNode("item").SetAttr("v", "y")
	root := testutil.NewNode("doc").SetList("items", x, y)

	old, new := rebuild(t, root, func() { root.SetList("items", x) })
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed, root.Meta().PermanentID)
}

func TestChangedReorderMarksParentOnly(t *testing.T) {
	x := testutil.NewNode("item").SetAttr("v", "x")
	y := testutil.NewNode("item").SetAttr("v", "y")
	root := testutil.NewNode("doc").SetList("items", x, y)

	old, new := rebuild(t, root, func() { root.SetList("items", y, x) })
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed, root.Meta().PermanentID)
}

func TestChangedProvenanceRewriteMarksNode(t *testing.T) {
	leaf := testutil.NewNode("leaf").SetAttr("v", 1)
	root := testutil.NewNode("doc").SetChild("child", leaf)

	old, new := rebuild(t, root, func() {
		leaf.SetProvenance("v", domain.SingleProvenance(domain.NewPermanentID()))
	})
	changed, err := Changed(old, new)
	if err != nil {
		t.Fatalf("changed: %v", err)
	}
	wantChanged(t, changed, leaf.Meta().PermanentID, root.Meta().PermanentID)
}

func TestChangedLineageMismatch(t *testing.T) {
	first, err := Build(testutil.NewNode("doc"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := Build(testutil.NewNode("doc"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_, err = Changed(first.Graph, second.Graph)
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
}

func TestAllNodesCoversGraph(t *testing.T) {
	leaf := testutil.NewNode("leaf")
	root := testutil.NewNode("doc").SetChild("child", leaf)
	built, err := Build(root)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	all := AllNodes(built.Graph)
	wantChanged(t, all, root.Meta().PermanentID, leaf.Meta().PermanentID)
}
