package graph

import (
	"reflect"
	"sort"

	"entitygraph/pkg/domain"
)

// Changed computes the set of permanent ids, drawn from the new graph, whose
// content or graph position differs from the old graph. Three passes, each
// only adding to the set:
//
//  1. structural additions: nodes absent from the old graph, plus their full
//     ancestry path (an addition changes every ancestor's reference set);
//  2. structural moves: targets of edges new to this graph whose incoming
//     source set differs between the versions, plus their ancestry path;
//  3. attribute changes: remaining shared nodes, leaves before root, whose
//     frozen content differs, plus their ancestry path.
//
// Frozen payloads carry lineage reference markers in entity slots, so child
// removal, replacement, and reordering surface in pass 3 as a parent content
// change while a mere child re-versioning does not.
func Changed(old, new *domain.Graph) (map[domain.PermanentID]struct{}, error) {
	if old.LineageID != new.LineageID {
		return nil, domain.LineageMismatchError{Old: old.LineageID, New: new.LineageID}
	}

	changed := map[domain.PermanentID]struct{}{}
	markWithAncestry := func(id domain.PermanentID) {
		changed[id] = struct{}{}
		for _, ancestor := range new.AncestryPaths[id] {
			changed[ancestor] = struct{}{}
		}
	}

	for id := range new.Nodes {
		if _, ok := old.Nodes[id]; !ok {
			markWithAncestry(id)
		}
	}

	for key := range new.Edges {
		if _, ok := old.Edges[key]; ok {
			continue
		}
		if _, ok := old.Nodes[key.Target]; !ok {
			continue
		}
		if !equalSourceSets(old.IncomingSources(key.Target), new.IncomingSources(key.Target)) {
			markWithAncestry(key.Target)
		}
	}

	shared := make([]domain.PermanentID, 0, len(new.Nodes))
	for id := range new.Nodes {
		if _, ok := old.Nodes[id]; ok {
			shared = append(shared, id)
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		li, lj := len(new.AncestryPaths[shared[i]]), len(new.AncestryPaths[shared[j]])
		if li != lj {
			return li > lj
		}
		return shared[i].String() < shared[j].String()
	})
	for _, id := range shared {
		if _, ok := changed[id]; ok {
			continue
		}
		if !equalContent(old.Nodes[id], new.Nodes[id]) {
			markWithAncestry(id)
		}
	}

	return changed, nil
}

// AllNodes returns every node id of the graph as a changed-set, for forced
// commits.
func AllNodes(g *domain.Graph) map[domain.PermanentID]struct{} {
	out := make(map[domain.PermanentID]struct{}, len(g.Nodes))
	for id := range g.Nodes {
		out[id] = struct{}{}
	}
	return out
}

// equalContent compares the version-visible content of two frozen records:
// type, attribute payload, and provenance. Identity bookkeeping is excluded;
// matching permanent ids already imply a shared lineage.
func equalContent(old, new *domain.Record) bool {
	if old.Type != new.Type {
		return false
	}
	if !reflect.DeepEqual(old.Attributes, new.Attributes) {
		return false
	}
	return reflect.DeepEqual(old.Provenance, new.Provenance)
}

func equalSourceSets(a, b map[domain.PermanentID]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
