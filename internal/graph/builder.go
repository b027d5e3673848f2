// Package graph constructs frozen entity graphs from live roots and computes
// the minimal changed-set between two graph versions of one lineage.
package graph

import (
	"fmt"
	"sort"

	"entitygraph/pkg/domain"
)

// BuiltGraph pairs a frozen graph with the live entities it was frozen from,
// keyed by the permanent ids current at build time. The registry uses the
// live index to update identity blocks in place when changed nodes are
// re-minted.
type BuiltGraph struct {
	Graph *domain.Graph
	Live  map[domain.PermanentID]domain.Entity
}

// queueItem carries one pending traversal hop: the entity to process, the
// proposing parent (zero for the root), and the slot the hop came through.
type queueItem struct {
	entity domain.Entity
	parent domain.PermanentID
	ref    domain.FieldRef
}

// Build traverses every entity reachable from root through declared
// references, breadth first, and returns the complete frozen graph: nodes,
// typed edges, and shortest-path ancestry. It fails with
// CircularReferenceError when a hop would revisit a node already on the
// proposing parent's ancestry path or when the finished edge set still
// closes a directed loop between branches, and with MultipleRootsError when
// the finished traversal holds more than one node without an incoming
// primary edge.
func Build(root domain.Entity) (BuiltGraph, error) {
	if root == nil {
		return BuiltGraph{}, fmt.Errorf("build graph: nil root entity")
	}
	rootMeta := root.Meta()
	if rootMeta == nil || rootMeta.PermanentID.IsZero() || rootMeta.LineageID.IsZero() {
		return BuiltGraph{}, fmt.Errorf("build graph: root entity has no identity")
	}

	g := &domain.Graph{
		RootPermanentID: rootMeta.PermanentID,
		LineageID:       rootMeta.LineageID,
		Nodes:           map[domain.PermanentID]*domain.Record{},
		Edges:           map[domain.EdgeKey]domain.Edge{},
		AncestryPaths:   map[domain.PermanentID][]domain.PermanentID{},
	}
	live := map[domain.PermanentID]domain.Entity{}

	queue := []queueItem{{entity: root}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		meta := item.entity.Meta()
		if meta == nil || meta.PermanentID.IsZero() || meta.LineageID.IsZero() {
			return BuiltGraph{}, fmt.Errorf("build graph: entity under field %q has no identity", item.ref.Field)
		}
		id := meta.PermanentID

		if !item.parent.IsZero() {
			parentPath := g.AncestryPaths[item.parent]
			for _, ancestor := range parentPath {
				if ancestor == id {
					return BuiltGraph{}, domain.CircularReferenceError{
						EntityID: id,
						Path:     append([]domain.PermanentID(nil), parentPath...),
					}
				}
			}
		}

		_, seen := g.Nodes[id]
		if !seen {
			rec, err := freezeEntity(item.entity)
			if err != nil {
				return BuiltGraph{}, fmt.Errorf("freeze entity %s: %w", id, err)
			}
			g.Nodes[id] = rec
			live[id] = item.entity
		}

		if item.parent.IsZero() {
			if _, ok := g.AncestryPaths[id]; !ok {
				g.AncestryPaths[id] = []domain.PermanentID{id}
			}
		} else {
			key := domain.EdgeKey{Source: item.parent, Target: id}
			if _, ok := g.Edges[key]; !ok {
				g.Edges[key] = domain.Edge{
					Kind:  item.ref.Kind,
					Field: item.ref.Field,
					Index: item.ref.Index,
					Key:   item.ref.Key,
				}
			}
			candidate := append(append([]domain.PermanentID{}, g.AncestryPaths[item.parent]...), id)
			existing, hasPath := g.AncestryPaths[id]
			if !hasPath || len(candidate) < len(existing) {
				g.AncestryPaths[id] = candidate
				promotePrimary(g, id, key)
			}
		}

		if !seen {
			for _, ref := range item.entity.References() {
				if ref.Target == nil {
					continue
				}
				queue = append(queue, queueItem{entity: ref.Target, parent: id, ref: ref})
			}
		}
	}

	if roots := parentlessNodes(g); len(roots) != 1 {
		return BuiltGraph{}, domain.MultipleRootsError{RootIDs: roots}
	}
	if loop := edgeCycle(g); loop != nil {
		return BuiltGraph{}, domain.CircularReferenceError{EntityID: loop[0], Path: loop}
	}
	return BuiltGraph{Graph: g, Live: live}, nil
}

// promotePrimary marks winner as the target's primary ownership edge and
// demotes any previous holder.
func promotePrimary(g *domain.Graph, target domain.PermanentID, winner domain.EdgeKey) {
	for key, edge := range g.Edges {
		if key.Target != target {
			continue
		}
		isWinner := key == winner
		if edge.Primary != isWinner {
			edge.Primary = isWinner
			g.Edges[key] = edge
		}
	}
}

// edgeCycle returns one directed loop in the finished edge set as the walk
// it closes over, starting at the revisited node, or nil when the edges form
// no loop. The ancestry check during traversal only sees loops through a
// node's own ancestors; mutual references between branches record both edges
// without tripping it and are caught here. Shared targets without a closing
// edge pass. Traversal order is sorted so the reported loop is deterministic.
func edgeCycle(g *domain.Graph) []domain.PermanentID {
	next := map[domain.PermanentID][]domain.PermanentID{}
	for key := range g.Edges {
		next[key.Source] = append(next[key.Source], key.Target)
	}
	for _, targets := range next {
		sort.Slice(targets, func(i, j int) bool { return targets[i].String() < targets[j].String() })
	}

	const (
		unseen = iota
		onWalk
		settled
	)
	state := map[domain.PermanentID]int{}
	var walk []domain.PermanentID
	var visit func(domain.PermanentID) []domain.PermanentID
	visit = func(id domain.PermanentID) []domain.PermanentID {
		state[id] = onWalk
		walk = append(walk, id)
		for _, target := range next[id] {
			if state[target] == onWalk {
				for i, on := range walk {
					if on == target {
						return append([]domain.PermanentID(nil), walk[i:]...)
					}
				}
			}
			if state[target] == unseen {
				if loop := visit(target); loop != nil {
					return loop
				}
			}
		}
		walk = walk[:len(walk)-1]
		state[id] = settled
		return nil
	}

	ids := make([]domain.PermanentID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if state[id] == unseen {
			if loop := visit(id); loop != nil {
				return loop
			}
		}
	}
	return nil
}

// parentlessNodes returns every node without an incoming primary edge,
// sorted for deterministic error payloads.
func parentlessNodes(g *domain.Graph) []domain.PermanentID {
	owned := map[domain.PermanentID]bool{}
	for key, edge := range g.Edges {
		if edge.Primary {
			owned[key.Target] = true
		}
	}
	var out []domain.PermanentID
	for id := range g.Nodes {
		if !owned[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
