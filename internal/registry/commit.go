package registry

import (
	"context"
	"fmt"
	"sort"

	"entitygraph/internal/graph"
	"entitygraph/pkg/domain"
)

// Register freezes the tree reachable from a root entity and stores it as
// the first version of a new lineage. The entity must be a root and its
// lineage must not be registered already. Live metadata of embedded nodes
// is updated to point at the root only after rule evaluation passes.
func (r *Registry) Register(ctx context.Context, entity domain.Entity) (domain.Result, error) {
	if entity == nil {
		return domain.Result{}, fmt.Errorf("register: nil entity")
	}
	meta := entity.Meta()
	if meta == nil {
		return domain.Result{}, fmt.Errorf("register: entity has no metadata")
	}
	if !meta.IsRoot() {
		return domain.Result{}, domain.NotARootError{EntityID: meta.PermanentID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state
	if _, ok := st.lineageHistory[meta.LineageID]; ok {
		return domain.Result{}, domain.AlreadyRegisteredError{LineageID: meta.LineageID}
	}

	built, err := graph.Build(entity)
	if err != nil {
		return domain.Result{}, err
	}
	if err := rejectEmbeddedRoots(st, built, meta.PermanentID); err != nil {
		return domain.Result{}, err
	}

	// Frozen records are not published yet, so the registry may still stamp
	// the root references they will carry forever.
	for id, rec := range built.Graph.Nodes {
		if id == meta.PermanentID {
			continue
		}
		rec.Meta.RootPermanentID = meta.PermanentID
		rec.Meta.RootEphemeralID = meta.EphemeralID
	}

	next := st.clone()
	next.insertGraph(built.Graph)

	changes := make([]domain.Change, 0, len(built.Graph.Nodes))
	for _, id := range sortedNodeIDs(built.Graph) {
		rec := built.Graph.Nodes[id]
		changes = append(changes, domain.Change{
			Action:      domain.ActionRegister,
			EntityType:  rec.Type,
			PermanentID: id,
			LineageID:   rec.Meta.LineageID,
		})
	}
	res, err := r.engine.Evaluate(ctx, stateView{st: next}, changes)
	if err != nil {
		return domain.Result{}, err
	}
	if res.HasBlocking() {
		return res, domain.RuleViolationError{Result: res}
	}

	for id, live := range built.Live {
		m := live.Meta()
		if id != meta.PermanentID {
			m.RootPermanentID = meta.PermanentID
			m.RootEphemeralID = meta.EphemeralID
		}
		next.ephemeralIndex[m.EphemeralID] = live
	}
	r.state = next
	return res, nil
}

// Commit freezes the current shape of a registered tree and, when anything
// changed, appends a new graph version. Changed nodes are re-versioned
// leaves-first: each receives a fresh permanent id, its predecessor and
// history record the id it replaced, and edges and ancestry paths are
// rewritten to the minted ids. Unchanged nodes keep their permanent ids and
// their already stored records. The entity may be the tree root or any node
// whose metadata still points at a live root. Returns false without storing
// anything when the tree is unchanged and force is not set.
func (r *Registry) Commit(ctx context.Context, entity domain.Entity, force bool) (bool, domain.Result, error) {
	if entity == nil {
		return false, domain.Result{}, fmt.Errorf("commit: nil entity")
	}
	meta := entity.Meta()
	if meta == nil {
		return false, domain.Result{}, fmt.Errorf("commit: entity has no metadata")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state

	rootEntity := entity
	if !meta.IsRoot() {
		live, ok := st.ephemeralIndex[meta.RootEphemeralID]
		if !ok {
			return false, domain.Result{}, domain.LineageNotFoundError{LineageID: meta.LineageID}
		}
		rootEntity = live
	}
	rootMeta := rootEntity.Meta()
	history := st.lineageHistory[rootMeta.LineageID]
	if len(history) == 0 {
		return false, domain.Result{}, domain.LineageNotFoundError{LineageID: rootMeta.LineageID}
	}
	old, ok := st.graphsByRoot[history[len(history)-1]]
	if !ok {
		return false, domain.Result{}, fmt.Errorf("commit: missing graph for latest version %s of lineage %s", history[len(history)-1], rootMeta.LineageID)
	}

	built, err := graph.Build(rootEntity)
	if err != nil {
		return false, domain.Result{}, err
	}
	if err := rejectEmbeddedRoots(st, built, rootMeta.PermanentID); err != nil {
		return false, domain.Result{}, err
	}

	var changed map[domain.PermanentID]struct{}
	if force {
		changed = graph.AllNodes(built.Graph)
	} else {
		changed, err = graph.Changed(old, built.Graph)
		if err != nil {
			return false, domain.Result{}, err
		}
	}
	if len(changed) == 0 {
		return false, domain.Result{}, nil
	}

	now := r.nowFn().UTC()
	minted := mintIDs(built.Graph, changed)
	mapID := func(id domain.PermanentID) domain.PermanentID {
		if fresh, ok := minted[id]; ok {
			return fresh
		}
		return id
	}
	newRoot := mapID(built.Graph.RootPermanentID)

	newGraph := &domain.Graph{
		RootPermanentID: newRoot,
		LineageID:       rootMeta.LineageID,
		Nodes:           make(map[domain.PermanentID]*domain.Record, len(built.Graph.Nodes)),
		Edges:           make(map[domain.EdgeKey]domain.Edge, len(built.Graph.Edges)),
		AncestryPaths:   make(map[domain.PermanentID][]domain.PermanentID, len(built.Graph.AncestryPaths)),
	}
	for id, rec := range built.Graph.Nodes {
		nid := mapID(id)
		if nid == id {
			if stored, ok := st.recordsByPermanent[id]; ok {
				newGraph.Nodes[id] = stored
			} else {
				newGraph.Nodes[id] = rec
			}
			continue
		}
		nm := rec.Meta.Clone()
		nm.PermanentID = nid
		nm.PredecessorID = id
		nm.History = append(nm.History, id)
		nm.VersionedAt = now
		if id != built.Graph.RootPermanentID {
			nm.RootPermanentID = newRoot
			nm.RootEphemeralID = rootMeta.EphemeralID
		}
		newGraph.Nodes[nid] = rec.WithMeta(nm)
	}
	for key, edge := range built.Graph.Edges {
		newGraph.Edges[domain.EdgeKey{Source: mapID(key.Source), Target: mapID(key.Target)}] = edge
	}
	for id, path := range built.Graph.AncestryPaths {
		rewired := make([]domain.PermanentID, len(path))
		for i, step := range path {
			rewired[i] = mapID(step)
		}
		newGraph.AncestryPaths[mapID(id)] = rewired
	}

	next := st.clone()
	next.insertGraph(newGraph)

	mintedOld := make([]domain.PermanentID, 0, len(minted))
	for id := range minted {
		mintedOld = append(mintedOld, id)
	}
	sort.Slice(mintedOld, func(i, j int) bool { return mintedOld[i].String() < mintedOld[j].String() })
	changes := make([]domain.Change, 0, len(mintedOld))
	for _, id := range mintedOld {
		rec := newGraph.Nodes[minted[id]]
		changes = append(changes, domain.Change{
			Action:      domain.ActionCommit,
			EntityType:  rec.Type,
			PermanentID: rec.Meta.PermanentID,
			LineageID:   rec.Meta.LineageID,
			Predecessor: id,
		})
	}
	res, err := r.engine.Evaluate(ctx, stateView{st: next}, changes)
	if err != nil {
		return false, domain.Result{}, err
	}
	if res.HasBlocking() {
		return false, res, domain.RuleViolationError{Result: res}
	}

	for id, live := range built.Live {
		m := live.Meta()
		if nid := mapID(id); nid != id {
			stored := newGraph.Nodes[nid]
			m.PermanentID = nid
			m.PredecessorID = id
			m.History = append([]domain.PermanentID{}, stored.Meta.History...)
			m.VersionedAt = now
		}
		if id != built.Graph.RootPermanentID {
			m.RootPermanentID = newRoot
			m.RootEphemeralID = rootMeta.EphemeralID
		}
		next.ephemeralIndex[m.EphemeralID] = live
	}
	r.state = next
	return true, res, nil
}

// Discard removes a stored graph version and every record that no surviving
// graph references. The latest version of a lineage cannot be discarded.
func (r *Registry) Discard(ctx context.Context, rootID domain.PermanentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state

	g, ok := st.graphsByRoot[rootID]
	if !ok {
		return domain.EntityNotFoundError{ID: rootID.String()}
	}
	history := st.lineageHistory[g.LineageID]
	if len(history) > 0 && history[len(history)-1] == rootID {
		return domain.LatestVersionError{RootID: rootID}
	}

	next := st.clone()
	delete(next.graphsByRoot, rootID)
	kept := make([]domain.PermanentID, 0, len(history)-1)
	for _, id := range history {
		if id != rootID {
			kept = append(kept, id)
		}
	}
	next.lineageHistory[g.LineageID] = kept

	for _, id := range sortedNodeIDs(g) {
		if owner, ok := findOwner(next.graphsByRoot, id); ok {
			next.nodeGraph[id] = owner
			continue
		}
		delete(next.recordsByPermanent, id)
		delete(next.nodeGraph, id)
	}

	// Recompute per-entity latest versions from the surviving history, then
	// drop type index entries for lineages that lost their last record.
	next.latestByLineage = make(map[domain.LineageID]domain.PermanentID, len(st.latestByLineage))
	for _, lineage := range sortedLineages(next.lineageHistory) {
		for _, root := range next.lineageHistory[lineage] {
			version, ok := next.graphsByRoot[root]
			if !ok {
				continue
			}
			for _, id := range sortedNodeIDs(version) {
				next.latestByLineage[version.Nodes[id].Meta.LineageID] = id
			}
		}
	}
	for entityType, lineages := range next.typeIndex {
		filtered := make([]domain.LineageID, 0, len(lineages))
		for _, lineage := range lineages {
			if _, ok := next.latestByLineage[lineage]; ok {
				filtered = append(filtered, lineage)
			}
		}
		if len(filtered) == 0 {
			delete(next.typeIndex, entityType)
			continue
		}
		next.typeIndex[entityType] = filtered
	}

	r.state = next
	return nil
}

// rejectEmbeddedRoots fails a mutation whose tree embeds the live root of
// another registered lineage. Such an entity can only be reached through
// its own registry entry.
func rejectEmbeddedRoots(st *state, built graph.BuiltGraph, rootID domain.PermanentID) error {
	offenders := make([]domain.PermanentID, 0)
	for id, live := range built.Live {
		if id == rootID {
			continue
		}
		m := live.Meta()
		if !m.IsRoot() {
			continue
		}
		if _, registered := st.lineageHistory[m.LineageID]; registered {
			offenders = append(offenders, id)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	sort.Slice(offenders, func(i, j int) bool { return offenders[i].String() < offenders[j].String() })
	return domain.MultipleRootsError{RootIDs: append([]domain.PermanentID{rootID}, offenders...)}
}

// mintIDs assigns fresh permanent ids to every changed node, deepest nodes
// first so that re-versioning mirrors the upward cascade of the diff.
func mintIDs(g *domain.Graph, changed map[domain.PermanentID]struct{}) map[domain.PermanentID]domain.PermanentID {
	ids := make([]domain.PermanentID, 0, len(changed))
	for id := range changed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		li, lj := len(g.AncestryPaths[ids[i]]), len(g.AncestryPaths[ids[j]])
		if li != lj {
			return li > lj
		}
		return ids[i].String() < ids[j].String()
	})
	minted := make(map[domain.PermanentID]domain.PermanentID, len(ids))
	for _, id := range ids {
		minted[id] = domain.NewPermanentID()
	}
	return minted
}

func sortedNodeIDs(g *domain.Graph) []domain.PermanentID {
	ids := make([]domain.PermanentID, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedLineages(history map[domain.LineageID][]domain.PermanentID) []domain.LineageID {
	lineages := make([]domain.LineageID, 0, len(history))
	for lineage := range history {
		lineages = append(lineages, lineage)
	}
	sort.Slice(lineages, func(i, j int) bool { return lineages[i].String() < lineages[j].String() })
	return lineages
}

// findOwner returns the smallest surviving root id whose graph still holds
// the given node version.
func findOwner(graphs map[domain.PermanentID]*domain.Graph, id domain.PermanentID) (domain.PermanentID, bool) {
	var owner domain.PermanentID
	found := false
	for root, g := range graphs {
		if _, ok := g.Nodes[id]; !ok {
			continue
		}
		if !found || root.String() < owner.String() {
			owner = root
			found = true
		}
	}
	return owner, found
}
