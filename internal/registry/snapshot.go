package registry

import (
	"fmt"

	"entitygraph/pkg/domain"
)

// Snapshot exports every stored graph together with the lineage history and
// type index. The export shares immutable records with the registry; callers
// serialize it rather than mutate it.
func (r *Registry) Snapshot() (domain.Snapshot, error) {
	st := r.currentState()
	snap := domain.Snapshot{
		SchemaVersion:  domain.SnapshotSchemaVersion,
		Graphs:         make([]*domain.Graph, 0, len(st.graphsByRoot)),
		LineageHistory: make(map[domain.LineageID][]domain.PermanentID, len(st.lineageHistory)),
		TypeIndex:      make(map[string][]domain.LineageID, len(st.typeIndex)),
	}
	for _, lineage := range sortedLineages(st.lineageHistory) {
		history := st.lineageHistory[lineage]
		snap.LineageHistory[lineage] = append([]domain.PermanentID{}, history...)
		for _, root := range history {
			if g, ok := st.graphsByRoot[root]; ok {
				snap.Graphs = append(snap.Graphs, g)
			}
		}
	}
	for entityType, lineages := range st.typeIndex {
		snap.TypeIndex[entityType] = append([]domain.LineageID{}, lineages...)
	}
	return snap, nil
}

// RestoreSnapshot replaces the registry state with a previously exported
// snapshot. Ephemeral ids are process-scoped, so restored records carry
// zeroed ephemeral references and the live index starts empty; hosts
// re-register live handles by building fresh entities from the records.
func (r *Registry) RestoreSnapshot(snap domain.Snapshot) error {
	if snap.SchemaVersion != domain.SnapshotSchemaVersion {
		return fmt.Errorf("restore snapshot: unsupported schema version %d", snap.SchemaVersion)
	}
	byRoot := make(map[domain.PermanentID]*domain.Graph, len(snap.Graphs))
	for i, g := range snap.Graphs {
		if g == nil {
			return fmt.Errorf("restore snapshot: graph %d is nil", i)
		}
		if g.RootPermanentID.IsZero() {
			return fmt.Errorf("restore snapshot: graph %d has no root permanent id", i)
		}
		if _, ok := g.Nodes[g.RootPermanentID]; !ok {
			return fmt.Errorf("restore snapshot: graph %s does not contain its own root", g.RootPermanentID)
		}
		if _, ok := byRoot[g.RootPermanentID]; ok {
			return fmt.Errorf("restore snapshot: duplicate graph for root %s", g.RootPermanentID)
		}
		byRoot[g.RootPermanentID] = sanitizeGraph(g)
	}

	st := newState()
	restored := 0
	for _, lineage := range sortedLineages(snap.LineageHistory) {
		history := snap.LineageHistory[lineage]
		for _, root := range history {
			g, ok := byRoot[root]
			if !ok {
				return fmt.Errorf("restore snapshot: lineage %s references missing graph %s", lineage, root)
			}
			if g.LineageID != lineage {
				return fmt.Errorf("restore snapshot: graph %s belongs to lineage %s, history lists it under %s", root, g.LineageID, lineage)
			}
			st.indexGraph(g)
			restored++
		}
		st.lineageHistory[lineage] = append([]domain.PermanentID{}, history...)
	}
	if restored != len(byRoot) {
		return fmt.Errorf("restore snapshot: %d graphs are not referenced by any lineage history", len(byRoot)-restored)
	}
	if len(snap.TypeIndex) > 0 {
		st.typeIndex = make(map[string][]domain.LineageID, len(snap.TypeIndex))
		for entityType, lineages := range snap.TypeIndex {
			st.typeIndex[entityType] = append([]domain.LineageID{}, lineages...)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = st
	return nil
}

// sanitizeGraph copies a graph for restore, zeroing the ephemeral references
// its records carried in the exporting process. Records without ephemeral
// state are shared as-is.
func sanitizeGraph(g *domain.Graph) *domain.Graph {
	clean := g.Clone()
	for id, rec := range clean.Nodes {
		if rec == nil {
			continue
		}
		if rec.Meta.EphemeralID.IsZero() && rec.Meta.RootEphemeralID.IsZero() {
			continue
		}
		meta := rec.Meta.Clone()
		meta.EphemeralID = domain.EphemeralID{}
		meta.RootEphemeralID = domain.EphemeralID{}
		clean.Nodes[id] = rec.WithMeta(meta)
	}
	return clean
}
