package domain

import (
	"bytes"
	"fmt"
)

// EdgeKind tags the container shape through which a relationship was
// declared.
type EdgeKind string

// Edge kinds, one per supported container shape.
const (
	// EdgeDirect is a scalar nested-entity field.
	EdgeDirect EdgeKind = "direct"
	// EdgeListMember is one entity-valued element of a list field.
	EdgeListMember EdgeKind = "list_member"
	// EdgeMapMember is one entity-valued entry of a map field.
	EdgeMapMember EdgeKind = "map_member"
	// EdgeSetMember is one entity-valued element of a set field.
	EdgeSetMember EdgeKind = "set_member"
	// EdgeTupleMember is one entity-valued position of a tuple field.
	EdgeTupleMember EdgeKind = "tuple_member"
)

// EdgeKey addresses an edge by its endpoints. At most one descriptor is
// stored per (source, target) pair; when several slots of one source point at
// the same target, the first-discovered descriptor holds the key.
type EdgeKey struct {
	Source PermanentID
	Target PermanentID
}

// MarshalText encodes the key as "<source>-><target>" so edge maps can be
// serialized as JSON objects.
func (k EdgeKey) MarshalText() ([]byte, error) {
	return []byte(k.Source.String() + "->" + k.Target.String()), nil
}

// UnmarshalText decodes the "<source>-><target>" form.
func (k *EdgeKey) UnmarshalText(b []byte) error {
	parts := bytes.SplitN(b, []byte("->"), 2)
	if len(parts) != 2 {
		return fmt.Errorf("malformed edge key %q", string(b))
	}
	source, err := ParsePermanentID(string(parts[0]))
	if err != nil {
		return fmt.Errorf("edge key source: %w", err)
	}
	target, err := ParsePermanentID(string(parts[1]))
	if err != nil {
		return fmt.Errorf("edge key target: %w", err)
	}
	k.Source = source
	k.Target = target
	return nil
}

// Edge describes one declared relationship: the container shape it came
// from, the declaring field, the position within the container, and whether
// this edge is the primary ownership path by which the target is reached
// from the root. Index is -1 and Key empty when the shape does not use them.
type Edge struct {
	Kind    EdgeKind `json:"kind"`
	Field   string   `json:"field"`
	Index   int      `json:"index"`
	Key     string   `json:"key,omitempty"`
	Primary bool     `json:"primary"`
}

// Graph is one frozen tree version: the root entity plus every entity
// transitively reachable through declared references, the typed edges
// between them, and the shortest discovered root-to-node ancestry paths.
// Stored graphs are immutable; a commit produces a new Graph rather than
// editing one in place.
type Graph struct {
	RootPermanentID PermanentID                   `json:"root_permanent_id"`
	LineageID       LineageID                     `json:"lineage_id"`
	Nodes           map[PermanentID]*Record       `json:"nodes"`
	Edges           map[EdgeKey]Edge              `json:"edges"`
	AncestryPaths   map[PermanentID][]PermanentID `json:"ancestry_paths"`
}

// Node returns the record stored under the given permanent id.
func (g *Graph) Node(id PermanentID) (*Record, bool) {
	rec, ok := g.Nodes[id]
	return rec, ok
}

// Root returns the root record. It is nil only on a malformed graph.
func (g *Graph) Root() *Record {
	return g.Nodes[g.RootPermanentID]
}

// Ancestry returns a copy of the root-to-node path recorded for the id,
// inclusive of both endpoints.
func (g *Graph) Ancestry(id PermanentID) []PermanentID {
	path, ok := g.AncestryPaths[id]
	if !ok {
		return nil
	}
	return append([]PermanentID(nil), path...)
}

// NodeByLineage returns the node version belonging to the given lineage. A
// graph holds at most one version per lineage.
func (g *Graph) NodeByLineage(lineage LineageID) (*Record, bool) {
	for _, rec := range g.Nodes {
		if rec.Meta.LineageID == lineage {
			return rec, true
		}
	}
	return nil, false
}

// ResolveSlot returns the target reached from source through the given field
// slot. Index is -1 and key empty for direct fields.
func (g *Graph) ResolveSlot(source PermanentID, field string, index int, key string) (PermanentID, bool) {
	for k, e := range g.Edges {
		if k.Source != source || e.Field != field {
			continue
		}
		if e.Index == index && e.Key == key {
			return k.Target, true
		}
	}
	return PermanentID{}, false
}

// IncomingSources returns the set of source ids of every edge arriving at
// the target.
func (g *Graph) IncomingSources(target PermanentID) map[PermanentID]struct{} {
	out := make(map[PermanentID]struct{})
	for k := range g.Edges {
		if k.Target == target {
			out[k.Source] = struct{}{}
		}
	}
	return out
}

// Clone returns a graph with independent maps. Records are immutable and
// shared between the clone and the original.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		RootPermanentID: g.RootPermanentID,
		LineageID:       g.LineageID,
		Nodes:           make(map[PermanentID]*Record, len(g.Nodes)),
		Edges:           make(map[EdgeKey]Edge, len(g.Edges)),
		AncestryPaths:   make(map[PermanentID][]PermanentID, len(g.AncestryPaths)),
	}
	for id, rec := range g.Nodes {
		out.Nodes[id] = rec
	}
	for k, e := range g.Edges {
		out.Edges[k] = e
	}
	for id, path := range g.AncestryPaths {
		out.AncestryPaths[id] = append([]PermanentID(nil), path...)
	}
	return out
}
