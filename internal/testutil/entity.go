// Package testutil provides a configurable in-memory entity implementation
// shared by graph, registry, resolver, and integration tests.
package testutil

import (
	"sort"

	"entitygraph/pkg/domain"
)

// Node is a mutable test entity. Declared fields keep declaration order;
// entity-valued slots are derived from the current payload values, so
// rewiring a child is a plain SetChild/SetList call. All mutators return the
// node for chaining.
type Node struct {
	meta   domain.Meta
	typ    string
	fields []string
	attrs  map[string]any
	kinds  map[string]domain.EdgeKind
	prov   map[string]domain.Provenance
}

// NewNode constructs a node with a freshly minted identity block.
func NewNode(entityType string) *Node {
	return &Node{
		meta:  domain.NewMeta(),
		typ:   entityType,
		attrs: map[string]any{},
		kinds: map[string]domain.EdgeKind{},
		prov:  map[string]domain.Provenance{},
	}
}

// Meta implements domain.Entity.
func (n *Node) Meta() *domain.Meta { return &n.meta }

// EntityType implements domain.Entity.
func (n *Node) EntityType() string { return n.typ }

// Fields implements domain.Entity.
func (n *Node) Fields() []string { return append([]string(nil), n.fields...) }

// Attribute implements domain.Entity.
func (n *Node) Attribute(name string) (any, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// Provenance implements domain.Entity.
func (n *Node) Provenance() map[string]domain.Provenance {
	out := make(map[string]domain.Provenance, len(n.prov))
	for k, v := range n.prov {
		out[k] = v
	}
	return out
}

// References implements domain.Entity by walking declared fields in order
// and emitting one FieldRef per entity-valued slot. Map keys are visited in
// sorted order so traversal is deterministic.
func (n *Node) References() []domain.FieldRef {
	var refs []domain.FieldRef
	for _, field := range n.fields {
		value, ok := n.attrs[field]
		if !ok {
			continue
		}
		switch tv := value.(type) {
		case domain.Entity:
			refs = append(refs, domain.FieldRef{Field: field, Kind: domain.EdgeDirect, Index: -1, Target: tv})
		case []any:
			kind := n.kinds[field]
			if kind == "" {
				kind = domain.EdgeListMember
			}
			for i, item := range tv {
				if ent, ok := item.(domain.Entity); ok {
					refs = append(refs, domain.FieldRef{Field: field, Kind: kind, Index: i, Target: ent})
				}
			}
		case map[string]any:
			keys := make([]string, 0, len(tv))
			for k := range tv {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if ent, ok := tv[k].(domain.Entity); ok {
					refs = append(refs, domain.FieldRef{Field: field, Kind: domain.EdgeMapMember, Index: -1, Key: k, Target: ent})
				}
			}
		}
	}
	return refs
}

// SetAttr declares a field (if new) and assigns a plain payload value.
func (n *Node) SetAttr(field string, value any) *Node {
	n.declare(field)
	n.attrs[field] = value
	return n
}

// SetChild declares a direct nested-entity field.
func (n *Node) SetChild(field string, child *Node) *Node {
	n.declare(field)
	n.attrs[field] = child
	return n
}

// SetList declares a list field. Entity items become ListMember slots; other
// items are opaque payload.
func (n *Node) SetList(field string, items ...any) *Node {
	n.declare(field)
	n.attrs[field] = append([]any(nil), items...)
	n.kinds[field] = domain.EdgeListMember
	return n
}

// SetTuple declares a tuple field: positions are fixed and entity-valued
// slots are tagged TupleMember.
func (n *Node) SetTuple(field string, items ...any) *Node {
	n.declare(field)
	n.attrs[field] = append([]any(nil), items...)
	n.kinds[field] = domain.EdgeTupleMember
	return n
}

// SetSet declares a set field backed by a slice; entity-valued slots are
// tagged SetMember.
func (n *Node) SetSet(field string, items ...any) *Node {
	n.declare(field)
	n.attrs[field] = append([]any(nil), items...)
	n.kinds[field] = domain.EdgeSetMember
	return n
}

// SetMapEntry declares a map field (if new) and assigns one entry.
func (n *Node) SetMapEntry(field, key string, value any) *Node {
	n.declare(field)
	m, ok := n.attrs[field].(map[string]any)
	if !ok {
		m = map[string]any{}
		n.attrs[field] = m
	}
	m[key] = value
	return n
}

// DeleteField removes a declared field entirely.
func (n *Node) DeleteField(field string) *Node {
	for i, f := range n.fields {
		if f == field {
			n.fields = append(n.fields[:i], n.fields[i+1:]...)
			break
		}
	}
	delete(n.attrs, field)
	delete(n.kinds, field)
	delete(n.prov, field)
	return n
}

// SetProvenance overrides the recorded source for a declared field.
func (n *Node) SetProvenance(field string, p domain.Provenance) *Node {
	n.declare(field)
	n.prov[field] = p
	return n
}

// DropProvenance removes a field's provenance entry while keeping the field
// declared, for exercising completeness rules.
func (n *Node) DropProvenance(field string) *Node {
	delete(n.prov, field)
	return n
}

func (n *Node) declare(field string) {
	for _, f := range n.fields {
		if f == field {
			return
		}
	}
	n.fields = append(n.fields, field)
	if _, ok := n.prov[field]; !ok {
		n.prov[field] = domain.NoProvenance()
	}
}
