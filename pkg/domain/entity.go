// Package domain defines the core value types of the entity graph store:
// typed identities, versioned entities and their frozen records, per-field
// provenance, graphs with typed edges and ancestry paths, rule evaluation
// primitives, and the error taxonomy shared by every component.
package domain

import "time"

// Meta is the identity and lineage bookkeeping block carried by every entity.
// The registry owns the lifecycle of these fields: it updates a live entity's
// block in place whenever the entity is re-versioned.
type Meta struct {
	// PermanentID names this exact version.
	PermanentID PermanentID `json:"permanent_id"`
	// LineageID is stable across every version of the same conceptual thing.
	LineageID LineageID `json:"lineage_id"`
	// EphemeralID is the process-run-local handle for live lookup.
	EphemeralID EphemeralID `json:"ephemeral_id"`
	// RootPermanentID and RootEphemeralID identify the current root version of
	// the tree this entity is embedded in. Both are zero for a root entity.
	RootPermanentID PermanentID `json:"root_permanent_id"`
	RootEphemeralID EphemeralID `json:"root_ephemeral_id"`
	// PredecessorID is the permanent id of the version this one superseded;
	// zero for the first version of a lineage.
	PredecessorID PermanentID `json:"predecessor_id"`
	// History lists every prior permanent id of this lineage, oldest first.
	History []PermanentID `json:"history,omitempty"`
	// CreatedAt is set once when the lineage's first version is constructed;
	// VersionedAt advances with every re-versioning.
	CreatedAt   time.Time `json:"created_at"`
	VersionedAt time.Time `json:"versioned_at"`
}

// NewMeta mints a complete identity block for a newly constructed entity:
// fresh permanent, lineage, and ephemeral ids and creation timestamps.
func NewMeta() Meta {
	now := time.Now().UTC()
	return Meta{
		PermanentID: NewPermanentID(),
		LineageID:   NewLineageID(),
		EphemeralID: NewEphemeralID(),
		CreatedAt:   now,
		VersionedAt: now,
	}
}

// IsRoot reports whether the entity owns its own tree: an entity with no root
// references set is the root of a (possibly single-node) tree.
func (m Meta) IsRoot() bool {
	return m.RootPermanentID.IsZero() && m.RootEphemeralID.IsZero()
}

// Clone returns a copy with an independent history slice.
func (m Meta) Clone() Meta {
	out := m
	out.History = append([]PermanentID(nil), m.History...)
	return out
}

// FieldRef describes one entity-valued slot of a declared field: which field,
// the container shape it sits in, its position within that container, and the
// live entity occupying the slot. Index is -1 and Key empty when the shape
// does not use them.
type FieldRef struct {
	Field  string
	Kind   EdgeKind
	Index  int
	Key    string
	Target Entity
}

// Entity is implemented by host record types held in the registry. The
// interface enumerates declared fields and entity-valued slots explicitly, at
// the type-definition site, so graph construction never needs runtime
// reflection over arbitrary shapes.
//
// Identity and bookkeeping fields live in Meta and are never part of Fields,
// Attribute, or References. Back-references to ancestors must be modeled as
// plain stored ids inside attribute payloads, never as References entries;
// the graph builder treats everything References returns as an ownership
// candidate and rejects cycles.
type Entity interface {
	// Meta returns the identity block. The registry mutates it in place when
	// the live entity is registered or re-versioned.
	Meta() *Meta
	// EntityType names the declared type for the discovery index.
	EntityType() string
	// Fields lists every declared payload field in declaration order.
	Fields() []string
	// Attribute returns the declared field's full value, entity objects
	// included in place, and whether the field exists.
	Attribute(name string) (any, bool)
	// References enumerates every entity-valued slot in declaration order.
	// The enumeration must agree with the entity values present in attribute
	// payloads.
	References() []FieldRef
	// Provenance maps every declared field to its recorded source. An entry
	// is required for each declared field; the zero Provenance means the
	// value is self-originated.
	Provenance() map[string]Provenance
}

// Reference is the frozen stand-in for an entity-valued slot inside a
// record's attribute payload. It carries the target's lineage rather than a
// permanent id so payload equality is stable across re-versioning; the
// version-exact target is recorded in the graph's edge set.
type Reference struct {
	Lineage LineageID `json:"$entity_ref"`
}

// Record is the frozen, store-owned form of one entity version. Records are
// immutable after construction and therefore safe to share between graph
// versions and concurrent readers. Attribute payloads are held in canonical
// JSON shape (maps, slices, float64 numbers) with Reference markers in
// entity-valued slots.
type Record struct {
	Meta       Meta                  `json:"meta"`
	Type       string                `json:"type"`
	Fields     []string              `json:"fields"`
	Attributes map[string]any        `json:"attributes"`
	Provenance map[string]Provenance `json:"attribute_provenance"`
}

// Attribute returns the frozen payload value for a declared field.
func (r *Record) Attribute(name string) (any, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

// HasField reports whether the field is declared on this record, whether or
// not it currently holds a payload value.
func (r *Record) HasField(name string) bool {
	for _, f := range r.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// WithMeta returns a copy of the record carrying the supplied identity
// block. Payload containers are shared with the receiver; records are
// immutable, so sharing is safe.
func (r *Record) WithMeta(meta Meta) *Record {
	return &Record{
		Meta:       meta,
		Type:       r.Type,
		Fields:     r.Fields,
		Attributes: r.Attributes,
		Provenance: r.Provenance,
	}
}
