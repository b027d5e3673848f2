package ref

import (
	"entitygraph/pkg/domain"
)

// Source supplies the stored records a resolver walks. GraphFor returns the
// graph version that contains a record, so reference hops stay pinned to
// the snapshot the referencing record was frozen in.
type Source interface {
	Record(id domain.PermanentID) (*domain.Record, bool)
	GraphFor(id domain.PermanentID) (*domain.Graph, bool)
}

// Resolve walks a pointer against stored records and returns the addressed
// value together with the permanent ids of every record traversed, starting
// with the pointer's own id. A step that fetches an entity reference hops to
// the referenced record before the next segment applies, so resolving
// against an old root keeps yielding the attribute values of that version.
//
// The entire walk happens inside one graph version: the graph containing the
// pointer's addressed id, fixed before the first segment applies. A record
// shared between versions belongs to several graphs whose edge targets
// differ, so deriving the graph from the record currently holding the
// reference would let a walk that starts at a new root slide into an older
// version midway.
func Resolve(src Source, pointer string) (any, []domain.PermanentID, error) {
	id, segments, err := Parse(pointer)
	if err != nil {
		return nil, nil, err
	}
	rec, ok := src.Record(id)
	if !ok {
		return nil, nil, domain.EntityNotFoundError{ID: id.String()}
	}
	pinned, _ := src.GraphFor(id)
	chain := []domain.PermanentID{id}
	var current any = rec
	lastField := ""
	for _, seg := range segments {
		holder := chain[len(chain)-1]
		switch seg.Kind {
		case SegmentField:
			r, ok := current.(*domain.Record)
			if !ok {
				return nil, nil, domain.FieldNotFoundError{EntityID: holder, Field: seg.Field}
			}
			value, ok := r.Attribute(seg.Field)
			if !ok {
				return nil, nil, domain.FieldNotFoundError{EntityID: holder, Field: seg.Field}
			}
			lastField = seg.Field
			current = value
		case SegmentIndex:
			list, ok := current.([]any)
			if !ok {
				return nil, nil, domain.IndexError{EntityID: holder, Field: lastField, Index: seg.Index, Length: 0}
			}
			if seg.Index < 0 || seg.Index >= len(list) {
				return nil, nil, domain.IndexError{EntityID: holder, Field: lastField, Index: seg.Index, Length: len(list)}
			}
			current = list[seg.Index]
		case SegmentKey:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, nil, domain.KeyNotFoundError{EntityID: holder, Field: lastField, Key: seg.Key}
			}
			value, ok := m[seg.Key]
			if !ok {
				return nil, nil, domain.KeyNotFoundError{EntityID: holder, Field: lastField, Key: seg.Key}
			}
			current = value
		}
		if marker, ok := current.(domain.Reference); ok {
			target, err := follow(src, pinned, holder, marker)
			if err != nil {
				return nil, nil, err
			}
			chain = append(chain, target.Meta.PermanentID)
			current = target
		}
	}
	return current, chain, nil
}

// follow hops from a record holding an entity reference to the referenced
// record inside the pinned graph. Sources that track no containing graph
// for the walk's start fall back to the graph of the holding record.
func follow(src Source, pinned *domain.Graph, holder domain.PermanentID, marker domain.Reference) (*domain.Record, error) {
	g := pinned
	if g == nil {
		var ok bool
		g, ok = src.GraphFor(holder)
		if !ok {
			return nil, domain.EntityNotFoundError{ID: holder.String()}
		}
	}
	target, ok := g.NodeByLineage(marker.Lineage)
	if !ok {
		return nil, domain.LineageNotFoundError{LineageID: marker.Lineage}
	}
	return target, nil
}
