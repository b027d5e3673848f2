package graph

import (
	"entitygraph/pkg/domain"
)

// freezeEntity converts a live entity into its immutable stored record:
// identity block cloned, declared fields captured, attribute payloads deep
// cloned with entity slots replaced by lineage reference markers, then
// normalized to canonical JSON shape.
func freezeEntity(e domain.Entity) (*domain.Record, error) {
	fields := append([]string(nil), e.Fields()...)
	attrs := make(map[string]any, len(fields))
	for _, field := range fields {
		value, ok := e.Attribute(field)
		if !ok {
			continue
		}
		attrs[field] = freezeValue(value)
	}
	canonical, err := domain.CanonicalizeAttributes(attrs)
	if err != nil {
		return nil, err
	}
	return &domain.Record{
		Meta:       e.Meta().Clone(),
		Type:       e.EntityType(),
		Fields:     fields,
		Attributes: canonical,
		Provenance: domain.CloneProvenanceMap(e.Provenance()),
	}, nil
}

// freezeValue performs a best-effort recursive clone of common container
// shapes (map[string]any, []any, []string, []map[string]any), replacing
// entity values with lineage Reference markers. Values that are not
// recognized containers are returned as-is; canonicalization handles the
// rest. Cycles inside payload containers are not supported; payload data is
// expected to be acyclic.
func freezeValue(v any) any {
	switch tv := v.(type) {
	case domain.Entity:
		return domain.Reference{Lineage: tv.Meta().LineageID}
	case map[string]any:
		if len(tv) == 0 {
			return map[string]any{}
		}
		m := make(map[string]any, len(tv))
		for k, vv := range tv {
			m[k] = freezeValue(vv)
		}
		return m
	case []any:
		if len(tv) == 0 {
			return []any{}
		}
		s := make([]any, len(tv))
		for i, vv := range tv {
			s[i] = freezeValue(vv)
		}
		return s
	case []string:
		if len(tv) == 0 {
			return []string{}
		}
		s := make([]string, len(tv))
		copy(s, tv)
		return s
	case []map[string]any:
		if len(tv) == 0 {
			return []map[string]any{}
		}
		s := make([]any, len(tv))
		for i, mv := range tv {
			s[i] = freezeValue(map[string]any(mv))
		}
		return s
	default:
		return v
	}
}
