package domain

import (
	"encoding/json"
	"fmt"
)

// referenceMarkerKey is the JSON object key Reference marshals through. A
// payload map consisting solely of this key is reserved for markers and is
// rewritten back into a Reference on decode.
const referenceMarkerKey = "$entity_ref"

// CanonicalizeAttributes normalizes a frozen attribute payload into the
// canonical stored shape: JSON container types (map[string]any, []any,
// float64 numbers) with Reference markers restored as Reference values.
// Canonical payloads compare stably with reflect.DeepEqual across process
// restarts and snapshot round trips.
func CanonicalizeAttributes(attrs map[string]any) (map[string]any, error) {
	if len(attrs) == 0 {
		return map[string]any{}, nil
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize attributes: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("canonicalize attributes: %w", err)
	}
	restored, err := restoreReferences(decoded)
	if err != nil {
		return nil, err
	}
	out, ok := restored.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("canonicalize attributes: unexpected shape %T", restored)
	}
	return out, nil
}

// restoreReferences rewrites marker objects produced by marshaling Reference
// values back into References, recursing through container shapes.
func restoreReferences(v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		if len(tv) == 1 {
			if raw, ok := tv[referenceMarkerKey]; ok {
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("restore reference marker: non-string lineage %v", raw)
				}
				lineage, err := ParseLineageID(s)
				if err != nil {
					return nil, fmt.Errorf("restore reference marker: %w", err)
				}
				return Reference{Lineage: lineage}, nil
			}
		}
		for k, vv := range tv {
			restored, err := restoreReferences(vv)
			if err != nil {
				return nil, err
			}
			tv[k] = restored
		}
		return tv, nil
	case []any:
		for i, vv := range tv {
			restored, err := restoreReferences(vv)
			if err != nil {
				return nil, err
			}
			tv[i] = restored
		}
		return tv, nil
	default:
		return v, nil
	}
}

// recordAlias breaks the UnmarshalJSON recursion.
type recordAlias Record

// UnmarshalJSON decodes a record and restores Reference markers inside its
// attribute payload, so a decoded record compares equal to a freshly frozen
// one.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	if alias.Attributes != nil {
		restored, err := restoreReferences(alias.Attributes)
		if err != nil {
			return err
		}
		alias.Attributes = restored.(map[string]any)
	}
	*r = Record(alias)
	return nil
}
