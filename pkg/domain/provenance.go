package domain

// ProvenanceKind tags the container shape of a provenance entry. It mirrors
// the shape of the field it annotates.
type ProvenanceKind string

// Provenance shapes.
const (
	// ProvenanceNone marks a self-originated or unknown-source value.
	ProvenanceNone ProvenanceKind = ""
	// ProvenanceSingle records one source entity for a scalar field.
	ProvenanceSingle ProvenanceKind = "single"
	// ProvenanceList records one source per element of a sequence field.
	ProvenanceList ProvenanceKind = "list"
	// ProvenanceMap records one source per key of a map field.
	ProvenanceMap ProvenanceKind = "map"
)

// Provenance records the authoritative source of one field's value: the
// permanent id of the entity version the value was derived from, shaped like
// the field's container. The zero value means "no source". Provenance is
// content: it is frozen with the record that carries it and is never
// rewritten when ids are re-minted, so it always names the source versions
// that were authoritative when the value was produced.
type Provenance struct {
	Kind      ProvenanceKind         `json:"kind,omitempty"`
	Source    PermanentID            `json:"source,omitempty"`
	Sources   []PermanentID          `json:"sources,omitempty"`
	SourceMap map[string]PermanentID `json:"source_map,omitempty"`
}

// NoProvenance returns the explicit "self-originated" entry.
func NoProvenance() Provenance {
	return Provenance{}
}

// SingleProvenance records one source for a scalar field.
func SingleProvenance(source PermanentID) Provenance {
	return Provenance{Kind: ProvenanceSingle, Source: source}
}

// ListProvenance records per-element sources for a sequence field.
func ListProvenance(sources ...PermanentID) Provenance {
	return Provenance{Kind: ProvenanceList, Sources: append([]PermanentID(nil), sources...)}
}

// MapProvenance records per-key sources for a map field.
func MapProvenance(sources map[string]PermanentID) Provenance {
	out := make(map[string]PermanentID, len(sources))
	for k, v := range sources {
		out[k] = v
	}
	return Provenance{Kind: ProvenanceMap, SourceMap: out}
}

// IsZero reports whether the entry carries no source.
func (p Provenance) IsZero() bool {
	return p.Kind == ProvenanceNone && p.Source.IsZero() && len(p.Sources) == 0 && len(p.SourceMap) == 0
}

// Clone returns a copy with independent containers.
func (p Provenance) Clone() Provenance {
	out := p
	if p.Sources != nil {
		out.Sources = append([]PermanentID(nil), p.Sources...)
	}
	if p.SourceMap != nil {
		out.SourceMap = make(map[string]PermanentID, len(p.SourceMap))
		for k, v := range p.SourceMap {
			out.SourceMap[k] = v
		}
	}
	return out
}

// CloneProvenanceMap deep-copies a field-to-provenance mapping.
func CloneProvenanceMap(in map[string]Provenance) map[string]Provenance {
	if in == nil {
		return nil
	}
	out := make(map[string]Provenance, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}
