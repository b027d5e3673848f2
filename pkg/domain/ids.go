package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// PermanentID identifies one exact version of an entity: its content and its
// position in the graph. A permanent id is minted once, never reused, and the
// version it names is never mutated in place.
type PermanentID uuid.UUID

// NewPermanentID mints a fresh random permanent id.
func NewPermanentID() PermanentID {
	return PermanentID(uuid.New())
}

// ParsePermanentID parses the canonical string form of a permanent id. The
// nil uuid is rejected: a zero id means "absent" throughout the store.
func ParsePermanentID(s string) (PermanentID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return PermanentID{}, fmt.Errorf("parse permanent id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return PermanentID{}, fmt.Errorf("parse permanent id %q: nil value", s)
	}
	return PermanentID(id), nil
}

// String returns the canonical uuid form.
func (id PermanentID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset.
func (id PermanentID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText implements encoding.TextMarshaler so the id can key JSON maps.
func (id PermanentID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PermanentID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = PermanentID(u)
	return nil
}

// LineageID groups every version of the same conceptual thing. It is assigned
// when the first version is constructed and is stable across all subsequent
// re-versioning.
type LineageID uuid.UUID

// NewLineageID mints a fresh random lineage id.
func NewLineageID() LineageID {
	return LineageID(uuid.New())
}

// ParseLineageID parses the canonical string form of a lineage id, rejecting
// the nil uuid.
func ParseLineageID(s string) (LineageID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return LineageID{}, fmt.Errorf("parse lineage id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return LineageID{}, fmt.Errorf("parse lineage id %q: nil value", s)
	}
	return LineageID(id), nil
}

// String returns the canonical uuid form.
func (id LineageID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset.
func (id LineageID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText implements encoding.TextMarshaler so the id can key JSON maps.
func (id LineageID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *LineageID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = LineageID(u)
	return nil
}

// EphemeralID is a process-run-local handle for fast in-memory lookup of live
// entities. It is regenerated every run and never carries durable identity;
// snapshot import discards any ephemeral id it encounters.
type EphemeralID uuid.UUID

// NewEphemeralID mints a fresh random ephemeral id.
func NewEphemeralID() EphemeralID {
	return EphemeralID(uuid.New())
}

// ParseEphemeralID parses the canonical string form of an ephemeral id,
// rejecting the nil uuid.
func ParseEphemeralID(s string) (EphemeralID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EphemeralID{}, fmt.Errorf("parse ephemeral id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return EphemeralID{}, fmt.Errorf("parse ephemeral id %q: nil value", s)
	}
	return EphemeralID(id), nil
}

// String returns the canonical uuid form.
func (id EphemeralID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether the id is unset.
func (id EphemeralID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText implements encoding.TextMarshaler.
func (id EphemeralID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EphemeralID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = EphemeralID(u)
	return nil
}
