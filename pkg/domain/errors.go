package domain

import (
	"fmt"
	"strings"
)

// CircularReferenceError reports that graph traversal revisited an entity:
// a hop landed on the proposing parent's ancestry path, or the finished edge
// set closed a directed loop between branches. Path holds the walk the
// entity already appears on, EntityID the revisited node. The build that
// raised it made no registry change.
type CircularReferenceError struct {
	EntityID PermanentID
	Path     []PermanentID
}

func (e CircularReferenceError) Error() string {
	segs := make([]string, 0, len(e.Path))
	for _, id := range e.Path {
		segs = append(segs, id.String())
	}
	return fmt.Sprintf("circular reference: entity %s already on ancestry path %s", e.EntityID, strings.Join(segs, " -> "))
}

// MultipleRootsError reports that more than one entity in a single reachable
// set qualifies as a root.
type MultipleRootsError struct {
	RootIDs []PermanentID
}

func (e MultipleRootsError) Error() string {
	segs := make([]string, 0, len(e.RootIDs))
	for _, id := range e.RootIDs {
		segs = append(segs, id.String())
	}
	return fmt.Sprintf("multiple roots discovered in one traversal: %s", strings.Join(segs, ", "))
}

// NotARootError reports a register call on an entity that is embedded in
// another tree.
type NotARootError struct {
	EntityID PermanentID
}

func (e NotARootError) Error() string {
	return fmt.Sprintf("entity %s is not a root", e.EntityID)
}

// LineageNotFoundError reports an operation on a lineage with no prior
// registration.
type LineageNotFoundError struct {
	LineageID LineageID
}

func (e LineageNotFoundError) Error() string {
	return fmt.Sprintf("lineage %s not registered", e.LineageID)
}

// AlreadyRegisteredError reports a register call for a lineage that already
// has a stored graph; new versions of a known lineage go through commit.
type AlreadyRegisteredError struct {
	LineageID LineageID
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("lineage %s already registered", e.LineageID)
}

// LineageMismatchError reports a diff attempt between graphs of different
// lineages.
type LineageMismatchError struct {
	Old LineageID
	New LineageID
}

func (e LineageMismatchError) Error() string {
	return fmt.Sprintf("graphs belong to different lineages: %s vs %s", e.Old, e.New)
}

// EntityNotFoundError reports a lookup of a permanent or ephemeral id the
// registry does not hold.
type EntityNotFoundError struct {
	ID string
}

func (e EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.ID)
}

// FieldNotFoundError reports a reference path segment naming a field the
// addressed entity does not declare.
type FieldNotFoundError struct {
	EntityID PermanentID
	Field    string
}

func (e FieldNotFoundError) Error() string {
	return fmt.Sprintf("entity %s has no field %q", e.EntityID, e.Field)
}

// IndexError reports a reference path segment indexing outside a sequence
// field's bounds.
type IndexError struct {
	EntityID PermanentID
	Field    string
	Index    int
	Length   int
}

func (e IndexError) Error() string {
	return fmt.Sprintf("entity %s field %q: index %d out of range (length %d)", e.EntityID, e.Field, e.Index, e.Length)
}

// KeyNotFoundError reports a reference path segment using a key absent from
// a map field.
type KeyNotFoundError struct {
	EntityID PermanentID
	Field    string
	Key      string
}

func (e KeyNotFoundError) Error() string {
	return fmt.Sprintf("entity %s field %q: key %q not found", e.EntityID, e.Field, e.Key)
}

// MalformedReferenceError reports a pointer string that does not match the
// reference grammar. Position is the byte offset of the offending segment.
type MalformedReferenceError struct {
	Pointer  string
	Position int
	Reason   string
}

func (e MalformedReferenceError) Error() string {
	return fmt.Sprintf("malformed reference %q at offset %d: %s", e.Pointer, e.Position, e.Reason)
}

// LatestVersionError reports a discard attempt on the newest version of a
// lineage; only superseded versions may be discarded.
type LatestVersionError struct {
	RootID PermanentID
}

func (e LatestVersionError) Error() string {
	return fmt.Sprintf("graph %s is the latest version of its lineage", e.RootID)
}
