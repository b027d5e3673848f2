package domain

import "context"

// RegistryReader is the read API shared by every registry implementation.
// Reads operate on immutable stored state and never observe a mutation
// mid-flight.
type RegistryReader interface {
	// Get returns any stored version of any node by permanent id.
	Get(id PermanentID) (*Record, error)
	// GetByLineageLatest returns the newest stored version of a lineage.
	GetByLineageLatest(lineage LineageID) (*Record, error)
	// GetLive returns the live entity registered under an ephemeral id in
	// this process run.
	GetLive(id EphemeralID) (Entity, error)
	// Graph returns the stored graph whose root version has the given id.
	Graph(rootID PermanentID) (*Graph, error)
	// History returns the ordered root permanent ids of a tree lineage,
	// oldest first.
	History(lineage LineageID) ([]PermanentID, error)
	// LineagesOfType returns every lineage whose entities declare the type.
	LineagesOfType(entityType string) []LineageID
	// Resolve evaluates a reference pointer and returns the resolved value
	// together with the chain of entity permanent ids traversed.
	Resolve(pointer string) (any, []PermanentID, error)
}

// RegistryWriter is the mutation API. Both operations are append-only and
// all-or-nothing: a returned error means no state changed.
type RegistryWriter interface {
	// Register stores the first version of a tree rooted at entity.
	Register(ctx context.Context, entity Entity) (Result, error)
	// Commit re-versions the tree the entity belongs to, minting new
	// permanent ids for changed nodes only, and reports whether anything
	// changed. With force set every node is treated as changed.
	Commit(ctx context.Context, entity Entity, force bool) (bool, Result, error)
	// Discard drops a superseded tree version from the store. The latest
	// version of a lineage cannot be discarded.
	Discard(ctx context.Context, rootID PermanentID) error
}

// PersistentRegistry is a minimal abstraction over durable registry
// backends. It mirrors the in-memory registry's capabilities plus snapshot
// duties used by snapshotting drivers.
type PersistentRegistry interface {
	RegistryReader
	RegistryWriter
	// Snapshot exports the full stored state. Live ephemeral handles are
	// not part of a snapshot.
	Snapshot() (Snapshot, error)
	// Close releases any underlying resources.
	Close() error
}

// SnapshotSchemaVersion identifies the snapshot wire layout produced by this
// package.
const SnapshotSchemaVersion = 1

// Snapshot is the portable export of a registry's stored state. Ephemeral
// ids are zeroed on import; they are per-run handles, not durable identity.
type Snapshot struct {
	SchemaVersion  int                         `json:"schema_version"`
	Graphs         []*Graph                    `json:"graphs"`
	LineageHistory map[LineageID][]PermanentID `json:"lineage_history"`
	TypeIndex      map[string][]LineageID      `json:"type_index"`
}
