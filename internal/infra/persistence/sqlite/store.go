// Package sqlite persists the registry state to a single-file SQLite
// database. The in-memory registry stays authoritative; the full snapshot is
// written through after every successful mutation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"entitygraph/internal/registry"
	"entitygraph/pkg/domain"
)

var _ domain.PersistentRegistry = (*Store)(nil)

// DefaultPath is the database location used when none is configured.
const DefaultPath = "entitygraph.db"

var sqliteBuckets = []string{"meta", "graphs", "lineage_history", "type_index"}

// snapshotMeta is the payload of the meta bucket.
type snapshotMeta struct {
	SchemaVersion int `json:"schema_version"`
}

// Store wraps the in-memory registry with write-through snapshot
// persistence to SQLite.
type Store struct {
	*registry.Registry
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens the database at path, creating parent directories and the
// state table as needed, and hydrates a fresh registry from any persisted
// snapshot. An empty path falls back to DefaultPath.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Registry: registry.New(engine), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var (
		snap  domain.Snapshot
		found bool
	)
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		found = true
		switch bucket {
		case "meta":
			var meta snapshotMeta
			if err := json.Unmarshal(payload, &meta); err != nil {
				return fmt.Errorf("decode meta: %w", err)
			}
			snap.SchemaVersion = meta.SchemaVersion
		case "graphs":
			if err := json.Unmarshal(payload, &snap.Graphs); err != nil {
				return fmt.Errorf("decode graphs: %w", err)
			}
		case "lineage_history":
			if err := json.Unmarshal(payload, &snap.LineageHistory); err != nil {
				return fmt.Errorf("decode lineage history: %w", err)
			}
		case "type_index":
			if err := json.Unmarshal(payload, &snap.TypeIndex); err != nil {
				return fmt.Errorf("decode type index: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if !found {
		return nil
	}
	if err := s.Registry.RestoreSnapshot(snap); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Registry.Snapshot()
	if err != nil {
		return fmt.Errorf("export state: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "meta":
			data, err = json.Marshal(snapshotMeta{SchemaVersion: snap.SchemaVersion})
		case "graphs":
			data, err = json.Marshal(snap.Graphs)
		case "lineage_history":
			data, err = json.Marshal(snap.LineageHistory)
		case "type_index":
			data, err = json.Marshal(snap.TypeIndex)
		}
		if err != nil {
			retErr = err
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return nil
}

// Register stores the first version of a tree, then snapshots to SQLite.
func (s *Store) Register(ctx context.Context, entity domain.Entity) (domain.Result, error) {
	res, err := s.Registry.Register(ctx, entity)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// Commit stores a new version of a registered tree, then snapshots to
// SQLite when nodes changed.
func (s *Store) Commit(ctx context.Context, entity domain.Entity, force bool) (bool, domain.Result, error) {
	committed, res, err := s.Registry.Commit(ctx, entity, force)
	if err != nil || !committed {
		return committed, res, err
	}
	if pErr := s.persist(); pErr != nil {
		return committed, res, pErr
	}
	return committed, res, nil
}

// Discard removes a superseded version, then snapshots to SQLite.
func (s *Store) Discard(ctx context.Context, rootID domain.PermanentID) error {
	if err := s.Registry.Discard(ctx, rootID); err != nil {
		return err
	}
	return s.persist()
}

// RestoreSnapshot replaces the registry state, then snapshots to SQLite.
func (s *Store) RestoreSnapshot(snap domain.Snapshot) error {
	if err := s.Registry.RestoreSnapshot(snap); err != nil {
		return err
	}
	return s.persist()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
