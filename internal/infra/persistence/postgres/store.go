// Package postgres persists the registry state to a PostgreSQL server. The
// in-memory registry stays authoritative; the full snapshot is written
// through after every successful mutation.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"entitygraph/internal/registry"
	"entitygraph/pkg/domain"
)

var _ domain.PersistentRegistry = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentRegistry defaults while
	// allowing overrides via env.
	defaultDSN = "postgres://localhost/entitygraph?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var postgresBuckets = []string{"meta", "graphs", "lineage_history", "type_index"}

// snapshotMeta is the payload of the meta bucket.
type snapshotMeta struct {
	SchemaVersion int `json:"schema_version"`
}

// Store wraps the in-memory registry with write-through snapshot
// persistence to Postgres.
type Store struct {
	*registry.Registry
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the state table exists, and hydrates a fresh
// registry from any persisted snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{Registry: registry.New(engine), db: db}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
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
		if len(payload) == 0 {
			continue
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

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.Registry.Snapshot()
	if err != nil {
		return fmt.Errorf("export state: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
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
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Register stores the first version of a tree, then snapshots to Postgres.
func (s *Store) Register(ctx context.Context, entity domain.Entity) (domain.Result, error) {
	res, err := s.Registry.Register(ctx, entity)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// Commit stores a new version of a registered tree, then snapshots to
// Postgres when nodes changed.
func (s *Store) Commit(ctx context.Context, entity domain.Entity, force bool) (bool, domain.Result, error) {
	committed, res, err := s.Registry.Commit(ctx, entity, force)
	if err != nil || !committed {
		return committed, res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		return committed, res, pErr
	}
	return committed, res, nil
}

// Discard removes a superseded version, then snapshots to Postgres.
func (s *Store) Discard(ctx context.Context, rootID domain.PermanentID) error {
	if err := s.Registry.Discard(ctx, rootID); err != nil {
		return err
	}
	return s.persist(ctx)
}

// RestoreSnapshot replaces the registry state, then snapshots to Postgres.
func (s *Store) RestoreSnapshot(snap domain.Snapshot) error {
	if err := s.Registry.RestoreSnapshot(snap); err != nil {
		return err
	}
	return s.persist(context.Background())
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
