package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"entitygraph/internal/testutil"
	"entitygraph/pkg/domain"
)

func TestStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()

	child := testutil.NewNode("sensor").SetAttr("x", 1)
	root := testutil.NewNode("station").SetChild("child", child)
	if _, err := store.Register(ctx, root); err != nil {
		t.Fatalf("register: %v", err)
	}
	v1 := root.Meta().PermanentID
	lineage := root.Meta().LineageID

	child.SetAttr("x", 2)
	committed, _, err := store.Commit(ctx, root, false)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !committed {
		t.Fatalf("expected commit to store a new version")
	}
	v2 := root.Meta().PermanentID

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close() }()

	history, err := reloaded.History(lineage)
	if err != nil {
		t.Fatalf("history after reload: %v", err)
	}
	if len(history) != 2 || history[0] != v1 || history[1] != v2 {
		t.Fatalf("unexpected history after reload: %v", history)
	}
	if value, _, err := reloaded.Resolve("@" + v1.String() + ".child.x"); err != nil || value != float64(1) {
		t.Fatalf("old version resolve = %v, %v", value, err)
	}
	if value, _, err := reloaded.Resolve("@" + v2.String() + ".child.x"); err != nil || value != float64(2) {
		t.Fatalf("new version resolve = %v, %v", value, err)
	}
	if _, err := reloaded.GetLive(root.Meta().EphemeralID); err == nil {
		t.Fatalf("expected live lookup to fail after reload")
	}
}

func TestStoreDiscardPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discard.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()

	root := testutil.NewNode("station").SetAttr("name", "alpha")
	if _, err := store.Register(ctx, root); err != nil {
		t.Fatalf("register: %v", err)
	}
	v1 := root.Meta().PermanentID
	lineage := root.Meta().LineageID

	root.SetAttr("name", "beta")
	if _, _, err := store.Commit(ctx, root, false); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Discard(ctx, v1); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer func() { _ = reloaded.Close() }()

	history, err := reloaded.History(lineage)
	if err != nil {
		t.Fatalf("history after reload: %v", err)
	}
	if len(history) != 1 || history[0] != root.Meta().PermanentID {
		t.Fatalf("expected only the latest version after discard, got %v", history)
	}
	if _, err := reloaded.Graph(v1); err == nil {
		t.Fatalf("expected discarded graph to stay gone after reload")
	}
}

func TestStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.Register(context.Background(), testutil.NewNode("station")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT OR REPLACE INTO state(bucket,payload) VALUES(?,?)`, "graphs", []byte("not-json")); err != nil {
		t.Fatalf("inject invalid state: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	if _, err := NewStore(path, domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected load error due to invalid json")
	} else if !strings.Contains(err.Error(), "decode graphs") {
		t.Fatalf("expected decode graphs error, got %v", err)
	}
}

func TestStoreLoadRejectsUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if _, err := store.Register(context.Background(), testutil.NewNode("station")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := store.DB().Exec(`INSERT OR REPLACE INTO state(bucket,payload) VALUES(?,?)`, "meta", []byte(`{"schema_version":99}`)); err != nil {
		t.Fatalf("inject schema version: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	if _, err := NewStore(path, domain.NewRulesEngine()); err == nil {
		t.Fatalf("expected load error due to schema version")
	} else if !strings.Contains(err.Error(), "unsupported schema version 99") {
		t.Fatalf("expected schema version error, got %v", err)
	}
}

func TestStoreCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("expected path %s, got %s", path, store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
