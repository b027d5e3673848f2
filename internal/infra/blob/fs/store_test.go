package fs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"entitygraph/internal/blob/core"
)

func newTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, root
}

func TestStoreLifecycle(t *testing.T) {
	store, root := newTempStore(t)
	if store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected driver %v", store.Driver())
	}
	ctx := context.Background()

	info, err := store.Put(ctx, "lineages/a/root.json", strings.NewReader("hello"), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "lineages/a/root.json" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.LastModified.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", info.LastModified.Location())
	}
	if _, err := os.Stat(filepath.Join(root, "lineages", "a", "root.json")); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	if _, err := store.Put(ctx, "lineages/a/root.json", strings.NewReader("dup"), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}

	stat, err := store.Stat(ctx, "lineages/a/root.json")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.ETag != info.ETag || stat.ContentType != "application/json" || stat.Metadata["k"] != "v" {
		t.Fatalf("unexpected stat info %+v", stat)
	}

	gotInfo, rc, err := store.Get(ctx, "lineages/a/root.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	payload, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(payload) != "hello" || gotInfo.ETag != info.ETag {
		t.Fatalf("unexpected get result %q %+v", payload, gotInfo)
	}

	list, err := store.List(ctx, "lineages/")
	if err != nil || len(list) != 1 || list[0].Key != "lineages/a/root.json" {
		t.Fatalf("list: %v %v", list, err)
	}

	deleted, err := store.Delete(ctx, "lineages/a/root.json")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = store.Delete(ctx, "lineages/a/root.json")
	if err != nil || deleted {
		t.Fatalf("expected delete false for missing, got %v %v", deleted, err)
	}
	if _, _, err := store.Get(ctx, "lineages/a/root.json"); err == nil {
		t.Fatalf("expected get after delete error")
	}
	if _, err := os.Stat(filepath.Join(root, "lineages", "a", "root.json.meta")); err == nil {
		t.Fatalf("expected sidecar gone")
	}
}

func TestStoreListSortsByKey(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	for _, key := range []string{"b/two", "a/one", "c/three"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Key != "a/one" || list[1].Key != "b/two" || list[2].Key != "c/three" {
		t.Fatalf("unexpected order %+v", list)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	store, _ := newTempStore(t)
	for _, bad := range []string{"", "  ", "..", "../escape", "/abs", "a/../b"} {
		if _, _, err := store.pathFor(bad); err == nil {
			t.Fatalf("expected sanitize error for %q", bad)
		}
		if _, err := store.Put(context.Background(), bad, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected put error for %q", bad)
		}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read fail") }

func TestStorePutCopyFailureLeavesNoTempFiles(t *testing.T) {
	store, root := newTempStore(t)
	if _, err := store.Put(context.Background(), "broken", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected copy error")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root after failed put, got %v", entries)
	}
}

func TestStoreMissingSidecarFailsGetAndStat(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "obj", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, metaPath, err := store.pathFor("obj")
	if err != nil {
		t.Fatalf("pathFor: %v", err)
	}
	if err := os.Remove(metaPath); err != nil {
		t.Fatalf("remove sidecar: %v", err)
	}
	if _, _, err := store.Get(ctx, "obj"); err == nil {
		t.Fatalf("expected get error without sidecar")
	}
	if _, err := store.Stat(ctx, "obj"); err == nil {
		t.Fatalf("expected stat error without sidecar")
	}
}

func TestStorePresignGet(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	url, err := store.PresignGet(ctx, "nested/path", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "http://local.archive/nested/path" {
		t.Fatalf("unexpected url %s", url)
	}
	// expiry is ignored locally
	if again, err := store.PresignGet(ctx, "nested/path", 0); err != nil || again != url {
		t.Fatalf("expected stable url, got %s %v", again, err)
	}
	if _, err := store.PresignGet(ctx, "../escape", time.Minute); err == nil {
		t.Fatalf("expected presign error for invalid key")
	}
}

func TestCloneMetadataIsolation(t *testing.T) {
	if cloneMetadata(nil) != nil {
		t.Fatalf("expected nil clone for nil input")
	}
	original := map[string]string{"k": "v"}
	cloned := cloneMetadata(original)
	cloned["k"] = "mutated"
	if original["k"] != "v" {
		t.Fatalf("expected original untouched, got %s", original["k"])
	}
}

func TestStorePutSurfacesSidecarWriteFailure(t *testing.T) {
	store, _ := newTempStore(t)
	originalMarshal := jsonMarshal
	jsonMarshal = func(any) ([]byte, error) { return nil, fmt.Errorf("marshal fail") }
	t.Cleanup(func() { jsonMarshal = originalMarshal })

	if _, err := store.Put(context.Background(), "obj", strings.NewReader("x"), core.PutOptions{}); err == nil || !strings.Contains(err.Error(), "marshal fail") {
		t.Fatalf("expected marshal fail error, got %v", err)
	}
}

func TestReadMetaInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.meta")
	if err := os.WriteFile(path, []byte("not-json"), 0o600); err != nil {
		t.Fatalf("write invalid meta: %v", err)
	}
	if _, err := readMeta(path); err == nil {
		t.Fatalf("expected readMeta error for invalid json")
	}
}

func TestStoreListFailsOnCorruptSidecar(t *testing.T) {
	store, _ := newTempStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "obj", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, metaPath, err := store.pathFor("obj")
	if err != nil {
		t.Fatalf("pathFor: %v", err)
	}
	if err := os.WriteFile(metaPath, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("corrupt sidecar: %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list error for corrupt sidecar")
	}
}

func TestNewRejectsFileRoot(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := New(file); err == nil {
		t.Fatalf("expected error for file root")
	}
}
