package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"entitygraph/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %v", store.Driver())
	}
	ctx := context.Background()

	info, err := store.Put(ctx, "k1", bytes.NewReader([]byte("payload")), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"a": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "k1" || info.Size != 7 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "k1", bytes.NewReader([]byte("dup")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate put error")
	}

	stat, err := store.Stat(ctx, "k1")
	if err != nil || stat.Size != info.Size || stat.ContentType != "text/plain" {
		t.Fatalf("stat: %+v %v", stat, err)
	}

	gotInfo, rc, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(b) != "payload" || gotInfo.ETag != info.ETag {
		t.Fatalf("unexpected get result %q %+v", b, gotInfo)
	}

	if list, err := store.List(ctx, "k"); err != nil || len(list) != 1 {
		t.Fatalf("list prefix: %v %d", err, len(list))
	}
	if list, err := store.List(ctx, "zz"); err != nil || len(list) != 0 {
		t.Fatalf("list no-match: %v %d", err, len(list))
	}

	ok, err := store.Delete(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if list, _ := store.List(ctx, ""); len(list) != 0 {
		t.Fatalf("expected empty after delete, got %d", len(list))
	}
}

func TestStoreMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, _, err := store.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected get error")
	}
	if _, err := store.Stat(ctx, "missing"); err == nil {
		t.Fatalf("expected stat error")
	}
	if ok, err := store.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected delete false, got %v %v", ok, err)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc1, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first, _ := io.ReadAll(rc1)
	_, rc2, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	second, _ := io.ReadAll(rc2)
	if string(first) != "abc" || string(second) != "abc" {
		t.Fatalf("expected independent reads, got %q %q", first, second)
	}
}

func TestStoreListSortsByKey(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"b", "a", "c"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "")
	if err != nil || len(list) != 3 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if list[0].Key != "a" || list[1].Key != "b" || list[2].Key != "c" {
		t.Fatalf("unexpected order %+v", list)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read fail") }

func TestStorePutReadError(t *testing.T) {
	store := New()
	if _, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{}); err == nil {
		t.Fatalf("expected read error")
	}
	if _, err := store.Stat(context.Background(), "bad"); err == nil {
		t.Fatalf("expected no object after failed put")
	}
}

func TestStorePresignGetUnsupported(t *testing.T) {
	store := New()
	if _, err := store.PresignGet(context.Background(), "k", time.Minute); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported presign, got %v", err)
	}
}

func TestStoreMetadataIsolated(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"k": "v"}
	if _, err := store.Put(ctx, "obj", bytes.NewReader([]byte("x")), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["k"] = "mutated"
	stat, err := store.Stat(ctx, "obj")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if stat.Metadata["k"] != "v" {
		t.Fatalf("expected stored metadata isolated from caller map, got %s", stat.Metadata["k"])
	}
	stat.Metadata["k"] = "again"
	stat2, _ := store.Stat(ctx, "obj")
	if stat2.Metadata["k"] != "v" {
		t.Fatalf("expected returned metadata isolated, got %s", stat2.Metadata["k"])
	}
}
