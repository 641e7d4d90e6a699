package mirror

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	const url = "https://repo.example.com/releases/com/example/lib/1.0/lib-1.0.jar"

	if _, ok, err := store.Get(ctx, url); err != nil || ok {
		t.Fatalf("Get() before put = (ok=%v, err=%v), want miss", ok, err)
	}

	if err := store.Put(ctx, url, 1700000000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	mtime, ok, err := store.Get(ctx, url)
	if err != nil || !ok {
		t.Fatalf("Get() = (ok=%v, err=%v), want hit", ok, err)
	}
	if mtime != 1700000000 {
		t.Fatalf("mtime = %d, want 1700000000", mtime)
	}

	// Upsert: last write wins.
	if err := store.Put(ctx, url, 1700000005); err != nil {
		t.Fatalf("Put() upsert error = %v", err)
	}
	mtime, _, _ = store.Get(ctx, url)
	if mtime != 1700000005 {
		t.Fatalf("mtime after upsert = %d, want 1700000005", mtime)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}
}

func TestSQLiteStorePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenStore(ctx, path)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	if err := store.Put(ctx, "https://repo/a.pom", 42); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = OpenStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	mtime, ok, err := store.Get(ctx, "https://repo/a.pom")
	if err != nil || !ok || mtime != 42 {
		t.Fatalf("Get() after reopen = (%d, %v, %v), want (42, true, nil)", mtime, ok, err)
	}
}

func TestOpenStoreRejectsBadPath(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, filepath.Join(t.TempDir(), "missing", "nested", "state.db")); err == nil {
		t.Fatal("OpenStore() accepted an uncreatable path")
	}
}
