package mirror

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func syncConfig(serverURL, root, dbPath string) Config {
	return Config{
		URL:        serverURL + "/releases",
		Username:   "deploy",
		Password:   "secret",
		Dir:        root,
		MaxSizeMiB: 100,
		Workers:    4,
		DBPath:     dbPath,
		Strategy:   StrategyPrefix,
	}
}

func TestSyncEndToEnd(t *testing.T) {
	root := t.TempDir()
	pom := filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom")
	jar := filepath.Join(root, "com/example/lib/1.0/lib-1.0.jar")
	writeFile(t, pom, "<project/>")
	writeFile(t, jar, "jar bytes")

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	cfg := syncConfig(server.URL, root, dbPath)

	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if got := summary.Uploaded.Load(); got != 2 {
		t.Fatalf("uploaded = %d, want 2", got)
	}
	for _, path := range []string{
		"/releases/com/example/lib/1.0/lib-1.0.pom",
		"/releases/com/example/lib/1.0/lib-1.0.jar",
	} {
		if repo.puts[path] != 1 {
			t.Fatalf("puts[%s] = %d, want 1", path, repo.puts[path])
		}
	}

	// The ledger holds one key per uploaded file, valued with the local
	// mtime.
	store, err := OpenStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("store records = %d, want 2", count)
	}
	for _, local := range []string{pom, jar} {
		info, err := os.Stat(local)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		url := cfg.URL + "/com/example/lib/1.0/" + filepath.Base(local)
		mtime, ok, err := store.Get(context.Background(), url)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = (ok=%v, err=%v), want hit", url, ok, err)
		}
		if mtime != info.ModTime().Unix() {
			t.Fatalf("recorded mtime %d, want %d", mtime, info.ModTime().Unix())
		}
	}
}

func TestSyncSecondRunIssuesNoPuts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.jar"), "jar bytes")

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	cfg := syncConfig(server.URL, root, filepath.Join(t.TempDir(), "state.db"))

	if _, err := Sync(context.Background(), cfg, testLogger(), io.Discard); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	first := repo.putCount()

	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if repo.putCount() != first {
		t.Fatalf("second run issued %d PUTs, want 0", repo.putCount()-first)
	}
	if got := summary.SkippedLocal.Load(); got != 2 {
		t.Fatalf("skipped local = %d, want 2", got)
	}
}

func TestSyncRecoversStateFromRemote(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.jar"), "jar bytes")

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	stateDir := t.TempDir()
	cfg := syncConfig(server.URL, root, filepath.Join(stateDir, "state.db"))
	if _, err := Sync(context.Background(), cfg, testLogger(), io.Discard); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}
	first := repo.putCount()

	// Lose the local ledger, keep the repository. The remote probe stands
	// in for the missing records, and the run rebuilds them.
	cfg.DBPath = filepath.Join(stateDir, "rebuilt.db")
	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if repo.putCount() != first {
		t.Fatalf("recovery run issued %d PUTs, want 0", repo.putCount()-first)
	}
	if got := summary.SkippedRemote.Load(); got != 2 {
		t.Fatalf("skipped remote = %d, want 2", got)
	}

	store, err := OpenStore(context.Background(), cfg.DBPath)
	if err != nil {
		t.Fatalf("open rebuilt store: %v", err)
	}
	defer store.Close()
	if count, _ := store.Count(context.Background()); count != 2 {
		t.Fatalf("rebuilt records = %d, want 2", count)
	}
}

func TestSyncChangeDetection(t *testing.T) {
	root := t.TempDir()
	jar := filepath.Join(root, "com/example/lib/1.0/lib-1.0.jar")
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")
	writeFile(t, jar, "jar bytes")

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	cfg := syncConfig(server.URL, root, filepath.Join(t.TempDir(), "state.db"))
	if _, err := Sync(context.Background(), cfg, testLogger(), io.Discard); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	future := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(jar, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	// The changed jar misses the local check but the repository still has
	// it, so the probe refreshes the record without a transfer.
	if got := summary.SkippedRemote.Load(); got != 1 {
		t.Fatalf("skipped remote = %d, want 1", got)
	}
	if got := summary.SkippedLocal.Load(); got != 1 {
		t.Fatalf("skipped local = %d, want 1", got)
	}
	if repo.puts["/releases/com/example/lib/1.0/lib-1.0.jar"] != 1 {
		t.Fatalf("jar puts = %d, want 1", repo.puts["/releases/com/example/lib/1.0/lib-1.0.jar"])
	}
}

func TestSyncExclusionMakesNoCalls(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/secret-lib/1.0/secret-lib-1.0.pom"), "<project/>")
	writeFile(t, filepath.Join(root, "com/example/secret-lib/1.0/secret-lib-1.0.jar"), "jar")

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	cfg := syncConfig(server.URL, root, filepath.Join(t.TempDir(), "state.db"))
	cfg.Exclude = []string{"secret"}

	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if repo.putCount() != 0 {
		t.Fatalf("excluded artifact produced %d PUTs", repo.putCount())
	}
	if got := summary.Excluded.Load(); got != 1 {
		t.Fatalf("excluded = %d, want 1", got)
	}
}

func TestSyncOversizeExcludesWholeArtifact(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "com/example/big/1.0")
	writeFile(t, filepath.Join(dir, "big-1.0.pom"), "<project/>")
	if err := os.WriteFile(filepath.Join(dir, "big-1.0.jar"), make([]byte, 2*1024*1024), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}

	repo := newFakeRepo("deploy", "secret")
	server := httptest.NewServer(repo)
	defer server.Close()

	cfg := syncConfig(server.URL, root, filepath.Join(t.TempDir(), "state.db"))
	cfg.MaxSizeMiB = 1

	summary, err := Sync(context.Background(), cfg, testLogger(), io.Discard)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// The descriptor goes with the oversize binary; no partial upload.
	if repo.putCount() != 0 {
		t.Fatalf("oversize artifact produced %d PUTs", repo.putCount())
	}
	if got := summary.Excluded.Load(); got != 1 {
		t.Fatalf("excluded = %d, want 1", got)
	}
}

func TestSyncFailedStoreOpenIsFatal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "com/example/lib/1.0/lib-1.0.pom"), "<project/>")

	cfg := syncConfig("https://repo.example.com", root, filepath.Join(t.TempDir(), "no", "such", "dir", "state.db"))
	if _, err := Sync(context.Background(), cfg, testLogger(), io.Discard); err == nil {
		t.Fatal("Sync() succeeded with an unopenable store")
	}
}
