package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const diceDoc = `{"id":"dice-game","version":"1.0.0","name":"Dice","main":"dice","config":{"minBet":1,"maxBet":500,"defaultBet":10}}`

func writeManifest(t *testing.T, root, rel, doc string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// touch moves the mtime forward so the change marker differs even on
// filesystems with coarse timestamps.
func touch(t *testing.T, root, rel string, d time.Duration) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	ts := time.Now().Add(d)
	if err := os.Chtimes(full, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestLoaderCachesAndKeepsStaleOnFailure(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "dice-game/manifest.json", diceDoc)
	l := NewLoader(NewDirSource(root), nil)
	ctx := context.Background()

	m, err := l.LoadManifest(ctx, "dice-game/manifest.json", false)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Name != "Dice" {
		t.Fatalf("Name = %q", m.Name)
	}

	// an invalid edit must not evict the cached manifest
	writeManifest(t, root, "dice-game/manifest.json", `{"id":"dice-game","version":"oops","name":"Dice","main":"dice"}`)
	if _, err := l.LoadManifest(ctx, "dice-game/manifest.json", true); err == nil {
		t.Fatal("expected validation error on forced refresh")
	}
	m, err = l.LoadManifest(ctx, "dice-game/manifest.json", false)
	if err != nil || m.Version != "1.0.0" {
		t.Fatalf("cached manifest lost: %v %+v", err, m)
	}
	if got, _, err := l.Lookup("dice-game"); err != nil || got.Version != "1.0.0" {
		t.Fatalf("Lookup: %v %+v", err, got)
	}
}

func TestLoaderRejectsBeforeCaching(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "bad/manifest.json", `{"version":"1.0.0","name":"x","main":"x"}`)
	l := NewLoader(NewDirSource(root), nil)

	if _, err := l.LoadManifest(context.Background(), "bad/manifest.json", false); err == nil {
		t.Fatal("expected error")
	}
	if l.Cached("bad/manifest.json") {
		t.Fatal("invalid manifest must not be cached")
	}
}

func TestLoadManifestsDropsFailures(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "dice-game/manifest.json", diceDoc)
	writeManifest(t, root, "broken/manifest.json", `{not json`)
	writeManifest(t, root, "hilo/manifest.yaml", "id: hilo\nversion: 1.2.0\nname: Hi-Lo\nmain: hilo\n")
	l := NewLoader(NewDirSource(root), nil)
	ctx := context.Background()

	paths, err := l.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("Discover = %v", paths)
	}

	got := l.LoadManifests(ctx, paths)
	if len(got) != 2 {
		t.Fatalf("LoadManifests returned %d manifests, want 2", len(got))
	}
	ids := map[string]bool{}
	for _, m := range got {
		ids[m.ID] = true
	}
	if !ids["dice-game"] || !ids["hilo"] {
		t.Fatalf("ids = %v", ids)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "a/manifest.json", diceDoc)
	writeManifest(t, root, "b/manifest.json", diceDoc)
	l := NewLoader(NewDirSource(root), nil)
	ctx := context.Background()

	if _, err := l.LoadManifest(ctx, "a/manifest.json", false); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if _, err := l.LoadManifest(ctx, "b/manifest.json", false); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestCheckForUpdates(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "dice-game/manifest.json", diceDoc)
	l := NewLoader(NewDirSource(root), nil)
	ctx := context.Background()
	p := "dice-game/manifest.json"

	changed, err := l.CheckForUpdates(ctx, p)
	if err != nil || !changed {
		t.Fatalf("unseen path must report changed: %v %v", changed, err)
	}
	changed, _ = l.CheckForUpdates(ctx, p)
	if changed {
		t.Fatal("second check without edit must report unchanged")
	}

	touch(t, root, p, 5*time.Second)
	changed, _ = l.CheckForUpdates(ctx, p)
	if !changed {
		t.Fatal("edit must report changed")
	}

	if _, err := l.LoadManifest(ctx, p, false); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	touch(t, root, p, 10*time.Second)
	all, err := l.CheckAllForUpdates(ctx)
	if err != nil {
		t.Fatalf("CheckAllForUpdates: %v", err)
	}
	if len(all) != 1 || all[0] != p {
		t.Fatalf("CheckAllForUpdates = %v", all)
	}
}

func TestInvalidateCache(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "dice-game/manifest.json", diceDoc)
	l := NewLoader(NewDirSource(root), nil)
	ctx := context.Background()
	if _, err := l.LoadManifest(ctx, "dice-game/manifest.json", false); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	l.InvalidateCache("dice-game/manifest.json")
	if l.Cached("dice-game/manifest.json") {
		t.Fatal("entry still cached")
	}
	if _, _, err := l.Lookup("dice-game"); err == nil {
		t.Fatal("Lookup should fail after invalidation")
	}
}

func TestDirSourceRejectsEscape(t *testing.T) {
	src := NewDirSource(t.TempDir())
	if _, err := src.Read(context.Background(), "../etc/passwd"); err == nil {
		t.Fatal("expected escape error")
	}
}

func TestHTTPSource(t *testing.T) {
	modified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.json":
			w.Write([]byte(`["dice-game/manifest.json"]`))
		case "/dice-game/manifest.json":
			w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
			if r.Method == http.MethodHead {
				return
			}
			w.Write([]byte(diceDoc))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := NewLoader(NewHTTPSource(srv.URL+"/"), nil)
	ctx := context.Background()

	paths, err := l.Discover(ctx)
	if err != nil || len(paths) != 1 {
		t.Fatalf("Discover = %v, %v", paths, err)
	}
	m, err := l.LoadManifest(ctx, paths[0], false)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.ID != "dice-game" {
		t.Fatalf("ID = %q", m.ID)
	}
	changed, err := l.CheckForUpdates(ctx, paths[0])
	if err != nil || changed {
		t.Fatalf("CheckForUpdates after load = %v, %v", changed, err)
	}

	if _, err := l.LoadManifest(ctx, "missing/manifest.json", false); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}
