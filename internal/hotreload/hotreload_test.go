package hotreload

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/minigame-playground/internal/manifest"
)

const diceDoc = `{"id":"dice-game","version":"1.0.0","name":"Dice","main":"dice"}`

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func collect(s *Service, event string) <-chan Event {
	ch := make(chan Event, 16)
	s.Subscribe(event, func(e Event) { ch <- e })
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dice-game/manifest.json", diceDoc)
	writeFile(t, root, ".git/HEAD", "ref")

	w := NewWatcher(root, time.Second, func(Notice) {}, nil)
	first, err := w.Scan()
	require.NoError(t, err)
	assert.Empty(t, first, "first scan is the baseline")

	writeFile(t, root, "dice-game/manifest.json", strings.Replace(diceDoc, "1.0.0", "1.0.1", 1)+" ")
	writeFile(t, root, "dice-game/logo.png", "png")
	writeFile(t, root, ".git/HEAD", "changed")

	got, err := w.Scan()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dice-game/logo.png", got[0].Path)
	assert.Equal(t, NoticeFile, got[0].Type)
	assert.Equal(t, NoticeManifest, got[1].Type)
	assert.Equal(t, "dice-game", got[1].GameID)

	require.NoError(t, os.Remove(filepath.Join(root, "dice-game", "logo.png")))
	got, err = w.Scan()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Removed)

	got, err = w.Scan()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWatcherMissingRoot(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope"), time.Second, func(Notice) {}, nil)
	got, err := w.Scan()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHandleManifestNotice(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dice-game/manifest.json", diceDoc)
	loader := manifest.NewLoader(manifest.NewDirSource(root), nil)
	s := New(loader, Options{})
	reloaded := collect(s, EventManifestReloaded)
	failed := collect(s, EventManifestError)

	ctx := context.Background()
	s.HandleNotice(ctx, Notice{Type: NoticeManifest, Path: "dice-game/manifest.json"})
	e := next(t, reloaded)
	assert.Equal(t, "dice-game", e.GameID)
	require.NotNil(t, e.Manifest)

	writeFile(t, root, "dice-game/manifest.json", `{"id":"dice-game","version":"1.0"}`)
	s.HandleNotice(ctx, Notice{Type: NoticeManifest, Path: "dice-game/manifest.json"})
	e = next(t, failed)
	assert.Error(t, e.Err)

	m, _, err := loader.Lookup("dice-game")
	require.NoError(t, err, "previous manifest stays cached")
	assert.Equal(t, "1.0.0", m.Version)

	removed := collect(s, EventManifestRemoved)
	s.HandleNotice(ctx, Notice{Type: NoticeManifest, Path: "dice-game/manifest.json", Removed: true})
	next(t, removed)
	assert.False(t, loader.Cached("dice-game/manifest.json"))
}

func TestPollingPicksUpNewManifest(t *testing.T) {
	root := t.TempDir()
	loader := manifest.NewLoader(manifest.NewDirSource(root), nil)
	s := New(loader, Options{PollInterval: 20 * time.Millisecond})
	reloaded := collect(s, EventManifestReloaded)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)

	writeFile(t, root, "dice-game/manifest.json", diceDoc)
	e := next(t, reloaded)
	assert.Equal(t, "dice-game/manifest.json", e.Path)
	assert.False(t, s.Connected())
}

func TestPushThroughHub(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	loader := manifest.NewLoader(manifest.NewDirSource(t.TempDir()), nil)
	s := New(loader, Options{
		PushURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		PollInterval:   time.Hour,
		ReconnectDelay: 50 * time.Millisecond,
	})
	connected := collect(s, EventConnected)
	changed := collect(s, EventFileChanged)

	require.NoError(t, s.Start(context.Background()))
	next(t, connected)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Connected())

	assert.Equal(t, 1, hub.Publish(Notice{Type: NoticeFile, Path: "dice-game/logo.png", GameID: "dice-game"}))
	e := next(t, changed)
	assert.Equal(t, "dice-game/logo.png", e.Path)
	assert.Equal(t, "dice-game", e.GameID)

	s.Stop()
	assert.False(t, s.Connected())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectsAfterHubDrop(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	loader := manifest.NewLoader(manifest.NewDirSource(t.TempDir()), nil)
	s := New(loader, Options{
		PushURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		PollInterval:   10 * time.Millisecond,
		ReconnectDelay: 30 * time.Millisecond,
	})
	connected := collect(s, EventConnected)
	disconnected := collect(s, EventDisconnected)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	next(t, connected)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	// drop every client; the hub keeps accepting new ones
	hub.mu.Lock()
	for c := range hub.clients {
		delete(hub.clients, c)
		close(c.send)
	}
	hub.mu.Unlock()

	next(t, disconnected)
	next(t, connected)
}

func TestReloadGameEmits(t *testing.T) {
	s := New(manifest.NewLoader(manifest.NewDirSource(t.TempDir()), nil), Options{})
	got := collect(s, EventReloadRequested)
	s.ReloadGame("dice-game", true)
	e := next(t, got)
	assert.Equal(t, "dice-game", e.GameID)
	assert.True(t, e.PreserveState)
}
