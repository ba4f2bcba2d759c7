package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/manifest"
	"github.com/MJE43/minigame-playground/internal/store"
)

const diceDoc = `{"id":"dice-game","version":"1.0.0","name":"Dice","main":"dice","config":{"minBet":1,"maxBet":500,"defaultBet":10}}`

type fixture struct {
	root      string
	kv        *store.Memory
	wallet    *betting.Service
	manifests *manifest.Loader
	svc       *Service
}

func newWallet() *betting.Service {
	cfg := config.Default().Betting
	cfg.Persist = false
	return betting.New(betting.OptionsFromConfig(cfg, nil, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dice-game"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dice-game", "manifest.json"), []byte(diceDoc), 0o644))

	f := &fixture{
		root:      root,
		kv:        store.NewMemory(),
		wallet:    newWallet(),
		manifests: manifest.NewLoader(manifest.NewDirSource(root), nil),
	}
	f.svc = New(Options{Root: root, Manifests: f.manifests, Betting: f.wallet, Store: f.kv})
	return f
}

func coinUpload(version string) []File {
	return []File{
		{Name: "manifest.json", Data: []byte(`{"id":"coin","version":"` + version + `","name":"Coin","main":"coin.js"}`)},
		{Name: "coin.js", Data: []byte(`var actions = ["flip"]; function act() { return {}; }`)},
		{Name: "assets\\coin.png", Data: []byte{0x89, 'P', 'N', 'G'}},
	}
}

func rootEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestLoadGames(t *testing.T) {
	f := newFixture(t)
	games, err := f.svc.LoadGames(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, "dice-game", games[0].Manifest.ID)
	assert.Equal(t, "dice-game/manifest.json", games[0].Path)
	assert.Equal(t, []string{"manifest.json"}, games[0].Files)
}

func TestSaveGameSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maxBet := 200.0

	m, err := f.svc.SaveGameSettings(ctx, "dice-game", GameSettings{
		MaxBet:           &maxBet,
		DefaultRiskLevel: domain.RiskHigh,
		Settings:         map[string]any{"serverSeed": "abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200.0, *m.Config.MaxBet)

	raw, err := os.ReadFile(filepath.Join(f.root, "dice-game", "manifest.json"))
	require.NoError(t, err)
	onDisk, err := manifest.Parse(raw, manifest.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 200.0, *onDisk.Config.MaxBet)
	assert.Equal(t, 1.0, *onDisk.Config.MinBet)
	assert.Equal(t, domain.RiskHigh, onDisk.Config.DefaultRiskLevel)
	assert.Equal(t, "abc", onDisk.Config.Settings["serverSeed"])

	minBet := 300.0
	_, err = f.svc.SaveGameSettings(ctx, "dice-game", GameSettings{MinBet: &minBet})
	var verr *manifest.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "config.minBet", verr.Field)

	after, err := os.ReadFile(filepath.Join(f.root, "dice-game", "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, raw, after, "a rejected edit must not touch the file")
	assert.Equal(t, []string{"manifest.json"}, mustFiles(t, f, "dice-game"))

	_, err = f.svc.SaveGameSettings(ctx, "poker", GameSettings{})
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func mustFiles(t *testing.T, f *fixture, dir string) []string {
	t.Helper()
	files, err := f.svc.files(dir)
	require.NoError(t, err)
	return files
}

func TestSaveGameSettingsYAML(t *testing.T) {
	f := newFixture(t)
	doc := "id: wheel\nversion: 1.0.0\nname: Wheel\nmain: wheel\n"
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "wheel"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "wheel", "manifest.yaml"), []byte(doc), 0o644))

	def := 5.0
	_, err := f.svc.SaveGameSettings(context.Background(), "wheel", GameSettings{DefaultBet: &def})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(f.root, "wheel", "manifest.yaml"))
	require.NoError(t, err)
	m, err := manifest.Parse(raw, manifest.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, 5.0, *m.Config.DefaultBet)
}

func TestUploadGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.UploadGame(ctx, coinUpload("1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "coin", m.ID)
	assert.Equal(t, []string{"assets/coin.png", "coin.js", "manifest.json"}, mustFiles(t, f, "coin"))

	m, err = f.svc.UploadGame(ctx, coinUpload("1.1.0"))
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", m.Version)
	cached, p, err := f.manifests.Lookup("coin")
	require.NoError(t, err)
	assert.Equal(t, "coin/manifest.json", p)
	assert.Equal(t, "1.1.0", cached.Version)

	assert.ElementsMatch(t, []string{"coin", "dice-game"}, rootEntries(t, f.root), "no staging leftovers")
}

func TestUploadGameRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := coinUpload("1.0.0")

	cases := map[string][]File{
		"no manifest":  good[1:],
		"escape":       append([]File{{Name: "../evil.js", Data: []byte("x")}}, good...),
		"hidden":       append([]File{{Name: ".env", Data: []byte("x")}}, good...),
		"absolute":     append([]File{{Name: "/etc/passwd", Data: []byte("x")}}, good...),
		"missing main": {good[0]},
		"duplicate":    append([]File{good[1]}, good...),
	}
	for name, files := range cases {
		_, err := f.svc.UploadGame(ctx, files)
		assert.ErrorIs(t, err, ErrInvalidUpload, name)
	}

	_, err := f.svc.UploadGame(ctx, []File{{Name: "manifest.json", Data: []byte(`{"id":"Bad Id","version":"1.0.0","name":"x","main":"dice"}`)}})
	var verr *manifest.ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = f.svc.UploadGame(ctx, []File{{Name: "manifest.json", Data: []byte(diceDoc)}})
	require.NoError(t, err, "same folder replaces the game")

	assert.ElementsMatch(t, []string{"dice-game"}, rootEntries(t, f.root))
}

func TestUploadRefusesIDLivingElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.LoadGames(ctx)
	require.NoError(t, err)

	doc := []byte(`{"id":"dice-game","version":"2.0.0","name":"Dice","main":"dice"}`)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "legacy"), 0o755))
	require.NoError(t, os.Rename(filepath.Join(f.root, "dice-game"), filepath.Join(f.root, "legacy", "dice-game")))
	f.manifests.InvalidateCache("dice-game/manifest.json")
	_, err = f.svc.LoadGames(ctx)
	require.NoError(t, err)

	_, err = f.svc.UploadGame(ctx, []File{{Name: "manifest.json", Data: doc}})
	assert.ErrorIs(t, err, ErrInvalidUpload)
}

func TestDeleteGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.DeleteGame(ctx, "dice-game"))
	_, err := os.Stat(filepath.Join(f.root, "dice-game"))
	assert.True(t, os.IsNotExist(err))
	_, _, err = f.manifests.Lookup("dice-game")
	assert.ErrorIs(t, err, manifest.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteGame(ctx, "dice-game"), manifest.ErrNotFound)
}

func TestSettingsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.svc.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", st.Theme)
	assert.Equal(t, 1000.0, st.MaxBet)
	assert.Equal(t, 3.0, st.RiskMultipliers[domain.RiskMedium])

	st.MaxBet = 200
	st.Theme = "light"
	st.RiskMultipliers[domain.RiskMedium] = 2.5
	_, err = f.svc.SaveSettings(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 200.0, f.wallet.Limits("").MaxBet)
	assert.Equal(t, 25.0, f.wallet.CalculatePotentialWin(10, domain.RiskMedium, ""))

	wallet := newWallet()
	restored := New(Options{Root: f.root, Manifests: f.manifests, Betting: wallet, Store: f.kv})
	require.NoError(t, restored.Restore(ctx))
	assert.Equal(t, 200.0, wallet.Limits("").MaxBet)
	got, err := restored.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", got.Theme)

	reset, err := restored.ResetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, reset.MaxBet)
	assert.Equal(t, "dark", reset.Theme)
	assert.Equal(t, 1000.0, wallet.Limits("").MaxBet)
	_, ok, err := f.kv.Get(ctx, keySettings)
	require.NoError(t, err)
	assert.False(t, ok)

	bad := reset
	bad.Theme = "neon"
	_, err = f.svc.SaveSettings(ctx, bad)
	assert.Error(t, err)
	bad = reset
	bad.MinBet = 2000
	_, err = f.svc.SaveSettings(ctx, bad)
	assert.Error(t, err)
}

func TestCorruptSettingsFallBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.kv.Set(ctx, keySettings, "{nope"))

	st, err := f.svc.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, st.MaxBet)
	require.NoError(t, f.svc.Restore(ctx))
}
