package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/games"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/hotreload"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

const diceManifest = `{
  "id": "dice-game",
  "version": "1.0.0",
  "name": "Dice",
  "main": "dice",
  "category": "dice",
  "config": {
    "minBet": 1,
    "maxBet": 500,
    "defaultBet": 10,
    "settings": {"serverSeed": "test_server_seed", "clientSeed": "test_client_seed"}
  }
}`

const coinManifest = `{
  "id": "coin",
  "version": "0.1.0",
  "name": "Coin",
  "main": "coin.js",
  "config": {"settings": {"serverSeed": "test_server_seed", "clientSeed": "test_client_seed"}}
}`

const coinScript = `
var actions = ["flip"];
function act(action, snap) {
	var heads = random() < 0.5;
	var out = { state: { heads: heads }, result: heads };
	if (heads) { out.settle = "win"; out.winAmount = snap.bet * 2; } else { out.settle = "loss"; }
	return out;
}
`

type recordingObserver struct {
	mu      sync.Mutex
	calls   []string
	actions []string
}

func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	o.calls = append(o.calls, s)
	o.mu.Unlock()
}

func (o *recordingObserver) SessionOpened(id string) { o.add("opened:" + id) }
func (o *recordingObserver) SessionClosed(id string) { o.add("closed:" + id) }
func (o *recordingObserver) SessionReloaded(id string, err error) {
	o.add("reloaded:" + id)
}
func (o *recordingObserver) ActionDone(id, action string, _ time.Duration, err error) {
	o.mu.Lock()
	o.actions = append(o.actions, action)
	o.mu.Unlock()
}
func (o *recordingObserver) Settled(string, bool, float64) {}
func (o *recordingObserver) Balance(float64)               {}
func (o *recordingObserver) ManifestReloaded(error)        {}

func (o *recordingObserver) got() ([]string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...), append([]string(nil), o.actions...)
}

type fixture struct {
	root      string
	manifests *manifest.Loader
	wallet    *betting.Service
	state     *gamestate.Manager
	hot       *hotreload.Service
	observer  *recordingObserver
	loader    *Loader
}

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	write(t, root, "dice-game/manifest.json", diceManifest)
	write(t, root, "coin/manifest.json", coinManifest)
	write(t, root, "coin/coin.js", coinScript)

	cfg := config.Default()
	cfg.Betting.Persist = false
	cfg.Games.FrameInterval = 10 * time.Millisecond

	f := &fixture{
		root:      root,
		manifests: manifest.NewLoader(manifest.NewDirSource(root), nil),
		wallet:    betting.New(betting.OptionsFromConfig(cfg.Betting, nil, nil)),
		state:     gamestate.New(gamestate.Options{MaxHistory: 50}),
		observer:  &recordingObserver{},
	}
	f.hot = hotreload.New(f.manifests, hotreload.Options{})
	reg := game.NewRegistry()
	games.Register(reg, games.Options{})
	f.loader = New(Options{
		Manifests: f.manifests,
		Registry:  reg,
		Betting:   f.wallet,
		State:     f.state,
		HotReload: f.hot,
		Observer:  f.observer,
		Games:     cfg.Games,
	})
	t.Cleanup(func() { f.loader.Shutdown(context.Background()) })
	return f
}

func (f *fixture) open(t *testing.T, id string) *Session {
	t.Helper()
	s, err := f.loader.Open(context.Background(), id, game.NewMemorySurface())
	require.NoError(t, err)
	return s
}

func roll(t *testing.T, s *Session) game.ActionResult {
	t.Helper()
	res, err := s.Game.PerformAction(context.Background(), game.Action{Type: "roll"})
	require.NoError(t, err)
	return res
}

func TestRefreshListsGames(t *testing.T) {
	f := newFixture(t)
	list, err := f.loader.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "coin", list[0].Manifest.ID)
	assert.Equal(t, "dice-game/manifest.json", list[1].Path)
	assert.False(t, list[1].Open)
}

func TestOpenWiresWallet(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")

	assert.Equal(t, game.PhaseRunning, s.Game.Phase())
	assert.Equal(t, domain.Limits{MinBet: 1, MaxBet: 500, DefaultBet: 10}, f.wallet.Limits("dice-game"))
	assert.Equal(t, 30.0, f.wallet.CalculatePotentialWin(10, domain.RiskMedium, "dice-game"))

	res := roll(t, s)
	assert.Equal(t, 30.0, res.WinAmount)
	assert.Equal(t, 1020.0, f.wallet.Balance())
	hist := f.wallet.History(2)
	require.Len(t, hist, 2)
	assert.Equal(t, betting.EntryDebit, hist[0].Type)
	assert.Equal(t, 10.0, hist[0].Amount)
	assert.Equal(t, betting.EntryCredit, hist[1].Type)
	assert.Equal(t, 30.0, hist[1].Amount)
	assert.Equal(t, "dice-game", hist[1].GameID)

	roll(t, s)
	assert.Equal(t, 1010.0, f.wallet.Balance())
	assert.Equal(t, 1010.0, s.Game.GetState()[game.KeyBalance])
	last := f.wallet.History(1)
	require.Len(t, last, 1)
	assert.Equal(t, betting.EntrySettlement, last[0].Type)
	assert.True(t, f.state.CanUndo("dice-game"))

	games := f.loader.Games()
	require.Len(t, games, 2)
	assert.True(t, games[1].Open)

	calls, actions := f.observer.got()
	assert.Equal(t, []string{"opened:dice-game"}, calls)
	assert.Equal(t, []string{"roll", "roll"}, actions)
}

func TestOpenTwiceRejected(t *testing.T) {
	f := newFixture(t)
	f.open(t, "dice-game")
	_, err := f.loader.Open(context.Background(), "dice-game", game.NewMemorySurface())
	assert.ErrorIs(t, err, ErrSessionOpen)
}

func TestOpenUnknownGame(t *testing.T) {
	f := newFixture(t)
	_, err := f.loader.Open(context.Background(), "poker", game.NewMemorySurface())
	assert.ErrorIs(t, err, manifest.ErrNotFound)
}

func TestOpenFailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "broken/manifest.json", `{"id":"broken","version":"1.0.0","name":"Broken","main":"nothing","config":{"maxBet":5,"defaultBet":2}}`)
	_, err := f.loader.Open(context.Background(), "broken", game.NewMemorySurface())
	require.Error(t, err)
	_, open := f.loader.Session("broken")
	assert.False(t, open)
	assert.Equal(t, 1000.0, f.wallet.Limits("broken").MaxBet, "limits must be unregistered")

	surface := &game.MemorySurface{FailMount: errors.New("no display")}
	_, err = f.loader.Open(context.Background(), "dice-game", surface)
	require.Error(t, err)
	s := f.open(t, "dice-game")
	assert.NotNil(t, s)
}

func TestBetAndRiskFlowBothWays(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")
	ctx := context.Background()

	_, err := s.Game.PerformAction(ctx, game.Action{Type: game.ActionSetBet, Params: map[string]any{"amount": 25.0}})
	require.NoError(t, err)
	assert.Equal(t, 25.0, f.wallet.Bet())

	_, err = s.Game.PerformAction(ctx, game.Action{Type: game.ActionSetRiskLevel, Params: map[string]any{"level": "high"}})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, f.wallet.RiskLevel())

	require.True(t, f.wallet.SetBet(40, "dice-game").Success)
	require.True(t, f.wallet.SetRiskLevel(domain.RiskLow).Success)
	st := s.Game.GetState()
	assert.Equal(t, 40.0, st[game.KeyBetAmount])
	assert.Equal(t, "low", st[game.KeyRiskLevel])

	f.wallet.AddFunds(100, "deposit")
	assert.Equal(t, 1100.0, s.Game.GetState()[game.KeyBalance])
}

func TestUndoRedoRestoresGame(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")
	roll(t, s)
	assert.EqualValues(t, 1, s.Game.GetState()["rolls"])

	_, ok := f.state.Undo("dice-game")
	require.True(t, ok)
	assert.EqualValues(t, 0, s.Game.GetState()["rolls"])
	assert.Equal(t, 1020.0, s.Game.GetState()[game.KeyBalance], "undo never touches the wallet")

	_, ok = f.state.Redo("dice-game")
	require.True(t, ok)
	assert.EqualValues(t, 1, s.Game.GetState()["rolls"])
}

func TestCloseKeepsStateForReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "dice-game")
	roll(t, s)

	require.NoError(t, f.loader.Close(ctx, "dice-game"))
	assert.Equal(t, game.PhaseDestroyed, s.Game.Phase())
	assert.ErrorIs(t, f.loader.Close(ctx, "dice-game"), ErrNoSession)

	s2 := f.open(t, "dice-game")
	assert.NotEqual(t, s.ID, s2.ID)
	st := s2.Game.GetState()
	assert.EqualValues(t, 1, st["rolls"])
	assert.Equal(t, 1020.0, st[game.KeyBalance])
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "dice-game")
	roll(t, s)
	s.Game.Pause()

	write(t, f.root, "dice-game/manifest.json", strings.Replace(diceManifest, "1.0.0", "1.1.0", 1))
	s2, err := f.loader.Reload(ctx, "dice-game", true)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, s2.ID)
	assert.Equal(t, "1.1.0", s2.Game.Manifest().Version)
	assert.Equal(t, game.PhasePaused, s2.Game.Phase())
	assert.EqualValues(t, 1, s2.Game.GetState()["rolls"])

	s3, err := f.loader.Reload(ctx, "dice-game", false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, s3.Game.GetState()["rolls"])
	assert.False(t, f.state.CanUndo("dice-game"))

	_, err = f.loader.Reload(ctx, "coin", true)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestHotReloadEventsReloadSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "dice-game")

	f.hot.ReloadGame("dice-game", true)
	s2, ok := f.loader.Session("dice-game")
	require.True(t, ok)
	assert.NotEqual(t, s.ID, s2.ID)

	write(t, f.root, "dice-game/manifest.json", strings.Replace(diceManifest, `"Dice"`, `"Dice Deluxe"`, 1))
	f.hot.HandleNotice(ctx, hotreload.Notice{Type: hotreload.NoticeManifest, Path: "dice-game/manifest.json", GameID: "dice-game"})
	s3, ok := f.loader.Session("dice-game")
	require.True(t, ok)
	assert.NotEqual(t, s2.ID, s3.ID)
	assert.Equal(t, "Dice Deluxe", s3.Game.Manifest().Name)

	f.hot.HandleNotice(ctx, hotreload.Notice{Type: hotreload.NoticeFile, Path: "coin/coin.js"})
	s4, _ := f.loader.Session("dice-game")
	assert.Equal(t, s3.ID, s4.ID, "a change in another game's folder is ignored")

	f.hot.HandleNotice(ctx, hotreload.Notice{Type: hotreload.NoticeFile, Path: "dice-game/sprite.png"})
	s5, _ := f.loader.Session("dice-game")
	assert.NotEqual(t, s3.ID, s5.ID)
}

func TestScriptGameReadsFilesBesideManifest(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "coin")
	res, err := s.Game.PerformAction(context.Background(), game.Action{Type: "flip"})
	require.NoError(t, err)
	assert.Equal(t, false, res.Result)
	assert.Equal(t, 990.0, f.wallet.Balance())
}

func TestInvalidWalletBetMovesToGameDefault(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.wallet.SetBet(800, "").Success)
	s := f.open(t, "dice-game")
	assert.Equal(t, 10.0, f.wallet.Bet())
	assert.Equal(t, 10.0, s.Game.GetState()[game.KeyBetAmount])
}

func TestRestoreStateRecordsStep(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")

	st, err := f.loader.RestoreState("dice-game", game.State{"rolls": 7, game.KeyBalance: 5.0})
	require.NoError(t, err)
	assert.EqualValues(t, 7, st["rolls"])
	assert.Equal(t, 1000.0, s.Game.GetState()[game.KeyBalance])
	assert.True(t, f.state.CanUndo("dice-game"))

	_, ok := f.state.Undo("dice-game")
	require.True(t, ok)
	assert.EqualValues(t, 0, s.Game.GetState()["rolls"])

	_, err = f.loader.RestoreState("coin", game.State{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRestoreStateReplacesRecordedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.open(t, "dice-game")
	roll(t, s)
	rec, ok := f.state.GetState("dice-game")
	require.True(t, ok)
	require.Contains(t, rec, "lastRoll")

	_, err := f.loader.RestoreState("dice-game", game.State{"rolls": 3})
	require.NoError(t, err)
	rec, _ = f.state.GetState("dice-game")
	assert.NotContains(t, rec, "lastRoll")
	assert.EqualValues(t, 3, rec["rolls"])

	require.NoError(t, f.loader.Close(ctx, "dice-game"))
	s2 := f.open(t, "dice-game")
	assert.NotContains(t, s2.Game.GetState(), "lastRoll")
	assert.EqualValues(t, 3, s2.Game.GetState()["rolls"])
}

func TestActionsRecordTheFullState(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")
	_, err := f.loader.RestoreState("dice-game", game.State{"rolls": 4, "stale": true})
	require.NoError(t, err)

	// dice rebuilds its state on every roll, so the stale key must go
	roll(t, s)
	assert.NotContains(t, s.Game.GetState(), "stale")
	rec, ok := f.state.GetState("dice-game")
	require.True(t, ok)
	assert.NotContains(t, rec, "stale")
	assert.EqualValues(t, 5, rec["rolls"])
}

func TestPatchStateMergesKeys(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, "dice-game")
	roll(t, s)

	st, err := f.loader.PatchState("dice-game", game.State{"rolls": 9, game.KeyBalance: 1.0})
	require.NoError(t, err)
	assert.EqualValues(t, 9, st["rolls"])
	assert.Contains(t, st, "lastRoll")
	assert.Equal(t, 1020.0, st[game.KeyBalance])
	rec, _ := f.state.GetState("dice-game")
	assert.EqualValues(t, 9, rec["rolls"])
	assert.Contains(t, rec, "lastRoll")

	_, err = f.loader.PatchState("coin", game.State{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestOutOfRangeDefaultBetIsClamped(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "big/manifest.json", `{"id":"big","version":"1.0.0","name":"Big","main":"dice",
	  "config":{"defaultBet":2000,"settings":{"serverSeed":"a","clientSeed":"b"}}}`)

	s, err := f.loader.Open(context.Background(), "big", game.NewMemorySurface())
	require.NoError(t, err)
	lim := f.wallet.Limits("big")
	assert.Equal(t, 1000.0, lim.MaxBet)
	assert.Equal(t, 1000.0, lim.DefaultBet)
	assert.NoError(t, lim.Validate())
	assert.Equal(t, 10.0, s.Game.GetState()[game.KeyBetAmount], "a valid wallet bet is kept")
}

func TestMinBetAboveGlobalMaxRaisesTheMax(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "vip/manifest.json", `{"id":"vip","version":"1.0.0","name":"VIP","main":"dice",
	  "config":{"minBet":1500,"settings":{"serverSeed":"a","clientSeed":"b"}}}`)
	f.wallet.AddFunds(5000, "deposit")

	s, err := f.loader.Open(context.Background(), "vip", game.NewMemorySurface())
	require.NoError(t, err)
	lim := f.wallet.Limits("vip")
	assert.Equal(t, 1500.0, lim.MinBet)
	assert.Equal(t, 1500.0, lim.MaxBet)
	assert.Equal(t, 1500.0, f.wallet.Bet(), "the wallet bet moves into the new bounds")
	assert.Equal(t, 1500.0, s.Game.GetState()[game.KeyBetAmount])
}

func TestUnlimitedMaxBetAcceptsLargeStakes(t *testing.T) {
	f := newFixture(t)
	write(t, f.root, "open/manifest.json", `{"id":"open","version":"1.0.0","name":"Open","main":"dice",
	  "config":{"maxBet":0,"settings":{"serverSeed":"a","clientSeed":"b"}}}`)
	f.wallet.AddFunds(9000, "deposit")

	s, err := f.loader.Open(context.Background(), "open", game.NewMemorySurface())
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.wallet.Limits("open").MaxBet)
	assert.Empty(t, f.wallet.ValidateBet(5000, "open"))

	_, err = s.Game.PerformAction(context.Background(), game.Action{Type: game.ActionSetBet, Params: map[string]any{"amount": 5000.0}})
	require.NoError(t, err)
	_, err = s.Game.PerformAction(context.Background(), game.Action{Type: "roll"})
	require.NoError(t, err)
}

func TestManifestRiskLevelAppliesOnFirstOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	write(t, f.root, "dice-game/manifest.json", strings.Replace(diceManifest, `"defaultBet": 10,`, `"defaultBet": 10, "defaultRiskLevel": "high",`, 1))
	require.Equal(t, domain.RiskMedium, f.wallet.RiskLevel())

	s := f.open(t, "dice-game")
	assert.Equal(t, domain.RiskHigh, f.wallet.RiskLevel())
	assert.Equal(t, "high", s.Game.GetState()[game.KeyRiskLevel])

	require.True(t, f.wallet.SetRiskLevel(domain.RiskLow).Success)
	require.NoError(t, f.loader.Close(ctx, "dice-game"))
	s2 := f.open(t, "dice-game")
	assert.Equal(t, domain.RiskLow, f.wallet.RiskLevel(), "the player's pick survives a reopen")
	assert.Equal(t, "low", s2.Game.GetState()[game.KeyRiskLevel])
}
