// Package loader turns manifests into running game sessions and keeps them
// wired to the wallet, the state history and hot reload.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/hotreload"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

var (
	ErrSessionOpen = errors.New("loader: session already open")
	ErrNoSession   = errors.New("loader: no open session")
)

const reloadTimeout = 15 * time.Second

// Observer receives session and wallet activity. metrics.Collectors
// implements it.
type Observer interface {
	SessionOpened(gameID string)
	SessionClosed(gameID string)
	SessionReloaded(gameID string, err error)
	ActionDone(gameID, action string, d time.Duration, err error)
	Settled(gameID string, win bool, amount float64)
	Balance(balance float64)
	ManifestReloaded(err error)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(string) {}
func (nopObserver) SessionClosed(string) {}
func (nopObserver) SessionReloaded(string, error) {}
func (nopObserver) ActionDone(string, string, time.Duration, error) {}
func (nopObserver) Settled(string, bool, float64) {}
func (nopObserver) Balance(float64) {}
func (nopObserver) ManifestReloaded(error) {}

// Options wires the loader to its collaborators. Manifests, Registry,
// Betting and State are required.
type Options struct {
	Manifests *manifest.Loader
	Registry  *game.Registry
	Betting   *betting.Service
	State     *gamestate.Manager
	HotReload *hotreload.Service
	Observer  Observer
	Games     config.GamesConfig
	Logger    *slog.Logger
}

// GameInfo describes a loadable game.
type GameInfo struct {
	Manifest *manifest.Manifest `json:"manifest"`
	Path     string             `json:"path"`
	Open     bool               `json:"open"`
}

// Loader owns at most one session per game id.
type Loader struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opening  map[string]bool
	unsubs   []func()
}

func New(opts Options) *Loader {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	l := &Loader{
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger).With("component", "loader"),
		sessions: make(map[string]*Session),
		opening:  make(map[string]bool),
	}
	l.subscribe()
	return l
}

// subscribe pushes wallet, history and reload events into open sessions.
func (l *Loader) subscribe() {
	b := l.opts.Betting
	l.unsubs = append(l.unsubs,
		b.Subscribe(betting.EventBalanceChange, func(e betting.Event) {
			l.opts.Observer.Balance(e.Balance)
			for _, s := range l.Sessions() {
				s.Game.SyncBalance(e.Balance)
			}
		}),
		b.Subscribe(betting.EventBetChange, l.syncWallet),
		b.Subscribe(betting.EventRiskLevelChange, l.syncWallet),
		l.opts.State.Subscribe(gamestate.EventUndo, l.restoreFromHistory),
		l.opts.State.Subscribe(gamestate.EventRedo, l.restoreFromHistory),
	)

	hr := l.opts.HotReload
	if hr == nil {
		return
	}
	l.unsubs = append(l.unsubs,
		hr.Subscribe(hotreload.EventManifestReloaded, func(e hotreload.Event) {
			l.opts.Observer.ManifestReloaded(nil)
			if _, ok := l.Session(e.GameID); ok {
				l.reloadAsync(e.GameID, true)
			}
		}),
		hr.Subscribe(hotreload.EventManifestError, func(e hotreload.Event) {
			l.opts.Observer.ManifestReloaded(e.Err)
		}),
		hr.Subscribe(hotreload.EventFileChanged, func(e hotreload.Event) {
			for _, s := range l.Sessions() {
				if strings.HasPrefix(e.Path, path.Dir(s.Path)+"/") {
					l.reloadAsync(s.GameID, true)
				}
			}
		}),
		hr.Subscribe(hotreload.EventReloadRequested, func(e hotreload.Event) {
			l.reloadAsync(e.GameID, e.PreserveState)
		}),
	)
}

func (l *Loader) syncWallet(e betting.Event) {
	for _, s := range l.Sessions() {
		s.Game.SyncWallet(e.Bet, e.RiskLevel)
	}
}

func (l *Loader) restoreFromHistory(c gamestate.Change) {
	s, ok := l.Session(c.GameID)
	if !ok {
		return
	}
	if err := s.Game.SetState(restorable(c.State)); err != nil {
		l.logger.Warn("history restore failed", "game", c.GameID, "err", err)
	}
}

func (l *Loader) reloadAsync(gameID string, preserve bool) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if _, err := l.Reload(ctx, gameID, preserve); err != nil && !errors.Is(err, ErrNoSession) {
		l.logger.Warn("reload failed", "game", gameID, "err", err)
	}
}

// Refresh discovers every manifest and loads it.
func (l *Loader) Refresh(ctx context.Context) ([]GameInfo, error) {
	paths, err := l.opts.Manifests.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: discover: %w", err)
	}
	l.opts.Manifests.LoadManifests(ctx, paths)
	return l.Games(), nil
}

// Games lists every cached manifest, ordered by id.
func (l *Loader) Games() []GameInfo {
	all := l.opts.Manifests.All()
	out := make([]GameInfo, 0, len(all))
	for _, m := range all {
		_, p, err := l.opts.Manifests.Lookup(m.ID)
		if err != nil {
			continue
		}
		_, open := l.Session(m.ID)
		out = append(out, GameInfo{Manifest: m, Path: p, Open: open})
	}
	return out
}

// Session returns the open session of gameID.
func (l *Loader) Session(gameID string) (*Session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[gameID]
	return s, ok
}

// Sessions returns every open session ordered by game id.
func (l *Loader) Sessions() []*Session {
	l.mu.Lock()
	out := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		out = append(out, s)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// Open starts a session of gameID drawing on surface.
func (l *Loader) Open(ctx context.Context, gameID string, surface game.Surface) (*Session, error) {
	if err := l.reserve(gameID); err != nil {
		return nil, err
	}
	s, err := l.open(ctx, gameID, surface, nil)
	l.settle(gameID, s)
	if err != nil {
		return nil, err
	}
	l.opts.Observer.SessionOpened(gameID)
	l.logger.Info("session opened", "game", gameID, "session", s.ID)
	return s, nil
}

func (l *Loader) reserve(gameID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[gameID]; ok || l.opening[gameID] {
		return fmt.Errorf("%w: %s", ErrSessionOpen, gameID)
	}
	l.opening[gameID] = true
	return nil
}

func (l *Loader) settle(gameID string, s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.opening, gameID)
	if s != nil {
		l.sessions[gameID] = s
	}
}

func (l *Loader) lookup(ctx context.Context, gameID string) (*manifest.Manifest, string, error) {
	m, p, err := l.opts.Manifests.Lookup(gameID)
	if errors.Is(err, manifest.ErrNotFound) {
		if _, rerr := l.Refresh(ctx); rerr != nil {
			return nil, "", rerr
		}
		m, p, err = l.opts.Manifests.Lookup(gameID)
	}
	return m, p, err
}

// open builds, initializes and starts a session. A non-nil saved state is
// restored instead of the persisted history.
func (l *Loader) open(ctx context.Context, gameID string, surface game.Surface, saved game.State) (*Session, error) {
	m, p, err := l.lookup(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", gameID, err)
	}
	wallet := l.opts.Betting
	limits := m.Limits(wallet.Limits(""))
	if err := wallet.RegisterGameLimits(gameID, limits); err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", gameID, err)
	}

	persisted, hasState := l.opts.State.GetState(gameID)
	if saved == nil && !hasState {
		l.initialRisk(gameID, m)
	}

	rt, err := l.opts.Registry.Create(m, l.opts.Logger)
	if err != nil {
		wallet.UnregisterGameLimits(gameID)
		return nil, fmt.Errorf("loader: open %s: %w", gameID, err)
	}
	s := &Session{
		ID:      uuid.NewString(),
		GameID:  gameID,
		Path:    p,
		Opened:  time.Now(),
		Game:    rt,
		surface: surface,
		started: make(map[string]time.Time),
	}
	s.wire(l)
	s.detach = append(s.detach, wallet.RegisterCalculator(gameID, rt.CalculatePotentialWin))

	cfg := game.Config{
		Surface:       surface,
		Balance:       wallet.Balance(),
		Bet:           l.initialBet(gameID, limits),
		Risk:          wallet.RiskLevel(),
		Limits:        limits,
		Custom:        m.Settings(),
		Assets:        &sourceAssets{src: l.opts.Manifests.Source(), dir: path.Dir(p)},
		FrameInterval: l.opts.Games.FrameInterval,
		InitTimeout:   l.opts.Games.InitTimeout,
		ActionTimeout: l.opts.Games.ActionTimeout,
	}
	if err := rt.Initialize(ctx, cfg); err != nil {
		s.release()
		wallet.UnregisterGameLimits(gameID)
		return nil, fmt.Errorf("loader: open %s: %w", gameID, err)
	}

	switch {
	case saved != nil:
		err = rt.SetState(restorable(saved))
	case hasState:
		err = rt.SetState(restorable(persisted))
	default:
		// the initial state is the base the first recorded action undoes to
		l.opts.State.SetState(gameID, rt.GetState(), false)
	}
	if err != nil {
		l.logger.Warn("state restore failed, starting fresh", "game", gameID, "err", err)
	}

	if err := rt.Start(ctx); err != nil {
		_ = rt.Destroy(ctx)
		s.release()
		wallet.UnregisterGameLimits(gameID)
		return nil, fmt.Errorf("loader: open %s: %w", gameID, err)
	}
	return s, nil
}

// initialRisk moves the wallet to the manifest's default risk level. It runs
// only on a game's first open so a level the player picked later survives a
// reopen.
func (l *Loader) initialRisk(gameID string, m *manifest.Manifest) {
	risk := m.RiskLevel("")
	if risk == "" {
		return
	}
	if res := l.opts.Betting.SetRiskLevel(risk); !res.Success {
		l.logger.Warn("manifest risk level rejected", "game", gameID, "risk", risk, "reason", res.Message)
	}
}

// initialBet keeps the wallet bet when it suits the game, otherwise moves
// the wallet to the game's default.
func (l *Loader) initialBet(gameID string, limits domain.Limits) float64 {
	wallet := l.opts.Betting
	if wallet.ValidateBet(wallet.Bet(), gameID) == "" {
		return wallet.Bet()
	}
	def := limits.DefaultBet
	if def <= 0 {
		def = limits.MinBet
	}
	if res := wallet.SetBet(def, gameID); !res.Success {
		l.logger.Warn("no valid bet for game", "game", gameID, "reason", res.Message)
	}
	return def
}

// Close destroys the session of gameID. Its state history is kept.
func (l *Loader) Close(ctx context.Context, gameID string) error {
	l.mu.Lock()
	s, ok := l.sessions[gameID]
	delete(l.sessions, gameID)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	l.shutdown(ctx, s)
	l.opts.Observer.SessionClosed(gameID)
	l.logger.Info("session closed", "game", gameID, "session", s.ID)
	return nil
}

func (l *Loader) shutdown(ctx context.Context, s *Session) {
	if err := s.Game.Destroy(ctx); err != nil {
		l.logger.Warn("destroy failed", "game", s.GameID, "err", err)
	}
	s.release()
	l.opts.Betting.UnregisterGameLimits(s.GameID)
}

// Reload rebuilds the session of gameID from a fresh manifest on the same
// surface. With preserveState the current state carries over; without it
// the state history is dropped.
func (l *Loader) Reload(ctx context.Context, gameID string, preserveState bool) (*Session, error) {
	l.mu.Lock()
	old, ok := l.sessions[gameID]
	if !ok || l.opening[gameID] {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	delete(l.sessions, gameID)
	l.opening[gameID] = true
	l.mu.Unlock()

	if _, err := l.opts.Manifests.LoadManifest(ctx, old.Path, true); err != nil {
		l.logger.Warn("manifest refresh failed, reloading cached copy", "game", gameID, "err", err)
	}

	var saved game.State
	if preserveState {
		saved = old.Game.GetState()
	}
	paused := old.Game.Phase() == game.PhasePaused
	l.shutdown(ctx, old)
	if !preserveState {
		l.opts.State.Remove(gameID)
	}

	s, err := l.open(ctx, gameID, old.surface, saved)
	l.settle(gameID, s)
	l.opts.Observer.SessionReloaded(gameID, err)
	if err != nil {
		l.opts.Observer.SessionClosed(gameID)
		return nil, err
	}
	if paused {
		s.Game.Pause()
	}
	l.logger.Info("session reloaded", "game", gameID, "session", s.ID, "preserveState", preserveState)
	return s, nil
}

// RestoreState loads st into the open session of gameID and records it as a
// new history step. Wallet-owned keys in st are ignored.
func (l *Loader) RestoreState(gameID string, st game.State) (game.State, error) {
	s, ok := l.Session(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	if err := s.Game.SetState(restorable(st)); err != nil {
		return nil, err
	}
	cur := s.Game.GetState()
	l.opts.State.SetState(gameID, cur, true)
	return cur, nil
}

// PatchState merges partial over the open session's state and records the
// merge as a new history step. Keys absent from partial keep their values.
func (l *Loader) PatchState(gameID string, partial game.State) (game.State, error) {
	s, ok := l.Session(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, gameID)
	}
	patch := restorable(partial)
	merged := s.Game.GetState()
	for k, v := range patch {
		merged[k] = v
	}
	if err := s.Game.SetState(restorable(merged)); err != nil {
		return nil, err
	}
	l.opts.State.UpdateState(gameID, patch, true)
	return s.Game.GetState(), nil
}

// Shutdown closes every session and detaches from the shared services.
func (l *Loader) Shutdown(ctx context.Context) {
	for _, s := range l.Sessions() {
		_ = l.Close(ctx, s.GameID)
	}
	l.mu.Lock()
	unsubs := l.unsubs
	l.unsubs = nil
	l.mu.Unlock()
	for _, off := range unsubs {
		off()
	}
}

// restorable drops the keys the wallet owns so a restore never overrides it.
func restorable(st game.State) game.State {
	out := gamestate.Clone(st)
	if out == nil {
		return game.State{}
	}
	delete(out, game.KeyBalance)
	delete(out, game.KeyBetAmount)
	delete(out, game.KeyRiskLevel)
	return out
}

// sourceAssets reads game files next to the manifest.
type sourceAssets struct {
	src manifest.Source
	dir string
}

func (a *sourceAssets) Read(ctx context.Context, name string) ([]byte, error) {
	return a.src.Read(ctx, path.Join(a.dir, name))
}
