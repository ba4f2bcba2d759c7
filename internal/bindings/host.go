// Package bindings exposes the playground to the desktop webview. GameHost
// is bound to Wails; its exported methods become frontend calls and game
// frames, game events and wallet changes are pushed back as runtime events.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/hotreload"
	"github.com/MJE43/minigame-playground/internal/loader"
	"github.com/MJE43/minigame-playground/internal/logging"
)

// Frontend event names.
const (
	EventGame     = "game:event"
	EventWallet   = "wallet:change"
	EventState    = "state:change"
	EventReload   = "reload"
	EventSessions = "sessions:change"
)

var errNotStarted = errors.New("bindings: host not started")

// Options wires a GameHost.
type Options struct {
	Loader    *loader.Loader
	Betting   *betting.Service
	State     *gamestate.Manager
	HotReload *hotreload.Service
	Logger    *slog.Logger
	// Emit defaults to the Wails runtime.
	Emit Emitter
}

// SessionInfo is the frontend view of an open session.
type SessionInfo struct {
	ID      string     `json:"id"`
	GameID  string     `json:"gameId"`
	Name    string     `json:"name"`
	Version string     `json:"version"`
	Phase   game.Phase `json:"phase"`
	State   game.State `json:"state"`
	Events  []string   `json:"events"`
	CanUndo bool       `json:"canUndo"`
	CanRedo bool       `json:"canRedo"`
}

// WalletEvent is pushed on every wallet change.
type WalletEvent struct {
	betting.Event
	Snapshot betting.Snapshot `json:"snapshot"`
}

type attachment struct {
	sessionID string
	detach    []func()
}

// GameHost runs games inside the desktop window.
type GameHost struct {
	opts   Options
	logger *slog.Logger

	ctxMu sync.RWMutex
	ctx   context.Context

	mu       sync.Mutex
	attached map[string]attachment
	unsubs   []func()
}

func New(opts Options) *GameHost {
	if opts.Emit == nil {
		opts.Emit = wruntime.EventsEmit
	}
	return &GameHost{
		opts:     opts,
		logger:   logging.OrDiscard(opts.Logger).With("component", "bindings"),
		attached: make(map[string]attachment),
	}
}

// Startup is called by Wails once the window exists.
func (h *GameHost) Startup(ctx context.Context) {
	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()

	forwardWallet := func(e betting.Event) {
		h.emit(EventWallet, WalletEvent{Event: e, Snapshot: h.opts.Betting.Snapshot()})
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range []string{
		betting.EventBalanceChange, betting.EventBetChange, betting.EventRiskLevelChange,
		betting.EventWin, betting.EventLoss,
	} {
		h.unsubs = append(h.unsubs, h.opts.Betting.Subscribe(name, forwardWallet))
	}
	for _, kind := range []string{gamestate.EventStateChange, gamestate.EventUndo, gamestate.EventRedo, gamestate.EventCleared} {
		h.unsubs = append(h.unsubs, h.opts.State.Subscribe(kind, func(c gamestate.Change) {
			h.emit(EventState, c)
		}))
	}
	if hr := h.opts.HotReload; hr != nil {
		for _, name := range []string{
			hotreload.EventManifestReloaded, hotreload.EventManifestError,
			hotreload.EventFileChanged, hotreload.EventReloadRequested,
		} {
			h.unsubs = append(h.unsubs, hr.Subscribe(name, h.onReload))
		}
	}
}

// Shutdown closes every session. Wails calls it before the window goes away.
func (h *GameHost) Shutdown(ctx context.Context) {
	h.mu.Lock()
	unsubs := h.unsubs
	h.unsubs = nil
	h.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
	h.opts.Loader.Shutdown(ctx)
	h.ctxMu.Lock()
	h.ctx = nil
	h.ctxMu.Unlock()
}

func (h *GameHost) context() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.ctx
}

func (h *GameHost) emit(name string, data any) {
	ctx := h.context()
	if ctx == nil {
		return
	}
	h.opts.Emit(ctx, name, data)
}

// onReload runs after the loader handled the event, so sessions rebuilt by
// it are picked up here.
func (h *GameHost) onReload(e hotreload.Event) {
	payload := map[string]any{"type": e.Type, "path": e.Path, "gameId": e.GameID}
	if e.Err != nil {
		payload["error"] = e.Err.Error()
	}
	h.emit(EventReload, payload)
	h.logger.Debug("reload forwarded", "type", e.Type, "game", e.GameID, "path", e.Path)
	for _, s := range h.opts.Loader.Sessions() {
		h.attach(s)
	}
}

// attach forwards the events of s's game instance once per session.
func (h *GameHost) attach(s *loader.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, ok := h.attached[s.GameID]
	if ok && prev.sessionID == s.ID {
		return
	}
	for _, d := range prev.detach {
		d()
	}
	rt := s.Game
	a := attachment{sessionID: s.ID}
	for _, name := range rt.AvailableEvents() {
		name := name
		id := rt.AddEventListener(name, func(e game.Event) { h.emit(EventGame, e) })
		a.detach = append(a.detach, func() { rt.RemoveEventListener(name, id) })
	}
	h.attached[s.GameID] = a
}

func (h *GameHost) detach(gameID string) {
	h.mu.Lock()
	a := h.attached[gameID]
	delete(h.attached, gameID)
	h.mu.Unlock()
	for _, d := range a.detach {
		d()
	}
}

func (h *GameHost) session(gameID string) (*loader.Session, error) {
	s, ok := h.opts.Loader.Session(gameID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", loader.ErrNoSession, gameID)
	}
	return s, nil
}

func (h *GameHost) describe(s *loader.Session) SessionInfo {
	m := s.Game.Manifest()
	return SessionInfo{
		ID:      s.ID,
		GameID:  s.GameID,
		Name:    m.Name,
		Version: m.Version,
		Phase:   s.Game.Phase(),
		State:   s.Game.GetState(),
		Events:  s.Game.AvailableEvents(),
		CanUndo: h.opts.State.CanUndo(s.GameID),
		CanRedo: h.opts.State.CanRedo(s.GameID),
	}
}

func (h *GameHost) sessionsChanged() {
	h.emit(EventSessions, h.Sessions())
}

// ListGames returns every known game.
func (h *GameHost) ListGames() []loader.GameInfo {
	return h.opts.Loader.Games()
}

// RefreshGames rescans the games directory.
func (h *GameHost) RefreshGames() ([]loader.GameInfo, error) {
	return h.opts.Loader.Refresh(h.callContext())
}

// Sessions lists the open sessions.
func (h *GameHost) Sessions() []SessionInfo {
	sessions := h.opts.Loader.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, h.describe(s))
	}
	return out
}

// OpenGame starts gameID drawing into the webview.
func (h *GameHost) OpenGame(gameID string) (SessionInfo, error) {
	if h.context() == nil {
		return SessionInfo{}, errNotStarted
	}
	s, err := h.opts.Loader.Open(h.callContext(), gameID, webviewSurface{host: h})
	if err != nil {
		return SessionInfo{}, err
	}
	h.attach(s)
	h.sessionsChanged()
	return h.describe(s), nil
}

// CloseGame destroys the session of gameID. Its state stays for a reopen.
func (h *GameHost) CloseGame(gameID string) error {
	h.detach(gameID)
	if err := h.opts.Loader.Close(h.callContext(), gameID); err != nil {
		return err
	}
	h.sessionsChanged()
	return nil
}

func (h *GameHost) PauseGame(gameID string) (SessionInfo, error) {
	s, err := h.session(gameID)
	if err != nil {
		return SessionInfo{}, err
	}
	s.Game.Pause()
	return h.describe(s), nil
}

func (h *GameHost) ResumeGame(gameID string) (SessionInfo, error) {
	s, err := h.session(gameID)
	if err != nil {
		return SessionInfo{}, err
	}
	s.Game.Resume()
	return h.describe(s), nil
}

func (h *GameHost) ResizeGame(gameID string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("bindings: invalid size %dx%d", width, height)
	}
	s, err := h.session(gameID)
	if err != nil {
		return err
	}
	s.Game.Resize(width, height)
	return nil
}

// PerformAction runs one game verb.
func (h *GameHost) PerformAction(gameID, actionType string, params map[string]any) (game.ActionResult, error) {
	s, err := h.session(gameID)
	if err != nil {
		return game.ActionResult{}, err
	}
	return s.Game.PerformAction(h.callContext(), game.Action{Type: actionType, Params: params})
}

// ReloadGame rebuilds gameID from its manifest.
func (h *GameHost) ReloadGame(gameID string, preserveState bool) (SessionInfo, error) {
	s, err := h.opts.Loader.Reload(h.callContext(), gameID, preserveState)
	if err != nil {
		return SessionInfo{}, err
	}
	h.attach(s)
	return h.describe(s), nil
}

func (h *GameHost) GetState(gameID string) (game.State, error) {
	s, err := h.session(gameID)
	if err != nil {
		return nil, err
	}
	return s.Game.GetState(), nil
}

// Undo steps gameID's history back; false means there was nothing to undo.
func (h *GameHost) Undo(gameID string) bool {
	_, ok := h.opts.State.Undo(gameID)
	return ok
}

func (h *GameHost) Redo(gameID string) bool {
	_, ok := h.opts.State.Redo(gameID)
	return ok
}

func (h *GameHost) Wallet() betting.Snapshot {
	return h.opts.Betting.Snapshot()
}

func (h *GameHost) SetBet(amount float64, gameID string) betting.Result {
	return h.opts.Betting.SetBet(amount, gameID)
}

func (h *GameHost) SetRiskLevel(level string) betting.Result {
	return h.opts.Betting.SetRiskLevel(domain.RiskLevel(level))
}

func (h *GameHost) AddFunds(amount float64) betting.Result {
	return h.opts.Betting.AddFunds(amount, betting.ReasonDeposit)
}

func (h *GameHost) ResetWallet() betting.Result {
	return h.opts.Betting.Reset()
}

func (h *GameHost) PotentialWin(bet float64, level string, gameID string) float64 {
	return h.opts.Betting.CalculatePotentialWin(bet, domain.RiskLevel(level), gameID)
}

// callContext is the Wails context, or Background before start-up.
func (h *GameHost) callContext() context.Context {
	if ctx := h.context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
