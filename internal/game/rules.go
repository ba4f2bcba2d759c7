package game

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// Env is what rules see while setting up.
type Env struct {
	GameID   string
	Manifest *manifest.Manifest
	Settings map[string]any
	Custom   map[string]any
	// Assets holds the manifest's assets, keyed by their manifest path.
	Assets map[string][]byte
	Loader AssetLoader
	Logger *slog.Logger
}

// Snapshot is the read-only view rules compute an Outcome against.
type Snapshot struct {
	GameID  string
	State   State
	Balance float64
	Bet     float64
	Risk    domain.RiskLevel
	Limits  domain.Limits
}

// Settlement says how an outcome closes a wager. A win credits WinAmount;
// a loss moves no money because the stake left with the wager.
type Settlement int

const (
	SettleNone Settlement = iota
	SettleWin
	SettleLoss
)

// Emit is a rules-defined event raised when an outcome is committed.
type Emit struct {
	Name string
	Data map[string]any
}

// Outcome is the proposed effect of an action. The runtime commits it only
// if the instance is still running.
type Outcome struct {
	// State is shallow-merged into the game state.
	State  State
	Result any
	// Wager is debited before the outcome settles.
	Wager     float64
	Settle    Settlement
	Stake     float64
	WinAmount float64
	Events    []Emit
}

// Rules is the game-specific half of a game instance.
type Rules interface {
	Setup(ctx context.Context, env Env) (State, error)
	Actions() []string
	Act(ctx context.Context, snap Snapshot, a Action) (Outcome, error)
	PotentialWin(bet float64, risk domain.RiskLevel) float64
	Render(snap Snapshot) Scene
	Events() []string
}

// Ticker is implemented by rules that change state on every frame.
// Tick outcomes never settle money and are not recorded in history.
type Ticker interface {
	Tick(snap Snapshot, dt time.Duration) (Outcome, bool)
}

// Closer is implemented by rules holding resources released on Destroy.
type Closer interface {
	Close() error
}

// Float reads a numeric action parameter. Numeric strings are accepted.
func (a Action) Float(key string) (float64, error) {
	v, ok := a.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidAction, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidAction, key)
}

// String reads a string action parameter, or def when absent.
func (a Action) String(key, def string) string {
	if s, ok := a.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}
