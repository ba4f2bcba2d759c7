// Package game defines the lifecycle contract every mini-game implements and
// the Runtime that drives a game's rules through that lifecycle.
package game

import (
	"context"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/events"
)

// State is a game's opaque key/value state.
type State = map[string]any

// Conventional state keys maintained by the runtime.
const (
	KeyInitialized = "initialized"
	KeyIsRunning   = "isRunning"
	KeyIsPaused    = "isPaused"
	KeyBalance     = "balance"
	KeyBetAmount   = "betAmount"
	KeyRiskLevel   = "riskLevel"
	KeyLastResult  = "lastResult"
)

// Events every game can emit. Rules add their own through Rules.Events.
const (
	EventPhaseChange  = "phaseChange"
	EventSpinStart    = "spinStart"
	EventSpinEnd      = "spinEnd"
	EventBet          = "bet"
	EventWin          = "win"
	EventLoss         = "loss"
	EventBetChange    = "betChange"
	EventRiskChange   = "riskLevelChange"
	EventStateChange  = "stateChange"
	EventStateRestore = "stateRestore"
	EventResize       = "resize"
)

var baseEvents = []string{
	EventPhaseChange, EventSpinStart, EventSpinEnd, EventBet, EventWin, EventLoss,
	EventBetChange, EventRiskChange, EventStateChange, EventStateRestore, EventResize,
}

// Built-in action verbs handled by the runtime itself.
const (
	ActionSetBet       = "setBet"
	ActionSetRiskLevel = "setRiskLevel"
)

// Event is delivered to listeners of a game instance.
type Event struct {
	Name   string         `json:"name"`
	GameID string         `json:"gameId"`
	Data   map[string]any `json:"data,omitempty"`
}

// Action is a request to perform a verb.
type Action struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// ActionResult is returned by a successful PerformAction.
type ActionResult struct {
	Success   bool    `json:"success"`
	Result    any     `json:"result,omitempty"`
	WinAmount float64 `json:"winAmount"`
	Balance   float64 `json:"balance"`
}

// Config is handed to Initialize. Surface is required.
type Config struct {
	Surface Surface
	Width   int
	Height  int

	Balance float64
	Bet     float64
	Risk    domain.RiskLevel
	Limits  domain.Limits
	Theme   string
	Custom  map[string]any

	Assets        AssetLoader
	FrameInterval time.Duration
	InitTimeout   time.Duration
	ActionTimeout time.Duration
}

const (
	defaultWidth         = 800
	defaultHeight        = 600
	defaultFrameInterval = time.Second / 60
	defaultInitTimeout   = 10 * time.Second
	defaultActionTimeout = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = defaultWidth
	}
	if c.Height <= 0 {
		c.Height = defaultHeight
	}
	if !c.Risk.Valid() {
		c.Risk = domain.RiskMedium
	}
	if c.Bet <= 0 {
		c.Bet = c.Limits.DefaultBet
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = defaultFrameInterval
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = defaultInitTimeout
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = defaultActionTimeout
	}
	return c
}

// Game is the lifecycle contract of a mini-game instance.
type Game interface {
	ID() string
	Phase() Phase

	Initialize(ctx context.Context, cfg Config) error
	Start(ctx context.Context) error
	Pause()
	Resume()
	PerformAction(ctx context.Context, a Action) (ActionResult, error)
	Destroy(ctx context.Context) error
	Resize(width, height int)

	GetState() State
	SetState(st State) error
	CalculatePotentialWin(bet float64, risk domain.RiskLevel) float64

	AddEventListener(name string, fn func(Event)) events.ListenerID
	RemoveEventListener(name string, id events.ListenerID) bool
	AvailableEvents() []string
}

// withDefaultTimeout bounds ctx by d unless the caller already set a deadline.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
