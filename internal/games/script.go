package games

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/logging"
)

const (
	scriptSetupTimeout = 2 * time.Second
	scriptCallTimeout  = time.Second
	scriptTickTimeout  = 50 * time.Millisecond
)

var errScriptClosed = errors.New("games: script closed")

// Script runs game rules written in JavaScript. The manifest's main file
// must define a global `actions` array and an `act(action, snapshot)`
// function; `setup(settings)`, `potentialWin(bet, risk)`,
// `render(snapshot)`, `tick(snapshot, dtMs)` and an `events` array are
// optional.
//
// act returns {state, result, wager, settle: "win"|"loss"|"none", stake,
// winAmount, events: [{name, data}]}. wager is the amount taken from the
// balance (true means the current bet). Without it a win or loss is a
// one-shot round that wagers its stake in the same action.
type Script struct {
	rng         *RNG
	multipliers map[domain.RiskLevel]float64
	logger      *slog.Logger

	mu sync.Mutex
	vm *goja.Runtime

	metaMu  sync.RWMutex
	actions []string
	events  []string
}

func NewScript(rng *RNG, multipliers map[domain.RiskLevel]float64, logger *slog.Logger) *Script {
	return &Script{rng: rng, multipliers: multipliers, logger: logging.OrDiscard(logger)}
}

func (s *Script) Setup(ctx context.Context, env game.Env) (game.State, error) {
	if env.Loader == nil {
		return nil, fmt.Errorf("games: script %s: no asset loader", env.GameID)
	}
	src, err := env.Loader.Read(ctx, env.Manifest.Main)
	if err != nil {
		return nil, fmt.Errorf("games: load script %s: %w", env.Manifest.Main, err)
	}
	if env.Logger != nil {
		s.logger = env.Logger
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vm := goja.New()
	s.sandbox(vm)
	err = runWithTimeout(ctx, vm, scriptSetupTimeout, func() error {
		_, err := vm.RunScript(env.Manifest.Main, string(src))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("games: run script %s: %w", env.Manifest.Main, err)
	}

	actions, err := stringList(vm.Get("actions"))
	if err != nil || len(actions) == 0 {
		return nil, fmt.Errorf("games: script %s must define a non-empty actions array", env.Manifest.Main)
	}
	if _, ok := function(vm, "act"); !ok {
		return nil, fmt.Errorf("games: script %s must define act()", env.Manifest.Main)
	}
	evts, _ := stringList(vm.Get("events"))

	initial := game.State{}
	if setup, ok := function(vm, "setup"); ok {
		var v goja.Value
		err := runWithTimeout(ctx, vm, scriptSetupTimeout, func() error {
			var err error
			v, err = setup(goja.Undefined(), vm.ToValue(env.Settings))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("games: script setup(): %w", err)
		}
		if m, ok := exportMap(v); ok {
			initial = m
		}
	}

	s.vm = vm
	s.metaMu.Lock()
	s.actions = actions
	s.events = evts
	s.metaMu.Unlock()
	return initial, nil
}

// sandbox removes host access and injects log and a seeded Math.random.
func (s *Script) sandbox(vm *goja.Runtime) {
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		s.logger.Info("script log", "msg", strings.Join(parts, " "))
		return goja.Undefined()
	}
	vm.Set("log", logFn)
	console := vm.NewObject()
	console.Set("log", logFn)
	vm.Set("console", console)

	random := func(goja.FunctionCall) goja.Value { return vm.ToValue(s.rng.Float()) }
	vm.Set("random", random)
	if m := vm.Get("Math"); m != nil {
		m.ToObject(vm).Set("random", random)
	}

	vm.Set("require", goja.Undefined())
	vm.Set("fetch", goja.Undefined())
	vm.Set("XMLHttpRequest", goja.Undefined())
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())
}

func (s *Script) Actions() []string {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return append([]string(nil), s.actions...)
}

func (s *Script) Events() []string {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	return append([]string(nil), s.events...)
}

func snapshotObject(snap game.Snapshot) map[string]any {
	return map[string]any{
		"state":   snap.State,
		"balance": snap.Balance,
		"bet":     snap.Bet,
		"risk":    string(snap.Risk),
		"limits": map[string]any{
			"minBet":     snap.Limits.MinBet,
			"maxBet":     snap.Limits.MaxBet,
			"defaultBet": snap.Limits.DefaultBet,
		},
	}
}

func (s *Script) Act(ctx context.Context, snap game.Snapshot, a game.Action) (game.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vm == nil {
		return game.Outcome{}, errScriptClosed
	}
	act, _ := function(s.vm, "act")

	var v goja.Value
	err := runWithTimeout(ctx, s.vm, scriptCallTimeout, func() error {
		var err error
		action := map[string]any{"type": a.Type, "params": a.Params}
		v, err = act(goja.Undefined(), s.vm.ToValue(action), s.vm.ToValue(snapshotObject(snap)))
		return err
	})
	if err != nil {
		return game.Outcome{}, fmt.Errorf("games: script act(%s): %w", a.Type, err)
	}
	raw, ok := exportMap(v)
	if !ok {
		return game.Outcome{}, fmt.Errorf("games: script act(%s) must return an object", a.Type)
	}
	return outcomeFromScript(raw, snap)
}

func outcomeFromScript(raw map[string]any, snap game.Snapshot) (game.Outcome, error) {
	out := game.Outcome{Result: raw["result"]}
	if st, ok := raw["state"].(map[string]any); ok {
		out.State = st
	}
	if e, ok := raw["error"].(string); ok && e != "" {
		return game.Outcome{}, fmt.Errorf("%w: %s", game.ErrInvalidAction, e)
	}

	out.Stake = snap.Bet
	if _, ok := raw["stake"]; ok {
		out.Stake = floatOf(raw["stake"])
	}
	switch settle, _ := raw["settle"].(string); settle {
	case "", "none":
	case "win":
		out.Settle = game.SettleWin
		out.WinAmount = round2(floatOf(raw["winAmount"]))
		if out.WinAmount < 0 {
			return game.Outcome{}, fmt.Errorf("%w: negative winAmount", game.ErrInvalidAction)
		}
	case "loss":
		out.Settle = game.SettleLoss
	default:
		return game.Outcome{}, fmt.Errorf("%w: unknown settle %q", game.ErrInvalidAction, settle)
	}

	switch w := raw["wager"].(type) {
	case nil:
		if out.Settle != game.SettleNone {
			out.Wager = out.Stake
		}
	case bool:
		if w {
			out.Wager = snap.Bet
		}
	default:
		out.Wager = round2(floatOf(w))
	}
	if out.Wager > 0 {
		if err := checkStake(game.Snapshot{Bet: out.Wager, Balance: snap.Balance, Limits: snap.Limits}); err != nil {
			return game.Outcome{}, err
		}
	} else if out.Wager < 0 {
		return game.Outcome{}, fmt.Errorf("%w: negative wager", game.ErrInvalidAction)
	}

	if list, ok := raw["events"].([]any); ok {
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			if name == "" {
				continue
			}
			data, _ := m["data"].(map[string]any)
			out.Events = append(out.Events, game.Emit{Name: name, Data: data})
		}
	}
	return out, nil
}

func (s *Script) PotentialWin(bet float64, risk domain.RiskLevel) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	fallback := round2(bet * s.multipliers[risk])
	if s.vm == nil {
		return fallback
	}
	fn, ok := function(s.vm, "potentialWin")
	if !ok {
		return fallback
	}
	var v goja.Value
	err := runWithTimeout(context.Background(), s.vm, scriptCallTimeout, func() error {
		var err error
		v, err = fn(goja.Undefined(), s.vm.ToValue(bet), s.vm.ToValue(string(risk)))
		return err
	})
	if err != nil {
		s.logger.Warn("script potentialWin failed", "err", err)
		return fallback
	}
	return round2(v.ToFloat())
}

func (s *Script) Render(snap game.Snapshot) game.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene := game.Scene{"kind": "script", "state": snap.State, "balance": snap.Balance}
	if s.vm == nil {
		return scene
	}
	fn, ok := function(s.vm, "render")
	if !ok {
		return scene
	}
	var v goja.Value
	err := runWithTimeout(context.Background(), s.vm, scriptTickTimeout, func() error {
		var err error
		v, err = fn(goja.Undefined(), s.vm.ToValue(snapshotObject(snap)))
		return err
	})
	if err != nil {
		s.logger.Warn("script render failed", "err", err)
		return scene
	}
	if m, ok := exportMap(v); ok {
		return game.Scene(m)
	}
	return scene
}

// Tick calls the script's tick(); a returned object is merged into state.
func (s *Script) Tick(snap game.Snapshot, dt time.Duration) (game.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vm == nil {
		return game.Outcome{}, false
	}
	fn, ok := function(s.vm, "tick")
	if !ok {
		return game.Outcome{}, false
	}
	var v goja.Value
	err := runWithTimeout(context.Background(), s.vm, scriptTickTimeout, func() error {
		var err error
		v, err = fn(goja.Undefined(), s.vm.ToValue(snapshotObject(snap)), s.vm.ToValue(dt.Milliseconds()))
		return err
	})
	if err != nil {
		s.logger.Warn("script tick failed", "err", err)
		return game.Outcome{}, false
	}
	st, ok := exportMap(v)
	if !ok || len(st) == 0 {
		return game.Outcome{}, false
	}
	return game.Outcome{State: st}, true
}

func (s *Script) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vm != nil {
		s.vm.Interrupt("closed")
		s.vm = nil
	}
	return nil
}

func function(vm *goja.Runtime, name string) (goja.Callable, bool) {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	return goja.AssertFunction(v)
}

func exportMap(v goja.Value) (map[string]any, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	m, ok := v.Export().(map[string]any)
	return m, ok
}

func stringList(v goja.Value) ([]string, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	items, ok := v.Export().([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok || str == "" {
			return nil, fmt.Errorf("expected strings, got %T", item)
		}
		out = append(out, str)
	}
	return out, nil
}

// runWithTimeout runs fn and interrupts the VM when the timeout or ctx ends
// first.
func runWithTimeout(ctx context.Context, vm *goja.Runtime, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cause error
	select {
	case err := <-done:
		return err
	case <-timer.C:
		cause = errors.New("script timed out")
	case <-ctx.Done():
		cause = ctx.Err()
	}
	vm.Interrupt(cause.Error())
	select {
	case <-done:
		vm.ClearInterrupt()
	case <-time.After(200 * time.Millisecond):
	}
	return cause
}
