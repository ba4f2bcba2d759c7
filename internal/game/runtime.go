package game

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/events"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

var conventionalKeys = []string{
	KeyInitialized, KeyIsRunning, KeyIsPaused, KeyBalance, KeyBetAmount, KeyRiskLevel, KeyLastResult,
}

// Runtime drives Rules through the Game lifecycle.
type Runtime struct {
	id       string
	manifest *manifest.Manifest
	rules    Rules
	logger   *slog.Logger
	bus      *events.Bus[Event]

	mu           sync.Mutex
	phase        Phase
	initializing bool
	cfg          Config
	state        State
	lastResult   any
	balance      float64
	bet          float64
	risk         domain.RiskLevel
	limits       domain.Limits
	canvas       Canvas
	seq          uint64
	busy         string

	// step serializes rules computation and commit between actions and ticks.
	step sync.Mutex

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	loops      atomic.Int32
}

var _ Game = (*Runtime)(nil)

// NewRuntime creates an uninitialized instance of m driven by rules.
func NewRuntime(m *manifest.Manifest, rules Rules, logger *slog.Logger) *Runtime {
	logger = logging.OrDiscard(logger).With("game", m.ID)
	return &Runtime{
		id:       m.ID,
		manifest: m,
		rules:    rules,
		logger:   logger,
		bus:      events.NewBus[Event]("game:"+m.ID, logger),
		phase:    PhaseUninitialized,
		state:    State{},
	}
}

func (r *Runtime) ID() string { return r.id }

func (r *Runtime) Manifest() *manifest.Manifest { return r.manifest }

func (r *Runtime) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Initialize mounts the canvas, loads assets and runs the rules' setup. On
// any failure acquired resources are released and the phase stays
// uninitialized.
func (r *Runtime) Initialize(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	if _, err := Next(r.phase, OpInitialize); err != nil || r.initializing {
		r.mu.Unlock()
		if err == nil {
			err = &LifecycleError{Op: OpInitialize, Phase: PhaseUninitialized}
		}
		return err
	}
	if cfg.Surface == nil {
		r.mu.Unlock()
		return ErrNoSurface
	}
	r.initializing = true
	r.mu.Unlock()

	cfg = cfg.withDefaults()
	ctx, cancel := withDefaultTimeout(ctx, cfg.InitTimeout)
	defer cancel()

	canvas, initial, err := r.acquire(ctx, cfg)

	r.mu.Lock()
	r.initializing = false
	if err == nil && r.phase != PhaseUninitialized {
		err = &LifecycleError{Op: OpInitialize, Phase: r.phase}
	}
	if err != nil {
		r.mu.Unlock()
		if canvas != nil {
			_ = canvas.Close()
		}
		r.closeRules()
		r.logger.Warn("initialize failed", "err", err)
		return err
	}
	r.cfg = cfg
	r.canvas = canvas
	r.state = initial
	r.balance = cfg.Balance
	r.bet = cfg.Bet
	r.risk = cfg.Risk
	r.limits = cfg.Limits
	r.phase = PhaseInitialized
	r.mu.Unlock()

	r.logger.Debug("initialized", "width", cfg.Width, "height", cfg.Height)
	r.emit(EventPhaseChange, map[string]any{"phase": PhaseInitialized})
	r.redraw()
	return nil
}

func (r *Runtime) acquire(ctx context.Context, cfg Config) (Canvas, State, error) {
	canvas, err := cfg.Surface.Mount(r.id, cfg.Width, cfg.Height)
	if err != nil {
		return nil, nil, fmt.Errorf("game: mount %s: %w", r.id, err)
	}

	assets := make(map[string][]byte, len(r.manifest.Assets))
	for _, name := range r.manifest.Assets {
		if cfg.Assets == nil {
			return canvas, nil, fmt.Errorf("game: asset %s: no asset loader", name)
		}
		data, err := cfg.Assets.Read(ctx, path.Clean(name))
		if err != nil {
			return canvas, nil, fmt.Errorf("game: load asset %s: %w", name, err)
		}
		assets[name] = data
	}
	if err := ctx.Err(); err != nil {
		return canvas, nil, err
	}

	env := Env{
		GameID:   r.id,
		Manifest: r.manifest,
		Settings: r.manifest.Settings(),
		Custom:   gamestate.Clone(cfg.Custom),
		Assets:   assets,
		Loader:   cfg.Assets,
		Logger:   r.logger,
	}
	initial, err := call(ctx, func(ctx context.Context) (State, error) {
		return r.rules.Setup(ctx, env)
	})
	if err != nil {
		return canvas, nil, fmt.Errorf("game: setup %s: %w", r.id, err)
	}
	if initial == nil {
		initial = State{}
	}
	return canvas, initial, nil
}

// Start begins the render loop. Starting twice is a lifecycle error and
// never starts a second loop.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	next, err := Next(r.phase, OpStart)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.phase = next
	r.startLoopLocked()
	r.mu.Unlock()

	r.emit(EventPhaseChange, map[string]any{"phase": next})
	r.redraw()
	return nil
}

// Pause stops the render loop. Outside running it only logs a warning.
func (r *Runtime) Pause() {
	r.mu.Lock()
	next, err := Next(r.phase, OpPause)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("pause ignored", "phase", err.(*LifecycleError).Phase)
		return
	}
	r.phase = next
	cancel, done := r.detachLoopLocked()
	r.mu.Unlock()

	stopLoop(cancel, done)
	r.emit(EventPhaseChange, map[string]any{"phase": next})
	r.redraw()
}

// Resume restarts the render loop. Outside paused it only logs a warning.
func (r *Runtime) Resume() {
	r.mu.Lock()
	next, err := Next(r.phase, OpResume)
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("resume ignored", "phase", err.(*LifecycleError).Phase)
		return
	}
	r.phase = next
	r.startLoopLocked()
	r.mu.Unlock()

	r.emit(EventPhaseChange, map[string]any{"phase": next})
	r.redraw()
}

// Destroy releases everything. A second call is a no-op.
func (r *Runtime) Destroy(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == PhaseDestroyed {
		r.mu.Unlock()
		return nil
	}
	r.phase = PhaseDestroyed
	cancel, done := r.detachLoopLocked()
	canvas := r.canvas
	r.canvas = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("render loop did not stop before deadline")
		}
	}
	var err error
	if canvas != nil {
		err = canvas.Close()
	}
	r.closeRules()
	r.emit(EventPhaseChange, map[string]any{"phase": PhaseDestroyed})
	r.bus.Clear()
	r.logger.Debug("destroyed")
	return err
}

func (r *Runtime) closeRules() {
	if c, ok := r.rules.(Closer); ok {
		if err := c.Close(); err != nil {
			r.logger.Warn("close rules failed", "err", err)
		}
	}
}

// Resize adjusts the canvas and redraws. Before Initialize it does nothing.
func (r *Runtime) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	r.mu.Lock()
	if r.canvas == nil {
		r.mu.Unlock()
		return
	}
	r.canvas.Resize(width, height)
	r.mu.Unlock()

	r.emit(EventResize, map[string]any{"width": width, "height": height})
	r.redraw()
}

// PerformAction runs a verb. Only valid while running. One verb runs at a
// time; another arriving meanwhile is rejected with ErrActionInFlight.
func (r *Runtime) PerformAction(ctx context.Context, a Action) (ActionResult, error) {
	switch a.Type {
	case ActionSetBet:
		return r.setBet(a)
	case ActionSetRiskLevel:
		return r.setRisk(a)
	}
	if !slices.Contains(r.rules.Actions(), a.Type) {
		if _, err := r.checkPhase(OpAction); err != nil {
			return ActionResult{}, err
		}
		return ActionResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, a.Type)
	}

	r.mu.Lock()
	if _, err := Next(r.phase, OpAction); err != nil {
		r.mu.Unlock()
		return ActionResult{}, err
	}
	if r.busy != "" {
		busy := r.busy
		r.mu.Unlock()
		return ActionResult{}, fmt.Errorf("%w: %s while %s runs", ErrActionInFlight, a.Type, busy)
	}
	r.busy = a.Type
	timeout := r.cfg.ActionTimeout
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = ""
		r.mu.Unlock()
	}()

	res, emits, err := r.act(ctx, a, timeout)
	if err != nil {
		r.emit(EventSpinEnd, map[string]any{"action": a.Type, "error": err.Error()})
		return ActionResult{}, err
	}
	for _, e := range emits {
		r.emit(e.Name, e.Data)
	}
	r.emit(EventSpinEnd, map[string]any{
		"action":    a.Type,
		"result":    res.Result,
		"winAmount": res.WinAmount,
		"balance":   res.Balance,
	})
	r.redraw()
	return res, nil
}

// act computes and commits one action while holding step, so a tick never
// commits between the snapshot and the commit.
func (r *Runtime) act(ctx context.Context, a Action, timeout time.Duration) (ActionResult, []Emit, error) {
	r.step.Lock()
	defer r.step.Unlock()

	r.mu.Lock()
	snap := r.snapshotLocked()
	r.mu.Unlock()
	r.emit(EventSpinStart, map[string]any{"action": a.Type, "bet": snap.Bet})

	ctx, cancel := withDefaultTimeout(ctx, timeout)
	defer cancel()
	out, err := call(ctx, func(ctx context.Context) (Outcome, error) {
		return r.rules.Act(ctx, snap, a)
	})
	if err != nil {
		return ActionResult{}, nil, err
	}
	return r.commit(out, true)
}

// commit applies an outcome if the instance is still running and returns the
// events to raise, in order.
func (r *Runtime) commit(out Outcome, record bool) (ActionResult, []Emit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseRunning {
		return ActionResult{}, nil, &LifecycleError{Op: OpAction, Phase: r.phase}
	}

	if out.Wager < 0 || out.WinAmount < 0 {
		return ActionResult{}, nil, fmt.Errorf("%w: negative amount", ErrInvalidAction)
	}
	if out.Wager > r.balance {
		return ActionResult{}, nil, fmt.Errorf("%w: wager %.2f exceeds balance %.2f", ErrInvalidAction, out.Wager, r.balance)
	}

	var settle []Emit
	if out.Wager > 0 {
		r.balance -= out.Wager
		settle = append(settle, Emit{Name: EventBet, Data: map[string]any{
			"amount": out.Wager, "balance": r.balance,
		}})
	}
	switch out.Settle {
	case SettleWin:
		r.balance += out.WinAmount
		settle = append(settle, Emit{Name: EventWin, Data: map[string]any{
			"amount": out.WinAmount, "bet": out.Stake, "balance": r.balance,
		}})
	case SettleLoss:
		settle = append(settle, Emit{Name: EventLoss, Data: map[string]any{
			"amount": out.Stake, "balance": r.balance,
		}})
	}

	for k, v := range out.State {
		r.state[k] = v
	}
	if out.Result != nil {
		r.lastResult = out.Result
	}

	emits := append([]Emit(nil), out.Events...)
	emits = append(emits, settle...)
	emits = append(emits, Emit{Name: EventStateChange, Data: map[string]any{
		"state":  r.composeLocked(),
		"record": record,
	}})
	return ActionResult{
		Success:   true,
		Result:    out.Result,
		WinAmount: out.WinAmount,
		Balance:   r.balance,
	}, emits, nil
}

func (r *Runtime) setBet(a Action) (ActionResult, error) {
	amount, err := a.Float("amount")
	if err != nil {
		return ActionResult{}, err
	}
	r.mu.Lock()
	if _, err := Next(r.phase, OpAction); err != nil {
		r.mu.Unlock()
		return ActionResult{}, err
	}
	switch {
	case amount <= 0:
		err = fmt.Errorf("%w: bet must be positive", ErrInvalidAction)
	case r.limits.MinBet > 0 && amount < r.limits.MinBet:
		err = fmt.Errorf("%w: minimum bet is %.2f", ErrInvalidAction, r.limits.MinBet)
	case r.limits.Above(amount):
		err = fmt.Errorf("%w: maximum bet is %.2f", ErrInvalidAction, r.limits.MaxBet)
	case amount > r.balance:
		err = fmt.Errorf("%w: insufficient balance", ErrInvalidAction)
	}
	if err != nil {
		r.mu.Unlock()
		return ActionResult{}, err
	}
	r.bet = amount
	balance := r.balance
	st := r.composeLocked()
	r.mu.Unlock()

	r.emit(EventBetChange, map[string]any{"bet": amount})
	r.emit(EventStateChange, map[string]any{"state": st, "record": false})
	r.redraw()
	return ActionResult{Success: true, Result: amount, Balance: balance}, nil
}

func (r *Runtime) setRisk(a Action) (ActionResult, error) {
	level, err := domain.ParseRiskLevel(a.String("level", a.String("riskLevel", "")))
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	r.mu.Lock()
	if _, err := Next(r.phase, OpAction); err != nil {
		r.mu.Unlock()
		return ActionResult{}, err
	}
	r.risk = level
	balance := r.balance
	st := r.composeLocked()
	r.mu.Unlock()

	r.emit(EventRiskChange, map[string]any{"riskLevel": level})
	r.emit(EventStateChange, map[string]any{"state": st, "record": false})
	r.redraw()
	return ActionResult{Success: true, Result: level, Balance: balance}, nil
}

func (r *Runtime) checkPhase(op Op) (Phase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Next(r.phase, op)
}

// GetState returns a deep copy of the game state plus the conventional keys.
func (r *Runtime) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.composeLocked()
}

// SetState restores a snapshot and redraws. The wallet balance is owned by
// the betting service and is not restored; bet and risk are.
func (r *Runtime) SetState(st State) error {
	r.mu.Lock()
	switch r.phase {
	case PhaseInitialized, PhaseRunning, PhasePaused:
	default:
		phase := r.phase
		r.mu.Unlock()
		return &LifecycleError{Op: "setState", Phase: phase}
	}
	next := gamestate.Clone(st)
	if bet, ok := next[KeyBetAmount].(float64); ok && bet > 0 {
		r.bet = bet
	}
	if risk, ok := next[KeyRiskLevel].(string); ok && domain.RiskLevel(risk).Valid() {
		r.risk = domain.RiskLevel(risk)
	}
	if last, ok := next[KeyLastResult]; ok {
		r.lastResult = last
	}
	for _, k := range conventionalKeys {
		delete(next, k)
	}
	if next == nil {
		next = State{}
	}
	r.state = next
	restored := r.composeLocked()
	r.mu.Unlock()

	r.emit(EventStateRestore, map[string]any{"state": restored})
	r.redraw()
	return nil
}

// SyncBalance adopts the wallet balance without raising events.
func (r *Runtime) SyncBalance(balance float64) {
	r.mu.Lock()
	changed := r.balance != balance
	r.balance = balance
	r.mu.Unlock()
	if changed {
		r.redraw()
	}
}

// SyncWallet adopts the wallet's bet and risk level without raising events.
func (r *Runtime) SyncWallet(bet float64, risk domain.RiskLevel) {
	r.mu.Lock()
	changed := false
	if bet > 0 && r.bet != bet {
		r.bet, changed = bet, true
	}
	if risk.Valid() && r.risk != risk {
		r.risk, changed = risk, true
	}
	r.mu.Unlock()
	if changed {
		r.redraw()
	}
}

// SetLimits replaces the bet limits used by setBet.
func (r *Runtime) SetLimits(l domain.Limits) {
	r.mu.Lock()
	r.limits = l
	r.mu.Unlock()
}

func (r *Runtime) CalculatePotentialWin(bet float64, risk domain.RiskLevel) float64 {
	return r.rules.PotentialWin(bet, risk)
}

func (r *Runtime) AddEventListener(name string, fn func(Event)) events.ListenerID {
	return r.bus.On(name, fn)
}

func (r *Runtime) RemoveEventListener(name string, id events.ListenerID) bool {
	return r.bus.Off(name, id)
}

func (r *Runtime) AvailableEvents() []string {
	out := append([]string(nil), baseEvents...)
	for _, e := range r.rules.Events() {
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Runtime) emit(name string, data map[string]any) {
	r.bus.Emit(name, Event{Name: name, GameID: r.id, Data: data})
}

func (r *Runtime) snapshotLocked() Snapshot {
	return Snapshot{
		GameID:  r.id,
		State:   gamestate.Clone(r.state),
		Balance: r.balance,
		Bet:     r.bet,
		Risk:    r.risk,
		Limits:  r.limits,
	}
}

func (r *Runtime) composeLocked() State {
	out := gamestate.Clone(r.state)
	if out == nil {
		out = State{}
	}
	out[KeyInitialized] = r.phase != PhaseUninitialized && r.phase != PhaseDestroyed
	out[KeyIsRunning] = r.phase == PhaseRunning
	out[KeyIsPaused] = r.phase == PhasePaused
	out[KeyBalance] = r.balance
	out[KeyBetAmount] = r.bet
	out[KeyRiskLevel] = string(r.risk)
	if r.lastResult != nil {
		out[KeyLastResult] = r.lastResult
	}
	return out
}

func (r *Runtime) redraw() {
	r.mu.Lock()
	if r.canvas == nil {
		r.mu.Unlock()
		return
	}
	canvas := r.canvas
	w, h := canvas.Size()
	r.seq++
	f := Frame{
		GameID: r.id,
		Seq:    r.seq,
		Width:  w,
		Height: h,
		Phase:  r.phase,
		Theme:  r.cfg.Theme,
		Scene:  r.rules.Render(r.snapshotLocked()),
	}
	r.mu.Unlock()

	if err := canvas.Draw(f); err != nil {
		r.logger.Debug("draw failed", "seq", f.Seq, "err", err)
	}
}

func (r *Runtime) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.loopCancel = cancel
	r.loopDone = done
	interval := r.cfg.FrameInterval
	r.loops.Add(1)
	go r.loop(ctx, interval, done)
}

func (r *Runtime) detachLoopLocked() (context.CancelFunc, chan struct{}) {
	cancel, done := r.loopCancel, r.loopDone
	r.loopCancel, r.loopDone = nil, nil
	return cancel, done
}

func stopLoop(cancel context.CancelFunc, done chan struct{}) {
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Runtime) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer r.loops.Add(-1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if r.tick(now.Sub(last)) {
				last = now
			}
		}
	}
}

// tick reports false when it was skipped because an action held step; the
// elapsed time then carries into the next tick.
func (r *Runtime) tick(dt time.Duration) bool {
	t, ok := r.rules.(Ticker)
	if !ok {
		return true
	}
	if !r.step.TryLock() {
		return false
	}
	defer r.step.Unlock()
	r.mu.Lock()
	if r.phase != PhaseRunning {
		r.mu.Unlock()
		return true
	}
	snap := r.snapshotLocked()
	r.mu.Unlock()

	out, changed := t.Tick(snap, dt)
	if !changed {
		return true
	}
	out.Settle = SettleNone
	out.Wager = 0
	_, emits, err := r.commit(out, false)
	if err != nil {
		return true
	}
	for _, e := range emits {
		r.emit(e.Name, e.Data)
	}
	r.redraw()
	return true
}

// call runs fn and returns early with ctx's error when ctx ends first.
// A panic in fn becomes an error.
func call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("game: rules panicked: %v", p)}
			}
		}()
		v, err := fn(ctx)
		ch <- result{v: v, err: err}
	}()
	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
