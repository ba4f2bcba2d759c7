// Package gamestate stores per-game state with a bounded linear undo/redo
// history and durable persistence. It knows nothing about the shape of any
// particular game's state.
package gamestate

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MJE43/minigame-playground/internal/events"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/store"
)

// State is an opaque per-game key/value snapshot.
type State = map[string]any

// Change kinds delivered to subscribers.
const (
	EventStateChange = "stateChange"
	EventUndo        = "undo"
	EventRedo        = "redo"
	EventCleared     = "cleared"
)

const (
	keyPrefix      = "gamestate:"
	persistTimeout = 2 * time.Second
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind   string `json:"kind"`
	GameID string `json:"gameId"`
	State  State  `json:"state"`
}

// Options configures a Manager.
type Options struct {
	MaxHistory int
	Persist    bool
	Store      store.KV
	Logger     *slog.Logger
	Now        func() time.Time
}

// timeline holds the snapshots for one game. entries[pointer] equals the
// current state unless dirty is set, in which case the current state has
// moved on without being recorded.
type timeline struct {
	entries []State
	pointer int
	dirty   bool
}

type record struct {
	State     State `json:"state"`
	Timestamp int64 `json:"timestamp"`
}

// Manager owns every game's current state and history.
type Manager struct {
	opts   Options
	logger *slog.Logger
	bus    *events.Bus[Change]

	mu       sync.Mutex
	current  map[string]State
	history  map[string]*timeline
	modified map[string]time.Time
}

// New creates a manager and restores persisted states.
func New(opts Options) *Manager {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := logging.OrDiscard(opts.Logger).With("component", "gamestate")
	m := &Manager{
		opts:     opts,
		logger:   logger,
		bus:      events.NewBus[Change]("gamestate", logger),
		current:  make(map[string]State),
		history:  make(map[string]*timeline),
		modified: make(map[string]time.Time),
	}
	m.load()
	return m
}

// Subscribe registers fn for kind (stateChange, undo, redo, cleared).
func (m *Manager) Subscribe(kind string, fn func(Change)) func() {
	return m.bus.Subscribe(kind, fn)
}

// GetState returns a deep copy of the game's current state.
func (m *Manager) GetState(gameID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.current[gameID]
	if !ok {
		return nil, false
	}
	return Clone(st), true
}

// UpdateState shallow-merges partial onto the game's state. With
// addToHistory the state as it was before the merge stays reachable by Undo.
func (m *Manager) UpdateState(gameID string, partial State, addToHistory bool) State {
	return m.apply(gameID, addToHistory, func(prev State) State {
		next := Clone(prev)
		if next == nil {
			next = State{}
		}
		for k, v := range partial {
			next[k] = cloneValue(v)
		}
		return next
	})
}

// SetState replaces the game's state with a deep copy of full.
func (m *Manager) SetState(gameID string, full State, addToHistory bool) State {
	return m.apply(gameID, addToHistory, func(State) State {
		next := Clone(full)
		if next == nil {
			next = State{}
		}
		return next
	})
}

func (m *Manager) apply(gameID string, addToHistory bool, mutate func(prev State) State) State {
	m.mu.Lock()
	prev := m.current[gameID]
	next := mutate(prev)

	tl := m.timelineLocked(gameID)
	if addToHistory {
		m.truncateFutureLocked(tl)
		if len(tl.entries) == 0 || tl.dirty {
			base := Clone(prev)
			if base == nil {
				base = State{}
			}
			m.pushLocked(tl, base)
		}
		m.pushLocked(tl, Clone(next))
		tl.dirty = false
	} else if len(tl.entries) > 0 {
		tl.dirty = true
	}

	m.current[gameID] = next
	m.touchLocked(gameID)
	change := Change{Kind: EventStateChange, GameID: gameID, State: Clone(next)}
	m.mu.Unlock()

	m.bus.Emit(change.Kind, change)
	return Clone(next)
}

// Undo moves one step back and returns the restored state. At the start of
// history it returns false and leaves the state untouched.
func (m *Manager) Undo(gameID string) (State, bool) {
	m.mu.Lock()
	tl, ok := m.history[gameID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	if tl.dirty {
		// record the unrecorded edits so Redo can return to them
		m.truncateFutureLocked(tl)
		m.pushLocked(tl, Clone(m.current[gameID]))
		tl.dirty = false
	}
	if tl.pointer <= 0 {
		m.mu.Unlock()
		return nil, false
	}
	tl.pointer--
	restored := Clone(tl.entries[tl.pointer])
	m.current[gameID] = restored
	m.touchLocked(gameID)
	change := Change{Kind: EventUndo, GameID: gameID, State: Clone(restored)}
	m.mu.Unlock()

	m.bus.Emit(change.Kind, change)
	m.bus.Emit(EventStateChange, change)
	return Clone(restored), true
}

// Redo moves one step forward. At the end of history it returns false.
func (m *Manager) Redo(gameID string) (State, bool) {
	m.mu.Lock()
	tl, ok := m.history[gameID]
	if !ok || tl.dirty || tl.pointer >= len(tl.entries)-1 {
		m.mu.Unlock()
		return nil, false
	}
	tl.pointer++
	restored := Clone(tl.entries[tl.pointer])
	m.current[gameID] = restored
	m.touchLocked(gameID)
	change := Change{Kind: EventRedo, GameID: gameID, State: Clone(restored)}
	m.mu.Unlock()

	m.bus.Emit(change.Kind, change)
	m.bus.Emit(EventStateChange, change)
	return Clone(restored), true
}

// CanUndo and CanRedo report whether the next Undo/Redo would move.
func (m *Manager) CanUndo(gameID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.history[gameID]
	return ok && (tl.pointer > 0 || (tl.dirty && len(tl.entries) > 0))
}

func (m *Manager) CanRedo(gameID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.history[gameID]
	return ok && !tl.dirty && tl.pointer < len(tl.entries)-1
}

// History returns copies of the snapshots and the pointer, -1 when empty.
func (m *Manager) History(gameID string) ([]State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tl, ok := m.history[gameID]
	if !ok || len(tl.entries) == 0 {
		return nil, -1
	}
	out := make([]State, len(tl.entries))
	for i, e := range tl.entries {
		out[i] = Clone(e)
	}
	return out, tl.pointer
}

// ClearHistory drops the game's snapshots but keeps its current state.
func (m *Manager) ClearHistory(gameID string) {
	m.mu.Lock()
	delete(m.history, gameID)
	m.mu.Unlock()
	m.bus.Emit(EventCleared, Change{Kind: EventCleared, GameID: gameID})
}

// Remove forgets the game entirely, including its persisted record.
func (m *Manager) Remove(gameID string) {
	m.mu.Lock()
	delete(m.current, gameID)
	delete(m.history, gameID)
	delete(m.modified, gameID)
	if m.opts.Persist && m.opts.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := m.opts.Store.Delete(ctx, keyPrefix+gameID); err != nil {
			m.logger.Error("delete persisted state failed", "game", gameID, "err", err)
		}
		cancel()
	}
	m.mu.Unlock()
	m.bus.Emit(EventCleared, Change{Kind: EventCleared, GameID: gameID})
}

// LastModified returns when the game's state last changed.
func (m *Manager) LastModified(gameID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.modified[gameID]
	return t, ok
}

// WasModifiedSince reports whether the game's state changed after t.
func (m *Manager) WasModifiedSince(gameID string, t time.Time) bool {
	last, ok := m.LastModified(gameID)
	return ok && last.After(t)
}

// Games lists the ids with a current state.
func (m *Manager) Games() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.current))
	for id := range m.current {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) timelineLocked(gameID string) *timeline {
	tl, ok := m.history[gameID]
	if !ok {
		tl = &timeline{pointer: -1}
		m.history[gameID] = tl
	}
	return tl
}

func (m *Manager) truncateFutureLocked(tl *timeline) {
	if tl.pointer < len(tl.entries)-1 {
		tl.entries = tl.entries[:tl.pointer+1]
	}
}

func (m *Manager) pushLocked(tl *timeline, st State) {
	tl.entries = append(tl.entries, st)
	if over := len(tl.entries) - m.opts.MaxHistory; over > 0 {
		tl.entries = append([]State(nil), tl.entries[over:]...)
	}
	tl.pointer = len(tl.entries) - 1
}

func (m *Manager) touchLocked(gameID string) {
	now := m.opts.Now()
	m.modified[gameID] = now
	if !m.opts.Persist || m.opts.Store == nil {
		return
	}
	data, err := json.Marshal(record{State: m.current[gameID], Timestamp: now.UnixMilli()})
	if err != nil {
		m.logger.Error("encode state failed", "game", gameID, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.opts.Store.Set(ctx, keyPrefix+gameID, string(data)); err != nil {
		m.logger.Error("persist state failed", "game", gameID, "err", err)
	}
}

func (m *Manager) load() {
	if !m.opts.Persist || m.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	keys, err := m.opts.Store.Keys(ctx, keyPrefix)
	if err != nil {
		m.logger.Warn("list persisted states failed", "err", err)
		return
	}
	for _, key := range keys {
		raw, ok, err := m.opts.Store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.State == nil {
			m.logger.Warn("corrupt persisted state ignored", "key", key, "err", err)
			continue
		}
		id := strings.TrimPrefix(key, keyPrefix)
		m.current[id] = rec.State
		m.modified[id] = time.UnixMilli(rec.Timestamp)
	}
}
