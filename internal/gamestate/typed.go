package gamestate

import (
	"encoding/json"
	"fmt"
)

// Encode converts a typed state value into the opaque map the manager stores.
// Fields are named by their json tags.
func Encode[S any](v S) (State, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("gamestate: encode: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("gamestate: encode %T: not an object: %w", v, err)
	}
	return st, nil
}

// Decode converts an opaque state map back into S.
func Decode[S any](st State) (S, error) {
	var out S
	if st == nil {
		return out, nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return out, fmt.Errorf("gamestate: decode: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("gamestate: decode into %T: %w", out, err)
	}
	return out, nil
}

// Typed is a view over one game's state in the manager, encoded as S.
type Typed[S any] struct {
	m      *Manager
	gameID string
}

// For binds a typed view of gameID's state.
func For[S any](m *Manager, gameID string) Typed[S] {
	return Typed[S]{m: m, gameID: gameID}
}

// Get returns the current state, or the zero S when none exists.
func (t Typed[S]) Get() (S, bool, error) {
	st, ok := t.m.GetState(t.gameID)
	if !ok {
		var zero S
		return zero, false, nil
	}
	v, err := Decode[S](st)
	return v, true, err
}

// Set replaces the whole state.
func (t Typed[S]) Set(v S, addToHistory bool) error {
	st, err := Encode(v)
	if err != nil {
		return err
	}
	t.m.SetState(t.gameID, st, addToHistory)
	return nil
}

// Undo restores the previous snapshot, decoded.
func (t Typed[S]) Undo() (S, bool, error) {
	st, ok := t.m.Undo(t.gameID)
	if !ok {
		var zero S
		return zero, false, nil
	}
	v, err := Decode[S](st)
	return v, true, err
}

// Redo reapplies the next snapshot, decoded.
func (t Typed[S]) Redo() (S, bool, error) {
	st, ok := t.m.Redo(t.gameID)
	if !ok {
		var zero S
		return zero, false, nil
	}
	v, err := Decode[S](st)
	return v, true, err
}
