package game

import (
	"errors"
	"fmt"
)

// Phase is the lifecycle position of a game instance.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitialized   Phase = "initialized"
	PhaseRunning       Phase = "running"
	PhasePaused        Phase = "paused"
	PhaseDestroyed     Phase = "destroyed"
)

// Op is a lifecycle operation requested of a game instance.
type Op string

const (
	OpInitialize Op = "initialize"
	OpStart      Op = "start"
	OpPause      Op = "pause"
	OpResume     Op = "resume"
	OpAction     Op = "performAction"
	OpDestroy    Op = "destroy"
)

var (
	ErrNoSurface      = errors.New("game: no surface to mount on")
	ErrUnknownAction  = errors.New("game: unknown action")
	ErrActionInFlight = errors.New("game: action already in flight")
	ErrInvalidAction  = errors.New("game: invalid action")
)

// LifecycleError reports an operation issued in a phase that does not allow it.
type LifecycleError struct {
	Op    Op
	Phase Phase
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("game: cannot %s while %s", e.Op, e.Phase)
}

// IsLifecycle reports whether err is a *LifecycleError.
func IsLifecycle(err error) bool {
	var le *LifecycleError
	return errors.As(err, &le)
}

// Next returns the phase reached by applying op in from.
func Next(from Phase, op Op) (Phase, error) {
	switch op {
	case OpInitialize:
		if from == PhaseUninitialized {
			return PhaseInitialized, nil
		}
	case OpStart:
		if from == PhaseInitialized {
			return PhaseRunning, nil
		}
	case OpPause:
		if from == PhaseRunning {
			return PhasePaused, nil
		}
	case OpResume:
		if from == PhasePaused {
			return PhaseRunning, nil
		}
	case OpAction:
		if from == PhaseRunning {
			return PhaseRunning, nil
		}
	case OpDestroy:
		return PhaseDestroyed, nil
	}
	return from, &LifecycleError{Op: op, Phase: from}
}
