package games

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
)

const wheelDefaultSegments = 10

// wheelPayouts: segments → risk → multiplier per segment.
var wheelPayouts = map[int]map[domain.RiskLevel][]float64{
	10: {
		domain.RiskLow:    {1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0},
		domain.RiskMedium: {0, 1.9, 0, 1.5, 0, 2, 0, 1.5, 0, 3},
		domain.RiskHigh:   {0, 0, 0, 0, 0, 0, 0, 0, 0, 9.9},
	},
	20: {
		domain.RiskLow: {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		domain.RiskMedium: {
			1.5, 0, 2, 0, 2, 0, 2, 0, 1.5, 0,
			3, 0, 1.8, 0, 2, 0, 2, 0, 2, 0,
		},
		domain.RiskHigh: {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 19.8,
		},
	},
	30: {
		domain.RiskLow: {
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
			1.5, 1.2, 1.2, 1.2, 0, 1.2, 1.2, 1.2, 1.2, 0,
		},
		domain.RiskMedium: {
			1.5, 0, 1.5, 0, 2, 0, 1.5, 0, 2, 0,
			2, 0, 1.5, 0, 3, 0, 1.5, 0, 2, 0,
			2, 0, 1.7, 0, 4, 0, 1.5, 0, 2, 0,
		},
		domain.RiskHigh: {
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0, 0, 0, 29.7,
		},
	},
}

// Wheel is the slot-category game: one spin lands on a segment whose
// multiplier depends on the risk level.
type Wheel struct {
	rng      *RNG
	segments int
}

func NewWheel(rng *RNG, segments int) *Wheel {
	if segments == 0 {
		segments = wheelDefaultSegments
	}
	return &Wheel{rng: rng, segments: segments}
}

func wheelSegments(raw any) (int, error) {
	if raw == nil {
		return wheelDefaultSegments, nil
	}
	seg := intOf(raw)
	if _, ok := wheelPayouts[seg]; !ok {
		return 0, fmt.Errorf("games: wheel segments must be 10, 20 or 30, got %v", raw)
	}
	return seg, nil
}

func (w *Wheel) Setup(context.Context, game.Env) (game.State, error) {
	return game.State{"segments": w.segments, "spins": 0}, nil
}

func (w *Wheel) Actions() []string { return []string{"spin"} }

func (w *Wheel) Events() []string { return []string{"segment"} }

func (w *Wheel) Act(_ context.Context, snap game.Snapshot, _ game.Action) (game.Outcome, error) {
	if err := checkStake(snap); err != nil {
		return game.Outcome{}, err
	}
	table, ok := wheelPayouts[w.segments][snap.Risk]
	if !ok {
		return game.Outcome{}, fmt.Errorf("%w: no payout table for risk %q", game.ErrInvalidAction, snap.Risk)
	}

	floats, nonce := w.rng.Draw(1)
	index := int(math.Floor(floats[0] * float64(w.segments)))
	if index >= w.segments {
		index = w.segments - 1
	}
	mult := table[index]

	result := map[string]any{"index": index, "multiplier": mult, "nonce": nonce}
	out := game.Outcome{
		State: game.State{
			"lastIndex":      index,
			"lastMultiplier": mult,
			"spins":          intOf(snap.State["spins"]) + 1,
		},
		Result: result,
		Wager:  snap.Bet,
		Stake:  snap.Bet,
		Events: []game.Emit{{Name: "segment", Data: result}},
	}
	if mult > 0 {
		out.Settle = game.SettleWin
		out.WinAmount = round2(snap.Bet * mult)
	} else {
		out.Settle = game.SettleLoss
	}
	return out, nil
}

// PotentialWin is the payout of the best segment at risk.
func (w *Wheel) PotentialWin(bet float64, risk domain.RiskLevel) float64 {
	table := wheelPayouts[w.segments][risk]
	if len(table) == 0 {
		return 0
	}
	return round2(bet * slices.Max(table))
}

func (w *Wheel) Render(snap game.Snapshot) game.Scene {
	return game.Scene{
		"kind":     "wheel",
		"segments": wheelPayouts[w.segments][snap.Risk],
		"index":    snap.State["lastIndex"],
		"balance":  snap.Balance,
		"bet":      snap.Bet,
	}
}
