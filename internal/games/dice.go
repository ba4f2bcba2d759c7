package games

import (
	"context"
	"fmt"
	"math"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
)

const (
	diceHouseEdge   = 0.99
	diceHistorySize = 10
)

// Dice rolls 0.00 to 100.00. The risk level picks the payout multiplier and
// the win chance follows from it: chance = 99 / multiplier percent.
type Dice struct {
	rng         *RNG
	multipliers map[domain.RiskLevel]float64
}

func NewDice(rng *RNG, multipliers map[domain.RiskLevel]float64) *Dice {
	return &Dice{rng: rng, multipliers: multipliers}
}

func (d *Dice) Setup(context.Context, game.Env) (game.State, error) {
	return game.State{"rolls": 0, "history": []any{}}, nil
}

func (d *Dice) Actions() []string { return []string{"roll", "spin"} }

func (d *Dice) Events() []string { return []string{"roll"} }

// DiceRoll maps a float in [0, 1) to one of the 10,001 outcomes 0.00..100.00.
func DiceRoll(f float64) float64 {
	return math.Floor(f*10001) / 100
}

// diceTarget returns the winning threshold for direction at multiplier.
func diceTarget(mult float64, direction string) float64 {
	if mult <= 0 {
		return 0
	}
	chance := diceHouseEdge * 100 / mult
	if direction == "under" {
		return round2(chance)
	}
	return round2(100 - chance)
}

func (d *Dice) Act(_ context.Context, snap game.Snapshot, a game.Action) (game.Outcome, error) {
	if err := checkStake(snap); err != nil {
		return game.Outcome{}, err
	}
	direction := a.String("direction", "over")
	if direction != "over" && direction != "under" {
		return game.Outcome{}, fmt.Errorf("%w: direction must be over or under", game.ErrInvalidAction)
	}
	mult := d.multipliers[snap.Risk]
	if mult <= 0 {
		return game.Outcome{}, fmt.Errorf("%w: no multiplier for risk %q", game.ErrInvalidAction, snap.Risk)
	}

	floats, nonce := d.rng.Draw(1)
	roll := DiceRoll(floats[0])
	target := diceTarget(mult, direction)
	win := roll > target
	if direction == "under" {
		win = roll < target
	}

	result := map[string]any{
		"roll":       roll,
		"target":     target,
		"direction":  direction,
		"multiplier": mult,
		"win":        win,
		"nonce":      nonce,
	}
	out := game.Outcome{
		State: game.State{
			"lastRoll": roll,
			"target":   target,
			"rolls":    intOf(snap.State["rolls"]) + 1,
			"history":  appendCapped(snap.State["history"], roll, diceHistorySize),
		},
		Result: result,
		Wager:  snap.Bet,
		Stake:  snap.Bet,
		Events: []game.Emit{{Name: "roll", Data: result}},
	}
	if win {
		out.Settle = game.SettleWin
		out.WinAmount = round2(snap.Bet * mult)
	} else {
		out.Settle = game.SettleLoss
	}
	return out, nil
}

func (d *Dice) PotentialWin(bet float64, risk domain.RiskLevel) float64 {
	return round2(bet * d.multipliers[risk])
}

func (d *Dice) Render(snap game.Snapshot) game.Scene {
	return game.Scene{
		"kind":     "dice",
		"lastRoll": snap.State["lastRoll"],
		"target":   diceTarget(d.multipliers[snap.Risk], "over"),
		"history":  snap.State["history"],
		"balance":  snap.Balance,
		"bet":      snap.Bet,
		"risk":     snap.Risk,
	}
}
