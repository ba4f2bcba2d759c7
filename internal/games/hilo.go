package games

import (
	"context"
	"fmt"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
)

// HiLo deals from an unlimited deck. The deal takes the stake; the player
// then guesses whether the next card ranks higher-or-same or lower-or-same,
// growing a multiplier, and cashes out before a wrong guess loses it.
type HiLo struct {
	rng         *RNG
	multipliers map[domain.RiskLevel]float64
}

func NewHiLo(rng *RNG, multipliers map[domain.RiskLevel]float64) *HiLo {
	return &HiLo{rng: rng, multipliers: multipliers}
}

func (h *HiLo) Setup(context.Context, game.Env) (game.State, error) {
	return game.State{"active": false, "rounds": 0}, nil
}

func (h *HiLo) Actions() []string { return []string{"deal", "higher", "lower", "cashout"} }

func (h *HiLo) Events() []string { return []string{"deal", "guess", "cashout"} }

// hiloChance is the probability that the next card satisfies the guess.
func hiloChance(current int, higher bool) float64 {
	if higher {
		return float64(13-current+1) / 13
	}
	return float64(current) / 13
}

func hiloStep(current int, higher bool) float64 {
	return diceHouseEdge / hiloChance(current, higher)
}

func (h *HiLo) draw() (Card, uint64) {
	floats, nonce := h.rng.Draw(1)
	return cardFromFloat(floats[0]), nonce
}

func (h *HiLo) Act(_ context.Context, snap game.Snapshot, a game.Action) (game.Outcome, error) {
	active, _ := snap.State["active"].(bool)
	switch a.Type {
	case "deal":
		if active {
			return game.Outcome{}, fmt.Errorf("%w: round already in progress", game.ErrInvalidAction)
		}
		if err := checkStake(snap); err != nil {
			return game.Outcome{}, err
		}
		card, nonce := h.draw()
		result := map[string]any{"card": card.toMap(), "nonce": nonce}
		return game.Outcome{
			State: game.State{
				"active":     true,
				"stake":      snap.Bet,
				"multiplier": 1.0,
				"guesses":    0,
				"current":    card.toMap(),
				"cards":      []any{card.String()},
			},
			Result: result,
			Wager:  snap.Bet,
			Stake:  snap.Bet,
			Events: []game.Emit{{Name: "deal", Data: result}},
		}, nil

	case "higher", "lower":
		if !active {
			return game.Outcome{}, fmt.Errorf("%w: no round in progress", game.ErrInvalidAction)
		}
		current, ok := cardFromMap(snap.State["current"])
		if !ok {
			return game.Outcome{}, fmt.Errorf("%w: round has no current card", game.ErrInvalidAction)
		}
		higher := a.Type == "higher"
		from := cardRankValue(current.Rank)
		if hiloChance(from, higher) == 0 {
			return game.Outcome{}, fmt.Errorf("%w: %s cannot go %s", game.ErrInvalidAction, current, a.Type)
		}
		next, nonce := h.draw()
		to := cardRankValue(next.Rank)
		correct := (higher && to >= from) || (!higher && to <= from)

		stake := floatOf(snap.State["stake"])
		mult := floatOf(snap.State["multiplier"])
		cards := appendCapped(snap.State["cards"], next.String(), 52)
		result := map[string]any{"card": next.toMap(), "guess": a.Type, "correct": correct, "nonce": nonce}

		out := game.Outcome{Result: result, Events: []game.Emit{{Name: "guess", Data: result}}}
		if !correct {
			out.State = game.State{
				"active":     false,
				"current":    next.toMap(),
				"cards":      cards,
				"multiplier": 0.0,
				"rounds":     intOf(snap.State["rounds"]) + 1,
			}
			out.Settle = game.SettleLoss
			out.Stake = stake
			return out, nil
		}
		mult = round2(mult * hiloStep(from, higher))
		result["multiplier"] = mult
		out.State = game.State{
			"current":    next.toMap(),
			"cards":      cards,
			"multiplier": mult,
			"guesses":    intOf(snap.State["guesses"]) + 1,
		}
		return out, nil

	case "cashout":
		if !active || intOf(snap.State["guesses"]) == 0 {
			return game.Outcome{}, fmt.Errorf("%w: nothing to cash out", game.ErrInvalidAction)
		}
		stake := floatOf(snap.State["stake"])
		mult := floatOf(snap.State["multiplier"])
		win := round2(stake * mult)
		result := map[string]any{"multiplier": mult, "winAmount": win}
		return game.Outcome{
			State: game.State{
				"active": false,
				"rounds": intOf(snap.State["rounds"]) + 1,
			},
			Result:    result,
			Settle:    game.SettleWin,
			Stake:     stake,
			WinAmount: win,
			Events:    []game.Emit{{Name: "cashout", Data: result}},
		}, nil
	}
	return game.Outcome{}, fmt.Errorf("%w: %q", game.ErrUnknownAction, a.Type)
}

// PotentialWin is the payout at the risk level's target multiplier.
func (h *HiLo) PotentialWin(bet float64, risk domain.RiskLevel) float64 {
	return round2(bet * h.multipliers[risk])
}

func (h *HiLo) Render(snap game.Snapshot) game.Scene {
	scene := game.Scene{
		"kind":       "hilo",
		"active":     snap.State["active"],
		"cards":      snap.State["cards"],
		"multiplier": snap.State["multiplier"],
		"balance":    snap.Balance,
		"bet":        snap.Bet,
	}
	if c, ok := cardFromMap(snap.State["current"]); ok {
		v := cardRankValue(c.Rank)
		scene["current"] = c.String()
		scene["higherChance"] = hiloChance(v, true)
		scene["lowerChance"] = hiloChance(v, false)
	}
	return scene
}
