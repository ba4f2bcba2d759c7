package games

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
)

// Clicker is the simple game: clicks earn points, upgrades raise points per
// click or per second, and collect converts points into wallet credit.
type Clicker struct {
	baseCost   float64
	growth     float64
	pointValue float64

	mu      sync.Mutex
	pending float64
}

func NewClicker(settings map[string]any) *Clicker {
	c := &Clicker{baseCost: 10, growth: 1.15, pointValue: 0.01}
	if v := floatOf(settings["upgradeCost"]); v > 0 {
		c.baseCost = v
	}
	if v := floatOf(settings["costGrowth"]); v > 1 {
		c.growth = v
	}
	if v := floatOf(settings["pointValue"]); v > 0 {
		c.pointValue = v
	}
	return c
}

func (c *Clicker) Setup(context.Context, game.Env) (game.State, error) {
	return game.State{
		"points":      0,
		"perClick":    1,
		"perSecond":   0,
		"clickLevel":  0,
		"autoLevel":   0,
		"totalClicks": 0,
		"totalPoints": 0,
	}, nil
}

func (c *Clicker) Actions() []string { return []string{"click", "upgrade", "collect"} }

func (c *Clicker) Events() []string { return []string{"click", "upgrade", "collect"} }

// upgradeCost is the price of the next level.
func (c *Clicker) upgradeCost(level int) int {
	return int(math.Ceil(c.baseCost * math.Pow(c.growth, float64(level))))
}

func (c *Clicker) Act(_ context.Context, snap game.Snapshot, a game.Action) (game.Outcome, error) {
	points := intOf(snap.State["points"])
	switch a.Type {
	case "click":
		gain := intOf(snap.State["perClick"])
		st := game.State{
			"points":      points + gain,
			"totalClicks": intOf(snap.State["totalClicks"]) + 1,
			"totalPoints": intOf(snap.State["totalPoints"]) + gain,
		}
		return game.Outcome{
			State:  st,
			Result: map[string]any{"points": points + gain, "gain": gain},
			Events: []game.Emit{{Name: "click", Data: map[string]any{"gain": gain}}},
		}, nil

	case "upgrade":
		kind := a.String("kind", "click")
		levelKey, statKey := "clickLevel", "perClick"
		if kind == "auto" {
			levelKey, statKey = "autoLevel", "perSecond"
		} else if kind != "click" {
			return game.Outcome{}, fmt.Errorf("%w: upgrade kind must be click or auto", game.ErrInvalidAction)
		}
		level := intOf(snap.State[levelKey])
		cost := c.upgradeCost(level)
		if points < cost {
			return game.Outcome{}, fmt.Errorf("%w: upgrade costs %d points, have %d", game.ErrInvalidAction, cost, points)
		}
		result := map[string]any{"kind": kind, "level": level + 1, "cost": cost}
		return game.Outcome{
			State: game.State{
				"points": points - cost,
				levelKey: level + 1,
				statKey:  intOf(snap.State[statKey]) + 1,
			},
			Result: result,
			Events: []game.Emit{{Name: "upgrade", Data: result}},
		}, nil

	case "collect":
		if points <= 0 {
			return game.Outcome{}, fmt.Errorf("%w: no points to collect", game.ErrInvalidAction)
		}
		credit := round2(float64(points) * c.pointValue)
		result := map[string]any{"points": points, "credit": credit}
		return game.Outcome{
			State:     game.State{"points": 0},
			Result:    result,
			Settle:    game.SettleWin,
			WinAmount: credit,
			Events:    []game.Emit{{Name: "collect", Data: result}},
		}, nil
	}
	return game.Outcome{}, fmt.Errorf("%w: %q", game.ErrUnknownAction, a.Type)
}

// Tick adds passive income. It reports a change only when whole points accrue.
func (c *Clicker) Tick(snap game.Snapshot, dt time.Duration) (game.Outcome, bool) {
	rate := intOf(snap.State["perSecond"])
	if rate <= 0 {
		return game.Outcome{}, false
	}
	c.mu.Lock()
	c.pending += float64(rate) * dt.Seconds()
	whole := int(c.pending)
	c.pending -= float64(whole)
	c.mu.Unlock()
	if whole == 0 {
		return game.Outcome{}, false
	}
	return game.Outcome{State: game.State{
		"points":      intOf(snap.State["points"]) + whole,
		"totalPoints": intOf(snap.State["totalPoints"]) + whole,
	}}, true
}

// PotentialWin is zero: clicks are not wagers.
func (c *Clicker) PotentialWin(float64, domain.RiskLevel) float64 { return 0 }

func (c *Clicker) Render(snap game.Snapshot) game.Scene {
	return game.Scene{
		"kind":            "clicker",
		"points":          snap.State["points"],
		"perClick":        snap.State["perClick"],
		"perSecond":       snap.State["perSecond"],
		"nextClickCost":   c.upgradeCost(intOf(snap.State["clickLevel"])),
		"nextAutoCost":    c.upgradeCost(intOf(snap.State["autoLevel"])),
		"collectableCash": round2(floatOf(snap.State["points"]) * c.pointValue),
		"balance":         snap.Balance,
	}
}
