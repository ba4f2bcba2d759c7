// Package games holds the built-in mini-games: dice, hi-lo, wheel, the
// clicker and JavaScript-scripted games.
package games

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// DefaultMultipliers are the payout multipliers per risk level when neither
// the manifest nor the caller overrides them.
var DefaultMultipliers = map[domain.RiskLevel]float64{
	domain.RiskLow:    1.5,
	domain.RiskMedium: 3,
	domain.RiskHigh:   6,
}

// Options configures the built-in factories.
type Options struct {
	Multipliers map[domain.RiskLevel]float64
	// Seeds returns the seeds of a new instance. Manifest settings
	// "serverSeed"/"clientSeed" take precedence.
	Seeds  func() Seeds
	Logger *slog.Logger
}

// Register binds every built-in game to reg.
func Register(reg *game.Registry, opts Options) {
	if opts.Multipliers == nil {
		opts.Multipliers = DefaultMultipliers
	}
	if opts.Seeds == nil {
		opts.Seeds = RandomSeeds
	}
	opts.Logger = logging.OrDiscard(opts.Logger)

	reg.Register("dice", func(m *manifest.Manifest) (game.Rules, error) {
		return NewDice(opts.rng(m), opts.multipliers(m)), nil
	})
	reg.Register("hilo", func(m *manifest.Manifest) (game.Rules, error) {
		return NewHiLo(opts.rng(m), opts.multipliers(m)), nil
	})
	reg.Register("wheel", func(m *manifest.Manifest) (game.Rules, error) {
		segments, err := wheelSegments(m.Settings()["segments"])
		if err != nil {
			return nil, err
		}
		return NewWheel(opts.rng(m), segments), nil
	})
	clicker := func(m *manifest.Manifest) (game.Rules, error) {
		return NewClicker(m.Settings()), nil
	}
	reg.Register("clicker", clicker)
	reg.Register("simple", clicker)
	reg.RegisterExt(".js", func(m *manifest.Manifest) (game.Rules, error) {
		return NewScript(opts.rng(m), opts.multipliers(m), opts.Logger), nil
	})
}

func (o Options) rng(m *manifest.Manifest) *RNG {
	seeds := o.Seeds()
	settings := m.Settings()
	if s, ok := settings["serverSeed"].(string); ok && s != "" {
		seeds.Server = s
	}
	if s, ok := settings["clientSeed"].(string); ok && s != "" {
		seeds.Client = s
	}
	return NewRNG(seeds)
}

// multipliers overlays manifest settings.riskMultipliers on the defaults.
func (o Options) multipliers(m *manifest.Manifest) map[domain.RiskLevel]float64 {
	out := make(map[domain.RiskLevel]float64, len(o.Multipliers))
	for k, v := range o.Multipliers {
		out[k] = v
	}
	if raw, ok := m.Settings()["riskMultipliers"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := v.(float64); ok && domain.RiskLevel(k).Valid() && f > 0 {
				out[domain.RiskLevel(k)] = f
			}
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// checkStake validates the current bet before a wager.
func checkStake(snap game.Snapshot) error {
	switch {
	case snap.Bet <= 0:
		return fmt.Errorf("%w: no bet set", game.ErrInvalidAction)
	case snap.Bet > snap.Balance:
		return fmt.Errorf("%w: insufficient balance", game.ErrInvalidAction)
	case snap.Limits.MinBet > 0 && snap.Bet < snap.Limits.MinBet:
		return fmt.Errorf("%w: minimum bet is %.2f", game.ErrInvalidAction, snap.Limits.MinBet)
	case snap.Limits.Above(snap.Bet):
		return fmt.Errorf("%w: maximum bet is %.2f", game.ErrInvalidAction, snap.Limits.MaxBet)
	}
	return nil
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func floatOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// appendCapped keeps the newest max items of list plus v.
func appendCapped(list any, v any, max int) []any {
	items, _ := list.([]any)
	out := append(append([]any(nil), items...), v)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}
