// Package sim plays one game headlessly for many rounds and reports its
// return to player. It drives the same loader, wallet and runtime the
// desktop app uses, against an in-memory surface.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/cheggaaa/pb/v3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/games"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/loader"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

type Options struct {
	Dir    string
	GameID string
	Action string
	Params map[string]any
	Rounds int
	Bet    float64
	Risk   domain.RiskLevel
	// Seeds fixes the RNG seeds unless the manifest sets its own.
	Seeds *games.Seeds
	// Progress receives the progress bar; nil hides it.
	Progress io.Writer
	Logger   *slog.Logger
}

// Report summarises a run. A round returns the payout as a multiple of the
// stake: the stake is debited when the wager is placed, so the return is
// (Δbalance + bet) / bet, a lost round is 0 and RTP is their mean.
type Report struct {
	GameID   string
	Name     string
	Action   string
	Risk     domain.RiskLevel
	Rounds   int
	Wins     int
	TotalBet float64
	TotalWin float64
	RTP      float64
	StdDev   float64
	CILo     float64
	CIHi     float64
	MaxMulti float64
	HitRate  float64
	Used     time.Duration
}

func (o Options) validate() error {
	switch {
	case o.GameID == "":
		return errors.New("sim: game id is required")
	case o.Action == "":
		return errors.New("sim: action is required")
	case o.Rounds < 1:
		return errors.New("sim: rounds must be > 0")
	case o.Bet <= 0 || math.IsNaN(o.Bet) || math.IsInf(o.Bet, 0):
		return errors.New("sim: bet must be a positive number")
	}
	return nil
}

// Run opens the game and plays opts.Rounds actions in a row.
func Run(ctx context.Context, opts Options) (Report, error) {
	if err := opts.validate(); err != nil {
		return Report{}, err
	}
	if opts.Risk == "" {
		opts.Risk = domain.RiskMedium
	}
	logger := logging.OrDiscard(opts.Logger)

	cfg := config.Default()
	cfg.Betting.Persist = false
	// enough that a losing streak never stops the run
	cfg.Betting.StartingBalance = opts.Bet * float64(opts.Rounds+1)
	cfg.Betting.DefaultBet = opts.Bet
	cfg.Betting.MinBet = math.Min(cfg.Betting.MinBet, opts.Bet)
	cfg.Betting.MaxBet = math.Max(cfg.Betting.MaxBet, opts.Bet)
	cfg.Games.Dir = opts.Dir

	wallet := betting.New(betting.OptionsFromConfig(cfg.Betting, nil, logger))
	gopts := games.Options{Multipliers: cfg.Betting.RiskMultipliers, Logger: logger}
	if opts.Seeds != nil {
		seeds := *opts.Seeds
		gopts.Seeds = func() games.Seeds { return seeds }
	}
	reg := game.NewRegistry()
	games.Register(reg, gopts)
	ld := loader.New(loader.Options{
		Manifests: manifest.NewLoader(manifest.NewDirSource(opts.Dir), logger),
		Registry:  reg,
		Betting:   wallet,
		State:     gamestate.New(gamestate.Options{MaxHistory: 1, Logger: logger}),
		Games:     cfg.Games,
		Logger:    logger,
	})
	defer ld.Shutdown(context.Background())

	if _, err := ld.Refresh(ctx); err != nil {
		return Report{}, fmt.Errorf("sim: %w", err)
	}
	sess, err := ld.Open(ctx, opts.GameID, game.NewMemorySurface())
	if err != nil {
		return Report{}, fmt.Errorf("sim: %w", err)
	}
	if res := wallet.SetBet(opts.Bet, opts.GameID); !res.Success {
		return Report{}, fmt.Errorf("sim: bet rejected: %s", res.Message)
	}
	if res := wallet.SetRiskLevel(opts.Risk); !res.Success {
		return Report{}, fmt.Errorf("sim: risk rejected: %s", res.Message)
	}

	rep := Report{
		GameID: opts.GameID,
		Name:   sess.Game.Manifest().Name,
		Action: opts.Action,
		Risk:   opts.Risk,
		Rounds: opts.Rounds,
	}
	returns := make([]float64, 0, opts.Rounds)

	out := opts.Progress
	if out == nil {
		out = io.Discard
	}
	bar := pb.New(opts.Rounds).SetWriter(out).Start()
	action := game.Action{Type: opts.Action, Params: opts.Params}
	for i := 0; i < opts.Rounds; i++ {
		if err := ctx.Err(); err != nil {
			bar.Finish()
			return rep, err
		}
		before := wallet.Balance()
		if _, err := sess.Game.PerformAction(ctx, action); err != nil {
			bar.Finish()
			return rep, fmt.Errorf("sim: round %d: %w", i+1, err)
		}
		payout := wallet.Balance() - before + opts.Bet
		r := payout / opts.Bet
		if payout > 0 {
			rep.Wins++
		}
		rep.TotalWin += payout
		returns = append(returns, r)
		bar.Increment()
	}
	rep.Used = time.Since(bar.StartTime())
	bar.Finish()

	rep.TotalBet = opts.Bet * float64(opts.Rounds)
	rep.RTP = stat.Mean(returns, nil)
	rep.MaxMulti = floats.Max(returns)
	rep.HitRate = float64(rep.Wins) / float64(rep.Rounds)
	rep.CILo, rep.CIHi = rep.RTP, rep.RTP
	if len(returns) > 1 {
		rep.StdDev = stat.StdDev(returns, nil)
		half := distuv.UnitNormal.Quantile(0.975) * rep.StdDev / math.Sqrt(float64(len(returns)))
		rep.CILo, rep.CIHi = rep.RTP-half, rep.RTP+half
	}
	return rep, nil
}
