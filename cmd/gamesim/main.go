// Command gamesim plays a game headlessly and prints its return to player.
//
//	gamesim -game dice-game -action roll -rounds 100000 -risk high
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/games"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/sim"
)

func main() {
	var (
		dir    = flag.String("dir", "games", "games directory")
		gameID = flag.String("game", "dice-game", "game id")
		action = flag.String("action", "roll", "action performed every round")
		params = flag.String("params", "", "action params as a JSON object")
		rounds = flag.Int("rounds", 10000, "rounds to play")
		bet    = flag.Float64("bet", 10, "stake per round")
		risk   = flag.String("risk", "medium", "risk level: low, medium, high")
		server = flag.String("server-seed", "", "server seed (random when empty)")
		client = flag.String("client-seed", "", "client seed")
		quiet  = flag.Bool("q", false, "hide the progress bar")
		logLvl = flag.String("log", "warn", "log level")
	)
	flag.Parse()

	riskLevel, err := domain.ParseRiskLevel(*risk)
	if err != nil {
		fatal(err)
	}
	opts := sim.Options{
		Dir:    *dir,
		GameID: *gameID,
		Action: *action,
		Rounds: *rounds,
		Bet:    *bet,
		Risk:   riskLevel,
		Logger: logging.New(logging.Options{Level: *logLvl, Output: os.Stderr}),
	}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &opts.Params); err != nil {
			fatal(fmt.Errorf("params: %w", err))
		}
	}
	if *server != "" {
		opts.Seeds = &games.Seeds{Server: *server, Client: *client}
	}
	if !*quiet {
		opts.Progress = os.Stderr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := message.NewPrinter(language.English)
	p.Printf("\033[1;32m[GAME:%s] [ACTION:%s] [RISK:%s] [ROUNDS:%d]\033[0m\n", opts.GameID, opts.Action, opts.Risk, opts.Rounds)
	rep, err := sim.Run(ctx, opts)
	if err != nil {
		fatal(err)
	}
	fmt.Print(rep.Table())
	fmt.Println(rep.Throughput())
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "gamesim:", err)
	os.Exit(1)
}
