// Command playground runs the minigame playground without a window: the
// local API, the reload hub and the games-directory watcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MJE43/minigame-playground/internal/app"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("PLAYGROUND_CONFIG"), "path to a YAML config file")
	addr := flag.String("addr", "", "override api.addr")
	gamesDir := flag.String("games", "", "override games.dir")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.API.Addr = *addr
	}
	if *gamesDir != "" {
		cfg.Games.Dir = *gamesDir
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	mod, err := app.New(cfg, log)
	if err != nil {
		log.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mod.Startup(ctx); err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	log.Info("playground ready", "addr", mod.Addr(), "games", cfg.Games.Dir, "storage", cfg.Storage.Driver)

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mod.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
		os.Exit(1)
	}
}
