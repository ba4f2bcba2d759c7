// Package app builds the playground's services from a Config and owns the
// local HTTP server. The desktop shell and the headless server both run it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MJE43/minigame-playground/internal/admin"
	"github.com/MJE43/minigame-playground/internal/api"
	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/games"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/hotreload"
	"github.com/MJE43/minigame-playground/internal/loader"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
	"github.com/MJE43/minigame-playground/internal/metrics"
	"github.com/MJE43/minigame-playground/internal/store"
)

// Module wires every service. New constructs it without starting anything;
// Startup begins hot reload and serving, Shutdown undoes both.
type Module struct {
	cfg    config.Config
	logger *slog.Logger

	Store     store.KV
	Manifests *manifest.Loader
	Betting   *betting.Service
	State     *gamestate.Manager
	HotReload *hotreload.Service
	Hub       *hotreload.Hub
	Metrics   *metrics.Collectors
	Loader    *loader.Loader
	// Admin and Auth are nil when games come from a URL.
	Admin *admin.Service
	Auth  *admin.Auth
	API   *api.Server

	watcher *hotreload.Watcher
	server  *Server

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the store and builds the services.
func New(cfg config.Config, logger *slog.Logger) (*Module, error) {
	logger = logging.OrDiscard(logger)
	kv, err := store.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	m := &Module{cfg: cfg, logger: logger.With("component", "app"), Store: kv}

	var src manifest.Source
	if cfg.Games.BaseURL != "" {
		src = manifest.NewHTTPSource(cfg.Games.BaseURL)
	} else {
		src = manifest.NewDirSource(cfg.Games.Dir)
	}
	m.Manifests = manifest.NewLoader(src, logger)

	bopts := betting.OptionsFromConfig(cfg.Betting, kv, logger)
	m.Betting = betting.New(bopts)
	m.State = gamestate.New(gamestate.Options{
		MaxHistory: cfg.State.MaxHistory,
		Persist:    cfg.State.Persist,
		Store:      kv,
		Logger:     logger,
	})
	m.HotReload = hotreload.New(m.Manifests, hotreload.Options{
		PushURL:        cfg.HotReload.PushURL,
		PollInterval:   cfg.HotReload.PollInterval,
		ReconnectDelay: cfg.HotReload.ReconnectDelay,
		Logger:         logger,
	})
	m.Hub = hotreload.NewHub(logger)
	m.Metrics = metrics.New()

	reg := game.NewRegistry()
	games.Register(reg, games.Options{Multipliers: cfg.Betting.RiskMultipliers, Logger: logger})
	m.Loader = loader.New(loader.Options{
		Manifests: m.Manifests,
		Registry:  reg,
		Betting:   m.Betting,
		State:     m.State,
		HotReload: m.HotReload,
		Observer:  m.Metrics,
		Games:     cfg.Games,
		Logger:    logger,
	})

	if cfg.Games.BaseURL == "" {
		m.Admin = admin.New(admin.Options{
			Root:      cfg.Games.Dir,
			Manifests: m.Manifests,
			Betting:   m.Betting,
			Store:     kv,
			Logger:    logger,
		})
		secrets := admin.NewKeyringStore(cfg.Admin.KeyringService, cfg.Admin.FallbackPath)
		m.Auth = admin.NewAuth(cfg.Admin, secrets, logger)
		if cfg.HotReload.Enabled {
			m.watcher = hotreload.NewWatcher(cfg.Games.Dir, cfg.HotReload.WatchInterval, m.publish, logger)
		}
	}

	m.API = api.NewServer(api.Options{
		Loader:    m.Loader,
		Betting:   m.Betting,
		State:     m.State,
		Admin:     m.Admin,
		Auth:      m.Auth,
		HotReload: m.HotReload,
		Hub:       m.Hub,
		Metrics:   m.Metrics,
		Store:     kv,
		Logger:    logger,
	})
	m.server = NewServer(cfg.API.Addr, m.API.Routes(), logger)
	return m, nil
}

// publish fans a local file change out to the in-process reloader and to
// every client of the reload hub.
func (m *Module) publish(n hotreload.Notice) {
	m.HotReload.HandleNotice(context.Background(), n)
	m.Hub.Publish(n)
}

// Startup restores saved settings, loads the game list, starts hot reload
// and binds the HTTP listener.
func (m *Module) Startup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("app: already started")
	}

	if m.Admin != nil {
		if err := m.Admin.Restore(ctx); err != nil {
			m.logger.Warn("restoring settings failed", "err", err)
		}
	}
	list, err := m.Loader.Refresh(ctx)
	if err != nil {
		m.logger.Warn("initial game scan failed", "err", err)
	}
	m.logger.Info("games loaded", "count", len(list))

	runCtx, cancel := context.WithCancel(context.Background())
	if m.cfg.HotReload.Enabled {
		if err := m.HotReload.Start(runCtx); err != nil {
			cancel()
			return err
		}
		if m.watcher != nil {
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.watcher.Run(runCtx)
			}()
		}
	}
	if err := m.server.Start(); err != nil {
		cancel()
		m.HotReload.Stop()
		m.wg.Wait()
		return fmt.Errorf("app: listen: %w", err)
	}
	m.cancel = cancel
	m.logger.Info("api listening", "addr", m.server.Addr())
	return nil
}

// Addr is the bound listener address, empty before Startup.
func (m *Module) Addr() string { return m.server.Addr() }

// Shutdown stops serving, closes every session and the store.
func (m *Module) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	var errs []error
	if err := m.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
	}
	if cancel != nil {
		cancel()
	}
	m.HotReload.Stop()
	m.wg.Wait()
	m.Hub.Close()
	m.Loader.Shutdown(ctx)
	if err := m.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("app: close store: %w", err))
	}
	return errors.Join(errs...)
}
