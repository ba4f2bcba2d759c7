package main

import (
	"context"
	"embed"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/MJE43/minigame-playground/internal/app"
	"github.com/MJE43/minigame-playground/internal/bindings"
	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

const (
	appConfigDirName = "minigame-playground"
	configFileName   = "playground.yaml"
	docsURL          = "https://github.com/MJE43/minigame-playground/blob/main/README.md"
	repoURL          = "https://github.com/MJE43/minigame-playground"
)

var (
	appCtx   context.Context
	appCtxMu sync.RWMutex
)

// buildWindowsOptions configures Windows-specific application settings
func buildWindowsOptions(log *slog.Logger) *windows.Options {
	return &windows.Options{
		BackdropType: windows.Mica,
		Theme:        windows.SystemDefault,
		CustomTheme: &windows.ThemeSettings{
			DarkModeTitleBar:  windows.RGB(18, 20, 31),
			DarkModeTitleText: windows.RGB(226, 232, 240),
			DarkModeBorder:    windows.RGB(51, 65, 85),

			LightModeTitleBar:  windows.RGB(248, 250, 252),
			LightModeTitleText: windows.RGB(15, 23, 42),
			LightModeBorder:    windows.RGB(226, 232, 240),
		},

		WebviewIsTransparent: false,
		WindowIsTranslucent:  false,

		DisablePinchZoom:     true,
		IsZoomControlEnabled: false,
		ZoomFactor:           1.0,

		WindowClassName: "MinigamePlaygroundWindow",

		OnSuspend: func() { log.Info("entering low power mode") },
		OnResume:  func() { log.Info("resuming from low power mode") },
	}
}

// buildMacOptions configures macOS-specific application settings
func buildMacOptions() *mac.Options {
	aboutIcon, _ := assets.ReadFile("frontend/dist/assets/logo.png")
	return &mac.Options{
		TitleBar: &mac.TitleBar{
			TitlebarAppearsTransparent: false,
			HideTitle:                  false,
			HideTitleBar:               false,
			FullSizeContent:            false,
			UseToolbar:                 false,
			HideToolbarSeparator:       true,
		},
		WebviewIsTransparent: false,
		WindowIsTranslucent:  false,
		About: &mac.AboutInfo{
			Title: "Minigame Playground",
			Message: "A local sandbox for building and playing betting minigames.\n\n" +
				"Games load from the games folder and reload as you edit them.\n" +
				"Built with Wails",
			Icon: aboutIcon,
		},
	}
}

// buildLinuxOptions configures Linux-specific application settings
func buildLinuxOptions() *linux.Options {
	windowIcon, _ := assets.ReadFile("frontend/dist/assets/logo.png")
	return &linux.Options{
		Icon:                windowIcon,
		WindowIsTranslucent: false,
		WebviewGpuPolicy:    linux.WebviewGpuPolicyAlways,
		ProgramName:         "minigame-playground",
	}
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	placeInDataDir(&cfg)

	log := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	log.Info("starting minigame playground", "go", runtime.Version(), "games", cfg.Games.Dir)

	mod, err := app.New(cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}
	host := bindings.New(bindings.Options{
		Loader:    mod.Loader,
		Betting:   mod.Betting,
		State:     mod.State,
		HotReload: mod.HotReload,
		Logger:    log,
	})

	startup := func(ctx context.Context) {
		setAppContext(ctx)
		host.Startup(ctx)
		if err := mod.Startup(ctx); err != nil {
			log.Error("local api failed to start", "err", err)
			return
		}
		log.Info("local api ready", "addr", mod.Addr())
	}

	beforeClose := func(ctx context.Context) (prevent bool) {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		host.Shutdown(sctx)
		if err := mod.Shutdown(sctx); err != nil {
			log.Warn("shutdown", "err", err)
		}
		setAppContext(nil)
		log.Info("application is closing")
		return false
	}

	if err := wails.Run(&options.App{
		Title:             "Minigame Playground",
		Width:             1280,
		Height:            800,
		MinWidth:          800,
		MinHeight:         600,
		WindowStartState:  options.Normal,
		HideWindowOnClose: false,
		BackgroundColour:  &options.RGBA{R: 18, G: 20, B: 31, A: 255},

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		OnStartup:     startup,
		OnBeforeClose: beforeClose,
		OnDomReady: func(ctx context.Context) {
			log.Debug("dom ready")
		},
		OnShutdown: func(ctx context.Context) {
			log.Info("application shutdown complete")
		},

		Menu: buildAppMenu(host),
		Bind: []any{host},

		LogLevel:           logger.INFO,
		LogLevelProduction: logger.ERROR,

		EnableDefaultContextMenu:         false,
		EnableFraudulentWebsiteDetection: false,

		ErrorFormatter: func(err error) any {
			if err == nil {
				return nil
			}
			return err.Error()
		},

		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "5b0e7c2a-41d9-4f1e-9a63-minigame-playground",
			OnSecondInstanceLaunch: func(data options.SecondInstanceData) {
				log.Info("second instance launch prevented", "args", data.Args)
			},
		},

		// Games are installed through the admin API, not by dropping files.
		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     false,
			DisableWebViewDrop: true,
		},

		Windows: buildWindowsOptions(log),
		Mac:     buildMacOptions(),
		Linux:   buildLinuxOptions(),
	}); err != nil {
		log.Error("wails run failed", "err", err)
		os.Exit(1)
	}
}

// configPath prefers PLAYGROUND_CONFIG, then playground.yaml in the data dir.
func configPath() string {
	if p := os.Getenv("PLAYGROUND_CONFIG"); p != "" {
		return p
	}
	p := filepath.Join(appDataDir(), configFileName)
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// placeInDataDir moves relative storage paths under the data directory so
// the desktop build does not write next to its binary. A games folder in the
// working directory wins, which keeps `wails dev` pointing at the repo.
func placeInDataDir(cfg *config.Config) {
	base := appDataDir()
	if err := os.MkdirAll(base, 0o755); err != nil {
		return
	}
	if cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(base, cfg.Storage.Path)
	}
	if cfg.Admin.FallbackPath == "" {
		cfg.Admin.FallbackPath = filepath.Join(base, "admin.key")
	}
	if cfg.Games.BaseURL == "" && !filepath.IsAbs(cfg.Games.Dir) {
		if info, err := os.Stat(cfg.Games.Dir); err != nil || !info.IsDir() {
			cfg.Games.Dir = filepath.Join(base, cfg.Games.Dir)
			_ = os.MkdirAll(cfg.Games.Dir, 0o755)
		}
	}
}

// appDataDir returns an OS-appropriate writable directory.
func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, appConfigDirName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+appConfigDirName)
	}
	return "."
}

func buildAppMenu(host *bindings.GameHost) *menu.Menu {
	rootMenu := menu.NewMenu()

	if runtime.GOOS == "darwin" {
		if appMenu := menu.AppMenu(); appMenu != nil {
			rootMenu.Append(appMenu)
		}
	}

	fileMenu := menu.NewMenu()
	fileMenu.AddText("Open Data Directory", keys.CmdOrCtrl("o"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			openPathInExplorer(ctx, appDataDir())
		})
	})
	fileMenu.AddText("Rescan Games", keys.CmdOrCtrl("g"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			if _, err := host.RefreshGames(); err != nil {
				wruntime.LogErrorf(ctx, "rescan failed: %v", err)
			}
		})
	})
	fileMenu.AddSeparator()
	fileMenu.AddText("Quit", keys.CmdOrCtrl("q"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.Quit(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("File", fileMenu))

	viewMenu := menu.NewMenu()
	viewMenu.AddText("Reload Frontend", keys.CmdOrCtrl("r"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.WindowReloadApp(ctx)
		})
	})
	viewMenu.AddText("Toggle Fullscreen", keys.Combo("f", keys.CmdOrCtrlKey, keys.ShiftKey), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			toggleFullscreen(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("View", viewMenu))

	helpMenu := menu.NewMenu()
	helpMenu.AddText("Documentation", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, docsURL)
		})
	})
	helpMenu.AddText("Project Repository", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, repoURL)
		})
	})
	rootMenu.Append(menu.SubMenu("Help", helpMenu))

	return rootMenu
}

func openPathInExplorer(ctx context.Context, path string) {
	if path == "" {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	wruntime.BrowserOpenURL(ctx, fileURI(abs))
}

func fileURI(path string) string {
	clean := filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(clean) > 0 && clean[0] != '/' {
		clean = "/" + clean
	}
	u := url.URL{Scheme: "file", Path: clean}
	return u.String()
}

func toggleFullscreen(ctx context.Context) {
	if wruntime.WindowIsFullscreen(ctx) {
		wruntime.WindowUnfullscreen(ctx)
		return
	}
	wruntime.WindowFullscreen(ctx)
}

func setAppContext(ctx context.Context) {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	appCtx = ctx
}

func withAppContext(action func(context.Context)) {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()
	if ctx == nil {
		return
	}
	action(ctx)
}
