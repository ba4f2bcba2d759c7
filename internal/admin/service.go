// Package admin is the management surface over the games folder and the
// global wallet settings. Edits land on disk, so a running host picks them
// up through hot reload while sessions stay open.
package admin

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
	"github.com/MJE43/minigame-playground/internal/store"
)

var (
	ErrInvalidUpload   = errors.New("admin: invalid upload")
	ErrNoGameFolder    = errors.New("admin: game has no folder of its own")
	ErrInvalidSettings = errors.New("admin: invalid settings")
)

// Options wires the service. Root is the directory the manifest loader
// reads from.
type Options struct {
	Root      string
	Manifests *manifest.Loader
	Betting   *betting.Service
	Store     store.KV
	Logger    *slog.Logger
}

type Service struct {
	opts     Options
	logger   *slog.Logger
	defaults Settings

	// serializes writes under Root
	mu sync.Mutex

	themeMu sync.Mutex
	theme   string
}

func New(opts Options) *Service {
	s := &Service{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).With("component", "admin"),
	}
	s.defaults = Settings{Defaults: opts.Betting.CurrentDefaults(), Theme: defaultTheme}
	s.theme = defaultTheme
	return s
}

func (s *Service) currentTheme() string {
	s.themeMu.Lock()
	defer s.themeMu.Unlock()
	return s.theme
}

func (s *Service) setTheme(theme string) {
	s.themeMu.Lock()
	s.theme = theme
	s.themeMu.Unlock()
}
