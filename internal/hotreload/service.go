package hotreload

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/minigame-playground/internal/events"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// Service events.
const (
	EventManifestReloaded = "manifestReloaded"
	EventManifestError    = "manifestError"
	EventManifestRemoved  = "manifestRemoved"
	EventFileChanged      = "fileChanged"
	EventReloadRequested  = "reloadRequested"
	EventConnected        = "connected"
	EventDisconnected     = "disconnected"
)

var ErrRunning = errors.New("hotreload: already running")

// Event is delivered to Service subscribers.
type Event struct {
	Type          string
	Path          string
	GameID        string
	Manifest      *manifest.Manifest
	PreserveState bool
	Err           error
}

// Options configures a Service. An empty PushURL means polling only.
type Options struct {
	PushURL        string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

// Service keeps the manifest cache in step with the game files.
type Service struct {
	loader *manifest.Loader
	opts   Options
	logger *slog.Logger
	bus    *events.Bus[Event]

	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(loader *manifest.Loader, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := logging.OrDiscard(opts.Logger).With("component", "hotreload")
	return &Service{
		loader: loader,
		opts:   opts,
		logger: logger,
		bus:    events.NewBus[Event]("hotreload", logger),
	}
}

func (s *Service) Subscribe(event string, fn func(Event)) func() {
	return s.bus.Subscribe(event, fn)
}

// Connected reports whether the push socket is up.
func (s *Service) Connected() bool { return s.connected.Load() }

// Start runs the watch loop in the background until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.run(ctx)
	}(s.done)
	return nil
}

// Stop ends the watch loop and waits for it.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Service) run(ctx context.Context) {
	if s.opts.PushURL == "" {
		s.poll(ctx, 0)
		return
	}
	for ctx.Err() == nil {
		conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.PushURL, nil)
		if err != nil {
			s.logger.Debug("push connect failed, polling", "url", s.opts.PushURL, "err", err)
			s.poll(ctx, s.opts.ReconnectDelay)
			continue
		}
		s.connected.Store(true)
		s.bus.Emit(EventConnected, Event{Type: EventConnected, Path: s.opts.PushURL})
		s.logger.Info("push connected", "url", s.opts.PushURL)
		// catch up on anything missed while disconnected
		s.CheckForChanges(ctx)

		err = s.listen(ctx, conn)
		s.connected.Store(false)
		s.bus.Emit(EventDisconnected, Event{Type: EventDisconnected, Path: s.opts.PushURL, Err: err})
		if ctx.Err() == nil {
			s.logger.Warn("push disconnected", "err", err)
		}
	}
}

// poll checks for changes every PollInterval, for d or until ctx ends when d
// is zero.
func (s *Service) poll(ctx context.Context, d time.Duration) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			s.CheckForChanges(ctx)
		}
	}
}

func (s *Service) listen(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var n Notice
		if err := json.Unmarshal(msg, &n); err != nil {
			s.logger.Warn("bad notice", "err", err)
			continue
		}
		s.HandleNotice(ctx, n)
	}
}

// HandleNotice applies one change notice.
func (s *Service) HandleNotice(ctx context.Context, n Notice) {
	switch n.Type {
	case NoticeManifest:
		if n.Removed {
			s.loader.InvalidateCache(n.Path)
			s.bus.Emit(EventManifestRemoved, Event{Type: EventManifestRemoved, Path: n.Path, GameID: n.GameID})
			return
		}
		s.reloadManifest(ctx, n.Path)
	case NoticeFile:
		s.bus.Emit(EventFileChanged, Event{Type: EventFileChanged, Path: n.Path, GameID: n.GameID})
	default:
		s.logger.Debug("ignoring notice", "type", n.Type, "path", n.Path)
	}
}

// CheckForChanges polls the manifest source once and reloads what changed.
func (s *Service) CheckForChanges(ctx context.Context) []string {
	changed, err := s.loader.CheckAllForUpdates(ctx)
	if err != nil {
		s.logger.Warn("change check incomplete", "err", err)
	}
	for _, p := range changed {
		s.reloadManifest(ctx, p)
	}
	return changed
}

func (s *Service) reloadManifest(ctx context.Context, path string) {
	m, err := s.loader.LoadManifest(ctx, path, true)
	if err != nil {
		s.logger.Warn("manifest reload failed, keeping previous", "path", path, "err", err)
		s.bus.Emit(EventManifestError, Event{Type: EventManifestError, Path: path, Err: err})
		return
	}
	s.logger.Info("manifest reloaded", "path", path, "game", m.ID, "version", m.Version)
	s.bus.Emit(EventManifestReloaded, Event{Type: EventManifestReloaded, Path: path, GameID: m.ID, Manifest: m})
}

// ReloadGame asks the host to rebuild gameID.
func (s *Service) ReloadGame(gameID string, preserveState bool) {
	s.bus.Emit(EventReloadRequested, Event{Type: EventReloadRequested, GameID: gameID, PreserveState: preserveState})
}
