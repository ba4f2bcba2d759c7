// Package api serves the playground over HTTP: sessions and their actions,
// the wallet, state history, the admin surface, health and metrics.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"

	"github.com/MJE43/minigame-playground/internal/admin"
	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/gamestate"
	"github.com/MJE43/minigame-playground/internal/hotreload"
	"github.com/MJE43/minigame-playground/internal/loader"
	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/metrics"
	"github.com/MJE43/minigame-playground/internal/store"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 32 << 20
)

// Options wires the server. Loader, Betting and State are required; the
// rest switch their routes off when nil.
type Options struct {
	Loader    *loader.Loader
	Betting   *betting.Service
	State     *gamestate.Manager
	Admin     *admin.Service
	Auth      *admin.Auth
	HotReload *hotreload.Service
	Hub       *hotreload.Hub
	Metrics   *metrics.Collectors
	Store     store.KV
	// Surface builds the drawing target of sessions opened over HTTP.
	// Defaults to an in-memory surface.
	Surface func(gameID string) game.Surface
	Logger  *slog.Logger
}

// Server handles HTTP requests
type Server struct {
	opts         Options
	errorHandler *ErrorHandler
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.Surface == nil {
		opts.Surface = func(string) game.Surface { return game.NewMemorySurface() }
	}
	logger := logging.OrDiscard(opts.Logger).With("component", "api")
	return &Server{
		opts:         opts,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		startTime:    time.Now(),
	}
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.errorHandler.RecoveryHandler)
	r.Use(s.corsMiddleware)

	// long-lived and streaming endpoints stay outside timeout and compression
	if s.opts.Hub != nil {
		r.Get("/ws/reload", s.opts.Hub.ServeHTTP)
	}
	if s.opts.Metrics != nil {
		r.Get("/metrics", s.opts.Metrics.Handler().ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		r.Get("/health", s.handleHealthCheck)
		r.Get("/health/ready", s.handleReadiness)
		r.Get("/health/live", s.handleLiveness)
		r.Get("/version", s.handleVersion)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/games", s.handleListGames)
			r.Post("/games/refresh", s.handleRefreshGames)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.handleListSessions)
				r.Post("/", s.handleOpenSession)
				r.Route("/{gameID}", func(r chi.Router) {
					r.Get("/", s.handleGetSession)
					r.Delete("/", s.handleCloseSession)
					r.Post("/pause", s.handlePause)
					r.Post("/resume", s.handleResume)
					r.Post("/resize", s.handleResize)
					r.Post("/actions", s.handleAction)
					r.Post("/reload", s.handleReload)
					r.Get("/state", s.handleGetState)
					r.Put("/state", s.handlePutState)
					r.Patch("/state", s.handlePatchState)
					r.Get("/history", s.handleHistory)
					r.Delete("/history", s.handleClearHistory)
					r.Post("/undo", s.handleUndo)
					r.Post("/redo", s.handleRedo)
				})
			})

			r.Route("/betting", func(r chi.Router) {
				r.Get("/", s.handleWallet)
				r.Post("/bet", s.handleSetBet)
				r.Post("/risk", s.handleSetRisk)
				r.Post("/funds", s.handleAddFunds)
				r.Post("/reset", s.handleResetWallet)
				r.Get("/history", s.handleWalletHistory)
				r.Get("/potential-win", s.handlePotentialWin)
			})

			if s.opts.Admin != nil && s.opts.Auth != nil {
				r.Route("/admin", s.adminRoutes)
			}
		})
	})
	return r
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Playground-Version", Version)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("writing response failed", "err", err)
	}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_ip", r.RemoteAddr,
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin accepts a bearer token issued by the admin login.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			s.errorHandler.HandleStatus(w, r, http.StatusUnauthorized, ErrTypeUnauthorized, "bearer token required", nil)
			return
		}
		if err := s.opts.Auth.Verify(token); err != nil {
			s.errorHandler.HandleError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
