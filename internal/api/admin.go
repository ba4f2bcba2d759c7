package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/minigame-playground/internal/admin"
)

func (s *Server) adminRoutes(r chi.Router) {
	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/games", s.handleAdminGames)
		r.Post("/games", s.handleUploadGame)
		r.Put("/games/{id}/settings", s.handleSaveGameSettings)
		r.Delete("/games/{id}", s.handleDeleteGame)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleSaveSettings)
		r.Delete("/settings", s.handleResetSettings)
		r.Post("/rotate-key", s.handleRotateKey)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	tok, err := s.opts.Auth.Login(req.Password)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleAdminGames(w http.ResponseWriter, r *http.Request) {
	games, err := s.opts.Admin.LoadGames(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	if games == nil {
		games = []admin.GameRecord{}
	}
	s.writeJSON(w, http.StatusOK, AdminGamesResponse{Games: games})
}

// handleUploadGame installs a game from a multipart body. Each file part's
// form name is its path inside the game folder, e.g. "manifest.json" or
// "assets/logo.png".
func (s *Server) handleUploadGame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "multipart/form-data body required")
		return
	}
	var files []admin.File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, "body", err.Error())
			return
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, part.FormName(), err.Error())
			return
		}
		files = append(files, admin.File{Name: part.FormName(), Data: data})
	}
	if len(files) == 0 {
		s.errorHandler.HandleValidationError(w, r, "body", "no files uploaded")
		return
	}
	m, err := s.opts.Admin.UploadGame(r.Context(), files)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleSaveGameSettings(w http.ResponseWriter, r *http.Request) {
	var gs admin.GameSettings
	if err := decode(r, w, &gs); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	m, err := s.opts.Admin.SaveGameSettings(r.Context(), chi.URLParam(r, "id"), gs)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Admin.DeleteGame(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Admin.LoadSettings(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var st admin.Settings
	if err := decode(r, w, &st); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	saved, err := s.opts.Admin.SaveSettings(r.Context(), st)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.opts.Admin.ResetSettings(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleRotateKey replaces the signing key; every issued token stops working.
func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Auth.Rotate(); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
