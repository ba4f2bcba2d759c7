package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/loader"
)

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GamesResponse{Games: s.opts.Loader.Games(), Version: Version})
}

func (s *Server) handleRefreshGames(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Loader.Refresh(r.Context())
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, GamesResponse{Games: list, Version: Version})
}

func (s *Server) describe(sess *loader.Session) SessionResponse {
	rt := sess.Game
	return SessionResponse{
		Session: sess,
		Version: rt.Manifest().Version,
		Phase:   rt.Phase(),
		State:   rt.GetState(),
		Events:  rt.AvailableEvents(),
		CanUndo: s.opts.State.CanUndo(sess.GameID),
		CanRedo: s.opts.State.CanRedo(sess.GameID),
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.opts.Loader.Sessions()
	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.describe(sess))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	if req.GameID == "" {
		s.errorHandler.HandleValidationError(w, r, "gameId", "gameId is required")
		return
	}
	sess, err := s.opts.Loader.Open(r.Context(), req.GameID, s.opts.Surface(req.GameID))
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.describe(sess))
}

// session resolves the {gameID} URL parameter to an open session, writing
// the error response when there is none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*loader.Session, bool) {
	id := chi.URLParam(r, "gameID")
	sess, ok := s.opts.Loader.Session(id)
	if !ok {
		s.errorHandler.HandleStatus(w, r, http.StatusNotFound, ErrTypeSessionNotFound,
			"no open session for "+id, map[string]any{"gameId": id})
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		s.writeJSON(w, http.StatusOK, s.describe(sess))
	}
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Loader.Close(r.Context(), chi.URLParam(r, "gameID")); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Game.Pause()
		s.writeJSON(w, http.StatusOK, s.describe(sess))
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Game.Resume()
		s.writeJSON(w, http.StatusOK, s.describe(sess))
	}
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req ResizeRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		s.errorHandler.HandleValidationError(w, r, "width", "width and height must be positive")
		return
	}
	sess.Game.Resize(req.Width, req.Height)
	s.writeJSON(w, http.StatusOK, s.describe(sess))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var a game.Action
	if err := decode(r, w, &a); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	if a.Type == "" {
		s.errorHandler.HandleValidationError(w, r, "type", "action type is required")
		return
	}
	res, err := sess.Game.PerformAction(r.Context(), a)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	req := ReloadRequest{PreserveState: true}
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	sess, err := s.opts.Loader.Reload(r.Context(), chi.URLParam(r, "gameID"), req.PreserveState)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.describe(sess))
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		s.writeJSON(w, http.StatusOK, sess.Game.GetState())
	}
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var st game.State
	if err := decode(r, w, &st); err != nil || st == nil {
		s.errorHandler.HandleValidationError(w, r, "body", "a JSON object is required")
		return
	}
	cur, err := s.opts.Loader.RestoreState(chi.URLParam(r, "gameID"), st)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handlePatchState(w http.ResponseWriter, r *http.Request) {
	var st game.State
	if err := decode(r, w, &st); err != nil || st == nil {
		s.errorHandler.HandleValidationError(w, r, "body", "a JSON object is required")
		return
	}
	cur, err := s.opts.Loader.PatchState(chi.URLParam(r, "gameID"), st)
	if err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cur)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	states, pointer := s.opts.State.History(chi.URLParam(r, "gameID"))
	if states == nil {
		states = []game.State{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{States: states, Pointer: pointer})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	s.opts.State.ClearHistory(chi.URLParam(r, "gameID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.step(w, r, "undo", s.opts.State.Undo)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.step(w, r, "redo", s.opts.State.Redo)
}

// step moves the history pointer; the loader pushes the restored state
// into the running session.
func (s *Server) step(w http.ResponseWriter, r *http.Request, op string, move func(string) (game.State, bool)) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if _, moved := move(sess.GameID); !moved {
		s.errorHandler.HandleStatus(w, r, http.StatusConflict, ErrTypeNoHistory,
			"nothing to "+op, map[string]any{"gameId": sess.GameID})
		return
	}
	s.writeJSON(w, http.StatusOK, s.describe(sess))
}
