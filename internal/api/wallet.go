package api

import (
	"net/http"
	"strconv"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/domain"
)

const defaultHistoryLimit = 50

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Betting.Snapshot())
}

// writeResult answers a wallet operation; a rejected one is a 422 carrying
// the wallet's unchanged bet and balance.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res betting.Result) {
	if !res.Success {
		s.errorHandler.HandleStatus(w, r, http.StatusUnprocessableEntity, ErrTypeWallet, res.Message,
			map[string]any{"bet": res.Bet, "balance": res.Balance})
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	s.writeResult(w, r, s.opts.Betting.SetBet(req.Amount, req.GameID))
}

func (s *Server) handleSetRisk(w http.ResponseWriter, r *http.Request) {
	var req RiskRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	s.writeResult(w, r, s.opts.Betting.SetRiskLevel(req.Level))
}

func (s *Server) handleAddFunds(w http.ResponseWriter, r *http.Request) {
	var req FundsRequest
	if err := decode(r, w, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}
	s.writeResult(w, r, s.opts.Betting.AddFunds(req.Amount, req.Reason))
}

func (s *Server) handleResetWallet(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.opts.Betting.Reset())
}

func (s *Server) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorHandler.HandleValidationError(w, r, "limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries := s.opts.Betting.History(limit)
	if entries == nil {
		entries = []betting.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handlePotentialWin evaluates ?bet, ?risk and ?gameId; missing values fall
// back to the wallet's current bet and risk.
func (s *Server) handlePotentialWin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var bet float64
	if raw := q.Get("bet"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			s.errorHandler.HandleValidationError(w, r, "bet", "bet must be a non-negative number")
			return
		}
		bet = v
	}
	var risk domain.RiskLevel
	if raw := q.Get("risk"); raw != "" {
		v, err := domain.ParseRiskLevel(raw)
		if err != nil {
			s.errorHandler.HandleValidationError(w, r, "risk", err.Error())
			return
		}
		risk = v
	}
	gameID := q.Get("gameId")

	snap := s.opts.Betting.Snapshot()
	resp := PotentialWinResponse{Bet: bet, RiskLevel: risk, GameID: gameID}
	if resp.Bet <= 0 {
		resp.Bet = snap.CurrentBet
	}
	if resp.RiskLevel == "" {
		resp.RiskLevel = snap.RiskLevel
	}
	resp.PotentialWin = s.opts.Betting.CalculatePotentialWin(resp.Bet, resp.RiskLevel, gameID)
	s.writeJSON(w, http.StatusOK, resp)
}
