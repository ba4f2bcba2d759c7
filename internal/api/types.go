package api

import (
	"github.com/MJE43/minigame-playground/internal/admin"
	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/loader"
)

// EngineError represents a structured error response with context
type EngineError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e EngineError) Error() string {
	return e.Message
}

// Error types with proper categorization
const (
	// Input validation errors
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeValidation    = "validation_error"
	ErrTypeWallet        = "wallet_rejected"

	// Game-related errors
	ErrTypeGameNotFound    = "game_not_found"
	ErrTypeSessionNotFound = "session_not_found"
	ErrTypeSessionOpen     = "session_already_open"
	ErrTypeLifecycle       = "lifecycle_error"
	ErrTypeActionBusy      = "action_in_flight"
	ErrTypeGameAction      = "game_action_error"
	ErrTypeNoHistory       = "no_history"

	// Access errors
	ErrTypeUnauthorized = "unauthorized"
	ErrTypeAdminOff     = "admin_disabled"

	// System errors
	ErrTypeTimeout            = "timeout"
	ErrTypeInternal           = "internal_error"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// ErrorCategory represents error categories for monitoring
type ErrorCategory string

const (
	CategoryValidation ErrorCategory = "validation"
	CategoryGame       ErrorCategory = "game"
	CategoryAccess     ErrorCategory = "access"
	CategorySystem     ErrorCategory = "system"
	CategoryTimeout    ErrorCategory = "timeout"
)

// GetErrorCategory returns the category for an error type
func GetErrorCategory(errType string) ErrorCategory {
	switch errType {
	case ErrTypeInvalidParams, ErrTypeValidation, ErrTypeWallet:
		return CategoryValidation
	case ErrTypeGameNotFound, ErrTypeSessionNotFound, ErrTypeSessionOpen,
		ErrTypeLifecycle, ErrTypeActionBusy, ErrTypeGameAction, ErrTypeNoHistory:
		return CategoryGame
	case ErrTypeUnauthorized, ErrTypeAdminOff:
		return CategoryAccess
	case ErrTypeTimeout:
		return CategoryTimeout
	default:
		return CategorySystem
	}
}

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

// GamesResponse lists the loadable games.
type GamesResponse struct {
	Games   []loader.GameInfo `json:"games"`
	Version string            `json:"version"`
}

// OpenSessionRequest starts a session of a game.
type OpenSessionRequest struct {
	GameID string `json:"gameId"`
}

// SessionResponse describes an open session.
type SessionResponse struct {
	*loader.Session
	Version string     `json:"manifestVersion"`
	Phase   game.Phase `json:"phase"`
	State   game.State `json:"state"`
	Events  []string   `json:"events"`
	CanUndo bool       `json:"canUndo"`
	CanRedo bool       `json:"canRedo"`
}

// ResizeRequest changes the drawing area.
type ResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ReloadRequest rebuilds a session from a fresh manifest.
type ReloadRequest struct {
	PreserveState bool `json:"preserveState"`
}

// HistoryResponse is a game's state timeline.
type HistoryResponse struct {
	States  []game.State `json:"states"`
	Pointer int          `json:"pointer"`
}

// BetRequest sets the current bet, checked against gameId's limits.
type BetRequest struct {
	Amount float64 `json:"amount"`
	GameID string  `json:"gameId,omitempty"`
}

// RiskRequest sets the risk level.
type RiskRequest struct {
	Level domain.RiskLevel `json:"level"`
}

// FundsRequest credits the wallet.
type FundsRequest struct {
	Amount float64 `json:"amount"`
	Reason string  `json:"reason,omitempty"`
}

// PotentialWinResponse echoes the inputs of a potential win calculation.
type PotentialWinResponse struct {
	Bet          float64          `json:"bet"`
	RiskLevel    domain.RiskLevel `json:"riskLevel"`
	GameID       string           `json:"gameId,omitempty"`
	PotentialWin float64          `json:"potentialWin"`
}

// LoginRequest exchanges the admin password for a token.
type LoginRequest struct {
	Password string `json:"password"`
}

// AdminGamesResponse lists games with their files.
type AdminGamesResponse struct {
	Games []admin.GameRecord `json:"games"`
}
