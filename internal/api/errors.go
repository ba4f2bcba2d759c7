package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/minigame-playground/internal/admin"
	"github.com/MJE43/minigame-playground/internal/game"
	"github.com/MJE43/minigame-playground/internal/loader"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]any
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]any),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

// WithRequestID adds request ID to the error
func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// WithCause adds the underlying cause error
func (eb *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	if err != nil {
		eb.context["cause"] = err.Error()
	}
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a service error onto a status and error type.
func classify(err error) (int, string) {
	var verr *manifest.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrTypeValidation
	case errors.Is(err, admin.ErrInvalidUpload), errors.Is(err, admin.ErrNoGameFolder),
		errors.Is(err, admin.ErrInvalidSettings):
		return http.StatusBadRequest, ErrTypeValidation
	case errors.Is(err, manifest.ErrNotFound):
		return http.StatusNotFound, ErrTypeGameNotFound
	case errors.Is(err, loader.ErrNoSession):
		return http.StatusNotFound, ErrTypeSessionNotFound
	case errors.Is(err, loader.ErrSessionOpen):
		return http.StatusConflict, ErrTypeSessionOpen
	case game.IsLifecycle(err):
		return http.StatusConflict, ErrTypeLifecycle
	case errors.Is(err, game.ErrActionInFlight):
		return http.StatusConflict, ErrTypeActionBusy
	case errors.Is(err, game.ErrUnknownAction), errors.Is(err, game.ErrInvalidAction):
		return http.StatusUnprocessableEntity, ErrTypeGameAction
	case errors.Is(err, admin.ErrUnauthorized):
		return http.StatusUnauthorized, ErrTypeUnauthorized
	case errors.Is(err, admin.ErrAuthDisabled):
		return http.StatusForbidden, ErrTypeAdminOff
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrTypeTimeout
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError classifies err and writes the matching response.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	var engineErr EngineError
	if errors.As(err, &engineErr) {
		eh.write(w, r, http.StatusInternalServerError, engineErr)
		return
	}
	status, errType := classify(err)
	engineErr = NewError(errType, err.Error()).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()
	eh.write(w, r, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		Build()
	eh.write(w, r, http.StatusBadRequest, engineErr)
}

// HandleStatus writes an error of errType with an explicit status.
func (eh *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, errType, message string, ctx map[string]any) {
	b := NewError(errType, message).WithRequestID(middleware.GetReqID(r.Context()))
	for k, v := range ctx {
		b.WithContext(k, v)
	}
	eh.write(w, r, status, b.Build())
}

func (eh *ErrorHandler) write(w http.ResponseWriter, r *http.Request, status int, engineErr EngineError) {
	eh.logError(r, engineErr, status)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Playground-Version", Version)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.logger.Warn("writing error response failed", "err", err)
	}
}

// logError logs validation and access failures at warn, the rest at error.
func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int) {
	category := GetErrorCategory(engineErr.Type)
	level := slog.LevelError
	if category == CategoryValidation || category == CategoryGame || category == CategoryAccess {
		level = slog.LevelWarn
	}
	eh.logger.Log(r.Context(), level, "request failed",
		"type", engineErr.Type,
		"category", category,
		"status", status,
		"request_id", engineErr.RequestID,
		"method", r.Method,
		"path", r.URL.Path,
		"message", engineErr.Message,
	)
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(middleware.GetReqID(r.Context())).
					WithContext("panic", fmt.Sprintf("%v", rvr)).
					WithContext("path", r.URL.Path).
					Build()
				eh.write(w, r, http.StatusInternalServerError, engineErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
