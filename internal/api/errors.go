package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/explant/explant/internal/farm"
	"github.com/explant/explant/internal/runner"
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

// Build creates the final APIError
func (eb *ErrorBuilder) Build() APIError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return APIError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error to a status code and error builder.
func classify(err error) (int, *ErrorBuilder) {
	var (
		inputErr *runner.InvalidInputError
		shapeErr *runner.ResponseShapeError
	)
	switch {
	case errors.As(err, &inputErr):
		return http.StatusUnprocessableEntity, NewError(ErrTypeValidation, inputErr.Error()).
			WithContext("field", inputErr.Field)
	case errors.As(err, &shapeErr):
		return http.StatusBadGateway, NewError(ErrTypeResponseShape, shapeErr.Error())
	case errors.Is(err, runner.ErrRunInProgress):
		return http.StatusConflict, NewError(ErrTypeRunInProgress, "a simulation is already running")
	case errors.Is(err, farm.ErrUnknownAction):
		return http.StatusNotFound, NewError(ErrTypeNotFound, err.Error())
	case errors.Is(err, farm.ErrTileOutOfRange):
		return http.StatusUnprocessableEntity, NewError(ErrTypeValidation, err.Error()).
			WithContext("field", "tile")
	case errors.Is(err, farm.ErrTileNotEmpty), errors.Is(err, farm.ErrTileNotReady):
		return http.StatusConflict, NewError(ErrTypeConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, NewError(ErrTypeTimeout, "operation timed out")
	default:
		return http.StatusInternalServerError, NewError(ErrTypeInternal, "internal server error")
	}
}

// handleError writes err as a JSON envelope and logs it.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, eb := classify(err)
	apiErr := eb.
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		Build()

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	s.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("type", apiErr.Type),
		slog.Int("status", status),
		slog.String("request_id", apiErr.RequestID),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeJSON(w, status, apiErr)
}

// writeError writes a structured error response
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	apiErr := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		Build()
	s.writeJSON(w, status, apiErr)
}

// recoverer turns panics into a 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())
				s.logger.Error("panic recovered",
					"request_id", requestID,
					"path", r.URL.Path,
					"method", r.Method,
					"panic", fmt.Sprint(rvr),
				)
				s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
