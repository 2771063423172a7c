package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	// ErrPartyNotFound indicates the requested party record does not exist.
	ErrPartyNotFound = &AppError{
		Code:       "party.not_found",
		Message:    "Watch party not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrPartyFull indicates the active roster is at capacity for new members.
	ErrPartyFull = &AppError{
		Code:       "party.full",
		Message:    "Watch party is full",
		StatusCode: http.StatusConflict,
	}

	// ErrPartyEnded indicates the party has terminated and accepts no mutations.
	ErrPartyEnded = &AppError{
		Code:       "party.ended",
		Message:    "Watch party has ended",
		StatusCode: http.StatusGone,
	}

	// ErrVersionConflict indicates a conditional write lost a race. Callers are
	// expected to re-read, re-merge, and retry rather than surface this upward.
	ErrVersionConflict = &AppError{
		Code:       "party.conflict",
		Message:    "Party record changed concurrently",
		StatusCode: http.StatusConflict,
	}

	// ErrConnectivity indicates a transport-level failure owned by the
	// reconnect supervisor; the UI only sees it as a connection state flag.
	ErrConnectivity = &AppError{
		Code:       "party.connectivity",
		Message:    "Unable to reach the party store",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrTerminal indicates reconnection attempts were exhausted and the
	// session has been torn down.
	ErrTerminal = &AppError{
		Code:       "party.terminal",
		Message:    "Connection lost and could not be recovered",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// IsConflict reports whether err represents a lost conditional write.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == ErrVersionConflict.Code
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == ErrPartyNotFound.Code || appErr.Code == ErrNotFound.Code
}
