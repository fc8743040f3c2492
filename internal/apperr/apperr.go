// Package apperr provides a standardized error type for the chat orchestration
// service, with automatic mapping to HTTP status codes so handlers never need
// to hand-translate domain failures into response codes.
package apperr

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is a stable, machine-readable identifier for a failure mode.
type ErrorCode string

const (
	// CLIENT ERRORS (400-499)
	ErrBadRequest            ErrorCode = "BAD_REQUEST"
	ErrValidationFailed      ErrorCode = "VALIDATION_ERROR"
	ErrMissingRequiredField  ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrInvalidChatID         ErrorCode = "INVALID_CHAT_ID"

	// NOT FOUND (404)
	ErrChatNotFound ErrorCode = "CHAT_NOT_FOUND"
	ErrBotNotFound  ErrorCode = "BOT_NOT_FOUND"

	// CONFLICT (409)
	ErrBotExists ErrorCode = "BOT_EXISTS"

	// SERVER ERRORS (500-599)
	ErrInternalServer     ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrUpstreamRAG        ErrorCode = "UPSTREAM_RAG_ERROR"
	ErrCacheTransport     ErrorCode = "CACHE_TRANSPORT_ERROR"
	ErrDatabaseError      ErrorCode = "DATABASE_ERROR"

	// CONFIGURATION / LIFECYCLE ERRORS
	ErrMissingEnvVar        ErrorCode = "MISSING_ENV_VAR"
	ErrInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	ErrInitializedAlready   ErrorCode = "ALREADY_INITIALIZED"
)

// StatusCodes maps each ErrorCode to the HTTP status a handler should return.
var StatusCodes = map[ErrorCode]int{
	ErrBadRequest:           http.StatusBadRequest,
	ErrValidationFailed:     http.StatusBadRequest,
	ErrMissingRequiredField: http.StatusBadRequest,
	ErrInvalidChatID:        http.StatusBadRequest,

	ErrChatNotFound: http.StatusNotFound,
	ErrBotNotFound:  http.StatusNotFound,

	ErrBotExists: http.StatusConflict,

	ErrInternalServer:     http.StatusInternalServerError,
	ErrServiceUnavailable: http.StatusServiceUnavailable,
	ErrUpstreamRAG:        http.StatusBadGateway,
	ErrCacheTransport:     http.StatusInternalServerError,
	ErrDatabaseError:      http.StatusInternalServerError,

	ErrMissingEnvVar:        http.StatusInternalServerError,
	ErrInvalidConfiguration: http.StatusInternalServerError,
	ErrInitializedAlready:   http.StatusConflict,
}

// AppError is a structured failure with a code, a user-facing message, and
// optional debugging context.
type AppError struct {
	Code      ErrorCode   `json:"error"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status code for this error, defaulting to 500
// for codes with no explicit mapping.
func (e *AppError) StatusCode() int {
	if code, ok := StatusCodes[e.Code]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewWithDetails(code ErrorCode, message string, details interface{}) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// Wrap converts a standard error into an AppError, preserving it as-is if it
// already is one.
func Wrap(err error, code ErrorCode) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(code, err.Error())
}

// IsAppError reports whether err is an *AppError.
func IsAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// Response is the wire shape returned to clients for any failed request.
type Response struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
