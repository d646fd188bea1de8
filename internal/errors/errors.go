// Package errors provides error code definitions shared by the store, the
// gateway and the remote client.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code that survives the HTTP boundary.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase     ErrorCode = "DATABASE_ERROR"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"
	ErrUnknownTable ErrorCode = "UNKNOWN_TABLE"

	// Data-sync errors
	ErrQuery          ErrorCode = "QUERY_FAILED"
	ErrMutation       ErrorCode = "MUTATION_FAILED"
	ErrNoRowsAffected ErrorCode = "NO_ROWS_AFFECTED"
	ErrSubscription   ErrorCode = "SUBSCRIPTION_FAILED"
	ErrInvalidRange   ErrorCode = "INVALID_RANGE"

	// Transport errors
	ErrTransport ErrorCode = "TRANSPORT_ERROR"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with the given code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HTTPStatus maps an error code to the status the gateway responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalid, ErrValidation, ErrInvalidRange:
		return http.StatusBadRequest
	case ErrNotFound, ErrUnknownTable, ErrNoRowsAffected:
		return http.StatusNotFound
	case ErrTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
