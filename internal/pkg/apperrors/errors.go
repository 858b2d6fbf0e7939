package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrValidation             ErrorType = "VALIDATION_ERROR"
	ErrInvalidStateTransition ErrorType = "INVALID_STATE_TRANSITION"
	ErrConcurrencyConflict    ErrorType = "CONCURRENCY_CONFLICT"
	ErrPreconditionNotMet     ErrorType = "PRECONDITION_NOT_MET"
	ErrRetentionViolation     ErrorType = "RETENTION_VIOLATION"
	ErrNotFound               ErrorType = "NOT_FOUND"
	ErrPartialFailure         ErrorType = "PARTIAL_FAILURE"
	ErrAuthFailed             ErrorType = "AUTH_FAILED"
	ErrInternal               ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewValidation(msg string) *AppError {
	return New(ErrValidation, msg, nil)
}

func NewInvalidTransition(msg string) *AppError {
	return New(ErrInvalidStateTransition, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewRetentionViolation(msg string) *AppError {
	return New(ErrRetentionViolation, msg, nil)
}

func NewPartialFailure(msg string) *AppError {
	return New(ErrPartialFailure, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrInvalidStateTransition, ErrConcurrencyConflict:
		return http.StatusConflict
	case ErrPreconditionNotMet, ErrRetentionViolation:
		return http.StatusUnprocessableEntity
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrPartialFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrConcurrencyConflict:
		return "Reload the request and retry the action."
	case ErrInvalidStateTransition:
		return "Check the current request status before acting."
	case ErrPreconditionNotMet:
		return "Run the export or deletion for this request first."
	case ErrPartialFailure:
		return "Retry only the failed categories."
	case ErrAuthFailed:
		return "Check the admin API key."
	default:
		return ""
	}
}
