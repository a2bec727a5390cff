// Package apierror defines the error envelope returned by the HTTP API.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Details    []FieldError `json:"details,omitempty"`
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

// WithDetails adds field-level error details.
func (e *Error) WithDetails(details ...FieldError) *Error {
	e.Details = details
	return e
}

// ToJSON renders the error inside the {"success":false,"error":{...}} envelope.
func (e *Error) ToJSON() []byte {
	data, _ := json.Marshal(envelope{Error: e})
	return data
}

// New builds an error with a fallback message when message is empty.
func New(status int, code, message, fallback string) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{StatusCode: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, "BAD_REQUEST", message, "Bad request")
}

// ValidationError creates a 400 error with validation details.
func ValidationError(message string, details ...FieldError) *Error {
	return New(http.StatusBadRequest, "VALIDATION_ERROR", message, "Validation failed").WithDetails(details...)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, "UNAUTHORIZED", message, "Authentication required")
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, "FORBIDDEN", message, "Access denied")
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, "NOT_FOUND", message, "Resource not found")
}

// Conflict is returned when another run of the same operation is in progress.
func Conflict(message string) *Error {
	return New(http.StatusConflict, "CONFLICT", message, "Conflict")
}

func InternalError(message string) *Error {
	return New(http.StatusInternalServerError, "INTERNAL_ERROR", message, "An unexpected error occurred")
}

func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message, "Service temporarily unavailable")
}
