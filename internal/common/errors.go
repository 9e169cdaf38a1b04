package common

import (
	"errors"
	"net/http"
)

// APIError carries the HTTP status and error code a handler should answer with.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// Fail wraps cause in an APIError.
func Fail(status int, code, message string, cause error) *APIError {
	return &APIError{Status: status, Code: code, Message: message, Err: cause}
}

// WithDetails sets the details rendered alongside the error.
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// StatusOf returns the status attached to err, or 500 when err carries none.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}
