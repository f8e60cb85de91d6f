// Package factstore provides a Go client for the fact store HTTP API.
package factstore

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the fact store API with the HTTP status
// code and the server's error payload.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	// Field names the offending request field for validation errors.
	Field string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("factstore: %s (%d): %s: %s", e.Code, e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("factstore: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func statusIs(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}

// IsInvalidInput returns true if the request was rejected as malformed (400).
func IsInvalidInput(err error) bool { return statusIs(err, http.StatusBadRequest) }

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return statusIs(err, http.StatusTooManyRequests) }

// IsTooLarge returns true if the request body exceeded the server limit (413).
func IsTooLarge(err error) bool { return statusIs(err, http.StatusRequestEntityTooLarge) }

// IsUnavailable returns true if the server reported 503.
func IsUnavailable(err error) bool { return statusIs(err, http.StatusServiceUnavailable) }
