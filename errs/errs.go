// Package errs defines the service-level error taxonomy. Services wrap these
// sentinels with context; the REST layer maps them to HTTP statuses.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrValidation covers bad or missing input.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound covers unknown users, requests, and friends.
	ErrNotFound = errors.New("not found")
	// ErrForbidden covers acting on a resource the user has no permission on.
	ErrForbidden = errors.New("not authorized")
	// ErrConflict covers duplicate pending friend requests and repeated
	// state transitions.
	ErrConflict = errors.New("conflict")
)

// HTTPStatus maps a service error to its HTTP status code. Anything outside
// the taxonomy is a persistence or internal failure and maps to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
