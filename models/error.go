package models

import "errors"

// ErrorKind is the stable machine-readable failure classification returned to
// callers alongside the human-readable message
type ErrorKind string

// Error kinds, mapped to HTTP statuses by the handlers
const (
	KindValidationError ErrorKind = "validation_error"
	KindNotAuthorized   ErrorKind = "not_authorized"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindStorageFailure  ErrorKind = "storage_failure"
)

// ErrorResponse is the body written for every failed request
type ErrorResponse struct {
	Kind   ErrorKind `json:"kind"`
	Error  string    `json:"error"`
	Detail string    `json:"detail,omitempty"`
}

// Domain sentinel errors surfaced by the handlers
var (
	ErrAlreadyPaired        = errors.New("user already belongs to an active couple")
	ErrInvalidOrExpiredCode = errors.New("pairing code is invalid or expired")
	ErrAlreadyResolved      = errors.New("suggestion has already been resolved")
	ErrNotActive            = errors.New("agreement is not active")
	ErrStaleTransition      = errors.New("agreement status changed concurrently")
	ErrNotInCouple          = errors.New("user does not belong to a couple")
)

// HealthCheckResponse returns the health check response, exported for testing
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
