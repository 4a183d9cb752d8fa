// Package apperr defines the closed set of error kinds surfaced by the
// linking and instance operations. Callers branch on these with
// errors.Is instead of inspecting message text.
package apperr

import "errors"

var (
	// ErrConflict is returned when a location is already claimed by another tenant
	ErrConflict = errors.New("location already claimed by another tenant")

	// ErrDuplicateName is returned when an instance name collides within a tenant
	ErrDuplicateName = errors.New("instance name already in use")

	// ErrInvalidState is returned when an illegal state transition is requested
	ErrInvalidState = errors.New("operation not valid in current connection state")

	// ErrMissingCredentials is returned when no token pair is available to claim
	ErrMissingCredentials = errors.New("no credentials available for location")

	// ErrGatewayUnavailable is returned when a remote call failed after retries
	ErrGatewayUnavailable = errors.New("messaging gateway unavailable")

	// ErrNotFound is returned when a referenced tenant, link or instance does not exist
	ErrNotFound = errors.New("record not found")
)
