// Package errs defines the sentinel error kinds shared across components.
package errs

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("%w: ...", Kind) at call sites
// so callers can still errors.Is against the kind while carrying detail.
var (
	// ErrValidation covers schema violations: missing required fields,
	// weight sums out of tolerance, negative quantities, empty session_id,
	// missing event_type.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition is raised by the state machine for a trigger or
	// target state with no path from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrPermissionDenied is raised by the access layer when a session
	// lacks a required permission or has expired.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIntegrity is raised when chain verification fails on load.
	ErrIntegrity = errors.New("chain integrity check failed")

	// ErrNotFound covers portfolio/session/job lookup misses.
	ErrNotFound = errors.New("not found")
)
