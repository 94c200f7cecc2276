// Package orcherr defines the small set of sentinel errors shared across
// the orchestrator's components. Components wrap these with fmt.Errorf and
// %w so callers can still errors.Is/errors.As against the sentinel while
// getting a component-specific message.
package orcherr

import "errors"

var (
	// ErrValidation marks a 400-class input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a 401-class auth failure (missing/invalid bearer or WS token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited marks a 429-class rate-limit rejection.
	ErrRateLimited = errors.New("rate limited")

	// ErrStateConflict marks a 409-class state-machine or compare conflict.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound marks a 404-class lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrCycleDetected marks a rejected reasoning-graph edge insertion.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrCapabilityAbsent marks a persistence gateway operation that the
	// configured backend does not support (missing table/RPC), distinct
	// from a transient or permanent failure of a supported operation.
	ErrCapabilityAbsent = errors.New("capability absent")
)
