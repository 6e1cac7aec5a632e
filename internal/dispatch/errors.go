// Package dispatch resolves inbound commands, events, and socket calls
// against the module registry, authorizes and validates them, and
// invokes handlers with a call-scoped capability context.
package dispatch

import (
	"errors"

	"github.com/cory-johannsen/gamekeeper/internal/module"
)

// Typed dispatch failures. Each is returned only on the originating
// call; one caller never sees another's error.
var (
	// ErrUnauthenticated is returned when an operation requires an
	// authenticated principal and the caller has none.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrUnauthorized is returned when the caller's role does not
	// satisfy the handler's required permission. Never retried.
	ErrUnauthorized = errors.New("permission denied")
	// ErrValidation is returned when caller arguments fail the declared
	// schema, before the handler runs.
	ErrValidation = errors.New("invalid arguments")
	// ErrRateLimited is returned when a connection exceeds its frame
	// budget. Surfaced distinctly so clients can back off.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInternal is the generic failure surfaced when module code
	// fails; details are logged, never leaked to the caller.
	ErrInternal = errors.New("internal error")
)

// Code maps a dispatch error to its stable wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, module.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
