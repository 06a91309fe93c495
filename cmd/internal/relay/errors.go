package relay

import "errors"

var (
	// ErrNotFound is returned for unknown users.
	ErrNotFound = errors.New("relay: not found")

	// ErrInvalidUser is returned when a user record has no id.
	ErrInvalidUser = errors.New("relay: invalid user")

	// ErrSessionNotFound is returned for unknown or expired session tokens.
	ErrSessionNotFound = errors.New("relay: session not found")
)
