package realtime

import "errors"

var (
	// ErrClosed is returned when emitting on a socket that is shut down.
	ErrClosed = errors.New("realtime: socket closed")

	// ErrMissingURL is returned by Dial without a URL.
	ErrMissingURL = errors.New("realtime: missing websocket url")

	// ErrLeaseReleased is returned when emitting through a released lease.
	ErrLeaseReleased = errors.New("realtime: lease released")
)
