package chat

import "errors"

var (
	// ErrEmptyMessage is returned when the draft is empty or whitespace only.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrSendInFlight is returned when a send is attempted while another one is unacknowledged.
	// Sends are rejected, never queued.
	ErrSendInFlight = errors.New("chat: send already in flight")

	// ErrNotConnected is returned when no realtime binding is connected.
	ErrNotConnected = errors.New("chat: realtime channel not connected")

	// ErrMissingCounterpart is returned when a conversation is built without a counterpart id.
	ErrMissingCounterpart = errors.New("chat: missing counterpart id")

	// ErrClosed is returned for operations on a closed conversation.
	ErrClosed = errors.New("chat: conversation closed")
)
