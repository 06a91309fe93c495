package relay

import (
	"time"

	"devmatch/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket connection id in logs and rooms.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewMessageID returns a ULID used as persisted message id.
// ULIDs sort by creation time, which keeps ids and append order aligned.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewChatID returns a ULID used as chat document id.
func NewChatID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
