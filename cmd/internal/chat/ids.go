package chat

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

const tempIDPrefix = "temp-"

// newTempID returns the token that identifies an optimistic message until the
// server assigns its id.
func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

// syntheticID builds a client-side id for a server record that carried none.
// It is only ever used for rendering keys and is never trusted as a persisted id.
func syntheticID(senderID string, ts time.Time) string {
	return senderID + "-" + strconv.FormatInt(ts.UnixMilli(), 10) + "-" + uuid.NewString()
}
