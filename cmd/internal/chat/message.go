package chat

import (
	"strings"
	"time"

	apiv1 "devmatch/contracts/api/v1"
)

// DuplicateWindow is the creation-time distance under which two messages with
// the same sender and text are treated as one.
const DuplicateWindow = 2 * time.Second

// Status is the display state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRead      Status = "read"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is one chat message as displayed.
//
// Sender display fields are captured when the message is created or received
// and are not refreshed when the sender edits their profile.
type Message struct {
	ID     string
	TempID string

	SenderID        string
	SenderFirstName string
	SenderLastName  string
	SenderPhotoURL  string

	Text      string
	Timestamp time.Time

	IsPending   bool
	IsDelivered bool
	IsRead      bool // reserved: carried from history, nothing produces it yet
	DeliveredAt time.Time
}

// Status derives the display state. Pending wins over read, read over delivered.
func (m Message) Status() Status {
	switch {
	case m.IsPending:
		return StatusPending
	case m.IsRead:
		return StatusRead
	case m.IsDelivered:
		return StatusDelivered
	default:
		return StatusFailed
	}
}

// SenderName returns "First Last" of the captured sender fields.
func (m Message) SenderName() string {
	return strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName)
}

func (m Message) matchesKey(key string) bool {
	if key == "" {
		return false
	}
	return m.TempID == key || m.ID == key
}

// IsDuplicate reports whether a and b are the same logical message.
func IsDuplicate(a, b Message) bool {
	if a.Text != b.Text || a.SenderID != b.SenderID {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	return d < DuplicateWindow
}

// Patch is a partial update applied by Store.UpsertByTempOrID. Nil fields are left untouched.
type Patch struct {
	ID          *string
	Text        *string
	IsPending   *bool
	IsDelivered *bool
	IsRead      *bool
	DeliveredAt *time.Time
}

func (p Patch) apply(m *Message) {
	if p.ID != nil {
		m.ID = *p.ID
	}
	if p.Text != nil {
		m.Text = *p.Text
	}
	if p.IsPending != nil {
		m.IsPending = *p.IsPending
	}
	if p.IsDelivered != nil {
		m.IsDelivered = *p.IsDelivered
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	if p.DeliveredAt != nil {
		m.DeliveredAt = *p.DeliveredAt
	}
}

func ptr[T any](v T) *T { return &v }

// LocalUser is the logged-in user whose display fields stamp optimistic messages.
type LocalUser struct {
	ID        string
	FirstName string
	LastName  string
	PhotoURL  string
}

// LocalUserFromWire converts a stored user record.
func LocalUserFromWire(u apiv1.User) LocalUser {
	return LocalUser{
		ID:        strings.TrimSpace(u.ID),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		PhotoURL:  u.PhotoURL,
	}
}

// fromWire normalizes a server message record.
// Records without an id get a client-side synthetic id; records without a
// creation time are stamped with now.
func fromWire(rec apiv1.ChatMessage, now time.Time) Message {
	ts := now
	switch {
	case rec.CreatedAt != nil && !rec.CreatedAt.IsZero():
		ts = *rec.CreatedAt
	case rec.Timestamp != nil && !rec.Timestamp.IsZero():
		ts = *rec.Timestamp
	}

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = syntheticID(rec.Sender.ID, ts)
	}

	return Message{
		ID:              id,
		SenderID:        rec.Sender.ID,
		SenderFirstName: rec.Sender.FirstName,
		SenderLastName:  rec.Sender.LastName,
		SenderPhotoURL:  rec.Sender.PhotoURL,
		Text:            rec.Text,
		Timestamp:       ts,
		IsRead:          rec.IsRead,
		IsDelivered:     true,
	}
}
