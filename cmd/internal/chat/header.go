package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"

	apiv1 "devmatch/contracts/api/v1"
)

// HeaderSource ranks where counterpart display info came from.
type HeaderSource int

const (
	HeaderNone HeaderSource = iota
	// HeaderParticipants is the placeholder embedded in the history response.
	HeaderParticipants
	// HeaderProfile is the dedicated profile fetch and wins once resolved.
	HeaderProfile
)

// Counterpart is the display info of the other participant.
type Counterpart struct {
	ID        string
	FirstName string
	LastName  string
	PhotoURL  string
}

func counterpartFromWire(u apiv1.User) Counterpart {
	return Counterpart{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, PhotoURL: u.PhotoURL}
}

// Header is the merged counterpart display state of a conversation.
type Header struct {
	Counterpart Counterpart
	Source      HeaderSource
}

// MergeHeader applies next on top of cur.
// A source of equal or higher rank replaces the current one; a profile is
// never overwritten by participant data, regardless of arrival order.
func MergeHeader(cur, next Header) Header {
	if next.Source == HeaderNone {
		return cur
	}
	if next.Source < cur.Source {
		return cur
	}
	return next
}

// Title renders the header line: the resolved name, else the name of the
// first message not authored by the local user, else "Chat User".
func (h Header) Title(msgs []Message, localUserID string) string {
	if h.Source != HeaderNone {
		if name := strings.TrimSpace(h.Counterpart.FirstName + " " + h.Counterpart.LastName); name != "" {
			return name
		}
	}
	for _, m := range msgs {
		if m.SenderID != localUserID {
			if name := m.SenderName(); name != "" {
				return name
			}
			break
		}
	}
	return "Chat User"
}

// Initial renders the avatar letter with the same fallbacks as Title, defaulting to "U".
func (h Header) Initial(msgs []Message, localUserID string) string {
	if h.Source != HeaderNone {
		if r, ok := firstUpper(h.Counterpart.FirstName); ok {
			return r
		}
	}
	for _, m := range msgs {
		if m.SenderID != localUserID {
			if r, ok := firstUpper(m.SenderFirstName); ok {
				return r
			}
			break
		}
	}
	return "U"
}

func firstUpper(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)), true
}
