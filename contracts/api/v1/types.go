// Package v1 defines the devmatch REST wire shapes used by the chat endpoints.
//
// Field names follow the backend's document model (`_id`, populated `senderId`).
// Both the client and the dev relay encode/decode through these types.
package v1

import (
	"strings"
	"time"
)

// User is a user record as returned by /user/{id}, /profile and embedded as a
// populated sender or participant.
type User struct {
	ID        string `json:"_id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	PhotoURL  string `json:"photoUrl,omitempty"`
}

// FullName joins first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// ChatMessage is one persisted message inside a chat document.
//
// Timestamp is an alternate creation time some backends emit instead of CreatedAt.
type ChatMessage struct {
	ID        string     `json:"_id,omitempty"`
	Sender    User       `json:"senderId"`
	Text      string     `json:"text"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	IsRead    bool       `json:"isRead,omitempty"`
}

// Chat is the conversation document shared by GET /chat/{id}, POST
// /chat/{id}/message and the realtime newMessage event.
type Chat struct {
	ID           string        `json:"_id,omitempty"`
	Participants []User        `json:"participants,omitempty"`
	Messages     []ChatMessage `json:"messages"`
}

// Last returns the newest message of the chat.
func (c Chat) Last() (ChatMessage, bool) {
	if len(c.Messages) == 0 {
		return ChatMessage{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// UserResponse wraps GET /user/{id}.
type UserResponse struct {
	User User `json:"user"`
}

// SendMessageRequest is the body of POST /chat/{id}/message.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// LoginRequest is the dev relay's login body.
type LoginRequest = User

// APIError is the error body shape: {"error":{"code":..,"message":..}}.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps APIError.
type ErrorResponse struct {
	Error APIError `json:"error"`
}
