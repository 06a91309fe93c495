// Package v1 defines the devmatch Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the relay and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apiv1 "devmatch/contracts/api/v1"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol both sides must negotiate.
const Subprotocol = "devmatch.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeJoinRoom joins the caller's per-user room (client -> server).
	TypeJoinRoom = "joinRoom"
	// TypeLeaveRoom leaves a previously joined room (client -> server).
	TypeLeaveRoom = "leaveRoom"

	// TypeSendMessage asks the relay to fan out an already persisted message (client -> server).
	TypeSendMessage = "sendMessage"
	// TypeNewMessage carries the full chat after a message was added (server -> room).
	TypeNewMessage = "newMessage"
	// TypeMessageDelivered acknowledges a sendMessage (server -> sender).
	TypeMessageDelivered = "messageDelivered"
	// TypeMessageError reports a failed sendMessage (server -> sender).
	TypeMessageError = "messageError"

	// TypeError is a generic protocol error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinRoom,
		TypeLeaveRoom,
		TypeSendMessage,
		TypeNewMessage,
		TypeMessageDelivered,
		TypeMessageError,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ---- Payloads ----

// JoinRoomPayload joins the room named after the local user id.
type JoinRoomPayload struct {
	UserID string `json:"userId"`
}

// LeaveRoomPayload leaves the room named after the local user id.
type LeaveRoomPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload announces a persisted message to the counterpart.
type SendMessagePayload struct {
	SenderID     string `json:"senderId"`
	TargetUserID string `json:"targetUserId"`
	Text         string `json:"text"`
}

// NewMessagePayload is the full, ordered chat of the room; the newest message is last.
type NewMessagePayload = apiv1.Chat

// MessageDeliveredPayload acknowledges a sendMessage.
type MessageDeliveredPayload struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// MessageErrorPayload reports a failed sendMessage.
type MessageErrorPayload struct {
	Error        string `json:"error"`
	OriginalText string `json:"originalText,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
