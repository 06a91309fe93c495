package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	apiv1 "devmatch/contracts/api/v1"
)

// Store persists users and direct chats.
//
// Requirements:
//   - A chat is identified by its unordered participant pair.
//   - Messages are returned in append order; senders are populated.
//   - AppendMessage returns the whole chat including the new message as last element.
type Store interface {
	UpsertUser(ctx context.Context, u apiv1.User) (apiv1.User, error)
	GetUser(ctx context.Context, id string) (apiv1.User, error)
	GetChat(ctx context.Context, userA, userB string) (apiv1.Chat, error)
	AppendMessage(ctx context.Context, in AppendMessageInput) (apiv1.Chat, error)
	Close() error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	SenderID string
	TargetID string
	Text     string
	Now      time.Time
}

func (in AppendMessageInput) validate() error {
	if err := validPair(in.SenderID, in.TargetID); err != nil {
		return err
	}
	if strings.TrimSpace(in.Text) == "" {
		return errors.New("relay: empty text")
	}
	return nil
}

func validPair(a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return errors.New("relay: missing participant")
	}
	if a == b {
		return errors.New("relay: cannot chat with yourself")
	}
	return nil
}

// pairKey orders a participant pair so both directions map to one chat.
func pairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// LatestFrom returns the newest message in chat sent by senderID with text.
func LatestFrom(chat apiv1.Chat, senderID, text string) (apiv1.ChatMessage, bool) {
	for i := len(chat.Messages) - 1; i >= 0; i-- {
		m := chat.Messages[i]
		if m.Sender.ID == senderID && m.Text == text {
			return m, true
		}
	}
	return apiv1.ChatMessage{}, false
}
