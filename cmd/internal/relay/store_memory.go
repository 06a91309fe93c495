package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	apiv1 "devmatch/contracts/api/v1"
)

const (
	memMaxMessagesPerChat = 10_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
type InMemoryStore struct {
	mu    sync.Mutex
	users map[string]apiv1.User
	chats map[[2]string]*memChat
}

type memChat struct {
	id   string
	msgs []memMessage
}

type memMessage struct {
	id       string
	senderID string
	text     string
	at       time.Time
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]apiv1.User),
		chats: make(map[[2]string]*memChat),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// UpsertUser inserts or replaces a user record.
func (s *InMemoryStore) UpsertUser(ctx context.Context, u apiv1.User) (apiv1.User, error) {
	if err := ctx.Err(); err != nil {
		return apiv1.User{}, err
	}
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return apiv1.User{}, ErrInvalidUser
	}

	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u, nil
}

// GetUser returns a user record or ErrNotFound.
func (s *InMemoryStore) GetUser(ctx context.Context, id string) (apiv1.User, error) {
	if err := ctx.Err(); err != nil {
		return apiv1.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return apiv1.User{}, ErrNotFound
	}
	return u, nil
}

// GetChat returns the chat between a and b, creating it empty on first read.
func (s *InMemoryStore) GetChat(ctx context.Context, a, b string) (apiv1.Chat, error) {
	if err := ctx.Err(); err != nil {
		return apiv1.Chat{}, err
	}
	if err := validPair(a, b); err != nil {
		return apiv1.Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chatLocked(a, b, time.Now().UTC())
	if err != nil {
		return apiv1.Chat{}, err
	}
	return s.renderLocked(c, a, b), nil
}

// AppendMessage appends a message and returns the whole chat.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (apiv1.Chat, error) {
	if err := in.validate(); err != nil {
		return apiv1.Chat{}, err
	}
	if err := ctx.Err(); err != nil {
		return apiv1.Chat{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := NewMessageID(now)
	if err != nil {
		return apiv1.Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.chatLocked(in.SenderID, in.TargetID, now)
	if err != nil {
		return apiv1.Chat{}, err
	}

	c.msgs = append(c.msgs, memMessage{id: id, senderID: in.SenderID, text: in.Text, at: now})

	// Bound memory to avoid unbounded growth in dev.
	if len(c.msgs) > memMaxMessagesPerChat {
		c.msgs = c.msgs[len(c.msgs)-memMaxMessagesPerChat:]
	}

	return s.renderLocked(c, in.SenderID, in.TargetID), nil
}

func (s *InMemoryStore) chatLocked(a, b string, now time.Time) (*memChat, error) {
	lo, hi := pairKey(a, b)
	key := [2]string{lo, hi}

	if c, ok := s.chats[key]; ok {
		return c, nil
	}
	id, err := NewChatID(now)
	if err != nil {
		return nil, err
	}
	c := &memChat{id: id, msgs: make([]memMessage, 0, 64)}
	s.chats[key] = c
	return c, nil
}

func (s *InMemoryStore) renderLocked(c *memChat, a, b string) apiv1.Chat {
	out := apiv1.Chat{
		ID:           c.id,
		Participants: []apiv1.User{s.userOrStubLocked(a), s.userOrStubLocked(b)},
		Messages:     make([]apiv1.ChatMessage, 0, len(c.msgs)),
	}
	for _, m := range c.msgs {
		at := m.at
		out.Messages = append(out.Messages, apiv1.ChatMessage{
			ID:        m.id,
			Sender:    s.userOrStubLocked(m.senderID),
			Text:      m.text,
			CreatedAt: &at,
		})
	}
	return out
}

func (s *InMemoryStore) userOrStubLocked(id string) apiv1.User {
	if u, ok := s.users[id]; ok {
		return u
	}
	return apiv1.User{ID: id}
}
