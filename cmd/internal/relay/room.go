package relay

import (
	"log/slog"
	"sync"

	v1 "devmatch/contracts/realtime/v1"
)

// Room is the fan-out group named after one user id.
//
// Every connection of that user may join it. A connection joining twice
// holds two references and stays a member until it left as often as it
// joined.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
type Room struct {
	log    *slog.Logger
	UserID string

	mu      sync.RWMutex
	members map[string]*roomMember
}

type roomMember struct {
	client *Client
	refs   int
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, userID string) *Room {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Room{
		log:     log,
		UserID:  userID,
		members: make(map[string]*roomMember),
	}
}

// Join adds one reference for client.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	m, ok := r.members[client.SessionID]
	if !ok {
		m = &roomMember{client: client}
		r.members[client.SessionID] = m
	}
	m.refs++
	refs := m.refs
	r.mu.Unlock()

	r.log.Debug("relay.room.join", "user_id", r.UserID, "session_id", client.SessionID, "refs", refs)
}

// Leave drops one reference of sessionID and reports whether it was a member.
func (r *Room) Leave(sessionID string) bool {
	if r == nil || sessionID == "" {
		return false
	}

	r.mu.Lock()
	m, ok := r.members[sessionID]
	if ok {
		m.refs--
		if m.refs <= 0 {
			delete(r.members, sessionID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.log.Debug("relay.room.leave", "user_id", r.UserID, "session_id", sessionID)
	}
	return ok
}

// Drop removes sessionID regardless of how often it joined.
func (r *Room) Drop(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()
}

// Has reports whether sessionID is a member.
func (r *Room) Has(sessionID string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// Size returns the number of member connections.
func (r *Room) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member without blocking. Members whose
// queue is full are counted as dropped; members shutting down are skipped.
func (r *Room) Broadcast(env v1.Envelope) (sent, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.members {
		select {
		case <-m.client.Done():
			continue
		default:
		}
		if m.client.Offer(env) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}
