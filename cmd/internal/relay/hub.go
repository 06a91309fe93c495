package relay

import (
	"log/slog"
	"sync"

	v1 "devmatch/contracts/realtime/v1"
)

// Hub owns the in-memory per-user rooms.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds one reference for client to userID's room, creating it on first use.
func (h *Hub) Join(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[userID]
	if !ok {
		r = NewRoom(h.log, userID)
		h.rooms[userID] = r
	}
	r.Join(client)
}

// Broadcast fans env out to userID's room. A user without live connections
// has no room and receives nothing.
func (h *Hub) Broadcast(userID string, env v1.Envelope) (sent, dropped int) {
	h.mu.Lock()
	r, ok := h.rooms[userID]
	h.mu.Unlock()
	if !ok {
		return 0, 0
	}
	return r.Broadcast(env)
}

// Leave drops one reference of sessionID from userID's room and forgets
// rooms that became empty.
func (h *Hub) Leave(userID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[userID]
	if !ok {
		return false
	}
	left := r.Leave(sessionID)
	if r.Size() == 0 {
		delete(h.rooms, userID)
	}
	return left
}

// DropSession removes sessionID from every listed room.
func (h *Hub) DropSession(sessionID string, userIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range userIDs {
		r, ok := h.rooms[id]
		if !ok {
			continue
		}
		r.Drop(sessionID)
		if r.Size() == 0 {
			delete(h.rooms, id)
		}
	}
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
