package relay

import (
	"testing"
	"time"

	v1 "devmatch/contracts/realtime/v1"

	"github.com/stretchr/testify/assert"
)

func TestRoom_RefCountedMembership(t *testing.T) {
	r := NewRoom(nil, "u1")
	c := NewClient("u1", "s1", 4)

	r.Join(c)
	r.Join(c)
	assert.Equal(t, 1, r.Size())

	assert.True(t, r.Leave("s1"))
	assert.True(t, r.Has("s1"), "one reference left")

	assert.True(t, r.Leave("s1"))
	assert.False(t, r.Has("s1"))
	assert.False(t, r.Leave("s1"))
}

func TestRoom_BroadcastDropsUnderBackpressure(t *testing.T) {
	r := NewRoom(nil, "u1")
	fast := NewClient("u1", "fast", 4)
	slow := NewClient("u1", "slow", 1)
	gone := NewClient("u1", "gone", 4)
	r.Join(fast)
	r.Join(slow)
	r.Join(gone)
	gone.Close()

	env := v1.Envelope{V: v1.Version, Type: v1.TypeNewMessage, TS: time.Now()}

	sent, dropped := r.Broadcast(env)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, dropped)

	sent, dropped = r.Broadcast(env)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, dropped)

	assert.Len(t, fast.Send, 2)
	assert.Len(t, slow.Send, 1)
	assert.Empty(t, gone.Send)
	assert.EqualValues(t, 1, slow.Dropped())
	assert.Zero(t, gone.Dropped())
}

func TestHub_ForgetsEmptyRooms(t *testing.T) {
	h := NewHub(nil)
	c := NewClient("u1", "s1", 4)

	h.Join("u1", c)
	assert.Equal(t, 1, h.Rooms())

	sent, _ := h.Broadcast("u1", v1.Envelope{Type: v1.TypeNewMessage})
	assert.Equal(t, 1, sent)

	assert.True(t, h.Leave("u1", "s1"))
	assert.Equal(t, 0, h.Rooms())

	sent, _ = h.Broadcast("u1", v1.Envelope{Type: v1.TypeNewMessage})
	assert.Equal(t, 0, sent)

	h.Join("u1", c)
	h.Join("u1", c)
	h.DropSession("s1", []string{"u1", "u2"})
	assert.Equal(t, 0, h.Rooms())
}
