package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rtv1 "devmatch/contracts/realtime/v1"
)

const leaveRoomTimeout = 2 * time.Second

// ChannelState is the realtime binding state of one conversation.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Channel is the conversation-scoped realtime layer: room membership and the
// newMessage/messageDelivered/messageError listeners, bound to one
// (local user, counterpart) pair. It is never reused across conversations.
type Channel struct {
	log       *slog.Logger
	connector Connector
	store     *Store
	composer  *Composer
	now       func() time.Time

	localUserID   string
	counterpartID string

	mu      sync.Mutex
	state   ChannelState
	binding *Binding

	onState func(ChannelState)
}

func newChannel(log *slog.Logger, connector Connector, store *Store, composer *Composer, localUserID, counterpartID string, now func() time.Time, onState func(ChannelState)) *Channel {
	return &Channel{
		log:           log,
		connector:     connector,
		store:         store,
		composer:      composer,
		now:           now,
		localUserID:   localUserID,
		counterpartID: counterpartID,
		onState:       onState,
	}
}

// State returns the current binding state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the binding can emit.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.log.Debug("chat.channel.state", "counterpart_id", c.counterpartID, "state", s.String())
		if c.onState != nil {
			c.onState(s)
		}
	}
}

// Open acquires the transport, attaches the three listeners and joins the
// local user's room. Opening an already open channel is a no-op.
func (c *Channel) Open(ctx context.Context) error {
	if c.localUserID == "" {
		return ErrNotConnected
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(StateConnecting)
	}

	lease, err := c.connector.Acquire(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("acquire transport: %w", err)
	}

	b := &Binding{
		lease:       lease,
		localUserID: c.localUserID,
		log:         c.log,
		done:        make(chan struct{}),
	}
	b.offs = append(b.offs,
		lease.On(rtv1.TypeNewMessage, c.handleNewMessage),
		lease.On(rtv1.TypeMessageDelivered, c.handleDelivered),
		lease.On(rtv1.TypeMessageError, c.handleError),
	)

	if err := lease.Emit(ctx, rtv1.TypeJoinRoom, rtv1.JoinRoomPayload{UserID: c.localUserID}); err != nil {
		b.dispose(false)
		c.setState(StateDisconnected)
		return fmt.Errorf("join room: %w", err)
	}

	c.mu.Lock()
	c.binding = b
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.watch(b, lease.Done())

	c.log.Info("chat.channel.open", "user_id", c.localUserID, "counterpart_id", c.counterpartID)
	return nil
}

// watch moves the channel to Disconnected when the transport drops under a live binding.
func (c *Channel) watch(b *Binding, transportDone <-chan struct{}) {
	select {
	case <-b.done:
		return
	case <-transportDone:
	}

	c.mu.Lock()
	current := c.binding == b
	if current {
		c.binding = nil
	}
	c.mu.Unlock()

	if current {
		c.log.Warn("chat.channel.lost", "counterpart_id", c.counterpartID)
		b.dispose(false)
		c.setState(StateDisconnected)
	}
}

// Emit sends an event over the bound transport.
func (c *Channel) Emit(ctx context.Context, eventType string, payload any) error {
	c.mu.Lock()
	b := c.binding
	c.mu.Unlock()

	if b == nil {
		return ErrNotConnected
	}
	return b.lease.Emit(ctx, eventType, payload)
}

// Close disposes the binding. It is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	b := c.binding
	c.binding = nil
	c.mu.Unlock()

	if b != nil {
		b.Close()
	}
	c.setState(StateDisconnected)
}

// ---- inbound handlers ----

func (c *Channel) handleNewMessage(env rtv1.Envelope) {
	var chat rtv1.NewMessagePayload
	if err := env.Decode(&chat); err != nil {
		c.log.Warn("chat.channel.bad_payload", "type", env.Type, "err", err)
		return
	}

	latest, ok := chat.Last()
	if !ok {
		return
	}

	// Own messages are already in the store through the optimistic path.
	if latest.Sender.ID == c.localUserID {
		return
	}
	if latest.Sender.ID != c.counterpartID {
		c.log.Debug("chat.channel.foreign_message", "sender_id", latest.Sender.ID, "counterpart_id", c.counterpartID)
		return
	}

	msg := fromWire(latest, c.now())
	msg.IsRead = false

	if _, added := c.store.AppendIfNew(msg); !added {
		c.log.Debug("chat.channel.duplicate", "message_id", msg.ID)
	}
}

func (c *Channel) handleDelivered(env rtv1.Envelope) {
	var p rtv1.MessageDeliveredPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("chat.channel.bad_payload", "type", env.Type, "err", err)
		c.composer.finishSend()
		return
	}

	if p.Success && p.MessageID != "" {
		deliveredAt := p.Timestamp
		if deliveredAt.IsZero() {
			deliveredAt = c.now()
		}
		c.store.UpsertByTempOrID(p.MessageID, Patch{
			IsDelivered: ptr(true),
			DeliveredAt: ptr(deliveredAt),
		})
	}
	c.composer.finishSend()
}

func (c *Channel) handleError(env rtv1.Envelope) {
	var p rtv1.MessageErrorPayload
	if err := env.Decode(&p); err != nil {
		c.log.Warn("chat.channel.bad_payload", "type", env.Type, "err", err)
	}

	c.log.Error("chat.send.rejected", "err", p.Error, "target_user_id", p.TargetUserID)

	c.store.RemoveAllPending()
	c.composer.finishSend()

	if p.OriginalText != "" && p.TargetUserID == c.counterpartID {
		c.composer.restoreDraft(p.OriginalText)
	}
}

// Binding is the scoped subscription of one conversation on a shared
// transport. Close removes every listener, leaves the room and releases the
// transport lease exactly once.
type Binding struct {
	lease       Lease
	offs        []func()
	localUserID string
	log         *slog.Logger

	once sync.Once
	done chan struct{}
}

// Close disposes the binding. It is idempotent.
func (b *Binding) Close() {
	b.dispose(true)
}

func (b *Binding) dispose(leave bool) {
	if b == nil {
		return
	}
	b.once.Do(func() {
		for _, off := range b.offs {
			if off != nil {
				off()
			}
		}
		b.offs = nil

		if leave {
			ctx, cancel := context.WithTimeout(context.Background(), leaveRoomTimeout)
			if err := b.lease.Emit(ctx, rtv1.TypeLeaveRoom, rtv1.LeaveRoomPayload{UserID: b.localUserID}); err != nil {
				b.log.Debug("chat.channel.leave.fail", "err", err)
			}
			cancel()
		}

		b.lease.Release()
		close(b.done)
	})
}
