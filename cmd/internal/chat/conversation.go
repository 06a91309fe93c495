package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Config wires a Conversation.
type Config struct {
	LocalUser     LocalUser
	CounterpartID string

	API       API
	Connector Connector
	Logger    *slog.Logger

	// AckTimeout defaults to DefaultAckTimeout; negative disables the timeout.
	AckTimeout time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Conversation is the view-scoped owner of one message Store, the compose
// state, the counterpart header and the realtime binding. It is discarded on
// Close; nothing it owns outlives it.
type Conversation struct {
	log   *slog.Logger
	local LocalUser
	peer  string

	store    *Store
	composer *Composer
	channel  *Channel
	history  *HistoryLoader
	sender   *Sender

	mu     sync.RWMutex
	header Header
	closed bool

	updates chan struct{}
}

// NewConversation validates cfg and constructs a closed-over conversation.
// Nothing touches the network until Open.
func NewConversation(cfg Config) (*Conversation, error) {
	peer := strings.TrimSpace(cfg.CounterpartID)
	if peer == "" {
		return nil, ErrMissingCounterpart
	}
	if cfg.API == nil {
		return nil, errors.New("chat: nil API")
	}
	if cfg.Connector == nil {
		return nil, errors.New("chat: nil connector")
	}

	log := cfg.Logger
	if log == nil {
		log = discardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ackTimeout := cfg.AckTimeout
	if ackTimeout == 0 {
		ackTimeout = DefaultAckTimeout
	}

	c := &Conversation{
		log:     log.With("counterpart_id", peer),
		local:   cfg.LocalUser,
		peer:    peer,
		updates: make(chan struct{}, 1),
	}

	c.store = NewStore(c.notify)
	c.composer = NewComposer(c.notify)
	c.channel = newChannel(c.log, cfg.Connector, c.store, c.composer, cfg.LocalUser.ID, peer, now, func(ChannelState) { c.notify() })
	c.history = NewHistoryLoader(cfg.API, c.log, now)
	c.sender = &Sender{
		api:           cfg.API,
		channel:       c.channel,
		store:         c.store,
		composer:      c.composer,
		log:           c.log,
		now:           now,
		local:         cfg.LocalUser,
		counterpartID: peer,
		ackTimeout:    ackTimeout,
	}

	return c, nil
}

// Open loads history and profile, then binds the realtime channel.
//
// History is applied before the channel attaches so the wholesale replace
// never races inbound events. Fetch failures are logged and leave the store
// empty; only a channel failure is returned. Without a local user id the
// conversation stays read-only (Disconnected).
func (c *Conversation) Open(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	_ = c.history.Load(ctx, c.local.ID, c.peer, c)

	if c.local.ID == "" {
		c.log.Warn("chat.open.no_local_user")
		return nil
	}

	if err := c.channel.Open(ctx); err != nil {
		c.log.Error("chat.channel.open.fail", "err", err)
		return err
	}

	// Closed while binding: release what was just acquired.
	if c.isClosed() {
		c.channel.Close()
		return ErrClosed
	}
	return nil
}

// Reload re-runs both fetches. Unconfirmed local sends survive the reload.
func (c *Conversation) Reload(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.history.Load(ctx, c.local.ID, c.peer, c)
}

// Close tears down the realtime binding synchronously. In-flight fetches are
// not cancelled; their results are dropped. Close is idempotent.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.channel.Close()
	c.composer.stop()
	c.log.Info("chat.close")
}

// Send sends the current draft. See Sender.Send.
func (c *Conversation) Send(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	return c.sender.Send(ctx)
}

// HistoryLoaded implements HistorySink. The server list wins; entries it
// does not hold yet (pending sends, messages that arrived over realtime while
// a reload was fetching) are kept after it.
func (c *Conversation) HistoryLoaded(msgs []Message) {
	if c.isClosed() {
		return
	}
	if kept := c.store.Rebase(msgs); kept > 0 {
		c.log.Debug("chat.history.rebase", "kept", kept)
	}
}

// HeaderResolved implements HistorySink.
func (c *Conversation) HeaderResolved(h Header) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.header = MergeHeader(c.header, h)
	c.mu.Unlock()

	c.notify()
}

// Messages returns the store contents in display order.
func (c *Conversation) Messages() []Message { return c.store.Snapshot() }

// Header returns the merged counterpart header.
func (c *Conversation) Header() Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header
}

// Title returns the header line with message-derived fallbacks.
func (c *Conversation) Title() string {
	return c.Header().Title(c.store.Snapshot(), c.local.ID)
}

// Initial returns the counterpart's avatar letter.
func (c *Conversation) Initial() string {
	return c.Header().Initial(c.store.Snapshot(), c.local.ID)
}

// Draft returns the compose text.
func (c *Conversation) Draft() string { return c.composer.Draft() }

// SetDraft replaces the compose text.
func (c *Conversation) SetDraft(s string) { c.composer.SetDraft(s) }

// Sending reports whether a send is in flight.
func (c *Conversation) Sending() bool { return c.composer.Sending() }

// State returns the realtime binding state.
func (c *Conversation) State() ChannelState { return c.channel.State() }

// LocalUser returns the user this conversation sends as.
func (c *Conversation) LocalUser() LocalUser { return c.local }

// CounterpartID returns the other participant's id.
func (c *Conversation) CounterpartID() string { return c.peer }

// Updates signals (coalesced) whenever messages, draft, sending flag, header
// or channel state change.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Conversation) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
