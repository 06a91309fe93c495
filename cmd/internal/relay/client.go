package relay

import (
	"sync"
	"sync/atomic"

	v1 "devmatch/contracts/realtime/v1"
)

const defaultSendQueue = 64

// closedCh stands in for the done channel of a nil Client.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Client is one authenticated websocket connection owned by UserID.
//
// Send is drained by the connection writer and never closed: room broadcasts
// may still reach a client that is being torn down.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done    chan struct{}
	stop    sync.Once
	dropped atomic.Int64
}

// NewClient allocates a client whose outbound queue holds sendQueueSize
// envelopes (64 when sendQueueSize <= 0).
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueue
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		return closedCh
	}
	return c.done
}

// Close marks the client as stopping. Safe to call repeatedly.
func (c *Client) Close() {
	if c != nil {
		c.stop.Do(func() { close(c.done) })
	}
}

func (c *Client) closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Offer enqueues env without blocking. It reports false when the client is
// stopping or its queue is full; full-queue drops are counted.
func (c *Client) Offer(env v1.Envelope) bool {
	if c == nil || c.closed() {
		return false
	}
	select {
	case c.Send <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped returns how many envelopes Offer discarded on a full queue.
func (c *Client) Dropped() int64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}
