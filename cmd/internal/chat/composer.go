package chat

import (
	"strings"
	"sync"
	"time"
)

// Composer holds the compose input and the single in-flight send flag.
type Composer struct {
	mu       sync.Mutex
	draft    string
	sending  bool
	attempt  uint64
	ackTimer *time.Timer

	onChange func()
}

// NewComposer constructs an empty Composer. onChange may be nil.
func NewComposer(onChange func()) *Composer {
	return &Composer{onChange: onChange}
}

func (c *Composer) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}

// Draft returns the current compose text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the compose text.
func (c *Composer) SetDraft(s string) {
	c.mu.Lock()
	c.draft = s
	c.mu.Unlock()
	c.changed()
}

// Sending reports whether a send is in flight.
func (c *Composer) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// begin runs the send guard and, when it passes, marks a send in flight and
// clears the draft. It returns the trimmed text to send and the attempt
// number that later timers must be scoped to.
func (c *Composer) begin(connected func() bool) (string, uint64, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.draft)
	switch {
	case text == "":
		c.mu.Unlock()
		return "", 0, ErrEmptyMessage
	case c.sending:
		c.mu.Unlock()
		return "", 0, ErrSendInFlight
	case connected != nil && !connected():
		c.mu.Unlock()
		return "", 0, ErrNotConnected
	}
	c.sending = true
	c.attempt++
	attempt := c.attempt
	c.draft = ""
	c.mu.Unlock()

	c.changed()
	return text, attempt, nil
}

// finishSend clears the in-flight flag.
func (c *Composer) finishSend() {
	c.mu.Lock()
	was := c.sending
	c.sending = false
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.mu.Unlock()

	if was {
		c.changed()
	}
}

// restoreDraft puts text back into the compose input.
func (c *Composer) restoreDraft(text string) {
	c.SetDraft(text)
}

// awaitAck clears the in-flight flag of attempt after d unless an
// acknowledgement does first. It does nothing once attempt has finished.
func (c *Composer) awaitAck(attempt uint64, d time.Duration) {
	if d <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.sending || c.attempt != attempt {
		return
	}
	if c.ackTimer != nil {
		c.ackTimer.Stop()
	}
	c.ackTimer = time.AfterFunc(d, func() { c.expire(attempt) })
}

// expire clears the in-flight flag only if it still belongs to attempt.
func (c *Composer) expire(attempt uint64) {
	c.mu.Lock()
	if !c.sending || c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	c.sending = false
	c.ackTimer = nil
	c.mu.Unlock()

	c.changed()
}

// stop cancels a pending acknowledgement timer.
func (c *Composer) stop() {
	c.mu.Lock()
	if c.ackTimer != nil {
		c.ackTimer.Stop()
		c.ackTimer = nil
	}
	c.mu.Unlock()
}
