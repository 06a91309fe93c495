package app

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"devmatch/cmd/internal/chat"
)

// transcript prints a conversation incrementally: new messages as lines,
// local delivery state changes (including the acknowledged delivery time) as
// follow-up marks. Writes are serialized so
// prompts and errors from the input loop do not interleave with renders.
type transcript struct {
	mu sync.Mutex
	w  io.Writer

	f       chat.Formatter
	localID string
	now     func() time.Time

	state chat.ChannelState
	seen  map[string]string
	keys  []string
}

func newTranscript(w io.Writer, f chat.Formatter, localID string, now func() time.Time) *transcript {
	if now == nil {
		now = time.Now
	}
	return &transcript{
		w:       w,
		f:       f,
		localID: localID,
		now:     now,
		state:   chat.StateDisconnected,
		seen:    make(map[string]string),
	}
}

func messageKey(m chat.Message) string {
	if m.TempID != "" {
		return m.TempID
	}
	return m.ID
}

// printf writes a free-form line.
func (t *transcript) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, format+"\n", args...)
}

// render prints whatever changed since the previous call.
func (t *transcript) render(state chat.ChannelState, msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if state != t.state {
		_, _ = fmt.Fprintf(t.w, "-- %s --\n", state)
		t.state = state
	}

	keys := make([]string, len(msgs))
	for i, m := range msgs {
		keys[i] = messageKey(m)
	}

	// Anything that vanished means the store was replaced or a send was
	// rolled back; reprint from scratch.
	if !isPrefixSuperset(t.keys, keys) {
		if len(t.keys) > 0 {
			_, _ = fmt.Fprintln(t.w, "-- history --")
		}
		clear(t.seen)
	}

	now := t.now()
	for i, m := range msgs {
		prev, ok := t.seen[keys[i]]
		mark := t.mark(m, now)
		switch {
		case !ok:
			_, _ = fmt.Fprintln(t.w, t.line(m, now))
		case prev != mark && m.SenderID == t.localID:
			_, _ = fmt.Fprintf(t.w, "   %s %q\n", mark, truncateText(m.Text, 32))
		}
		t.seen[keys[i]] = mark
	}
	t.keys = keys
}

func (t *transcript) line(m chat.Message, now time.Time) string {
	name := m.SenderName()
	if name == "" {
		name = m.SenderID
	}
	if m.SenderID == t.localID {
		name = "you"
	}
	s := fmt.Sprintf("[%s] %s: %s", t.f.FormatAt(m.Timestamp, now), name, m.Text)
	if m.SenderID == t.localID {
		s += "  " + t.mark(m, now)
	}
	return s
}

// mark is statusMark plus the acknowledged delivery time when known.
func (t *transcript) mark(m chat.Message, now time.Time) string {
	st := m.Status()
	if st == chat.StatusDelivered && !m.DeliveredAt.IsZero() {
		return "(delivered " + t.f.FormatAt(m.DeliveredAt, now) + ")"
	}
	return statusMark(st)
}

func statusMark(s chat.Status) string {
	switch s {
	case chat.StatusPending:
		return "(sending)"
	case chat.StatusDelivered:
		return "(delivered)"
	case chat.StatusRead:
		return "(read)"
	default:
		return "(failed)"
	}
}

// isPrefixSuperset reports whether next starts with every key of prev, in order.
func isPrefixSuperset(prev, next []string) bool {
	if len(next) < len(prev) {
		return false
	}
	for i := range prev {
		if prev[i] != next[i] {
			return false
		}
	}
	return true
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + ellipsis
}
