package app

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"devmatch/cmd/internal/chat"
)

func TestTranscript_IncrementalRender(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	tr := newTranscript(&buf, chat.NewFormatter("en-US"), "alice", func() time.Time { return now })

	bob := chat.Message{ID: "m1", SenderID: "bob", SenderFirstName: "Bob", Text: "hi", Timestamp: now, IsDelivered: true}
	pending := chat.Message{ID: "tmp", TempID: "tmp", SenderID: "alice", Text: "hello", Timestamp: now, IsPending: true}

	tr.render(chat.StateConnected, []chat.Message{bob})
	tr.render(chat.StateConnected, []chat.Message{bob, pending})

	delivered := pending
	delivered.ID = "m2"
	delivered.IsPending = false
	delivered.IsDelivered = true
	tr.render(chat.StateConnected, []chat.Message{bob, delivered})

	acked := delivered
	acked.DeliveredAt = now.Add(-5 * time.Minute)
	tr.render(chat.StateConnected, []chat.Message{bob, acked})
	tr.render(chat.StateConnected, []chat.Message{bob, acked})

	out := buf.String()
	for _, want := range []string{"-- connected --", "Bob: hi", "you: hello  (sending)", `(delivered) "hello"`, `(delivered 5m ago) "hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "Bob: hi") != 1 {
		t.Fatalf("message printed more than once:\n%s", out)
	}
	if strings.Count(out, "(delivered 5m ago)") != 1 {
		t.Fatalf("delivery time printed more than once:\n%s", out)
	}
}

func TestTranscript_RollbackReprints(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	tr := newTranscript(&buf, chat.NewFormatter("en-US"), "alice", func() time.Time { return now })

	a := chat.Message{ID: "m1", SenderID: "bob", Text: "one", Timestamp: now, IsDelivered: true}
	b := chat.Message{ID: "tmp", TempID: "tmp", SenderID: "alice", Text: "two", Timestamp: now, IsPending: true}

	tr.render(chat.StateConnected, []chat.Message{a, b})
	tr.render(chat.StateConnected, []chat.Message{a})

	out := buf.String()
	if !strings.Contains(out, "-- history --") {
		t.Fatalf("expected reprint marker:\n%s", out)
	}
	if strings.Count(out, "bob: one") != 2 {
		t.Fatalf("expected history reprint:\n%s", out)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateText("ünïcödé text", 5); got != "ünïc"+ellipsis {
		t.Fatalf("got %q", got)
	}
}
