package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Setenv("DEVMATCH_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("user_id", "alice").
		WithGroup("ws").
		Info("relay.ws.accept", "session_id", "s1", slog.Group("peer", "remote", "127.0.0.1:5000"), "err", errors.New("boom here"))

	out := buf.String()
	for _, want := range []string{
		"[INFO] relay.ws.accept",
		"user_id=alice",
		"ws.session_id=s1",
		"ws.peer.remote=127.0.0.1:5000",
		`ws.err="boom here"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if stripANSI(out) != out {
		t.Fatalf("color disabled but output has escapes: %q", out)
	}
}

func TestPrettyHandler_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("chat.open")
	log.Warn("chat.send.emit.fail")

	out := buf.String()
	if strings.Contains(out, "chat.open") {
		t.Fatalf("info should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] chat.send.emit.fail") {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestPrettyHandler_HTTPKeys(t *testing.T) {
	t.Setenv("DEVMATCH_LOG_WIDTH", "400")

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Info("http.request", "method", "post", "status", 201, "status_class", "2xx", "duration_ms", 12)

	out := stripANSI(buf.String())
	for _, want := range []string{"method=POST", "status=201", "class=2xx", "duration=12ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if !strings.Contains(buf.String(), ansiGreen+"201"+ansiReset) {
		t.Fatalf("status should be colored: %q", buf.String())
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	if got := stripANSI(in); got != "INFO plain ERR" {
		t.Fatalf("stripANSI()=%q", got)
	}
}

func TestWrapSegments(t *testing.T) {
	t.Parallel()

	s1 := strings.Repeat("a", 20)
	s2 := strings.Repeat("b", 20)
	s3 := strings.Repeat("c", 20)

	lines := wrapSegments([]string{s1, "", s2, s3}, " ", 45, "  ")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d (%v)", len(lines), lines)
	}
	if lines[0] != s1+" "+s2 || lines[1] != "  "+s3 {
		t.Fatalf("lines=%q", lines)
	}

	long := wrapSegments([]string{strings.Repeat("x", 80)}, " ", 50, "  ")
	if len(long) != 1 || visualLen(long[0]) > 50 || !strings.HasSuffix(long[0], ellipsis) {
		t.Fatalf("long segment not truncated: %q", long)
	}
}

func TestTerminalWidth(t *testing.T) {
	h := &prettyHandler{}

	cases := []struct {
		override, columns string
		want              int
	}{
		{override: "88", columns: "132", want: 88},
		{override: "", columns: "72", want: 72},
		{override: "10", columns: "20", want: defaultLogWidth},
		{override: "wide", columns: "", want: defaultLogWidth},
	}
	for _, tc := range cases {
		t.Setenv("DEVMATCH_LOG_WIDTH", tc.override)
		t.Setenv("COLUMNS", tc.columns)
		if got := h.terminalWidth(); got != tc.want {
			t.Fatalf("override=%q columns=%q: terminalWidth()=%d want %d", tc.override, tc.columns, got, tc.want)
		}
	}
}
