package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devmatch/cmd/internal/api"
	apiv1 "devmatch/contracts/api/v1"
)

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := Config{
		LogLevel:         "error",
		WSOriginRequired: true,
		WSAllowedOrigins: []string{"http://127.0.0.1"},
	}
	a, err := New(cfg, NewLoggerTo(io.Discard, "error", "json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestAppHandler_HealthAndMetrics(t *testing.T) {
	srv := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status=%d", path, res.StatusCode)
		}
		if res.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("GET %s missing security headers", path)
		}
	}
}

func TestRunChat_LoginAndSend(t *testing.T) {
	srv := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bob, err := api.New(api.Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bob.Login(ctx, apiv1.User{ID: "bob", FirstName: "Bob", LastName: "Builder"}); err != nil {
		t.Fatalf("bob login: %v", err)
	}

	userPath := filepath.Join(t.TempDir(), "user.json")
	cfg := ChatConfig{
		APIURL:     srv.URL,
		WSURL:      WSURLFor(srv.URL),
		Origin:     srv.URL,
		UserFile:   userPath,
		Locale:     "en-US",
		AckTimeout: 2 * time.Second,
	}

	var out bytes.Buffer
	err = RunChat(ctx, cfg, ChatOptions{
		CounterpartID: "bob",
		Login:         &apiv1.User{ID: "alice", FirstName: "Alice"},
		In:            strings.NewReader("hello bob\n/quit\n"),
		Out:           &out,
	}, NewLoggerTo(io.Discard, "error", "json"))
	if err != nil {
		t.Fatalf("RunChat: %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "== [B] Bob Builder ==") {
		t.Fatalf("missing header in:\n%s", out.String())
	}

	chat, err := bob.GetChat(ctx, "alice")
	if err != nil {
		t.Fatalf("bob GetChat: %v", err)
	}
	last, ok := chat.Last()
	if !ok || last.Text != "hello bob" || last.Sender.ID != "alice" {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	uf, err := loadUserFile(userPath)
	if err != nil {
		t.Fatal(err)
	}
	if uf.User.ID != "alice" || uf.SessionToken == "" {
		t.Fatalf("user file not persisted: %+v", uf)
	}
}

func TestRunChat_StoredSession(t *testing.T) {
	srv := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userPath := filepath.Join(t.TempDir(), "user.json")
	cfg := ChatConfig{
		APIURL:   srv.URL,
		WSURL:    WSURLFor(srv.URL),
		Origin:   srv.URL,
		UserFile: userPath,
	}

	first := ChatOptions{
		CounterpartID: "bob",
		Login:         &apiv1.User{ID: "alice"},
		In:            strings.NewReader(""),
		Out:           io.Discard,
	}
	if err := RunChat(ctx, cfg, first, NewLoggerTo(io.Discard, "error", "json")); err != nil {
		t.Fatalf("first RunChat: %v", err)
	}

	// Second run has no login: it must reuse the stored session.
	second := ChatOptions{CounterpartID: "bob", In: strings.NewReader(""), Out: io.Discard}
	if err := RunChat(ctx, cfg, second, NewLoggerTo(io.Discard, "error", "json")); err != nil {
		t.Fatalf("second RunChat: %v", err)
	}

	noSession := cfg
	noSession.UserFile = filepath.Join(t.TempDir(), "none.json")
	if err := RunChat(ctx, noSession, second, NewLoggerTo(io.Discard, "error", "json")); err == nil {
		t.Fatalf("expected not-logged-in error")
	}
}

func TestRunChat_RejectsSelf(t *testing.T) {
	srv := newTestApp(t)
	ctx := context.Background()

	cfg := ChatConfig{APIURL: srv.URL, WSURL: WSURLFor(srv.URL), Origin: srv.URL}
	err := RunChat(ctx, cfg, ChatOptions{
		CounterpartID: "alice",
		Login:         &apiv1.User{ID: "alice"},
		In:            strings.NewReader(""),
		Out:           io.Discard,
	}, NewLoggerTo(io.Discard, "error", "json"))
	if err == nil {
		t.Fatalf("expected self-chat error")
	}
}
