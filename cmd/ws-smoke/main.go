// Package main provides a CI-friendly end-to-end smoke test for the devmatch relay.
//
// It validates:
//   - dev login and cookie-authenticated handshake + subprotocol selection
//   - per-user room join
//   - REST persist -> sendMessage -> messageDelivered on the sender
//   - newMessage fanout to the counterpart's room
//   - history fetch over REST
//   - messageError for an announcement that was never persisted
//   - messageError for a foreign senderId
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"devmatch/cmd/internal/api"
	"devmatch/cmd/internal/realtime"
	apiv1 "devmatch/contracts/api/v1"
	v1 "devmatch/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	api    *api.Client
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("api", "http://127.0.0.1:8080", "REST base URL")
		wsURL   = flag.String("url", "", "WebSocket URL (default: derived from -api)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userA   = flag.String("a", "", "user id of A (default: random)")
		userB   = flag.String("b", "", "user id of B (default: random)")
		text    = flag.String("text", "hello devmatch 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if strings.TrimSpace(*wsURL) == "" {
		*wsURL = deriveWSURL(*baseURL)
	}
	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	if *userA == "" {
		*userA = "smoke-a-" + suffix
	}
	if *userB == "" {
		*userB = "smoke-b-" + suffix
	}

	root := context.Background()

	a := mustLogin(root, "A", *baseURL, apiv1.User{ID: *userA, FirstName: "Smoke", LastName: "A"}, *timeout)
	b := mustLogin(root, "B", *baseURL, apiv1.User{ID: *userB, FirstName: "Smoke", LastName: "B"}, *timeout)

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustJoin(root, a, *timeout)
	mustJoin(root, b, *timeout)

	persisted := mustPersist(root, a, b.userID, *text, *timeout)

	mustAnnounce(root, a, a.userID, b.userID, *text, *timeout)
	mustAssertDelivered(root, a, persisted, *timeout)
	mustAssertNew(root, b, a.userID, persisted, *text, *timeout)

	_ = drainOptionalNew(root, a, 750*time.Millisecond)

	mustHistoryContains(root, b, a.userID, persisted, *text, *timeout)

	// Announcing text that was never persisted must be refused.
	mustAnnounce(root, a, a.userID, b.userID, *text+" (unsaved)", *timeout)
	mustAssertMessageError(root, a, "message not found", *timeout)

	// Claiming someone else's identity must be refused.
	mustAnnounce(root, a, b.userID, a.userID, *text, *timeout)
	mustAssertMessageError(root, a, "sender mismatch", *timeout)

	mustAssertNoType(root, b, v1.TypeNewMessage, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s message_id=%s\n", a.userID, b.userID, persisted.ID)
}

func deriveWSURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustLogin(parent context.Context, name, baseURL string, u apiv1.User, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	c, err := api.New(api.Options{BaseURL: baseURL, Timeout: stepTimeout})
	if err != nil {
		fatalf("api client %s: %v", name, err)
	}
	got, err := c.Login(ctx, u)
	if err != nil {
		fatalf("login %s: %v", name, err)
	}
	if got.ID != u.ID {
		fatalf("login %s: id mismatch: got=%q want=%q", name, got.ID, u.ID)
	}
	if c.SessionToken() == "" {
		fatalf("login %s: no session cookie", name)
	}

	return &smokeClient{
		name:   name,
		userID: u.ID,
		api:    c,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Cookie", (&http.Cookie{Name: api.SessionCookieName, Value: c.api.SessionToken()}).String())

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}

	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.startReadLoop()
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			env, err := realtime.ReadEnvelope(context.Background(), c.conn)
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustJoin joins c's own room. The relay does not echo joins, so a probe
// envelope the relay rejects is used as an ordering barrier.
func mustJoin(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	mustEmit(parent, c, v1.TypeJoinRoom, v1.JoinRoomPayload{UserID: c.userID}, stepTimeout)
	mustEmit(parent, c, v1.TypeNewMessage, apiv1.Chat{}, stepTimeout)

	env := c.mustReadUntilType(parent, v1.TypeError, stepTimeout, nil)

	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal barrier payload (%s): %v", c.name, err)
	}
	if p.Code != "unsupported" {
		fatalf("join failed (%s): code=%q msg=%q", c.name, p.Code, p.Message)
	}
}

func mustPersist(parent context.Context, c *smokeClient, targetID, text string, stepTimeout time.Duration) apiv1.ChatMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	chat, err := c.api.SendMessage(ctx, targetID, text)
	if err != nil {
		fatalf("persist (%s): %v", c.name, err)
	}
	last, ok := chat.Last()
	if !ok {
		fatalf("persist (%s): empty chat returned", c.name)
	}
	if last.Text != text || last.Sender.ID != c.userID {
		fatalf("persist (%s): unexpected last message: %+v", c.name, last)
	}
	if strings.TrimSpace(last.ID) == "" || last.CreatedAt == nil {
		fatalf("persist (%s): message missing id/createdAt", c.name)
	}
	return last
}

func mustAnnounce(parent context.Context, c *smokeClient, senderID, targetID, text string, stepTimeout time.Duration) {
	mustEmit(parent, c, v1.TypeSendMessage, v1.SendMessagePayload{
		SenderID:     senderID,
		TargetUserID: targetID,
		Text:         text,
	}, stepTimeout)
}

func mustAssertDelivered(parent context.Context, c *smokeClient, want apiv1.ChatMessage, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeNewMessage: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageDelivered, stepTimeout, skip)

	var p v1.MessageDeliveredPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal messageDelivered payload (%s): %v", c.name, err)
	}
	if !p.Success {
		fatalf("messageDelivered not successful (%s)", c.name)
	}
	if p.MessageID != want.ID {
		fatalf("messageDelivered id mismatch (%s): got=%q want=%q", c.name, p.MessageID, want.ID)
	}
	if p.Timestamp.IsZero() {
		fatalf("messageDelivered timestamp missing/zero (%s)", c.name)
	}
}

func mustAssertNew(parent context.Context, c *smokeClient, senderID string, want apiv1.ChatMessage, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeNewMessage, stepTimeout, nil)

	var p v1.NewMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal newMessage payload (%s): %v", c.name, err)
	}

	last, ok := p.Last()
	if !ok {
		fatalf("newMessage without messages (%s)", c.name)
	}
	if last.ID != want.ID {
		fatalf("newMessage id mismatch (%s): got=%q want=%q", c.name, last.ID, want.ID)
	}
	if last.Sender.ID != senderID {
		fatalf("newMessage sender mismatch (%s): got=%q want=%q", c.name, last.Sender.ID, senderID)
	}
	if last.Text != text {
		fatalf("newMessage text mismatch (%s): got=%q want=%q", c.name, last.Text, text)
	}
	if len(p.Participants) != 2 {
		fatalf("newMessage participants (%s): got=%d want=2", c.name, len(p.Participants))
	}
}

func mustAssertMessageError(parent context.Context, c *smokeClient, wantErr string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeNewMessage: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessageError, stepTimeout, skip)

	var p v1.MessageErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal messageError payload (%s): %v", c.name, err)
	}
	if p.Error != wantErr {
		fatalf("messageError mismatch (%s): got=%q want=%q", c.name, p.Error, wantErr)
	}
}

func mustHistoryContains(parent context.Context, c *smokeClient, counterpartID string, want apiv1.ChatMessage, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	chat, err := c.api.GetChat(ctx, counterpartID)
	if err != nil {
		fatalf("history (%s): %v", c.name, err)
	}

	for _, m := range chat.Messages {
		if m.ID == want.ID && m.Text == text && m.Sender.ID == counterpartID && m.CreatedAt != nil {
			return
		}
	}
	fatalf("history missing expected message (%s)", c.name)
}

func drainOptionalNew(parent context.Context, c *smokeClient, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-c.errCh:
			if err != nil {
				return err
			}
			return errors.New("connection closed while draining")
		case env, ok := <-c.inbox:
			if !ok {
				return errors.New("connection closed while draining")
			}
			if env.Type == v1.TypeNewMessage {
				return nil
			}
		}
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustEmit(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	env, err := realtime.EncodeEnvelope(typ, payload, time.Now().UTC())
	if err != nil {
		fatalf("encode %s (%s): %v", typ, c.name, err)
	}
	if err := realtime.WriteEnvelope(parent, c.conn, env, stepTimeout); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
}

func closeWS(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
