package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"devmatch/cmd/internal/realtime"
	v1 "devmatch/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// DefaultAllowedOrigins is the dev allowlist (localhost only).
var DefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// GatewayConfig tunes the websocket gateway. Zero values select defaults.
type GatewayConfig struct {
	// DevInsecure disables the websocket library's own origin check.
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout time.Duration
	// ReadIdleTimeout closes connections that send no envelope for this long.
	// Zero disables it; heartbeats still detect dead peers.
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns the secure defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    slices.Clone(DefaultAllowedOrigins),
		WriteTimeout:      wsDefaultWriteTimeout,
		SendQueueSize:     wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Gateway is the websocket entrypoint of the relay.
//
// It enforces origin policy, cookie authentication, subprotocol selection,
// rate limits and heartbeats, and routes validated envelopes to the Hub.
// Messages are persisted through REST; sendMessage only announces them.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	store    Store
	sessions *Sessions
	metrics  *Metrics
	cfg      GatewayConfig

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewGateway constructs a gateway. hub falls back to a fresh Hub; store and
// sessions are required.
func NewGateway(log *slog.Logger, hub *Hub, store Store, sessions *Sessions, metrics *Metrics, cfg GatewayConfig) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("relay: nil store")
	}
	if sessions == nil {
		return nil, errors.New("relay: nil sessions")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if hub == nil {
		hub = NewHub(log)
	}

	cfg = cfg.withDefaults()
	return &Gateway{
		log:      log,
		hub:      hub,
		store:    store,
		sessions: sessions,
		metrics:  metrics,
		cfg:      cfg,

		// websocket.Accept enforces its own origin policy; derive its patterns
		// from the allowlist so both layers agree.
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}, nil
}

// Hub returns the room registry used by this gateway.
func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and runs one realtime connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("relay.ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	userID, err := g.sessions.Resolve(r.Context(), sessionToken(r), now)
	if err != nil {
		g.log.Info("relay.ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("relay.ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("relay.ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(now)
	if err != nil {
		g.log.Error("relay.ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(userID, sessionID, g.cfg.SendQueueSize)
	log := g.log.With("session_id", sessionID, "user_id", userID)

	g.metrics.ConnOpened()
	defer g.metrics.ConnClosed()
	log.Info("relay.ws.open")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Room removal happens before client.Close so broadcasters never see a
	// half-torn-down member.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.DropSession(sessionID, []string{userID})
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("relay.ws.close", "code", code, "reason", reason, "dropped", client.Dropped())
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := realtime.WriteEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("relay.ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("relay.ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := g.read(ctx, conn)

		if err != nil {
			switch realtime.ClassifyReadErr(err) {
			case realtime.ReadErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case realtime.ReadErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case realtime.ReadErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case realtime.ReadErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				log.Info("relay.ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}
		g.metrics.Event(env.Type)

		switch env.Type {
		case v1.TypeJoinRoom:
			if err := g.onJoin(client, env); err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
			}

		case v1.TypeLeaveRoom:
			if err := g.onLeave(client, env); err != nil {
				g.trySendError(ctx, client, "leave_failed", err.Error())
			}

		case v1.TypeSendMessage:
			g.onSendMessage(ctx, client, env, now)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *Gateway) read(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	if g.cfg.ReadIdleTimeout <= 0 {
		return realtime.ReadEnvelope(ctx, conn)
	}
	readCtx, cancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
	defer cancel()
	return realtime.ReadEnvelope(readCtx, conn)
}

// ---- handlers ----

func (g *Gateway) onJoin(client *Client, env v1.Envelope) error {
	var p v1.JoinRoomPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := roomOwner(client, p.UserID); err != nil {
		return err
	}
	g.hub.Join(client.UserID, client)
	return nil
}

func (g *Gateway) onLeave(client *Client, env v1.Envelope) error {
	var p v1.LeaveRoomPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if err := roomOwner(client, p.UserID); err != nil {
		return err
	}
	if !g.hub.Leave(client.UserID, client.SessionID) {
		return errors.New("not joined")
	}
	return nil
}

func roomOwner(client *Client, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("missing userId")
	}
	if userID != client.UserID {
		return errors.New("room belongs to another user")
	}
	return nil
}

// onSendMessage announces an already persisted message. The newest message
// of the (sender, target) chat with the same text is the one delivered.
func (g *Gateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.SendMessagePayload
	if err := env.Decode(&p); err != nil {
		g.sendMessageError(ctx, client, p, "invalid payload")
		g.metrics.Delivery(DeliveryRejected)
		return
	}

	target := strings.TrimSpace(p.TargetUserID)
	switch {
	case strings.TrimSpace(p.SenderID) != client.UserID:
		g.sendMessageError(ctx, client, p, "sender mismatch")
		g.metrics.Delivery(DeliveryRejected)
		return
	case target == "" || target == client.UserID:
		g.sendMessageError(ctx, client, p, "invalid target")
		g.metrics.Delivery(DeliveryRejected)
		return
	}
	if err := validateText(p.Text); err != nil {
		g.sendMessageError(ctx, client, p, err.Error())
		g.metrics.Delivery(DeliveryRejected)
		return
	}

	chat, err := g.store.GetChat(ctx, client.UserID, target)
	if err != nil {
		g.log.Error("relay.ws.send.chat.fail", "session_id", client.SessionID, "err", err)
		g.sendMessageError(ctx, client, p, "chat unavailable")
		g.metrics.Delivery(DeliveryFailed)
		return
	}

	msg, ok := LatestFrom(chat, client.UserID, p.Text)
	if !ok {
		g.sendMessageError(ctx, client, p, "message not found")
		g.metrics.Delivery(DeliveryNotFound)
		return
	}

	ts := now
	if msg.CreatedAt != nil {
		ts = msg.CreatedAt.UTC()
	}
	ack, err := realtime.EncodeEnvelope(v1.TypeMessageDelivered, v1.MessageDeliveredPayload{
		Success:   true,
		MessageID: msg.ID,
		Timestamp: ts,
	}, now)
	if err != nil {
		g.log.Error("relay.ws.send.encode.fail", "err", err)
		return
	}
	if !g.enqueue(ctx, client, ack) {
		g.log.Info("relay.ws.send.ack.drop", "session_id", client.SessionID)
	}

	newEnv, err := realtime.EncodeEnvelope(v1.TypeNewMessage, chat, now)
	if err != nil {
		g.log.Error("relay.ws.send.encode.fail", "err", err)
		return
	}
	for _, room := range []string{target, client.UserID} {
		_, dropped := g.hub.Broadcast(room, newEnv)
		g.metrics.Dropped(dropped)
	}
	g.metrics.Delivery(DeliveryDelivered)
}

// ---- send helpers ----

func (g *Gateway) sendMessageError(ctx context.Context, client *Client, p v1.SendMessagePayload, reason string) {
	env, err := realtime.EncodeEnvelope(v1.TypeMessageError, v1.MessageErrorPayload{
		Error:        reason,
		OriginalText: p.Text,
		TargetUserID: p.TargetUserID,
	}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	env, err := realtime.EncodeEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}, time.Now().UTC())
	if err != nil {
		return
	}
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return client.Offer(env)
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted host patterns
// websocket.Accept matches the Origin host[:port] against. Ports are already
// screened by enforceOrigin, so every host also gets a "host:*" pattern.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
		if h != "*" {
			seen[h+":*"] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
