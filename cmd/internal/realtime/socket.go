package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	v1 "devmatch/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// SessionCookieName is the cookie the relay and the REST backend authenticate with.
const SessionCookieName = "token"

// Options configures Dial.
type Options struct {
	// URL is the ws:// or wss:// endpoint.
	URL string
	// SessionToken is sent as the session cookie when non-empty.
	SessionToken string
	// Origin is sent as the Origin header when non-empty.
	Origin string
	// Header carries extra handshake headers.
	Header http.Header

	HTTPClient *http.Client
	Logger     *slog.Logger

	SendQueueSize     int
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = defaultSendQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	return o
}

type handlerEntry struct {
	id uint64
	fn func(v1.Envelope)
}

// Socket is one realtime WebSocket connection.
//
// Concurrency guarantees:
//   - Emit is safe from any goroutine; frames are written by a single writer goroutine.
//   - Handlers run on the read goroutine, one envelope at a time, in arrival order.
//   - Close is idempotent and flushes queued envelopes (bounded by a short grace period).
type Socket struct {
	conn *websocket.Conn
	log  *slog.Logger
	opts Options

	send chan v1.Envelope

	hmu      sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64

	ctx    context.Context
	cancel context.CancelFunc

	done       chan struct{}
	draining   chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	drainOnce  sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to the relay and starts the socket's loops.
func Dial(ctx context.Context, opts Options) (*Socket, error) {
	opts = opts.withDefaults()

	u := strings.TrimSpace(opts.URL)
	if u == "" {
		return nil, ErrMissingURL
	}

	h := http.Header{}
	for k, vs := range opts.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if o := strings.TrimSpace(opts.Origin); o != "" {
		h.Set("Origin", o)
	}
	if tok := strings.TrimSpace(opts.SessionToken); tok != "" {
		h.Add("Cookie", (&http.Cookie{Name: SessionCookieName, Value: tok}).String())
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{
		HTTPClient:   opts.HTTPClient,
		HTTPHeader:   h,
		Subprotocols: []string{v1.Subprotocol},
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("dial %s (status=%d): %w", u, status, err)
	}

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("realtime: server selected subprotocol %q, want %q", sp, v1.Subprotocol)
	}
	conn.SetReadLimit(maxFrameBytes)

	s := newSocket(conn, opts)
	s.start()

	s.log.Info("realtime.connect", "url", u)
	return s, nil
}

func newSocket(conn *websocket.Conn, opts Options) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		conn:       conn,
		log:        opts.Logger,
		opts:       opts,
		send:       make(chan v1.Envelope, opts.SendQueueSize),
		handlers:   make(map[string][]handlerEntry),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		draining:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *Socket) start() {
	go s.writeLoop()
	go s.heartbeatLoop()
	go s.readLoop()
}

// On registers fn for envelopes of eventType. The returned func removes it.
func (s *Socket) On(eventType string, fn func(v1.Envelope)) (off func()) {
	if fn == nil {
		return func() {}
	}

	s.hmu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[eventType] = append(s.handlers[eventType], handlerEntry{id: id, fn: fn})
	s.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hmu.Lock()
			defer s.hmu.Unlock()

			hs := s.handlers[eventType]
			for i, h := range hs {
				if h.id == id {
					s.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
			if len(s.handlers[eventType]) == 0 {
				delete(s.handlers, eventType)
			}
		})
	}
}

// HandlerCount returns the number of registered handlers across all event types.
func (s *Socket) HandlerCount() int {
	s.hmu.RLock()
	defer s.hmu.RUnlock()

	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

// Emit queues one event for the writer. It blocks while the queue is full
// until ctx is done.
func (s *Socket) Emit(ctx context.Context, eventType string, payload any) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-s.draining:
		return ErrClosed
	default:
	}

	env, err := EncodeEnvelope(eventType, payload, time.Now().UTC())
	if err != nil {
		return err
	}

	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the connection is shut down.
func (s *Socket) Done() <-chan struct{} { return s.done }

// Err returns why the socket shut down; nil after a local Close.
func (s *Socket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes queued envelopes and closes the connection. It is idempotent.
func (s *Socket) Close() error {
	s.drainOnce.Do(func() { close(s.draining) })

	select {
	case <-s.writerDone:
	case <-time.After(closeGrace):
	}

	s.shutdown(websocket.StatusNormalClosure, "bye", nil)
	return nil
}

// shutdown is idempotent. cause is recorded for Err.
func (s *Socket) shutdown(code websocket.StatusCode, reason string, cause error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = cause
		s.errMu.Unlock()

		close(s.done)
		_ = s.conn.Close(code, reason)
		s.cancel()

		if cause != nil {
			s.log.Warn("realtime.disconnect", "reason", reason, "err", cause)
		} else {
			s.log.Info("realtime.disconnect", "reason", reason)
		}
	})
}

func (s *Socket) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.done:
			return
		case <-s.draining:
			s.flush()
			return
		case env := <-s.send:
			if !s.write(env) {
				return
			}
		}
	}
}

func (s *Socket) flush() {
	for {
		select {
		case env := <-s.send:
			if !s.write(env) {
				return
			}
		default:
			return
		}
	}
}

func (s *Socket) write(env v1.Envelope) bool {
	if err := WriteEnvelope(s.ctx, s.conn, env, s.opts.WriteTimeout); err != nil {
		s.log.Info("realtime.write.fail", "type", env.Type, "close_status", websocket.CloseStatus(err), "err", err)
		s.shutdown(websocket.StatusAbnormalClosure, "write failed", err)
		return false
	}
	return true
}

func (s *Socket) heartbeatLoop() {
	t := time.NewTicker(s.opts.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(s.ctx, s.opts.HeartbeatTimeout)
			err := s.conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				s.log.Info("realtime.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					s.shutdown(websocket.StatusGoingAway, "heartbeat failed", fmt.Errorf("heartbeat: %w", err))
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Socket) readLoop() {
	for {
		env, err := ReadEnvelope(s.ctx, s.conn)
		if err != nil {
			switch ClassifyReadErr(err) {
			case ReadErrBadJSON:
				s.log.Warn("realtime.read.bad_json", "err", err)
				continue
			case ReadErrClose:
				s.shutdown(websocket.StatusNormalClosure, "peer closed", err)
			case ReadErrCtxDone:
				s.shutdown(websocket.StatusNormalClosure, "context done", nil)
			case ReadErrConnClosed:
				s.shutdown(websocket.StatusAbnormalClosure, "conn closed", err)
			default:
				s.shutdown(websocket.StatusAbnormalClosure, "read failed", err)
			}
			return
		}

		if err := env.Validate(); err != nil {
			s.log.Warn("realtime.read.bad_envelope", "err", err)
			continue
		}

		if env.Type == v1.TypeError {
			var p v1.ErrorPayload
			if err := env.Decode(&p); err == nil {
				s.log.Warn("realtime.server.error", "code", p.Code, "message", p.Message)
			}
		}

		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env v1.Envelope) {
	s.hmu.RLock()
	hs := append([]handlerEntry(nil), s.handlers[env.Type]...)
	s.hmu.RUnlock()

	for _, h := range hs {
		s.invoke(h.fn, env)
	}
}

// invoke isolates handler panics from the read loop.
func (s *Socket) invoke(fn func(v1.Envelope), env v1.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("realtime.handler.panic", "type", env.Type, "panic", r)
		}
	}()
	fn(env)
}

// IsClosed reports whether err came from a closed socket or lease.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrLeaseReleased)
}
