package realtime

import (
	"context"
	"log/slog"
	"sync"

	v1 "devmatch/contracts/realtime/v1"
)

// DialFunc opens a socket. Dial is the production implementation.
type DialFunc func(ctx context.Context, opts Options) (*Socket, error)

// Manager owns at most one live Socket and shares it by reference count.
//
// Acquire dials when no live socket exists; the last Release closes it.
// A socket that drops is replaced on the next Acquire; leases on the dropped
// socket stay valid to Release but can no longer Emit.
type Manager struct {
	opts Options
	dial DialFunc
	log  *slog.Logger

	mu   sync.Mutex
	sock *Socket
	refs int
}

// NewManager constructs a Manager. Nothing is dialed until Acquire.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{opts: opts, dial: Dial, log: opts.Logger}
}

// WithDialer replaces the dial function (tests, custom transports).
func (m *Manager) WithDialer(d DialFunc) *Manager {
	if d != nil {
		m.dial = d
	}
	return m
}

// Acquire returns a lease on the shared socket, dialing if needed.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sock != nil && !isDone(m.sock) {
		m.refs++
		return &Lease{m: m, sock: m.sock}, nil
	}

	sock, err := m.dial(ctx, m.opts)
	if err != nil {
		m.log.Error("realtime.manager.dial.fail", "err", err)
		return nil, err
	}

	m.sock = sock
	m.refs = 1
	return &Lease{m: m, sock: sock}, nil
}

// Refs returns the number of unreleased leases on the current socket.
func (m *Manager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Close closes the current socket regardless of outstanding leases.
func (m *Manager) Close() error {
	m.mu.Lock()
	sock := m.sock
	m.sock = nil
	m.refs = 0
	m.mu.Unlock()

	if sock != nil {
		return sock.Close()
	}
	return nil
}

func (m *Manager) release(sock *Socket) {
	m.mu.Lock()
	if m.sock != sock {
		// Lease on a socket that was already replaced or closed.
		m.mu.Unlock()
		return
	}
	m.refs--
	last := m.refs <= 0
	if last {
		m.refs = 0
		m.sock = nil
	}
	m.mu.Unlock()

	if last {
		_ = sock.Close()
	}
}

func isDone(s *Socket) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Lease is one reference to the Manager's socket.
type Lease struct {
	m    *Manager
	sock *Socket

	once     sync.Once
	mu       sync.Mutex
	released bool
}

// On registers fn on the underlying socket.
func (l *Lease) On(eventType string, fn func(v1.Envelope)) (off func()) {
	return l.sock.On(eventType, fn)
}

// Emit sends one event on the underlying socket.
func (l *Lease) Emit(ctx context.Context, eventType string, payload any) error {
	l.mu.Lock()
	released := l.released
	l.mu.Unlock()
	if released {
		return ErrLeaseReleased
	}
	return l.sock.Emit(ctx, eventType, payload)
}

// Done is closed when the underlying socket shuts down.
func (l *Lease) Done() <-chan struct{} { return l.sock.Done() }

// Release drops this reference. It is idempotent.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
		l.m.release(l.sock)
	})
}
