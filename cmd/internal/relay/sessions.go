package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"devmatch/cmd/security/token"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSessionTTL bounds how long a dev login stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionStore persists hashed session tokens.
type SessionStore interface {
	Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	// Lookup returns the user of an unexpired session or ErrSessionNotFound.
	Lookup(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

// Sessions issues and resolves opaque session tokens.
type Sessions struct {
	store  SessionStore
	hasher token.Hasher
	ttl    time.Duration
}

// NewSessions constructs a session service. ttl <= 0 selects DefaultSessionTTL.
func NewSessions(store SessionStore, hasher token.Hasher, ttl time.Duration) *Sessions {
	if store == nil {
		store = NewInMemorySessionStore()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{store: store, hasher: hasher, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *Sessions) TTL() time.Duration { return s.ttl }

// Issue creates a session for userID and returns the clear-text token.
func (s *Sessions) Issue(ctx context.Context, userID string, now time.Time) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, ErrInvalidUser
	}

	tok, err := token.NewOpaque(32)
	if err != nil {
		return "", time.Time{}, err
	}
	exp := now.Add(s.ttl)
	if err := s.store.Create(ctx, s.hasher.Hash(tok), userID, exp); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	return tok, exp, nil
}

// Resolve returns the user id of a live session token.
func (s *Sessions) Resolve(ctx context.Context, tok string, now time.Time) (string, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrSessionNotFound
	}
	return s.store.Lookup(ctx, s.hasher.Hash(tok), now)
}

// InMemorySessionStore is the dev session table.
type InMemorySessionStore struct {
	mu   sync.Mutex
	rows map[string]memSession
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

// NewInMemorySessionStore constructs an empty session table.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{rows: make(map[string]memSession)}
}

// Create stores a session row.
func (s *InMemorySessionStore) Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Lookup returns the owner of a live session. Expired rows are pruned.
func (s *InMemorySessionStore) Lookup(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[tokenHash]
	if !ok {
		return "", ErrSessionNotFound
	}
	if !now.Before(row.expiresAt) {
		delete(s.rows, tokenHash)
		return "", ErrSessionNotFound
	}
	return row.userID, nil
}

// PostgresSessionStore keeps sessions in <schema>.sessions.
type PostgresSessionStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool *pgxpool.Pool, schema string) (*PostgresSessionStore, error) {
	if pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = defaultSchema
	}
	if !isValidPGIdent(schema) {
		return nil, errors.New("relay: invalid schema identifier")
	}
	return &PostgresSessionStore{pool: pool, schema: schema}, nil
}

// Create stores a session row.
func (s *PostgresSessionStore) Create(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	sessions := pgIdent(s.schema, "sessions")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+sessions+` (token_hash, user_id, expires_at) VALUES ($1, $2, $3)`,
		tokenHash, userID, expiresAt,
	)
	return err
}

// Lookup returns the owner of a live session.
func (s *PostgresSessionStore) Lookup(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	sessions := pgIdent(s.schema, "sessions")

	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM `+sessions+` WHERE token_hash = $1 AND expires_at > $2`,
		tokenHash, now,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
