package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	apiv1 "devmatch/contracts/api/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultSchema = "devmatch"

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Appends take a per-chat transactional advisory lock so the sequence
//     allocated from chat_cursors is strictly monotonic without gaps.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "devmatch").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("relay: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("relay: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: defaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	return st, nil
}

// Schema returns the schema this store reads and writes.
func (s *PostgresStore) Schema() string { return s.schema }

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// querier is the subset of pgxpool.Pool and pgx.Tx the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpsertUser inserts or replaces a user record.
func (s *PostgresStore) UpsertUser(ctx context.Context, u apiv1.User) (apiv1.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return apiv1.User{}, ErrInvalidUser
	}

	users := pgIdent(s.schema, "users")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, first_name, last_name, photo_url, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (id) DO UPDATE
		    SET first_name = EXCLUDED.first_name,
		        last_name  = EXCLUDED.last_name,
		        photo_url  = EXCLUDED.photo_url,
		        updated_at = now()`,
		u.ID, u.FirstName, u.LastName, u.PhotoURL,
	); err != nil {
		return apiv1.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUser returns a user record or ErrNotFound.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (apiv1.User, error) {
	users := pgIdent(s.schema, "users")

	var u apiv1.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, first_name, last_name, photo_url FROM `+users+` WHERE id = $1`,
		strings.TrimSpace(id),
	).Scan(&u.ID, &u.FirstName, &u.LastName, &u.PhotoURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return apiv1.User{}, ErrNotFound
	}
	if err != nil {
		return apiv1.User{}, err
	}
	return u, nil
}

// GetChat returns the chat between a and b, creating it empty on first read.
func (s *PostgresStore) GetChat(ctx context.Context, a, b string) (apiv1.Chat, error) {
	if err := validPair(a, b); err != nil {
		return apiv1.Chat{}, err
	}

	chatID, err := s.ensureChat(ctx, s.pool, a, b, time.Now().UTC())
	if err != nil {
		return apiv1.Chat{}, err
	}
	return s.loadChat(ctx, s.pool, chatID, a, b)
}

// AppendMessage appends a message and returns the whole chat.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (apiv1.Chat, error) {
	if err := in.validate(); err != nil {
		return apiv1.Chat{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return apiv1.Chat{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lo, hi := pairKey(in.SenderID, in.TargetID)

	// Serialize all writes per chat to guarantee strict monotonic ordering.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lo+":"+hi); err != nil {
		return apiv1.Chat{}, fmt.Errorf("advisory lock: %w", err)
	}

	chatID, err := s.ensureChat(ctx, tx, in.SenderID, in.TargetID, now)
	if err != nil {
		return apiv1.Chat{}, err
	}

	cursors := pgIdent(s.schema, "chat_cursors")
	messages := pgIdent(s.schema, "messages")

	// Cursor row ensures monotonic seq allocation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (chat_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (chat_id) DO NOTHING`,
		chatID,
	); err != nil {
		return apiv1.Chat{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE chat_id = $1
		RETURNING (next_seq - 1)`,
		chatID,
	).Scan(&seq); err != nil {
		return apiv1.Chat{}, err
	}

	msgID, err := NewMessageID(now)
	if err != nil {
		return apiv1.Chat{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (chat_id, seq, id, sender_id, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		chatID, seq, msgID, in.SenderID, in.Text, now,
	); err != nil {
		return apiv1.Chat{}, fmt.Errorf("insert message: %w", err)
	}

	chat, err := s.loadChat(ctx, tx, chatID, in.SenderID, in.TargetID)
	if err != nil {
		return apiv1.Chat{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return apiv1.Chat{}, err
	}
	return chat, nil
}

func (s *PostgresStore) ensureChat(ctx context.Context, q querier, a, b string, now time.Time) (string, error) {
	lo, hi := pairKey(a, b)
	chats := pgIdent(s.schema, "chats")

	newID, err := NewChatID(now)
	if err != nil {
		return "", err
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO `+chats+` (id, user_lo, user_hi) VALUES ($1, $2, $3)
		 ON CONFLICT (user_lo, user_hi) DO NOTHING`,
		newID, lo, hi,
	); err != nil {
		return "", fmt.Errorf("ensure chat: %w", err)
	}

	var id string
	if err := q.QueryRow(ctx,
		`SELECT id FROM `+chats+` WHERE user_lo = $1 AND user_hi = $2`,
		lo, hi,
	).Scan(&id); err != nil {
		return "", fmt.Errorf("read chat: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) loadChat(ctx context.Context, q querier, chatID, a, b string) (apiv1.Chat, error) {
	users := pgIdent(s.schema, "users")
	messages := pgIdent(s.schema, "messages")

	pa, err := s.userOrStub(ctx, q, a)
	if err != nil {
		return apiv1.Chat{}, err
	}
	pb, err := s.userOrStub(ctx, q, b)
	if err != nil {
		return apiv1.Chat{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT m.id, m.sender_id, COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.photo_url, ''),
		        m.text, m.is_read, m.created_at
		   FROM `+messages+` m
		   LEFT JOIN `+users+` u ON u.id = m.sender_id
		  WHERE m.chat_id = $1
		  ORDER BY m.seq ASC`,
		chatID,
	)
	if err != nil {
		return apiv1.Chat{}, err
	}
	defer rows.Close()

	out := apiv1.Chat{
		ID:           chatID,
		Participants: []apiv1.User{pa, pb},
		Messages:     make([]apiv1.ChatMessage, 0, 64),
	}
	for rows.Next() {
		var (
			m  apiv1.ChatMessage
			at time.Time
		)
		if err := rows.Scan(
			&m.ID,
			&m.Sender.ID,
			&m.Sender.FirstName,
			&m.Sender.LastName,
			&m.Sender.PhotoURL,
			&m.Text,
			&m.IsRead,
			&at,
		); err != nil {
			return apiv1.Chat{}, err
		}
		at = at.UTC()
		m.CreatedAt = &at
		out.Messages = append(out.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return apiv1.Chat{}, err
	}
	return out, nil
}

func (s *PostgresStore) userOrStub(ctx context.Context, q querier, id string) (apiv1.User, error) {
	users := pgIdent(s.schema, "users")

	u := apiv1.User{ID: id}
	err := q.QueryRow(ctx,
		`SELECT first_name, last_name, photo_url FROM `+users+` WHERE id = $1`,
		id,
	).Scan(&u.FirstName, &u.LastName, &u.PhotoURL)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apiv1.User{}, err
	}
	return u, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
