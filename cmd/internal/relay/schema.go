package relay

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is the relay's minimal schema. %[1]s is the quoted schema name.
const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.users (
  id         TEXT PRIMARY KEY,
  first_name TEXT NOT NULL DEFAULT '',
  last_name  TEXT NOT NULL DEFAULT '',
  photo_url  TEXT NOT NULL DEFAULT '',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.chats (
  id         TEXT PRIMARY KEY,
  user_lo    TEXT NOT NULL,
  user_hi    TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_chats_pair UNIQUE (user_lo, user_hi),
  CONSTRAINT chk_chats_pair_order CHECK (user_lo < user_hi)
);

CREATE TABLE IF NOT EXISTS %[1]s.chat_cursors (
  chat_id    TEXT PRIMARY KEY REFERENCES %[1]s.chats(id) ON DELETE CASCADE,
  next_seq   BIGINT NOT NULL DEFAULT 1,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.messages (
  chat_id    TEXT NOT NULL REFERENCES %[1]s.chats(id) ON DELETE CASCADE,
  seq        BIGINT NOT NULL,
  id         TEXT NOT NULL,
  sender_id  TEXT NOT NULL,
  text       TEXT NOT NULL,
  is_read    BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  PRIMARY KEY (chat_id, seq),
  CONSTRAINT uq_messages_id UNIQUE (id),
  CONSTRAINT chk_messages_text_len CHECK (char_length(text) > 0 AND char_length(text) <= 4000)
);

CREATE TABLE IF NOT EXISTS %[1]s.sessions (
  token_hash TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON %[1]s.sessions (user_id);
`

// EnsureSchema creates the relay schema and tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return fmt.Errorf("relay: nil pool")
	}
	if !isValidPGIdent(schema) {
		return fmt.Errorf("relay: invalid schema identifier %q", schema)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaSQL, pgx.Identifier{schema}.Sanitize())); err != nil {
		return fmt.Errorf("relay: apply schema: %w", err)
	}
	return nil
}
