package relay

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"devmatch/cmd/internal/ids"
	"devmatch/cmd/security/token"
	apiv1 "devmatch/contracts/api/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when DEVMATCH_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_AppendMessage_Order(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := store.UpsertUser(ctx, apiv1.User{ID: "alice", FirstName: "Alice"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	empty, err := store.GetChat(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if len(empty.Messages) != 0 {
		t.Fatalf("expected empty chat, got %d messages", len(empty.Messages))
	}

	for i := 0; i < 3; i++ {
		sender, target := "alice", "bob"
		if i%2 == 1 {
			sender, target = target, sender
		}
		if _, err := store.AppendMessage(ctx, AppendMessageInput{
			SenderID: sender,
			TargetID: target,
			Text:     fmt.Sprintf("m%d", i),
			Now:      time.Now().UTC(),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	chat, err := store.GetChat(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.ID != empty.ID {
		t.Fatalf("chat id changed: %s -> %s", empty.ID, chat.ID)
	}
	if len(chat.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(chat.Messages))
	}
	for i, m := range chat.Messages {
		if m.Text != fmt.Sprintf("m%d", i) {
			t.Fatalf("order mismatch at %d: %q", i, m.Text)
		}
	}
	if chat.Messages[0].Sender.FirstName != "Alice" {
		t.Fatalf("sender not populated: %+v", chat.Messages[0].Sender)
	}
}

func TestPostgresStore_AppendMessage_Concurrent(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.AppendMessage(ctx, AppendMessageInput{
				SenderID: "alice",
				TargetID: "bob",
				Text:     fmt.Sprintf("c%d", i),
				Now:      time.Now().UTC(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := mustCountMessages(t, pool, schema); got != workers {
		t.Fatalf("expected %d rows, got %d", workers, got)
	}

	var maxSeq int64
	if err := pool.QueryRow(ctx, `SELECT MAX(seq) FROM `+pgIdent(schema, "messages")).Scan(&maxSeq); err != nil {
		t.Fatalf("max seq: %v", err)
	}
	if maxSeq != workers {
		t.Fatalf("expected gapless seq up to %d, got %d", workers, maxSeq)
	}
}

func TestPostgresSessionStore_Lookup(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustNewStore(t, pool, schema)

	st, err := NewPostgresSessionStore(pool, schema)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	hasher, err := token.NewHasher(nil)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	sessions := NewSessions(st, hasher, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	tok, _, err := sessions.Issue(ctx, "alice", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := sessions.Resolve(ctx, tok, now)
	if err != nil || got != "alice" {
		t.Fatalf("resolve: got=%q err=%v", got, err)
	}
	if _, err := sessions.Resolve(ctx, tok, now.Add(2*time.Minute)); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after expiry, got %v", err)
	}
}

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := EnsureSchema(ctx, pool, schema); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("DEVMATCH_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: DEVMATCH_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse DEVMATCH_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.NewULID(time.Now())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "devmatch_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustCountMessages(t *testing.T, pool *pgxpool.Pool, schema string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cnt int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+pgIdent(schema, "messages")).Scan(&cnt); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return cnt
}
