package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbApplicationName = "devmatch-relay"
	dbPingTimeout     = 3 * time.Second
	dbRetryMin        = 250 * time.Millisecond
	dbRetryMax        = 2 * time.Second
)

// NewDBPool opens the relay's pgx pool and waits up to cfg.DBConnectWait for
// the database to accept connections (containers often start after us).
// Schema setup is done separately by relay.EnsureSchema.
func NewDBPool(ctx context.Context, cfg Config, log Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = dbApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := waitForDB(ctx, pool, cfg.DBConnectWait, log); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// waitForDB pings until success, ctx cancellation or wait elapses.
// A zero wait pings exactly once.
func waitForDB(ctx context.Context, pool *pgxpool.Pool, wait time.Duration, log Logger) error {
	deadline := time.Now().Add(wait)
	backoff := dbRetryMin

	for attempt := 1; ; attempt++ {
		err := PingDB(ctx, pool, dbPingTimeout)
		if err == nil {
			return nil
		}
		if wait <= 0 || time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("database unreachable after %d attempt(s): %w", attempt, err)
		}
		if log != nil {
			log.Warn("db.connect.retry", "attempt", attempt, "backoff", backoff, "err", err)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff = min(backoff*2, dbRetryMax)
	}
}

// PingDB checks the pool can reach the database within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}
