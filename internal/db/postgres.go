package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DB struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PoolOptions sizes the connection pool. Zero values keep the defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
}

// Pool defaults. Most of the load is short history reads and single-row
// inserts; websocket connections do not hold a connection between
// operations, so a few dozen connections serve thousands of sockets.
const (
	defaultMaxConns        = 25
	defaultMinConns        = 5
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 20 * time.Minute
	defaultHealthCheck     = time.Minute
)

// New opens a pool from a Postgres URL (DATABASE_URL) and pings it.
//
// Why ping here instead of on first query?
//   - A bad password or unreachable host should stop startup, not show up
//     as a 503 on the first history fetch.
func New(ctx context.Context, databaseURL string, opts PoolOptions, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	poolConfig.MaxConns = defaultMaxConns
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	poolConfig.MinConns = defaultMinConns
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		poolConfig.MinConns = poolConfig.MaxConns
	}
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultHealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}

	// The DSN carries the password; log only where we connected.
	logger.Info("DB connection established",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return &DB{pool: pool, logger: logger}, nil
}

func (db *DB) Close() {
	db.logger.Info("closing database connection pool")
	db.pool.Close()
}

func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Health pings one pooled connection. The /v1/health route calls it.
func (db *DB) Health(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping DB: %w", err)
	}
	return nil
}

// messagesSchema creates the only table this service owns. Users, events,
// registrations, teams and matches belong to the platform and are read
// through the role queries.
//
// A message row stores its channel key flattened into nullable scoping
// columns; which ones are set depends on kind, and the CHECK keeps them
// consistent with it.
const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id                  uuid PRIMARY KEY,
	kind                text NOT NULL CHECK (kind IN ('event', 'private', 'support', 'match')),
	event_id            uuid,
	participant_a       uuid,
	participant_b       uuid,
	captain_id          uuid,
	admin_id            uuid,
	match_kind          text CHECK (match_kind IN ('regular', 'tournament')),
	match_id            uuid,
	sender_id           uuid NOT NULL,
	sender_display_name text NOT NULL,
	body                text NOT NULL CHECK (length(btrim(body)) > 0 AND char_length(body) <= 500),
	created_at          timestamptz NOT NULL DEFAULT now(),
	CHECK (
		(kind = 'event'   AND event_id IS NOT NULL) OR
		(kind = 'private' AND event_id IS NOT NULL AND participant_a IS NOT NULL AND participant_b IS NOT NULL AND participant_a < participant_b) OR
		(kind = 'support' AND event_id IS NOT NULL AND captain_id IS NOT NULL AND admin_id IS NOT NULL) OR
		(kind = 'match'   AND match_kind IS NOT NULL AND match_id IS NOT NULL)
	)
);

CREATE INDEX IF NOT EXISTS messages_event_idx
	ON messages (event_id, created_at DESC, id DESC) WHERE kind = 'event';
CREATE INDEX IF NOT EXISTS messages_private_idx
	ON messages (event_id, participant_a, participant_b, created_at DESC, id DESC) WHERE kind = 'private';
CREATE INDEX IF NOT EXISTS messages_support_idx
	ON messages (event_id, admin_id, captain_id, created_at DESC, id DESC) WHERE kind = 'support';
CREATE INDEX IF NOT EXISTS messages_match_idx
	ON messages (match_kind, match_id, created_at DESC, id DESC) WHERE kind = 'match';
`

// Migrate creates the messages table and its per-kind history indexes. It
// is idempotent and runs at every startup.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, messagesSchema); err != nil {
		return fmt.Errorf("migrate messages: %w", err)
	}
	db.logger.Info("schema ready", zap.String("table", "messages"))
	return nil
}
