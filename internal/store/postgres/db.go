package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// Open creates a PostgreSQL connection pool and verifies connectivity.
func Open(ctx context.Context, dsn string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Migrate runs idempotent DDL migrations for the chat schema on PostgreSQL.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id              TEXT        PRIMARY KEY,
			username        TEXT        UNIQUE,
			email           TEXT        UNIQUE,
			image           TEXT,
			hashed_password TEXT        NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT        PRIMARY KEY,
			latest_message_id TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id         TEXT    NOT NULL REFERENCES conversations(id),
			user_id                 TEXT    NOT NULL REFERENCES users(id),
			has_seen_latest_message BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT        PRIMARY KEY,
			conversation_id TEXT        NOT NULL REFERENCES conversations(id),
			sender_id       TEXT        NOT NULL REFERENCES users(id),
			body            TEXT        NOT NULL DEFAULT '',
			attachment      TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_conv_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_created ON messages(conversation_id, created_at DESC, id DESC)`,

		// conversations and messages reference each other, so the latest
		// message key is attached once both tables exist
		`DO $$
		BEGIN
			ALTER TABLE conversations
			ADD CONSTRAINT conversations_latest_message_id_fkey
			FOREIGN KEY (latest_message_id) REFERENCES messages(id);
		EXCEPTION
			WHEN duplicate_object THEN
				NULL;
		END
		$$`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
