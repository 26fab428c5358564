package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the PostgreSQL pool and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id BIGINT PRIMARY KEY,
        username TEXT NOT NULL DEFAULT '',
        nickname TEXT NOT NULL DEFAULT '',
        avatar TEXT NOT NULL DEFAULT '',
        is_online BOOLEAN NOT NULL DEFAULT FALSE,
        show_read_status BOOLEAN NOT NULL DEFAULT FALSE,
        last_login_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        sender_id BIGINT NOT NULL,
        receiver_id BIGINT NOT NULL,
        content TEXT NOT NULL,
        type TEXT NOT NULL DEFAULT 'TEXT',
        sent_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        is_read BOOLEAN NOT NULL DEFAULT FALSE
    );`,
	`CREATE INDEX IF NOT EXISTS messages_unread_idx
        ON messages (sender_id, receiver_id) WHERE is_read = FALSE;`,
	`CREATE INDEX IF NOT EXISTS users_online_idx ON users (id) WHERE is_online = TRUE;`,
	`ALTER TABLE users ALTER COLUMN show_read_status SET DEFAULT FALSE;`,
	`CREATE INDEX IF NOT EXISTS messages_inbox_unread_idx
        ON messages (receiver_id) WHERE is_read = FALSE;`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	slog.Info("database migrations applied", "count", len(migrations))
	return nil
}
