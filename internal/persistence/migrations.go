package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS threads(
		conversation_id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		unread_count INTEGER NOT NULL DEFAULT 0,
		last_activity_at INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS messages(
		id TEXT PRIMARY KEY,
		client_key TEXT,
		conversation_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		shop_id TEXT NOT NULL,
		product_id TEXT,
		sender_id TEXT NOT NULL,
		sender_type TEXT NOT NULL,
		body TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at);`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}
	}

	return nil
}
