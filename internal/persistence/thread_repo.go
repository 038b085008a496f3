package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"marketgo/internal/chat"
)

type ThreadRepo struct {
	db *sql.DB
}

func NewThreadRepo(db *sql.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

// Upsert keeps the newest activity timestamp and replaces the unread
// counter, which the store always recomputes authoritatively.
func (r *ThreadRepo) Upsert(ctx context.Context, t chat.Thread) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO threads(conversation_id, customer_id, shop_id, unread_count, last_activity_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			unread_count = excluded.unread_count,
			last_activity_at = CASE
				WHEN excluded.last_activity_at > threads.last_activity_at
				THEN excluded.last_activity_at
				ELSE threads.last_activity_at
			END
	`, chat.ConversationID(t.CustomerID, t.ShopID), t.CustomerID, t.ShopID, t.UnreadCount, t.LastActivity)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	return nil
}

func (r *ThreadRepo) List(ctx context.Context) ([]chat.Thread, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT customer_id, shop_id, unread_count, last_activity_at
		FROM threads
		ORDER BY last_activity_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make([]chat.Thread, 0)
	for rows.Next() {
		var t chat.Thread
		if err := rows.Scan(&t.CustomerID, &t.ShopID, &t.UnreadCount, &t.LastActivity); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}

	return out, nil
}
