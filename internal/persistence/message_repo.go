package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"marketgo/internal/chat"
	"marketgo/internal/wire"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Insert stores a confirmed message. Re-inserting a known id is a no-op so
// broadcast echoes never duplicate cache rows.
func (r *MessageRepo) Insert(ctx context.Context, m wire.Message) error {
	if m.IsTemp() {
		return fmt.Errorf("refuse to cache unconfirmed message: %s", m.ID)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages(id, client_key, conversation_id, customer_id, shop_id, product_id, sender_id, sender_type, body, read, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, nullableString(m.ClientKey), chat.ConversationID(m.CustomerID, m.ShopID), m.CustomerID, m.ShopID,
		nullableString(m.ProductID), m.SenderID, m.SenderType, m.Body, boolToInt(m.Read), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conv string, limit int) ([]wire.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_key, customer_id, shop_id, product_id, sender_id, sender_type, body, read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, conv, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages by conversation: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []wire.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

// LoadRecentPerConversation returns the newest messages of every cached
// conversation, oldest first within each list.
func (r *MessageRepo) LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]wire.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT conversation_id FROM threads`)
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var convs []string
	for rows.Next() {
		var conv string
		if err := rows.Scan(&conv); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}

	result := make(map[string][]wire.Message)
	for _, conv := range convs {
		msgs, err := r.ListByConversation(ctx, conv, limit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			result[conv] = msgs
		}
	}

	return result, nil
}

func (r *MessageRepo) MarkConversationRead(ctx context.Context, conv, readerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id != ? AND read = 0
	`, conv, readerID)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}

	return nil
}

func scanMessage(rows *sql.Rows) (wire.Message, error) {
	var (
		m         wire.Message
		clientKey sql.NullString
		productID sql.NullString
		read      int
	)
	if err := rows.Scan(&m.ID, &clientKey, &m.CustomerID, &m.ShopID, &productID,
		&m.SenderID, &m.SenderType, &m.Body, &read, &m.CreatedAt); err != nil {
		return wire.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.ClientKey = stringOrEmpty(clientKey)
	m.ProductID = stringOrEmpty(productID)
	m.Read = read != 0

	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
