package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation summary row.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, name, phone, last_message_at, last_message_preview,
			unread_count, message_count, ai_reply_count, human_reply_count,
			status, priority, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			unread_count = excluded.unread_count,
			message_count = excluded.message_count,
			ai_reply_count = excluded.ai_reply_count,
			human_reply_count = excluded.human_reply_count,
			status = excluded.status,
			priority = excluded.priority,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Phone, c.LastMessageAt, c.LastMessagePreview,
		c.UnreadCount, c.MessageCount, c.AIReplyCount, c.HumanReplyCount,
		c.Status, c.Priority, c.Tags, now)
	return err
}

// TouchConversation updates only the denormalized last-message fields,
// keeping the newest values (out-of-order ingest must not move time backward).
func (db *DB) TouchConversation(id string, lastMessageAt int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE
				WHEN excluded.last_message_at >= conversations.last_message_at
				THEN excluded.last_message_preview
				ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		id, lastMessageAt, preview, now)
	return err
}

// SetUnreadCount overwrites the unread counter for a conversation.
func (db *DB) SetUnreadCount(id string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE conversations SET unread_count = ?, updated_at = ? WHERE id = ?`,
		count, now, id)
	return err
}

// ListConversations returns conversations sorted by last message timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, phone, last_message_at, last_message_preview,
			unread_count, message_count, ai_reply_count, human_reply_count,
			status, priority, tags
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.LastMessageAt, &c.LastMessagePreview,
			&c.UnreadCount, &c.MessageCount, &c.AIReplyCount, &c.HumanReplyCount,
			&c.Status, &c.Priority, &c.Tags); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by ID, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, name, phone, last_message_at, last_message_preview,
			unread_count, message_count, ai_reply_count, human_reply_count,
			status, priority, tags
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &c.LastMessageAt, &c.LastMessagePreview,
			&c.UnreadCount, &c.MessageCount, &c.AIReplyCount, &c.HumanReplyCount,
			&c.Status, &c.Priority, &c.Tags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
