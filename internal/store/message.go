package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on conversation + key).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_key, server_id, client_id, direction,
			body, kind, status, timestamp, media_id, media_url, preview_url, thumb_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_key) DO UPDATE SET
			server_id = excluded.server_id,
			body = excluded.body,
			status = excluded.status,
			media_url = excluded.media_url,
			preview_url = excluded.preview_url,
			thumb_url = excluded.thumb_url`,
		m.ConversationID, m.Key(), m.ID, m.ClientID, m.Direction,
		m.Body, m.Kind, m.Status, m.Timestamp, m.MediaID,
		m.MediaURL, m.PreviewURL, m.ThumbURL, now)
	return err
}

// DeleteMessage removes a message by its stable key (rolled-back sends).
func (db *DB) DeleteMessage(conversationID, key string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ? AND msg_key = ?`,
		conversationID, key)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT server_id, client_id, conversation_id, direction, body, kind, status,
			timestamp, media_id, media_url, preview_url, thumb_url
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.Direction, &m.Body,
			&m.Kind, &m.Status, &m.Timestamp, &m.MediaID,
			&m.MediaURL, &m.PreviewURL, &m.ThumbURL); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
