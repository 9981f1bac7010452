package store

import "strings"

// SearchMessages performs a case-insensitive substring search over message
// bodies, optionally scoped to one conversation, newest matches first.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"

	sqlq := `
		SELECT server_id, client_id, conversation_id, direction, body, kind, status,
			timestamp, media_id, media_url, preview_url, thumb_url
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{pattern}
	if conversationID != "" {
		sqlq += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	sqlq += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(sqlq, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.Direction, &m.Body,
			&m.Kind, &m.Status, &m.Timestamp, &m.MediaID,
			&m.MediaURL, &m.PreviewURL, &m.ThumbURL); err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Body, query)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet returns up to 80 characters of body centered on the first match.
func snippet(body, query string) string {
	const width = 80
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 || len(body) <= width {
		if len(body) > width {
			return body[:width]
		}
		return body
	}
	start := idx - width/4
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(body) {
		end = len(body)
	}
	return body[start:end]
}
