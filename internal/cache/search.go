package cache

import "github.com/parley-im/parley/internal/model"

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message model.Message
	Snippet string
}

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.msg_id, m.chat_id, m.sender_id, m.body, m.message_type, m.status, m.timestamp,
		       m.media_url, m.media_key, m.file_name, m.file_size,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var mediaURL, mediaKey, fileName string
		var fileSize int64
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ChatID, &r.Message.SenderID, &r.Message.Body,
			&r.Message.Type, &r.Message.Status, &r.Message.Timestamp,
			&mediaURL, &mediaKey, &fileName, &fileSize, &r.Snippet,
		); err != nil {
			return nil, err
		}
		if mediaURL != "" || mediaKey != "" {
			r.Message.Media = &model.MediaRef{URL: mediaURL, Key: mediaKey, FileName: fileName, FileSize: fileSize}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
