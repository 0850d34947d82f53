package cache

import (
	"time"

	"github.com/parley-im/parley/internal/model"
)

// UpsertMessage inserts or updates a message (idempotent on chat_id + msg_id).
// The status column is merged monotonically: a stale lower status never walks
// back a higher one, and failed only lands on an unacknowledged send.
func (db *DB) UpsertMessage(m *model.Message) error {
	var mediaURL, mediaKey, fileName string
	var fileSize int64
	if m.Media != nil {
		mediaURL = m.Media.URL
		mediaKey = m.Media.Key
		fileName = m.Media.FileName
		fileSize = m.Media.FileSize
	}
	_, err := db.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, body, message_type, status, timestamp, media_url, media_key, file_name, file_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			status = CASE
				WHEN excluded.status = 'failed' THEN
					CASE WHEN messages.status IN ('sending', 'failed') THEN 'failed' ELSE messages.status END
				WHEN messages.status = 'failed' THEN excluded.status
				WHEN CASE excluded.status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
				   > CASE messages.status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
					THEN excluded.status
				ELSE messages.status
			END,
			timestamp = excluded.timestamp,
			media_url = excluded.media_url`,
		m.ChatID, m.ID, m.SenderID, m.Body, m.Type, m.Status, m.Timestamp,
		mediaURL, mediaKey, fileName, fileSize, time.Now().UnixMilli())
	return err
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp, newest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT msg_id, chat_id, sender_id, body, message_type, status, timestamp, media_url, media_key, file_name, file_size
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func scanMessage(r rowScanner) (model.Message, error) {
	var m model.Message
	var mediaURL, mediaKey, fileName string
	var fileSize int64
	if err := r.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Body, &m.Type, &m.Status,
		&m.Timestamp, &mediaURL, &mediaKey, &fileName, &fileSize); err != nil {
		return m, err
	}
	if mediaURL != "" || mediaKey != "" {
		m.Media = &model.MediaRef{URL: mediaURL, Key: mediaKey, FileName: fileName, FileSize: fileSize}
	}
	return m, nil
}
