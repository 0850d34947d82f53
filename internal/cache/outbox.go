package cache

import (
	"database/sql"

	"github.com/parley-im/parley/internal/model"
)

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatID       string
	SenderID     string
	Body         string
	MessageType  model.MessageType
	Media        *model.MediaRef
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	CreatedAt    int64
}

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := nowMs()
	var mediaURL, mediaKey, fileName string
	var fileSize int64
	if e.Media != nil {
		mediaURL = e.Media.URL
		mediaKey = e.Media.Key
		fileName = e.Media.FileName
		fileSize = e.Media.FileSize
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_id, sender_id, body, message_type, media_url, media_key, file_name, file_size, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.ChatID, e.SenderID, e.Body, e.MessageType,
		mediaURL, mediaKey, fileName, fileSize, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, nowMs(), clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent'.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', error_message = '', updated_at = ? WHERE client_msg_id = ?`, nowMs(), clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, nowMs(), clientMsgID)
	return err
}

// RequeueOutbox moves a failed entry back to 'queued' so the sender retries
// it. Returns the number of rows changed (0 if the entry is missing or not
// in failed state).
func (db *DB) RequeueOutbox(clientMsgID string) (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = '', updated_at = ? WHERE client_msg_id = ? AND status = 'failed'`, nowMs(), clientMsgID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_id, sender_id, body, message_type, media_url, media_key, file_name, file_size, status, error_message, created_at
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutbox returns one outbox entry by client message id, or nil if absent.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	row := db.QueryRow(`
		SELECT id, client_msg_id, chat_id, sender_id, body, message_type, media_url, media_key, file_name, file_size, status, error_message, created_at
		FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	e, err := scanOutbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanOutbox(r rowScanner) (OutboxEntry, error) {
	var e OutboxEntry
	var mediaURL, mediaKey, fileName string
	var fileSize int64
	if err := r.Scan(&e.ID, &e.ClientMsgID, &e.ChatID, &e.SenderID, &e.Body, &e.MessageType,
		&mediaURL, &mediaKey, &fileName, &fileSize, &e.Status, &e.ErrorMessage, &e.CreatedAt); err != nil {
		return e, err
	}
	if mediaURL != "" || mediaKey != "" {
		e.Media = &model.MediaRef{URL: mediaURL, Key: mediaKey, FileName: fileName, FileSize: fileSize}
	}
	return e, nil
}
