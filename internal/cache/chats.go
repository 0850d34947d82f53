package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-im/parley/internal/model"
)

// UpsertChat inserts or updates a chat projection row.
func (db *DB) UpsertChat(c *model.Chat) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	counts := c.UnreadCounts
	if counts == nil {
		counts = map[string]int{}
	}
	unread, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal unread counts: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO chats (id, kind, participants, last_message_body, last_message_sender, last_message_at, unread_counts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			participants = excluded.participants,
			last_message_body = excluded.last_message_body,
			last_message_sender = excluded.last_message_sender,
			last_message_at = excluded.last_message_at,
			unread_counts = excluded.unread_counts,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, string(participants), c.LastMessageBody, c.LastMessageSender,
		c.LastMessageAt, string(unread), c.CreatedAt, c.UpdatedAt)
	return err
}

// ListChats returns chats sorted by updated_at descending.
func (db *DB) ListChats(limit, offset int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, kind, participants, last_message_body, last_message_sender, last_message_at, unread_counts, created_at, updated_at
		FROM chats
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil if absent.
func (db *DB) GetChat(id string) (*model.Chat, error) {
	row := db.QueryRow(`
		SELECT id, kind, participants, last_message_body, last_message_sender, last_message_at, unread_counts, created_at, updated_at
		FROM chats WHERE id = ?`, id)
	c, err := scanChat(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatCount returns the total number of cached chats.
func (db *DB) ChatCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (model.Chat, error) {
	var c model.Chat
	var participants, unread string
	if err := r.Scan(&c.ID, &c.Kind, &participants, &c.LastMessageBody, &c.LastMessageSender,
		&c.LastMessageAt, &unread, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return c, fmt.Errorf("unmarshal participants for chat %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(unread), &c.UnreadCounts); err != nil {
		return c, fmt.Errorf("unmarshal unread counts for chat %s: %w", c.ID, err)
	}
	return c, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
