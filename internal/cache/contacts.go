package cache

import (
	"database/sql"
	"fmt"

	"github.com/parley-im/parley/internal/model"
)

// UpsertContact inserts or updates a contact.
func (db *DB) UpsertContact(c *model.Contact) error {
	_, err := db.Exec(`
		INSERT INTO contacts (id, name, about, avatar, is_online, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
			about = excluded.about,
			avatar = excluded.avatar,
			is_online = excluded.is_online,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.About, c.Avatar, c.IsOnline, c.LastSeen, nowMs())
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in one transaction.
func (db *DB) BulkUpsertContacts(contacts []model.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMs()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, name, about, avatar, is_online, last_seen, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = CASE WHEN excluded.name != '' THEN excluded.name ELSE contacts.name END,
				about = excluded.about,
				avatar = excluded.avatar,
				is_online = excluded.is_online,
				last_seen = excluded.last_seen,
				updated_at = excluded.updated_at`,
			c.ID, c.Name, c.About, c.Avatar, c.IsOnline, c.LastSeen, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by id, or nil if absent.
func (db *DB) GetContact(id string) (*model.Contact, error) {
	var c model.Contact
	err := db.QueryRow(`SELECT id, name, about, avatar, is_online, last_seen FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.About, &c.Avatar, &c.IsOnline, &c.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all contacts ordered by name.
func (db *DB) ListContacts() ([]model.Contact, error) {
	rows, err := db.Query(`SELECT id, name, about, avatar, is_online, last_seen FROM contacts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.About, &c.Avatar, &c.IsOnline, &c.LastSeen); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
