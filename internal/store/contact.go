package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const upsertContact = `
	INSERT INTO contacts (id, display_name, avatar_url, last_seen, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE contacts.display_name END,
		avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
		last_seen = MAX(contacts.last_seen, excluded.last_seen),
		updated_at = excluded.updated_at`

// UpsertContact inserts or updates a contact. Empty fields keep the stored value.
func (db *DB) UpsertContact(c *Contact) error {
	_, err := db.Exec(upsertContact, c.ID, c.DisplayName, c.AvatarURL, c.LastSeen, time.Now().UnixMilli())
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(upsertContact, c.ID, c.DisplayName, c.AvatarURL, c.LastSeen, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by id, or nil if unknown.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, display_name, avatar_url, last_seen FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.AvatarURL, &c.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns every cached contact ordered by id.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT id, display_name, avatar_url, last_seen FROM contacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.AvatarURL, &c.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
