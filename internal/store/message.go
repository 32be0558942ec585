package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

const previewLen = 100

// SaveMessage stores a confirmed message and bumps its conversation's
// preview (idempotent on message id). Read flags only ever move to true.
func (db *DB) SaveMessage(contactID string, m chat.Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	if m.Attachments == nil {
		attachments = []byte("[]")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	created := m.CreatedAt.UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, temp_id, contact_id, sender_id, receiver_id, content, attachments, created_at, is_read, read_by_peer, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			temp_id = CASE WHEN excluded.temp_id != '' THEN excluded.temp_id ELSE messages.temp_id END,
			content = excluded.content,
			attachments = excluded.attachments,
			created_at = excluded.created_at,
			is_read = MAX(messages.is_read, excluded.is_read),
			read_by_peer = MAX(messages.read_by_peer, excluded.read_by_peer)`,
		m.ID, m.TempID, contactID, m.SenderID, m.ReceiverID, m.Content, string(attachments),
		created, m.Read, m.ReadByPeer, now); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO conversations (contact_id, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(contact_id) DO UPDATE SET
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		contactID, created, m.Preview(previewLen), now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return tx.Commit()
}

// MarkMessagesRead sets the receiver-side read flag.
func (db *DB) MarkMessagesRead(ids []string) error {
	return db.setFlag("is_read", ids)
}

// MarkMessagesReadByPeer records that the contact read messages we sent.
func (db *DB) MarkMessagesReadByPeer(ids []string) error {
	return db.setFlag("read_by_peer", ids)
}

func (db *DB) setFlag(column string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `UPDATE messages SET ` + column + ` = 1 WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	_, err := db.Exec(q, args...)
	return err
}

// ListMessages returns messages of a conversation using keyset pagination
// by timestamp, newest first. Equal timestamps come back in reverse
// insertion order.
func (db *DB) ListMessages(contactID string, beforeMs int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeMs <= 0 {
		beforeMs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, temp_id, sender_id, receiver_id, content, attachments, created_at, is_read, read_by_peer
		FROM messages
		WHERE contact_id = ? AND created_at < ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, contactID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
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

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, extra ...any) (chat.Message, error) {
	var (
		m           chat.Message
		attachments string
		created     int64
	)
	dest := append([]any{&m.ID, &m.TempID, &m.SenderID, &m.ReceiverID, &m.Content, &attachments, &created, &m.Read, &m.ReadByPeer}, extra...)
	if err := row.Scan(dest...); err != nil {
		return chat.Message{}, err
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return chat.Message{}, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
	}
	m.CreatedAt = time.UnixMilli(created).UTC()
	m.State = chat.Sent
	return m, nil
}
