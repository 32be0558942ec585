package store

// ListConversations returns cached conversations, most recent first. Names
// fall back to the contact id; unread counts inbound messages not yet read.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.contact_id,
			COALESCE(NULLIF(ct.display_name,''), c.contact_id) AS display_name,
			(SELECT COUNT(*) FROM messages m
				WHERE m.contact_id = c.contact_id AND m.sender_id = c.contact_id AND m.is_read = 0) AS unread,
			c.last_message_at, c.last_message_preview
		FROM conversations c
		LEFT JOIN contacts ct ON c.contact_id = ct.id
		ORDER BY c.last_message_at DESC, c.contact_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ContactID, &c.DisplayName, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// EnsureConversation records a conversation that has no messages yet.
func (db *DB) EnsureConversation(contactID string) error {
	_, err := db.Exec(`INSERT INTO conversations (contact_id) VALUES (?) ON CONFLICT(contact_id) DO NOTHING`, contactID)
	return err
}

// ConversationCount returns the total number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
