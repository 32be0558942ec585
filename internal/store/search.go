package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds cached messages whose content contains query
// (case-insensitive for ASCII), optionally within one conversation.
func (db *DB) SearchMessages(query, contactID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, temp_id, sender_id, receiver_id, content, attachments, created_at, is_read, read_by_peer, contact_id
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if contactID != "" {
		q += " AND contact_id = ?"
		args = append(args, contactID)
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m, err := scanMessage(rows, &r.ContactID)
		if err != nil {
			return nil, err
		}
		r.Message = m
		r.Snippet = snippet(m.Content, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and trims the text around it.
func snippet(content, query string) string {
	if query == "" {
		return content
	}
	var i, n int
	if lc, lq := strings.ToLower(content), strings.ToLower(query); len(lc) == len(content) {
		i, n = strings.Index(lc, lq), len(lq)
	} else {
		i, n = strings.Index(content, query), len(query)
	}
	if i < 0 {
		return content
	}
	start, end := i, i+n
	from := start
	for n := 0; from > 0 && n < snippetRadius; n++ {
		_, size := utf8.DecodeLastRuneInString(content[:from])
		from -= size
	}
	to := end
	for n := 0; to < len(content) && n < snippetRadius; n++ {
		_, size := utf8.DecodeRuneInString(content[to:])
		to += size
	}
	out := content[from:start] + "<<" + content[start:end] + ">>" + content[end:to]
	if from > 0 {
		out = "..." + out
	}
	if to < len(content) {
		out += "..."
	}
	return out
}
