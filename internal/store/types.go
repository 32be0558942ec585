package store

import "github.com/matheus3301/chatsync/internal/chat"

// Contact is a cached directory entry.
type Contact struct {
	ID          string
	DisplayName string
	AvatarURL   string
	LastSeen    int64
}

// Conversation is a cached conversation row with its derived unread count.
type Conversation struct {
	ContactID          string
	DisplayName        string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	ContactID string
	Message   chat.Message
	Snippet   string
}
