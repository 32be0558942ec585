package sync

import "github.com/matheus3301/chatsync/internal/chat"

// Bus payloads published by the engine.

// MessageChange carries a message that was appended, confirmed or removed.
// TempID is set when an optimistic entry is involved.
type MessageChange struct {
	ContactID string       `json:"contact_id"`
	TempID    string       `json:"temp_id,omitempty"`
	Message   chat.Message `json:"message"`
}

type SendFailure struct {
	ContactID string `json:"contact_id"`
	TempID    string `json:"temp_id"`
	Reason    string `json:"reason"`
}

// ReadByPeer lists own messages the contact has read.
type ReadByPeer struct {
	ContactID  string   `json:"contact_id"`
	MessageIDs []string `json:"message_ids"`
}

type TypingChange struct {
	ContactID string `json:"contact_id"`
	Typing    bool   `json:"typing"`
}
