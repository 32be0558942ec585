package chat

import (
	"slices"
	"time"
)

// WireMessage is the JSON shape the backend uses for messages, both in REST
// responses and in new_message push events. IsRead is the receiver-side read
// flag as seen by the server.
type WireMessage struct {
	ID          string       `json:"id"`
	SenderID    string       `json:"sender_id"`
	ReceiverID  string       `json:"receiver_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	IsRead      bool         `json:"is_read"`
	ClientMsgID string       `json:"client_msg_id,omitempty"`
}

// Message converts w into a confirmed message from self's perspective.
func (w WireMessage) Message(self string) Message {
	m := Message{
		ID:          w.ID,
		SenderID:    w.SenderID,
		ReceiverID:  w.ReceiverID,
		Content:     w.Content,
		Attachments: slices.Clone(w.Attachments),
		CreatedAt:   w.CreatedAt,
		State:       Sent,
	}
	if w.SenderID == self {
		m.ReadByPeer = w.IsRead
	} else {
		m.Read = w.IsRead
	}
	return m
}
