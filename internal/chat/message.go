package chat

import (
	"slices"
	"time"
)

// DeliveryState is the sender-side lifecycle of a message.
type DeliveryState string

const (
	Pending DeliveryState = "pending"
	Sent    DeliveryState = "sent"
	Failed  DeliveryState = "failed"
)

// AttachmentType classifies an attachment descriptor.
type AttachmentType string

const (
	Image    AttachmentType = "image"
	Document AttachmentType = "document"
)

// Attachment describes an already-uploaded file referenced by a message.
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name"`
}

// Message is a direct message between the local user and a contact.
//
// Before confirmation ID holds the locally generated temporary id and
// TempID is equal to it. After confirmation ID is the server id and
// TempID keeps the temporary id it replaced, if any.
type Message struct {
	ID          string        `json:"id"`
	TempID      string        `json:"temp_id,omitempty"`
	SenderID    string        `json:"sender_id"`
	ReceiverID  string        `json:"receiver_id"`
	Content     string        `json:"content"`
	Attachments []Attachment  `json:"attachments,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Read        bool          `json:"read"`
	ReadByPeer  bool          `json:"read_by_peer"`
	State       DeliveryState `json:"state"`
}

// Confirmed reports whether the message carries a server identity.
func (m *Message) Confirmed() bool {
	return m.State == Sent
}

// Clone returns a deep copy safe to hand out of the store.
func (m *Message) Clone() Message {
	c := *m
	c.Attachments = slices.Clone(m.Attachments)
	return c
}

// SameBody reports whether two messages carry identical content and attachments.
func (m *Message) SameBody(o *Message) bool {
	return m.Content == o.Content && slices.Equal(m.Attachments, o.Attachments)
}

// Preview returns a short single-line summary used by conversation listings.
func (m *Message) Preview(maxLen int) string {
	s := m.Content
	if s == "" && len(m.Attachments) > 0 {
		s = "[" + string(m.Attachments[0].Type) + "] " + m.Attachments[0].Name
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
