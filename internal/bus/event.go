package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so the
// part before the first dot is the namespace.
const (
	KindMessageAppended  = "message.appended"
	KindMessageConfirmed = "message.confirmed"
	KindMessageFailed    = "message.failed"
	KindMessageRemoved   = "message.removed"
	KindMessageReadPeer  = "message.read_by_peer"
	KindConversationRead = "conversation.read"
	KindContactsSeeded   = "conversation.seeded"
	KindTypingChanged    = "presence.typing"
	KindPresenceChanged  = "presence.online"
	KindReceiptsSent     = "receipt.sent"
	KindReceiptsFailed   = "receipt.failed"
	KindChannelStatus    = "channel.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`

	// Missed counts events this subscriber lost to a full buffer just before
	// this one. A non-zero value means local views should be refetched.
	Missed int `json:"missed,omitempty"`
}
