// Package selection tracks which conversation the user is viewing and turns
// viewing into read state: selecting a conversation marks it read and emits
// a single batched read receipt.
package selection

import "github.com/matheus3301/chatsync/internal/chat"

// ReceiptEmitter sends read receipts to the backend.
type ReceiptEmitter interface {
	EmitReceipts(contactID string, ids []string)
}

// Batch is the set of messages newly marked read by one selection.
type Batch struct {
	ContactID  string   `json:"contact_id"`
	MessageIDs []string `json:"message_ids"`
}

// Controller drives the active conversation of a chat.Store. Like the store,
// it must only be used from the store's writer.
type Controller struct {
	store *chat.Store
	emit  ReceiptEmitter
}

func NewController(store *chat.Store, emit ReceiptEmitter) *Controller {
	return &Controller{store: store, emit: emit}
}

// Select makes contactID the active conversation, marks its messages read and
// emits one receipt for all of them. Selecting the already active
// conversation only flushes what is still unread.
func (c *Controller) Select(contactID string) Batch {
	c.store.Ensure(contactID)
	c.store.SetActive(contactID)
	ids := c.store.MarkRead(contactID)
	if len(ids) > 0 {
		c.emit.EmitReceipts(contactID, ids)
	}
	return Batch{ContactID: contactID, MessageIDs: ids}
}

// Clear leaves the active conversation. Nothing is unmarked.
func (c *Controller) Clear() {
	c.store.SetActive("")
}

// Active returns the active conversation, or "".
func (c *Controller) Active() string {
	return c.store.Active()
}

// Viewed reports messages that were auto-read on arrival in the active
// conversation. They go out as one receipt.
func (c *Controller) Viewed(contactID string, ids ...string) {
	if len(ids) > 0 && contactID != "" && contactID == c.store.Active() {
		c.emit.EmitReceipts(contactID, ids)
	}
}
