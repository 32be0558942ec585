package chat

import (
	"errors"
	"slices"
	"sort"
	"time"
)

var (
	ErrNotFound  = errors.New("message not found")
	ErrNotFailed = errors.New("message is not in failed state")
)

// Conversation is the ordered message list exchanged with one contact.
type Conversation struct {
	ContactID string

	messages []*Message
	byID     map[string]*Message
	unread   int
}

// Summary is a read-only view of a conversation used by listings.
type Summary struct {
	ContactID   string   `json:"contact_id"`
	UnreadCount int      `json:"unread_count"`
	Last        *Message `json:"last_message,omitempty"`
}

// Store holds every conversation of the local user. It is not safe for
// concurrent use; the sync engine is its only writer.
type Store struct {
	self   string
	active string
	convs  map[string]*Conversation
	temps  map[string]string // temp id -> contact id
}

// NewStore creates an empty store for the given local user id.
func NewStore(selfID string) *Store {
	return &Store{
		self:  selfID,
		convs: make(map[string]*Conversation),
		temps: make(map[string]string),
	}
}

// Self returns the local user id.
func (s *Store) Self() string {
	return s.self
}

// ContactOf returns the remote party of a message from the local user's perspective.
func (s *Store) ContactOf(m *Message) string {
	if m.SenderID == s.self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Ensure returns the conversation for contactID, creating it if needed.
func (s *Store) Ensure(contactID string) *Conversation {
	c, ok := s.convs[contactID]
	if !ok {
		c = &Conversation{ContactID: contactID, byID: make(map[string]*Message)}
		s.convs[contactID] = c
	}
	return c
}

// SetActive records which conversation the user is looking at. Empty clears it.
func (s *Store) SetActive(contactID string) {
	s.active = contactID
}

// Active returns the active conversation's contact id, or "".
func (s *Store) Active() string {
	return s.active
}

// Append inserts m in chronological order. Messages with an id already present
// are ignored and reported as duplicates. Inbound messages appended to the
// active conversation are marked read.
func (s *Store) Append(contactID string, m Message) (duplicate bool) {
	c := s.Ensure(contactID)
	if _, ok := c.byID[m.ID]; ok {
		return true
	}
	msg := m.Clone()
	if contactID == s.active && s.inbound(&msg) {
		msg.Read = true
	}
	c.insert(&msg)
	if s.countsUnread(&msg) {
		c.unread++
	}
	if msg.State == Pending || msg.State == Failed {
		s.temps[msg.ID] = contactID
	}
	return false
}

// Replace swaps the optimistic entry tempID for its confirmed counterpart in
// place. The entry keeps its position unless the confirmed timestamp puts it
// out of order with its neighbours, in which case it is moved.
func (s *Store) Replace(tempID string, confirmed Message) error {
	contactID, ok := s.temps[tempID]
	if !ok {
		return ErrNotFound
	}
	c := s.convs[contactID]
	old := c.byID[tempID]
	delete(s.temps, tempID)

	if existing, dup := c.byID[confirmed.ID]; dup && existing != old {
		// The confirmed copy already arrived through another path.
		existing.ReadByPeer = existing.ReadByPeer || old.ReadByPeer
		if existing.TempID == "" {
			existing.TempID = tempID
		}
		if s.countsUnread(old) {
			c.unread--
		}
		c.remove(old)
		return nil
	}

	if s.countsUnread(old) {
		c.unread--
	}
	next := confirmed.Clone()
	next.TempID = tempID
	next.State = Sent
	next.ReadByPeer = next.ReadByPeer || old.ReadByPeer
	*old = next
	delete(c.byID, tempID)
	c.byID[next.ID] = old
	if s.countsUnread(old) {
		c.unread++
	}
	c.reposition(old)
	return nil
}

// MarkRead marks every inbound message of the conversation read and returns
// the ids that changed.
func (s *Store) MarkRead(contactID string) []string {
	c, ok := s.convs[contactID]
	if !ok {
		return nil
	}
	var ids []string
	for _, m := range c.messages {
		if s.inbound(m) && !m.Read {
			m.Read = true
			ids = append(ids, m.ID)
		}
	}
	c.unread = 0
	return ids
}

// MarkReadByPeer records that the contact has read the given messages sent by
// the local user. It returns the ids newly marked and the ids not present in
// the conversation. Ids of the contact's own messages are neither. A receipt
// never creates a conversation.
func (s *Store) MarkReadByPeer(contactID string, ids []string) (marked, missing []string) {
	c, ok := s.convs[contactID]
	if !ok {
		return nil, slices.Clone(ids)
	}
	for _, id := range ids {
		m, ok := c.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if m.SenderID == s.self && m.Confirmed() && !m.ReadByPeer {
			m.ReadByPeer = true
			marked = append(marked, id)
		}
	}
	return marked, missing
}

// Fail transitions an optimistic entry to Failed. It stays visible.
func (s *Store) Fail(tempID string) error {
	m, err := s.temp(tempID)
	if err != nil {
		return err
	}
	m.State = Failed
	return nil
}

// Remove deletes a failed entry on explicit user request.
func (s *Store) Remove(tempID string) error {
	m, err := s.temp(tempID)
	if err != nil {
		return err
	}
	if m.State != Failed {
		return ErrNotFailed
	}
	c := s.convs[s.temps[tempID]]
	if s.countsUnread(m) {
		c.unread--
	}
	c.remove(m)
	delete(s.temps, tempID)
	return nil
}

// Lookup returns a copy of the message with the given id in a conversation.
func (s *Store) Lookup(contactID, id string) (Message, bool) {
	c, ok := s.convs[contactID]
	if !ok {
		return Message{}, false
	}
	m, ok := c.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// Messages returns copies of the conversation's messages in display order.
func (s *Store) Messages(contactID string) []Message {
	c, ok := s.convs[contactID]
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Clone())
	}
	return out
}

// Unread returns the conversation's unread counter.
func (s *Store) Unread(contactID string) int {
	if c, ok := s.convs[contactID]; ok {
		return c.unread
	}
	return 0
}

// Summaries lists conversations, most recent activity first.
func (s *Store) Summaries() []Summary {
	out := make([]Summary, 0, len(s.convs))
	for id, c := range s.convs {
		sum := Summary{ContactID: id, UnreadCount: c.unread}
		if n := len(c.messages); n > 0 {
			last := c.messages[n-1].Clone()
			sum.Last = &last
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := lastAt(out[i]), lastAt(out[j])
		if ti.Equal(tj) {
			return out[i].ContactID < out[j].ContactID
		}
		return ti.After(tj)
	})
	return out
}

func lastAt(s Summary) time.Time {
	if s.Last == nil {
		return time.Time{}
	}
	return s.Last.CreatedAt
}

func (s *Store) temp(tempID string) (*Message, error) {
	contactID, ok := s.temps[tempID]
	if !ok {
		return nil, ErrNotFound
	}
	m, ok := s.convs[contactID].byID[tempID]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Store) inbound(m *Message) bool {
	return m.SenderID != s.self
}

func (s *Store) countsUnread(m *Message) bool {
	return s.inbound(m) && !m.Read
}

// insert places m after every message with a timestamp <= m.CreatedAt, so
// equal timestamps keep arrival order.
func (c *Conversation) insert(m *Message) {
	i := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(m.CreatedAt)
	})
	c.messages = slices.Insert(c.messages, i, m)
	c.byID[m.ID] = m
}

func (c *Conversation) remove(m *Message) {
	if i := slices.Index(c.messages, m); i >= 0 {
		c.messages = slices.Delete(c.messages, i, i+1)
	}
	if c.byID[m.ID] == m {
		delete(c.byID, m.ID)
	}
}

func (c *Conversation) reposition(m *Message) {
	i := slices.Index(c.messages, m)
	if i < 0 {
		return
	}
	before := i > 0 && c.messages[i-1].CreatedAt.After(m.CreatedAt)
	after := i < len(c.messages)-1 && c.messages[i+1].CreatedAt.Before(m.CreatedAt)
	if !before && !after {
		return
	}
	c.messages = slices.Delete(c.messages, i, i+1)
	c.insert(m)
}
