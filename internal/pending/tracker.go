package pending

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/oklog/ulid/v2"
)

// TempPrefix marks locally generated ids. Server ids are UUIDs, so the two
// spaces never collide.
const TempPrefix = "tmp_"

var (
	ErrUnknown    = errors.New("unknown pending send")
	ErrNotPending = errors.New("send is no longer pending")
)

// Payload is the outbound content of a send.
type Payload struct {
	ReceiverID  string            `json:"receiver_id"`
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

// Entry is a submitted message awaiting server confirmation.
type Entry struct {
	TempID    string
	Payload   Payload
	State     chat.DeliveryState
	CreatedAt time.Time
	Reason    string
}

// Tracker holds unconfirmed sends. It is not safe for concurrent use.
type Tracker struct {
	timeout time.Duration
	entries map[string]*Entry
}

// NewTracker creates a tracker that fails entries outstanding longer than timeout.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{timeout: timeout, entries: make(map[string]*Entry)}
}

// IsTemp reports whether id was generated by NewTempID.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// NewTempID returns a fresh, lexically increasing temporary id.
func NewTempID() string {
	return TempPrefix + ulid.Make().String()
}

// Create registers a new pending send and returns it.
func (t *Tracker) Create(p Payload, now time.Time) Entry {
	e := &Entry{
		TempID:    NewTempID(),
		Payload:   Payload{ReceiverID: p.ReceiverID, Content: p.Content, Attachments: slices.Clone(p.Attachments)},
		State:     chat.Pending,
		CreatedAt: now,
	}
	t.entries[e.TempID] = e
	return *e
}

// Confirm removes a pending entry once the server acknowledged it.
func (t *Tracker) Confirm(tempID string) (Entry, error) {
	e, ok := t.entries[tempID]
	if !ok {
		return Entry{}, ErrUnknown
	}
	if e.State != chat.Pending {
		return *e, ErrNotPending
	}
	delete(t.entries, tempID)
	return *e, nil
}

// Fail marks a pending entry failed. Failed entries are kept until Remove.
func (t *Tracker) Fail(tempID, reason string) (Entry, error) {
	e, ok := t.entries[tempID]
	if !ok {
		return Entry{}, ErrUnknown
	}
	if e.State != chat.Pending {
		return *e, ErrNotPending
	}
	e.State = chat.Failed
	e.Reason = reason
	return *e, nil
}

// Expire fails every pending entry older than the timeout and returns them.
func (t *Tracker) Expire(now time.Time) []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.State == chat.Pending && now.Sub(e.CreatedAt) >= t.timeout {
			e.State = chat.Failed
			e.Reason = "timed out"
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TempID < out[j].TempID })
	return out
}

// MatchEcho finds the entry an inbound copy of the user's own message belongs
// to. An explicit client id wins. Otherwise the oldest pending entry to the
// same receiver with an identical body is chosen, and failing that the oldest
// such failed entry, whose send may have reached the server after it timed out.
func (t *Tracker) MatchEcho(clientMsgID string, m *chat.Message) (string, bool) {
	if clientMsgID != "" {
		if _, ok := t.entries[clientMsgID]; ok {
			return clientMsgID, true
		}
		return "", false
	}
	var pending, failed *Entry
	for _, e := range t.entries {
		if e.Payload.ReceiverID != m.ReceiverID || !e.Payload.message().SameBody(m) {
			continue
		}
		switch e.State {
		case chat.Pending:
			pending = older(pending, e)
		case chat.Failed:
			failed = older(failed, e)
		}
	}
	if pending != nil {
		return pending.TempID, true
	}
	if failed != nil {
		return failed.TempID, true
	}
	return "", false
}

func older(best, e *Entry) *Entry {
	if best == nil || e.CreatedAt.Before(best.CreatedAt) ||
		(e.CreatedAt.Equal(best.CreatedAt) && e.TempID < best.TempID) {
		return e
	}
	return best
}

func (p Payload) message() *chat.Message {
	return &chat.Message{ReceiverID: p.ReceiverID, Content: p.Content, Attachments: p.Attachments}
}

// Get returns a copy of the entry.
func (t *Tracker) Get(tempID string) (Entry, bool) {
	e, ok := t.entries[tempID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove forgets an entry.
func (t *Tracker) Remove(tempID string) {
	delete(t.entries, tempID)
}

// Outstanding counts entries still waiting for the server.
func (t *Tracker) Outstanding() int {
	n := 0
	for _, e := range t.entries {
		if e.State == chat.Pending {
			n++
		}
	}
	return n
}
