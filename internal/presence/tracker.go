package presence

import (
	"sort"
	"time"

	"github.com/matheus3301/chatsync/internal/expiry"
)

// Contact is the presence view of a contact.
type Contact struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Typing      bool      `json:"typing"`

	live bool
}

// Tracker keeps online/last-seen state and self-expiring typing flags.
// It is not safe for concurrent use.
type Tracker struct {
	contacts map[string]*Contact
	typing   *expiry.Set[string, struct{}]
}

// NewTracker creates a tracker whose typing flags clear after typingTTL
// without a refresh.
func NewTracker(typingTTL time.Duration) *Tracker {
	return &Tracker{
		contacts: make(map[string]*Contact),
		typing:   expiry.New[string, struct{}](typingTTL),
	}
}

// Seed merges directory metadata. The directory's online baseline is applied
// only until the first live presence event for the contact.
func (t *Tracker) Seed(c Contact) {
	cur := t.ensure(c.ID)
	if c.DisplayName != "" {
		cur.DisplayName = c.DisplayName
	}
	if c.AvatarURL != "" {
		cur.AvatarURL = c.AvatarURL
	}
	if !cur.live {
		cur.Online = c.Online
		if c.LastSeen.After(cur.LastSeen) {
			cur.LastSeen = c.LastSeen
		}
	}
}

// SetOnline overwrites the online flag. Going offline stamps last-seen.
// Returns whether anything changed.
func (t *Tracker) SetOnline(id string, online bool, now time.Time) bool {
	c := t.ensure(id)
	changed := c.Online != online
	c.live = true
	c.Online = online
	if online || changed {
		c.LastSeen = now
	}
	return changed
}

// SetTyping sets or clears the typing flag. A true value must be refreshed
// within the TTL or it lapses on its own. Returns whether the visible flag changed.
func (t *Tracker) SetTyping(id string, typing bool, now time.Time) bool {
	t.ensure(id)
	was := t.typing.Has(id, now)
	if typing {
		t.typing.Touch(id, struct{}{}, now)
	} else {
		t.typing.Delete(id)
	}
	return was != typing
}

// ClearTyping drops the typing flag, used when the contact's message arrives.
func (t *Tracker) ClearTyping(id string) {
	t.typing.Delete(id)
}

// Get returns the contact's presence as of now.
func (t *Tracker) Get(id string, now time.Time) (Contact, bool) {
	c, ok := t.contacts[id]
	if !ok {
		return Contact{ID: id}, false
	}
	out := *c
	out.Typing = t.typing.Has(id, now)
	return out, true
}

// List returns all known contacts ordered by id.
func (t *Tracker) List(now time.Time) []Contact {
	out := make([]Contact, 0, len(t.contacts))
	for id := range t.contacts {
		c, _ := t.Get(id, now)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Sweep clears lapsed typing flags and returns the affected contact ids.
func (t *Tracker) Sweep(now time.Time) []string {
	expired := t.typing.Sweep(now)
	sort.Strings(expired)
	return expired
}

func (t *Tracker) ensure(id string) *Contact {
	c, ok := t.contacts[id]
	if !ok {
		c = &Contact{ID: id}
		t.contacts[id] = c
	}
	return c
}
