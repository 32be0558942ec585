package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestTypingExpiresWithoutRefresh(t *testing.T) {
	tr := NewTracker(5 * time.Second)

	assert.True(t, tr.SetTyping("agent", true, t0))
	c, _ := tr.Get("agent", t0.Add(4*time.Second))
	assert.True(t, c.Typing)

	c, _ = tr.Get("agent", t0.Add(5*time.Second))
	assert.False(t, c.Typing, "typing must clear without an explicit false event")
	assert.Equal(t, []string{"agent"}, tr.Sweep(t0.Add(5*time.Second)))
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	tr := NewTracker(5 * time.Second)
	tr.SetTyping("agent", true, t0)
	assert.False(t, tr.SetTyping("agent", true, t0.Add(3*time.Second)), "refresh is not a visible change")

	c, _ := tr.Get("agent", t0.Add(7*time.Second))
	assert.True(t, c.Typing)
	assert.Empty(t, tr.Sweep(t0.Add(7*time.Second)))
}

func TestSetTypingFalseClears(t *testing.T) {
	tr := NewTracker(5 * time.Second)
	tr.SetTyping("agent", true, t0)
	assert.True(t, tr.SetTyping("agent", false, t0.Add(time.Second)))
	assert.False(t, tr.SetTyping("agent", false, t0.Add(time.Second)), "idempotent")

	c, _ := tr.Get("agent", t0.Add(time.Second))
	assert.False(t, c.Typing)
}

func TestSetOnlineIsIdempotent(t *testing.T) {
	tr := NewTracker(time.Second)

	assert.True(t, tr.SetOnline("agent", true, t0))
	assert.False(t, tr.SetOnline("agent", true, t0.Add(time.Second)))
	assert.True(t, tr.SetOnline("agent", false, t0.Add(2*time.Second)))

	c, ok := tr.Get("agent", t0.Add(3*time.Second))
	require.True(t, ok)
	assert.False(t, c.Online)
	assert.Equal(t, t0.Add(2*time.Second), c.LastSeen)

	tr.SetOnline("agent", false, t0.Add(10*time.Second))
	c, _ = tr.Get("agent", t0.Add(10*time.Second))
	assert.Equal(t, t0.Add(2*time.Second), c.LastSeen, "repeated offline keeps the original last-seen")
}

func TestSeedDoesNotOverrideLiveState(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.Seed(Contact{ID: "agent", DisplayName: "Dana (Agent)", Online: true, LastSeen: t0})

	c, _ := tr.Get("agent", t0)
	assert.True(t, c.Online)
	assert.Equal(t, "Dana (Agent)", c.DisplayName)

	tr.SetOnline("agent", false, t0.Add(time.Minute))
	tr.Seed(Contact{ID: "agent", Online: true, LastSeen: t0.Add(2 * time.Minute)})

	c, _ = tr.Get("agent", t0.Add(3*time.Minute))
	assert.False(t, c.Online)
	assert.Equal(t, "Dana (Agent)", c.DisplayName)
}

func TestListOrdered(t *testing.T) {
	tr := NewTracker(time.Second)
	tr.SetOnline("b", true, t0)
	tr.Seed(Contact{ID: "a"})

	list := tr.List(t0)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
}
