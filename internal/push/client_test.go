package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"nhooyr.io/websocket"
)

// frameServer accepts websocket connections, writes frames, then closes.
func frameServer(t *testing.T, frames ...string) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var conns atomic.Int32
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns.Add(1)
		for _, f := range frames {
			if err := c.Write(r.Context(), websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		_ = c.Close(websocket.StatusNormalClosure, "bye")
	}))
	t.Cleanup(srv.Close)
	return srv, &conns, &auth
}

func TestClientDeliversFramesInOrder(t *testing.T) {
	srv, _, auth := frameServer(t, `{"n":1}`, `{"n":2}`, `{"n":3}`)

	got := make(chan string, 10)
	c := NewClient(ClientConfig{
		URL:       srv.URL,
		Token:     func(context.Context) (string, error) { return "tok", nil },
		BaseDelay: time.Hour,
	}, func(_ context.Context, data []byte) error {
		got <- string(data)
		return nil
	}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		select {
		case f := <-got:
			assert.Equal(t, want, f)
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for frame")
		}
	}
	assert.Equal(t, "Bearer tok", auth.Load())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	srv, conns, _ := frameServer(t)

	b := bus.New()
	ch, unsub := b.Subscribe("channel.", 64)
	defer unsub()
	machine := status.NewMachine(b)

	c := NewClient(ClientConfig{URL: srv.URL, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		func(context.Context, []byte) error { return nil }, machine, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	seen := map[status.State]bool{}
	for len(ch) > 0 {
		evt := <-ch
		seen[evt.Payload.(status.StatusChange).To] = true
	}
	assert.True(t, seen[status.Connected])
	assert.True(t, seen[status.Reconnecting])
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := backoff{base: 100 * time.Millisecond, max: time.Second, stableAfter: time.Minute}
	now := time.Now()

	first := b.next(now)
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 150*time.Millisecond)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.next(now)
	}
	assert.Equal(t, time.Second, last)

	b.markConnected(now)
	reset := b.next(now.Add(2 * time.Minute))
	assert.Less(t, reset, 150*time.Millisecond, "a stable connection resets the attempt counter")
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://push.example.com/ws", wsURL("https://push.example.com/ws"))
	assert.Equal(t, "ws://127.0.0.1:9/ws", wsURL("http://127.0.0.1:9/ws"))
	assert.Equal(t, "ws://already", wsURL("ws://already"))
}
