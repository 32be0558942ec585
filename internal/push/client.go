package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const maxFrameSize = 1 << 20

// FrameHandler consumes one raw push frame. It may block; the read loop
// waits for it before reading the next frame, which keeps frames in order.
type FrameHandler func(ctx context.Context, data []byte) error

// TokenFunc returns the bearer token presented when dialing.
type TokenFunc func(ctx context.Context) (string, error)

// ClientConfig configures the push channel client.
type ClientConfig struct {
	URL         string
	Token       TokenFunc
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StableAfter time.Duration
}

// Client keeps a websocket to the push endpoint open, reconnecting with
// backoff, and feeds every frame to a handler. Gaps while disconnected are
// not replayed.
type Client struct {
	cfg     ClientConfig
	handle  FrameHandler
	machine *status.Machine
	logger  *zap.Logger
	recon   backoff
}

// NewClient creates a push client. machine may be nil.
func NewClient(cfg ClientConfig, handle FrameHandler, machine *status.Machine, logger *zap.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		handle:  handle,
		machine: machine,
		logger:  logger,
		recon:   backoff{base: cfg.BaseDelay, max: cfg.MaxDelay, stableAfter: cfg.StableAfter},
	}
}

// Run connects and reads until ctx is cancelled. It only returns ctx's error.
func (c *Client) Run(ctx context.Context) error {
	for {
		c.transition(status.Connecting)
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.transition(status.Disconnected)
			return ctx.Err()
		}

		delay := c.recon.next(time.Now())
		c.transition(status.Reconnecting)
		metrics.PushReconnects.Inc()
		c.logger.Warn("push channel lost, reconnecting",
			zap.Error(err),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.transition(status.Disconnected)
			return ctx.Err()
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	opts := &websocket.DialOptions{HTTPHeader: http.Header{}}
	if c.cfg.Token != nil {
		token, err := c.cfg.Token(ctx)
		if err != nil {
			return fmt.Errorf("push token: %w", err)
		}
		opts.HTTPHeader.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, wsURL(c.cfg.URL), opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(maxFrameSize)

	c.recon.markConnected(time.Now())
	c.transition(status.Connected)
	c.logger.Info("push channel connected", zap.String("url", c.cfg.URL))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errors.New("server closed the push channel")
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if err := c.handle(ctx, data); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) transition(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}

func wsURL(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}
