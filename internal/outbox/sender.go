package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/pending"
	"go.uber.org/zap"
)

// Backend is the subset of the backend client the sender needs.
type Backend interface {
	Send(ctx context.Context, req backend.SendRequest) (chat.WireMessage, error)
	MarkRead(ctx context.Context, contactID string, ids []string) error
}

// Result is the outcome of one dispatched send.
type Result struct {
	TempID   string
	Message  chat.Message
	Err      error
	TimedOut bool
}

// ReceiptBatch is the payload of receipt events.
type ReceiptBatch struct {
	ContactID  string   `json:"contact_id"`
	MessageIDs []string `json:"message_ids"`
	Error      string   `json:"error,omitempty"`
}

// Sender performs outbound requests off the engine loop. Sends are
// fire-and-forget: each runs in its own goroutine bounded by a timeout and a
// cap on concurrent requests, and reports back through a callback. In-flight
// sends are never cancelled.
type Sender struct {
	backend Backend
	self    string
	timeout time.Duration
	sem     chan struct{}
	bus     *bus.Bus
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewSender creates a sender.
func NewSender(b Backend, selfID string, timeout time.Duration, maxInflight int, eb *bus.Bus, logger *zap.Logger) *Sender {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		backend: b,
		self:    selfID,
		timeout: timeout,
		sem:     make(chan struct{}, maxInflight),
		bus:     eb,
		logger:  logger,
	}
}

// Dispatch sends p in the background and calls done with the outcome.
func (s *Sender) Dispatch(tempID string, p pending.Payload, done func(Result)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		start := time.Now()
		wire, err := s.backend.Send(ctx, backend.SendRequest{
			ReceiverID:  p.ReceiverID,
			Content:     p.Content,
			Attachments: p.Attachments,
			ClientMsgID: tempID,
		})
		metrics.SendDuration.Observe(time.Since(start).Seconds())

		res := Result{TempID: tempID}
		switch {
		case err != nil:
			res.Err = err
			res.TimedOut = errors.Is(err, context.DeadlineExceeded)
			s.logger.Error("send failed", zap.String("temp_id", tempID), zap.Bool("timed_out", res.TimedOut), zap.Error(err))
		default:
			res.Message = wire.Message(s.self)
			s.logger.Debug("send acknowledged", zap.String("temp_id", tempID), zap.String("msg_id", wire.ID))
		}
		done(res)
	}()
}

// EmitReceipts reports ids from contactID as read, in one request.
func (s *Sender) EmitReceipts(contactID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	ids = append([]string(nil), ids...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		batch := ReceiptBatch{ContactID: contactID, MessageIDs: ids}
		if err := s.backend.MarkRead(ctx, contactID, ids); err != nil {
			s.logger.Error("read receipt failed", zap.String("contact_id", contactID), zap.Int("count", len(ids)), zap.Error(err))
			batch.Error = err.Error()
			s.publish(bus.KindReceiptsFailed, batch)
			return
		}
		metrics.ReceiptsEmitted.Add(float64(len(ids)))
		s.publish(bus.KindReceiptsSent, batch)
	}()
}

// Wait blocks until every in-flight request has finished or ctx is done.
func (s *Sender) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: kind, Payload: payload})
	}
}
