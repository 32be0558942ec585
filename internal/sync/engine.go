// Package sync is the reconciliation engine. It owns the conversation store,
// the pending-send tracker and the presence tracker, and serializes every
// mutation (user actions, send results and push frames) through one loop.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/expiry"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/selection"
	"go.uber.org/zap"
)

var (
	ErrStopped           = errors.New("sync engine stopped")
	ErrEmptyMessage      = errors.New("message has no content and no attachments")
	ErrInvalidReceiver   = errors.New("invalid receiver")
	ErrInvalidAttachment = errors.New("invalid attachment")
	ErrPanic             = errors.New("engine operation panicked")
)

// Outbound performs network requests on behalf of the engine. Implementations
// must not block: Dispatch reports through done from another goroutine.
type Outbound interface {
	Dispatch(tempID string, p pending.Payload, done func(outbox.Result))
	EmitReceipts(contactID string, ids []string)
}

// Journal persists confirmed state. Failures are logged and never undo the
// in-memory mutation.
type Journal interface {
	SaveMessage(contactID string, m chat.Message) error
	MarkMessagesRead(ids []string) error
	MarkMessagesReadByPeer(ids []string) error
}

// Options tunes the engine. Zero durations fall back to defaults.
type Options struct {
	SelfID           string
	SendTimeout      time.Duration
	TypingTTL        time.Duration
	OrphanReceiptTTL time.Duration
	// SweepInterval drives expiry of sends, typing flags and orphan receipts.
	// Negative disables the ticker; Sweep can then be called directly.
	SweepInterval time.Duration
	Now           func() time.Time
}

func (o *Options) defaults() {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 6 * time.Second
	}
	if o.OrphanReceiptTTL <= 0 {
		o.OrphanReceiptTTL = 10 * time.Second
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine is the single writer of all conversation and presence state.
type Engine struct {
	opts      Options
	store     *chat.Store
	pending   *pending.Tracker
	presence  *presence.Tracker
	selection *selection.Controller
	router    *push.Router
	// orphans holds receipts for messages not seen yet: message id -> reader id.
	orphans *expiry.Set[string, string]

	out     Outbound
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger

	ops    chan func()
	done   chan struct{}
	cancel context.CancelFunc
}

// NewEngine creates an engine. journal may be nil.
func NewEngine(opts Options, out Outbound, journal Journal, b *bus.Bus, logger *zap.Logger) *Engine {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	store := chat.NewStore(opts.SelfID)
	e := &Engine{
		opts:     opts,
		store:    store,
		pending:  pending.NewTracker(opts.SendTimeout),
		presence: presence.NewTracker(opts.TypingTTL),
		orphans:  expiry.New[string, string](opts.OrphanReceiptTTL),
		out:      out,
		journal:  journal,
		bus:      b,
		logger:   logger,
		ops:      make(chan func()),
		done:     make(chan struct{}),
	}
	e.selection = selection.NewController(store, out)
	e.router = push.NewRouter(opts.SelfID, sink{e}, logger.Named("router"))
	return e
}

// SelfID returns the local user id.
func (e *Engine) SelfID() string {
	return e.opts.SelfID
}

// Start runs the engine loop until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.run(ctx)
}

// Stop ends the loop and waits for the operation in progress to finish.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	var tick <-chan time.Time
	if e.opts.SweepInterval > 0 {
		t := time.NewTicker(e.opts.SweepInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case op := <-e.ops:
			op()
		case <-tick:
			_ = e.guard(e.sweep)
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(fn func()) error {
	errc := make(chan error, 1)
	op := func() { errc <- e.guard(fn) }
	select {
	case e.ops <- op:
	case <-e.done:
		return ErrStopped
	}
	return <-errc
}

// guard contains a panic to the operation that raised it.
func (e *Engine) guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EnginePanics.Inc()
			e.logger.Error("engine operation panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	fn()
	return nil
}

// HandleFrame routes one raw push frame. It is the push client's FrameHandler.
func (e *Engine) HandleFrame(_ context.Context, data []byte) error {
	var routeErr error
	if err := e.do(func() { routeErr = e.router.Route(data) }); err != nil {
		return err
	}
	return routeErr
}

// Sweep runs one expiry pass immediately.
func (e *Engine) Sweep() error {
	return e.do(e.sweep)
}

func (e *Engine) sweep() {
	now := e.opts.Now()
	for _, entry := range e.pending.Expire(now) {
		metrics.Sends.WithLabelValues("timed_out").Inc()
		e.logger.Warn("send timed out",
			zap.String("temp_id", entry.TempID),
			zap.Duration("after", now.Sub(entry.CreatedAt)))
		e.markFailed(entry)
	}
	for _, id := range e.presence.Sweep(now) {
		e.publish(bus.KindTypingChanged, TypingChange{ContactID: id, Typing: false})
	}
	if expired := e.orphans.Sweep(now); len(expired) > 0 {
		metrics.OrphanReceipts.WithLabelValues("expired").Add(float64(len(expired)))
		e.logger.Debug("orphan receipts expired", zap.Strings("msg_ids", expired))
	}
}

// Send submits a message optimistically. The returned message is the pending
// entry; its confirmation arrives asynchronously.
func (e *Engine) Send(receiverID, content string, attachments []chat.Attachment) (chat.Message, error) {
	if receiverID == "" || receiverID == e.opts.SelfID {
		return chat.Message{}, ErrInvalidReceiver
	}
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}
	for i, a := range attachments {
		if (a.Type != chat.Image && a.Type != chat.Document) || a.URL == "" {
			return chat.Message{}, fmt.Errorf("%w: #%d", ErrInvalidAttachment, i)
		}
	}

	var m chat.Message
	err := e.do(func() {
		m = e.submit(pending.Payload{ReceiverID: receiverID, Content: content, Attachments: attachments})
	})
	return m, err
}

// Retry re-sends a failed message as a new pending entry. The failed entry is
// removed.
func (e *Engine) Retry(tempID string) (chat.Message, error) {
	var (
		m   chat.Message
		err error
	)
	if derr := e.do(func() {
		var entry pending.Entry
		entry, err = e.takeFailed(tempID)
		if err != nil {
			return
		}
		m = e.submit(entry.Payload)
	}); derr != nil {
		return chat.Message{}, derr
	}
	return m, err
}

// Discard removes a failed message.
func (e *Engine) Discard(tempID string) error {
	var err error
	if derr := e.do(func() { _, err = e.takeFailed(tempID) }); derr != nil {
		return derr
	}
	return err
}

// Select makes contactID the active conversation and marks it read.
func (e *Engine) Select(contactID string) (selection.Batch, error) {
	if contactID == "" || contactID == e.opts.SelfID {
		return selection.Batch{}, ErrInvalidReceiver
	}
	var batch selection.Batch
	err := e.do(func() {
		batch = e.selection.Select(contactID)
		if len(batch.MessageIDs) == 0 {
			return
		}
		e.journalRead(batch.MessageIDs)
		e.publish(bus.KindConversationRead, batch)
	})
	return batch, err
}

// Clear leaves the active conversation.
func (e *Engine) Clear() error {
	return e.do(e.selection.Clear)
}

// Active returns the active conversation, or "".
func (e *Engine) Active() (string, error) {
	var id string
	err := e.do(func() { id = e.selection.Active() })
	return id, err
}

// Messages returns the conversation in display order.
func (e *Engine) Messages(contactID string) ([]chat.Message, error) {
	var msgs []chat.Message
	err := e.do(func() { msgs = e.store.Messages(contactID) })
	return msgs, err
}

// Conversations lists conversations, most recent activity first.
func (e *Engine) Conversations() ([]chat.Summary, error) {
	var sums []chat.Summary
	err := e.do(func() { sums = e.store.Summaries() })
	return sums, err
}

// Presence returns the presence view of one contact.
func (e *Engine) Presence(contactID string) (presence.Contact, error) {
	var c presence.Contact
	err := e.do(func() { c, _ = e.presence.Get(contactID, e.opts.Now()) })
	return c, err
}

// Contacts returns the presence view of every known contact.
func (e *Engine) Contacts() ([]presence.Contact, error) {
	var list []presence.Contact
	err := e.do(func() { list = e.presence.List(e.opts.Now()) })
	return list, err
}

// Outstanding counts sends still waiting for the server.
func (e *Engine) Outstanding() (int, error) {
	var n int
	err := e.do(func() { n = e.pending.Outstanding() })
	return n, err
}

// SeedContacts applies a directory listing: each contact gets a presence
// baseline and an (possibly empty) conversation.
func (e *Engine) SeedContacts(contacts []presence.Contact) error {
	return e.do(func() {
		for _, c := range contacts {
			if c.ID == "" || c.ID == e.opts.SelfID {
				continue
			}
			e.presence.Seed(c)
			e.store.Ensure(c.ID)
		}
		e.publish(bus.KindContactsSeeded, len(contacts))
	})
}

// Restore merges confirmed history into a conversation. Known ids are skipped.
// It returns how many messages were new.
func (e *Engine) Restore(contactID string, msgs []chat.Message, persist bool) (int, error) {
	added := 0
	err := e.do(func() {
		var viewed []string
		for _, m := range msgs {
			m.State = chat.Sent
			if !e.ingest(contactID, m, persist) {
				continue
			}
			added++
			if stored, ok := e.store.Lookup(contactID, m.ID); ok && stored.Read && !m.Read {
				viewed = append(viewed, m.ID)
			}
		}
		if len(viewed) == 0 {
			return
		}
		// Landed in the open conversation.
		if !persist {
			e.journalRead(viewed)
		}
		e.selection.Viewed(contactID, viewed...)
	})
	return added, err
}

func (e *Engine) submit(p pending.Payload) chat.Message {
	now := e.opts.Now()
	entry := e.pending.Create(p, now)
	m := chat.Message{
		ID:          entry.TempID,
		TempID:      entry.TempID,
		SenderID:    e.opts.SelfID,
		ReceiverID:  p.ReceiverID,
		Content:     p.Content,
		Attachments: entry.Payload.Attachments,
		CreatedAt:   now,
		State:       chat.Pending,
	}
	e.store.Append(p.ReceiverID, m)
	metrics.PendingSends.Set(float64(e.pending.Outstanding()))
	e.publish(bus.KindMessageAppended, MessageChange{ContactID: p.ReceiverID, TempID: entry.TempID, Message: m})
	e.logger.Debug("send submitted", zap.String("temp_id", entry.TempID), zap.String("receiver_id", p.ReceiverID))

	e.out.Dispatch(entry.TempID, entry.Payload, e.onSendResult)
	return m.Clone()
}

func (e *Engine) takeFailed(tempID string) (pending.Entry, error) {
	entry, ok := e.pending.Get(tempID)
	if !ok {
		return pending.Entry{}, pending.ErrUnknown
	}
	if entry.State != chat.Failed {
		return pending.Entry{}, chat.ErrNotFailed
	}
	if err := e.store.Remove(tempID); err != nil {
		return pending.Entry{}, err
	}
	e.pending.Remove(tempID)
	e.publish(bus.KindMessageRemoved, MessageChange{ContactID: entry.Payload.ReceiverID, TempID: tempID})
	return entry, nil
}

func (e *Engine) onSendResult(res outbox.Result) {
	if err := e.do(func() { e.applySendResult(res) }); err != nil {
		e.logger.Warn("send result not applied", zap.String("temp_id", res.TempID), zap.Error(err))
	}
}

func (e *Engine) applySendResult(res outbox.Result) {
	if res.Err != nil {
		reason := res.Err.Error()
		if res.TimedOut {
			reason = "timed out"
		}
		entry, err := e.pending.Fail(res.TempID, reason)
		if err != nil {
			// Already confirmed by an echo, or already timed out.
			e.logger.Debug("send error for settled entry", zap.String("temp_id", res.TempID), zap.Error(err))
			return
		}
		metrics.Sends.WithLabelValues("failed").Inc()
		e.markFailed(entry)
		return
	}

	_, err := e.pending.Confirm(res.TempID)
	switch {
	case err == nil:
		metrics.Sends.WithLabelValues("confirmed").Inc()
		e.confirm(res.TempID, res.Message)
	case errors.Is(err, pending.ErrNotPending):
		// The local timeout fired first. The server's word wins.
		e.logger.Warn("send confirmed after it was failed", zap.String("temp_id", res.TempID), zap.String("msg_id", res.Message.ID))
		e.pending.Remove(res.TempID)
		metrics.Sends.WithLabelValues("confirmed_late").Inc()
		e.confirm(res.TempID, res.Message)
	default:
		// The echo settled it already; Append deduplicates.
		e.ingest(e.store.ContactOf(&res.Message), res.Message, true)
	}
}

func (e *Engine) markFailed(entry pending.Entry) {
	if err := e.store.Fail(entry.TempID); err != nil {
		e.logger.Error("failed send missing from store", zap.String("temp_id", entry.TempID), zap.Error(err))
	}
	metrics.PendingSends.Set(float64(e.pending.Outstanding()))
	e.publish(bus.KindMessageFailed, SendFailure{
		ContactID: entry.Payload.ReceiverID,
		TempID:    entry.TempID,
		Reason:    entry.Reason,
	})
}

// confirm promotes the optimistic entry tempID to its confirmed form.
func (e *Engine) confirm(tempID string, m chat.Message) {
	contactID := e.store.ContactOf(&m)
	metrics.PendingSends.Set(float64(e.pending.Outstanding()))
	if err := e.store.Replace(tempID, m); err != nil {
		// The entry was discarded; keep the server copy.
		e.ingest(contactID, m, true)
		return
	}
	e.applyOrphan(contactID, m.ID)
	stored, _ := e.store.Lookup(contactID, m.ID)
	e.persist(contactID, stored)
	e.logger.Info("send confirmed", zap.String("temp_id", tempID), zap.String("msg_id", m.ID))
	e.publish(bus.KindMessageConfirmed, MessageChange{ContactID: contactID, TempID: tempID, Message: stored})
}

// ingest appends a confirmed message. It returns false for duplicates.
func (e *Engine) ingest(contactID string, m chat.Message, persist bool) bool {
	if e.store.Append(contactID, m) {
		metrics.Duplicates.Inc()
		return false
	}
	e.applyOrphan(contactID, m.ID)
	stored, _ := e.store.Lookup(contactID, m.ID)
	if persist {
		e.persist(contactID, stored)
	}
	e.publish(bus.KindMessageAppended, MessageChange{ContactID: contactID, Message: stored})
	return true
}

func (e *Engine) applyOrphan(contactID, id string) {
	reader, ok := e.orphans.Take(id, e.opts.Now())
	if !ok {
		return
	}
	if reader != contactID {
		metrics.OrphanReceipts.WithLabelValues("mismatched").Inc()
		return
	}
	marked, _ := e.store.MarkReadByPeer(contactID, []string{id})
	if len(marked) == 0 {
		metrics.OrphanReceipts.WithLabelValues("mismatched").Inc()
		return
	}
	metrics.OrphanReceipts.WithLabelValues("applied").Inc()
	e.journalReadByPeer(marked)
	e.publish(bus.KindMessageReadPeer, ReadByPeer{ContactID: contactID, MessageIDs: marked})
}

func (e *Engine) persist(contactID string, m chat.Message) {
	if e.journal == nil {
		return
	}
	if err := e.journal.SaveMessage(contactID, m); err != nil {
		e.logger.Error("journal message", zap.String("msg_id", m.ID), zap.Error(err))
	}
}

func (e *Engine) journalRead(ids []string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.MarkMessagesRead(ids); err != nil {
		e.logger.Error("journal read", zap.Int("count", len(ids)), zap.Error(err))
	}
}

func (e *Engine) journalReadByPeer(ids []string) {
	if e.journal == nil {
		return
	}
	if err := e.journal.MarkMessagesReadByPeer(ids); err != nil {
		e.logger.Error("journal read by peer", zap.Int("count", len(ids)), zap.Error(err))
	}
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: kind, Timestamp: e.opts.Now(), Payload: payload})
	}
}
