package sync

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/push"
	"github.com/matheus3301/chatsync/internal/selection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const self = "u-self"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type dispatch struct {
	tempID  string
	payload pending.Payload
	done    func(outbox.Result)
}

// fakeOutbound hands dispatches to the test instead of the network.
type fakeOutbound struct {
	dispatches chan dispatch
	receipts   chan selection.Batch
}

func (f *fakeOutbound) Dispatch(tempID string, p pending.Payload, done func(outbox.Result)) {
	f.dispatches <- dispatch{tempID: tempID, payload: p, done: done}
}

func (f *fakeOutbound) EmitReceipts(contactID string, ids []string) {
	f.receipts <- selection.Batch{ContactID: contactID, MessageIDs: ids}
}

type fakeJournal struct {
	saved      map[string]chat.Message
	read       []string
	readByPeer []string
	panicOn    string
}

func (j *fakeJournal) SaveMessage(_ string, m chat.Message) error {
	if m.ID == j.panicOn {
		panic("journal exploded")
	}
	j.saved[m.ID] = m
	return nil
}

func (j *fakeJournal) MarkMessagesRead(ids []string) error {
	j.read = append(j.read, ids...)
	return nil
}

func (j *fakeJournal) MarkMessagesReadByPeer(ids []string) error {
	j.readByPeer = append(j.readByPeer, ids...)
	return nil
}

// fakeClock is only read on the engine loop, after the test wrote it.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	e       *Engine
	out     *fakeOutbound
	journal *fakeJournal
	bus     *bus.Bus
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		out: &fakeOutbound{
			dispatches: make(chan dispatch, 16),
			receipts:   make(chan selection.Batch, 16),
		},
		journal: &fakeJournal{saved: map[string]chat.Message{}},
		bus:     bus.New(),
		clock:   &fakeClock{now: t0},
	}
	h.e = NewEngine(Options{SelfID: self, SweepInterval: -1, Now: h.clock.Now}, h.out, h.journal, h.bus, zaptest.NewLogger(t))
	h.e.Start(context.Background())
	t.Cleanup(h.e.Stop)
	return h
}

func (h *harness) nextDispatch(t *testing.T) dispatch {
	t.Helper()
	select {
	case d := <-h.out.dispatches:
		return d
	case <-time.After(time.Second):
		t.Fatal("no dispatch")
		return dispatch{}
	}
}

func (h *harness) messages(t *testing.T, contactID string) []chat.Message {
	t.Helper()
	msgs, err := h.e.Messages(contactID)
	require.NoError(t, err)
	return msgs
}

func (h *harness) unread(t *testing.T, contactID string) int {
	t.Helper()
	sums, err := h.e.Conversations()
	require.NoError(t, err)
	for _, s := range sums {
		if s.ContactID == contactID {
			return s.UnreadCount
		}
	}
	return 0
}

func frame(t *testing.T, kind push.Kind, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	data, err := json.Marshal(push.Envelope{Type: kind, Payload: payload})
	require.NoError(t, err)
	return data
}

func inbound(id, from, content string, at time.Duration) chat.WireMessage {
	return chat.WireMessage{ID: id, SenderID: from, ReceiverID: self, Content: content, CreatedAt: t0.Add(at)}
}

func confirmed(id, to, content string, at time.Duration) chat.Message {
	return chat.Message{ID: id, SenderID: self, ReceiverID: to, Content: content, CreatedAt: t0.Add(at), State: chat.Sent}
}

func TestSendShowsPendingImmediately(t *testing.T) {
	h := newHarness(t)

	m, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	assert.True(t, pending.IsTemp(m.ID))
	assert.Equal(t, chat.Pending, m.State)
	assert.Equal(t, t0, m.CreatedAt)

	d := h.nextDispatch(t)
	assert.Equal(t, m.ID, d.tempID)
	assert.Equal(t, pending.Payload{ReceiverID: "agent", Content: "Hello"}, d.payload)

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.Pending, msgs[0].State)
	assert.Empty(t, h.journal.saved, "optimistic entries are never journaled")
}

func TestSendValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.e.Send("agent", "  ", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
	_, err = h.e.Send(self, "hi", nil)
	assert.ErrorIs(t, err, ErrInvalidReceiver)
	_, err = h.e.Send("", "hi", nil)
	assert.ErrorIs(t, err, ErrInvalidReceiver)
	_, err = h.e.Send("agent", "", []chat.Attachment{{Type: "video", URL: "https://cdn/v.mp4"}})
	assert.ErrorIs(t, err, ErrInvalidAttachment)

	m, err := h.e.Send("agent", "", []chat.Attachment{{Type: chat.Document, URL: "https://cdn/lease.pdf", Name: "lease.pdf"}})
	require.NoError(t, err)
	assert.Len(t, m.Attachments, 1)
}

func TestReconciliationResponseThenEcho(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe("message.", 16)
	defer unsub()

	sent, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)

	d.done(outbox.Result{TempID: d.tempID, Message: confirmed("m42", "agent", "Hello", time.Second)})

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[0].TempID)
	assert.Equal(t, chat.Sent, msgs[0].State)
	assert.Contains(t, h.journal.saved, "m42")

	echo := chat.WireMessage{ID: "m42", SenderID: self, ReceiverID: "agent", Content: "Hello", CreatedAt: t0.Add(time.Second), ClientMsgID: sent.ID}
	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, echo)))

	msgs = h.messages(t, "agent")
	require.Len(t, msgs, 1, "exactly one Hello")
	assert.Equal(t, "m42", msgs[0].ID)

	var kinds []string
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []string{bus.KindMessageAppended, bus.KindMessageConfirmed}, kinds)

	n, err := h.e.Outstanding()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciliationEchoBeforeResponse(t *testing.T) {
	h := newHarness(t)

	sent, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)

	// No client id: matched by receiver and body.
	echo := chat.WireMessage{ID: "m42", SenderID: self, ReceiverID: "agent", Content: "Hello", CreatedAt: t0.Add(time.Second)}
	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, echo)))

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[0].TempID)

	d.done(outbox.Result{TempID: d.tempID, Message: confirmed("m42", "agent", "Hello", time.Second)})

	msgs = h.messages(t, "agent")
	require.Len(t, msgs, 1, "exactly one Hello")
	assert.Equal(t, chat.Sent, msgs[0].State)
}

func TestEchoFromAnotherDevice(t *testing.T) {
	h := newHarness(t)

	echo := chat.WireMessage{ID: "m7", SenderID: self, ReceiverID: "agent", Content: "sent from phone", CreatedAt: t0}
	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, echo)))

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m7", msgs[0].ID)
	assert.Zero(t, h.unread(t, "agent"), "own messages never count unread")
}

func TestIncomingIsIdempotent(t *testing.T) {
	h := newHarness(t)
	data := frame(t, push.NewMessage, inbound("m1", "agent", "Is the flat still available?", time.Second))

	require.NoError(t, h.e.HandleFrame(context.Background(), data))
	require.NoError(t, h.e.HandleFrame(context.Background(), data))

	assert.Len(t, h.messages(t, "agent"), 1)
	assert.Equal(t, 1, h.unread(t, "agent"))
}

func TestIncomingKeepsConversationsIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("a2", "a", "second", 2*time.Second))))
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("b1", "b", "other", time.Second))))
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("a1", "a", "first", time.Second))))

	a := h.messages(t, "a")
	require.Len(t, a, 2)
	assert.Equal(t, "a1", a[0].ID)
	assert.Equal(t, "a2", a[1].ID)
	assert.Len(t, h.messages(t, "b"), 1)
	assert.Equal(t, 2, h.unread(t, "a"))
	assert.Equal(t, 1, h.unread(t, "b"))
}

func TestSelectReadsAndEmitsOneBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound(id, "agent", "hi", time.Duration(i)*time.Second))))
	}
	require.Equal(t, 3, h.unread(t, "agent"))

	batch, err := h.e.Select("agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, batch.MessageIDs)
	assert.Zero(t, h.unread(t, "agent"))
	assert.Equal(t, []string{"m1", "m2", "m3"}, h.journal.read)

	require.Len(t, h.out.receipts, 1)
	assert.Equal(t, batch, <-h.out.receipts)

	// Switching away unmarks nothing.
	_, err = h.e.Select("other")
	require.NoError(t, err)
	assert.Zero(t, h.unread(t, "agent"))
	assert.Empty(t, h.out.receipts)
}

func TestIncomingInActiveConversationIsRead(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.Select("agent")
	require.NoError(t, err)

	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, inbound("m1", "agent", "hi", time.Second))))

	assert.Zero(t, h.unread(t, "agent"))
	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
	assert.True(t, h.journal.saved["m1"].Read)
	require.Len(t, h.out.receipts, 1)
	assert.Equal(t, selection.Batch{ContactID: "agent", MessageIDs: []string{"m1"}}, <-h.out.receipts)

	require.NoError(t, h.e.Clear())
	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, inbound("m2", "agent", "hello?", 2*time.Second))))
	assert.Equal(t, 1, h.unread(t, "agent"))
	assert.Empty(t, h.out.receipts)
}

func TestTypingExpires(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe("presence.", 16)
	defer unsub()

	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.TypingStatus, push.TypingEvent{UserID: "agent", Typing: true})))
	c, err := h.e.Presence("agent")
	require.NoError(t, err)
	assert.True(t, c.Typing)

	h.clock.Advance(5 * time.Second)
	require.NoError(t, h.e.Sweep())
	c, _ = h.e.Presence("agent")
	assert.True(t, c.Typing)

	h.clock.Advance(time.Second)
	require.NoError(t, h.e.Sweep())
	c, _ = h.e.Presence("agent")
	assert.False(t, c.Typing)

	var changes []TypingChange
	for len(events) > 0 {
		changes = append(changes, (<-events).Payload.(TypingChange))
	}
	assert.Equal(t, []TypingChange{{ContactID: "agent", Typing: true}, {ContactID: "agent", Typing: false}}, changes)
}

func TestIncomingMessageClearsTyping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.TypingStatus, push.TypingEvent{UserID: "agent", Typing: true})))
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("m1", "agent", "hi", time.Second))))

	c, err := h.e.Presence("agent")
	require.NoError(t, err)
	assert.False(t, c.Typing)
}

func TestPresenceChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lastSeen := t0.Add(-time.Minute)

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.PresenceChange, push.PresenceEvent{UserID: "agent", Online: true})))
	c, _ := h.e.Presence("agent")
	assert.True(t, c.Online)

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.PresenceChange, push.PresenceEvent{UserID: "agent", Online: false, LastSeen: &lastSeen})))
	c, _ = h.e.Presence("agent")
	assert.False(t, c.Online)
	assert.True(t, c.LastSeen.Equal(lastSeen))
}

func TestSendTimeoutThenRetry(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe("message.failed", 4)
	defer unsub()

	first, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d1 := h.nextDispatch(t)

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.e.Sweep())

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.Failed, msgs[0].State, "timed out sends stay visible")
	require.Len(t, events, 1)
	assert.Equal(t, SendFailure{ContactID: "agent", TempID: first.ID, Reason: "timed out"}, (<-events).Payload)

	// The error that follows the local timeout changes nothing.
	d1.done(outbox.Result{TempID: d1.tempID, Err: context.DeadlineExceeded, TimedOut: true})
	assert.Empty(t, events)

	retried, err := h.e.Retry(first.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, retried.ID)
	assert.Equal(t, chat.Pending, retried.State)
	d2 := h.nextDispatch(t)
	assert.Equal(t, retried.ID, d2.tempID)
	assert.Equal(t, "Hello", d2.payload.Content)

	msgs = h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, retried.ID, msgs[0].ID)

	_, err = h.e.Retry(first.ID)
	assert.ErrorIs(t, err, pending.ErrUnknown)
	_, err = h.e.Retry(retried.ID)
	assert.ErrorIs(t, err, chat.ErrNotFailed)
}

func TestSendErrorThenDiscard(t *testing.T) {
	h := newHarness(t)

	m, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)
	assert.ErrorIs(t, h.e.Discard(m.ID), chat.ErrNotFailed)

	d.done(outbox.Result{TempID: d.tempID, Err: errors.New("backend: status 500")})
	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.Failed, msgs[0].State)

	require.NoError(t, h.e.Discard(m.ID))
	assert.Empty(t, h.messages(t, "agent"))
	assert.ErrorIs(t, h.e.Discard(m.ID), pending.ErrUnknown)
}

func TestLateSuccessAfterTimeoutConfirms(t *testing.T) {
	h := newHarness(t)

	m, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)
	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.e.Sweep())

	d.done(outbox.Result{TempID: d.tempID, Message: confirmed("m42", "agent", "Hello", time.Second)})

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, m.ID, msgs[0].TempID)
	assert.Equal(t, chat.Sent, msgs[0].State)
	assert.ErrorIs(t, h.e.Discard(m.ID), pending.ErrUnknown)
}

func TestEchoWithoutClientIDAfterTimeoutConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	m, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)
	h.clock.Advance(31 * time.Second)
	require.NoError(t, h.e.Sweep())

	echo := chat.WireMessage{ID: "m42", SenderID: self, ReceiverID: "agent", Content: "Hello", CreatedAt: t0.Add(time.Second)}
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, echo)))
	d.done(outbox.Result{TempID: d.tempID, Err: context.DeadlineExceeded, TimedOut: true})

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1, "the failed entry must not survive next to its confirmed copy")
	assert.Equal(t, "m42", msgs[0].ID)
	assert.Equal(t, m.ID, msgs[0].TempID)
	assert.Equal(t, chat.Sent, msgs[0].State)
	_, err = h.e.Retry(m.ID)
	assert.ErrorIs(t, err, pending.ErrUnknown)
	n, err := h.e.Outstanding()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReceiptMarksOwnMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	echo := chat.WireMessage{ID: "m42", SenderID: self, ReceiverID: "agent", Content: "Hello", CreatedAt: t0}
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, echo)))

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.ReadReceipt, push.ReceiptEvent{ReaderID: "agent", MessageIDs: []string{"m42"}})))

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].ReadByPeer)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, []string{"m42"}, h.journal.readByPeer)
}

func TestReceiptForInboundMessageIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("m1", "agent", "Hi", time.Second))))

	events, unsub := h.bus.Subscribe("message.read_by_peer", 4)
	defer unsub()
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.ReadReceipt, push.ReceiptEvent{ReaderID: "agent", MessageIDs: []string{"m1"}})))

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].ReadByPeer)
	assert.Empty(t, h.journal.readByPeer)
	assert.Empty(t, events)
}

func TestReceiptFromUnknownReaderCreatesNoConversation(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.ReadReceipt, push.ReceiptEvent{ReaderID: "stranger", MessageIDs: []string{"zzz"}})))

	sums, err := h.e.Conversations()
	require.NoError(t, err)
	assert.Empty(t, sums)
	assert.Empty(t, h.journal.readByPeer)
}

func TestOrphanReceiptAppliedOnConfirmation(t *testing.T) {
	h := newHarness(t)

	_, err := h.e.Send("agent", "Hello", nil)
	require.NoError(t, err)
	d := h.nextDispatch(t)

	// The contact read the message before our HTTP response came back.
	require.NoError(t, h.e.HandleFrame(context.Background(), frame(t, push.ReadReceipt, push.ReceiptEvent{ReaderID: "agent", MessageIDs: []string{"m42"}})))
	h.clock.Advance(5 * time.Second)
	d.done(outbox.Result{TempID: d.tempID, Message: confirmed("m42", "agent", "Hello", time.Second)})

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].ReadByPeer)
	assert.True(t, h.journal.saved["m42"].ReadByPeer)
}

func TestOrphanReceiptExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.ReadReceipt, push.ReceiptEvent{ReaderID: "agent", MessageIDs: []string{"m9"}})))
	h.clock.Advance(11 * time.Second)
	require.NoError(t, h.e.Sweep())

	echo := chat.WireMessage{ID: "m9", SenderID: self, ReceiverID: "agent", Content: "late", CreatedAt: t0}
	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, echo)))

	msgs := h.messages(t, "agent")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].ReadByPeer)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.e.HandleFrame(ctx, []byte(`{"type":"new_message","payload":{"id":"m1"}}`))
	assert.ErrorIs(t, err, push.ErrMalformed)
	err = h.e.HandleFrame(ctx, []byte(`{"type":"listing_updated","payload":{}}`))
	assert.ErrorIs(t, err, push.ErrUnknownKind)

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("m2", "agent", "hi", 0))))
	assert.Len(t, h.messages(t, "agent"), 1)
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.journal.panicOn = "boom"
	ctx := context.Background()

	err := h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("boom", "agent", "x", 0)))
	assert.ErrorIs(t, err, ErrPanic)

	require.NoError(t, h.e.HandleFrame(ctx, frame(t, push.NewMessage, inbound("m2", "agent", "still here", time.Second))))
	assert.Contains(t, h.journal.saved, "m2")
}

func TestSeedContactsAndRestore(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.e.SeedContacts([]presence.Contact{{ID: "agent", DisplayName: "Dana", Online: true}, {ID: self}}))
	sums, err := h.e.Conversations()
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "agent", sums[0].ContactID)
	assert.Nil(t, sums[0].Last)

	contacts, err := h.e.Contacts()
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Dana", contacts[0].DisplayName)
	assert.True(t, contacts[0].Online)

	history := []chat.Message{
		inbound("m1", "agent", "one", time.Second).Message(self),
		inbound("m2", "agent", "two", 2*time.Second).Message(self),
	}
	n, err := h.e.Restore("agent", history, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = h.e.Restore("agent", history, false)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.journal.saved)
	assert.Equal(t, 2, h.unread(t, "agent"))
}

func TestRestoreIntoActiveConversationSendsOneReceipt(t *testing.T) {
	h := newHarness(t)
	_, err := h.e.Select("agent")
	require.NoError(t, err)

	seen := inbound("m0", "agent", "zero", 0).Message(self)
	seen.Read = true
	history := []chat.Message{
		seen,
		inbound("m1", "agent", "one", time.Second).Message(self),
		inbound("m2", "agent", "two", 2*time.Second).Message(self),
	}
	n, err := h.e.Restore("agent", history, false)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, h.unread(t, "agent"))

	require.Len(t, h.out.receipts, 1)
	assert.Equal(t, selection.Batch{ContactID: "agent", MessageIDs: []string{"m1", "m2"}}, <-h.out.receipts)
	assert.Equal(t, []string{"m1", "m2"}, h.journal.read)

	// History for a conversation in the background stays unread.
	_, err = h.e.Restore("other", []chat.Message{inbound("m7", "other", "hey", time.Second).Message(self)}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, h.unread(t, "other"))
	assert.Empty(t, h.out.receipts)
}

func TestStoppedEngineRejectsOperations(t *testing.T) {
	h := newHarness(t)
	h.e.Stop()

	_, err := h.e.Send("agent", "Hello", nil)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, h.e.HandleFrame(context.Background(), frame(t, push.NewMessage, inbound("m1", "agent", "hi", 0))), ErrStopped)
}
