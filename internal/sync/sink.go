package sync

import (
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// sink applies routed push events. It runs on the engine loop.
type sink struct {
	e *Engine
}

func (s sink) Echo(m chat.Message, clientMsgID string) {
	e := s.e
	if _, known := e.store.Lookup(m.ReceiverID, m.ID); known {
		metrics.Duplicates.Inc()
		return
	}
	if tempID, ok := e.pending.MatchEcho(clientMsgID, &m); ok {
		if _, err := e.pending.Confirm(tempID); err == nil {
			metrics.Sends.WithLabelValues("echoed").Inc()
			e.confirm(tempID, m)
			return
		}
		// The send timed out locally but reached the server.
		e.pending.Remove(tempID)
		metrics.Sends.WithLabelValues("confirmed_late").Inc()
		e.confirm(tempID, m)
		return
	}
	// Sent from another device, or already confirmed by the HTTP response.
	e.ingest(m.ReceiverID, m, true)
}

func (s sink) Incoming(m chat.Message) {
	e := s.e
	contactID := m.SenderID
	if e.presence.SetTyping(contactID, false, e.opts.Now()) {
		e.publish(bus.KindTypingChanged, TypingChange{ContactID: contactID, Typing: false})
	}
	if !e.ingest(contactID, m, true) || m.Read {
		return
	}
	if stored, ok := e.store.Lookup(contactID, m.ID); ok && stored.Read {
		// Arrived in the open conversation.
		e.selection.Viewed(contactID, m.ID)
	}
}

func (s sink) Typing(contactID string, typing bool) {
	e := s.e
	if e.presence.SetTyping(contactID, typing, e.opts.Now()) {
		e.publish(bus.KindTypingChanged, TypingChange{ContactID: contactID, Typing: typing})
	}
}

func (s sink) Presence(contactID string, online bool, lastSeen time.Time) {
	e := s.e
	at := e.opts.Now()
	if !lastSeen.IsZero() && !online {
		at = lastSeen
	}
	e.presence.SetOnline(contactID, online, at)
	c, _ := e.presence.Get(contactID, e.opts.Now())
	e.publish(bus.KindPresenceChanged, c)
}

func (s sink) Receipt(readerID string, ids []string) {
	e := s.e
	marked, missing := e.store.MarkReadByPeer(readerID, ids)
	now := e.opts.Now()
	for _, id := range missing {
		e.orphans.Touch(id, readerID, now)
	}
	if len(missing) > 0 {
		metrics.OrphanReceipts.WithLabelValues("buffered").Add(float64(len(missing)))
		e.logger.Debug("receipt for unknown messages buffered",
			zap.String("reader_id", readerID),
			zap.Strings("msg_ids", missing))
	}
	if len(marked) == 0 {
		return
	}
	e.journalReadByPeer(marked)
	e.publish(bus.KindMessageReadPeer, ReadByPeer{ContactID: readerID, MessageIDs: marked})
}
