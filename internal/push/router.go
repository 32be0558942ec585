package push

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
	"go.uber.org/zap"
)

// Sink receives routed events. Calls happen on the router's caller goroutine.
type Sink interface {
	// Echo is the local user's own message coming back from the server.
	Echo(m chat.Message, clientMsgID string)
	// Incoming is a message authored by a contact.
	Incoming(m chat.Message)
	Typing(contactID string, typing bool)
	Presence(contactID string, online bool, lastSeen time.Time)
	// Receipt reports that readerID has read messages the local user sent.
	Receipt(readerID string, ids []string)
}

// Router decodes push frames and dispatches them to a Sink by kind.
type Router struct {
	self   string
	sink   Sink
	logger *zap.Logger
}

// NewRouter creates a router for the given local user id.
func NewRouter(selfID string, sink Sink, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{self: selfID, sink: sink, logger: logger}
}

// Route decodes and dispatches one frame. Malformed and unknown events are
// logged, counted and returned as errors; they never reach the sink.
func (r *Router) Route(data []byte) error {
	kind, ev, err := Decode(data)
	if err == nil {
		err = r.dispatch(ev)
	}
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownKind) {
			reason = "unknown_kind"
		}
		metrics.PushDropped.WithLabelValues(reason).Inc()
		r.logger.Warn("push event dropped",
			zap.String("kind", string(kind)),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		return err
	}
	metrics.PushEvents.WithLabelValues(string(kind)).Inc()
	return nil
}

func (r *Router) dispatch(ev any) error {
	switch ev := ev.(type) {
	case MessageEvent:
		w := ev.Message
		switch r.self {
		case w.SenderID:
			r.sink.Echo(w.Message(r.self), ev.ClientMsgID)
		case w.ReceiverID:
			r.sink.Incoming(w.Message(r.self))
		default:
			return fmt.Errorf("%w: message %s does not involve the local user", ErrMalformed, w.ID)
		}
	case TypingEvent:
		if ev.UserID == r.self {
			return nil
		}
		r.sink.Typing(ev.UserID, ev.Typing)
	case PresenceEvent:
		if ev.UserID == r.self {
			return nil
		}
		var seen time.Time
		if ev.LastSeen != nil {
			seen = *ev.LastSeen
		}
		r.sink.Presence(ev.UserID, ev.Online, seen)
	case ReceiptEvent:
		if ev.ReaderID == r.self {
			// Reads made on another of our own devices.
			return nil
		}
		r.sink.Receipt(ev.ReaderID, ev.MessageIDs)
	}
	return nil
}
