package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/chat"
)

// Kind tags an inbound push event.
type Kind string

const (
	NewMessage     Kind = "new_message"
	TypingStatus   Kind = "typing_status"
	ReadReceipt    Kind = "read_receipt"
	PresenceChange Kind = "presence_change"
)

var (
	ErrMalformed   = errors.New("malformed push event")
	ErrUnknownKind = errors.New("unknown push event kind")
)

// Envelope is the outer frame of every push event.
type Envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessageEvent carries a confirmed message. ClientMsgID is set when the
// backend echoes the temp id the sender attached to the request.
type MessageEvent struct {
	Message     chat.WireMessage
	ClientMsgID string
}

type TypingEvent struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"is_typing"`
}

// ReceiptEvent reports that ReaderID has read MessageIDs.
type ReceiptEvent struct {
	ReaderID   string   `json:"reader_id"`
	MessageIDs []string `json:"message_ids"`
}

type PresenceEvent struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Decode parses one frame into a typed event. Errors wrap ErrMalformed or
// ErrUnknownKind.
func Decode(data []byte) (Kind, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return env.Type, nil, fmt.Errorf("%w: %s without payload", ErrMalformed, env.Type)
	}

	switch env.Type {
	case NewMessage:
		var w chat.WireMessage
		if err := json.Unmarshal(env.Payload, &w); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := validateMessage(&w); err != nil {
			return env.Type, nil, err
		}
		return env.Type, MessageEvent{Message: w, ClientMsgID: w.ClientMsgID}, nil

	case TypingStatus:
		var ev TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if ev.UserID == "" {
			return env.Type, nil, fmt.Errorf("%w: typing_status without user_id", ErrMalformed)
		}
		return env.Type, ev, nil

	case ReadReceipt:
		var ev ReceiptEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if ev.ReaderID == "" || len(ev.MessageIDs) == 0 {
			return env.Type, nil, fmt.Errorf("%w: read_receipt needs reader_id and message_ids", ErrMalformed)
		}
		return env.Type, ev, nil

	case PresenceChange:
		var ev PresenceEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return env.Type, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if ev.UserID == "" {
			return env.Type, nil, fmt.Errorf("%w: presence_change without user_id", ErrMalformed)
		}
		return env.Type, ev, nil
	}
	return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
}

func validateMessage(w *chat.WireMessage) error {
	switch {
	case w.ID == "":
		return fmt.Errorf("%w: new_message without id", ErrMalformed)
	case w.SenderID == "" || w.ReceiverID == "":
		return fmt.Errorf("%w: new_message %s without participants", ErrMalformed, w.ID)
	case w.CreatedAt.IsZero():
		return fmt.Errorf("%w: new_message %s without created_at", ErrMalformed, w.ID)
	case w.Content == "" && len(w.Attachments) == 0:
		return fmt.Errorf("%w: new_message %s has neither content nor attachments", ErrMalformed, w.ID)
	}
	for _, a := range w.Attachments {
		if a.Type != chat.Image && a.Type != chat.Document {
			return fmt.Errorf("%w: new_message %s has attachment of type %q", ErrMalformed, w.ID, a.Type)
		}
	}
	return nil
}
