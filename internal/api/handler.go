// Package api is the local HTTP interface the UI layer talks to.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/pending"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/selection"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
)

// Engine is the subset of the sync engine exposed over HTTP.
type Engine interface {
	SelfID() string
	Send(receiverID, content string, attachments []chat.Attachment) (chat.Message, error)
	Retry(tempID string) (chat.Message, error)
	Discard(tempID string) error
	Select(contactID string) (selection.Batch, error)
	Clear() error
	Active() (string, error)
	Messages(contactID string) ([]chat.Message, error)
	Conversations() ([]chat.Summary, error)
	Presence(contactID string) (presence.Contact, error)
	Contacts() ([]presence.Contact, error)
	Outstanding() (int, error)
}

// Searcher looks up cached messages.
type Searcher interface {
	SearchMessages(query, contactID string, limit int) ([]store.SearchResult, error)
	MessageCount() (int64, error)
}

// ChannelStatus reports the push channel state.
type ChannelStatus interface {
	Current() status.State
	Since() time.Time
}

// Handler holds the dependencies of every route.
type Handler struct {
	engine  Engine
	search  Searcher
	channel ChannelStatus
	bus     *bus.Bus
	profile string
	origins []string
	logger  *zap.Logger
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, code int, message string) {
	h.JSON(w, code, map[string]string{"error": message})
}

// Fail maps an engine error to a status code.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, sync.ErrEmptyMessage),
		errors.Is(err, sync.ErrInvalidReceiver),
		errors.Is(err, sync.ErrInvalidAttachment):
		code = http.StatusBadRequest
	case errors.Is(err, pending.ErrUnknown), errors.Is(err, chat.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrNotFailed):
		code = http.StatusConflict
	case errors.Is(err, sync.ErrStopped):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	h.Error(w, code, err.Error())
}
