package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/chatsync/internal/chat"
)

const maxBodySize = 64 * 1024

// ConversationView is one row of the conversation list.
type ConversationView struct {
	chat.Summary
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Online      bool   `json:"online"`
	Typing      bool   `json:"typing"`
	Active      bool   `json:"active"`
}

type sendRequest struct {
	Content     string            `json:"content"`
	Attachments []chat.Attachment `json:"attachments,omitempty"`
}

// ListConversations handles GET /conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	sums, err := h.engine.Conversations()
	if err != nil {
		h.Fail(w, err)
		return
	}
	contacts, err := h.engine.Contacts()
	if err != nil {
		h.Fail(w, err)
		return
	}
	active, err := h.engine.Active()
	if err != nil {
		h.Fail(w, err)
		return
	}

	views := make([]ConversationView, 0, len(sums))
	for _, s := range sums {
		v := ConversationView{Summary: s, DisplayName: s.ContactID, Active: s.ContactID == active}
		for _, c := range contacts {
			if c.ID != s.ContactID {
				continue
			}
			if c.DisplayName != "" {
				v.DisplayName = c.DisplayName
			}
			v.AvatarURL, v.Online, v.Typing = c.AvatarURL, c.Online, c.Typing
			break
		}
		views = append(views, v)
	}
	h.JSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// ListMessages handles GET /conversations/{id}/messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.engine.Messages(chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// SendMessage handles POST /conversations/{id}/messages. The reply is the
// optimistic entry; confirmation is delivered on /events.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := h.engine.Send(chi.URLParam(r, "id"), req.Content, req.Attachments)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusAccepted, m)
}

// SelectConversation handles POST /conversations/{id}/select.
func (h *Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	batch, err := h.engine.Select(chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if batch.MessageIDs == nil {
		batch.MessageIDs = []string{}
	}
	h.JSON(w, http.StatusOK, batch)
}

// ClearActive handles DELETE /conversations/active.
func (h *Handler) ClearActive(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Clear(); err != nil {
		h.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
