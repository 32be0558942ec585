package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListContacts handles GET /contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.engine.Contacts()
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// GetPresence handles GET /contacts/{id}/presence.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Presence(chi.URLParam(r, "id"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, c)
}
