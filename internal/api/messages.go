package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/chatsync/internal/chat"
)

// RetryMessage handles POST /messages/{tempID}/retry.
func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.engine.Retry(chi.URLParam(r, "tempID"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusAccepted, m)
}

// DiscardMessage handles DELETE /messages/{tempID}.
func (h *Handler) DiscardMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Discard(chi.URLParam(r, "tempID")); err != nil {
		h.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchHit is a search result.
type SearchHit struct {
	ContactID string       `json:"contact_id"`
	Message   chat.Message `json:"message"`
	Snippet   string       `json:"snippet"`
}

// Search handles GET /search?q=&contact_id=&limit=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.Error(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.Error(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			h.Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	results, err := h.search.SearchMessages(q, r.URL.Query().Get("contact_id"), limit)
	if err != nil {
		h.Fail(w, err)
		return
	}
	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{ContactID: res.ContactID, Message: res.Message, Snippet: res.Snippet})
	}
	h.JSON(w, http.StatusOK, map[string]any{"results": hits})
}
