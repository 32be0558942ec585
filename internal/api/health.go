package api

import (
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status       string `json:"status"` // "healthy" or "degraded"
	Profile      string `json:"profile"`
	SelfID       string `json:"self_id"`
	Channel      string `json:"channel"`
	ChannelSince string `json:"channel_since,omitempty"`
	PendingSends int    `json:"pending_sends"`
	CachedMsgs   int64  `json:"cached_messages"`
}

// Health handles GET /healthz. It answers 200 even when the push channel is
// down; the body says whether the daemon is degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Profile: h.profile, SelfID: h.engine.SelfID()}

	n, err := h.engine.Outstanding()
	if err != nil {
		h.Fail(w, err)
		return
	}
	resp.PendingSends = n

	if h.search != nil {
		count, err := h.search.MessageCount()
		if err != nil {
			h.logger.Warn("count cached messages", zap.Error(err))
			resp.Status = "degraded"
		}
		resp.CachedMsgs = count
	}

	if h.channel != nil {
		cur := h.channel.Current()
		resp.Channel = string(cur)
		resp.ChannelSince = h.channel.Since().UTC().Format(time.RFC3339)
		if cur != status.Connected {
			resp.Status = "degraded"
		}
	}
	h.JSON(w, http.StatusOK, resp)
}
