package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const writeTimeout = 5 * time.Second

// Events handles GET /events: a websocket stream of bus events. The optional
// ns query parameter filters by kind prefix ("message.", "presence.").
// Slow readers lose events rather than stalling the engine; the next event
// they get carries a non-zero "missed" count.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket accept", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "") }()

	ch, unsub := h.bus.Subscribe(r.URL.Query().Get("ns"), 256)
	defer unsub()

	// The client never sends; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case evt := <-ch:
			if evt.Missed > 0 {
				h.logger.Debug("event stream lagging", zap.Int("missed", evt.Missed))
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("encode event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("event stream closed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
