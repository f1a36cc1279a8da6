// Package ws adapts websocket connections onto the gateway: one read pump
// feeding frames in, one write pump draining the connection mailbox out.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

type Handler struct {
	logger   *slog.Logger
	gateway  *service.Gateway
	upgrader websocket.Upgrader
}

func NewHandler(logger *slog.Logger, gw *service.Gateway) *Handler {
	return &Handler{
		logger:  logger,
		gateway: gw,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := h.gateway.Connect(r.Context(), userID)
	defer h.gateway.Disconnect(conn.ID())

	h.logger.Info("ws opened", "user_id", userID, "conn_id", conn.ID())

	go h.readPump(r.Context(), ws, conn.ID())
	h.writePump(r.Context(), ws, conn)
}

// readPump forwards client frames to the gateway until the socket dies. The
// pong handler keeps the read deadline moving while the write pump pings.
func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, connID string) {
	defer h.gateway.Disconnect(connID)

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read failed", "conn_id", connID, "error", err)
			}
			return
		}
		h.gateway.HandleFrame(ctx, connID, raw)
	}
}

// writePump is the sole writer on the socket: it drains the mailbox and keeps
// the connection alive with periodic pings.
func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, conn registry.Connector) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-conn.Recv():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Warn("ws send failed", "conn_id", conn.ID(), "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
