package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	relay    *Relay
	upgrader websocket.Upgrader
	// base outlives the upgrade request; frames are handled under it.
	base context.Context
	log  *zap.Logger
}

// NewHandler serves websocket upgrades for r. Connection handling runs under
// ctx rather than the HTTP request context, which ends once the upgrade
// handler returns.
func NewHandler(ctx context.Context, r *Relay, checkOrigin func(*http.Request) bool, log *zap.Logger) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		base: ctx,
		log:  log,
	}
}

// ServeWs upgrades the request. The connection starts unbound; identity
// arrives later in an auth frame.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), conn, h.relay, h.log)
	h.relay.Accept(client)

	go client.writePump()
	go client.readPump(h.base)
}

// Health reports the number of live connections.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": h.relay.Registry().Len(),
	})
}
