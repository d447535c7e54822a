package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChatRequest is the body of the HTTP fallback used when a client has no
// live connection.
type ChatRequest struct {
	Message             string `json:"message"`
	ConversationHistory []Turn `json:"conversationHistory"`
}

type ChatResponse struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Handler struct {
	gen     Generator
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewHandler(gen Generator, timeout time.Duration, log *zap.Logger) *Handler {
	return &Handler{gen: gen, timeout: timeout, log: log, now: time.Now}
}

// Chat serves POST /api/ai/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		http.Error(w, ErrEmptyMessage.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	reply, err := h.gen.Reply(ctx, msg, TrimHistory(req.ConversationHistory))
	if err != nil {
		h.log.Error("assistant reply failed", zap.Error(err))
		http.Error(w, "assistant unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ChatResponse{Message: reply, Timestamp: h.now().UTC()})
}
