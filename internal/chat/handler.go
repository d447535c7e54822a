package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// HistoryLister is the read side of the persistence gateway.
type HistoryLister interface {
	ListMessages(ctx context.Context, roomID, limit, offset int) ([]*StoredMessage, error)
}

type Handler struct {
	store HistoryLister
	log   *zap.Logger
}

func NewHandler(store HistoryLister, log *zap.Logger) *Handler {
	return &Handler{store: store, log: log}
}

// GetRoomHistory serves GET /api/rooms/{roomID}/messages?limit=&offset=.
func (h *Handler) GetRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.Atoi(chi.URLParam(r, "roomID"))
	if err != nil || roomID <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	limit, err := intParam(r, "limit", DefaultHistoryLimit)
	if err != nil || limit <= 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), roomID, limit, offset)
	if err != nil {
		h.log.Error("load history failed", zap.Int("room_id", roomID), zap.Error(err))
		http.Error(w, "could not load messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
