package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	log     *zap.Logger
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.service.Register(r.Context(), &req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "username and password are required", http.StatusBadRequest)
			return
		}
		h.log.Error("register failed", zap.String("username", req.Username), zap.Error(err))
		http.Error(w, "could not register", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
