package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-account-portal/internal/service"
)

// SessionHandler serves per-device session management: list the caller's
// active sessions and revoke one of them.
type SessionHandler struct {
	service *service.AuthService
}

func NewSessionHandler(service *service.AuthService) *SessionHandler {
	return &SessionHandler{service: service}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.Sessions(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, sessions, nil)
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "session_id")
	if err := h.service.RevokeSession(r.Context(), claims.UserID, sessionID, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"revoked": true}, nil)
}
