package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"go-account-portal/internal/model"
	"go-account-portal/internal/service"
	"go-account-portal/pkg/apierror"
)

// UserHandler is the admin-facing user CRUD surface.
type UserHandler struct {
	accounts *service.AccountService
	auth     *service.AuthService
}

func NewUserHandler(accounts *service.AccountService, auth *service.AuthService) *UserHandler {
	return &UserHandler{accounts: accounts, auth: auth}
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	users, meta, err := h.accounts.ListUsers(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, users, &meta)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUser(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *UserHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	userID := chi.URLParam(r, "user_id")
	if err := h.accounts.SetRole(r.Context(), userID, payload.Role, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"role": payload.Role}, nil)
}

func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
		return
	}

	userID := chi.URLParam(r, "user_id")
	if err := h.accounts.SetActive(r.Context(), userID, payload.Active, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"active": payload.Active}, nil)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if err := h.accounts.DeleteUser(r.Context(), userID, actorFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"deleted": true}, nil)
}

// Avatar serves the stored avatar PNG. Any authenticated user can fetch
// another user's avatar; the bytes are already normalized on upload.
func (h *UserHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	avatar, err := h.auth.Avatar(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(avatar)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(avatar)
}
