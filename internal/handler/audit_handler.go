package handler

import (
	"net/http"
	"strconv"

	"go-account-portal/internal/model"
	"go-account-portal/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// List serves the admin audit query with optional action/actor/status and
// time-range filters.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, meta, err := h.service.Query(r.Context(), model.AuditQuery{
		Action:  q.Get("action"),
		ActorID: q.Get("actor_id"),
		Status:  q.Get("status"),
		From:    q.Get("from"),
		To:      q.Get("to"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, entries, &meta)
}
