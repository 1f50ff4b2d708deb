package handler

import (
	"net/http"

	"go-account-portal/internal/middleware"
	"go-account-portal/internal/model"
)

func actorFromRequest(r *http.Request) model.Actor {
	actor := model.Actor{IP: middleware.ClientIP(r)}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return actor
	}

	actor.ID = claims.UserID
	actor.Email = claims.Email
	actor.Role = claims.Role

	return actor
}
