package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/auth"
)

// TokenHandler issues access tokens for directory accounts. It is only
// mounted in development.
type TokenHandler struct {
	base
	auth *auth.Service
}

// NewTokenHandler creates a new TokenHandler.
func NewTokenHandler(service *auth.Service, logger zerolog.Logger) *TokenHandler {
	return &TokenHandler{base: base{logger: logger}, auth: service}
}

// Issue handles POST /api/v1/auth/token.
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		response.BadRequest(w, r, "user_id is required", []models.FieldError{{Field: "user_id", Message: "is required"}})
		return
	}

	token, err := h.auth.IssueToken(r.Context(), req.UserID)
	if errors.Is(err, auth.ErrInactiveUser) {
		response.Forbidden(w, r, err.Error())
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, token)
}
