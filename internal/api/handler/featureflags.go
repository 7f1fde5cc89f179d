package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	base
	service *featureflags.Service
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{base: base{logger: logger}, service: service}
}

// ListFeatureFlags handles GET /api/v1/admin/flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}

// UpsertFeatureFlags handles PUT /api/v1/admin/flags.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var req featureflags.FlagUpdateRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}

	userID := actor(r).ID
	if err := h.service.Set(r.Context(), userID, req.Reason, req.Updates); err != nil {
		h.fail(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}

// ResetFeatureFlag handles DELETE /api/v1/admin/flags/{flagKey}.
func (h *FeatureFlagsHandler) ResetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "flagKey")
	if err := h.service.Reset(r.Context(), key); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info().
		Str("user_id", actor(r).ID).
		Str("flag", key).
		Msg("feature flag reset to default")

	response.NoContent(w, r)
}

// InvalidateCache handles POST /api/v1/admin/flags/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}
