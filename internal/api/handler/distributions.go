package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/distribution"
)

// DistributionHandler handles custody transfer endpoints.
type DistributionHandler struct {
	base
	engine *distribution.Engine
}

// NewDistributionHandler creates a new DistributionHandler.
func NewDistributionHandler(engine *distribution.Engine, logger zerolog.Logger) *DistributionHandler {
	return &DistributionHandler{base: base{logger: logger}, engine: engine}
}

// List handles GET /api/v1/distributions. Accounts outside management only
// see transfers they send or receive.
func (h *DistributionHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := distribution.ListOptions{
		Status:     distribution.Status(q.Get("status")),
		FromUserID: q.Get("from_user_id"),
		ToUserID:   q.Get("to_user_id"),
		Search:     lq.Search,
		Page:       lq.Page,
		Size:       lq.Size,
	}
	if !isManagement(r) {
		opts.Participant = actor(r).ID
	}

	page, err := h.engine.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Pending handles GET /api/v1/distributions/pending.
func (h *DistributionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.Pending(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pending)
}

// Get handles GET /api/v1/distributions/{distributionID}.
func (h *DistributionHandler) Get(w http.ResponseWriter, r *http.Request) {
	dist, err := h.engine.Get(r.Context(), idParam(r, "distributionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dist)
}

// Create handles POST /api/v1/distributions.
func (h *DistributionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input distribution.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	dist, err := h.engine.Create(r.Context(), input, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/distributions/"+dist.ID, dist)
}

// SetStatus handles PATCH /api/v1/distributions/{distributionID}/status.
func (h *DistributionHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	dist, err := h.engine.AdvanceStatus(r.Context(), idParam(r, "distributionID"),
		distribution.Status(req.Status), actor(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dist)
}

// Cancel handles DELETE /api/v1/distributions/{distributionID}.
func (h *DistributionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	dist, err := h.engine.Cancel(r.Context(), idParam(r, "distributionID"), actor(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, dist)
}
