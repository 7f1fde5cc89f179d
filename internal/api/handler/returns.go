package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/returns"
)

// ReturnHandler handles return request endpoints.
type ReturnHandler struct {
	base
	workflow *returns.Workflow
}

// NewReturnHandler creates a new ReturnHandler.
func NewReturnHandler(workflow *returns.Workflow, logger zerolog.Logger) *ReturnHandler {
	return &ReturnHandler{base: base{logger: logger}, workflow: workflow}
}

// List handles GET /api/v1/returns. Accounts outside management only see
// their own requests.
func (h *ReturnHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := returns.ListOptions{
		Status: returns.Status(q.Get("status")),
		Reason: returns.Reason(q.Get("reason")),
		Search: lq.Search,
		Page:   lq.Page,
		Size:   lq.Size,
	}
	if !isManagement(r) {
		opts.RequestedBy = actor(r).ID
	}

	page, err := h.workflow.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Stats handles GET /api/v1/returns/stats.
func (h *ReturnHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.workflow.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

// Get handles GET /api/v1/returns/{returnID}.
func (h *ReturnHandler) Get(w http.ResponseWriter, r *http.Request) {
	ret, err := h.workflow.Get(r.Context(), idParam(r, "returnID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ret)
}

// Create handles POST /api/v1/returns.
func (h *ReturnHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input returns.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	ret, err := h.workflow.Create(r.Context(), input, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/returns/"+ret.ID, ret)
}

// SetStatus handles PATCH /api/v1/returns/{returnID}/status.
func (h *ReturnHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	ret, err := h.workflow.AdvanceStatus(r.Context(), idParam(r, "returnID"),
		returns.Status(req.Status), actor(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ret)
}

// Cancel handles DELETE /api/v1/returns/{returnID}.
func (h *ReturnHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ret, err := h.workflow.Cancel(r.Context(), idParam(r, "returnID"), actor(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, ret)
}
