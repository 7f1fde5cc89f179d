package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/approval"
)

// ApprovalHandler handles the approval queue.
type ApprovalHandler struct {
	base
	gateway *approval.Gateway
}

// NewApprovalHandler creates a new ApprovalHandler.
func NewApprovalHandler(gateway *approval.Gateway, logger zerolog.Logger) *ApprovalHandler {
	return &ApprovalHandler{base: base{logger: logger}, gateway: gateway}
}

// List handles GET /api/v1/approvals. Status defaults to pending.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := h.gateway.List(r.Context(), approval.ListOptions{
		Status: approval.Status(q.Get("status")),
		Type:   approval.Type(q.Get("approval_type")),
		Search: lq.Search,
		Page:   lq.Page,
		Size:   lq.Size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Get handles GET /api/v1/approvals/{approvalID}.
func (h *ApprovalHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.gateway.Get(r.Context(), idParam(r, "approvalID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, a)
}

// Approve handles POST /api/v1/approvals/{approvalID}/approve.
func (h *ApprovalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req models.DecisionRequest
	if r.ContentLength != 0 && !response.DecodeJSON(w, r, &req) {
		return
	}
	a, err := h.gateway.Approve(r.Context(), idParam(r, "approvalID"), actor(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, a)
}

// Reject handles POST /api/v1/approvals/{approvalID}/reject.
func (h *ApprovalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req models.DecisionRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	a, err := h.gateway.Reject(r.Context(), idParam(r, "approvalID"), actor(r), req.Reason, req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, a)
}
