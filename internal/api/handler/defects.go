package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/defect"
)

// DefectHandler handles defect report endpoints.
type DefectHandler struct {
	base
	service *defect.Service
}

// NewDefectHandler creates a new DefectHandler.
func NewDefectHandler(service *defect.Service, logger zerolog.Logger) *DefectHandler {
	return &DefectHandler{base: base{logger: logger}, service: service}
}

// List handles GET /api/v1/defects. Accounts outside management only see
// the reports they filed.
func (h *DefectHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := defect.ListOptions{
		Status:     defect.Status(q.Get("status")),
		Severity:   defect.Severity(q.Get("severity")),
		DefectType: defect.Type(q.Get("defect_type")),
		Search:     lq.Search,
		Page:       lq.Page,
		Size:       lq.Size,
	}
	if !isManagement(r) {
		opts.ReportedBy = actor(r).ID
	}

	page, err := h.service.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Stats handles GET /api/v1/defects/stats.
func (h *DefectHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

// Get handles GET /api/v1/defects/{defectID}.
func (h *DefectHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Get(r.Context(), idParam(r, "defectID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}

// Create handles POST /api/v1/defects.
func (h *DefectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input defect.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	report, err := h.service.Create(r.Context(), input, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/defects/"+report.ID, report)
}

// Update handles PUT /api/v1/defects/{defectID}.
func (h *DefectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input defect.UpdateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	report, err := h.service.Update(r.Context(), idParam(r, "defectID"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}

// Delete handles DELETE /api/v1/defects/{defectID}.
func (h *DefectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), idParam(r, "defectID")); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// SetStatus handles PATCH /api/v1/defects/{defectID}/status.
func (h *DefectHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	report, err := h.service.UpdateStatus(r.Context(), idParam(r, "defectID"), defect.Status(req.Status), actor(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}

// Resolve handles PATCH /api/v1/defects/{defectID}/resolve.
func (h *DefectHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	report, err := h.service.Resolve(r.Context(), idParam(r, "defectID"), req.Resolution, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, report)
}
