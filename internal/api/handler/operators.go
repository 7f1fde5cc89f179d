package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/middleware"
	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/operator"
	"github.com/dmsystem/dms/internal/user"
)

// OperatorHandler handles operator registry endpoints. Sub-distributors see
// and manage only the operators they registered.
type OperatorHandler struct {
	base
	registry *operator.Registry
}

// NewOperatorHandler creates a new OperatorHandler.
func NewOperatorHandler(registry *operator.Registry, logger zerolog.Logger) *OperatorHandler {
	return &OperatorHandler{base: base{logger: logger}, registry: registry}
}

// List handles GET /api/v1/operators.
func (h *OperatorHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	page, err := h.registry.List(r.Context(), operator.ListOptions{
		AssignedTo: scopeOwner(r),
		Status:     operator.Status(r.URL.Query().Get("status")),
		Search:     lq.Search,
		Page:       lq.Page,
		Size:       lq.Size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Stats handles GET /api/v1/operators/stats.
func (h *OperatorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context(), scopeOwner(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

// Get handles GET /api/v1/operators/{operatorID}.
func (h *OperatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.registry.Get(r.Context(), idParam(r, "operatorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, o)
}

// Devices handles GET /api/v1/operators/{operatorID}/devices.
func (h *OperatorHandler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.Devices(r.Context(), idParam(r, "operatorID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, devices)
}

// Create handles POST /api/v1/operators.
func (h *OperatorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input operator.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	o, err := h.registry.Create(r.Context(), input, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/operators/"+o.ID, o)
}

// Update handles PUT /api/v1/operators/{operatorID}.
func (h *OperatorHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input operator.UpdateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	id := idParam(r, "operatorID")
	if !h.owns(w, r, id, "you can only update your own operators") {
		return
	}
	o, err := h.registry.Update(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, o)
}

// Delete handles DELETE /api/v1/operators/{operatorID}.
func (h *OperatorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "operatorID")
	if !h.owns(w, r, id, "you can only delete your own operators") {
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// Assign handles POST /api/v1/operators/{operatorID}/devices.
func (h *OperatorHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req models.AssignDeviceRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	id := idParam(r, "operatorID")
	if !h.owns(w, r, id, "you can only assign devices to your own operators") {
		return
	}
	d, err := h.registry.AssignDevice(r.Context(), id, req.DeviceID, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, d)
}

// owns reports whether the actor may change operator id. Management may
// change any operator. On false a problem has already been written.
func (h *OperatorHandler) owns(w http.ResponseWriter, r *http.Request, id, detail string) bool {
	if isManagement(r) {
		return true
	}
	o, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	if o.AssignedTo != actor(r).ID {
		response.Forbidden(w, r, detail)
		return false
	}
	return true
}

// scopeOwner returns the account whose operators a sub-distributor is
// limited to, or "" for everyone else.
func scopeOwner(r *http.Request) string {
	if u := middleware.GetUser(r.Context()); u != nil && u.Role == user.RoleSubDistributor {
		return u.ID
	}
	return ""
}
