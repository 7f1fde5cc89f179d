package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/device"
)

// DeviceHandler handles device inventory endpoints.
type DeviceHandler struct {
	base
	ledger *device.Ledger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(ledger *device.Ledger, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{base: base{logger: logger}, ledger: ledger}
}

// List handles GET /api/v1/devices. Accounts outside management only see
// the devices they hold.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := device.ListOptions{
		Status:     device.Status(q.Get("status")),
		DeviceType: device.Type(q.Get("device_type")),
		HolderID:   q.Get("holder_id"),
		Search:     lq.Search,
		Page:       lq.Page,
		Size:       lq.Size,
	}
	if !isManagement(r) {
		opts.HolderID = actor(r).ID
	}

	page, err := h.ledger.List(r.Context(), opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Available handles GET /api/v1/devices/available.
func (h *DeviceHandler) Available(w http.ResponseWriter, r *http.Request) {
	holderID := ""
	if !isManagement(r) {
		holderID = actor(r).ID
	}
	devices, err := h.ledger.Available(r.Context(), holderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, devices)
}

// Stats handles GET /api/v1/devices/stats.
func (h *DeviceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

// Track handles GET /api/v1/devices/track/{serial}.
func (h *DeviceHandler) Track(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.ledger.Track(r.Context(), idParam(r, "serial"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, tracking)
}

// Get handles GET /api/v1/devices/{deviceID}.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.ledger.Get(r.Context(), idParam(r, "deviceID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, d)
}

// History handles GET /api/v1/devices/{deviceID}/history.
func (h *DeviceHandler) History(w http.ResponseWriter, r *http.Request) {
	id := idParam(r, "deviceID")
	if _, err := h.ledger.Get(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	history, err := h.ledger.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, history)
}

// Create handles POST /api/v1/devices.
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input device.CreateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	d, err := h.ledger.Create(r.Context(), input, actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.Created(w, r, "/api/v1/devices/"+d.ID, d)
}

// Update handles PUT /api/v1/devices/{deviceID}.
func (h *DeviceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var input device.UpdateInput
	if !response.DecodeJSON(w, r, &input) {
		return
	}
	d, err := h.ledger.Update(r.Context(), idParam(r, "deviceID"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, d)
}

// Delete handles DELETE /api/v1/devices/{deviceID}.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Delete(r.Context(), idParam(r, "deviceID")); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// SetStatus handles PATCH /api/v1/devices/{deviceID}/status.
func (h *DeviceHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req models.StatusChangeRequest
	if !response.DecodeJSON(w, r, &req) {
		return
	}
	if req.Status == "" {
		response.BadRequest(w, r, "status is required", []models.FieldError{{Field: "status", Message: "is required"}})
		return
	}
	d, err := h.ledger.SetStatus(r.Context(), idParam(r, "deviceID"), device.Status(req.Status), actor(r), req.Notes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, d)
}
