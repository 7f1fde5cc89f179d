package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/notification"
)

// CleanupScheduler queues a retention cleanup for the worker.
type CleanupScheduler interface {
	ScheduleCleanup(ctx context.Context, days int) error
}

// NotificationHandler handles the acting user's inbox and retention cleanup.
type NotificationHandler struct {
	base
	service   *notification.Service
	scheduler CleanupScheduler
}

// NewNotificationHandler creates a new NotificationHandler. Without a
// scheduler, cleanup runs inline.
func NewNotificationHandler(service *notification.Service, scheduler CleanupScheduler, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{base: base{logger: logger}, service: service, scheduler: scheduler}
}

// List handles GET /api/v1/notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	lq, ok := parseListQuery(w, r)
	if !ok {
		return
	}
	isRead, ok := boolParam(w, r, "is_read")
	if !ok {
		return
	}
	page, err := h.service.List(r.Context(), actor(r).ID, notification.ListOptions{
		IsRead: isRead,
		Page:   lq.Page,
		Size:   lq.Size,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Unread handles GET /api/v1/notifications/unread.
func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.UnreadCount(r.Context(), actor(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.CountResponse{Count: count})
}

// MarkRead handles PATCH /api/v1/notifications/{notificationID}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.service.MarkRead(r.Context(), idParam(r, "notificationID"), actor(r).ID); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// MarkAllRead handles PATCH /api/v1/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.MarkAllRead(r.Context(), actor(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.CountResponse{Count: count})
}

// Delete handles DELETE /api/v1/notifications/{notificationID}.
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), idParam(r, "notificationID"), actor(r).ID); err != nil {
		h.fail(w, r, err)
		return
	}
	response.NoContent(w, r)
}

// Cleanup handles POST /api/v1/admin/notifications/cleanup.
func (h *NotificationHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"))
	if err != nil || days < 0 {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
			{Field: "days", Message: "must be a positive integer"},
		})
		return
	}
	if days == 0 {
		days = notification.DefaultRetentionDays
	}

	if h.scheduler != nil {
		if err := h.scheduler.ScheduleCleanup(r.Context(), days); err != nil {
			h.logger.Error().Err(err).Int("days", days).Msg("failed to queue notification cleanup")
			response.ServiceUnavailable(w, r, "the cleanup job could not be queued")
			return
		}
		response.JSON(w, r, http.StatusAccepted, models.CleanupResponse{Days: days, Queued: true})
		return
	}

	deleted, err := h.service.DeleteOlderThan(r.Context(), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, models.CleanupResponse{Days: days, Deleted: deleted})
}
