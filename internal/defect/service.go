package defect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/telemetry"
	"github.com/dmsystem/dms/internal/user"
)

// Collection is the record store collection holding defect reports.
const Collection = "defects"

// Text length limits.
const (
	MinDescriptionLength = 10
	MaxDescriptionLength = 1000
	MinResolutionLength  = 10
	MaxResolutionLength  = 1000
)

// Service errors.
var (
	ErrReportNotFound = apperror.NotFound("defect report not found")
	ErrDeviceNotFound = apperror.Validation("Device not found")
)

// Ledger is the part of the device ledger the service uses.
type Ledger interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	SetStatus(ctx context.Context, id string, status device.Status, actor user.Actor, note string) (*device.Device, error)
	Annotate(ctx context.Context, entry *device.History, actor user.Actor) error
}

// RoleLister lists accounts by role.
type RoleLister interface {
	ListByRoles(ctx context.Context, roles ...user.Role) ([]*user.User, error)
}

// ServiceConfig holds configuration for the defect service.
type ServiceConfig struct {
	Store    store.Store
	Ledger   Ledger
	Users    RoleLister
	Notifier notification.Notifier
	IDs      *bizid.Generator
	Logger   zerolog.Logger
	Metrics  *telemetry.WorkflowMetrics
}

// Service files and resolves defect reports. Reports are not gated by an
// approval; the device is taken out of service as soon as one is filed.
type Service struct {
	store    store.Store
	ledger   Ledger
	users    RoleLister
	notifier notification.Notifier
	ids      *bizid.Generator
	logger   zerolog.Logger
	metrics  *telemetry.WorkflowMetrics
	now      func() time.Time
}

// NewService creates a new defect service.
func NewService(cfg ServiceConfig) *Service {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.Discard
	}
	ids := cfg.IDs
	if ids == nil {
		ids = bizid.NewGenerator(cfg.Store)
	}
	return &Service{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		users:    cfg.Users,
		notifier: notifier,
		ids:      ids,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create files a defect report, marks the device defective and alerts
// every admin and manager.
func (s *Service) Create(ctx context.Context, input CreateInput, reporter user.Actor) (*Report, error) {
	if fieldErrors := validateCreateInput(&input); len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}

	d, err := s.ledger.Get(ctx, input.DeviceID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	reportID, err := s.ids.Next(ctx, bizid.PrefixDefect)
	if err != nil {
		return nil, err
	}

	images := input.Images
	if images == nil {
		images = []string{}
	}

	now := s.now()
	r := &Report{
		ReportID:       reportID,
		DeviceID:       d.ID,
		DeviceSerial:   d.SerialNumber,
		DeviceType:     d.DeviceType,
		ReportedBy:     reporter.ID,
		ReportedByName: reporter.Name,
		DefectType:     input.DefectType,
		Severity:       input.Severity,
		Description:    input.Description,
		Symptoms:       input.Symptoms,
		Status:         StatusReported,
		Images:         images,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	doc, err := store.Encode(r)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)

	id, err := s.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	r.ID = id
	s.metrics.RecordTransition(ctx, "defect", string(StatusReported))

	logger := s.logger.With().Str("defect_id", id).Str("report_id", reportID).Str("device_id", d.ID).Logger()

	if _, err := s.ledger.SetStatus(ctx, d.ID, device.StatusDefective, reporter, "Defect reported: "+reportID); err != nil {
		logger.Warn().Err(err).Msg("failed to mark device defective")
	}
	if err := s.ledger.Annotate(ctx, &device.History{
		DeviceID:     d.ID,
		Action:       device.ActionDefectReported,
		StatusBefore: d.Status,
		StatusAfter:  device.StatusDefective,
		Location:     d.CurrentLocation,
		Notes:        fmt.Sprintf("Defect: %s - %s", input.DefectType, input.Severity),
	}, reporter); err != nil {
		logger.Warn().Err(err).Msg("failed to record defect in device history")
	}

	s.alertReviewers(ctx, logger, r, d)

	logger.Info().
		Str("severity", string(r.Severity)).
		Str("defect_type", string(r.DefectType)).
		Msg("defect reported")
	return r, nil
}

func (s *Service) alertReviewers(ctx context.Context, logger zerolog.Logger, r *Report, d *device.Device) {
	reviewers, err := s.users.ListByRoles(ctx, user.ManagementRoles...)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list defect reviewers")
		return
	}
	ids := make([]string, 0, len(reviewers))
	for _, u := range reviewers {
		ids = append(ids, u.ID)
	}

	typ := notification.TypeInfo
	if r.Severity.Urgent() {
		typ = notification.TypeWarning
	}
	notification.Broadcast(ctx, s.notifier, ids, notification.Message{
		Title:    "New Defect Report",
		Message:  fmt.Sprintf("A new %s severity defect has been reported for device %s", r.Severity, d.DeviceID),
		Type:     typ,
		Category: notification.CategoryDefect,
		Link:     link(r.ID),
	})
}

// UpdateStatus overwrites the status of a report and tells the reporter.
// Any status may follow any other. The notes replace the report's previous
// status notes.
func (s *Service) UpdateStatus(ctx context.Context, id string, status Status, actor user.Actor, notes string) (*Report, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid defect status %q", status)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id), store.Document{
		"status":       status,
		"status_notes": notes,
		"updated_at":   s.now(),
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrReportNotFound
	}
	s.metrics.RecordTransition(ctx, "defect", string(status))

	s.notifier.Notify(ctx, notification.Message{
		UserID:   r.ReportedBy,
		Title:    "Defect Status Updated",
		Message:  fmt.Sprintf("Your defect report %s status has been updated to %s", r.ReportID, status),
		Type:     notification.TypeInfo,
		Category: notification.CategoryDefect,
		Link:     link(id),
	})
	s.logger.Info().
		Str("defect_id", id).
		Str("status", string(status)).
		Str("actor_id", actor.ID).
		Bool("has_notes", notes != "").
		Msg("defect status changed")

	return s.Get(ctx, id)
}

// Resolve closes a report and sends the device to maintenance.
func (s *Service) Resolve(ctx context.Context, id, resolution string, resolver user.Actor) (*Report, error) {
	if n := len(resolution); n < MinResolutionLength || n > MaxResolutionLength {
		return nil, &apperror.ValidationError{Errors: []apperror.FieldError{{
			Field:   "resolution",
			Message: fmt.Sprintf("must be between %d and %d characters", MinResolutionLength, MaxResolutionLength),
		}}}
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id), store.Document{
		"status":           StatusResolved,
		"resolution":       resolution,
		"resolved_by":      resolver.ID,
		"resolved_by_name": resolver.Name,
		"resolved_at":      now,
		"updated_at":       now,
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrReportNotFound
	}
	s.metrics.RecordTransition(ctx, "defect", string(StatusResolved))

	logger := s.logger.With().Str("defect_id", id).Str("device_id", r.DeviceID).Logger()
	if _, err := s.ledger.SetStatus(ctx, r.DeviceID, device.StatusMaintenance, resolver, "Defect resolved: "+r.ReportID); err != nil {
		logger.Warn().Err(err).Msg("failed to send device to maintenance")
	}

	s.notifier.Notify(ctx, notification.Message{
		UserID:   r.ReportedBy,
		Title:    "Defect Resolved",
		Message:  fmt.Sprintf("Your defect report %s has been resolved", r.ReportID),
		Type:     notification.TypeSuccess,
		Category: notification.CategoryDefect,
		Link:     link(id),
	})
	logger.Info().Str("resolved_by", resolver.ID).Msg("defect resolved")

	return s.Get(ctx, id)
}

// Update changes the descriptive attributes of a report.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*Report, error) {
	patch := store.Document{}
	var fieldErrors []apperror.FieldError

	if input.DefectType != nil {
		if !input.DefectType.Valid() {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "defect_type", Message: "is not a valid defect type"})
		}
		patch["defect_type"] = *input.DefectType
	}
	if input.Severity != nil {
		if !input.Severity.Valid() {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "severity", Message: "is not a valid severity"})
		}
		patch["severity"] = *input.Severity
	}
	if input.Description != nil {
		fieldErrors = appendDescriptionError(fieldErrors, *input.Description)
		patch["description"] = *input.Description
	}
	if input.Symptoms != nil {
		patch["symptoms"] = *input.Symptoms
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			fieldErrors = append(fieldErrors, apperror.FieldError{Field: "status", Message: "is not a valid defect status"})
		}
		patch["status"] = *input.Status
	}
	if len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}
	if len(patch) == 0 {
		return s.Get(ctx, id)
	}
	patch["updated_at"] = s.now()

	matched, err := s.store.UpdateOne(ctx, Collection, store.ByID(id), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrReportNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a report. The device history it produced is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	deleted, err := s.store.DeleteOne(ctx, Collection, store.ByID(id))
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrReportNotFound
	}
	s.logger.Info().Str("defect_id", id).Msg("defect report deleted")
	return nil
}

// ApplyDecision implements approval.Target. Only reports still awaiting
// review take a decision.
func (s *Service) ApplyDecision(ctx context.Context, id string, d approval.Decision) error {
	var status Status
	switch d.Status {
	case approval.StatusApproved:
		status = StatusApproved
	case approval.StatusRejected:
		status = StatusRejected
	default:
		return apperror.Validation("invalid decision %q", d.Status)
	}

	filter := store.ByID(id).And(store.In("status", StatusReported, StatusUnderReview))
	matched, err := s.store.UpdateOne(ctx, Collection, filter, store.Document{
		"status":     status,
		"updated_at": d.At,
	})
	if err != nil {
		return err
	}
	if matched == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return apperror.Conflict("defect report %s is no longer under review", id)
	}
	s.metrics.RecordTransition(ctx, "defect", string(status))
	return nil
}

// Describe implements approval.Target.
func (s *Service) Describe(ctx context.Context, id string, full bool) (map[string]any, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if full {
		return store.Encode(r)
	}
	return map[string]any{
		"report_id":     r.ReportID,
		"device_serial": r.DeviceSerial,
		"severity":      r.Severity,
	}, nil
}

// Get retrieves a defect report by ID.
func (s *Service) Get(ctx context.Context, id string) (*Report, error) {
	doc, err := s.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}
	return decode(doc)
}

// List returns a filtered page of defect reports, newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Report], error) {
	filter := store.Filter{}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.Severity != "" {
		filter = filter.And(store.Eq("severity", opts.Severity))
	}
	if opts.DefectType != "" {
		filter = filter.And(store.Eq("defect_type", opts.DefectType))
	}
	if opts.ReportedBy != "" {
		filter = filter.And(store.Eq("reported_by", opts.ReportedBy))
	}
	if opts.Search != "" {
		filter = filter.Or(
			store.Contains("report_id", opts.Search),
			store.Contains("device_serial", opts.Search),
			store.Contains("description", opts.Search),
		)
	}
	return store.FindPage(ctx, s.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

// Stats counts defect reports by status and severity.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.store.Count(ctx, Collection, store.Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:      total,
		ByStatus:   make(map[Status]int64, len(Statuses)),
		BySeverity: make(map[Severity]int64, len(Severities)),
	}
	for _, st := range Statuses {
		n, err := s.store.Count(ctx, Collection, store.Where(store.Eq("status", st)))
		if err != nil {
			return nil, err
		}
		stats.ByStatus[st] = n
	}
	for _, sev := range Severities {
		n, err := s.store.Count(ctx, Collection, store.Where(store.Eq("severity", sev)))
		if err != nil {
			return nil, err
		}
		stats.BySeverity[sev] = n
	}
	return stats, nil
}

func validateCreateInput(input *CreateInput) []apperror.FieldError {
	var errs []apperror.FieldError

	if input.DeviceID == "" {
		errs = append(errs, apperror.FieldError{Field: "device_id", Message: "is required"})
	}
	if !input.DefectType.Valid() {
		errs = append(errs, apperror.FieldError{Field: "defect_type", Message: "is not a valid defect type"})
	}
	if !input.Severity.Valid() {
		errs = append(errs, apperror.FieldError{Field: "severity", Message: "is not a valid severity"})
	}
	return appendDescriptionError(errs, input.Description)
}

func appendDescriptionError(errs []apperror.FieldError, description string) []apperror.FieldError {
	if n := len(description); n < MinDescriptionLength || n > MaxDescriptionLength {
		return append(errs, apperror.FieldError{
			Field:   "description",
			Message: fmt.Sprintf("must be between %d and %d characters", MinDescriptionLength, MaxDescriptionLength),
		})
	}
	return errs
}

func link(id string) string {
	return "/defects/" + id
}

func decode(doc store.Document) (*Report, error) {
	var r Report
	if err := store.Decode(doc, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
