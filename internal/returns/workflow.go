package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/bizid"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/telemetry"
	"github.com/dmsystem/dms/internal/user"
)

// Collection is the record store collection holding return requests.
const Collection = "returns"

// MaxDescriptionLength caps the free-text description.
const MaxDescriptionLength = 1000

// Workflow errors.
var (
	ErrReturnNotFound   = apperror.NotFound("return request not found")
	ErrDeviceNotFound   = apperror.Validation("Device not found")
	ErrNotRequester     = apperror.Validation("Only the requester can cancel this return request")
	ErrNotPending       = apperror.Validation("Only pending return requests can be cancelled")
	ErrConcurrentUpdate = apperror.Conflict("return request was modified concurrently")
)

// Ledger is the part of the device ledger the workflow uses.
type Ledger interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	SetHolder(ctx context.Context, id string, change device.HolderChange, actor user.Actor) (*device.Device, error)
}

// Directory resolves accounts.
type Directory interface {
	Get(ctx context.Context, id string) (*user.User, error)
}

// Approvals is the part of the approval gateway the workflow uses.
type Approvals interface {
	Open(ctx context.Context, input approval.OpenInput) (*approval.Approval, error)
	Withdraw(ctx context.Context, t approval.Type, entityID string) error
	Mirror(ctx context.Context, t approval.Type, entityID string, d approval.Decision) (bool, error)
}

// Policy decides whether status changes must follow the transition table.
type Policy interface {
	StrictTransitions(ctx context.Context) bool
}

// WorkflowConfig holds configuration for the return workflow.
type WorkflowConfig struct {
	Store     store.Store
	Ledger    Ledger
	Resolver  TargetResolver
	Approvals Approvals
	Notifier  notification.Notifier
	IDs       *bizid.Generator
	Policy    Policy
	Logger    zerolog.Logger
	Metrics   *telemetry.WorkflowMetrics
}

// Workflow creates and advances return requests.
type Workflow struct {
	store     store.Store
	ledger    Ledger
	resolver  TargetResolver
	approvals Approvals
	notifier  notification.Notifier
	ids       *bizid.Generator
	policy    Policy
	logger    zerolog.Logger
	metrics   *telemetry.WorkflowMetrics
	now       func() time.Time
}

// NewWorkflow creates a new return workflow.
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.Discard
	}
	ids := cfg.IDs
	if ids == nil {
		ids = bizid.NewGenerator(cfg.Store)
	}
	return &Workflow{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		resolver:  cfg.Resolver,
		approvals: cfg.Approvals,
		notifier:  notifier,
		ids:       ids,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create requests the return of a device by its holder.
func (w *Workflow) Create(ctx context.Context, input CreateInput, requester user.Actor) (*Return, error) {
	var fieldErrors []apperror.FieldError
	if input.DeviceID == "" {
		fieldErrors = append(fieldErrors, apperror.FieldError{Field: "device_id", Message: "is required"})
	}
	if !input.Reason.Valid() {
		fieldErrors = append(fieldErrors, apperror.FieldError{Field: "reason", Message: "is not a valid return reason"})
	}
	if len(input.Description) > MaxDescriptionLength {
		fieldErrors = append(fieldErrors, apperror.FieldError{Field: "description", Message: fmt.Sprintf("must be at most %d characters", MaxDescriptionLength)})
	}
	if len(fieldErrors) > 0 {
		return nil, &apperror.ValidationError{Errors: fieldErrors}
	}

	d, err := w.ledger.Get(ctx, input.DeviceID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}

	target, err := w.resolver.Resolve(ctx, d, requester)
	if err != nil {
		return nil, err
	}

	businessID, err := w.ids.Next(ctx, bizid.PrefixReturn)
	if err != nil {
		return nil, err
	}

	now := w.now()
	ret := &Return{
		ReturnID:        businessID,
		DeviceID:        d.ID,
		DeviceSerial:    d.SerialNumber,
		DeviceType:      d.DeviceType,
		RequestedBy:     requester.ID,
		RequestedByName: requester.Name,
		ReturnTo:        target.ID,
		ReturnToName:    target.Name,
		Reason:          input.Reason,
		Description:     input.Description,
		Status:          StatusPending,
		RequestDate:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	doc, err := store.Encode(ret)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)

	id, err := w.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	ret.ID = id

	logger := w.logger.With().Str("return_id", id).Str("business_id", businessID).Logger()

	if _, err := w.approvals.Open(ctx, approval.OpenInput{
		Type:      approval.TypeReturn,
		EntityID:  id,
		Requester: requester,
		Notes:     input.Description,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to open approval for return")
	}

	w.notifier.Notify(ctx, notification.Message{
		UserID:   target.ID,
		Title:    "New Return Request",
		Message:  fmt.Sprintf("A return request has been submitted by %s for device %s", requester.Name, d.DeviceID),
		Type:     notification.TypeInfo,
		Category: notification.CategoryReturn,
		Link:     link(id),
	})

	w.metrics.RecordTransition(ctx, "return", string(StatusPending))
	logger.Info().
		Str("device_id", d.ID).
		Str("return_to", target.ID).
		Str("reason", string(input.Reason)).
		Msg("return requested")

	return ret, nil
}

// AdvanceStatus moves a return to status and applies its side effects:
// approval and rejection are mirrored onto the approval, and receipt puts
// the device back into the central stock.
func (w *Workflow) AdvanceStatus(ctx context.Context, id string, status Status, actor user.Actor, notes string) (*Return, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid return status %q", status)
	}

	ret, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.policy != nil && w.policy.StrictTransitions(ctx) && !CanTransition(ret.Status, status) {
		return nil, apperror.Validation("Cannot change return status from %s to %s", ret.Status.Label(), status.Label())
	}

	now := w.now()
	patch := store.Document{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case StatusApproved:
		patch["approval_date"] = now
		patch["approved_by"] = actor.ID
		patch["approved_by_name"] = actor.Name
	case StatusReceived:
		patch["received_date"] = now
	}
	if notes != "" {
		patch["notes"] = notes
	}

	matched, err := w.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", ret.Status)), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		if _, err := w.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConcurrentUpdate
	}
	w.metrics.RecordTransition(ctx, "return", string(status))

	logger := w.logger.With().
		Str("return_id", id).
		Str("from_status", string(ret.Status)).
		Str("to_status", string(status)).
		Logger()

	switch status {
	case StatusApproved:
		w.mirror(ctx, logger, id, approval.Decision{Status: approval.StatusApproved, Actor: actor, At: now})
	case StatusRejected:
		w.mirror(ctx, logger, id, approval.Decision{Status: approval.StatusRejected, Actor: actor, At: now, Reason: notes})
	case StatusReceived:
		w.receive(ctx, logger, ret, actor)
	}

	w.notifier.Notify(ctx, statusMessage(ret, status))
	logger.Info().Str("actor_id", actor.ID).Msg("return status changed")

	return w.Get(ctx, id)
}

func (w *Workflow) mirror(ctx context.Context, logger zerolog.Logger, id string, d approval.Decision) {
	if _, err := w.approvals.Mirror(ctx, approval.TypeReturn, id, d); err != nil {
		logger.Warn().Err(err).Msg("failed to mirror decision onto approval")
	}
}

// receive puts the device back into the central stock.
func (w *Workflow) receive(ctx context.Context, logger zerolog.Logger, ret *Return, actor user.Actor) {
	_, err := w.ledger.SetHolder(ctx, ret.DeviceID, device.HolderChange{
		To:       device.Holder{Type: device.HolderNOC},
		From:     device.Holder{ID: ret.RequestedBy, Name: ret.RequestedByName},
		Location: device.LocationNOC,
		Status:   device.StatusReturned,
		Note:     "Returned via " + ret.ReturnID,
		Action:   device.ActionReturned,
	}, actor)
	if err != nil {
		logger.Warn().Err(err).Str("device_id", ret.DeviceID).Msg("failed to return device to stock")
	}
}

// Cancel withdraws a pending return. Only its requester may cancel it.
func (w *Workflow) Cancel(ctx context.Context, id, requesterID string) (*Return, error) {
	ret, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret.RequestedBy != requesterID {
		return nil, ErrNotRequester
	}
	if ret.Status != StatusPending {
		return nil, ErrNotPending
	}

	matched, err := w.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", StatusPending)), store.Document{
		"status":     StatusCancelled,
		"updated_at": w.now(),
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrNotPending
	}
	w.metrics.RecordTransition(ctx, "return", string(StatusCancelled))

	if err := w.approvals.Withdraw(ctx, approval.TypeReturn, id); err != nil {
		w.logger.Warn().Err(err).Str("return_id", id).Msg("failed to withdraw approval")
	}

	w.logger.Info().Str("return_id", id).Msg("return cancelled")
	return w.Get(ctx, id)
}

// ApplyDecision implements approval.Target.
func (w *Workflow) ApplyDecision(ctx context.Context, id string, d approval.Decision) error {
	var status Status
	patch := store.Document{"updated_at": d.At}
	switch d.Status {
	case approval.StatusApproved:
		status = StatusApproved
		patch["approval_date"] = d.At
		patch["approved_by"] = d.Actor.ID
		patch["approved_by_name"] = d.Actor.Name
	case approval.StatusRejected:
		status = StatusRejected
		patch["notes"] = d.Reason
	default:
		return apperror.Validation("invalid decision %q", d.Status)
	}
	patch["status"] = status

	matched, err := w.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", StatusPending)), patch)
	if err != nil {
		return err
	}
	if matched == 0 {
		if _, err := w.Get(ctx, id); err != nil {
			return err
		}
		return apperror.Conflict("return request %s is no longer pending", id)
	}
	w.metrics.RecordTransition(ctx, "return", string(status))
	return nil
}

// Describe implements approval.Target.
func (w *Workflow) Describe(ctx context.Context, id string, full bool) (map[string]any, error) {
	ret, err := w.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if full {
		return store.Encode(ret)
	}
	return map[string]any{
		"return_id":     ret.ReturnID,
		"device_serial": ret.DeviceSerial,
		"reason":        ret.Reason,
	}, nil
}

// Get retrieves a return request by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*Return, error) {
	doc, err := w.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrReturnNotFound
		}
		return nil, err
	}
	return decode(doc)
}

// List returns a filtered page of return requests, newest first.
func (w *Workflow) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Return], error) {
	filter := store.Filter{}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.Reason != "" {
		filter = filter.And(store.Eq("reason", opts.Reason))
	}
	if opts.RequestedBy != "" {
		filter = filter.And(store.Eq("requested_by", opts.RequestedBy))
	}
	if opts.Search != "" {
		filter = filter.Or(
			store.Contains("return_id", opts.Search),
			store.Contains("device_serial", opts.Search),
		)
	}
	return store.FindPage(ctx, w.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

// CountOpen counts the returns requested by or addressed to userID that
// are not yet received, rejected or cancelled.
func (w *Workflow) CountOpen(ctx context.Context, userID string) (int64, error) {
	filter := store.Where(store.In("status", StatusPending, StatusApproved, StatusInTransit)).
		Or(store.Eq("requested_by", userID), store.Eq("return_to", userID))
	return w.store.Count(ctx, Collection, filter)
}

// Stats counts return requests by status and reason.
func (w *Workflow) Stats(ctx context.Context) (*Stats, error) {
	total, err := w.store.Count(ctx, Collection, store.Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		Total:    total,
		ByStatus: make(map[Status]int64, len(Statuses)),
		ByReason: make(map[Reason]int64, len(Reasons)),
	}
	for _, s := range Statuses {
		n, err := w.store.Count(ctx, Collection, store.Where(store.Eq("status", s)))
		if err != nil {
			return nil, err
		}
		stats.ByStatus[s] = n
	}
	for _, r := range Reasons {
		n, err := w.store.Count(ctx, Collection, store.Where(store.Eq("reason", r)))
		if err != nil {
			return nil, err
		}
		stats.ByReason[r] = n
	}
	return stats, nil
}

var titleCase = cases.Title(language.English)

func statusMessage(ret *Return, status Status) notification.Message {
	typ := notification.TypeWarning
	if status == StatusApproved || status == StatusReceived {
		typ = notification.TypeSuccess
	}
	return notification.Message{
		UserID:   ret.RequestedBy,
		Title:    "Return Request " + titleCase.String(status.Label()),
		Message:  fmt.Sprintf("Your return request %s has been %s", ret.ReturnID, status.Label()),
		Type:     typ,
		Category: notification.CategoryReturn,
		Link:     link(ret.ID),
	}
}

func link(id string) string {
	return "/returns/" + id
}

func decode(doc store.Document) (*Return, error) {
	var r Return
	if err := store.Decode(doc, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
