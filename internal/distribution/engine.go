package distribution

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

// Collection is the record store collection holding distributions.
const Collection = "distributions"

// PendingLimit caps the pending distribution listing.
const PendingLimit = 100

// Engine errors.
var (
	ErrDistributionNotFound = apperror.NotFound("distribution not found")
	ErrNoDevices            = apperror.Validation("At least one device is required")
	ErrRecipientRequired    = apperror.Validation("Recipient is required")
	ErrRecipientNotFound    = apperror.Validation("Recipient user not found")
	ErrNotCreator           = apperror.Validation("Only the creator can cancel this distribution")
	ErrNotPending           = apperror.Validation("Only pending distributions can be cancelled")
	ErrConcurrentUpdate     = apperror.Conflict("distribution was modified concurrently")
)

// Ledger is the part of the device ledger the engine uses.
type Ledger interface {
	Get(ctx context.Context, id string) (*device.Device, error)
	SetHolder(ctx context.Context, id string, change device.HolderChange, actor user.Actor) (*device.Device, error)
}

// Directory resolves accounts.
type Directory interface {
	Get(ctx context.Context, id string) (*user.User, error)
}

// Approvals is the part of the approval gateway the engine uses.
type Approvals interface {
	Open(ctx context.Context, input approval.OpenInput) (*approval.Approval, error)
	Withdraw(ctx context.Context, t approval.Type, entityID string) error
	Mirror(ctx context.Context, t approval.Type, entityID string, d approval.Decision) (bool, error)
}

// Policy decides whether status changes must follow the transition table.
type Policy interface {
	StrictTransitions(ctx context.Context) bool
}

// EngineConfig holds configuration for the distribution engine.
type EngineConfig struct {
	Store     store.Store
	Ledger    Ledger
	Users     Directory
	Approvals Approvals
	Notifier  notification.Notifier
	IDs       *bizid.Generator
	Policy    Policy
	Logger    zerolog.Logger
	Metrics   *telemetry.WorkflowMetrics
}

// Engine creates and advances distributions.
type Engine struct {
	store     store.Store
	ledger    Ledger
	users     Directory
	approvals Approvals
	notifier  notification.Notifier
	ids       *bizid.Generator
	policy    Policy
	logger    zerolog.Logger
	metrics   *telemetry.WorkflowMetrics
	now       func() time.Time
}

// NewEngine creates a new distribution engine.
func NewEngine(cfg EngineConfig) *Engine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.Discard
	}
	ids := cfg.IDs
	if ids == nil {
		ids = bizid.NewGenerator(cfg.Store)
	}
	return &Engine{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		users:     cfg.Users,
		approvals: cfg.Approvals,
		notifier:  notifier,
		ids:       ids,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create requests the transfer of devices from the acting user to a
// recipient. Every device must exist and be available, otherwise nothing
// is written.
func (e *Engine) Create(ctx context.Context, input CreateInput, from user.Actor) (*Distribution, error) {
	if len(input.DeviceIDs) == 0 {
		return nil, ErrNoDevices
	}
	if input.ToUserID == "" {
		return nil, ErrRecipientRequired
	}

	to, err := e.users.Get(ctx, input.ToUserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}

	seen := make(map[string]bool, len(input.DeviceIDs))
	for _, id := range input.DeviceIDs {
		if seen[id] {
			return nil, apperror.Validation("Device %s is listed more than once", id)
		}
		seen[id] = true

		d, err := e.ledger.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				return nil, apperror.Validation("Device %s not found", id)
			}
			return nil, err
		}
		if d.Status != device.StatusAvailable {
			return nil, apperror.Validation("Device %s is not available", d.DeviceID)
		}
	}

	businessID, err := e.ids.Next(ctx, bizid.PrefixDistribution)
	if err != nil {
		return nil, err
	}

	now := e.now()
	dist := &Distribution{
		DistributionID: businessID,
		DeviceIDs:      append([]string(nil), input.DeviceIDs...),
		DeviceCount:    len(input.DeviceIDs),
		FromUserID:     from.ID,
		FromUserName:   from.Name,
		FromUserType:   device.HolderTypeFor(from.Role, device.HolderNOC),
		ToUserID:       to.ID,
		ToUserName:     to.Name,
		ToUserType:     device.HolderTypeFor(to.Role, device.HolderDistributor),
		Status:         StatusPending,
		RequestDate:    now,
		Notes:          input.Notes,
		CreatedBy:      from.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	doc, err := store.Encode(dist)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)

	id, err := e.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	dist.ID = id

	logger := e.logger.With().Str("distribution_id", id).Str("business_id", businessID).Logger()

	if _, err := e.approvals.Open(ctx, approval.OpenInput{
		Type:      approval.TypeDistribution,
		EntityID:  id,
		Requester: from,
		Notes:     input.Notes,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to open approval for distribution")
	}

	e.notifier.Notify(ctx, notification.Message{
		UserID:   to.ID,
		Title:    "New Distribution Request",
		Message:  fmt.Sprintf("You have a new distribution request from %s for %d device(s)", from.Name, dist.DeviceCount),
		Type:     notification.TypeInfo,
		Category: notification.CategoryDistribution,
		Link:     link(id),
	})

	e.metrics.RecordTransition(ctx, "distribution", string(StatusPending))
	logger.Info().
		Str("from_user_id", from.ID).
		Str("to_user_id", to.ID).
		Int("device_count", dist.DeviceCount).
		Msg("distribution requested")

	return dist, nil
}

// AdvanceStatus moves a distribution to status and applies its side
// effects: approval and rejection are mirrored onto the approval, and
// delivery hands every device to the recipient.
func (e *Engine) AdvanceStatus(ctx context.Context, id string, status Status, actor user.Actor, notes string) (*Distribution, error) {
	if !status.Valid() {
		return nil, apperror.Validation("invalid distribution status %q", status)
	}

	dist, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.policy != nil && e.policy.StrictTransitions(ctx) && !CanTransition(dist.Status, status) {
		return nil, apperror.Validation("Cannot change distribution status from %s to %s", dist.Status.Label(), status.Label())
	}

	now := e.now()
	patch := store.Document{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case StatusApproved:
		patch["approval_date"] = now
		patch["approved_by"] = actor.ID
		patch["approved_by_name"] = actor.Name
	case StatusDelivered:
		patch["delivery_date"] = now
	}
	if notes != "" {
		patch["notes"] = notes
	}

	matched, err := e.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", dist.Status)), patch)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		if _, err := e.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConcurrentUpdate
	}
	e.metrics.RecordTransition(ctx, "distribution", string(status))

	logger := e.logger.With().
		Str("distribution_id", id).
		Str("from_status", string(dist.Status)).
		Str("to_status", string(status)).
		Logger()

	switch status {
	case StatusApproved:
		e.mirror(ctx, logger, id, approval.Decision{Status: approval.StatusApproved, Actor: actor, At: now})
	case StatusRejected:
		e.mirror(ctx, logger, id, approval.Decision{Status: approval.StatusRejected, Actor: actor, At: now, Reason: notes})
	case StatusDelivered:
		e.deliver(ctx, logger, dist, actor)
	}

	e.notifier.Notify(ctx, statusMessage(dist, status))
	logger.Info().Str("actor_id", actor.ID).Msg("distribution status changed")

	return e.Get(ctx, id)
}

func (e *Engine) mirror(ctx context.Context, logger zerolog.Logger, id string, d approval.Decision) {
	if _, err := e.approvals.Mirror(ctx, approval.TypeDistribution, id, d); err != nil {
		logger.Warn().Err(err).Msg("failed to mirror decision onto approval")
	}
}

// deliver hands every device to the recipient. A device that cannot be
// moved is logged and does not stop the others.
func (e *Engine) deliver(ctx context.Context, logger zerolog.Logger, dist *Distribution, actor user.Actor) {
	for _, deviceID := range dist.DeviceIDs {
		_, err := e.ledger.SetHolder(ctx, deviceID, device.HolderChange{
			To:       dist.Recipient(),
			From:     dist.Sender(),
			Location: dist.ToUserName,
			Status:   device.StatusDistributed,
			Note:     "Distributed via " + dist.DistributionID,
			Action:   device.ActionDistributed,
		}, actor)
		if err != nil {
			logger.Warn().Err(err).Str("device_id", deviceID).Msg("failed to hand device to recipient")
		}
	}
}

// Cancel withdraws a pending distribution. Only its creator may cancel it.
func (e *Engine) Cancel(ctx context.Context, id, requesterID string) (*Distribution, error) {
	dist, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dist.CreatedBy != requesterID {
		return nil, ErrNotCreator
	}
	if dist.Status != StatusPending {
		return nil, ErrNotPending
	}

	matched, err := e.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", StatusPending)), store.Document{
		"status":     StatusCancelled,
		"updated_at": e.now(),
	})
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrNotPending
	}
	e.metrics.RecordTransition(ctx, "distribution", string(StatusCancelled))

	if err := e.approvals.Withdraw(ctx, approval.TypeDistribution, id); err != nil {
		e.logger.Warn().Err(err).Str("distribution_id", id).Msg("failed to withdraw approval")
	}

	e.logger.Info().Str("distribution_id", id).Msg("distribution cancelled")
	return e.Get(ctx, id)
}

// ApplyDecision implements approval.Target.
func (e *Engine) ApplyDecision(ctx context.Context, id string, d approval.Decision) error {
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

	matched, err := e.store.UpdateOne(ctx, Collection, store.ByID(id).And(store.Eq("status", StatusPending)), patch)
	if err != nil {
		return err
	}
	if matched == 0 {
		if _, err := e.Get(ctx, id); err != nil {
			return err
		}
		return apperror.Conflict("distribution %s is no longer pending", id)
	}
	e.metrics.RecordTransition(ctx, "distribution", string(status))
	return nil
}

// Describe implements approval.Target.
func (e *Engine) Describe(ctx context.Context, id string, full bool) (map[string]any, error) {
	dist, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if full {
		return store.Encode(dist)
	}
	return map[string]any{
		"distribution_id": dist.DistributionID,
		"device_count":    dist.DeviceCount,
		"from_user_name":  dist.FromUserName,
		"to_user_name":    dist.ToUserName,
	}, nil
}

// Get retrieves a distribution by ID.
func (e *Engine) Get(ctx context.Context, id string) (*Distribution, error) {
	doc, err := e.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrDistributionNotFound
		}
		return nil, err
	}
	return decode(doc)
}

// List returns a filtered page of distributions, newest first.
func (e *Engine) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Distribution], error) {
	filter := store.Filter{}
	if opts.Status != "" {
		filter = filter.And(store.Eq("status", opts.Status))
	}
	if opts.FromUserID != "" {
		filter = filter.And(store.Eq("from_user_id", opts.FromUserID))
	}
	if opts.ToUserID != "" {
		filter = filter.And(store.Eq("to_user_id", opts.ToUserID))
	}
	if opts.Participant != "" {
		filter = filter.AndGroup(store.Filter{}.Or(
			store.Eq("from_user_id", opts.Participant),
			store.Eq("to_user_id", opts.Participant),
		))
	}
	if opts.Search != "" {
		filter = filter.Or(
			store.Contains("distribution_id", opts.Search),
			store.Contains("from_user_name", opts.Search),
			store.Contains("to_user_name", opts.Search),
		)
	}
	return store.FindPage(ctx, e.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
}

// CountOpen counts the distributions sending from or to userID that are
// not yet delivered, rejected or cancelled.
func (e *Engine) CountOpen(ctx context.Context, userID string) (int64, error) {
	filter := store.Where(store.In("status", StatusPending, StatusApproved, StatusInTransit)).
		Or(store.Eq("from_user_id", userID), store.Eq("to_user_id", userID))
	return e.store.Count(ctx, Collection, filter)
}

// Pending returns pending distributions, newest first.
func (e *Engine) Pending(ctx context.Context) ([]*Distribution, error) {
	docs, err := e.store.Find(ctx, Collection, store.Where(store.Eq("status", StatusPending)), store.FindOptions{
		Limit:  PendingLimit,
		Newest: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]*Distribution, 0, len(docs))
	for _, doc := range docs {
		d, err := decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

var titleCase = cases.Title(language.English)

func statusMessage(dist *Distribution, status Status) notification.Message {
	typ := notification.TypeWarning
	if status == StatusApproved || status == StatusDelivered {
		typ = notification.TypeSuccess
	}
	return notification.Message{
		UserID:   dist.FromUserID,
		Title:    "Distribution " + titleCase.String(status.Label()),
		Message:  fmt.Sprintf("Your distribution request %s has been %s", dist.DistributionID, status.Label()),
		Type:     typ,
		Category: notification.CategoryDistribution,
		Link:     link(dist.ID),
	}
}

func link(id string) string {
	return "/distributions/" + id
}

func decode(doc store.Document) (*Distribution, error) {
	var d Distribution
	if err := store.Decode(doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
