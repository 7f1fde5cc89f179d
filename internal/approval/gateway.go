package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/telemetry"
	"github.com/dmsystem/dms/internal/user"
)

// Collection is the record store collection holding approvals.
const Collection = "approvals"

// Gateway errors.
var (
	ErrApprovalNotFound  = apperror.NotFound("approval not found")
	ErrAlreadyProcessed  = apperror.Conflict("This request has already been processed")
	ErrInvalidType       = apperror.Validation("invalid approval type")
	ErrEntityRequired    = apperror.Validation("entity id is required")
	ErrRequesterRequired = apperror.Validation("requester is required")
)

// GatewayConfig holds configuration for the approval gateway.
type GatewayConfig struct {
	Store    store.Store
	Notifier notification.Notifier
	Logger   zerolog.Logger
	Metrics  *telemetry.WorkflowMetrics
}

// Gateway owns the approval queue. It is the only place pending approvals
// are decided, and it echoes each decision into the gated entity through
// the Target registered for its type.
type Gateway struct {
	store    store.Store
	notifier notification.Notifier
	logger   zerolog.Logger
	metrics  *telemetry.WorkflowMetrics
	now      func() time.Time

	mu      sync.RWMutex
	targets map[Type]Target
}

// NewGateway creates a new approval gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notification.Discard
	}
	return &Gateway{
		store:    cfg.Store,
		notifier: notifier,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
		targets:  make(map[Type]Target),
	}
}

// Register sets the workflow that decisions on approvals of type t apply to.
func (g *Gateway) Register(t Type, target Target) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.targets[t] = target
}

func (g *Gateway) target(t Type) (Target, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	target, ok := g.targets[t]
	return target, ok
}

// Open creates a pending approval for an entity.
func (g *Gateway) Open(ctx context.Context, input OpenInput) (*Approval, error) {
	if !input.Type.Valid() {
		return nil, ErrInvalidType
	}
	if input.EntityID == "" {
		return nil, ErrEntityRequired
	}
	if input.Requester.ID == "" {
		return nil, ErrRequesterRequired
	}
	if !input.Priority.Valid() {
		input.Priority = PriorityMedium
	}

	now := g.now()
	a := &Approval{
		ApprovalType:    input.Type,
		EntityID:        input.EntityID,
		EntityType:      string(input.Type),
		RequestedBy:     input.Requester.ID,
		RequestedByName: input.Requester.Name,
		Status:          StatusPending,
		Priority:        input.Priority,
		RequestDate:     now,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	doc, err := encode(a)
	if err != nil {
		return nil, err
	}
	id, err := g.store.Insert(ctx, Collection, doc)
	if err != nil {
		return nil, err
	}
	a.ID = id

	g.logger.Debug().
		Str("approval_id", id).
		Str("approval_type", string(a.ApprovalType)).
		Str("entity_id", a.EntityID).
		Msg("approval opened")
	return a, nil
}

// Withdraw removes the approvals of an entity from the queue.
func (g *Gateway) Withdraw(ctx context.Context, t Type, entityID string) error {
	_, err := g.store.DeleteMany(ctx, Collection, entityFilter(t, entityID))
	return err
}

// Mirror records a decision made by the workflow itself on the entity's
// approval. Only a pending approval changes; it reports whether one did.
func (g *Gateway) Mirror(ctx context.Context, t Type, entityID string, d Decision) (bool, error) {
	if d.At.IsZero() {
		d.At = g.now()
	}
	matched, err := g.store.UpdateOne(ctx, Collection,
		entityFilter(t, entityID).And(store.Eq("status", StatusPending)),
		decisionPatch(d))
	if err != nil {
		return false, err
	}
	if matched > 0 {
		g.metrics.RecordTransition(ctx, "approval", string(d.Status))
	}
	return matched > 0, nil
}

// Approve decides a pending approval in favor of the request.
func (g *Gateway) Approve(ctx context.Context, id string, approver user.Actor, notes string) (*Approval, error) {
	return g.decide(ctx, id, Decision{
		Status: StatusApproved,
		Actor:  approver,
		Notes:  notes,
	})
}

// Reject decides a pending approval against the request.
func (g *Gateway) Reject(ctx context.Context, id string, approver user.Actor, reason, notes string) (*Approval, error) {
	return g.decide(ctx, id, Decision{
		Status: StatusRejected,
		Actor:  approver,
		Reason: reason,
		Notes:  notes,
	})
}

func (g *Gateway) decide(ctx context.Context, id string, d Decision) (*Approval, error) {
	ctx, span := telemetry.StartSpan(ctx, "approval.decide", trace.WithAttributes(
		attribute.String("approval.id", id),
		attribute.String("approval.decision", string(d.Status)),
	))
	defer span.End()

	a, err := g.find(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("approval.type", string(a.ApprovalType)))
	if a.Status != StatusPending {
		return nil, ErrAlreadyProcessed
	}

	d.At = g.now()
	matched, err := g.store.UpdateOne(ctx, Collection,
		store.ByID(id).And(store.Eq("status", StatusPending)),
		decisionPatch(d))
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		// Decided concurrently or withdrawn since it was read.
		if _, err := g.find(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyProcessed
	}
	g.metrics.RecordTransition(ctx, "approval", string(d.Status))

	logger := g.logger.With().
		Str("approval_id", id).
		Str("approval_type", string(a.ApprovalType)).
		Str("entity_id", a.EntityID).
		Str("status", string(d.Status)).
		Logger()

	if target, ok := g.target(a.ApprovalType); ok {
		if err := target.ApplyDecision(ctx, a.EntityID, d); err != nil {
			logger.Warn().Err(err).Msg("failed to apply decision to entity")
		}
	} else {
		logger.Warn().Msg("no workflow registered for approval type")
	}

	g.notifier.Notify(ctx, decisionMessage(a, d))
	logger.Info().Str("decided_by", d.Actor.ID).Msg("approval decided")

	return g.Get(ctx, id)
}

// Get returns an approval with the full gated entity attached.
func (g *Gateway) Get(ctx context.Context, id string) (*Approval, error) {
	a, err := g.find(ctx, id)
	if err != nil {
		return nil, err
	}
	g.describe(ctx, a, true)
	return a, nil
}

// List returns a page of the approval queue, newest first, each approval
// carrying a summary of its entity.
func (g *Gateway) List(ctx context.Context, opts ListOptions) (*store.PageResult[*Approval], error) {
	status := opts.Status
	if status == "" {
		status = StatusPending
	}
	filter := store.Where(store.Eq("status", status))
	if opts.Type != "" {
		filter = filter.And(store.Eq("approval_type", opts.Type))
	}
	if opts.Search != "" {
		filter = filter.Or(store.Contains("requested_by_name", opts.Search))
	}

	page, err := store.FindPage(ctx, g.store, Collection, filter, store.NewPage(opts.Page, opts.Size), decode)
	if err != nil {
		return nil, err
	}
	for _, a := range page.Data {
		g.describe(ctx, a, false)
	}
	return page, nil
}

// ForEntity returns the most recent approval of an entity.
func (g *Gateway) ForEntity(ctx context.Context, t Type, entityID string) (*Approval, error) {
	docs, err := g.store.Find(ctx, Collection, entityFilter(t, entityID), store.FindOptions{Limit: 1, Newest: true})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrApprovalNotFound
	}
	return decode(docs[0])
}

func (g *Gateway) describe(ctx context.Context, a *Approval, full bool) {
	target, ok := g.target(a.ApprovalType)
	if !ok {
		return
	}
	details, err := target.Describe(ctx, a.EntityID, full)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			g.logger.Warn().Err(err).Str("approval_id", a.ID).Msg("failed to describe approval entity")
		}
		return
	}
	a.EntityDetails = details
}

func (g *Gateway) find(ctx context.Context, id string) (*Approval, error) {
	doc, err := g.store.FindOne(ctx, Collection, store.ByID(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	return decode(doc)
}

func entityFilter(t Type, entityID string) store.Filter {
	return store.Where(store.Eq("entity_id", entityID), store.Eq("approval_type", t))
}

func decisionPatch(d Decision) store.Document {
	patch := store.Document{
		"status":           d.Status,
		"approved_by":      d.Actor.ID,
		"approved_by_name": d.Actor.Name,
		"approval_date":    d.At,
		"updated_at":       d.At,
	}
	if d.Status == StatusRejected {
		patch["rejection_reason"] = d.reason()
	}
	if d.Notes != "" {
		patch["notes"] = d.Notes
	}
	return patch
}

func decisionMessage(a *Approval, d Decision) notification.Message {
	msg := notification.Message{
		UserID:   a.RequestedBy,
		Category: notification.CategoryApproval,
	}
	if d.Status == StatusApproved {
		msg.Title = "Request Approved"
		msg.Message = fmt.Sprintf("Your %s request has been approved by %s", a.ApprovalType, d.Actor.Name)
		msg.Type = notification.TypeSuccess
		return msg
	}

	msg.Title = "Request Rejected"
	msg.Message = fmt.Sprintf("Your %s request has been rejected by %s. Reason: %s", a.ApprovalType, d.Actor.Name, d.reason())
	msg.Type = notification.TypeError
	return msg
}

func encode(a *Approval) (store.Document, error) {
	doc, err := store.Encode(a)
	if err != nil {
		return nil, err
	}
	delete(doc, store.FieldID)
	delete(doc, "entity_details")
	return doc, nil
}

func decode(doc store.Document) (*Approval, error) {
	var a Approval
	if err := store.Decode(doc, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
