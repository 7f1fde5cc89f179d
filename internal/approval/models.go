// Package approval implements the approval gateway: the single pending queue
// in which distribution and return requests are approved or rejected.
package approval

import (
	"context"
	"time"

	"github.com/dmsystem/dms/internal/user"
)

// Type is the kind of workflow entity an approval gates.
type Type string

const (
	TypeDistribution Type = "distribution"
	TypeReturn       Type = "return"
	TypeDefect       Type = "defect"
)

// Valid reports whether t is a known approval type.
func (t Type) Valid() bool {
	switch t {
	case TypeDistribution, TypeReturn, TypeDefect:
		return true
	}
	return false
}

// Status is the decision state of an approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Priority orders the pending queue for reviewers.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Approval is the envelope around a request awaiting a decision.
type Approval struct {
	ID              string     `json:"id"`
	ApprovalType    Type       `json:"approval_type"`
	EntityID        string     `json:"entity_id"`
	EntityType      string     `json:"entity_type"`
	RequestedBy     string     `json:"requested_by"`
	RequestedByName string     `json:"requested_by_name"`
	Status          Status     `json:"status"`
	Priority        Priority   `json:"priority"`
	RequestDate     time.Time  `json:"request_date"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedByName  string     `json:"approved_by_name,omitempty"`
	ApprovalDate    *time.Time `json:"approval_date,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// EntityDetails describes the gated entity on reads. It is never stored.
	EntityDetails map[string]any `json:"entity_details,omitempty"`
}

// Decision is an approve or reject outcome applied to a gated entity.
type Decision struct {
	Status Status
	Actor  user.Actor
	At     time.Time

	// Reason is the rejection reason; empty for approvals.
	Reason string
	Notes  string
}

// NoReason is recorded when a rejection gives no reason.
const NoReason = "No reason provided"

func (d Decision) reason() string {
	if d.Reason == "" {
		return NoReason
	}
	return d.Reason
}

// Target is a workflow whose entities can be gated by approvals.
type Target interface {
	// ApplyDecision records d on the entity.
	ApplyDecision(ctx context.Context, entityID string, d Decision) error

	// Describe returns a display summary of the entity, or the entire
	// entity when full is set.
	Describe(ctx context.Context, entityID string, full bool) (map[string]any, error)
}

// OpenInput is the input for opening an approval.
type OpenInput struct {
	Type      Type
	EntityID  string
	Requester user.Actor
	Priority  Priority
	Notes     string
}

// ListOptions filters the approval queue.
type ListOptions struct {
	// Status defaults to pending.
	Status Status
	Type   Type
	Search string
	Page   int
	Size   int
}
