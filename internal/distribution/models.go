// Package distribution implements custody transfers: requests to move a set
// of devices from one holder to another, gated by an approval.
package distribution

import (
	"strings"
	"time"

	"github.com/dmsystem/dms/internal/device"
)

// Status is the state of a distribution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInTransit, StatusDelivered, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Label returns s in human readable form.
func (s Status) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// transitions lists the status changes allowed when strict transitions
// are enabled.
var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusInTransit, StatusDelivered, StatusCancelled},
	StatusInTransit: {StatusDelivered},
}

// CanTransition reports whether a distribution may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Distribution is a request to transfer devices between holders. The device
// set and both holders are frozen at creation.
type Distribution struct {
	ID             string            `json:"id"`
	DistributionID string            `json:"distribution_id"`
	DeviceIDs      []string          `json:"device_ids"`
	DeviceCount    int               `json:"device_count"`
	FromUserID     string            `json:"from_user_id"`
	FromUserName   string            `json:"from_user_name"`
	FromUserType   device.HolderType `json:"from_user_type"`
	ToUserID       string            `json:"to_user_id"`
	ToUserName     string            `json:"to_user_name"`
	ToUserType     device.HolderType `json:"to_user_type"`
	Status         Status            `json:"status"`
	RequestDate    time.Time         `json:"request_date"`
	ApprovalDate   *time.Time        `json:"approval_date,omitempty"`
	DeliveryDate   *time.Time        `json:"delivery_date,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	ApprovedBy     string            `json:"approved_by,omitempty"`
	ApprovedByName string            `json:"approved_by_name,omitempty"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Sender returns the holder the devices leave.
func (d *Distribution) Sender() device.Holder {
	return device.Holder{ID: d.FromUserID, Name: d.FromUserName, Type: d.FromUserType}
}

// Recipient returns the holder the devices go to.
func (d *Distribution) Recipient() device.Holder {
	return device.Holder{ID: d.ToUserID, Name: d.ToUserName, Type: d.ToUserType}
}

// CreateInput is the input for requesting a distribution.
type CreateInput struct {
	ToUserID  string   `json:"to_user_id"`
	DeviceIDs []string `json:"device_ids"`
	Notes     string   `json:"notes,omitempty"`
}

// ListOptions filters a distribution listing.
type ListOptions struct {
	Status     Status
	FromUserID string
	ToUserID   string

	// Participant matches distributions sent or received by the user.
	Participant string
	Search      string
	Page        int
	Size        int
}
