// Package returns implements return requests: a holder sending one device
// back up the custody chain, gated by an approval.
package returns

import (
	"strings"
	"time"

	"github.com/dmsystem/dms/internal/device"
)

// Reason explains why a device is returned.
type Reason string

const (
	ReasonDefective     Reason = "defective"
	ReasonUnused        Reason = "unused"
	ReasonEndOfContract Reason = "end_of_contract"
	ReasonUpgrade       Reason = "upgrade"
	ReasonOther         Reason = "other"
)

// Reasons lists every known reason.
var Reasons = []Reason{ReasonDefective, ReasonUnused, ReasonEndOfContract, ReasonUpgrade, ReasonOther}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// Status is the state of a return request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusInTransit Status = "in_transit"
	StatusReceived  Status = "received"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every known status.
var Statuses = []Status{StatusPending, StatusApproved, StatusInTransit, StatusReceived, StatusRejected, StatusCancelled}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Label returns s in human readable form.
func (s Status) Label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusInTransit, StatusReceived, StatusCancelled},
	StatusInTransit: {StatusReceived},
}

// CanTransition reports whether a return may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Return is a request to send a device back. The device serial and type
// are copied at creation.
type Return struct {
	ID              string      `json:"id"`
	ReturnID        string      `json:"return_id"`
	DeviceID        string      `json:"device_id"`
	DeviceSerial    string      `json:"device_serial"`
	DeviceType      device.Type `json:"device_type"`
	RequestedBy     string      `json:"requested_by"`
	RequestedByName string      `json:"requested_by_name"`
	ReturnTo        string      `json:"return_to"`
	ReturnToName    string      `json:"return_to_name"`
	Reason          Reason      `json:"reason"`
	Description     string      `json:"description,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Status          Status      `json:"status"`
	RequestDate     time.Time   `json:"request_date"`
	ApprovalDate    *time.Time  `json:"approval_date,omitempty"`
	ReceivedDate    *time.Time  `json:"received_date,omitempty"`
	ApprovedBy      string      `json:"approved_by,omitempty"`
	ApprovedByName  string      `json:"approved_by_name,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// CreateInput is the input for requesting a return.
type CreateInput struct {
	DeviceID    string `json:"device_id"`
	Reason      Reason `json:"reason"`
	Description string `json:"description,omitempty"`
}

// ListOptions filters a return listing.
type ListOptions struct {
	Status      Status
	Reason      Reason
	RequestedBy string
	Search      string
	Page        int
	Size        int
}

// Stats counts return requests.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[Status]int64 `json:"by_status"`
	ByReason map[Reason]int64 `json:"by_reason"`
}
